package pose

import (
	"strings"
	"testing"
)

func TestOnnxConfig_NewRequiresLibPath(t *testing.T) {
	cfg := &OnnxConfig{ExecutionProvider: ProviderCUDA}
	if err := cfg.New(); err == nil {
		t.Fatal("缺少动态库路径时应返回错误")
	}
	if cfg.SessionOptions != nil {
		t.Fatal("失败时不应创建会话选项")
	}
}

func TestDefaultLibraryPath(t *testing.T) {
	t.Setenv(LibraryPathEnv, "")
	p := DefaultLibraryPath()
	if !strings.HasPrefix(p, "./lib/onnxruntime") {
		t.Fatalf("默认路径异常: %s", p)
	}

	t.Setenv(LibraryPathEnv, "/opt/ort/libonnxruntime.so")
	if got := DefaultLibraryPath(); got != "/opt/ort/libonnxruntime.so" {
		t.Fatalf("环境变量未生效: %s", got)
	}
}

func TestOnnxConfig_DeviceOptions(t *testing.T) {
	cfg := &OnnxConfig{DeviceID: 1, ProviderOptions: map[string]string{"gpu_mem_limit": "1073741824"}}
	opts := cfg.deviceOptions()
	if opts["device_id"] != "1" || opts["gpu_mem_limit"] != "1073741824" {
		t.Fatalf("设备参数异常: %v", opts)
	}
}
