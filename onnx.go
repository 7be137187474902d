package pose

import (
	"fmt"
	ort "github.com/yalue/onnxruntime_go"
	"os"
	"runtime"
	"strconv"
	"sync"
)

// ONNX Runtime 执行提供者名称
const (
	ProviderCPU      = "CPUExecutionProvider"
	ProviderCUDA     = "CUDAExecutionProvider"
	ProviderTensorRT = "TensorrtExecutionProvider"
	ProviderCoreML   = "CoreMLExecutionProvider"
	ProviderDirectML = "DmlExecutionProvider"
	ProviderOpenVINO = "OpenVINOExecutionProvider"
)

// LibraryPathEnv 可覆盖默认动态库路径的环境变量
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

type OnnxConfig struct {
	SessionOptions *ort.SessionOptions

	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	// 可选参数
	ExecutionProvider string            // (可选) 执行提供者, 为空时使用 CPU
	ProviderOptions   map[string]string // (可选) 执行提供者的附加参数, 例如 OpenVINO 的 device_type
	DeviceID          int               // (可选) GPU 设备编号
	NumThreads        int               // (可选) ONNX 线程数, 默认由CPU核心数决定
	EnableCpuMemArena bool              // (可选) 是否开启 ONNX 内存池
}

var (
	initErr error
	once    sync.Once
)

// New 初始化 ONNX 环境并创建会话选项
//
// 执行提供者追加失败时直接返回错误, 不会回退到 CPU
func (cfg *OnnxConfig) New() error {
	if cfg.OnnxRuntimeLibPath == "" {
		return fmt.Errorf("OnnxRuntimeLibPath 不能为空")
	}
	once.Do(func() {
		ort.SetSharedLibraryPath(cfg.OnnxRuntimeLibPath)
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return fmt.Errorf("初始化 ONNX Runtime 环境失败: %w", initErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return err
	}
	if cfg.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			options.Destroy()
			return err
		}
	}
	if err := options.SetCpuMemArena(cfg.EnableCpuMemArena); err != nil {
		options.Destroy()
		return fmt.Errorf("设置内存池失败: %w", err)
	}
	if err := cfg.appendProvider(options); err != nil {
		options.Destroy()
		return err
	}
	cfg.SessionOptions = options

	return nil
}

// Destroy 释放会话选项
func (cfg *OnnxConfig) Destroy() {
	if cfg.SessionOptions != nil {
		cfg.SessionOptions.Destroy()
		cfg.SessionOptions = nil
	}
}

// appendProvider 按名称追加执行提供者
func (cfg *OnnxConfig) appendProvider(options *ort.SessionOptions) error {
	switch cfg.ExecutionProvider {
	case "", ProviderCPU:
		return nil
	case ProviderCUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("创建 CUDAProviderOptions 失败: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := cudaOptions.Update(cfg.deviceOptions()); err != nil {
			return fmt.Errorf("设置 CUDA 参数失败: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return fmt.Errorf("添加 CUDA 执行提供者失败: %w", err)
		}
	case ProviderTensorRT:
		trtOptions, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return fmt.Errorf("创建 TensorRTProviderOptions 失败: %w", err)
		}
		defer trtOptions.Destroy()
		if err := trtOptions.Update(cfg.deviceOptions()); err != nil {
			return fmt.Errorf("设置 TensorRT 参数失败: %w", err)
		}
		if err := options.AppendExecutionProviderTensorRT(trtOptions); err != nil {
			return fmt.Errorf("添加 TensorRT 执行提供者失败: %w", err)
		}
	case ProviderCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return fmt.Errorf("添加 CoreML 执行提供者失败: %w", err)
		}
	case ProviderDirectML:
		if err := options.AppendExecutionProviderDirectML(cfg.DeviceID); err != nil {
			return fmt.Errorf("添加 DirectML 执行提供者失败: %w", err)
		}
	case ProviderOpenVINO:
		if err := options.AppendExecutionProviderOpenVINO(cfg.ProviderOptions); err != nil {
			return fmt.Errorf("添加 OpenVINO 执行提供者失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的执行提供者: %s", cfg.ExecutionProvider)
	}
	return nil
}

func (cfg *OnnxConfig) deviceOptions() map[string]string {
	opts := map[string]string{"device_id": strconv.Itoa(cfg.DeviceID)}
	for k, v := range cfg.ProviderOptions {
		opts[k] = v
	}
	return opts
}

// DefaultLibraryPath 根据运行时环境判断加载哪个库文件
//
// 设置了 ONNXRUNTIME_SHARED_LIBRARY_PATH 时优先使用该路径
func DefaultLibraryPath() string {
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p
	}
	baseDir := "./lib/"
	libName := "onnxruntime"

	// windows onnxruntime.dll
	if runtime.GOOS == "windows" {
		return baseDir + libName + ".dll"
	}

	var ext string
	switch runtime.GOOS {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so"
	}

	// ./lib/onnxruntime_amd64.so, ./lib/onnxruntime_arm64.dylib ...
	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, runtime.GOARCH, ext)
}
