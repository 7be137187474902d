package modelhub

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestLocal_Resolve(t *testing.T) {
	p := filepath.Join(t.TempDir(), "rtmpose-m.onnx")
	if _, err := (Local{}).Resolve(context.Background(), p); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("期望 ErrModelNotFound, 实际 %v", err)
	}
	if err := os.WriteFile(p, []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := (Local{}).Resolve(context.Background(), p)
	if err != nil || got != p {
		t.Fatalf("本地模型解析失败: %s %v", got, err)
	}
}

func TestRegistry_DownloadOnce(t *testing.T) {
	payload := []byte("fake onnx model")
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/models/rtmpose-m.onnx" {
			http.NotFound(w, r)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	cache := t.TempDir()
	var progress bytes.Buffer
	reg := &Registry{BaseURL: srv.URL + "/models", CacheDir: cache, Progress: &progress}

	got, err := reg.Resolve(context.Background(), "weights/rtmpose-m.onnx")
	if err != nil {
		t.Fatalf("下载失败: %v", err)
	}
	if got != filepath.Join(cache, "rtmpose-m.onnx") {
		t.Fatalf("下载路径错误: %s", got)
	}
	data, err := os.ReadFile(got)
	if err != nil || !bytes.Equal(data, payload) {
		t.Fatalf("下载内容错误: %q %v", data, err)
	}

	// 已缓存时不再请求
	if _, err := reg.Resolve(context.Background(), "weights/rtmpose-m.onnx"); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("期望请求 1 次, 实际 %d", n)
	}
}

func TestRegistry_NotFoundNoRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cache := t.TempDir()
	reg := &Registry{BaseURL: srv.URL, CacheDir: cache}
	if _, err := reg.Resolve(context.Background(), "missing.onnx"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("期望 ErrModelNotFound, 实际 %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("下载失败不应重试, 实际请求 %d 次", n)
	}
	entries, _ := os.ReadDir(cache)
	if len(entries) != 0 {
		t.Fatalf("失败后不应残留文件: %v", entries)
	}
}

func TestRegistry_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := &Registry{BaseURL: srv.URL, CacheDir: t.TempDir()}
	_, err := reg.Resolve(context.Background(), "rtmpose-m.onnx")
	if err == nil || errors.Is(err, ErrModelNotFound) {
		t.Fatalf("服务端错误应返回普通错误, 实际 %v", err)
	}
}

func TestDefault(t *testing.T) {
	if _, ok := Default("", "").(Local); !ok {
		t.Fatal("未配置仓库时应只查找本地")
	}
	if _, ok := Default("https://example.com/models", "").(*Registry); !ok {
		t.Fatal("配置仓库时应返回 Registry")
	}
	reg := &Registry{}
	if _, err := reg.Resolve(context.Background(), filepath.Join(t.TempDir(), "x.onnx")); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("未配置仓库时应返回 ErrModelNotFound, 实际 %v", err)
	}
}
