// Package modelhub 负责把模型名称解析为本地可读的文件路径
//
// 本地不存在时可从按文件名索引的远程仓库下载, 下载失败不重试.
package modelhub

import (
	"context"
	"errors"
	"fmt"
	"github.com/cheggaaa/pb/v3"
	"github.com/sirupsen/logrus"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrModelNotFound 模型在本地和远程均不可用
var ErrModelNotFound = errors.New("modelhub: 模型不存在")

// Provider 模型解析能力
type Provider interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Local 只查找本地文件
type Local struct{}

// Resolve 文件存在时返回原路径
func (Local) Resolve(_ context.Context, name string) (string, error) {
	if fileExists(name) {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrModelNotFound, name)
}

// Registry 从远程仓库按文件名下载模型
type Registry struct {
	BaseURL  string             // 仓库地址, 模型 URL = BaseURL + "/" + 文件名
	CacheDir string             // 下载目录, 为空时使用模型路径所在目录
	Client   *http.Client       // 为空时使用 http.DefaultClient
	Progress io.Writer          // 下载进度输出, 为空时不显示
	Logger   logrus.FieldLogger // 为空时使用 logrus 标准 logger
}

// Resolve 依次查找原路径、缓存目录, 都不存在时下载
func (r *Registry) Resolve(ctx context.Context, name string) (string, error) {
	if fileExists(name) {
		return name, nil
	}
	dst := r.cachePath(name)
	if fileExists(dst) {
		return dst, nil
	}
	if r.BaseURL == "" {
		return "", fmt.Errorf("%w: %s (未配置模型仓库)", ErrModelNotFound, name)
	}
	if err := r.download(ctx, filepath.Base(name), dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (r *Registry) cachePath(name string) string {
	if r.CacheDir == "" {
		return name
	}
	return filepath.Join(r.CacheDir, filepath.Base(name))
}

func (r *Registry) modelURL(file string) (string, error) {
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return "", fmt.Errorf("模型仓库地址错误: %w", err)
	}
	u.Path = path.Join(u.Path, file)
	return u.String(), nil
}

// download 下载到临时文件, 完成后重命名
func (r *Registry) download(ctx context.Context, file, dst string) error {
	log := r.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	src, err := r.modelURL(file)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"url": src, "dst": dst}).Info("下载模型")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("创建下载请求失败: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("下载模型失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrModelNotFound, src)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("下载模型失败: %s 返回 %s", src, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("创建模型目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	var body io.Reader = resp.Body
	if r.Progress != nil {
		bar := pb.New64(resp.ContentLength).SetTemplate(pb.Full).SetWriter(r.Progress)
		bar.Set(pb.Bytes, true)
		bar.Start()
		defer bar.Finish()
		body = bar.NewProxyReader(resp.Body)
	}

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("写入模型失败: %w", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return fmt.Errorf("模型下载不完整: %d/%d 字节", n, resp.ContentLength)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("保存模型失败: %w", err)
	}

	log.WithFields(logrus.Fields{"dst": dst, "bytes": n}).Info("模型下载完成")
	return nil
}

// Default 根据仓库地址返回默认解析器
func Default(baseURL, cacheDir string) Provider {
	if strings.TrimSpace(baseURL) == "" {
		return Local{}
	}
	return &Registry{BaseURL: baseURL, CacheDir: cacheDir}
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
