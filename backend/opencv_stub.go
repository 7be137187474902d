//go:build !opencv

package backend

import "fmt"

// newOpenCVForwarder 未使用 opencv 标签编译时 OpenCV 后端不可用
func newOpenCVForwarder(opts Options, _ Provider) (Forwarder, error) {
	return nil, fmt.Errorf("%w: opencv 后端需要安装 OpenCV 并使用 -tags opencv 编译 (model=%s)", ErrBackendUnavailable, opts.ModelPath)
}
