//go:build opencv

package backend

import (
	"fmt"
	"github.com/getcharzp/go-pose/tensor"
	"gocv.io/x/gocv"
	"unsafe"
)

// openCVForwarder OpenCV DNN 推理
type openCVForwarder struct {
	net         gocv.Net
	outputNames []string
}

func newOpenCVForwarder(opts Options, p Provider) (Forwarder, error) {
	net := gocv.ReadNetFromONNX(opts.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: OpenCV 无法加载模型 %s, 请改用 onnxruntime 后端", ErrUnsupportedBackend, opts.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendType(p.NetBackend))
	net.SetPreferableTarget(gocv.NetTargetType(p.NetTarget))

	var names []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		names = append(names, layer.GetName())
		layer.Close()
	}
	if len(names) < 2 {
		net.Close()
		return nil, fmt.Errorf("%w: 期望 2 个输出层, 实际 %d", ErrInvalidOutput, len(names))
	}

	return &openCVForwarder{net: net, outputNames: names}, nil
}

// Forward 执行推理
func (f *openCVForwarder) Forward(input *tensor.Tensor) (*Output, error) {
	sizes := make([]int, input.Rank())
	for i := range sizes {
		sizes[i] = input.Dim(i)
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&input.Data[0])), len(input.Data)*4)
	blob, err := gocv.NewMatWithSizesFromBytes(sizes, gocv.MatTypeCV32F, raw)
	if err != nil {
		return nil, fmt.Errorf("创建输入 Blob 失败: %w", err)
	}
	defer blob.Close()

	f.net.SetInput(blob, "")
	outs := f.net.ForwardLayers(f.outputNames)
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()
	if len(outs) < 2 {
		return nil, fmt.Errorf("%w: 输出层数量 %d", ErrInvalidOutput, len(outs))
	}

	simccX, err := copyMat(outs[0])
	if err != nil {
		return nil, err
	}
	simccY, err := copyMat(outs[1])
	if err != nil {
		return nil, err
	}
	return &Output{SimCCX: simccX, SimCCY: simccY}, nil
}

// Close 释放网络
func (f *openCVForwarder) Close() error {
	return f.net.Close()
}

func copyMat(m gocv.Mat) (*tensor.Tensor, error) {
	data, err := m.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	size := m.Size()
	shape := make([]int64, len(size))
	for i, d := range size {
		shape[i] = int64(d)
	}
	return tensor.New(shape, append([]float32(nil), data...))
}
