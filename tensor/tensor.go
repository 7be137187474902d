// Package tensor 提供行优先、连续存储的 float32 张量
package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch 形状与数据长度不一致
var ErrShapeMismatch = errors.New("tensor: 形状与数据不匹配")

// Tensor 连续存储的 float32 张量
type Tensor struct {
	Shape []int64
	Data  []float32
}

// New 创建张量, 数据长度必须等于形状元素数
func New(shape []int64, data []float32) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != n {
		return nil, fmt.Errorf("%w: shape %v 需要 %d 个元素, 实际 %d", ErrShapeMismatch, shape, n, len(data))
	}
	return &Tensor{Shape: append([]int64(nil), shape...), Data: data}, nil
}

// Zeros 创建全零张量, 任一维度为 0 时得到空张量
func Zeros(shape ...int64) *Tensor {
	n, err := numElements(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{Shape: append([]int64(nil), shape...), Data: make([]float32, n)}
}

// Rank 维度数
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Dim 第 i 维大小
func (t *Tensor) Dim(i int) int {
	return int(t.Shape[i])
}

// Len 元素个数
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Validate 检查形状与数据长度
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: 张量为空", ErrShapeMismatch)
	}
	n, err := numElements(t.Shape)
	if err != nil {
		return err
	}
	if int64(len(t.Data)) != n {
		return fmt.Errorf("%w: shape %v 需要 %d 个元素, 实际 %d", ErrShapeMismatch, t.Shape, n, len(t.Data))
	}
	return nil
}

// Item 返回第 0 维第 i 个元素对应的数据切片 (不复制)
func (t *Tensor) Item(i int) []float32 {
	if t.Rank() == 0 {
		return nil
	}
	stride := 1
	for _, d := range t.Shape[1:] {
		stride *= int(d)
	}
	return t.Data[i*stride : (i+1)*stride]
}

// HWCToCHW 将 (H, W, C) 转为 (C, H, W)
func (t *Tensor) HWCToCHW() (*Tensor, error) {
	if t.Rank() != 3 {
		return nil, fmt.Errorf("%w: HWC 需要 3 维, 实际 %d 维", ErrShapeMismatch, t.Rank())
	}
	h, w, c := t.Dim(0), t.Dim(1), t.Dim(2)
	out := make([]float32, len(t.Data))
	transposeHWC(t.Data, out, h, w, c)
	return &Tensor{Shape: []int64{int64(c), int64(h), int64(w)}, Data: out}, nil
}

// NHWCToNCHW 将 (N, H, W, C) 转为 (N, C, H, W)
func (t *Tensor) NHWCToNCHW() (*Tensor, error) {
	if t.Rank() != 4 {
		return nil, fmt.Errorf("%w: NHWC 需要 4 维, 实际 %d 维", ErrShapeMismatch, t.Rank())
	}
	n, h, w, c := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	out := make([]float32, len(t.Data))
	plane := h * w * c
	for i := 0; i < n; i++ {
		transposeHWC(t.Data[i*plane:(i+1)*plane], out[i*plane:(i+1)*plane], h, w, c)
	}
	return &Tensor{Shape: []int64{int64(n), int64(c), int64(h), int64(w)}, Data: out}, nil
}

// Unsqueeze 在最前面增加一个大小为 1 的维度
func (t *Tensor) Unsqueeze() *Tensor {
	return &Tensor{Shape: append([]int64{1}, t.Shape...), Data: t.Data}
}

func transposeHWC(src, dst []float32, h, w, c int) {
	area := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*w + x
			for ch := 0; ch < c; ch++ {
				dst[ch*area+p] = src[p*c+ch]
			}
		}
	}
}

func numElements(shape []int64) (int64, error) {
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: 维度不能为负 %v", ErrShapeMismatch, shape)
		}
		n *= d
	}
	return n, nil
}
