package rtmpose

import (
	"fmt"
	"github.com/getcharzp/go-pose/tensor"
)

// Stack 按顺序把多个 HWC 裁剪图拼成 (N, H, W, 3) 批次
//
// crops 为空时返回 (0, H, W, 3) 的空张量.
func Stack(crops []*Crop, inputW, inputH int) (*tensor.Tensor, error) {
	plane := inputH * inputW * 3
	batch := tensor.Zeros(int64(len(crops)), int64(inputH), int64(inputW), 3)
	for i, c := range crops {
		if c == nil || c.Width != inputW || c.Height != inputH || len(c.Data) != plane {
			return nil, fmt.Errorf("%w: 第 %d 个裁剪图尺寸与 %dx%d 不一致", ErrShapeMismatch, i, inputW, inputH)
		}
		copy(batch.Data[i*plane:(i+1)*plane], c.Data)
	}
	return batch, nil
}
