package rtmpose

import (
	"fmt"
	"github.com/getcharzp/go-pose/backend"
	"math"
)

// Decode 把 SimCC 输出解码为原图坐标与置信度
//
// 每个关键点取 x / y 两个分布的最大值位置 (相同值取第一个), 除以 splitRatio
// 得到模型输入坐标, 再按 cs[i] 映射回原图. 置信度为两个最大值归一化后的乘积.
func Decode(out *backend.Output, cs []CenterScale, inputW, inputH int, splitRatio float64, mode ScoreMode) ([][][2]float32, [][]float32, error) {
	if len(cs) == 0 {
		return make([][][2]float32, 0), make([][]float32, 0), nil
	}
	if err := out.Validate(len(cs)); err != nil {
		return nil, nil, err
	}
	if splitRatio <= 0 {
		return nil, nil, fmt.Errorf("SplitRatio 必须大于 0")
	}

	n, k := len(cs), out.SimCCX.Dim(1)
	wx, hy := out.SimCCX.Dim(2), out.SimCCY.Dim(2)
	if wx == 0 || hy == 0 {
		return nil, nil, fmt.Errorf("%w: SimCC 长度为 0 %v / %v", ErrShapeMismatch, out.SimCCX.Shape, out.SimCCY.Shape)
	}

	kpts := make([][][2]float32, n)
	scores := make([][]float32, n)
	for i := 0; i < n; i++ {
		xs, ys := out.SimCCX.Item(i), out.SimCCY.Item(i)
		center, scale := cs[i].Center, cs[i].Scale

		kpts[i] = make([][2]float32, k)
		scores[i] = make([]float32, k)
		for j := 0; j < k; j++ {
			rowX := xs[j*wx : (j+1)*wx]
			rowY := ys[j*hy : (j+1)*hy]
			locX, maxX := argmax(rowX)
			locY, maxY := argmax(rowY)

			x := float64(locX) / splitRatio
			y := float64(locY) / splitRatio
			kpts[i][j] = [2]float32{
				float32(x/float64(inputW)*scale[0] + center[0] - scale[0]/2),
				float32(y/float64(inputH)*scale[1] + center[1] - scale[1]/2),
			}
			scores[i][j] = normalizeScore(rowX, maxX, mode) * normalizeScore(rowY, maxY, mode)
		}
	}
	return kpts, scores, nil
}

// argmax 返回最大值位置, 相同时取第一个
func argmax(row []float32) (int, float32) {
	idx, best := 0, row[0]
	for i := 1; i < len(row); i++ {
		if row[i] > best {
			idx, best = i, row[i]
		}
	}
	return idx, best
}

func normalizeScore(row []float32, maxVal float32, mode ScoreMode) float32 {
	if mode == ScoreSoftmax {
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - maxVal))
		}
		return float32(1 / sum)
	}
	return min(max(maxVal, 0), 1)
}
