package rtmpose

import (
	"errors"
	"fmt"
	"github.com/getcharzp/go-pose/tensor"
	"image"
	"math"
	"time"
)

var (
	// ErrInvalidBox 检测框不合法 (x1>=x2 或 y1>=y2)
	ErrInvalidBox = errors.New("rtmpose: 检测框不合法")
	// ErrInvalidFrame 输入图像为空
	ErrInvalidFrame = errors.New("rtmpose: 输入图像不合法")
	// ErrShapeMismatch 张量形状不符合约定
	ErrShapeMismatch = tensor.ErrShapeMismatch
)

// BBox 图像坐标系下的检测框 (左上角为原点)
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// BBoxFromRect 由 image.Rectangle 创建检测框
func BBoxFromRect(r image.Rectangle) BBox {
	return BBox{X1: float64(r.Min.X), Y1: float64(r.Min.Y), X2: float64(r.Max.X), Y2: float64(r.Max.Y)}
}

// Validate 检查坐标
func (b BBox) Validate() error {
	for _, v := range [4]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: 坐标非有限值 %+v", ErrInvalidBox, b)
		}
	}
	if b.X1 >= b.X2 || b.Y1 >= b.Y2 {
		return fmt.Errorf("%w: %+v", ErrInvalidBox, b)
	}
	return nil
}

// Rect 转为 image.Rectangle
func (b BBox) Rect() image.Rectangle {
	return image.Rect(int(math.Round(b.X1)), int(math.Round(b.Y1)), int(math.Round(b.X2)), int(math.Round(b.Y2)))
}

// CenterScale 中心点 + 宽高
type CenterScale struct {
	Center [2]float64
	Scale  [2]float64 // 已按模型输入宽高比修正
}

// Crop 仿射变换后的输入图像
type Crop struct {
	Width, Height int
	Data          []float32 // HWC, 3 通道
	CenterScale   CenterScale
}

// Timing 单帧各阶段耗时
type Timing struct {
	Total       time.Duration // 各阶段之和
	Preprocess  time.Duration // 仿射变换 + 归一化 + 组批
	Prep        time.Duration // 后端输入整理
	Model       time.Duration // 模型执行
	Postprocess time.Duration // 解码 (+ OpenPose 转换)
	NumBoxes    int
}

// KeyPoint 单个关键点
type KeyPoint struct {
	X, Y  float32 // 原图坐标
	Score float32 // 置信度 [0,1]
}

// PoseResult 单人姿态结果
type PoseResult struct {
	Box       BBox
	KeyPoints []KeyPoint
}

// Result 一帧的推理结果
//
// KeyPoints 形状固定为 (N, K, 2), Scores 为 (N, K), N=0 时也不为 nil.
// 第 i 行对应输入的第 i 个检测框.
type Result struct {
	NumKeyPoints int
	Boxes        []BBox
	KeyPoints    [][][2]float32
	Scores       [][]float32
	Timing       Timing
}

func emptyResult(numKeyPoints int) *Result {
	return &Result{
		NumKeyPoints: numKeyPoints,
		Boxes:        make([]BBox, 0),
		KeyPoints:    make([][][2]float32, 0),
		Scores:       make([][]float32, 0),
	}
}

// Len 人数
func (r *Result) Len() int {
	return len(r.KeyPoints)
}

// Shape 返回关键点 (N, K, 2) 与置信度 (N, K) 的形状
func (r *Result) Shape() ([3]int, [2]int) {
	return [3]int{len(r.KeyPoints), r.NumKeyPoints, 2}, [2]int{len(r.Scores), r.NumKeyPoints}
}

// Poses 转为逐人的结果
func (r *Result) Poses() []PoseResult {
	poses := make([]PoseResult, r.Len())
	for i := range poses {
		kpts := make([]KeyPoint, r.NumKeyPoints)
		for k := range kpts {
			kpts[k] = KeyPoint{X: r.KeyPoints[i][k][0], Y: r.KeyPoints[i][k][1], Score: r.Scores[i][k]}
		}
		poses[i] = PoseResult{KeyPoints: kpts}
		if i < len(r.Boxes) {
			poses[i].Box = r.Boxes[i]
		}
	}
	return poses
}
