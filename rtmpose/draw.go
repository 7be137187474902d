package rtmpose

import (
	"github.com/getcharzp/go-pose"
	"github.com/up-zero/gotool/imageutil"
	"image"
	"image/color"
	"image/draw"
	"math"
)

// limb 骨架连线分组, 同组同色
type limb struct {
	pairs [][2]int
	color color.RGBA
}

var (
	colorLeft  = color.RGBA{G: 255, A: 255}                // 绿色
	colorRight = color.RGBA{R: 255, G: 128, A: 255}        // 橙色
	colorTorso = color.RGBA{R: 255, B: 255, A: 255}        // 品红
	colorHead  = color.RGBA{R: 51, G: 153, B: 255, A: 255} // 浅蓝
	colorPoint = color.RGBA{R: 255, A: 255}                // 红色关键点
	colorBox   = color.RGBA{R: 255, G: 255, A: 255}        // 黄色检测框
)

// cocoSkeleton COCO 17 点骨架
var cocoSkeleton = []limb{
	{pairs: [][2]int{{11, 13}, {13, 15}}, color: colorLeft},                             // 左腿
	{pairs: [][2]int{{12, 14}, {14, 16}}, color: colorRight},                            // 右腿
	{pairs: [][2]int{{5, 7}, {7, 9}}, color: colorLeft},                                 // 左臂
	{pairs: [][2]int{{6, 8}, {8, 10}}, color: colorRight},                               // 右臂
	{pairs: [][2]int{{5, 6}, {5, 11}, {6, 12}, {11, 12}}, color: colorTorso},            // 躯干
	{pairs: [][2]int{{0, 1}, {0, 2}, {1, 3}, {2, 4}, {0, 5}, {0, 6}}, color: colorHead}, // 头部
}

// openPoseSkeleton OpenPose 18 点骨架
var openPoseSkeleton = []limb{
	{pairs: [][2]int{{11, 12}, {12, 13}}, color: colorLeft},
	{pairs: [][2]int{{8, 9}, {9, 10}}, color: colorRight},
	{pairs: [][2]int{{5, 6}, {6, 7}}, color: colorLeft},
	{pairs: [][2]int{{2, 3}, {3, 4}}, color: colorRight},
	{pairs: [][2]int{{1, 2}, {1, 5}, {1, 8}, {1, 11}}, color: colorTorso},
	{pairs: [][2]int{{0, 1}, {0, 14}, {0, 15}, {14, 16}, {15, 17}}, color: colorHead},
}

// DrawOptions 绘制参数
type DrawOptions struct {
	Threshold   float32 // 低于该置信度的关键点不绘制
	LineWidth   int
	PointRadius int
	DrawBoxes   bool

	// (可选) 检测框左上角的标签, 如轨迹编号, 与 Result.Boxes 一一对应
	Labels []string
	Text   *pose.TextDrawer
}

// DefaultDrawOptions 默认绘制参数
func DefaultDrawOptions() DrawOptions {
	return DrawOptions{
		Threshold:   0.3,
		LineWidth:   3,
		PointRadius: 4,
		DrawBoxes:   true,
	}
}

// skeletonFor 根据关键点数量选择骨架, 不认识的布局只画点
func skeletonFor(numKeyPoints int) []limb {
	switch numKeyPoints {
	case NumCOCOKeyPoints:
		return cocoSkeleton
	case NumOpenPoseKeyPoints:
		return openPoseSkeleton
	}
	return nil
}

// DrawPoseResult 将骨架绘制到图片上
//
// # Params:
//
//	img: 原图
//	res: 姿态结果
//	opts: 绘制参数
func DrawPoseResult(img image.Image, res *Result, opts DrawOptions) *image.RGBA {
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, img.Bounds(), img, img.Bounds().Min, draw.Src)
	if res == nil {
		return dst
	}

	for i, b := range res.Boxes {
		if opts.DrawBoxes {
			imageutil.DrawThickRectOutline(dst, b.Rect(), colorBox, max(1, opts.LineWidth-1))
		}
		if opts.Text != nil && i < len(opts.Labels) && opts.Labels[i] != "" {
			r := b.Rect()
			opts.Text.DrawLabel(dst, opts.Labels[i], r.Min.X, r.Min.Y, color.Black, colorBox)
		}
	}

	skeleton := skeletonFor(res.NumKeyPoints)
	for i, kpts := range res.KeyPoints {
		scores := res.Scores[i]

		// 绘制连接线
		for _, l := range skeleton {
			for _, pair := range l.pairs {
				a, b := pair[0], pair[1]
				if scores[a] > opts.Threshold && scores[b] > opts.Threshold {
					imageutil.DrawThickLine(dst, toPoint(kpts[a]), toPoint(kpts[b]), opts.LineWidth, l.color)
				}
			}
		}

		// 绘制关键点
		for k, kp := range kpts {
			if scores[k] > opts.Threshold {
				imageutil.DrawFilledCircle(dst, toPoint(kp), opts.PointRadius, colorPoint)
			}
		}
	}
	return dst
}

func toPoint(p [2]float32) image.Point {
	return image.Point{X: int(math.Round(float64(p[0]))), Y: int(math.Round(float64(p[1])))}
}
