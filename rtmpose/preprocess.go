package rtmpose

import (
	"fmt"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"image"
	"math"
)

// BBoxToCenterScale 检测框转中心点与扩展后的宽高
func BBoxToCenterScale(b BBox, padding float64) CenterScale {
	return CenterScale{
		Center: [2]float64{(b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2},
		Scale:  [2]float64{(b.X2 - b.X1) * padding, (b.Y2 - b.Y1) * padding},
	}
}

// FixAspectRatio 扩展宽或高, 使 w/h 等于 aspect, 另一边保持不变
func FixAspectRatio(scale [2]float64, aspect float64) [2]float64 {
	w, h := scale[0], scale[1]
	if w > h*aspect {
		return [2]float64{w, w / aspect}
	}
	return [2]float64{h * aspect, h}
}

// thirdPoint 以 b 为中心把 a-b 方向逆时针旋转 90 度
func thirdPoint(a, b [2]float64) [2]float64 {
	d := [2]float64{a[0] - b[0], a[1] - b[1]}
	return [2]float64{b[0] - d[1], b[1] + d[0]}
}

// WarpMatrix 计算原图到模型输入的仿射矩阵 (像素索引坐标)
//
// 中心点映射到输入中心, 上方 scale_w/2 处的点映射到输入中心上方 w/2 处,
// 第三点由前两点旋转 90 度得到.
func WarpMatrix(cs CenterScale, inputW, inputH int) (f64.Aff3, error) {
	srcW := cs.Scale[0]
	dstW, dstH := float64(inputW), float64(inputH)

	var src, dst [3][2]float64
	src[0] = cs.Center
	src[1] = [2]float64{cs.Center[0], cs.Center[1] - srcW*0.5}
	src[2] = thirdPoint(src[0], src[1])

	dst[0] = [2]float64{dstW * 0.5, dstH * 0.5}
	dst[1] = [2]float64{dstW * 0.5, dstH*0.5 - dstW*0.5}
	dst[2] = thirdPoint(dst[0], dst[1])

	return solveAffine(src, dst)
}

// solveAffine 由三组对应点求解 2x3 仿射矩阵
func solveAffine(src, dst [3][2]float64) (f64.Aff3, error) {
	det := det3(src, [3]float64{1, 1, 1})
	if math.Abs(det) < 1e-12 {
		return f64.Aff3{}, fmt.Errorf("仿射变换退化: %v", src)
	}

	var m f64.Aff3
	for row := 0; row < 2; row++ {
		rhs := [3]float64{dst[0][row], dst[1][row], dst[2][row]}
		// Cramer: 依次替换 x / y / 1 列
		a := det3WithColumn(src, rhs, 0)
		b := det3WithColumn(src, rhs, 1)
		c := det3(src, rhs)
		m[row*3+0] = a / det
		m[row*3+1] = b / det
		m[row*3+2] = c / det
	}
	return m, nil
}

// det3 计算 | x_i y_i k_i | 的行列式
func det3(p [3][2]float64, k [3]float64) float64 {
	return p[0][0]*(p[1][1]*k[2]-k[1]*p[2][1]) -
		p[0][1]*(p[1][0]*k[2]-k[1]*p[2][0]) +
		k[0]*(p[1][0]*p[2][1]-p[1][1]*p[2][0])
}

// det3WithColumn 将第 col 列替换为 rhs 后的行列式, 第三列为 1
func det3WithColumn(p [3][2]float64, rhs [3]float64, col int) float64 {
	var q [3][2]float64
	for i := range p {
		q[i] = p[i]
		q[i][col] = rhs[i]
	}
	return det3(q, [3]float64{1, 1, 1})
}

// ApplyAffine 对点做仿射变换
func ApplyAffine(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// pixelCenterAffine 像素索引坐标的矩阵转为以像素中心为 (i+0.5, j+0.5) 的连续坐标
func pixelCenterAffine(m f64.Aff3) f64.Aff3 {
	m[2] = m[2] - (m[0]+m[1])*0.5 + 0.5
	m[5] = m[5] - (m[3]+m[4])*0.5 + 0.5
	return m
}

// asNRGBA 统一为原点在 (0,0) 的 *image.NRGBA, 已满足时不复制
func asNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// ToCrop 把检测框区域仿射变换到 inputW x inputH, 输出 HWC float32 (未归一化)
//
// 超出原图的区域填 0, 双线性插值.
func ToCrop(img image.Image, box BBox, padding float64, inputW, inputH int, order ChannelOrder) (*Crop, CenterScale, error) {
	if err := box.Validate(); err != nil {
		return nil, CenterScale{}, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, CenterScale{}, ErrInvalidFrame
	}
	if inputW <= 0 || inputH <= 0 {
		return nil, CenterScale{}, fmt.Errorf("输入尺寸错误: %dx%d", inputW, inputH)
	}

	cs := BBoxToCenterScale(box, padding)
	cs.Scale = FixAspectRatio(cs.Scale, float64(inputW)/float64(inputH))

	m, err := WarpMatrix(cs, inputW, inputH)
	if err != nil {
		return nil, CenterScale{}, err
	}

	// 检测框坐标相对于图像左上角
	src := asNRGBA(img)
	dst := image.NewRGBA(image.Rect(0, 0, inputW, inputH))
	draw.BiLinear.Transform(dst, pixelCenterAffine(m), src, src.Bounds(), draw.Src, nil)

	return &Crop{
		Width:       inputW,
		Height:      inputH,
		Data:        rgbaToHWC(dst, order),
		CenterScale: cs,
	}, cs, nil
}

// rgbaToHWC 原图不透明, 预乘与非预乘相同
func rgbaToHWC(img *image.RGBA, order ChannelOrder) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	data := make([]float32, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			idx := (y*w + x) * 3
			if order == ChannelRGB {
				data[idx], data[idx+1], data[idx+2] = float32(r), float32(g), float32(b)
			} else {
				data[idx], data[idx+1], data[idx+2] = float32(b), float32(g), float32(r)
			}
		}
	}
	return data
}

// Normalize 按通道做 (x - mean) / std
func (c *Crop) Normalize(mean, std []float32) {
	if len(mean) != 3 || len(std) != 3 {
		return
	}
	for i := 0; i < len(c.Data); i += 3 {
		for ch := 0; ch < 3; ch++ {
			c.Data[i+ch] = (c.Data[i+ch] - mean[ch]) / std[ch]
		}
	}
}
