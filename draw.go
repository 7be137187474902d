package pose

import (
	"fmt"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"image"
	"image/color"
	"image/draw"
	"os"
)

// TextDrawer 文本绘制工具, 用于在结果图上标注轨迹编号和耗时
type TextDrawer struct {
	font     *opentype.Font
	face     font.Face
	fontSize float64
}

// NewTextDrawer 从字体文件创建文本绘制工具
//
// # Params:
//
//	fontPath: 字体路径
func NewTextDrawer(fontPath string) (*TextDrawer, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("打开字体文件失败：%w", err)
	}
	return NewTextDrawerFromBytes(fontBytes)
}

// NewDefaultTextDrawer 使用内置的 Go Regular 字体
func NewDefaultTextDrawer() (*TextDrawer, error) {
	return NewTextDrawerFromBytes(goregular.TTF)
}

// NewTextDrawerFromBytes 从字体数据创建文本绘制工具
func NewTextDrawerFromBytes(fontBytes []byte) (*TextDrawer, error) {
	ttFont, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("解析字体文件失败：%w", err)
	}

	d := &TextDrawer{font: ttFont}
	if err := d.SetSize(12); err != nil {
		return nil, err
	}
	return d, nil
}

// SetSize 动态调整字体大小
func (d *TextDrawer) SetSize(fontSize float64) error {
	if d.face != nil && d.fontSize == fontSize {
		return nil
	}

	nf, err := opentype.NewFace(d.font, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return err
	}

	if d.face != nil {
		d.face.Close()
	}
	d.face = nf
	d.fontSize = fontSize
	return nil
}

// DrawText 绘制文本, (x, y) 为基线起点
func (d *TextDrawer) DrawText(img draw.Image, text string, x, y int, c color.Color) {
	fd := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: d.face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	fd.DrawString(text)
}

// TextBounds 计算文本以 (x, y) 为基线起点时占据的矩形
func (d *TextDrawer) TextBounds(text string, x, y int) image.Rectangle {
	metrics := d.face.Metrics()
	width := font.MeasureString(d.face, text).Ceil()
	return image.Rect(x, y-metrics.Ascent.Ceil(), x+width, y+metrics.Descent.Ceil())
}

// DrawLabel 绘制带背景色的标签, (x, y) 为标签左上角
//
// # Params:
//
//	img: 被绘制的图像
//	text: 标签文本
//	x, y: 标签左上角坐标
//	fg, bg: 文字颜色与背景颜色
func (d *TextDrawer) DrawLabel(img draw.Image, text string, x, y int, fg, bg color.Color) image.Rectangle {
	const pad = 2
	baseline := y + pad + d.face.Metrics().Ascent.Ceil()
	rect := d.TextBounds(text, x+pad, baseline).Inset(-pad)
	draw.Draw(img, rect, image.NewUniform(bg), image.Point{}, draw.Over)
	d.DrawText(img, text, x+pad, baseline, fg)
	return rect
}

// Close 释放资源
func (d *TextDrawer) Close() {
	if d.face != nil {
		d.face.Close()
		d.face = nil
	}
}
