package render

// 位图预处理：装箱缩放、渐变合成与扫码位图生成。
// 缩放统一走 x/image/draw 的 Catmull-Rom 插值，避免导出时出现锯齿。

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	qrcode "github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/ByLCY/vellum/layout"
	"github.com/ByLCY/vellum/widget"
)

func rgba(c widget.Color) color.RGBA {
	return color.RGBA{R: uint8(c.R), G: uint8(c.G), B: uint8(c.B), A: 255}
}

// toPt 把画布单位换算为字体面所需的 pt。画布单位在光栅化时按
// 1 单位 = 1 像素输出，而字体面按 mm 理解画布单位，故乘 MmToPt。
func toPt(v float64) float64 { return v * layout.MmToPt }

// decodeBitmap 解码上传的图片字节（PNG/JPEG/GIF/WebP）。
func decodeBitmap(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解码图片失败: %w", err)
	}
	return img, nil
}

// fitBitmap 把源位图装入 box，返回恰好 box 尺寸的位图。
// contain 留透明边，cover 居中裁切，fill 直接拉伸。
func fitBitmap(src image.Image, box layout.Box, fit widget.FitMode) *image.RGBA {
	bw, bh := int(box.Width+0.5), int(box.Height+0.5)
	if bw <= 0 || bh <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	dst := image.NewRGBA(image.Rect(0, 0, bw, bh))

	x, y, w, h := layout.FitRect(
		float64(src.Bounds().Dx()), float64(src.Bounds().Dy()),
		layout.Box{Width: box.Width, Height: box.Height}, fit,
	)
	target := image.Rect(int(x+0.5), int(y+0.5), int(x+w+0.5), int(y+h+0.5))
	xdraw.CatmullRom.Scale(dst, target, src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// verticalGradient 合成自上而下的线性渐变位图。
func verticalGradient(w, h int, from, to widget.Color) *image.RGBA {
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		t := 0.0
		if h > 1 {
			t = float64(y) / float64(h-1)
		}
		row := color.RGBA{
			R: lerp(from.R, to.R, t),
			G: lerp(from.G, to.G, t),
			B: lerp(from.B, to.B, t),
			A: 255,
		}
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, row)
		}
	}
	return img
}

func lerp(a, b int, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}

// codeBitmap 为生成字段产出位图。目前支持 QR 一种扫码类型；
// 位图边长取盒子的短边。
func codeBitmap(value string, box layout.Box) (image.Image, error) {
	if value == "" {
		return nil, fmt.Errorf("扫码内容为空")
	}
	size := int(box.Width + 0.5)
	if box.Height > 0 && box.Height < box.Width {
		size = int(box.Height + 0.5)
	}
	if size <= 0 {
		size = 64
	}
	q, err := qrcode.New(value, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("生成二维码失败: %w", err)
	}
	return q.Image(size), nil
}
