package render

// Surface 封装一次渲染的目标画布。画布单位即目标像素：scale 已经
// 在建面时折算进宽高，光栅化固定按 1 单位 = 1 像素输出，保证
// 预览与导出的坐标系完全一致。

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"

	"github.com/ByLCY/vellum/layout"
	"github.com/ByLCY/vellum/widget"
)

// Surface 是渲染引擎独占持有的栅格面。
type Surface struct {
	BaseWidth  float64
	BaseHeight float64
	Scale      float64
	// PxW/PxH 为输出像素尺寸：round(base × scale)。
	PxW int
	PxH int

	c   *canvas.Canvas
	ctx *canvas.Context
}

// NewSurface 依据部件画布与缩放比例建面。
func NewSurface(c widget.Canvas, scale float64) (*Surface, error) {
	if c.Width <= 0 || c.Height <= 0 {
		return nil, fmt.Errorf("画布尺寸非法: %gx%g", c.Width, c.Height)
	}
	if scale <= 0 {
		scale = 1
	}
	pw, ph := layout.PixelDims(c.Width, c.Height, scale)
	return &Surface{
		BaseWidth:  c.Width,
		BaseHeight: c.Height,
		Scale:      scale,
		PxW:        pw,
		PxH:        ph,
	}, nil
}

// begin 清空画布并返回新的绘制上下文。坐标系取左上角为原点。
func (s *Surface) begin() *canvas.Context {
	s.c = canvas.New(float64(s.PxW), float64(s.PxH))
	s.ctx = canvas.NewContext(s.c)
	s.ctx.SetCoordSystem(canvas.CartesianIV)
	return s.ctx
}

// Canvas 返回底层画布，供导出编码器（PDF/SVG）直接序列化。
func (s *Surface) Canvas() *canvas.Canvas { return s.c }

// Rasterize 将当前画布光栅化为 RGBA 位图。
func (s *Surface) Rasterize() (*image.RGBA, error) {
	if s.c == nil {
		return nil, fmt.Errorf("画布尚未绘制")
	}
	return rasterizer.Draw(s.c, canvas.DPMM(1.0), canvas.DefaultColorSpace), nil
}

// EncodePNG 光栅化并编码为 PNG 字节。
func (s *Surface) EncodePNG() ([]byte, error) {
	img, err := s.Rasterize()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("编码 PNG 失败: %w", err)
	}
	return buf.Bytes(), nil
}

// Release 释放画布引用。
func (s *Surface) Release() {
	s.c = nil
	s.ctx = nil
}
