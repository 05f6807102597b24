package render

// 参考线叠加层：字段轮廓、安全区与出血标记。叠加层只做描边，
// 绝不写入导出产物。

import (
	"image/color"

	"github.com/tdewolff/canvas"

	"github.com/ByLCY/vellum/layout"
	"github.com/ByLCY/vellum/widget"
)

var (
	guideOutline  = color.RGBA{R: 0x2b, G: 0x8c, B: 0xff, A: 0xff} // 字段轮廓
	guideSafeZone = color.RGBA{R: 0x18, G: 0xb0, B: 0x66, A: 0xff} // 安全区
	guideBleed    = color.RGBA{R: 0xe0, G: 0x4a, B: 0x3a, A: 0xff} // 出血
)

func (e *Engine) drawGuides(ctx *canvas.Context, s *Surface, w *widget.Widget, t *widget.Template, opts GuideOptions) {
	strokeWidth := s.Scale
	if strokeWidth < 1 {
		strokeWidth = 1
	}

	if opts.FieldOutlines {
		for _, def := range w.Fields {
			cfg, ok := t.FieldMap[def.ID]
			if !ok || cfg.Hidden {
				continue
			}
			box := layout.Resolve(cfg, def.Kind, s.Scale)
			h := box.Height
			if h <= 0 {
				h = box.FontSize * 1.4
			}
			strokeRect(ctx, box.X, box.Y, box.Width, h, guideOutline, strokeWidth, nil)
		}
	}

	_, _, safeRect := layout.GuideRects(w.Canvas, s.Scale)
	if opts.SafeZone && w.Canvas.SafeZone > 0 {
		strokeRect(ctx, safeRect[0], safeRect[1], safeRect[2], safeRect[3], guideSafeZone, strokeWidth, []float64{4 * s.Scale, 3 * s.Scale})
	}
	if opts.Bleed && w.Canvas.Bleed > 0 {
		// 出血位于画布之外，这里沿画布边缘画出裁切参考。
		inset := w.Canvas.Bleed * s.Scale
		strokeRect(ctx, inset, inset, float64(s.PxW)-2*inset, float64(s.PxH)-2*inset, guideBleed, strokeWidth, []float64{6 * s.Scale, 3 * s.Scale})
	}
}

// RenderGuides 在透明底上单独渲染参考线层，供交互端独立开关，
// 不必重走完整渲染。
func (e *Engine) RenderGuides(w *widget.Widget, t *widget.Template, opts GuideOptions, scale float64) (*RenderedOutput, error) {
	s, err := NewSurface(w.Canvas, scale)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := s.begin()
	e.drawGuides(ctx, s, w, t, opts)

	img, err := s.Rasterize()
	if err != nil {
		return nil, err
	}
	out := &RenderedOutput{
		Surface: s,
		Image:   img,
		Width:   s.PxW,
		Height:  s.PxH,
		Format:  "png",
		Quality: QualityPreview,
	}
	if png, err := s.EncodePNG(); err == nil {
		out.PreviewPNG = png
	}
	return out, nil
}

func strokeRect(ctx *canvas.Context, x, y, w, h float64, col color.RGBA, strokeWidth float64, dashes []float64) {
	if w <= 0 || h <= 0 {
		return
	}
	ctx.SetFillColor(canvas.Transparent)
	ctx.SetStrokeColor(col)
	ctx.SetStrokeWidth(strokeWidth)
	if len(dashes) > 0 {
		ctx.SetDashes(0, dashes...)
	} else {
		ctx.SetDashes(0)
	}
	ctx.DrawPath(x, y, canvas.Rectangle(w, h))
	ctx.SetDashes(0)
}
