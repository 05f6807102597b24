package layout

// 布局解析器：把模板中的字段锚点/盒子换算为目标比例下的绝对绘制坐标。
// 本包不持有任何状态，相同输入恒产出相同输出——这是预览与导出
// 在像素层面（按比例）一致的前提。

import (
	"math"

	"github.com/ByLCY/vellum/widget"
)

// Box 是换算后的绘制盒子，单位为目标像素。
//
// X 为对齐处理后的文本起笔/盒子左缘：居中对齐在锚点基础上左移半个
// 盒宽，右对齐左移整个盒宽。AnchorX 保留缩放后的原始锚点，渲染器
// 按对齐方式在锚点处落笔时使用。
type Box struct {
	X       float64
	Y       float64
	Width   float64
	Height  float64
	AnchorX float64
	// FontSize 为缩放后的字号（文本字段），Align 原样透传。
	FontSize float64
	Align    widget.Alignment
}

// Resolve 把单个字段的模板配置换算到 scale 比例下。
// scale=1 对应预览，导出时按分辨率档位放大。
func Resolve(cfg widget.TemplateFieldConfig, kind widget.FieldKind, scale float64) Box {
	if scale <= 0 {
		scale = 1
	}
	b := Box{
		Y:        cfg.Y * scale,
		Width:    cfg.Width * scale,
		Height:   cfg.Height * scale,
		AnchorX:  cfg.X * scale,
		FontSize: cfg.Style.Size * scale,
		Align:    cfg.Style.Align,
	}
	switch kind {
	case widget.FieldText, widget.FieldParagraph, widget.FieldNumber, widget.FieldChoice:
		switch cfg.Style.Align {
		case widget.AlignCenter:
			b.X = b.AnchorX - b.Width/2
		case widget.AlignRight:
			b.X = b.AnchorX - b.Width
		default:
			b.X = b.AnchorX
		}
	default:
		// 图片与生成字段不受文本对齐影响，锚点即左上角。
		b.X = b.AnchorX
	}
	return b
}

// PixelDims 计算 base 画布在 scale 下的输出像素尺寸（四舍五入）。
func PixelDims(width, height, scale float64) (int, int) {
	return int(math.Round(width * scale)), int(math.Round(height * scale))
}

// GuideRects 计算画布轮廓、出血与安全区参考框（目标像素）。
// 依次返回：画布框、出血框（向外扩 bleed）、安全区框（向内缩 safeZone）。
func GuideRects(c widget.Canvas, scale float64) (canvasRect, bleedRect, safeRect [4]float64) {
	if scale <= 0 {
		scale = 1
	}
	w, h := c.Width*scale, c.Height*scale
	canvasRect = [4]float64{0, 0, w, h}
	b := c.Bleed * scale
	bleedRect = [4]float64{-b, -b, w + 2*b, h + 2*b}
	s := c.SafeZone * scale
	safeRect = [4]float64{s, s, w - 2*s, h - 2*s}
	return canvasRect, bleedRect, safeRect
}

// FitRect 按装箱方式把 srcW×srcH 的位图放入 box，返回绘制原点与缩放后
// 的宽高。contain 完整显示留白，cover 充满裁切，fill 拉伸变形。
func FitRect(srcW, srcH float64, box Box, fit widget.FitMode) (x, y, w, h float64) {
	if srcW <= 0 || srcH <= 0 || box.Width <= 0 || box.Height <= 0 {
		return box.X, box.Y, box.Width, box.Height
	}
	switch fit {
	case widget.FitFill:
		return box.X, box.Y, box.Width, box.Height
	case widget.FitCover:
		r := math.Max(box.Width/srcW, box.Height/srcH)
		w, h = srcW*r, srcH*r
	default: // contain
		r := math.Min(box.Width/srcW, box.Height/srcH)
		w, h = srcW*r, srcH*r
	}
	x = box.X + (box.Width-w)/2
	y = box.Y + (box.Height-h)/2
	return x, y, w, h
}
