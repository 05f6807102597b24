package export

// 字节量估算：纯本地计算，供界面在真正编码前展示大致大小。
// 估算对分辨率单调：同格式下更高分辨率的估算绝不小于更低分辨率。

import (
	"github.com/ByLCY/vellum/layout"
	"github.com/ByLCY/vellum/render"
)

// 每像素估算字节数（经验值）与固定头部开销。
var estimateFactors = map[Format]struct {
	perPixel float64
	overhead int
}{
	FormatPNG:  {perPixel: 0.9, overhead: 2 << 10},
	FormatJPG:  {perPixel: 0.22, overhead: 1 << 10},
	FormatPDF:  {perPixel: 0.3, overhead: 8 << 10},
	FormatSVG:  {perPixel: 0.05, overhead: 4 << 10},
	FormatWebP: {perPixel: 0.18, overhead: 1 << 10},
}

// EstimateSize 估算指定选项下的导出字节量，不执行编码。
func (e *Engine) EstimateSize(input render.Input, opts Options) (int, error) {
	if input.Widget == nil {
		return 0, errMissingWidget
	}
	scale, err := e.resolveScale(opts)
	if err != nil {
		return 0, err
	}
	format := opts.Format
	if format == "" {
		format = FormatPNG
	}
	f, ok := estimateFactors[format]
	if !ok {
		return 0, ErrUnsupportedFormat
	}
	w, h := layout.PixelDims(input.Widget.Canvas.Width, input.Widget.Canvas.Height, scale)
	pixels := float64(w) * float64(h)

	factor := f.perPixel
	if format == FormatJPG {
		quality := opts.Quality
		if quality <= 0 || quality > 100 {
			quality = 90
		}
		// 质量线性折算，保持对分辨率的单调性不变。
		factor *= float64(quality) / 90.0
	}
	return int(pixels*factor) + f.overhead, nil
}
