package render

// 渲染引擎：把部件/模板/字段值/设计状态合成到绑定的栅格面上。
// 渲染自身是同步的；图片字段的位图必须事先通过 AddAsset 驻留，
// 未驻留或解码失败的字段按"跳过并记录"处理，不会污染整帧。

import (
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tdewolff/canvas"

	"github.com/ByLCY/vellum/layout"
	"github.com/ByLCY/vellum/widget"
)

// Quality 区分预览与导出两档渲染。
type Quality string

const (
	QualityPreview Quality = "preview"
	QualityExport  Quality = "export"
)

// GuideOptions 控制参考线叠加层。参考线只出现在预览渲染，
// 导出路径强制关闭。
type GuideOptions struct {
	FieldOutlines bool
	SafeZone      bool
	Bleed         bool
}

// Input 是一次渲染的全部输入。
type Input struct {
	Widget   *widget.Widget
	Template *widget.Template
	Values   map[string]string
	Design   widget.DesignState
	Guides   *GuideOptions
}

// FieldSkip 记录单个字段被跳过的原因（非致命渲染错误）。
type FieldSkip struct {
	FieldID string `json:"fieldId"`
	Reason  string `json:"reason"`
}

// RenderedOutput 是一次渲染的产物，随下一次渲染作废，不进入历史。
type RenderedOutput struct {
	Surface    *Surface
	Image      *image.RGBA
	PreviewPNG []byte
	Width      int
	Height     int
	Format     string
	Quality    Quality
	Skipped    []FieldSkip
}

// Options 配置渲染引擎。
type Options struct {
	Fonts map[string]FontSource
}

// Engine 同一时刻独占一个栅格面；Bind 换绑会替换旧面。
type Engine struct {
	mu      sync.Mutex
	surface *Surface
	fonts   *fontCache

	assetMu sync.RWMutex
	assets  map[string]image.Image
	broken  map[string]string // 解码失败的资源及原因
}

// NewEngine 创建渲染引擎。
func NewEngine(opts Options) *Engine {
	return &Engine{
		fonts:  newFontCache(opts.Fonts),
		assets: map[string]image.Image{},
		broken: map[string]string{},
	}
}

// Bind 绑定栅格面，替换之前的绑定。
func (e *Engine) Bind(s *Surface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.surface != nil && e.surface != s {
		e.surface.Release()
	}
	e.surface = s
}

// Surface 返回当前绑定的栅格面。
func (e *Engine) Surface() *Surface {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.surface
}

// AddAsset 驻留一个图片字段资源（按字段值为键）。解码在这里完成，
// 之后的渲染路径不再有悬挂点。
func (e *Engine) AddAsset(key string, data []byte) error {
	img, err := decodeBitmap(data)
	e.assetMu.Lock()
	defer e.assetMu.Unlock()
	if err != nil {
		e.broken[key] = err.Error()
		return err
	}
	e.assets[key] = img
	delete(e.broken, key)
	return nil
}

// RemoveAsset 移除驻留资源。
func (e *Engine) RemoveAsset(key string) {
	e.assetMu.Lock()
	defer e.assetMu.Unlock()
	delete(e.assets, key)
	delete(e.broken, key)
}

func (e *Engine) lookupAsset(key string) (image.Image, string, bool) {
	e.assetMu.RLock()
	defer e.assetMu.RUnlock()
	if img, ok := e.assets[key]; ok {
		return img, "", true
	}
	if reason, ok := e.broken[key]; ok {
		return nil, "图片解码失败: " + reason, false
	}
	return nil, "图片尚未加载", false
}

// Render 在绑定面上渲染并返回产物。缺少绑定面是错误；
// 单个字段的问题只记录在 Skipped 中。
func (e *Engine) Render(input Input, quality Quality) (*RenderedOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.surface == nil {
		return nil, fmt.Errorf("渲染引擎未绑定栅格面")
	}
	return e.renderOn(e.surface, input, quality)
}

// RenderScaled 在一块独立的临时面上按指定比例渲染，供导出引擎
// 重绘高分辨率帧，不影响绑定面上的预览。
func (e *Engine) RenderScaled(input Input, scale float64) (*RenderedOutput, error) {
	if input.Widget == nil {
		return nil, fmt.Errorf("渲染输入缺少部件")
	}
	s, err := NewSurface(input.Widget.Canvas, scale)
	if err != nil {
		return nil, err
	}
	// 导出帧不含参考线。
	input.Guides = nil
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderOn(s, input, QualityExport)
}

func (e *Engine) renderOn(s *Surface, input Input, quality Quality) (*RenderedOutput, error) {
	if input.Widget == nil || input.Template == nil {
		return nil, fmt.Errorf("渲染输入缺少部件或模板")
	}
	start := time.Now()
	ctx := s.begin()

	out := &RenderedOutput{
		Surface: s,
		Width:   s.PxW,
		Height:  s.PxH,
		Format:  "png",
		Quality: quality,
	}

	e.drawBackground(ctx, s, input, out)

	// 按部件字段声明顺序绘制，保证两次渲染产物逐像素一致。
	for _, def := range input.Widget.Fields {
		cfg, ok := input.Template.FieldMap[def.ID]
		if !ok || cfg.Hidden {
			continue
		}
		if err := e.drawField(ctx, s, def, cfg, input); err != nil {
			out.Skipped = append(out.Skipped, FieldSkip{FieldID: def.ID, Reason: err.Error()})
		}
	}

	if quality == QualityPreview && input.Guides != nil {
		e.drawGuides(ctx, s, input.Widget, input.Template, *input.Guides)
	}

	img, err := s.Rasterize()
	if err != nil {
		return nil, err
	}
	out.Image = img
	if png, err := s.EncodePNG(); err == nil {
		out.PreviewPNG = png
	}

	log.Debug().
		Str("widget", input.Widget.ID).
		Str("template", input.Template.ID).
		Str("quality", string(quality)).
		Int("width", out.Width).
		Int("height", out.Height).
		Int("skipped", len(out.Skipped)).
		Dur("duration", time.Since(start)).
		Msg("render pass complete")
	return out, nil
}

func (e *Engine) drawBackground(ctx *canvas.Context, s *Surface, input Input, out *RenderedOutput) {
	rule := input.Template.Background

	// 已上传/已生成的背景图优先于模板规则。
	if len(input.Design.BackgroundImage) > 0 {
		img, err := decodeBitmap(input.Design.BackgroundImage)
		if err == nil {
			box := layout.Box{Width: float64(s.PxW), Height: float64(s.PxH)}
			ctx.DrawImage(0, 0, fitBitmap(img, box, widget.FitCover), canvas.DPMM(1.0))
			return
		}
		out.Skipped = append(out.Skipped, FieldSkip{FieldID: "background", Reason: "背景图解码失败: " + err.Error()})
	}

	switch rule.Kind {
	case widget.BackgroundGradient:
		ctx.DrawImage(0, 0, verticalGradient(s.PxW, s.PxH, rule.From, rule.To), canvas.DPMM(1.0))
	default:
		// solid 与 image（图未就绪）均退回设计态背景色。
		fillRect(ctx, 0, 0, float64(s.PxW), float64(s.PxH), input.Design.Background)
	}
}

func (e *Engine) drawField(ctx *canvas.Context, s *Surface, def widget.FieldDefinition, cfg widget.TemplateFieldConfig, input Input) error {
	value := input.Values[def.ID]
	box := layout.Resolve(cfg, def.Kind, s.Scale)

	switch def.Kind {
	case widget.FieldImage:
		if value == "" {
			return nil
		}
		img, reason, ok := e.lookupAsset(value)
		if !ok {
			return fmt.Errorf("%s", reason)
		}
		fit := cfg.Fit
		if fit == "" {
			fit = widget.FitContain
		}
		ctx.DrawImage(box.X, box.Y, fitBitmap(img, box, fit), canvas.DPMM(1.0))
		return nil

	case widget.FieldGenerated:
		if value == "" {
			return nil
		}
		img, err := codeBitmap(value, box)
		if err != nil {
			return err
		}
		ctx.DrawImage(box.X, box.Y, fitBitmap(img, box, widget.FitContain), canvas.DPMM(1.0))
		return nil

	case widget.FieldToggle:
		// 开关字段不直接绘制，仅作为其他字段的显隐依据。
		return nil

	default:
		if value == "" {
			return nil
		}
		return e.drawText(ctx, value, box, cfg.Style, input.Design)
	}
}

func (e *Engine) drawText(ctx *canvas.Context, content string, box layout.Box, style widget.TextStyle, design widget.DesignState) error {
	col := design.Text
	if style.Color != nil {
		col = *style.Color
	}
	size := box.FontSize
	if size <= 0 {
		size = 14
	}
	face, err := e.fonts.face(style.Font, style.Weight, size, col)
	if err != nil {
		return err
	}

	var align canvas.TextAlign
	switch box.Align {
	case widget.AlignCenter:
		align = canvas.Center
	case widget.AlignRight:
		align = canvas.Right
	default:
		align = canvas.Left
	}

	metrics := face.Metrics()
	lineHeight := metrics.LineHeight
	if lineHeight <= 0 {
		lineHeight = size * 1.4
	}

	// 段落按显式换行拆分；每行以锚点落笔，基线取行顶加上升部。
	cursorY := box.Y
	for _, line := range strings.Split(applyTransform(content, style.Transform), "\n") {
		textLine := canvas.NewTextLine(face, line, align)
		ctx.DrawText(box.AnchorX, cursorY+metrics.Ascent, textLine)
		cursorY += lineHeight
	}
	return nil
}

// applyTransform 在绘制前应用文本变换。
func applyTransform(s, transform string) string {
	switch transform {
	case "upper":
		return strings.ToUpper(s)
	case "lower":
		return strings.ToLower(s)
	case "title":
		return titleCase(s)
	default:
		return s
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[:1])) + string(r[1:])
	}
	return strings.Join(words, " ")
}

func fillRect(ctx *canvas.Context, x, y, w, h float64, col widget.Color) {
	ctx.SetFillColor(rgba(col))
	ctx.SetStrokeColor(canvas.Transparent)
	ctx.DrawPath(x, y, canvas.Rectangle(w, h))
}
