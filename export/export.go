package export

// 导出引擎：按请求的分辨率档位让渲染引擎重绘（绝不拉伸预览位图），
// 编码为目标格式并给出确定性的文件名。导出只读取状态快照，
// 不回写渲染管线。

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tdewolff/canvas/renderers/pdf"
	"github.com/tdewolff/canvas/renderers/svg"

	"github.com/ByLCY/vellum/render"
)

// Format 是导出格式标签。
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPG  Format = "jpg"
	FormatPDF  Format = "pdf"
	FormatSVG  Format = "svg"
	FormatWebP Format = "webp"
)

// ErrUnsupportedFormat 表示当前环境没有该格式的编码器。
var ErrUnsupportedFormat = fmt.Errorf("导出格式不受支持")

var errMissingWidget = fmt.Errorf("导出缺少部件")

// Metadata 是写入导出文件的元信息块（PDF 支持）。
type Metadata struct {
	Title    string   `json:"title,omitempty"`
	Author   string   `json:"author,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// Options 选择分辨率（具名档位或自定义 {dpi, scale}）、格式与编码质量。
type Options struct {
	Profile string
	DPI     float64
	Scale   float64
	Format  Format
	// Quality 为 JPEG 编码质量（1-100，0 取默认 90）。
	Quality int
	Meta    *Metadata
}

// Result 是一次导出的产物，管线不保留它。
type Result struct {
	Data     []byte   `json:"-"`
	Filename string   `json:"filename"`
	Format   Format   `json:"format"`
	ByteSize int      `json:"byteSize"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Meta     *Metadata `json:"meta,omitempty"`
}

// Engine 持有渲染引擎与档位表。
type Engine struct {
	renderer *render.Engine
	profiles map[string]ResolutionProfile
}

// NewEngine 创建导出引擎。profiles 传 nil 时使用内置档位表。
func NewEngine(renderer *render.Engine, profiles map[string]ResolutionProfile) *Engine {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &Engine{renderer: renderer, profiles: profiles}
}

// Export 重绘并编码一帧。文件名由部件 id 与主字段值确定性地导出。
func (e *Engine) Export(input render.Input, opts Options) (*Result, error) {
	if input.Widget == nil {
		return nil, errMissingWidget
	}
	scale, err := e.resolveScale(opts)
	if err != nil {
		return nil, err
	}
	format := opts.Format
	if format == "" {
		format = FormatPNG
	}

	start := time.Now()
	out, err := e.renderer.RenderScaled(input, scale)
	if err != nil {
		return nil, fmt.Errorf("导出重绘失败: %w", err)
	}

	data, err := e.encode(out, format, opts)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Data:     data,
		Filename: Filename(input.Widget.ID, input.Values[input.Widget.PrimaryField()], format),
		Format:   format,
		ByteSize: len(data),
		Width:    out.Width,
		Height:   out.Height,
		Meta:     opts.Meta,
	}
	log.Info().
		Str("widget", input.Widget.ID).
		Str("format", string(format)).
		Float64("scale", scale).
		Int("bytes", result.ByteSize).
		Dur("duration", time.Since(start)).
		Msg("export complete")
	return result, nil
}

// ExportMultiple 对每个格式各导出一次；单个格式失败不影响其余格式，
// 错误按格式逐一上报。
func (e *Engine) ExportMultiple(input render.Input, base Options, formats []Format) ([]*Result, map[Format]error) {
	var results []*Result
	errs := map[Format]error{}
	for _, f := range formats {
		opts := base
		opts.Format = f
		res, err := e.Export(input, opts)
		if err != nil {
			log.Warn().Str("format", string(f)).Err(err).Msg("export format failed")
			errs[f] = err
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

func (e *Engine) encode(out *render.RenderedOutput, format Format, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		if err := png.Encode(&buf, out.Image); err != nil {
			return nil, fmt.Errorf("编码 PNG 失败: %w", err)
		}
	case FormatJPG:
		quality := opts.Quality
		if quality <= 0 || quality > 100 {
			quality = 90
		}
		if err := jpeg.Encode(&buf, out.Image, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("编码 JPEG 失败: %w", err)
		}
	case FormatPDF:
		writer := pdf.New(&buf, float64(out.Width), float64(out.Height), nil)
		applyMeta(writer, opts.Meta)
		out.Surface.Canvas().RenderTo(writer)
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("写入 PDF 失败: %w", err)
		}
	case FormatSVG:
		writer := svg.New(&buf, float64(out.Width), float64(out.Height), nil)
		out.Surface.Canvas().RenderTo(writer)
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("写入 SVG 失败: %w", err)
		}
	case FormatWebP:
		// 纯 Go 环境只有 WebP 解码器，无编码器。
		return nil, fmt.Errorf("%w: webp", ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return buf.Bytes(), nil
}

func applyMeta(writer *pdf.PDF, meta *Metadata) {
	if writer == nil || meta == nil {
		return
	}
	keywords := strings.Join(meta.Keywords, ", ")
	writer.SetInfo(meta.Title, meta.Subject, keywords, meta.Author, "vellum")
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug 把任意字符串压成文件系统安全的段。
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "untitled"
	}
	return s
}

// Filename 由部件 id、主字段值与格式确定性地导出文件名。
func Filename(widgetID, primaryValue string, format Format) string {
	return fmt.Sprintf("%s-%s.%s", Slug(widgetID), Slug(primaryValue), format)
}
