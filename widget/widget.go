package widget

// 该文件定义部件（Widget）与模板（Template）的数据模型。
// 二者在会话加载后视为只读，所有可变状态集中在 pipeline 包。

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldKind 描述字段类型。
type FieldKind string

const (
	FieldText      FieldKind = "text"
	FieldParagraph FieldKind = "paragraph"
	FieldNumber    FieldKind = "number"
	FieldChoice    FieldKind = "choice"
	FieldImage     FieldKind = "image"
	FieldGenerated FieldKind = "generated"
	FieldToggle    FieldKind = "toggle"
)

// Valid 判断字段类型是否受支持。
func (k FieldKind) Valid() bool {
	switch k {
	case FieldText, FieldParagraph, FieldNumber, FieldChoice, FieldImage, FieldGenerated, FieldToggle:
		return true
	}
	return false
}

// Constraints 描述字段取值约束，零值表示无约束。
type Constraints struct {
	Required  bool     `json:"required,omitempty" yaml:"required,omitempty"`
	MaxLength int      `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Choices   []string `json:"choices,omitempty" yaml:"choices,omitempty"`
	// Formats 限定图片字段可接受的来源格式（扩展名，小写）。
	Formats []string `json:"formats,omitempty" yaml:"formats,omitempty"`
}

// FieldDefinition 是部件上一个具名字段的定义，id 在部件内唯一。
type FieldDefinition struct {
	ID          string      `json:"id" yaml:"id"`
	Label       string      `json:"label,omitempty" yaml:"label,omitempty"`
	Kind        FieldKind   `json:"kind" yaml:"kind"`
	Constraints Constraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Default     string      `json:"default,omitempty" yaml:"default,omitempty"`
	// Primary 标记参与导出文件名的主字段（例如名片上的姓名）。
	Primary bool `json:"primary,omitempty" yaml:"primary,omitempty"`
}

// Canvas 描述部件画布几何，宽高单位为基准像素。
type Canvas struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
	Unit   string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	// Bleed 为出血边宽度（四边等宽），SafeZone 为安全区内缩距离。
	Bleed    float64 `json:"bleed,omitempty" yaml:"bleed,omitempty"`
	SafeZone float64 `json:"safeZone,omitempty" yaml:"safeZone,omitempty"`
}

// Widget 是一种内容类型的顶层配置：画布、字段与可用模板。
type Widget struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name,omitempty" yaml:"name,omitempty"`
	Canvas    Canvas            `json:"canvas" yaml:"canvas"`
	Fields    []FieldDefinition `json:"fields" yaml:"fields"`
	Templates []string          `json:"templates,omitempty" yaml:"templates,omitempty"`
}

// Field 按 id 查找字段定义。
func (w *Widget) Field(id string) (FieldDefinition, bool) {
	for _, f := range w.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// PrimaryField 返回主字段 id；未显式标记时取第一个文本字段。
func (w *Widget) PrimaryField() string {
	for _, f := range w.Fields {
		if f.Primary {
			return f.ID
		}
	}
	for _, f := range w.Fields {
		if f.Kind == FieldText {
			return f.ID
		}
	}
	if len(w.Fields) > 0 {
		return w.Fields[0].ID
	}
	return ""
}

// Defaults 返回所有字段的默认值映射。
func (w *Widget) Defaults() map[string]string {
	values := make(map[string]string, len(w.Fields))
	for _, f := range w.Fields {
		if f.Default != "" {
			values[f.ID] = f.Default
		}
	}
	return values
}

// Color 采用 0-255 的 RGB 数值。
type Color struct {
	R int `json:"r" yaml:"r"`
	G int `json:"g" yaml:"g"`
	B int `json:"b" yaml:"b"`
}

// ParseColor 解析 #rgb / #rrggbb 形式的颜色。
func ParseColor(s string) (Color, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(raw) == 3 {
		raw = string([]byte{raw[0], raw[0], raw[1], raw[1], raw[2], raw[2]})
	}
	if len(raw) != 6 {
		return Color{}, fmt.Errorf("无法解析颜色 %q", s)
	}
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("无法解析颜色 %q: %w", s, err)
	}
	return Color{R: int(v >> 16 & 0xff), G: int(v >> 8 & 0xff), B: int(v & 0xff)}, nil
}

// Hex 输出 #rrggbb 表示。
func (c Color) Hex() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// Alignment 为文本水平对齐方式。
type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
	AlignRight  Alignment = "right"
)

// FitMode 为图片装箱方式。
type FitMode string

const (
	FitContain FitMode = "contain"
	FitCover   FitMode = "cover"
	FitFill    FitMode = "fill"
)

// TextStyle 描述文本字段的绘制样式，尺寸单位为基准像素。
type TextStyle struct {
	Size      float64   `json:"size" yaml:"size"`
	Weight    string    `json:"weight,omitempty" yaml:"weight,omitempty"` // regular/bold
	Align     Alignment `json:"align,omitempty" yaml:"align,omitempty"`
	Color     *Color    `json:"color,omitempty" yaml:"color,omitempty"`
	Transform string    `json:"transform,omitempty" yaml:"transform,omitempty"` // upper/lower/title
	Font      string    `json:"font,omitempty" yaml:"font,omitempty"`
}

// TemplateFieldConfig 描述单个字段在模板中的摆放与样式。
// 坐标为相对画布左上角的锚点（基准像素）。
type TemplateFieldConfig struct {
	X      float64   `json:"x" yaml:"x"`
	Y      float64   `json:"y" yaml:"y"`
	Width  float64   `json:"width,omitempty" yaml:"width,omitempty"`
	Height float64   `json:"height,omitempty" yaml:"height,omitempty"`
	Style  TextStyle `json:"style,omitempty" yaml:"style,omitempty"`
	Fit    FitMode   `json:"fit,omitempty" yaml:"fit,omitempty"`
	// Icon 为可选的装饰图标标签，Hidden 表示模板选择不渲染该字段。
	Icon   string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Hidden bool   `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

// BackgroundKind 描述模板背景规则种类。
type BackgroundKind string

const (
	BackgroundSolid    BackgroundKind = "solid"
	BackgroundGradient BackgroundKind = "gradient"
	BackgroundImage    BackgroundKind = "image"
)

// BackgroundRule 描述模板背景：纯色、线性渐变或图片。
// Prompt 为 AI 背景生成的提示词模板，可包含 ${fields.x} 占位符。
type BackgroundRule struct {
	Kind   BackgroundKind `json:"kind" yaml:"kind"`
	Color  Color          `json:"color,omitempty" yaml:"color,omitempty"`
	From   Color          `json:"from,omitempty" yaml:"from,omitempty"`
	To     Color          `json:"to,omitempty" yaml:"to,omitempty"`
	Prompt string         `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// ColorScheme 是模板内一套具名配色。
type ColorScheme struct {
	Name       string `json:"name" yaml:"name"`
	Background Color  `json:"background" yaml:"background"`
	Text       Color  `json:"text" yaml:"text"`
	Accent     *Color `json:"accent,omitempty" yaml:"accent,omitempty"`
}

// Template 是部件的一种具体版式。FieldMap 的键必须对应部件字段 id，
// 该约束在加载期校验（见 validate.go），渲染期不再检查。
type Template struct {
	ID         string                         `json:"id" yaml:"id"`
	WidgetID   string                         `json:"widgetId" yaml:"widgetId"`
	LayoutMode string                         `json:"layoutMode,omitempty" yaml:"layoutMode,omitempty"`
	FieldMap   map[string]TemplateFieldConfig `json:"fieldMap" yaml:"fieldMap"`
	Background BackgroundRule                 `json:"background" yaml:"background"`
	Schemes    []ColorScheme                  `json:"schemes,omitempty" yaml:"schemes,omitempty"`
}

// Scheme 按名称查找配色。
func (t *Template) Scheme(name string) (ColorScheme, bool) {
	for _, s := range t.Schemes {
		if s.Name == name {
			return s, true
		}
	}
	return ColorScheme{}, false
}

// DesignState 是用户可变的设计参数，由 pipeline 独占写入。
type DesignState struct {
	Background Color  `json:"background" yaml:"background"`
	Text       Color  `json:"text" yaml:"text"`
	Accent     *Color `json:"accent,omitempty" yaml:"accent,omitempty"`
	Secondary  *Color `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	// BackgroundImage 为已上传或 AI 生成的背景图字节（PNG/JPEG）。
	BackgroundImage []byte `json:"-" yaml:"-"`
	SchemeName      string `json:"scheme,omitempty" yaml:"scheme,omitempty"`
}

// ApplyScheme 将具名配色套入设计状态。
func (d *DesignState) ApplyScheme(s ColorScheme) {
	d.Background = s.Background
	d.Text = s.Text
	if s.Accent != nil {
		accent := *s.Accent
		d.Accent = &accent
	}
	d.SchemeName = s.Name
}

// Clone 返回设计状态的深拷贝，供历史快照与订阅者使用。
func (d DesignState) Clone() DesignState {
	out := d
	if d.Accent != nil {
		accent := *d.Accent
		out.Accent = &accent
	}
	if d.Secondary != nil {
		secondary := *d.Secondary
		out.Secondary = &secondary
	}
	if d.BackgroundImage != nil {
		out.BackgroundImage = append([]byte(nil), d.BackgroundImage...)
	}
	return out
}
