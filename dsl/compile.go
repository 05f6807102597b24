package dsl

// 编译期把 AST 落成 widget 包的数据模型。语法层面合法但语义不
// 成立的组合（渐变缺第二个颜色、未知字段类型等）在这里报错，
// 错误信息带上源文件位置。

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ByLCY/vellum/widget"
)

// Compile 把解析结果转换为部件与模板集合。
func Compile(doc *Document) ([]*widget.Widget, []*widget.Template, error) {
	if doc == nil || len(doc.Widgets) == 0 {
		return nil, nil, fmt.Errorf("文档中没有 widget 声明")
	}
	var widgets []*widget.Widget
	var templates []*widget.Template
	for _, decl := range doc.Widgets {
		w, ts, err := compileWidget(decl)
		if err != nil {
			return nil, nil, err
		}
		widgets = append(widgets, w)
		templates = append(templates, ts...)
	}
	return widgets, templates, nil
}

// LoadInto 解析并把结果注册进仓库，注册顺序与声明顺序一致。
func LoadInto(reg *widget.Registry, r io.Reader) error {
	doc, err := Parse(r)
	if err != nil {
		return fmt.Errorf("解析 DSL 失败: %w", err)
	}
	widgets, templates, err := Compile(doc)
	if err != nil {
		return err
	}
	for _, w := range widgets {
		if err := reg.RegisterWidget(w); err != nil {
			return err
		}
	}
	for _, t := range templates {
		if err := reg.RegisterTemplate(t); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile 从文件加载一份 DSL 文档。
func LoadFile(reg *widget.Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("无法打开 DSL 文件 %s: %w", path, err)
	}
	defer f.Close()
	if err := LoadInto(reg, f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func compileWidget(decl *WidgetDecl) (*widget.Widget, []*widget.Template, error) {
	w := &widget.Widget{ID: decl.ID}
	if decl.Name != nil {
		w.Name = string(*decl.Name)
	}

	var templates []*widget.Template
	for _, stmt := range decl.Body {
		switch {
		case stmt.Canvas != nil:
			c, err := compileCanvas(stmt.Canvas)
			if err != nil {
				return nil, nil, err
			}
			w.Canvas = c
		case stmt.Field != nil:
			f, err := compileField(stmt.Field)
			if err != nil {
				return nil, nil, err
			}
			w.Fields = append(w.Fields, f)
		case stmt.Template != nil:
			t, err := compileTemplate(decl.ID, stmt.Template)
			if err != nil {
				return nil, nil, err
			}
			templates = append(templates, t)
		}
	}
	return w, templates, nil
}

func compileCanvas(decl *CanvasDecl) (widget.Canvas, error) {
	c := widget.Canvas{Width: decl.Width, Height: decl.Height, Unit: decl.Unit}
	for _, p := range decl.Props {
		switch p.Key {
		case "bleed":
			if p.Value == nil || p.Value.Number == nil {
				return c, fmt.Errorf("%s: bleed 需要数字值", p.Pos)
			}
			c.Bleed = *p.Value.Number
		case "safe":
			if p.Value == nil || p.Value.Number == nil {
				return c, fmt.Errorf("%s: safe 需要数字值", p.Pos)
			}
			c.SafeZone = *p.Value.Number
		default:
			return c, fmt.Errorf("%s: canvas 不支持属性 %q", p.Pos, p.Key)
		}
	}
	return c, nil
}

func compileField(decl *FieldDecl) (widget.FieldDefinition, error) {
	kind := widget.FieldKind(decl.Kind)
	if !kind.Valid() {
		return widget.FieldDefinition{}, fmt.Errorf("%s: 未知字段类型 %q", decl.Pos, decl.Kind)
	}
	f := widget.FieldDefinition{ID: decl.ID, Kind: kind}
	for _, p := range decl.Props {
		switch p.Key {
		case "required":
			f.Constraints.Required = true
		case "primary":
			f.Primary = true
		case "label":
			f.Label = p.Value.Text()
		case "default":
			f.Default = p.Value.Text()
		case "maxlength":
			if p.Value == nil || p.Value.Number == nil {
				return f, fmt.Errorf("%s: maxlength 需要数字值", p.Pos)
			}
			f.Constraints.MaxLength = int(*p.Value.Number)
		case "min":
			if p.Value == nil || p.Value.Number == nil {
				return f, fmt.Errorf("%s: min 需要数字值", p.Pos)
			}
			v := *p.Value.Number
			f.Constraints.Min = &v
		case "max":
			if p.Value == nil || p.Value.Number == nil {
				return f, fmt.Errorf("%s: max 需要数字值", p.Pos)
			}
			v := *p.Value.Number
			f.Constraints.Max = &v
		case "choices":
			if p.Value == nil || len(p.Value.List) == 0 {
				return f, fmt.Errorf("%s: choices 需要标识符列表", p.Pos)
			}
			f.Constraints.Choices = p.Value.List
		case "formats":
			if p.Value == nil || len(p.Value.List) == 0 {
				return f, fmt.Errorf("%s: formats 需要标识符列表", p.Pos)
			}
			for _, ext := range p.Value.List {
				f.Constraints.Formats = append(f.Constraints.Formats, strings.ToLower(ext))
			}
		default:
			return f, fmt.Errorf("%s: 字段不支持属性 %q", p.Pos, p.Key)
		}
	}
	return f, nil
}

func compileTemplate(widgetID string, decl *TemplateDecl) (*widget.Template, error) {
	t := &widget.Template{
		ID:       decl.ID,
		WidgetID: widgetID,
		FieldMap: map[string]widget.TemplateFieldConfig{},
	}
	for _, stmt := range decl.Body {
		switch {
		case stmt.Layout != nil:
			t.LayoutMode = *stmt.Layout
		case stmt.Place != nil:
			cfg, err := compilePlace(stmt.Place)
			if err != nil {
				return nil, err
			}
			if _, dup := t.FieldMap[stmt.Place.Field]; dup {
				return nil, fmt.Errorf("%s: 字段 %s 在模板 %s 中重复摆放", stmt.Place.Pos, stmt.Place.Field, decl.ID)
			}
			t.FieldMap[stmt.Place.Field] = cfg
		case stmt.Background != nil:
			bg, err := compileBackground(stmt.Background)
			if err != nil {
				return nil, err
			}
			t.Background = bg
		case stmt.Scheme != nil:
			s, err := compileScheme(stmt.Scheme)
			if err != nil {
				return nil, err
			}
			t.Schemes = append(t.Schemes, s)
		}
	}
	return t, nil
}

func compilePlace(decl *PlaceDecl) (widget.TemplateFieldConfig, error) {
	cfg := widget.TemplateFieldConfig{X: decl.X, Y: decl.Y}
	if decl.Width != nil {
		cfg.Width = *decl.Width
	}
	if decl.Height != nil {
		cfg.Height = *decl.Height
	}
	for _, p := range decl.Props {
		switch p.Key {
		case "hidden":
			cfg.Hidden = true
		case "size":
			if p.Value == nil || p.Value.Number == nil {
				return cfg, fmt.Errorf("%s: size 需要数字值", p.Pos)
			}
			cfg.Style.Size = *p.Value.Number
		case "weight":
			cfg.Style.Weight = p.Value.Text()
		case "align":
			align := widget.Alignment(p.Value.Text())
			switch align {
			case widget.AlignLeft, widget.AlignCenter, widget.AlignRight:
				cfg.Style.Align = align
			default:
				return cfg, fmt.Errorf("%s: 未知对齐方式 %q", p.Pos, p.Value.Text())
			}
		case "color":
			if p.Value == nil || p.Value.Color == nil {
				return cfg, fmt.Errorf("%s: color 需要 #rrggbb 颜色", p.Pos)
			}
			col, err := widget.ParseColor(*p.Value.Color)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", p.Pos, err)
			}
			cfg.Style.Color = &col
		case "transform":
			cfg.Style.Transform = p.Value.Text()
		case "font":
			cfg.Style.Font = p.Value.Text()
		case "fit":
			fit := widget.FitMode(p.Value.Text())
			switch fit {
			case widget.FitContain, widget.FitCover, widget.FitFill:
				cfg.Fit = fit
			default:
				return cfg, fmt.Errorf("%s: 未知装箱方式 %q", p.Pos, p.Value.Text())
			}
		case "icon":
			cfg.Icon = p.Value.Text()
		default:
			return cfg, fmt.Errorf("%s: place 不支持属性 %q", p.Pos, p.Key)
		}
	}
	return cfg, nil
}

func compileBackground(decl *BackgroundDecl) (widget.BackgroundRule, error) {
	switch decl.Kind {
	case "solid":
		if len(decl.Colors) != 1 {
			return widget.BackgroundRule{}, fmt.Errorf("%s: solid 背景需要恰好一个颜色", decl.Pos)
		}
		col, err := widget.ParseColor(decl.Colors[0])
		if err != nil {
			return widget.BackgroundRule{}, fmt.Errorf("%s: %w", decl.Pos, err)
		}
		return widget.BackgroundRule{Kind: widget.BackgroundSolid, Color: col}, nil
	case "gradient":
		if len(decl.Colors) != 2 {
			return widget.BackgroundRule{}, fmt.Errorf("%s: gradient 背景需要两个颜色", decl.Pos)
		}
		from, err := widget.ParseColor(decl.Colors[0])
		if err != nil {
			return widget.BackgroundRule{}, fmt.Errorf("%s: %w", decl.Pos, err)
		}
		to, err := widget.ParseColor(decl.Colors[1])
		if err != nil {
			return widget.BackgroundRule{}, fmt.Errorf("%s: %w", decl.Pos, err)
		}
		return widget.BackgroundRule{Kind: widget.BackgroundGradient, From: from, To: to}, nil
	case "generated":
		if decl.Prompt == nil {
			return widget.BackgroundRule{}, fmt.Errorf("%s: generated 背景需要提示词字符串", decl.Pos)
		}
		return widget.BackgroundRule{Kind: widget.BackgroundImage, Prompt: string(*decl.Prompt)}, nil
	}
	return widget.BackgroundRule{}, fmt.Errorf("%s: 未知背景种类 %q", decl.Pos, decl.Kind)
}

func compileScheme(decl *SchemeDecl) (widget.ColorScheme, error) {
	s := widget.ColorScheme{Name: decl.Name}
	for _, p := range decl.Props {
		if p.Value == nil || p.Value.Color == nil {
			return s, fmt.Errorf("%s: 配色属性 %q 需要 #rrggbb 颜色", p.Pos, p.Key)
		}
		col, err := widget.ParseColor(*p.Value.Color)
		if err != nil {
			return s, fmt.Errorf("%s: %w", p.Pos, err)
		}
		switch p.Key {
		case "background":
			s.Background = col
		case "text":
			s.Text = col
		case "accent":
			s.Accent = &col
		default:
			return s, fmt.Errorf("%s: 配色不支持属性 %q", p.Pos, p.Key)
		}
	}
	return s, nil
}
