package dsl_test

import (
	"strings"
	"testing"

	"github.com/ByLCY/vellum/dsl"
	"github.com/ByLCY/vellum/widget"
)

const sampleDSL = `
// 名片部件：两个文本字段、一个图片字段与两套版式。
widget business-card "Business Card" {
  canvas 1050 600 px { bleed: 24; safe: 48 }

  field name text {
    label: "Full name"
    required; primary
    maxlength: 40
  }
  field title text { label: "Job title" }
  field age number { min: 0; max: 120 }
  field logo image { formats: [png, jpg] }
  field website generated { label: "Website QR" }

  template modern {
    layout grid
    place name at 40 60 size 400 80 {
      size: 32; weight: bold; align: left; color: #1A2B3C; transform: upper
    }
    place title at 40 150 size 400 40 { size: 18 }
    place logo at 800 60 size 180 180 { fit: contain }
    background gradient #FFFFFF #E8ECF4
    scheme dark { background: #10131A; text: #F2F4F8; accent: #4488FF }
  }

  template minimal {
    place name at 525 260 size 600 90 { size: 40; align: center }
    background solid #FAFAF7
  }
}
`

func TestParseDocument(t *testing.T) {
	doc, err := dsl.ParseString(sampleDSL)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(doc.Widgets) != 1 {
		t.Fatalf("expected 1 widget, got %d", len(doc.Widgets))
	}

	decl := doc.Widgets[0]
	if decl.ID != "business-card" {
		t.Fatalf("expected widget id business-card, got %s", decl.ID)
	}
	if decl.Name == nil || string(*decl.Name) != "Business Card" {
		t.Fatalf("expected display name, got %+v", decl.Name)
	}

	var canvas *dsl.CanvasDecl
	var fields []*dsl.FieldDecl
	var templates []*dsl.TemplateDecl
	for _, stmt := range decl.Body {
		switch {
		case stmt.Canvas != nil:
			canvas = stmt.Canvas
		case stmt.Field != nil:
			fields = append(fields, stmt.Field)
		case stmt.Template != nil:
			templates = append(templates, stmt.Template)
		}
	}

	if canvas == nil || canvas.Width != 1050 || canvas.Height != 600 || canvas.Unit != "px" {
		t.Fatalf("unexpected canvas: %+v", canvas)
	}
	if len(fields) != 5 {
		t.Fatalf("expected 5 fields, got %d", len(fields))
	}
	if fields[0].ID != "name" || fields[0].Kind != "text" {
		t.Fatalf("unexpected first field: %+v", fields[0])
	}
	if len(templates) != 2 || templates[0].ID != "modern" || templates[1].ID != "minimal" {
		t.Fatalf("unexpected templates: %d", len(templates))
	}

	var place *dsl.PlaceDecl
	for _, stmt := range templates[0].Body {
		if stmt.Place != nil && stmt.Place.Field == "name" {
			place = stmt.Place
		}
	}
	if place == nil {
		t.Fatalf("modern template missing name placement")
	}
	if place.X != 40 || place.Y != 60 || place.Width == nil || *place.Width != 400 {
		t.Fatalf("unexpected placement: %+v", place)
	}
}

func TestCompileProducesWidgetModel(t *testing.T) {
	doc, err := dsl.ParseString(sampleDSL)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	widgets, templates, err := dsl.Compile(doc)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if len(widgets) != 1 || len(templates) != 2 {
		t.Fatalf("expected 1 widget and 2 templates, got %d/%d", len(widgets), len(templates))
	}

	w := widgets[0]
	if w.Canvas.Bleed != 24 || w.Canvas.SafeZone != 48 {
		t.Fatalf("unexpected canvas guides: %+v", w.Canvas)
	}
	name, ok := w.Field("name")
	if !ok {
		t.Fatalf("name field missing")
	}
	if !name.Constraints.Required || !name.Primary || name.Constraints.MaxLength != 40 {
		t.Fatalf("name constraints not compiled: %+v", name)
	}
	age, _ := w.Field("age")
	if age.Constraints.Min == nil || *age.Constraints.Min != 0 || age.Constraints.Max == nil || *age.Constraints.Max != 120 {
		t.Fatalf("age range not compiled: %+v", age.Constraints)
	}
	logo, _ := w.Field("logo")
	if len(logo.Constraints.Formats) != 2 || logo.Constraints.Formats[0] != "png" {
		t.Fatalf("logo formats not compiled: %+v", logo.Constraints.Formats)
	}

	modern := templates[0]
	if modern.WidgetID != "business-card" || modern.LayoutMode != "grid" {
		t.Fatalf("unexpected template header: %+v", modern)
	}
	cfg := modern.FieldMap["name"]
	if cfg.Style.Size != 32 || cfg.Style.Weight != "bold" || cfg.Style.Transform != "upper" {
		t.Fatalf("name style not compiled: %+v", cfg.Style)
	}
	if cfg.Style.Color == nil || cfg.Style.Color.Hex() != "#1a2b3c" {
		t.Fatalf("name color not compiled: %+v", cfg.Style.Color)
	}
	if modern.Background.Kind != widget.BackgroundGradient {
		t.Fatalf("expected gradient background, got %s", modern.Background.Kind)
	}
	dark, ok := modern.Scheme("dark")
	if !ok || dark.Text.Hex() != "#f2f4f8" || dark.Accent == nil {
		t.Fatalf("dark scheme not compiled: %+v", dark)
	}

	minimal := templates[1]
	if minimal.Background.Kind != widget.BackgroundSolid || minimal.Background.Color.Hex() != "#fafaf7" {
		t.Fatalf("solid background not compiled: %+v", minimal.Background)
	}
	if minimal.FieldMap["name"].Style.Align != widget.AlignCenter {
		t.Fatalf("center alignment not compiled")
	}
}

func TestLoadIntoRegistersEverything(t *testing.T) {
	reg := widget.NewRegistry()
	if err := dsl.LoadInto(reg, strings.NewReader(sampleDSL)); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	w, ok := reg.Widget("business-card")
	if !ok {
		t.Fatalf("widget not registered")
	}
	if len(w.Templates) != 2 {
		t.Fatalf("expected widget to reference 2 templates, got %v", w.Templates)
	}
	if _, ok := reg.Template("modern"); !ok {
		t.Fatalf("modern template not registered")
	}
	if dt, ok := reg.DefaultTemplate("business-card"); !ok || dt.ID != "modern" {
		t.Fatalf("default template should be the first declared one")
	}
}

func TestCompileRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "unknown field kind",
			src:  `widget w { canvas 100 100 field a blob }`,
			want: "未知字段类型",
		},
		{
			name: "gradient missing second color",
			src:  `widget w { canvas 100 100 field a text template t { background gradient #FFF } }`,
			want: "gradient",
		},
		{
			name: "generated without prompt",
			src:  `widget w { canvas 100 100 field a text template t { background generated } }`,
			want: "提示词",
		},
		{
			name: "duplicate placement",
			src:  `widget w { canvas 100 100 field a text template t { place a at 0 0 place a at 1 1 } }`,
			want: "重复摆放",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := dsl.ParseString(tc.src)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if _, _, err := dsl.Compile(doc); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadIntoRejectsOrphanPlacement(t *testing.T) {
	src := `widget w { canvas 100 100 field a text template t { place ghost at 0 0 } }`
	reg := widget.NewRegistry()
	err := dsl.LoadInto(reg, strings.NewReader(src))
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("orphan placement should fail registration, got %v", err)
	}
}
