package render

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/ByLCY/vellum/widget"
)

func testWidget() *widget.Widget {
	return &widget.Widget{
		ID:     "business-card",
		Canvas: widget.Canvas{Width: 210, Height: 120, SafeZone: 8, Bleed: 4},
		Fields: []widget.FieldDefinition{
			{ID: "name", Kind: widget.FieldText, Primary: true},
			{ID: "photo", Kind: widget.FieldImage},
			{ID: "website", Kind: widget.FieldGenerated},
		},
	}
}

func testTemplate() *widget.Template {
	return &widget.Template{
		ID:       "classic",
		WidgetID: "business-card",
		FieldMap: map[string]widget.TemplateFieldConfig{
			"name":    {X: 10, Y: 12, Width: 120, Style: widget.TextStyle{Size: 12, Align: widget.AlignLeft}},
			"photo":   {X: 150, Y: 10, Width: 48, Height: 48, Fit: widget.FitContain},
			"website": {X: 150, Y: 64, Width: 40, Height: 40},
		},
		Background: widget.BackgroundRule{Kind: widget.BackgroundSolid, Color: widget.Color{R: 240, G: 240, B: 235}},
	}
}

func testInput() Input {
	return Input{
		Widget:   testWidget(),
		Template: testTemplate(),
		Values:   map[string]string{"website": "https://example.com"},
		Design: widget.DesignState{
			Background: widget.Color{R: 240, G: 240, B: 235},
			Text:       widget.Color{R: 20, G: 20, B: 20},
		},
	}
}

func TestRenderRequiresBoundSurface(t *testing.T) {
	e := NewEngine(Options{})
	if _, err := e.Render(testInput(), QualityPreview); err == nil {
		t.Fatalf("expected error without a bound surface")
	}
}

func TestRenderProducesExpectedDimensions(t *testing.T) {
	e := NewEngine(Options{})
	s, err := NewSurface(testWidget().Canvas, 1)
	if err != nil {
		t.Fatalf("surface: %v", err)
	}
	e.Bind(s)

	out, err := e.Render(testInput(), QualityPreview)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if out.Width != 210 || out.Height != 120 {
		t.Fatalf("expected 210x120, got %dx%d", out.Width, out.Height)
	}
	if len(out.PreviewPNG) == 0 {
		t.Fatalf("expected encoded preview")
	}
	if decoded, err := png.Decode(bytes.NewReader(out.PreviewPNG)); err != nil {
		t.Fatalf("preview is not valid PNG: %v", err)
	} else if decoded.Bounds().Dx() != 210 {
		t.Fatalf("preview width mismatch: %d", decoded.Bounds().Dx())
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	e := NewEngine(Options{})
	s, _ := NewSurface(testWidget().Canvas, 1)
	e.Bind(s)

	in := testInput()
	first, err := e.Render(in, QualityPreview)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	second, err := e.Render(in, QualityPreview)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !bytes.Equal(first.PreviewPNG, second.PreviewPNG) {
		t.Fatalf("repeated renders must be pixel-identical")
	}
}

func TestRenderSkipsUnloadedImageField(t *testing.T) {
	e := NewEngine(Options{})
	s, _ := NewSurface(testWidget().Canvas, 1)
	e.Bind(s)

	in := testInput()
	in.Values["photo"] = "upload:avatar"

	out, err := e.Render(in, QualityPreview)
	if err != nil {
		t.Fatalf("render must not fail on a pending image: %v", err)
	}
	found := false
	for _, skip := range out.Skipped {
		if skip.FieldID == "photo" && strings.Contains(skip.Reason, "尚未加载") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected photo to be skipped, got %+v", out.Skipped)
	}

	// 位图驻留后同一字段不再被跳过。
	pngBytes := encodeTestPNG(t, 32, 32)
	if err := e.AddAsset("upload:avatar", pngBytes); err != nil {
		t.Fatalf("add asset: %v", err)
	}
	out, err = e.Render(in, QualityPreview)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	for _, skip := range out.Skipped {
		if skip.FieldID == "photo" {
			t.Fatalf("photo should draw once resident: %+v", out.Skipped)
		}
	}
}

func TestAddAssetRejectsGarbage(t *testing.T) {
	e := NewEngine(Options{})
	if err := e.AddAsset("bad", []byte("not an image")); err == nil {
		t.Fatalf("expected decode failure")
	}
	s, _ := NewSurface(testWidget().Canvas, 1)
	e.Bind(s)
	in := testInput()
	in.Values["photo"] = "bad"
	out, err := e.Render(in, QualityPreview)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	found := false
	for _, skip := range out.Skipped {
		if skip.FieldID == "photo" && strings.Contains(skip.Reason, "解码失败") {
			found = true
		}
	}
	if !found {
		t.Fatalf("broken asset should surface a decode skip, got %+v", out.Skipped)
	}
}

func TestRenderScaledDoesNotTouchBinding(t *testing.T) {
	e := NewEngine(Options{})
	bound, _ := NewSurface(testWidget().Canvas, 1)
	e.Bind(bound)

	out, err := e.RenderScaled(testInput(), 2)
	if err != nil {
		t.Fatalf("scaled render failed: %v", err)
	}
	if out.Width != 420 || out.Height != 240 {
		t.Fatalf("expected 420x240 at scale 2, got %dx%d", out.Width, out.Height)
	}
	if e.Surface() != bound {
		t.Fatalf("scaled render must not rebind the preview surface")
	}
	if out.Quality != QualityExport {
		t.Fatalf("scaled render is an export pass, got %s", out.Quality)
	}
}

func TestRenderGuidesOverlay(t *testing.T) {
	e := NewEngine(Options{})
	out, err := e.RenderGuides(testWidget(), testTemplate(), GuideOptions{FieldOutlines: true, SafeZone: true, Bleed: true}, 1)
	if err != nil {
		t.Fatalf("guides render failed: %v", err)
	}
	if out.Width != 210 || out.Height != 120 {
		t.Fatalf("unexpected overlay dims %dx%d", out.Width, out.Height)
	}
	// 叠加层必须保留透明像素（只描边）。
	img := out.Image
	center := img.RGBAAt(img.Bounds().Dx()/2, img.Bounds().Dy()/2)
	if center.A != 0 {
		t.Fatalf("overlay center should stay transparent, got %+v", center)
	}
}

func TestApplyTransform(t *testing.T) {
	if got := applyTransform("avery chen", "upper"); got != "AVERY CHEN" {
		t.Fatalf("upper: %q", got)
	}
	if got := applyTransform("AVERY", "lower"); got != "avery" {
		t.Fatalf("lower: %q", got)
	}
	if got := applyTransform("avery chen", "title"); got != "Avery Chen" {
		t.Fatalf("title: %q", got)
	}
	if got := applyTransform("as-is", ""); got != "as-is" {
		t.Fatalf("no transform: %q", got)
	}
}
