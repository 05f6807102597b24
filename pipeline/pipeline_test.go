package pipeline_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ByLCY/vellum/aigen"
	"github.com/ByLCY/vellum/export"
	"github.com/ByLCY/vellum/pipeline"
	"github.com/ByLCY/vellum/render"
	"github.com/ByLCY/vellum/widget"
)

func testWidget() *widget.Widget {
	return &widget.Widget{
		ID:     "card",
		Name:   "Card",
		Canvas: widget.Canvas{Width: 300, Height: 200},
		Fields: []widget.FieldDefinition{
			{ID: "note", Kind: widget.FieldText, Constraints: widget.Constraints{Required: true}, Primary: true},
			{ID: "qty", Kind: widget.FieldNumber},
		},
	}
}

func testTemplate() *widget.Template {
	return &widget.Template{
		ID:       "plain",
		WidgetID: "card",
		FieldMap: map[string]widget.TemplateFieldConfig{
			"note": {X: 20, Y: 30, Width: 200, Height: 40, Style: widget.TextStyle{Size: 16}},
			"qty":  {X: 20, Y: 90, Width: 100, Height: 30, Style: widget.TextStyle{Size: 12}},
		},
		Background: widget.BackgroundRule{Kind: widget.BackgroundSolid, Color: widget.Color{R: 240, G: 240, B: 240}},
		Schemes: []widget.ColorScheme{
			{Name: "light", Background: widget.Color{R: 250, G: 250, B: 250}, Text: widget.Color{R: 20, G: 20, B: 20}},
			{Name: "dark", Background: widget.Color{R: 16, G: 16, B: 16}, Text: widget.Color{R: 240, G: 240, B: 240}},
		},
	}
}

type fixture struct {
	engine *pipeline.Engine
	fake   *aigen.Fake
}

func newFixture(t *testing.T, cfg pipeline.Config) *fixture {
	t.Helper()
	reg := widget.NewRegistry()
	if err := reg.RegisterWidget(testWidget()); err != nil {
		t.Fatalf("register widget: %v", err)
	}
	if err := reg.RegisterTemplate(testTemplate()); err != nil {
		t.Fatalf("register template: %v", err)
	}

	renderer := render.NewEngine(render.Options{})
	exporter := export.NewEngine(renderer, nil)
	fake := &aigen.Fake{}
	orch := aigen.NewOrchestrator(fake, aigen.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})

	e := pipeline.NewEngine(reg, renderer, exporter, orch, cfg)
	t.Cleanup(e.Dispose)
	return &fixture{engine: e, fake: fake}
}

func TestInitializeEstablishesSession(t *testing.T) {
	f := newFixture(t, pipeline.Config{})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	st := f.engine.GetState()
	if st.Status != pipeline.StatusReady {
		t.Fatalf("expected ready, got %s", st.Status)
	}
	if st.WidgetID != "card" || st.TemplateID != "plain" {
		t.Fatalf("unexpected session ids: %s/%s", st.WidgetID, st.TemplateID)
	}
	if st.Rendered == nil || st.Rendered.Width != 300 || st.Rendered.Height != 200 {
		t.Fatalf("first frame missing or wrong size: %+v", st.Rendered)
	}
	// 首套配色作为初始设计状态。
	if st.Design.Background != (widget.Color{R: 250, G: 250, B: 250}) {
		t.Fatalf("unexpected initial design: %+v", st.Design)
	}
}

func TestInitializeUnknownWidgetStaysIdle(t *testing.T) {
	f := newFixture(t, pipeline.Config{})
	if err := f.engine.Initialize("ghost", ""); err == nil {
		t.Fatalf("expected load error")
	}
	if st := f.engine.GetState(); st.Status != pipeline.StatusIdle {
		t.Fatalf("failed load must leave the session idle, got %s", st.Status)
	}
}

func TestInitializeRejectsForeignTemplate(t *testing.T) {
	f := newFixture(t, pipeline.Config{})
	err := f.engine.Initialize("card", "ghost-template")
	if err == nil || !strings.Contains(err.Error(), "ghost-template") {
		t.Fatalf("expected template load error, got %v", err)
	}
}

func TestUndoRedoSymmetry(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: 5 * time.Millisecond})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	initial := f.engine.GetState()

	const n = 5
	for i := 1; i <= n; i++ {
		if err := f.engine.UpdateFields(map[string]string{"note": fmt.Sprintf("rev-%d", i)}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	dark := "dark"
	if err := f.engine.UpdateDesign(pipeline.DesignPatch{Scheme: &dark}); err != nil {
		t.Fatalf("design update: %v", err)
	}
	final := f.engine.GetState()
	if final.Fields["note"] != "rev-5" || final.Design.SchemeName != "dark" {
		t.Fatalf("unexpected final state: %+v", final.Fields)
	}

	for i := 0; i < n+1; i++ {
		f.engine.Undo()
	}
	back := f.engine.GetState()
	if diff := cmp.Diff(initial.Fields, back.Fields); diff != "" {
		t.Fatalf("undo did not restore initial fields (-want +got):\n%s", diff)
	}
	if back.Design.SchemeName != initial.Design.SchemeName {
		t.Fatalf("undo did not restore design: %+v", back.Design)
	}

	// 撤销栈已空：再撤销是空操作。
	f.engine.Undo()
	if diff := cmp.Diff(back.Fields, f.engine.GetState().Fields); diff != "" {
		t.Fatalf("undo past the oldest snapshot must be a no-op:\n%s", diff)
	}

	for i := 0; i < n+1; i++ {
		f.engine.Redo()
	}
	fwd := f.engine.GetState()
	if diff := cmp.Diff(final.Fields, fwd.Fields); diff != "" {
		t.Fatalf("redo did not restore final fields (-want +got):\n%s", diff)
	}
	if fwd.Design.SchemeName != "dark" {
		t.Fatalf("redo did not restore design scheme: %+v", fwd.Design)
	}

	// 重做栈已空：再重做是空操作。
	f.engine.Redo()
	if diff := cmp.Diff(fwd.Fields, f.engine.GetState().Fields); diff != "" {
		t.Fatalf("redo with empty future stack must be a no-op:\n%s", diff)
	}
}

func TestMutationClearsRedoStack(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: 5 * time.Millisecond})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.engine.UpdateFields(map[string]string{"note": "a"})
	f.engine.UpdateFields(map[string]string{"note": "b"})
	f.engine.Undo()
	if st := f.engine.GetState(); !st.CanRedo {
		t.Fatalf("undo should enable redo")
	}
	f.engine.UpdateFields(map[string]string{"note": "c"})
	if st := f.engine.GetState(); st.CanRedo {
		t.Fatalf("a new mutation must clear the redo stack")
	}
}

func TestHistoryCapDropsOldest(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: 5 * time.Millisecond, HistoryLimit: 10})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for i := 1; i <= 15; i++ {
		f.engine.UpdateFields(map[string]string{"note": fmt.Sprintf("rev-%d", i)})
	}
	for i := 0; i < 50; i++ {
		f.engine.Undo()
	}
	// 栈上限 10：最多回到第 5 次变更，而不是初始状态。
	if got := f.engine.GetState().Fields["note"]; got != "rev-5" {
		t.Fatalf("expected bounded history to stop at rev-5, got %q", got)
	}
}

func TestDebounceCollapsesMutations(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: 40 * time.Millisecond})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var mu sync.Mutex
	renders := 0
	unsubscribe := f.engine.Subscribe(func(st pipeline.State) {
		mu.Lock()
		defer mu.Unlock()
		if st.Status == pipeline.StatusRendering {
			renders++
		}
	})
	defer unsubscribe()

	for i := 1; i <= 5; i++ {
		if err := f.engine.UpdateFields(map[string]string{"note": fmt.Sprintf("rev-%d", i)}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	got := renders
	mu.Unlock()
	if got != 1 {
		t.Fatalf("5 rapid mutations must collapse into exactly 1 render, got %d", got)
	}
	st := f.engine.GetState()
	if st.Dirty {
		t.Fatalf("state should be clean after the collapsed render")
	}
	if st.Fields["note"] != "rev-5" {
		t.Fatalf("render must reflect the last mutation, got %q", st.Fields["note"])
	}
}

func TestFlushRunsPendingRender(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: time.Hour})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.engine.UpdateFields(map[string]string{"note": "now"})
	if st := f.engine.GetState(); !st.Dirty {
		t.Fatalf("mutation should mark state dirty")
	}
	f.engine.Flush()
	if st := f.engine.GetState(); st.Dirty {
		t.Fatalf("flush should run the pending render")
	}
}

func TestSubscriberPanicIsolation(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: time.Hour})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var mu sync.Mutex
	second := 0
	f.engine.Subscribe(func(pipeline.State) { panic("boom") })
	f.engine.Subscribe(func(pipeline.State) {
		mu.Lock()
		second++
		mu.Unlock()
	})
	f.engine.UpdateFields(map[string]string{"note": "x"})

	mu.Lock()
	defer mu.Unlock()
	if second == 0 {
		t.Fatalf("a panicking subscriber must not starve the others")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: time.Hour})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var mu sync.Mutex
	calls := 0
	unsubscribe := f.engine.Subscribe(func(pipeline.State) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	f.engine.UpdateFields(map[string]string{"note": "x"})
	unsubscribe()
	mu.Lock()
	before := calls
	mu.Unlock()
	f.engine.UpdateFields(map[string]string{"note": "y"})
	mu.Lock()
	defer mu.Unlock()
	if calls != before {
		t.Fatalf("unsubscribed listener still received %d notifications", calls-before)
	}
}

func TestGenerateBackgroundFoldsImageAndIsUndoable(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: 5 * time.Millisecond})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.engine.UpdateFields(map[string]string{"note": "Avery"})

	if err := f.engine.GenerateBackground(context.Background(), "abstract texture for ${fields.note}"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := f.engine.GetState()
	if st.Status != pipeline.StatusReady || len(st.Design.BackgroundImage) == 0 {
		t.Fatalf("generated image not folded into design: status=%s bytes=%d", st.Status, len(st.Design.BackgroundImage))
	}
	if f.fake.Calls != 1 {
		t.Fatalf("expected a single provider call, got %d", f.fake.Calls)
	}

	f.engine.Undo()
	if st := f.engine.GetState(); len(st.Design.BackgroundImage) != 0 {
		t.Fatalf("undo should remove the generated background")
	}
	f.engine.Redo()
	if st := f.engine.GetState(); len(st.Design.BackgroundImage) == 0 {
		t.Fatalf("redo should restore the generated background")
	}
}

func TestGenerateBackgroundFailureRecoversToReady(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: 5 * time.Millisecond})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.fake.PermanentFailure = true

	var mu sync.Mutex
	sawError := false
	f.engine.Subscribe(func(st pipeline.State) {
		mu.Lock()
		defer mu.Unlock()
		if st.Status == pipeline.StatusError {
			sawError = true
		}
	})

	if err := f.engine.GenerateBackground(context.Background(), "anything"); err == nil {
		t.Fatalf("expected generation failure")
	}
	st := f.engine.GetState()
	if st.Status != pipeline.StatusReady {
		t.Fatalf("pipeline must auto-recover to ready, got %s", st.Status)
	}
	if st.LastError == "" {
		t.Fatalf("classified error must be retained for display")
	}
	mu.Lock()
	defer mu.Unlock()
	if !sawError {
		t.Fatalf("subscribers must observe the error transition")
	}
}

func TestExportReadsSnapshotAndNamesDeterministically(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: 5 * time.Millisecond})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.engine.UpdateFields(map[string]string{"note": "Avery Chen"})

	res, err := f.engine.Export(export.Options{Format: export.FormatPNG})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Filename != "card-avery-chen.png" {
		t.Fatalf("unexpected filename: %s", res.Filename)
	}
	if res.Width != 300 || res.Height != 200 {
		t.Fatalf("unexpected export dimensions: %dx%d", res.Width, res.Height)
	}
	if st := f.engine.GetState(); st.Status != pipeline.StatusReady {
		t.Fatalf("export must return the session to ready, got %s", st.Status)
	}

	again, err := f.engine.Export(export.Options{Format: export.FormatPNG})
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if again.Filename != res.Filename {
		t.Fatalf("same state must export the same filename: %s vs %s", res.Filename, again.Filename)
	}
}

func TestExportBlockedByValidationErrors(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: 5 * time.Millisecond})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	// note 为必填且为空：阻断级错误应拒绝导出，但不妨碍预览。
	if _, err := f.engine.Export(export.Options{Format: export.FormatPNG}); err == nil {
		t.Fatalf("blocking validation errors must refuse export")
	}
	if st := f.engine.GetState(); st.Rendered == nil {
		t.Fatalf("preview rendering must not be blocked by validation errors")
	}
}

func TestExportAllReportsPerFormatErrors(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: 5 * time.Millisecond})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.engine.UpdateFields(map[string]string{"note": "Avery"})

	results, errs := f.engine.ExportAll(export.Options{}, []export.Format{export.FormatPNG, export.FormatWebP})
	if len(results) != 1 {
		t.Fatalf("png export should survive the webp failure, got %d results", len(results))
	}
	if _, ok := errs[export.FormatWebP]; !ok {
		t.Fatalf("webp failure must be reported per format: %v", errs)
	}
}

func TestDisposeEndsSession(t *testing.T) {
	f := newFixture(t, pipeline.Config{Debounce: time.Hour})
	if err := f.engine.Initialize("card", ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.engine.UpdateFields(map[string]string{"note": "x"})
	f.engine.Dispose()
	if st := f.engine.GetState(); st.Status != pipeline.StatusIdle {
		t.Fatalf("disposed session should report idle, got %s", st.Status)
	}
	if err := f.engine.UpdateFields(map[string]string{"note": "y"}); err == nil {
		t.Fatalf("mutations after dispose must fail")
	}
	if err := f.engine.Initialize("card", ""); err == nil {
		t.Fatalf("initialize after dispose must fail")
	}
}
