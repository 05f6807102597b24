package pipeline

// 管线引擎是会话状态的唯一写入方。变更在调用顺序下生效；
// 渲染经防抖合并，防抖计时器在每次变更时重置而非顺延，
// 因此任何一帧都反映计时器到期前的最后一次变更。

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ByLCY/vellum/aigen"
	"github.com/ByLCY/vellum/binding"
	"github.com/ByLCY/vellum/export"
	"github.com/ByLCY/vellum/layout"
	"github.com/ByLCY/vellum/render"
	"github.com/ByLCY/vellum/widget"
)

// Config 调整管线行为，零值取默认。
type Config struct {
	// Debounce 是变更到渲染之间的防抖窗口，默认 150ms。
	Debounce time.Duration
	// HistoryLimit 是撤销栈上限，超出时丢弃最旧快照，默认 100。
	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 150 * time.Millisecond
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	return c
}

// Engine 协调仓库、渲染、导出与生成。所有公开方法可并发调用，
// 内部串行化到同一把锁上。
type Engine struct {
	reg      *widget.Registry
	renderer *render.Engine
	exporter *export.Engine
	orch     *aigen.Orchestrator
	cfg      Config

	mu       sync.Mutex
	state    State
	widget   *widget.Widget
	template *widget.Template
	guides   *render.GuideOptions

	past   []Snapshot
	future []Snapshot

	// renderToken 在每次变更时递增，使挂起的防抖渲染失效。
	renderToken   uint64
	renderTimer   *time.Timer
	renderPending bool

	genCancel context.CancelFunc
	disposed  bool

	subMu  sync.Mutex
	subs   map[int]func(State)
	subSeq int
}

// NewEngine 创建管线引擎。
func NewEngine(reg *widget.Registry, renderer *render.Engine, exporter *export.Engine, orch *aigen.Orchestrator, cfg Config) *Engine {
	e := &Engine{
		reg:      reg,
		renderer: renderer,
		exporter: exporter,
		orch:     orch,
		cfg:      cfg.withDefaults(),
		subs:     map[int]func(State){},
	}
	e.state.Status = StatusIdle
	return e
}

// commit 在持锁状态下固化当前状态并返回发布用副本。
func (e *Engine) commit() State {
	e.state.CanUndo = len(e.past) > 0
	e.state.CanRedo = len(e.future) > 0
	return e.state.clone()
}

// publish 依注册顺序同步通知订阅者；单个订阅者 panic 不影响其余。
func (e *Engine) publish(snaps ...State) {
	e.subMu.Lock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.subs[id])
	}
	e.subMu.Unlock()

	for _, snap := range snaps {
		for _, fn := range fns {
			notify(fn, snap)
		}
	}
}

func notify(fn func(State), snap State) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("subscriber panicked")
		}
	}()
	fn(snap)
}

// Subscribe 注册订阅者，返回注销函数。
func (e *Engine) Subscribe(fn func(State)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.subSeq
	e.subSeq++
	e.subs[id] = fn
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subs, id)
	}
}

// GetState 返回当前状态的不可变副本。
func (e *Engine) GetState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commit()
}

// Initialize 加载部件与模板并建立会话。失败时会话停留在 idle，
// 错误同步返回给调用方。
func (e *Engine) Initialize(widgetID, presetID string) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return fmt.Errorf("管线已释放")
	}
	e.state = State{Status: StatusLoading, WidgetID: widgetID}
	loading := e.commit()
	e.mu.Unlock()
	e.publish(loading)

	e.mu.Lock()
	fail := func(err error) error {
		e.state = State{Status: StatusIdle}
		snap := e.commit()
		e.mu.Unlock()
		e.publish(snap)
		return err
	}

	w, ok := e.reg.Widget(widgetID)
	if !ok {
		return fail(fmt.Errorf("部件不存在: %s", widgetID))
	}
	var tmpl *widget.Template
	if presetID != "" {
		t, ok := e.reg.Template(presetID)
		if !ok {
			return fail(fmt.Errorf("模板不存在: %s", presetID))
		}
		if t.WidgetID != widgetID {
			return fail(fmt.Errorf("模板 %s 不属于部件 %s", presetID, widgetID))
		}
		tmpl = t
	} else {
		t, ok := e.reg.DefaultTemplate(widgetID)
		if !ok {
			return fail(fmt.Errorf("部件 %s 没有可用模板", widgetID))
		}
		tmpl = t
	}

	surface, err := render.NewSurface(w.Canvas, 1)
	if err != nil {
		return fail(err)
	}
	e.renderer.Bind(surface)

	e.widget = w
	e.template = tmpl
	e.past = nil
	e.future = nil
	e.state = State{
		Status:     StatusReady,
		WidgetID:   w.ID,
		TemplateID: tmpl.ID,
		Fields:     w.Defaults(),
		Design:     defaultDesign(tmpl),
	}
	e.state.Issues = widget.ValidateValues(w, e.state.Fields)

	// 首帧同步渲染，之后的重绘都走防抖路径。
	snaps := e.renderLocked()
	e.mu.Unlock()
	e.publish(snaps...)
	return nil
}

// UpdateFields 合并字段值变更。变更前的状态先入撤销栈，
// 因此一次撤销恰好回到变更前。
func (e *Engine) UpdateFields(values map[string]string) error {
	e.mu.Lock()
	if e.widget == nil {
		e.mu.Unlock()
		return fmt.Errorf("会话未初始化")
	}
	e.pushHistory()
	for k, v := range values {
		e.state.Fields[k] = v
	}
	e.state.Dirty = true
	e.state.Issues = widget.ValidateValues(e.widget, e.state.Fields)
	e.scheduleRenderLocked()
	snap := e.commit()
	e.mu.Unlock()
	e.publish(snap)
	return nil
}

// UpdateDesign 应用设计状态补丁。Scheme 先于其余字段生效。
func (e *Engine) UpdateDesign(patch DesignPatch) error {
	e.mu.Lock()
	if e.widget == nil {
		e.mu.Unlock()
		return fmt.Errorf("会话未初始化")
	}
	if patch.Scheme != nil {
		s, ok := e.template.Scheme(*patch.Scheme)
		if !ok {
			e.mu.Unlock()
			return fmt.Errorf("模板 %s 没有配色 %s", e.template.ID, *patch.Scheme)
		}
		e.pushHistory()
		e.state.Design.ApplyScheme(s)
	} else {
		e.pushHistory()
	}
	if patch.Background != nil {
		e.state.Design.Background = *patch.Background
	}
	if patch.Text != nil {
		e.state.Design.Text = *patch.Text
	}
	if patch.Accent != nil {
		accent := *patch.Accent
		e.state.Design.Accent = &accent
	}
	if patch.Secondary != nil {
		secondary := *patch.Secondary
		e.state.Design.Secondary = &secondary
	}
	if patch.ClearBackgroundImage {
		e.state.Design.BackgroundImage = nil
	} else if patch.BackgroundImage != nil {
		e.state.Design.BackgroundImage = append([]byte(nil), patch.BackgroundImage...)
	}
	e.state.Dirty = true
	e.scheduleRenderLocked()
	snap := e.commit()
	e.mu.Unlock()
	e.publish(snap)
	return nil
}

// SetGuides 切换参考线叠加层并重绘。参考线不进入历史。
func (e *Engine) SetGuides(opts *render.GuideOptions) {
	e.mu.Lock()
	if e.widget == nil {
		e.mu.Unlock()
		return
	}
	e.guides = opts
	e.scheduleRenderLocked()
	snap := e.commit()
	e.mu.Unlock()
	e.publish(snap)
}

// Undo 回退一步；撤销栈为空时为空操作（不通知）。
func (e *Engine) Undo() {
	e.mu.Lock()
	if len(e.past) == 0 {
		e.mu.Unlock()
		return
	}
	e.future = append(e.future, newSnapshot(e.state.Fields, e.state.Design))
	snap := e.past[len(e.past)-1]
	e.past = e.past[:len(e.past)-1]
	e.applyLocked(snap)
	out := e.commit()
	e.mu.Unlock()
	e.publish(out)
}

// Redo 重做一步；重做栈为空时为空操作。
func (e *Engine) Redo() {
	e.mu.Lock()
	if len(e.future) == 0 {
		e.mu.Unlock()
		return
	}
	e.past = append(e.past, newSnapshot(e.state.Fields, e.state.Design))
	snap := e.future[len(e.future)-1]
	e.future = e.future[:len(e.future)-1]
	e.applyLocked(snap)
	out := e.commit()
	e.mu.Unlock()
	e.publish(out)
}

// applyLocked 整体套用快照并安排重绘。
func (e *Engine) applyLocked(snap Snapshot) {
	e.state.Fields = cloneValues(snap.Fields)
	e.state.Design = snap.Design.Clone()
	e.state.Dirty = true
	e.state.Issues = widget.ValidateValues(e.widget, e.state.Fields)
	e.scheduleRenderLocked()
}

// pushHistory 把变更前的状态压入撤销栈并清空重做栈。
func (e *Engine) pushHistory() {
	e.past = append(e.past, newSnapshot(e.state.Fields, e.state.Design))
	if len(e.past) > e.cfg.HistoryLimit {
		e.past = append([]Snapshot(nil), e.past[1:]...)
	}
	e.future = nil
}

// scheduleRenderLocked 重置防抖计时器。令牌递增使已挂起的渲染失效，
// 保证没有携带旧字段值的帧落地。
func (e *Engine) scheduleRenderLocked() {
	e.renderToken++
	token := e.renderToken
	e.renderPending = true
	if e.renderTimer != nil {
		e.renderTimer.Stop()
	}
	e.renderTimer = time.AfterFunc(e.cfg.Debounce, func() {
		e.renderDebounced(token)
	})
}

func (e *Engine) renderDebounced(token uint64) {
	e.mu.Lock()
	if e.disposed || token != e.renderToken {
		e.mu.Unlock()
		return
	}
	e.renderPending = false
	snaps := e.renderLocked()
	e.mu.Unlock()
	e.publish(snaps...)
}

// Flush 立即执行挂起的防抖渲染；没有挂起渲染时为空操作。
func (e *Engine) Flush() {
	e.mu.Lock()
	if e.disposed || !e.renderPending {
		e.mu.Unlock()
		return
	}
	e.renderToken++
	if e.renderTimer != nil {
		e.renderTimer.Stop()
	}
	e.renderPending = false
	snaps := e.renderLocked()
	e.mu.Unlock()
	e.publish(snaps...)
}

// renderLocked 在持锁状态下渲染一帧。渲染失败不致命：保留上一帧
// 产物，错误记入状态。返回需要发布的状态序列。
func (e *Engine) renderLocked() []State {
	e.state.Status = StatusRendering
	before := e.commit()

	out, err := e.renderer.Render(e.renderInputLocked(), render.QualityPreview)
	if err != nil {
		e.state.LastError = err.Error()
		log.Warn().Str("widget", e.state.WidgetID).Err(err).Msg("render pass failed")
	} else {
		e.state.Rendered = out
		e.state.Skipped = out.Skipped
		e.state.Dirty = false
		e.state.LastError = ""
	}
	e.state.Status = StatusReady
	return []State{before, e.commit()}
}

func (e *Engine) renderInputLocked() render.Input {
	return render.Input{
		Widget:   e.widget,
		Template: e.template,
		Values:   cloneValues(e.state.Fields),
		Design:   e.state.Design.Clone(),
		Guides:   e.guides,
	}
}

// GenerateBackground 委托编排器生成背景图。成功时图片折入设计状态
// 并安排重绘；失败时进入 error 态保留错误，再自动恢复到 ready。
func (e *Engine) GenerateBackground(ctx context.Context, prompt string) error {
	e.mu.Lock()
	if e.widget == nil {
		e.mu.Unlock()
		return fmt.Errorf("会话未初始化")
	}
	if e.orch == nil {
		e.mu.Unlock()
		return fmt.Errorf("未配置生成编排器")
	}
	if e.state.Status == StatusGenerating {
		e.mu.Unlock()
		return fmt.Errorf("已有生成请求进行中")
	}

	genCtx, cancel := context.WithCancel(ctx)
	e.genCancel = cancel
	e.state.Status = StatusGenerating
	e.state.Progress = 0
	req := aigen.Request{
		Prompt: binding.Interpolate(prompt, binding.Context{
			WidgetID: e.widget.ID,
			Fields:   cloneValues(e.state.Fields),
			Design:   e.state.Design,
		}),
		Width:     int(e.widget.Canvas.Width),
		Height:    int(e.widget.Canvas.Height),
		SafeZones: e.safeZonesLocked(),
	}
	snap := e.commit()
	e.mu.Unlock()
	e.publish(snap)

	e.orch.OnProgress(func(pct int) { e.setProgress(pct) })
	resp, err := e.orch.Generate(genCtx, req)
	cancel()

	e.mu.Lock()
	e.genCancel = nil
	if e.disposed {
		e.mu.Unlock()
		return err
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// 取消只放弃本次请求，既有状态不回滚。
			e.state.Status = StatusReady
			snap := e.commit()
			e.mu.Unlock()
			e.publish(snap)
			return err
		}
		e.state.Status = StatusError
		e.state.LastError = err.Error()
		failed := e.commit()
		// 自动恢复到 ready，编辑可以继续，错误保留展示。
		e.state.Status = StatusReady
		recovered := e.commit()
		e.mu.Unlock()
		e.publish(failed, recovered)
		return err
	}

	e.pushHistory()
	e.state.Design.BackgroundImage = resp.Images[0].Data
	e.state.Progress = 100
	e.state.Dirty = true
	e.state.LastError = ""
	e.state.Status = StatusReady
	e.scheduleRenderLocked()
	done := e.commit()
	e.mu.Unlock()
	e.publish(done)
	return nil
}

// CancelGeneration 放弃进行中的生成请求。
func (e *Engine) CancelGeneration() {
	e.mu.Lock()
	cancel := e.genCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) setProgress(pct int) {
	e.mu.Lock()
	if e.state.Status != StatusGenerating {
		e.mu.Unlock()
		return
	}
	e.state.Progress = pct
	snap := e.commit()
	e.mu.Unlock()
	e.publish(snap)
}

// safeZonesLocked 把模板中可见文本字段的落位框交给生成器留白。
func (e *Engine) safeZonesLocked() []aigen.Rect {
	var zones []aigen.Rect
	for _, f := range e.widget.Fields {
		cfg, ok := e.template.FieldMap[f.ID]
		if !ok || cfg.Hidden {
			continue
		}
		switch f.Kind {
		case widget.FieldText, widget.FieldParagraph, widget.FieldNumber, widget.FieldChoice:
			box := layout.Resolve(cfg, f.Kind, 1)
			zones = append(zones, aigen.Rect{X: box.X, Y: box.Y, W: box.Width, H: box.Height})
		}
	}
	return zones
}

// Export 按当前状态导出一帧。导出读取调用时刻的快照，之后的变更
// 不影响产物；阻断级校验错误拒绝导出。
func (e *Engine) Export(opts export.Options) (*export.Result, error) {
	input, err := e.beginExport()
	if err != nil {
		return nil, err
	}
	res, exportErr := e.exporter.Export(input, opts)
	e.endExport(exportErr)
	return res, exportErr
}

// ExportAll 对每个格式各导出一次，错误按格式独立上报。
func (e *Engine) ExportAll(base export.Options, formats []export.Format) ([]*export.Result, map[export.Format]error) {
	input, err := e.beginExport()
	if err != nil {
		errs := map[export.Format]error{}
		for _, f := range formats {
			errs[f] = err
		}
		return nil, errs
	}
	results, errs := e.exporter.ExportMultiple(input, base, formats)
	var first error
	for _, err := range errs {
		first = err
		break
	}
	e.endExport(first)
	return results, errs
}

func (e *Engine) beginExport() (render.Input, error) {
	e.mu.Lock()
	if e.widget == nil {
		e.mu.Unlock()
		return render.Input{}, fmt.Errorf("会话未初始化")
	}
	if e.exporter == nil {
		e.mu.Unlock()
		return render.Input{}, fmt.Errorf("未配置导出引擎")
	}
	if widget.HasBlocking(e.state.Issues) {
		e.mu.Unlock()
		return render.Input{}, fmt.Errorf("字段校验未通过，导出被阻断")
	}
	e.state.Status = StatusExporting
	input := e.renderInputLocked()
	input.Guides = nil
	snap := e.commit()
	e.mu.Unlock()
	e.publish(snap)
	return input, nil
}

func (e *Engine) endExport(err error) {
	e.mu.Lock()
	e.state.Status = StatusReady
	if err != nil {
		e.state.LastError = err.Error()
	}
	snap := e.commit()
	e.mu.Unlock()
	e.publish(snap)
}

// Reset 把 error 态显式恢复到 ready。
func (e *Engine) Reset() {
	e.mu.Lock()
	if e.state.Status != StatusError {
		e.mu.Unlock()
		return
	}
	e.state.Status = StatusReady
	e.state.LastError = ""
	snap := e.commit()
	e.mu.Unlock()
	e.publish(snap)
}

// Dispose 结束会话：取消进行中的生成，清除挂起的渲染计时器，
// 释放栅格面。之后的调用都会失败。
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.renderToken++
	e.renderPending = false
	if e.renderTimer != nil {
		e.renderTimer.Stop()
	}
	cancel := e.genCancel
	e.state = State{Status: StatusIdle}
	e.widget = nil
	e.template = nil
	e.past = nil
	e.future = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.renderer.Bind(nil)
}

// defaultDesign 从模板背景与首套配色推导初始设计状态。
func defaultDesign(t *widget.Template) widget.DesignState {
	d := widget.DesignState{
		Background: widget.Color{R: 255, G: 255, B: 255},
		Text:       widget.Color{R: 0, G: 0, B: 0},
	}
	switch t.Background.Kind {
	case widget.BackgroundSolid:
		d.Background = t.Background.Color
	case widget.BackgroundGradient:
		d.Background = t.Background.From
	}
	if len(t.Schemes) > 0 {
		d.ApplyScheme(t.Schemes[0])
	}
	return d
}
