// Package pipeline coordinates the editing session: it owns the mutable
// state, applies mutations, schedules debounced re-renders, drives
// background generation and keeps the undo/redo history.
package pipeline

import (
	"time"

	"github.com/ByLCY/vellum/render"
	"github.com/ByLCY/vellum/widget"
)

// Status 是会话状态机的当前位置。
type Status string

const (
	StatusIdle       Status = "idle"
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
	StatusRendering  Status = "rendering"
	StatusGenerating Status = "generating"
	StatusExporting  Status = "exporting"
	StatusError      Status = "error"
)

// Snapshot 是字段值与设计状态的不可变快照，供撤销/重做使用。
type Snapshot struct {
	Fields map[string]string
	Design widget.DesignState
	Taken  time.Time
}

func newSnapshot(fields map[string]string, design widget.DesignState) Snapshot {
	return Snapshot{
		Fields: cloneValues(fields),
		Design: design.Clone(),
		Taken:  time.Now(),
	}
}

// State 是对外发布的会话状态。订阅者与 GetState 拿到的都是副本，
// 修改副本不会影响会话。Rendered 指向最近一帧产物，随下次渲染作废。
type State struct {
	Status     Status
	WidgetID   string
	TemplateID string

	Fields map[string]string
	Design widget.DesignState

	// Dirty 表示最近一次变更尚未体现在渲染产物中。
	Dirty bool
	// Issues 是当前字段值的校验结果，阻断级错误会拒绝导出。
	Issues []widget.FieldError
	// Skipped 记录上一帧中被跳过的字段。
	Skipped []render.FieldSkip

	Rendered *render.RenderedOutput

	// LastError 保留最近一次生成/渲染失败的描述，供界面展示。
	LastError string
	// Progress 是生成进度（0-100），仅在 generating 期间推进。
	Progress int

	CanUndo bool
	CanRedo bool
}

// clone 深拷贝可变部分。渲染产物按只读约定共享。
func (s State) clone() State {
	out := s
	out.Fields = cloneValues(s.Fields)
	out.Design = s.Design.Clone()
	out.Issues = append([]widget.FieldError(nil), s.Issues...)
	out.Skipped = append([]render.FieldSkip(nil), s.Skipped...)
	return out
}

func cloneValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// DesignPatch 是对设计状态的增量修改，nil 字段保持原值。
// Scheme 按名称套用模板配色，在其余字段之前生效。
type DesignPatch struct {
	Scheme          *string
	Background      *widget.Color
	Text            *widget.Color
	Accent          *widget.Color
	Secondary       *widget.Color
	BackgroundImage []byte
	// ClearBackgroundImage 移除已有背景图。
	ClearBackgroundImage bool
}
