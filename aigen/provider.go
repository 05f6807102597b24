// Package aigen wraps AI image providers behind a uniform request/response
// contract with capability flags, retry with backoff, and progress reporting.
package aigen

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Rect 描述生成器必须留白的安全区（画布像素坐标）。
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Request 是一次背景生成请求，值对象，分发后不可变。
type Request struct {
	ID             string  `json:"id"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	AspectRatio    string  `json:"aspectRatio,omitempty"`
	ReferenceImages [][]byte `json:"-"`
	// SafeZones 是生成器需保持干净、供文字叠放的区域。
	SafeZones []Rect `json:"safeZones,omitempty"`
	Seed      *int64 `json:"seed,omitempty"`
}

// GeneratedImage 是单张生成结果。
type GeneratedImage struct {
	Data     []byte
	MimeType string
}

// Response 携带生成图与出处元数据，短暂存在，不进入历史。
type Response struct {
	Images   []GeneratedImage
	Provider string
	Model    string
	UsedSeed int64
	Elapsed  time.Duration
}

// Capabilities 以标志位描述提供方的能力边界，调用方先查标志再调用，
// 不存在可空方法槽。
type Capabilities struct {
	Name                  string
	Model                 string
	MaxWidth              int
	MaxHeight             int
	AspectRatios          []string
	SupportsComposition   bool
	SupportsStyleTransfer bool
	SupportsCostEstimate  bool
}

// Provider 是所有提供方实现的最小接口。
type Provider interface {
	Capabilities() Capabilities
	GenerateImage(ctx context.Context, req Request) (*Response, error)
}

// Composer 是可选的合成能力，仅当 SupportsComposition 为真时实现。
type Composer interface {
	ComposeImage(ctx context.Context, req Request, base []byte) (*Response, error)
}

// StyleTransferrer 是可选的风格迁移能力。
type StyleTransferrer interface {
	StyleTransfer(ctx context.Context, req Request, style []byte) (*Response, error)
}

// Error 携带重试分类的提供方错误。
type Error struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable 判断错误是否值得重试；未分类的错误按不可重试处理。
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// retryableErr / permanentErr 是实现方的便捷构造。
func retryableErr(op string, err error) error { return &Error{Op: op, Retryable: true, Err: err} }
func permanentErr(op string, err error) error { return &Error{Op: op, Retryable: false, Err: err} }
