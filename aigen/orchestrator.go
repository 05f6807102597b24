package aigen

// 编排器：请求先过能力校验再分发；瞬态失败按指数退避重试到固定
// 上限，永久失败立即返回；取消后不再发起新尝试，迟到的结果丢弃。
// 进度上报单调递增（0-100）。

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ProgressFunc 接收 0-100 的进度值。
type ProgressFunc func(percent int)

// Config 调整重试策略，零值取默认。
type Config struct {
	MaxAttempts int           // 默认 3
	BaseDelay   time.Duration // 默认 2s，按尝试次数翻倍
	MaxDelay    time.Duration // 默认 30s
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	return c
}

// Orchestrator 包装一个提供方。
type Orchestrator struct {
	provider Provider
	cfg      Config

	onProgress ProgressFunc
	lastPct    int
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(provider Provider, cfg Config) *Orchestrator {
	return &Orchestrator{provider: provider, cfg: cfg.withDefaults()}
}

// Capabilities 透出提供方能力。
func (o *Orchestrator) Capabilities() Capabilities { return o.provider.Capabilities() }

// OnProgress 注册进度回调。
func (o *Orchestrator) OnProgress(fn ProgressFunc) { o.onProgress = fn }

// emit 保证进度只增不减。
func (o *Orchestrator) emit(pct int) {
	if pct < o.lastPct {
		return
	}
	if pct > 100 {
		pct = 100
	}
	o.lastPct = pct
	if o.onProgress != nil {
		o.onProgress(pct)
	}
}

// ValidateRequest 在任何网络分发之前校验请求与能力边界，
// 错误信息指明越界的维度。
func (o *Orchestrator) ValidateRequest(req Request) error {
	caps := o.provider.Capabilities()
	if req.Prompt == "" {
		return permanentErr("validate", fmt.Errorf("提示词为空"))
	}
	if req.Width <= 0 || req.Height <= 0 {
		return permanentErr("validate", fmt.Errorf("目标尺寸非法: %dx%d", req.Width, req.Height))
	}
	if caps.MaxWidth > 0 && req.Width > caps.MaxWidth {
		return permanentErr("validate", fmt.Errorf("width %d 超过提供方上限 %d", req.Width, caps.MaxWidth))
	}
	if caps.MaxHeight > 0 && req.Height > caps.MaxHeight {
		return permanentErr("validate", fmt.Errorf("height %d 超过提供方上限 %d", req.Height, caps.MaxHeight))
	}
	return nil
}

// Generate 执行一次带重试的生成。
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	o.lastPct = 0
	o.emit(0)

	if err := o.ValidateRequest(req); err != nil {
		return nil, err
	}
	o.emit(5)

	caps := o.provider.Capabilities()
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// 分发前推进进度：校验后到完成前的区间按尝试均分。
		o.emit(5 + (attempt-1)*90/o.cfg.MaxAttempts)

		log.Info().
			Str("request", req.ID).
			Str("provider", caps.Name).
			Int("attempt", attempt).
			Int("width", req.Width).
			Int("height", req.Height).
			Msg("dispatching generation request")

		resp, err := o.provider.GenerateImage(ctx, req)
		if err == nil {
			o.emit(100)
			log.Info().
				Str("request", req.ID).
				Dur("elapsed", resp.Elapsed).
				Int("images", len(resp.Images)).
				Msg("generation complete")
			return resp, nil
		}
		lastErr = err

		// 调用方已取消：丢弃结果，不再尝试。
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryable(err) {
			log.Warn().Str("request", req.ID).Err(err).Msg("permanent generation failure")
			return nil, err
		}
		if attempt == o.cfg.MaxAttempts {
			break
		}

		delay := o.backoff(attempt)
		log.Warn().
			Str("request", req.ID).
			Int("attempt", attempt).
			Dur("nextRetry", delay).
			Err(err).
			Msg("transient generation failure, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, permanentErr("generate", fmt.Errorf("重试 %d 次后仍失败: %w", o.cfg.MaxAttempts, lastErr))
}

// backoff 返回第 attempt 次失败后的等待时长（指数退避，封顶）。
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > o.cfg.MaxDelay {
			return o.cfg.MaxDelay
		}
	}
	if delay > o.cfg.MaxDelay {
		delay = o.cfg.MaxDelay
	}
	return delay
}

// Cost 是本地估算出的生成开销。
type Cost struct {
	Credits  float64 `json:"credits"`
	Currency string  `json:"currency"`
}

// EstimateCost 纯本地计算：按目标百万像素数计费，引用图加成。
// 不发起任何网络调用，也不会阻塞。
func (o *Orchestrator) EstimateCost(req Request) Cost {
	megapixels := float64(req.Width) * float64(req.Height) / 1e6
	credits := 0.5 + megapixels*0.25
	credits += float64(len(req.ReferenceImages)) * 0.1
	return Cost{Credits: credits, Currency: "credit"}
}
