package aigen

// Fake 是离线提供方：依据提示词哈希确定性地合成一张渐变背景图。
// 测试与 CLI 的离线模式使用它。

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"time"
)

// Fake 实现 Provider，结果完全由请求内容决定。
type Fake struct {
	// FailTimes 前 N 次调用返回瞬态错误，用于测试重试路径。
	FailTimes int
	// PermanentFailure 为真时每次调用都返回永久错误。
	PermanentFailure bool
	// Calls 记录实际分发次数。
	Calls int

	MaxWidth  int
	MaxHeight int
}

// Capabilities 返回能力边界（未设置时 1600x1600）。
func (f *Fake) Capabilities() Capabilities {
	mw, mh := f.MaxWidth, f.MaxHeight
	if mw == 0 {
		mw = 1600
	}
	if mh == 0 {
		mh = 1600
	}
	return Capabilities{
		Name:                 "fake",
		Model:                "fake-gradient-v1",
		MaxWidth:             mw,
		MaxHeight:            mh,
		SupportsCostEstimate: true,
	}
}

// GenerateImage 合成确定性的渐变图。
func (f *Fake) GenerateImage(ctx context.Context, req Request) (*Response, error) {
	f.Calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.PermanentFailure {
		return nil, permanentErr("fake", fmt.Errorf("provider rejected the request"))
	}
	if f.Calls <= f.FailTimes {
		return nil, retryableErr("fake", fmt.Errorf("simulated transient failure %d", f.Calls))
	}

	start := time.Now()
	h := fnv.New32a()
	h.Write([]byte(req.Prompt))
	seed := h.Sum32()

	img := image.NewRGBA(image.Rect(0, 0, req.Width, req.Height))
	top := color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255}
	bottom := color.RGBA{R: top.B, G: top.R, B: top.G, A: 255}
	for y := 0; y < req.Height; y++ {
		t := float64(y) / float64(max(req.Height-1, 1))
		row := color.RGBA{
			R: uint8(float64(top.R) + (float64(bottom.R)-float64(top.R))*t),
			G: uint8(float64(top.G) + (float64(bottom.G)-float64(top.G))*t),
			B: uint8(float64(top.B) + (float64(bottom.B)-float64(top.B))*t),
			A: 255,
		}
		for x := 0; x < req.Width; x++ {
			img.SetRGBA(x, y, row)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, permanentErr("fake", err)
	}
	return &Response{
		Images:   []GeneratedImage{{Data: buf.Bytes(), MimeType: "image/png"}},
		Provider: "fake",
		Model:    "fake-gradient-v1",
		UsedSeed: int64(seed),
		Elapsed:  time.Since(start),
	}, nil
}
