package aigen

// Gemini 图像生成提供方，走 REST 接口（generateContent，
// responseModalities 带 IMAGE）。错误按 HTTP 状态分类：
// 网络错误与 429/5xx 视为瞬态，4xx 视为永久。

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiModel 是默认的图像生成模型。
const GeminiModel = "gemini-3-pro-image-preview"

// Gemini 实现 Provider。
type Gemini struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewGemini 创建 Gemini 提供方。model 为空时取 GeminiModel。
func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = GeminiModel
	}
	return &Gemini{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			// 图像生成通常需要 10-30s。
			Timeout: 120 * time.Second,
		},
	}
}

// Capabilities 返回该提供方的能力边界。
func (g *Gemini) Capabilities() Capabilities {
	return Capabilities{
		Name:                "gemini",
		Model:               g.model,
		MaxWidth:            2048,
		MaxHeight:           2048,
		AspectRatios:        []string{"1:1", "4:3", "3:4", "16:9", "9:16"},
		SupportsComposition: true,
		SupportsCostEstimate: true,
	}
}

// --- REST 请求/响应结构 ---

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlobData `json:"inlineData,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiBlobData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GenerateImage 发起一次生成调用。
func (g *Gemini) GenerateImage(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	parts := []geminiPart{{Text: buildPrompt(req)}}
	for _, ref := range req.ReferenceImages {
		parts = append(parts, geminiPart{
			InlineData: &geminiBlobData{
				MIMEType: "image/png",
				Data:     base64.StdEncoding.EncodeToString(ref),
			},
		})
	}
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	})
	if err != nil {
		return nil, permanentErr("gemini", fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", geminiBaseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, permanentErr("gemini", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		// 网络层失败（含超时）视为瞬态。
		return nil, retryableErr("gemini", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryableErr("gemini", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retryableErr("gemini", err)
		}
		return nil, permanentErr("gemini", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, retryableErr("gemini", fmt.Errorf("parse response: %w", err))
	}
	if parsed.Error != nil {
		return nil, permanentErr("gemini", fmt.Errorf("API error: %s (code %d)", parsed.Error.Message, parsed.Error.Code))
	}

	out := &Response{Provider: "gemini", Model: g.model, Elapsed: time.Since(start)}
	if req.Seed != nil {
		out.UsedSeed = *req.Seed
	}
	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, permanentErr("gemini", fmt.Errorf("decode image data: %w", err))
			}
			out.Images = append(out.Images, GeneratedImage{Data: decoded, MimeType: part.InlineData.MIMEType})
		}
	}
	if len(out.Images) == 0 {
		return nil, retryableErr("gemini", fmt.Errorf("no image returned in response"))
	}
	return out, nil
}

// buildPrompt 把请求折叠为单段提示词：负面提示与安全区以自然语言附加。
func buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(req.Prompt)
	fmt.Fprintf(&sb, "\n\nTarget size: %dx%d pixels.", req.Width, req.Height)
	if req.NegativePrompt != "" {
		fmt.Fprintf(&sb, "\nAvoid: %s.", req.NegativePrompt)
	}
	for _, z := range req.SafeZones {
		fmt.Fprintf(&sb, "\nKeep the region at (%.0f,%.0f) size %.0fx%.0f visually clean for text overlay.", z.X, z.Y, z.W, z.H)
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
