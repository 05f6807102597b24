package render

// 字体装载与缓存。字体以 FontSource 注入（字节或路径），
// 找不到具名字体时退回系统无衬线字体，再不行才报错。

import (
	"fmt"
	"os"
	"sync"

	"github.com/tdewolff/canvas"

	"github.com/ByLCY/vellum/widget"
)

// FontSource 提供一个字体家族的来源，Bytes 优先于 Path。
type FontSource struct {
	Bytes []byte
	Path  string
	// BoldBytes/BoldPath 为可选的粗体面来源。
	BoldBytes []byte
	BoldPath  string
}

type fontCache struct {
	mu       sync.Mutex
	sources  map[string]FontSource
	families map[string]*canvas.FontFamily
	fallback *canvas.FontFamily
}

func newFontCache(sources map[string]FontSource) *fontCache {
	fc := &fontCache{
		sources:  map[string]FontSource{},
		families: map[string]*canvas.FontFamily{},
	}
	for name, src := range sources {
		if name == "" {
			continue
		}
		fc.sources[name] = src
	}
	return fc
}

// face 解析出指定字号/颜色/字重的字体面。size 为画布单位（像素）。
func (fc *fontCache) face(name, weight string, sizePx float64, col widget.Color) (*canvas.FontFace, error) {
	family, err := fc.family(name)
	if err != nil {
		return nil, err
	}
	style := canvas.FontRegular
	if weight == "bold" {
		style = canvas.FontBold
	}
	return family.Face(toPt(sizePx), rgba(col), style, canvas.FontNormal), nil
}

func (fc *fontCache) family(name string) (*canvas.FontFamily, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if name == "" {
		return fc.fallbackFamily()
	}
	if family, ok := fc.families[name]; ok {
		return family, nil
	}
	src, ok := fc.sources[name]
	if !ok {
		// 模板引用了未注入的字体：退回默认字体而不是渲染失败。
		return fc.fallbackFamily()
	}

	family := canvas.NewFontFamily(name)
	data, err := fontBytes(src.Bytes, src.Path)
	if err != nil {
		return nil, fmt.Errorf("装载字体 %s 失败: %w", name, err)
	}
	if err := family.LoadFont(data, 0, canvas.FontRegular); err != nil {
		return nil, fmt.Errorf("装载字体 %s 失败: %w", name, err)
	}
	if bold, err := fontBytes(src.BoldBytes, src.BoldPath); err == nil && bold != nil {
		// 粗体面装载失败不致命，Face 会做合成加粗。
		_ = family.LoadFont(bold, 0, canvas.FontBold)
	}
	fc.families[name] = family
	return family, nil
}

func (fc *fontCache) fallbackFamily() (*canvas.FontFamily, error) {
	if fc.fallback != nil {
		return fc.fallback, nil
	}
	family := canvas.NewFontFamily("vellum-default")
	var lastErr error
	for _, sysName := range []string{"sans-serif", "DejaVu Sans", "Arial"} {
		if err := family.LoadSystemFont(sysName, canvas.FontRegular); err == nil {
			fc.fallback = family
			return family, nil
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("没有可用的默认字体: %w", lastErr)
}

func fontBytes(data []byte, path string) ([]byte, error) {
	if len(data) > 0 {
		return data, nil
	}
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
