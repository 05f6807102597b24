package export

// 分辨率档位是数据而非行为：{dpi, scale} 具名条目，可被自定义
// 数值覆盖。print 档位表示从基准密度放大到 300dpi。

import (
	"fmt"

	"github.com/ByLCY/vellum/layout"
)

// ResolutionProfile 是一个具名 {dpi, scale} 档位。
type ResolutionProfile struct {
	Name  string  `json:"name" yaml:"name"`
	DPI   float64 `json:"dpi" yaml:"dpi"`
	Scale float64 `json:"scale" yaml:"scale"`
}

// DefaultProfiles 返回内置档位表。调用方可以增删改后注入引擎。
func DefaultProfiles() map[string]ResolutionProfile {
	return map[string]ResolutionProfile{
		"web":    {Name: "web", DPI: 72, Scale: layout.ScaleForDPI(72)},
		"retina": {Name: "retina", DPI: 144, Scale: layout.ScaleForDPI(144)},
		"print":  {Name: "print", DPI: 300, Scale: layout.ScaleForDPI(300)},
	}
}

// resolveScale 依据选项确定缩放比例：自定义 {dpi, scale} 优先，
// 其次具名档位，都缺省时按 web 1x。
func (e *Engine) resolveScale(opts Options) (float64, error) {
	if opts.Scale > 0 {
		return opts.Scale, nil
	}
	if opts.DPI > 0 {
		return layout.ScaleForDPI(opts.DPI), nil
	}
	if opts.Profile != "" {
		p, ok := e.profiles[opts.Profile]
		if !ok {
			return 0, fmt.Errorf("未知的分辨率档位 %q", opts.Profile)
		}
		if p.Scale > 0 {
			return p.Scale, nil
		}
		return layout.ScaleForDPI(p.DPI), nil
	}
	return 1, nil
}
