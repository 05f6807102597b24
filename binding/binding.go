package binding

// 将模板中的 ${...} 占位符替换为当前会话的字段值与设计参数，
// 主要用于 AI 背景提示词与文件名模式。路径不存在时保留原占位符，
// 方便在日志里发现拼写错误。

import (
	"regexp"
	"strings"

	"github.com/ByLCY/vellum/widget"
)

var exprPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Context 是插值可见的数据：字段值、部件信息与设计状态。
type Context struct {
	WidgetID string
	Fields   map[string]string
	Design   widget.DesignState
}

// Interpolate 将 text 中的占位符替换为 ctx 中的值。支持的路径：
//
//	${fields.<id>}       字段当前值
//	${widget.id}         部件 id
//	${design.background} 背景色（#rrggbb）
//	${design.text}       文字色（#rrggbb）
//	${design.scheme}     配色方案名
func Interpolate(text string, ctx Context) string {
	if text == "" {
		return text
	}
	return exprPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := exprPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		path := strings.TrimSpace(groups[1])
		if val, ok := resolve(ctx, path); ok {
			return val
		}
		return match
	})
}

func resolve(ctx Context, path string) (string, bool) {
	head, rest, _ := strings.Cut(path, ".")
	switch head {
	case "fields":
		if rest == "" {
			return "", false
		}
		val, ok := ctx.Fields[rest]
		return val, ok
	case "widget":
		if rest == "id" {
			return ctx.WidgetID, true
		}
	case "design":
		switch rest {
		case "background":
			return ctx.Design.Background.Hex(), true
		case "text":
			return ctx.Design.Text.Hex(), true
		case "accent":
			if ctx.Design.Accent != nil {
				return ctx.Design.Accent.Hex(), true
			}
		case "scheme":
			return ctx.Design.SchemeName, true
		}
	}
	return "", false
}
