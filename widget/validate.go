package widget

// 加载期与编辑期的校验逻辑。模板与部件的交叉校验只在加载时执行一次，
// 渲染路径信任这里的结果。

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Severity 区分校验结果的严重程度：error 阻止导出，warning 仅提示。
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// FieldError 是针对单个字段的校验结果。
type FieldError struct {
	FieldID  string   `json:"fieldId"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("字段 %s: %s", e.FieldID, e.Message)
}

// HasBlocking 判断结果集中是否存在阻止导出的错误。
func HasBlocking(errs []FieldError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateWidget 校验部件定义自身：画布尺寸、字段 id 唯一性与类型合法性。
func ValidateWidget(w *Widget) error {
	if w == nil {
		return fmt.Errorf("部件不能为空")
	}
	if w.ID == "" {
		return fmt.Errorf("部件缺少 id")
	}
	if w.Canvas.Width <= 0 || w.Canvas.Height <= 0 {
		return fmt.Errorf("部件 %s 画布尺寸非法: %gx%g", w.ID, w.Canvas.Width, w.Canvas.Height)
	}
	seen := make(map[string]bool, len(w.Fields))
	for _, f := range w.Fields {
		if f.ID == "" {
			return fmt.Errorf("部件 %s 存在缺少 id 的字段", w.ID)
		}
		if seen[f.ID] {
			return fmt.Errorf("部件 %s 字段 id 重复: %s", w.ID, f.ID)
		}
		seen[f.ID] = true
		if !f.Kind.Valid() {
			return fmt.Errorf("部件 %s 字段 %s 类型未知: %s", w.ID, f.ID, f.Kind)
		}
	}
	return nil
}

// ValidateTemplate 校验模板与部件的对应关系。
// 模板 FieldMap 引用了部件上不存在的字段 id（孤儿条目）视为加载错误，
// 不做静默忽略。
func ValidateTemplate(w *Widget, t *Template) error {
	if t == nil {
		return fmt.Errorf("模板不能为空")
	}
	if t.ID == "" {
		return fmt.Errorf("模板缺少 id")
	}
	if t.WidgetID != "" && w != nil && t.WidgetID != w.ID {
		return fmt.Errorf("模板 %s 属于部件 %s，不能用于 %s", t.ID, t.WidgetID, w.ID)
	}
	for fieldID, cfg := range t.FieldMap {
		if w != nil {
			if _, ok := w.Field(fieldID); !ok {
				return fmt.Errorf("模板 %s 引用了部件 %s 上不存在的字段 %s", t.ID, w.ID, fieldID)
			}
		}
		if cfg.Style.Size < 0 {
			return fmt.Errorf("模板 %s 字段 %s 字号为负", t.ID, fieldID)
		}
	}
	if t.Background.Kind == "" {
		return fmt.Errorf("模板 %s 缺少背景规则", t.ID)
	}
	return nil
}

// ValidateValues 对当前字段值做逐字段校验，返回结果集而非首个错误，
// 供界面按字段展示。缺失的必填字段为 error；超长/超范围同样为 error；
// 未在定义中出现的值键为 warning（可能来自旧预设）。
func ValidateValues(w *Widget, values map[string]string) []FieldError {
	var errs []FieldError
	if w == nil {
		return errs
	}
	for _, f := range w.Fields {
		val, ok := values[f.ID]
		if (!ok || strings.TrimSpace(val) == "") && f.Constraints.Required {
			errs = append(errs, FieldError{FieldID: f.ID, Severity: SeverityError, Message: "必填字段为空"})
			continue
		}
		if !ok || val == "" {
			continue
		}
		errs = append(errs, validateValue(f, val)...)
	}
	for id := range values {
		if _, ok := w.Field(id); !ok {
			errs = append(errs, FieldError{FieldID: id, Severity: SeverityWarning, Message: "字段未在部件中定义，将被忽略"})
		}
	}
	return errs
}

func validateValue(f FieldDefinition, val string) []FieldError {
	var errs []FieldError
	c := f.Constraints
	if c.MaxLength > 0 && len([]rune(val)) > c.MaxLength {
		errs = append(errs, FieldError{
			FieldID:  f.ID,
			Severity: SeverityError,
			Message:  fmt.Sprintf("长度 %d 超过上限 %d", len([]rune(val)), c.MaxLength),
		})
	}
	switch f.Kind {
	case FieldNumber:
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			errs = append(errs, FieldError{FieldID: f.ID, Severity: SeverityError, Message: "不是合法数字"})
			break
		}
		if c.Min != nil && n < *c.Min {
			errs = append(errs, FieldError{FieldID: f.ID, Severity: SeverityError, Message: fmt.Sprintf("小于下限 %g", *c.Min)})
		}
		if c.Max != nil && n > *c.Max {
			errs = append(errs, FieldError{FieldID: f.ID, Severity: SeverityError, Message: fmt.Sprintf("大于上限 %g", *c.Max)})
		}
	case FieldChoice:
		if len(c.Choices) > 0 && !contains(c.Choices, val) {
			errs = append(errs, FieldError{FieldID: f.ID, Severity: SeverityError, Message: fmt.Sprintf("取值 %q 不在可选项内", val)})
		}
	case FieldImage:
		if len(c.Formats) > 0 {
			ext := strings.TrimPrefix(strings.ToLower(path.Ext(val)), ".")
			if !contains(c.Formats, ext) {
				errs = append(errs, FieldError{FieldID: f.ID, Severity: SeverityError, Message: fmt.Sprintf("图片格式 %q 不受支持", ext)})
			}
		}
	case FieldToggle:
		if val != "true" && val != "false" {
			errs = append(errs, FieldError{FieldID: f.ID, Severity: SeverityWarning, Message: "开关字段应为 true/false"})
		}
	}
	return errs
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
