package widget

// Registry 持有已加载的部件与模板。实例由组装方构造并显式注入，
// 不提供进程级单例。注册时完成全部交叉校验，之后只读。

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry 是部件/模板的只读仓库（注册完成后）。
type Registry struct {
	mu        sync.RWMutex
	widgets   map[string]*Widget
	templates map[string]*Template
}

// NewRegistry 创建一个空仓库。
func NewRegistry() *Registry {
	return &Registry{
		widgets:   map[string]*Widget{},
		templates: map[string]*Template{},
	}
}

// RegisterWidget 注册部件，id 冲突视为错误。
func (r *Registry) RegisterWidget(w *Widget) error {
	if err := ValidateWidget(w); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.widgets[w.ID]; ok {
		return fmt.Errorf("部件 id 重复: %s", w.ID)
	}
	r.widgets[w.ID] = w
	return nil
}

// RegisterTemplate 注册模板并与所属部件交叉校验。
func (r *Registry) RegisterTemplate(t *Template) error {
	if t == nil {
		return fmt.Errorf("模板不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.widgets[t.WidgetID]
	if !ok {
		return fmt.Errorf("模板 %s 引用了未注册的部件 %s", t.ID, t.WidgetID)
	}
	if err := ValidateTemplate(w, t); err != nil {
		return err
	}
	if _, ok := r.templates[t.ID]; ok {
		return fmt.Errorf("模板 id 重复: %s", t.ID)
	}
	r.templates[t.ID] = t
	if !contains(w.Templates, t.ID) {
		w.Templates = append(w.Templates, t.ID)
	}
	return nil
}

// Widget 按 id 查找部件。
func (r *Registry) Widget(id string) (*Widget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.widgets[id]
	return w, ok
}

// Template 按 id 查找模板。
func (r *Registry) Template(id string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// DefaultTemplate 返回部件的首个模板。
func (r *Registry) DefaultTemplate(widgetID string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.widgets[widgetID]
	if !ok || len(w.Templates) == 0 {
		return nil, false
	}
	t, ok := r.templates[w.Templates[0]]
	return t, ok
}

// WidgetIDs 返回所有部件 id（升序）。
func (r *Registry) WidgetIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.widgets))
	for id := range r.widgets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Document 是 YAML 配置文档的根结构：一个部件与若干模板。
type Document struct {
	Widget    *Widget     `yaml:"widget"`
	Templates []*Template `yaml:"templates"`
}

// LoadDocument 从 YAML 读取并注册一份配置文档。
func (r *Registry) LoadDocument(reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("读取配置文档失败: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("解析配置文档失败: %w", err)
	}
	if doc.Widget == nil {
		return fmt.Errorf("配置文档缺少 widget 段")
	}
	if err := r.RegisterWidget(doc.Widget); err != nil {
		return err
	}
	for _, t := range doc.Templates {
		if t.WidgetID == "" {
			t.WidgetID = doc.Widget.ID
		}
		if err := r.RegisterTemplate(t); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile 从文件读取配置文档。
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("无法打开配置文档 %s: %w", path, err)
	}
	defer f.Close()
	if err := r.LoadDocument(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
