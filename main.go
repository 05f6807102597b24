package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ByLCY/vellum/aigen"
	"github.com/ByLCY/vellum/dsl"
	"github.com/ByLCY/vellum/export"
	"github.com/ByLCY/vellum/logging"
	"github.com/ByLCY/vellum/pipeline"
	"github.com/ByLCY/vellum/render"
	"github.com/ByLCY/vellum/widget"
)

var (
	docFlag      string
	widgetFlag   string
	templateFlag string
	setFlags     []string
	assetFlags   []string

	outFlag    string
	guidesFlag bool

	formatsFlag string
	profileFlag string
	dpiFlag     float64
	scaleFlag   float64
	outDirFlag  string
	titleFlag   string

	promptFlag   string
	providerFlag string
	modelFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "vellum",
	Short: "模板驱动的内容合成管线",
	Long: `Vellum 把部件/模板描述与字段值合成为栅格画面，并按分辨率档位
导出为 PNG/JPG/PDF/SVG。背景图可以交给 AI 生成。

部件文档既支持 YAML（.yaml/.yml），也支持紧凑 DSL（.vellum）。

示例:
  vellum render --doc card.vellum --set name="Avery Chen" --out preview.png
  vellum export --doc card.vellum --set name="Avery Chen" --profile print --formats png,pdf
  vellum generate --doc card.vellum --prompt "warm paper texture" --out bg.png`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&docFlag, "doc", "", "部件文档路径（YAML 或 DSL）")
	rootCmd.PersistentFlags().StringVarP(&widgetFlag, "widget", "w", "", "部件 id（文档只含一个部件时可省略）")
	rootCmd.PersistentFlags().StringVarP(&templateFlag, "template", "t", "", "模板 id（默认取部件的首个模板）")
	rootCmd.PersistentFlags().StringArrayVar(&setFlags, "set", nil, "字段值，形如 key=value，可重复")
	rootCmd.PersistentFlags().StringArrayVar(&assetFlags, "asset", nil, "图片字段资源，形如 值=文件路径，可重复")

	renderCmd.Flags().StringVarP(&outFlag, "out", "o", "preview.png", "预览 PNG 输出路径")
	renderCmd.Flags().BoolVar(&guidesFlag, "guides", false, "叠加字段轮廓与安全区/出血参考线")

	exportCmd.Flags().StringVar(&formatsFlag, "formats", "png", "导出格式列表，逗号分隔（png,jpg,pdf,svg）")
	exportCmd.Flags().StringVar(&profileFlag, "profile", "", "分辨率档位（web/retina/print）")
	exportCmd.Flags().Float64Var(&dpiFlag, "dpi", 0, "自定义 DPI（覆盖档位）")
	exportCmd.Flags().Float64Var(&scaleFlag, "scale", 0, "自定义缩放（覆盖 DPI 与档位）")
	exportCmd.Flags().StringVar(&outDirFlag, "out-dir", "output", "导出目录")
	exportCmd.Flags().StringVar(&titleFlag, "title", "", "写入文件元信息的标题（PDF）")

	generateCmd.Flags().StringVarP(&promptFlag, "prompt", "p", "", "背景生成提示词，支持 ${fields.x} 占位符")
	generateCmd.Flags().StringVar(&providerFlag, "provider", "fake", "生成提供方（fake/gemini）")
	generateCmd.Flags().StringVar(&modelFlag, "model", "", "提供方模型名（留空取默认）")
	generateCmd.Flags().StringVarP(&outFlag, "out", "o", "preview.png", "渲染结果输出路径")

	rootCmd.AddCommand(renderCmd, exportCmd, generateCmd, widgetsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "渲染一帧预览并写出 PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(nil)
		if err != nil {
			return err
		}
		defer sess.engine.Dispose()

		if guidesFlag {
			sess.engine.SetGuides(&render.GuideOptions{FieldOutlines: true, SafeZone: true, Bleed: true})
		}
		sess.engine.Flush()

		st := sess.engine.GetState()
		if st.Rendered == nil {
			return fmt.Errorf("渲染没有产出帧: %s", st.LastError)
		}
		reportSkips(st)
		if err := writeFile(outFlag, st.Rendered.PreviewPNG); err != nil {
			return err
		}
		fmt.Printf("已写出预览：%s（%dx%d）\n", outFlag, st.Rendered.Width, st.Rendered.Height)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "按分辨率档位导出一个或多个格式",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(nil)
		if err != nil {
			return err
		}
		defer sess.engine.Dispose()

		var formats []export.Format
		for _, f := range strings.Split(formatsFlag, ",") {
			if f = strings.TrimSpace(f); f != "" {
				formats = append(formats, export.Format(f))
			}
		}
		if len(formats) == 0 {
			return fmt.Errorf("没有指定导出格式")
		}

		opts := export.Options{Profile: profileFlag, DPI: dpiFlag, Scale: scaleFlag}
		if titleFlag != "" {
			opts.Meta = &export.Metadata{Title: titleFlag}
		}
		results, errs := sess.engine.ExportAll(opts, formats)
		for f, err := range errs {
			log.Warn().Str("format", string(f)).Err(err).Msg("该格式导出失败")
		}
		if err := os.MkdirAll(outDirFlag, 0o755); err != nil {
			return fmt.Errorf("创建导出目录失败: %w", err)
		}
		for _, res := range results {
			path := filepath.Join(outDirFlag, res.Filename)
			if err := os.WriteFile(path, res.Data, 0o644); err != nil {
				return fmt.Errorf("写入 %s 失败: %w", path, err)
			}
			fmt.Printf("已导出：%s（%dx%d，%d 字节）\n", path, res.Width, res.Height, res.ByteSize)
		}
		if len(results) == 0 {
			return fmt.Errorf("所有格式均导出失败")
		}
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "生成 AI 背景并渲染预览",
	RunE: func(cmd *cobra.Command, args []string) error {
		if promptFlag == "" {
			return fmt.Errorf("generate 需要 --prompt")
		}
		provider, err := newProvider()
		if err != nil {
			return err
		}
		sess, err := newSession(provider)
		if err != nil {
			return err
		}
		defer sess.engine.Dispose()

		if err := sess.engine.GenerateBackground(context.Background(), promptFlag); err != nil {
			return fmt.Errorf("背景生成失败: %w", err)
		}
		sess.engine.Flush()

		st := sess.engine.GetState()
		if st.Rendered == nil {
			return fmt.Errorf("渲染没有产出帧: %s", st.LastError)
		}
		if err := writeFile(outFlag, st.Rendered.PreviewPNG); err != nil {
			return err
		}
		fmt.Printf("已写出带生成背景的预览：%s\n", outFlag)
		return nil
	},
}

var widgetsCmd = &cobra.Command{
	Use:   "widgets",
	Short: "列出文档中的部件与模板",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		for _, id := range reg.WidgetIDs() {
			w, _ := reg.Widget(id)
			fmt.Printf("%s（%s，%gx%g）\n", w.ID, w.Name, w.Canvas.Width, w.Canvas.Height)
			for _, tid := range w.Templates {
				fmt.Printf("  模板 %s\n", tid)
			}
			for _, f := range w.Fields {
				fmt.Printf("  字段 %s（%s）\n", f.ID, f.Kind)
			}
		}
		return nil
	},
}

type session struct {
	engine   *pipeline.Engine
	renderer *render.Engine
}

// newSession 装配一次性的编辑会话：仓库、渲染、导出与可选的生成编排。
func newSession(provider aigen.Provider) (*session, error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}
	widgetID := widgetFlag
	if widgetID == "" {
		ids := reg.WidgetIDs()
		if len(ids) != 1 {
			return nil, fmt.Errorf("文档包含 %d 个部件，请用 --widget 指定", len(ids))
		}
		widgetID = ids[0]
	}

	renderer := render.NewEngine(render.Options{})
	exporter := export.NewEngine(renderer, nil)
	var orch *aigen.Orchestrator
	if provider != nil {
		orch = aigen.NewOrchestrator(provider, aigen.Config{})
	}

	engine := pipeline.NewEngine(reg, renderer, exporter, orch, pipeline.Config{})
	if err := engine.Initialize(widgetID, templateFlag); err != nil {
		return nil, err
	}

	for _, spec := range assetFlags {
		key, path, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("--asset 需要 值=文件路径 形式: %s", spec)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取资源 %s 失败: %w", path, err)
		}
		if err := renderer.AddAsset(key, data); err != nil {
			return nil, fmt.Errorf("资源 %s 解码失败: %w", path, err)
		}
	}

	values, err := parseSet(setFlags)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		if err := engine.UpdateFields(values); err != nil {
			return nil, err
		}
	}
	engine.Flush()
	return &session{engine: engine, renderer: renderer}, nil
}

func loadRegistry() (*widget.Registry, error) {
	if docFlag == "" {
		return nil, fmt.Errorf("需要 --doc 指定部件文档")
	}
	reg := widget.NewRegistry()
	switch strings.ToLower(filepath.Ext(docFlag)) {
	case ".yaml", ".yml":
		if err := reg.LoadFile(docFlag); err != nil {
			return nil, err
		}
	default:
		if err := dsl.LoadFile(reg, docFlag); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newProvider() (aigen.Provider, error) {
	switch providerFlag {
	case "fake":
		return &aigen.Fake{}, nil
	case "gemini":
		apiKey := os.Getenv("VELLUM_GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("gemini 提供方需要 VELLUM_GEMINI_API_KEY")
		}
		return aigen.NewGemini(apiKey, modelFlag), nil
	}
	return nil, fmt.Errorf("未知生成提供方: %s", providerFlag)
}

func parseSet(specs []string) (map[string]string, error) {
	values := map[string]string{}
	for _, spec := range specs {
		key, val, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("--set 需要 key=value 形式: %s", spec)
		}
		values[key] = val
	}
	return values, nil
}

func reportSkips(st pipeline.State) {
	for _, skip := range st.Skipped {
		log.Warn().Str("field", skip.FieldID).Str("reason", skip.Reason).Msg("字段跳过")
	}
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建输出目录失败: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	return nil
}
