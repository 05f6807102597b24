// Package dsl parses the compact widget description language: a widget
// declaration with its canvas, fields and templates in a single file.
package dsl

import (
	"fmt"
	"io"
	"strconv"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	dslLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
		{Name: "BlockComment", Pattern: `/\*[^*]*\*+(?:[^/*][^*]*\*+)*/`},
		{Name: "LineComment", Pattern: `//[^\n]*`},
		{Name: "Color", Pattern: `#(?:[0-9A-Fa-f]{6}|[0-9A-Fa-f]{3})`},
		{Name: "Number", Pattern: `-?(?:\d+\.\d+|\d+)`},
		{Name: "String", Pattern: `"(?:\\.|[^"])*"`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_-]*`},
		{Name: "Symbol", Pattern: `[][{}(),.:;]`},
	})

	documentParser = participle.MustBuild[Document](
		participle.Lexer(dslLexer),
		participle.Elide("Whitespace", "LineComment", "BlockComment"),
		participle.UseLookahead(2),
	)
)

// Document 是 DSL 文件的根节点，可声明多个部件。
type Document struct {
	Pos     lexer.Position `parser:"" json:"-"`
	Widgets []*WidgetDecl  `parser:"( @@ )*"`
}

// WidgetDecl 声明一个部件：画布、字段与模板。
type WidgetDecl struct {
	Pos  lexer.Position `parser:"" json:"-"`
	ID   string         `parser:"'widget' @Ident"`
	Name *StringLiteral `parser:"( @String )?"`
	Body []*WidgetStmt  `parser:"'{' ( @@ )* '}'"`
}

// WidgetStmt 是部件体内的一条声明。
type WidgetStmt struct {
	Canvas   *CanvasDecl   `parser:"  @@"`
	Field    *FieldDecl    `parser:"| @@"`
	Template *TemplateDecl `parser:"| @@"`
}

// CanvasDecl 声明画布几何。单位限定为 px/mm/pt，避免与后续关键字混淆。
type CanvasDecl struct {
	Width  float64 `parser:"'canvas' @Number"`
	Height float64 `parser:"@Number"`
	Unit   string  `parser:"( @('px' | 'mm' | 'pt') )?"`
	Props  []*Prop `parser:"( '{' ( @@ ';'* )* '}' )?"`
}

// FieldDecl 声明一个字段及其约束。
type FieldDecl struct {
	Pos   lexer.Position `parser:"" json:"-"`
	ID    string         `parser:"'field' @Ident"`
	Kind  string         `parser:"@Ident"`
	Props []*Prop        `parser:"( '{' ( @@ ';'* )* '}' )?"`
}

// TemplateDecl 声明部件的一种版式。
type TemplateDecl struct {
	Pos  lexer.Position  `parser:"" json:"-"`
	ID   string          `parser:"'template' @Ident"`
	Body []*TemplateStmt `parser:"'{' ( @@ )* '}'"`
}

// TemplateStmt 是模板体内的一条声明。
type TemplateStmt struct {
	Layout     *string         `parser:"  'layout' @Ident"`
	Place      *PlaceDecl      `parser:"| @@"`
	Background *BackgroundDecl `parser:"| @@"`
	Scheme     *SchemeDecl     `parser:"| @@"`
}

// PlaceDecl 把字段摆放到画布上的锚点，可选尺寸与样式块。
type PlaceDecl struct {
	Pos    lexer.Position `parser:"" json:"-"`
	Field  string         `parser:"'place' @Ident"`
	X      float64        `parser:"'at' @Number"`
	Y      float64        `parser:"@Number"`
	Width  *float64       `parser:"( 'size' @Number"`
	Height *float64       `parser:"@Number )?"`
	Props  []*Prop        `parser:"( '{' ( @@ ';'* )* '}' )?"`
}

// BackgroundDecl 声明背景规则。solid 带一个颜色，gradient 带两个，
// generated 带提示词字符串；组合约束在编译期检查。
type BackgroundDecl struct {
	Pos    lexer.Position `parser:"" json:"-"`
	Kind   string         `parser:"'background' @('solid' | 'gradient' | 'generated')"`
	Colors []string       `parser:"( @Color ( @Color )? )?"`
	Prompt *StringLiteral `parser:"( @String )?"`
}

// SchemeDecl 声明一套具名配色。
type SchemeDecl struct {
	Pos   lexer.Position `parser:"" json:"-"`
	Name  string         `parser:"'scheme' @Ident"`
	Props []*Prop        `parser:"'{' ( @@ ';'* )* '}'"`
}

// Prop 是块内的键值对；省略冒号与值时作为布尔开关（如 required）。
type Prop struct {
	Pos   lexer.Position `parser:"" json:"-"`
	Key   string         `parser:"@Ident"`
	Value *PropValue     `parser:"( ':' @@ )?"`
}

// PropValue 承载属性值：字符串、数字、颜色或标识符列表。
type PropValue struct {
	Str    *StringLiteral `parser:"  @String"`
	Number *float64       `parser:"| @Number"`
	Color  *string        `parser:"| @Color"`
	List   []string       `parser:"| '[' @Ident ( ',' @Ident )* ']'"`
	Ident  *string        `parser:"| @Ident"`
}

// Text 返回属性值的字符串形态，供编译期统一取值。
func (v *PropValue) Text() string {
	switch {
	case v == nil:
		return ""
	case v.Str != nil:
		return string(*v.Str)
	case v.Number != nil:
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	case v.Color != nil:
		return *v.Color
	case v.Ident != nil:
		return *v.Ident
	}
	return ""
}

// StringLiteral unquotes Go-style strings on capture.
type StringLiteral string

// Capture implements participle.Capture.
func (s *StringLiteral) Capture(values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("string literal capture requires value")
	}
	val, err := strconv.Unquote(values[0])
	if err != nil {
		return err
	}
	*s = StringLiteral(val)
	return nil
}

// Parse parses DSL content from an io.Reader.
func Parse(r io.Reader) (*Document, error) {
	return documentParser.Parse("", r)
}

// ParseString parses DSL content from a string.
func ParseString(input string) (*Document, error) {
	return documentParser.ParseString("", input)
}
