package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func resolveUpper(ref string) string {
	return "<" + ref + ">"
}

func TestCompile_LiteralOnly(t *testing.T) {
	tpl := Compile("hello world")
	assert.Empty(t, tpl.Refs())
	assert.Equal(t, "hello world", tpl.Render(resolveUpper))
}

func TestCompile_SingleRef(t *testing.T) {
	tpl := Compile("summarize: ${body}")
	assert.Equal(t, []string{"body"}, tpl.Refs())
	assert.Equal(t, "summarize: <body>", tpl.Render(resolveUpper))
}

func TestCompile_MultipleRefsDedup(t *testing.T) {
	tpl := Compile("${a} and ${b} and ${a} again")
	assert.Equal(t, []string{"a", "b"}, tpl.Refs())
	assert.Equal(t, "<a> and <b> and <a> again", tpl.Render(resolveUpper))
}

func TestCompile_UnterminatedBraceIsLiteral(t *testing.T) {
	tpl := Compile("price is ${ not closed")
	assert.Empty(t, tpl.Refs())
	assert.Equal(t, "price is ${ not closed", tpl.Render(resolveUpper))
}

func TestCompile_EmptyRef(t *testing.T) {
	tpl := Compile("x${}y")
	assert.Equal(t, []string{""}, tpl.Refs())
	assert.Equal(t, "x<>y", tpl.Render(resolveUpper))
}

func TestCompile_DollarWithoutBrace(t *testing.T) {
	tpl := Compile("costs $5 total")
	assert.Empty(t, tpl.Refs())
	assert.Equal(t, "costs $5 total", tpl.Render(resolveUpper))
}

func TestScanPythonRowRefs_SingleAndDoubleQuotes(t *testing.T) {
	code := `out = row['title'] + " " + row["body"]`
	assert.Equal(t, []string{"title", "body"}, ScanPythonRowRefs(code))
}

func TestScanPythonRowRefs_Dedup(t *testing.T) {
	code := `row['x'] + row['x'] + row['y']`
	assert.Equal(t, []string{"x", "y"}, ScanPythonRowRefs(code))
}

func TestScanPythonRowRefs_NoMatches(t *testing.T) {
	assert.Empty(t, ScanPythonRowRefs("result = 1 + 1"))
}

func TestScanPythonRowRefs_UnquotedBracket(t *testing.T) {
	code := `idx = 0; row[idx] = 1; row['ok']`
	assert.Equal(t, []string{"ok"}, ScanPythonRowRefs(code))
}
