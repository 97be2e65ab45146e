// Package template pre-compiles "${col}" prompt templates into an ordered
// list of literal/reference segments at table-load time, per the design
// note in spec §9: do not re-scan strings at every row.
//
// This is deliberately not Tangerg-lynx's pkg/strings.TextTemplate: that
// type wraps Go's text/template {{.field}} syntax, a different
// placeholder grammar than the "${col}" syntax this engine's schema uses.
// The wrapper-struct shape (parse once, render many) is kept; the grammar
// is rewritten for "${col}".
package template

import "strings"

// SegmentKind discriminates a literal run of text from a column reference.
type SegmentKind int

const (
	SegmentLiteral SegmentKind = iota
	SegmentRef
)

// Segment is one piece of a compiled template.
type Segment struct {
	Kind    SegmentKind
	Literal string // valid when Kind == SegmentLiteral
	Ref     string // valid when Kind == SegmentRef
}

// RefTemplate is a template pre-compiled into literal/ref segments.
type RefTemplate struct {
	segments []Segment
}

// Compile scans raw for "${col}" placeholders and returns the compiled
// segment list. An unterminated "${" is treated as a literal.
func Compile(raw string) RefTemplate {
	var segs []Segment
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, Segment{Kind: SegmentLiteral, Literal: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(raw) {
		if raw[i] == '$' && i+1 < len(raw) && raw[i+1] == '{' {
			end := strings.IndexByte(raw[i+2:], '}')
			if end < 0 {
				lit.WriteByte(raw[i])
				i++
				continue
			}
			ref := raw[i+2 : i+2+end]
			flush()
			segs = append(segs, Segment{Kind: SegmentRef, Ref: ref})
			i = i + 2 + end + 1
			continue
		}
		lit.WriteByte(raw[i])
		i++
	}
	flush()
	return RefTemplate{segments: segs}
}

// Refs returns the distinct column references in first-encountered order.
func (t RefTemplate) Refs() []string {
	seen := make(map[string]struct{}, len(t.segments))
	var out []string
	for _, s := range t.segments {
		if s.Kind != SegmentRef {
			continue
		}
		if _, ok := seen[s.Ref]; ok {
			continue
		}
		seen[s.Ref] = struct{}{}
		out = append(out, s.Ref)
	}
	return out
}

// Render substitutes each reference from resolve(ref) and concatenates
// every segment. resolve is expected to format a row value as a string;
// the caller (internal/llmengine) owns that formatting policy.
func (t RefTemplate) Render(resolve func(ref string) string) string {
	var sb strings.Builder
	for _, s := range t.segments {
		switch s.Kind {
		case SegmentLiteral:
			sb.WriteString(s.Literal)
		case SegmentRef:
			sb.WriteString(resolve(s.Ref))
		}
	}
	return sb.String()
}

// ScanPythonRowRefs conservatively extracts every row['col']/row["col"]
// occurrence from a Python code snippet. Any occurrence counts as a
// dependency even if it is runtime-dead, per §4.A.
func ScanPythonRowRefs(code string) []string {
	seen := make(map[string]struct{})
	var out []string
	const marker = "row["
	i := 0
	for {
		idx := strings.Index(code[i:], marker)
		if idx < 0 {
			break
		}
		start := i + idx + len(marker)
		if start >= len(code) {
			break
		}
		quote := code[start]
		if quote != '\'' && quote != '"' {
			i = start
			continue
		}
		end := strings.IndexByte(code[start+1:], quote)
		if end < 0 {
			i = start + 1
			continue
		}
		ref := code[start+1 : start+1+end]
		if _, ok := seen[ref]; !ok {
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
		i = start + 1 + end + 1
	}
	return out
}
