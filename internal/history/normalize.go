package history

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ent0n29/complyassist/internal/memory"
)

var (
	markdown    = goldmark.New()
	stripPolicy = bluemonday.StrictPolicy()
)

// NormalizeText flattens a stored assistant reply into plain single-line text.
// A reply that is an HTML fragment is reduced to its text content. Anything
// else is read as markdown: emphasis, headings and list markers go away while
// code spans, code blocks and inline HTML are kept as written.
//
// User text is never passed through here.
func NormalizeText(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return ""
	}
	if isHTMLFragment(trimmed) {
		return collapseSpace(html.UnescapeString(stripPolicy.Sanitize(trimmed)))
	}
	return collapseSpace(markdownText([]byte(trimmed)))
}

func isHTMLFragment(s string) bool {
	return strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") && strings.Contains(s, "</")
}

func markdownText(src []byte) string {
	doc := markdown.Parser().Parse(text.NewReader(src))
	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
			buf.WriteByte(' ')
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.RawHTML:
			writeSegments(&buf, node.Segments, src)
		case *ast.AutoLink:
			buf.Write(node.Label(src))
		case *ast.HTMLBlock:
			writeSegments(&buf, node.Lines(), src)
			if node.HasClosure() {
				buf.Write(node.ClosureLine.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			writeSegments(&buf, n.Lines(), src)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func writeSegments(buf *bytes.Buffer, segs *text.Segments, src []byte) {
	if segs == nil {
		return
	}
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		buf.Write(seg.Value(src))
		buf.WriteByte(' ')
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeReplies flattens every reply and leaves user text untouched.
func normalizeReplies(turns []memory.Turn) []memory.Turn {
	if len(turns) == 0 {
		return turns
	}
	out := make([]memory.Turn, len(turns))
	for i, t := range turns {
		t.ResponseText = NormalizeText(t.ResponseText)
		out[i] = t
	}
	return out
}
