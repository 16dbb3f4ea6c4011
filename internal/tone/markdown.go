package tone

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PlainText extracts the speakable text of a lesson snippet that may carry
// markdown emphasis, links or lists. Code and raw HTML are dropped.
func PlainText(markdown string) string {
	if !strings.ContainsAny(markdown, "*_`#[]<>-!") {
		return markdown
	}

	md := goldmark.New()
	reader := text.NewReader([]byte(markdown))
	doc := md.Parser().Parse(reader)

	var buf strings.Builder
	walkNode(doc, reader.Source(), &buf)

	return strings.TrimSpace(buf.String())
}

// walkNode recursively walks the AST and extracts text content.
func walkNode(node ast.Node, source []byte, buf *strings.Builder) {
	switch n := node.(type) {
	case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock, *ast.RawHTML:
		return

	case *ast.Text:
		buf.Write(n.Segment.Value(source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			buf.WriteByte(' ')
		}
		return

	case *ast.String:
		buf.Write(n.Value)
		return

	case *ast.CodeSpan:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		return

	case *ast.Image:
		// alt text only
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walkNode(c, source, buf)
		}
		return
	}

	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		walkNode(c, source, buf)
	}

	if node.Type() == ast.TypeBlock && node.Kind() != ast.KindDocument {
		buf.WriteByte(' ')
	}
}
