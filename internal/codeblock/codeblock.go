// Package codeblock pulls runnable commands out of model replies.
package codeblock

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// Extract returns the contents of every fenced code block in doc, in
// document order, without fences or info strings and with the trailing
// newline trimmed. Blocks that are empty after trimming are skipped.
func Extract(doc string) []string {
	src := []byte(doc)
	root := md.Parser().Parse(text.NewReader(src))

	var blocks []string
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var buf bytes.Buffer
		lines := fenced.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		if body := strings.TrimRight(buf.String(), "\r\n"); strings.TrimSpace(body) != "" {
			blocks = append(blocks, body)
		}
		return ast.WalkSkipChildren, nil
	})
	return blocks
}
