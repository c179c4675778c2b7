// Package markdown pulls fenced code blocks out of tutor replies.
package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type CodeBlock struct {
	// Language is the info string's first word, "" when the fence has none.
	Language string
	Code     string
}

// ExtractCodeBlocks returns the fenced code blocks of src in document order.
func ExtractCodeBlocks(src string) []CodeBlock {
	source := []byte(src)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var blocks []CodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var b strings.Builder
		lines := fcb.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
		blocks = append(blocks, CodeBlock{
			Language: string(fcb.Language(source)),
			Code:     b.String(),
		})
		return ast.WalkSkipChildren, nil
	})
	return blocks
}

// FirstCodeBlock returns the first fenced code block of src.
func FirstCodeBlock(src string) (CodeBlock, bool) {
	blocks := ExtractCodeBlocks(src)
	if len(blocks) == 0 {
		return CodeBlock{}, false
	}
	return blocks[0], true
}
