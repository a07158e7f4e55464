package docstore

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// minChunkChars drops fragments too small to be useful retrieval units.
const minChunkChars = 50

// Chunk is a semantic unit of a document, grouped under its nearest heading.
type Chunk struct {
	Section string
	Text    string
}

// ChunkMarkdown splits markdown content into retrieval-sized chunks. Sections
// are delimited by headings; sections longer than maxChars are further split
// at paragraph boundaries. Chunks shorter than minChunkChars are dropped.
func ChunkMarkdown(content string, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = 500
	}

	source := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var chunks []Chunk
	var section string
	var blocks []string

	flush := func() {
		for _, part := range splitBlocks(blocks, maxChars) {
			if len(part) < minChunkChars {
				continue
			}
			chunks = append(chunks, Chunk{Section: section, Text: part})
		}
		blocks = blocks[:0]
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			flush()
			section = blockText(h, source)
			continue
		}
		if t := blockText(n, source); t != "" {
			blocks = append(blocks, t)
		}
	}
	flush()

	return chunks
}

// blockText collects the raw source lines of a block node and its children.
func blockText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || c.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		lines := c.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// splitBlocks packs paragraph blocks into chunks of at most maxChars,
// never splitting inside a block unless a single block exceeds the limit.
func splitBlocks(blocks []string, maxChars int) []string {
	var out []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}

	for _, b := range blocks {
		if cur.Len() > 0 && cur.Len()+len(b)+1 > maxChars {
			flush()
		}
		if len(b) > maxChars {
			flush()
			out = append(out, hardSplit(b, maxChars)...)
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(b)
	}
	flush()

	return out
}

// hardSplit cuts an oversized block at word boundaries.
func hardSplit(s string, maxChars int) []string {
	var out []string
	words := strings.Fields(s)
	var cur strings.Builder

	for _, w := range words {
		if cur.Len() > 0 && cur.Len()+len(w)+1 > maxChars {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
