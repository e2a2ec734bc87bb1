package chunk

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	mdtext "github.com/yuin/goldmark/text"

	"github.com/xxxsen/kbengine/internal/model"
)

// markdownChunker implements recursive_markdown: it walks the goldmark AST
// top-down, carrying the current heading path into every emitted chunk and
// never splitting a fenced code block or a table regardless of size
// (spec.md §8 Chunker safety). Oversized atomic blocks are emitted whole
// with Oversized=true. Each paragraph, list or blockquote becomes its own
// chunk prefixed with the heading path; one longer than chunk_size is handed
// to the semantic boundaryChunker for further splitting.
type markdownChunker struct{}

func (c *markdownChunker) Chunk(ctx context.Context, input string, params model.ChunkingParams) ([]model.RawChunk, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(input)
	doc := md.Parser().Parse(mdtext.NewReader(source))

	sub := &boundaryChunker{mode: modeSemantic}
	subParams := params
	if subParams.ChunkSize <= 0 {
		subParams.ChunkSize = defaultChunkSize
	}

	var out []model.RawChunk
	var headingPath []string

	emitText := func(body string) error {
		body = strings.TrimSpace(body)
		if body == "" {
			return nil
		}
		prefixed := body
		if len(headingPath) > 0 {
			prefixed = strings.Join(headingPath, " > ") + "\n\n" + body
		}
		if len(prefixed) <= subParams.ChunkSize {
			out = append(out, model.RawChunk{
				Text: prefixed,
				Metadata: model.ChunkMetadata{
					HeadingPath:  append([]string{}, headingPath...),
					BoundaryKind: model.BoundaryParagraph,
				},
			})
			return nil
		}
		subChunks, err := sub.Chunk(ctx, prefixed, subParams)
		if err != nil {
			return err
		}
		for i := range subChunks {
			subChunks[i].Metadata.HeadingPath = append([]string{}, headingPath...)
		}
		out = append(out, subChunks...)
		return nil
	}

	var pendingText []string
	flushPending := func() error {
		pending := pendingText
		pendingText = nil
		for _, body := range pending {
			if err := emitText(body); err != nil {
				return err
			}
		}
		return nil
	}

	// setHeading carries the heading path the way a filesystem path carries
	// directory nesting: level 1/2 headings reset it, deeper levels append
	// under the current path.
	setHeading := func(level int, title string) {
		if level <= 2 {
			headingPath = []string{title}
			return
		}
		depth := level - 1
		for len(headingPath) < depth-1 {
			headingPath = append(headingPath, "")
		}
		headingPath = append(headingPath[:depth-1], title)
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n == doc {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if err := flushPending(); err != nil {
				return ast.WalkStop, err
			}
			setHeading(node.Level, string(node.Text(source)))
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock:
			if err := flushPending(); err != nil {
				return ast.WalkStop, err
			}
			var sb strings.Builder
			for i := 0; i < node.Lines().Len(); i++ {
				line := node.Lines().At(i)
				sb.Write(line.Value(source))
			}
			lang := string(node.Language(source))
			body := "```" + lang + "\n" + sb.String() + "```"
			out = append(out, model.RawChunk{
				Text: body,
				Metadata: model.ChunkMetadata{
					HeadingPath:  append([]string{}, headingPath...),
					BoundaryKind: model.BoundaryCodeBlock,
					Oversized:    len(body) > subParams.ChunkSize,
					Language:     lang,
				},
			})
			return ast.WalkSkipChildren, nil

		case *extast.Table:
			if err := flushPending(); err != nil {
				return ast.WalkStop, err
			}
			body := renderTableSource(node, source)
			out = append(out, model.RawChunk{
				Text: body,
				Metadata: model.ChunkMetadata{
					HeadingPath:  append([]string{}, headingPath...),
					BoundaryKind: model.BoundaryTable,
					Oversized:    len(body) > subParams.ChunkSize,
				},
			})
			return ast.WalkSkipChildren, nil

		case *ast.ThematicBreak:
			if err := flushPending(); err != nil {
				return ast.WalkStop, err
			}
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph, *ast.List, *ast.Blockquote:
			txt := extractBlockText(node, source)
			if txt != "" {
				pendingText = append(pendingText, txt)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if err := flushPending(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Metadata.StartOffset = 0
		out[i].Metadata.EndOffset = len(out[i].Text)
	}
	return out, nil
}

func extractBlockText(n ast.Node, source []byte) string {
	var sb strings.Builder
	ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind() == ast.KindText {
			sb.Write(node.(*ast.Text).Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// renderTableSource reproduces the raw Markdown table text so that it never
// gets re-flowed or split mid-row.
func renderTableSource(node *extast.Table, source []byte) string {
	var sb strings.Builder
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if n.Kind() == ast.KindText {
			sb.Write(n.(*ast.Text).Segment.Value(source))
			sb.WriteByte(' ')
		}
		switch n.Kind() {
		case extast.KindTableRow, extast.KindTableHeader:
			sb.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
