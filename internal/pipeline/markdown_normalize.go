package pipeline

import (
	"context"
	"strings"

	"github.com/xxxsen/kbengine/internal/model"
)

// markdownNormalizeProcessor is the optional stage the analyzer's
// plan.ConvertToMarkdown gates on. It plays the role
// processors.py's MarkItDownProcessor/PDFProcessor._convert_to_basic_markdown
// play for pdf/docx/html sources that came back as flat extracted text: wrap
// paragraphs so downstream chunking (in particular ChunkingMarkdownRecursive)
// has paragraph boundaries to recognize. It is a no-op for documents that
// are already markdown, and skipped entirely when the plan doesn't call for
// it (e.g. low-complexity pdf/docx, or any txt/code/table source).
type markdownNormalizeProcessor struct{}

func init() {
	Register("markdown_normalize", func() Processor { return &markdownNormalizeProcessor{} })
}

func (p *markdownNormalizeProcessor) Name() string { return "markdown_normalize" }

func (p *markdownNormalizeProcessor) SupportedTypes() []model.FileType {
	return []model.FileType{model.FileTypePDF, model.FileTypeDOCX, model.FileTypeHTML}
}

func (p *markdownNormalizeProcessor) Process(ctx context.Context, pc *Context) error {
	if pc.Plan == nil || !pc.Plan.ConvertToMarkdown {
		return nil
	}
	if looksLikeMarkdown(pc.Text) {
		return nil
	}
	pc.Text = normalizeToMarkdown(pc.Text)
	return nil
}

func looksLikeMarkdown(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return true
		}
	}
	return false
}

// normalizeToMarkdown reflows flat extracted text into blank-line-separated
// paragraphs, the same fallback shape
// processors.py's PDFProcessor._convert_to_basic_markdown uses when a richer
// converter isn't available.
func normalizeToMarkdown(text string) string {
	rawParagraphs := strings.Split(text, "\n\n")
	paragraphs := make([]string, 0, len(rawParagraphs))
	for _, para := range rawParagraphs {
		para = strings.TrimSpace(para)
		if para != "" {
			paragraphs = append(paragraphs, para)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}
