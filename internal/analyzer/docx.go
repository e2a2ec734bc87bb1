package analyzer

import (
	"fmt"
	"io"
	"os"
	"strings"

	docx "github.com/fumiama/go-docx"
)

// docxExtraction is what the docx path of Analyze needs: the paragraph text
// with heading markers stripped, the deepest heading style seen, and whether
// any paragraph embeds an inline image.
type docxExtraction struct {
	Text         string
	HeadingDepth int
	HasImages    bool
}

// extractDOCX mirrors dgallion1-docgest's parser.DOCXParser: go-docx needs a
// ReadSeeker with a known size, so the reader is spilled to a temp file
// first. Image detection uses go-docx's Drawing run children, the same type
// fumiama/imgsz (an indirect dependency go-docx pulls in for image sizing)
// is built to measure.
func extractDOCX(r io.Reader) (docxExtraction, error) {
	tmp, err := os.CreateTemp("", "kbengine-docx-*.docx")
	if err != nil {
		return docxExtraction{}, fmt.Errorf("create temp docx file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return docxExtraction{}, fmt.Errorf("write temp docx file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return docxExtraction{}, fmt.Errorf("seek temp docx file: %w", err)
	}

	doc, err := docx.Parse(tmp, size)
	tmp.Close()
	if err != nil {
		return docxExtraction{}, fmt.Errorf("parse docx: %w", err)
	}

	var buf strings.Builder
	maxDepth := 0
	hasImages := false
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		if level := docxHeadingLevel(para); level > maxDepth {
			maxDepth = level
		}
		text, imgs := docxParagraphContent(para)
		if imgs {
			hasImages = true
		}
		if text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(text)
	}

	return docxExtraction{Text: buf.String(), HeadingDepth: maxDepth, HasImages: hasImages}, nil
}

func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := para.Properties.Style.Val
	for level := 1; level <= 6; level++ {
		if strings.EqualFold(style, fmt.Sprintf("Heading%d", level)) ||
			strings.EqualFold(style, fmt.Sprintf("heading %d", level)) {
			return level
		}
	}
	return 0
}

func docxParagraphContent(para *docx.Paragraph) (text string, hasImage bool) {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			switch t := rc.(type) {
			case *docx.Text:
				buf.WriteString(t.Text)
			case *docx.Drawing:
				hasImage = true
			}
		}
	}
	return strings.TrimSpace(buf.String()), hasImage
}
