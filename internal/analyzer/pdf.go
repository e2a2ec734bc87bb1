package analyzer

import (
	"fmt"
	"io"
	"os"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// pdfExtraction is what the pdf path of Analyze needs out of the raw file:
// the concatenated page text plus the two structural signals (page count,
// text density) the complexity classifier uses.
type pdfExtraction struct {
	Text        string
	PageCount   int
	TextDensity float64
}

// expectedCharsPerTextPage anchors text_density: a full page of ordinary
// prose runs to roughly this many extracted characters. Pages far below it
// are assumed image- or layout-heavy.
const expectedCharsPerTextPage = 2000

// extractPDF mirrors dgallion1-docgest's parser.PDFParser: ledongthuc/pdf
// needs a ReadSeeker with a known size, so the reader is first spilled to a
// temp file.
func extractPDF(r io.Reader) (pdfExtraction, error) {
	tmp, err := os.CreateTemp("", "kbengine-pdf-*.pdf")
	if err != nil {
		return pdfExtraction{}, fmt.Errorf("create temp pdf file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return pdfExtraction{}, fmt.Errorf("write temp pdf file: %w", err)
	}
	tmp.Close()

	f, reader, err := pdflib.Open(tmpPath)
	if err != nil {
		return pdfExtraction{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	var buf strings.Builder
	var totalChars int
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if i > 1 {
			buf.WriteString("\f")
		}
		buf.WriteString(text)
		totalChars += len(text)
	}

	var density float64
	if numPages > 0 {
		density = float64(totalChars) / float64(numPages) / expectedCharsPerTextPage
		if density > 1 {
			density = 1
		}
	}

	return pdfExtraction{Text: buf.String(), PageCount: numPages, TextDensity: density}, nil
}
