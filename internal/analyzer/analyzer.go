// Package analyzer is C2, the Document Analyzer: it extracts structural
// features from a document's raw bytes and turns them into a ProcessingPlan
// the pipeline engine (C6) and parallel executor (C7) execute.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/model"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
)

// Analyzer holds the chunking/parallel defaults features and plans are built
// against.
type Analyzer struct {
	chunking config.ChunkingConfig
	parallel config.ParallelConfig
}

func New(chunking config.ChunkingConfig, parallel config.ParallelConfig) *Analyzer {
	return &Analyzer{chunking: chunking, parallel: parallel}
}

// Analyze extracts DocumentFeatures from content, classifies complexity, and
// builds a ProcessingPlan. It also returns the text the rest of the pipeline
// should chunk: the extracted plain text for pdf/docx, content decoded as-is
// otherwise. Fails with ErrUnsupportedFileType if the extension is unknown
// and content does not look like plain text either.
func (a *Analyzer) Analyze(ctx context.Context, doc model.Document, content []byte) (model.DocumentFeatures, model.ProcessingPlan, string, error) {
	fileType := classifyFileType(doc.SourcePath)

	var (
		text         string
		pageCount    int
		textDensity  float64
		headingDepth int
		hasImages    bool
	)

	switch fileType {
	case model.FileTypePDF:
		ext, err := extractPDF(bytes.NewReader(content))
		if err != nil {
			return model.DocumentFeatures{}, model.ProcessingPlan{}, "", fmt.Errorf("analyzer: extract pdf %s: %w", doc.SourcePath, appErr.ErrUnsupportedFileType)
		}
		text, pageCount, textDensity = ext.Text, ext.PageCount, ext.TextDensity
	case model.FileTypeDOCX:
		ext, err := extractDOCX(bytes.NewReader(content))
		if err != nil {
			return model.DocumentFeatures{}, model.ProcessingPlan{}, "", fmt.Errorf("analyzer: extract docx %s: %w", doc.SourcePath, appErr.ErrUnsupportedFileType)
		}
		text, headingDepth, hasImages = ext.Text, ext.HeadingDepth, ext.HasImages
	case model.FileTypeOther:
		if !looksLikeText(content) {
			return model.DocumentFeatures{}, model.ProcessingPlan{}, "", fmt.Errorf("analyzer: %s: %w", doc.SourcePath, appErr.ErrUnsupportedFileType)
		}
		fileType = model.FileTypeTXT
		text = string(content)
	default:
		text = string(content)
	}

	hasCode, hasTables, mdHeadingDepth, avgSentenceLen := textFeatures(text)
	if mdHeadingDepth > headingDepth {
		headingDepth = mdHeadingDepth
	}
	switch fileType {
	case model.FileTypeCode:
		hasCode = true
	case model.FileTypeTable:
		hasTables = true
	}

	features := model.DocumentFeatures{
		FileType:        fileType,
		PageCount:       pageCount,
		SizeBytes:       int64(len(content)),
		TextDensity:     textDensity,
		HasTables:       hasTables,
		HasCode:         hasCode,
		HasImages:       hasImages,
		HeadingDepth:    headingDepth,
		Language:        detectLanguage(text),
		EstimatedTokens: estimateTokens(text),
		AvgSentenceLen:  avgSentenceLen,
	}
	features.Complexity = classifyComplexity(features)

	plan := a.buildPlan(features, doc.Metadata["datasource_name"])
	return features, plan, text, nil
}

// classifyFileType dispatches on file extension, the same shape as
// dgallion1-docgest's parser.ForFile extension switch.
func classifyFileType(sourcePath string) model.FileType {
	switch strings.ToLower(filepath.Ext(sourcePath)) {
	case ".pdf":
		return model.FileTypePDF
	case ".docx":
		return model.FileTypeDOCX
	case ".md", ".markdown":
		return model.FileTypeMD
	case ".txt":
		return model.FileTypeTXT
	case ".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".c", ".h", ".cpp", ".cc",
		".rs", ".rb", ".php", ".sh", ".sql", ".yaml", ".yml", ".json":
		return model.FileTypeCode
	case ".html", ".htm":
		return model.FileTypeHTML
	case ".csv", ".tsv":
		return model.FileTypeTable
	default:
		return model.FileTypeOther
	}
}

// looksLikeText is the UnsupportedFileType fallback: an unknown extension is
// accepted as plain text when it decodes as valid UTF-8 with few control
// bytes, rejected otherwise.
func looksLikeText(content []byte) bool {
	if len(content) == 0 {
		return true
	}
	sample := content
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	if !utf8.Valid(sample) {
		return false
	}
	var control int
	for _, b := range sample {
		if b == 0 {
			return false
		}
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			control++
		}
	}
	return float64(control)/float64(len(sample)) < 0.01
}

// detectLanguage is a coarse CJK-vs-Latin majority vote, not a full language
// identifier; good enough to steer sentence-boundary and overlap choices.
func detectLanguage(text string) string {
	var cjk, latin int
	for _, r := range text {
		switch {
		case r >= 0x4e00 && r <= 0x9fff:
			cjk++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		}
	}
	switch {
	case cjk == 0 && latin == 0:
		return "und"
	case cjk > latin:
		return "zh"
	default:
		return "en"
	}
}
