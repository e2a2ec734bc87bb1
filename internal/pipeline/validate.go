package pipeline

import (
	"context"
	"fmt"

	"github.com/xxxsen/kbengine/internal/model"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
)

// validateProcessor is the Go counterpart of processors.py's FileValidator:
// it checks that the document and its analyzer output are actually usable
// before any expensive work runs. The existence/size checks FileValidator
// does against the filesystem already happened when the caller read the
// file into memory to hand to the analyzer, so this stage checks the shape
// of what analysis produced instead.
type validateProcessor struct{}

func init() {
	Register("validate", func() Processor { return &validateProcessor{} })
}

func (p *validateProcessor) Name() string { return "validate" }

func (p *validateProcessor) SupportedTypes() []model.FileType { return nil }

func (p *validateProcessor) Process(ctx context.Context, pc *Context) error {
	if pc.Document == nil || pc.Document.DocID == "" {
		return fmt.Errorf("pipeline: validate: %w: missing doc_id", appErr.ErrValidation)
	}
	if pc.Plan == nil {
		return fmt.Errorf("pipeline: validate: %w: missing processing plan", appErr.ErrValidation)
	}
	if pc.Text == "" {
		return fmt.Errorf("pipeline: validate: %w: no extracted text for %s", appErr.ErrValidation, pc.Document.DocID)
	}
	return nil
}
