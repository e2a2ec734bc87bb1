package pipeline

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/statestore"
)

// stageOrder is the fixed sequence spec.md's pipeline runs: Validate ->
// MarkdownNormalize(optional) -> Chunk -> Embed -> Index -> Finalize. Unlike
// PipelineFactory.create_pipeline, which assembles a per-file-type processor
// list at runtime by scanning every registered processor's SUPPORTED_TYPES,
// the order here is a fixed Go slice; supports() still gates whether a given
// stage actually runs for this document's file type.
var stageOrder = []string{"validate", "markdown_normalize", "chunk", "embed", "index", "finalize"}

// Engine runs the fixed stage sequence over one document's Context. Stages
// with no external dependency (validate/markdown_normalize/chunk) come from
// the package-level registry; embed/index/finalize are constructed with
// their collaborators by the caller and passed in directly, since a
// zero-argument factory can't carry an *ai.Manager or vectorstore.Store.
type Engine struct {
	stages []Processor
	store  *statestore.Store
}

// New builds the Engine from the fixed stage order, substituting embed,
// index and finalize with the dependency-bearing instances the caller
// constructed (NewEmbedProcessor, NewIndexProcessor, NewFinalizeProcessor).
func New(store *statestore.Store, embed, index, finalize Processor) (*Engine, error) {
	overrides := map[string]Processor{
		"embed":    embed,
		"index":    index,
		"finalize": finalize,
	}
	stages := make([]Processor, 0, len(stageOrder))
	for _, name := range stageOrder {
		if p, ok := overrides[name]; ok {
			stages = append(stages, p)
			continue
		}
		p, err := NewStage(name)
		if err != nil {
			return nil, err
		}
		stages = append(stages, p)
	}
	return &Engine{stages: stages, store: store}, nil
}

// Run executes every stage in order against pc, stopping at the first
// failure. On failure the document's status is set to failed and the error
// is recorded against it (spec.md §7's propagation policy: a pipeline
// failure surfaces as the document's terminal state, not a panic or a
// silently swallowed error).
func (e *Engine) Run(ctx context.Context, pc *Context) error {
	logger := logutil.GetLogger(ctx)
	for _, stage := range e.stages {
		if !supports(stage, pc.Features.FileType) {
			pc.record(stage.Name(), StageResultSkipped, nil)
			continue
		}
		if err := stage.Process(ctx, pc); err != nil {
			pc.record(stage.Name(), StageResultFailed, err)
			logger.Error("pipeline stage failed", zap.String("doc_id", pc.Document.DocID), zap.String("stage", stage.Name()), zap.Error(err))
			if updateErr := e.store.UpdateStatus(ctx, pc.Document.DocID, model.DocumentStatusFailed, err.Error()); updateErr != nil {
				logger.Error("pipeline: failed to record document failure", zap.String("doc_id", pc.Document.DocID), zap.Error(updateErr))
			}
			return fmt.Errorf("pipeline: stage %s: %w", stage.Name(), err)
		}
		pc.record(stage.Name(), StageResultOK, nil)
	}
	return nil
}
