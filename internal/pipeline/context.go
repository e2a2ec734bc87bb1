package pipeline

import (
	"github.com/xxxsen/kbengine/internal/model"
)

// StageResultKind is the tagged-union discriminant for a stage's outcome,
// replacing the Python pipeline's Dict[str, Any] context bag: a stage either
// ran (ok), didn't apply to this document (skipped), or failed.
type StageResultKind string

const (
	StageResultOK      StageResultKind = "ok"
	StageResultSkipped StageResultKind = "skipped"
	StageResultFailed  StageResultKind = "failed"
)

// StageResult is the per-stage outcome recorded in Context.History.
type StageResult struct {
	Stage string
	Kind  StageResultKind
	Err   error
}

// Context carries one document through the pipeline. Fields are filled in
// progressively as stages run; nothing here is an untyped map.
type Context struct {
	Document *model.Document
	Features *model.DocumentFeatures
	Plan     *model.ProcessingPlan

	// Text is the analyzer's extracted plain text, rewritten in place by
	// MarkdownNormalize when plan.ConvertToMarkdown is set.
	Text string

	Chunks []model.Chunk

	History []StageResult
}

func (c *Context) record(stage string, kind StageResultKind, err error) {
	c.History = append(c.History, StageResult{Stage: stage, Kind: kind, Err: err})
}
