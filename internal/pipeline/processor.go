// Package pipeline is C6, the Pipeline Engine: a fixed ordered run of
// Validate -> MarkdownNormalize(optional) -> Chunk -> Embed -> Index ->
// Finalize stages over one document, mirroring
// enterprise_kb/core/document_pipeline/processors.py's processor list but as
// Go structs implementing one Processor interface, registered explicitly
// instead of through that file's decorator/reflection-based PipelineFactory.
package pipeline

import (
	"context"
	"fmt"

	"github.com/xxxsen/kbengine/internal/model"
)

// Processor is one pipeline stage. SupportedTypes declares, statically, the
// model.FileType values a stage applies to; nil or empty means "every type".
type Processor interface {
	Name() string
	SupportedTypes() []model.FileType
	Process(ctx context.Context, pc *Context) error
}

// supports reports whether p declares support for fileType (or declares no
// restriction at all).
func supports(p Processor, fileType model.FileType) bool {
	types := p.SupportedTypes()
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == fileType {
			return true
		}
	}
	return false
}

// ProcessorFactory builds a Processor. Stages are stateless, constructed
// fresh per Engine the way chunk.Factory and vectorstore.Factory are.
type ProcessorFactory func() Processor

var registry = map[string]ProcessorFactory{}

// Register adds a stage factory under name. Called from init() in each
// stage's file.
func Register(name string, factory ProcessorFactory) {
	registry[name] = factory
}

// NewStage looks up and constructs the named stage.
func NewStage(name string) (Processor, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown stage %q", name)
	}
	return factory(), nil
}
