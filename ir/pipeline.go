package ir

import (
	"context"
	"fmt"
	"io"

	"github.com/idmcalculus/kytepdf/filters"
	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/parser"
	"github.com/idmcalculus/kytepdf/recovery"
)

// Pipeline turns PDF bytes into a semantic document: raw parse, then
// page and resource building with streams decoded.
type Pipeline struct {
	rawParser       *parser.DocumentParser
	semanticBuilder semantic.Builder
	logger          observability.Logger
}

// NewDefault constructs a pipeline with lenient recovery and the default filters.
func NewDefault(logger observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Pipeline{
		rawParser: parser.NewDocumentParser(parser.Config{
			Recovery: recovery.NewLenientStrategy(logger),
			Logger:   logger,
		}),
		semanticBuilder: semantic.NewBuilder(filters.NewDefaultPipeline(filters.Limits{})),
		logger:          logger,
	}
}

// Parse reads the whole of r and builds its semantic document.
func (p *Pipeline) Parse(ctx context.Context, r io.ReaderAt) (*semantic.Document, error) {
	rawDoc, err := p.rawParser.Parse(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("raw parsing failed: %w", err)
	}
	return p.Build(ctx, rawDoc)
}

// ParseBytes is Parse over an in-memory file.
func (p *Pipeline) ParseBytes(ctx context.Context, data []byte) (*semantic.Document, error) {
	rawDoc, err := p.rawParser.ParseBytes(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("raw parsing failed: %w", err)
	}
	return p.Build(ctx, rawDoc)
}

// Build runs only the semantic stage over an already parsed document.
func (p *Pipeline) Build(ctx context.Context, rawDoc *raw.Document) (*semantic.Document, error) {
	semDoc, err := p.semanticBuilder.Build(ctx, rawDoc)
	if err != nil {
		return nil, fmt.Errorf("semantic building failed: %w", err)
	}
	p.logger.Debug("built semantic document", observability.Int("pages", len(semDoc.Pages)))
	return semDoc, nil
}
