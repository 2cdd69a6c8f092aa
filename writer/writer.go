package writer

import (
	"context"
	"io"

	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/observability"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF17 PDFVersion = "1.7"
)

// ContentFilter selects the encoding of generated streams. JPEG images are
// always written as DCTDecode regardless of this setting.
type ContentFilter int

const (
	FilterFlate ContentFilter = iota
	FilterNone
	FilterASCIIHex
)

type Config struct {
	Version       PDFVersion
	ContentFilter ContentFilter
	// KeepUnreachable writes every object of a raw document, not only the
	// ones reachable from the trailer.
	KeepUnreachable bool
}

// Writer serializes documents. Write lowers a semantic document to raw
// objects first; WriteRaw renumbers and writes an existing object graph.
type Writer interface {
	Write(ctx context.Context, doc *semantic.Document, w io.Writer, cfg Config) error
	WriteRaw(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) error
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

type WriterBuilder struct{ logger observability.Logger }

func (b *WriterBuilder) WithLogger(l observability.Logger) *WriterBuilder {
	b.logger = l
	return b
}

func (b *WriterBuilder) Build() Writer {
	l := b.logger
	if l == nil {
		l = observability.NopLogger{}
	}
	return &impl{logger: l}
}

// New returns a Writer without logging.
func New() Writer { return (&WriterBuilder{}).Build() }
