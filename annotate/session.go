// Package annotate draws annotations onto the pages of an existing PDF.
package annotate

import (
	"bytes"
	"context"
	"fmt"

	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/pagetree"
	"github.com/idmcalculus/kytepdf/parser"
	"github.com/idmcalculus/kytepdf/writer"
)

// overlayPrefix is prepended to overlay resource names.
const overlayPrefix = "Ky"

type options struct {
	logger    observability.Logger
	tracer    observability.Tracer
	writerCfg writer.Config
	tools     *Registry
}

type Option func(*options)

func WithLogger(l observability.Logger) Option { return func(o *options) { o.logger = l } }
func WithTracer(t observability.Tracer) Option { return func(o *options) { o.tracer = t } }

// WithWriterConfig sets how the annotated document is serialized.
func WithWriterConfig(cfg writer.Config) Option { return func(o *options) { o.writerCfg = cfg } }

// WithTools replaces the default text, rectangle and image tools.
func WithTools(r *Registry) Option { return func(o *options) { o.tools = r } }

func newOptions(opts []Option) options {
	o := options{logger: observability.NopLogger{}, tracer: observability.NopTracer()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = observability.NopLogger{}
	}
	if o.tracer == nil {
		o.tracer = observability.NopTracer()
	}
	if o.tools == nil {
		o.tools = DefaultRegistry()
	}
	return o
}

// Session is one open document being annotated. It owns the parsed
// object graph until Save; nothing in it is shared between sessions.
type Session struct {
	doc    *raw.Document
	pages  []*Page
	opts   options
	logger observability.Logger

	fonts  map[string]string
	images map[string]*semantic.Image
}

// Page is a page of an open Session. Sizes are in points.
type Page struct {
	Index  int
	Width  float64
	Height float64

	tree    *pagetree.Page
	overlay builder.PageBuilder
}

// Overlay returns the drawing surface laid over the page, creating it on
// first use.
func (p *Page) Overlay() builder.PageBuilder {
	if p.overlay == nil {
		p.overlay = builder.NewOverlay(p.Width, p.Height, overlayPrefix)
	}
	return p.overlay
}

// Open parses data and prepares its pages for drawing.
func Open(ctx context.Context, data []byte, opts ...Option) (*Session, error) {
	o := newOptions(opts)
	doc, err := parser.Load(ctx, data, o.logger)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	treePages, err := pagetree.Pages(doc)
	if err != nil {
		return nil, fmt.Errorf("read pages: %w", err)
	}
	s := &Session{
		doc:    doc,
		opts:   o,
		logger: o.logger,
		fonts:  make(map[string]string),
		images: make(map[string]*semantic.Image),
	}
	for i, tp := range treePages {
		s.pages = append(s.pages, &Page{Index: i, Width: tp.Width(), Height: tp.Height(), tree: tp})
	}
	return s, nil
}

func (s *Session) PageCount() int { return len(s.pages) }

// Page returns the zero-based page i.
func (s *Session) Page(i int) (*Page, bool) {
	if i < 0 || i >= len(s.pages) {
		return nil, false
	}
	return s.pages[i], true
}

// PageWidths lists page widths in points, for ScaleAnnotations.
func (s *Session) PageWidths() []float64 {
	out := make([]float64, len(s.pages))
	for i, p := range s.pages {
		out[i] = p.Width
	}
	return out
}

// Font resolves a style font name to a standard font, remembering the
// answer for the rest of the session.
func (s *Session) Font(name string) string {
	if base, ok := s.fonts[name]; ok {
		return base
	}
	base, known := builder.StandardFont(name)
	if !known && name != "" {
		s.logger.Debug("unknown font, using fallback", observability.String("font", name), observability.String("fallback", base))
	}
	s.fonts[name] = base
	return base
}

// Image decodes a data URL once per session; later calls with the same
// URL share the result.
func (s *Session) Image(dataURL string) (*semantic.Image, error) {
	if img, ok := s.images[dataURL]; ok {
		return img, nil
	}
	img, err := DecodeImage(dataURL)
	if err != nil {
		return nil, err
	}
	s.images[dataURL] = img
	return img, nil
}

// Save lays every page overlay onto its page and serializes the result.
func (s *Session) Save(ctx context.Context) ([]byte, error) {
	stamper := writer.NewStamper(s.doc, s.opts.writerCfg)
	stamped := 0
	for _, p := range s.pages {
		if p.overlay == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stamper.Stamp(p.tree, p.overlay.Page()); err != nil {
			return nil, fmt.Errorf("page %d: %w", p.Index+1, err)
		}
		stamped++
	}
	var buf bytes.Buffer
	if err := writer.New().WriteRaw(ctx, s.doc, &buf, s.opts.writerCfg); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	s.logger.Debug("annotated document saved",
		observability.Int("pages_changed", stamped),
		observability.Int(observability.MetricOutputBytes, buf.Len()))
	return buf.Bytes(), nil
}
