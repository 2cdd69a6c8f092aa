// Package pages merges, splits and extracts pages of existing documents.
//
// Pages are copied object by object, so text, fonts and vector content
// survive untouched. Inherited attributes are written onto each copied page.
package pages

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/pagetree"
	"github.com/idmcalculus/kytepdf/parser"
	"github.com/idmcalculus/kytepdf/writer"
)

var (
	ErrNoInput        = errors.New("no documents to merge")
	ErrEmptySelection = errors.New("no pages selected")
	ErrPageOutOfRange = errors.New("page number out of range")
)

const outputVersion = "1.7"

type Option func(*Editor)

func WithLogger(l observability.Logger) Option { return func(e *Editor) { e.logger = l } }

// WithWriterConfig sets how produced documents are serialized.
func WithWriterConfig(cfg writer.Config) Option { return func(e *Editor) { e.writerCfg = cfg } }

// Editor performs page operations. The zero value is not usable; call New.
type Editor struct {
	logger    observability.Logger
	writerCfg writer.Config
}

func New(opts ...Option) *Editor {
	e := &Editor{logger: observability.NopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = observability.NopLogger{}
	}
	return e
}

// Merge concatenates the pages of docs in order.
func Merge(ctx context.Context, docs ...[]byte) ([]byte, error) { return New().Merge(ctx, docs...) }

// Extract builds a document from the given one-based pages, in the order given.
func Extract(ctx context.Context, data []byte, pageNumbers []int) ([]byte, error) {
	return New().Extract(ctx, data, pageNumbers)
}

// Split returns one document per page range expression.
func Split(ctx context.Context, data []byte, ranges []string) ([][]byte, error) {
	return New().Split(ctx, data, ranges)
}

type source struct {
	doc   *raw.Document
	pages []*pagetree.Page
}

func (e *Editor) load(ctx context.Context, data []byte) (*source, error) {
	doc, err := parser.Load(ctx, data, e.logger)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	pages, err := pagetree.Pages(doc)
	if err != nil {
		return nil, fmt.Errorf("read pages: %w", err)
	}
	return &source{doc: doc, pages: pages}, nil
}

func (e *Editor) Merge(ctx context.Context, docs ...[]byte) ([]byte, error) {
	if len(docs) == 0 {
		return nil, ErrNoInput
	}
	tree := pagetree.NewTree(outputVersion)
	for i, data := range docs {
		src, err := e.load(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
		copier := pagetree.NewCopier(src.doc, tree)
		for _, p := range src.pages {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, err := copier.CopyPage(p); err != nil {
				return nil, fmt.Errorf("document %d page %d: %w", i+1, p.Index+1, err)
			}
		}
		e.logger.Debug("document merged", observability.Int("document", i+1), observability.Int(observability.MetricPageCount, len(src.pages)))
	}
	return e.write(ctx, tree)
}

func (e *Editor) Extract(ctx context.Context, data []byte, pageNumbers []int) ([]byte, error) {
	src, err := e.load(ctx, data)
	if err != nil {
		return nil, err
	}
	return e.extract(ctx, src, pageNumbers)
}

func (e *Editor) Split(ctx context.Context, data []byte, ranges []string) ([][]byte, error) {
	src, err := e.load(ctx, data)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(ranges))
	for _, r := range ranges {
		selected := ParsePageRange(r, len(src.pages))
		if len(selected) == 0 {
			return nil, fmt.Errorf("range %q: %w", r, ErrEmptySelection)
		}
		part, err := e.extract(ctx, src, selected)
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", r, err)
		}
		out = append(out, part)
	}
	return out, nil
}

func (e *Editor) extract(ctx context.Context, src *source, pageNumbers []int) ([]byte, error) {
	if len(pageNumbers) == 0 {
		return nil, ErrEmptySelection
	}
	tree := pagetree.NewTree(outputVersion)
	copier := pagetree.NewCopier(src.doc, tree)
	for _, n := range pageNumbers {
		if n < 1 || n > len(src.pages) {
			return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, n, len(src.pages))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := copier.CopyPage(src.pages[n-1]); err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
	}
	return e.write(ctx, tree)
}

func (e *Editor) write(ctx context.Context, tree *pagetree.Tree) ([]byte, error) {
	var buf bytes.Buffer
	if err := writer.New().WriteRaw(ctx, tree.Doc, &buf, e.writerCfg); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	e.logger.Debug("document written",
		observability.Int(observability.MetricPageCount, tree.Len()),
		observability.Int(observability.MetricOutputBytes, buf.Len()))
	return buf.Bytes(), nil
}

// PageInfo describes one page. Sizes are the MediaBox in points.
type PageInfo struct {
	Number int
	Width  float64
	Height float64
	Rotate int
}

// DocumentInfo is a summary of a document's structure.
type DocumentInfo struct {
	Version string
	Pages   []PageInfo
}

// Info reads the header version and page sizes of data.
func (e *Editor) Info(ctx context.Context, data []byte) (*DocumentInfo, error) {
	src, err := e.load(ctx, data)
	if err != nil {
		return nil, err
	}
	info := &DocumentInfo{Version: src.doc.Version, Pages: make([]PageInfo, len(src.pages))}
	for i, p := range src.pages {
		info.Pages[i] = PageInfo{Number: i + 1, Width: p.Width(), Height: p.Height(), Rotate: p.Rotate}
	}
	return info, nil
}
