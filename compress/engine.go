// Package compress shrinks a PDF towards a target size by rasterizing its
// pages and re-encoding them as JPEG images.
//
// The output is an image-only document: text, vector graphics and fonts are
// flattened and the result is not searchable.
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/go-playground/validator/v10"

	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/optimize"
	"github.com/idmcalculus/kytepdf/raster"
	"github.com/idmcalculus/kytepdf/writer"
)

var ErrInvalidTarget = errors.New("target size must be greater than zero")

// Search bounds. Quality is a fraction in [0, 1].
const (
	MaxIterations = 10
	minQuality    = 0.01
	maxQuality    = 0.95
	// acceptRatio stops the search once a result under the target is
	// within this fraction of it.
	acceptRatio = 0.9
	// qualityFloor is the quality below which an oversized result makes
	// the search drop to a smaller scale.
	qualityFloor = 0.1
	scaleStep    = 0.6
)

// ProgressFunc receives a percentage in [0, 100] and a status line. Calls
// are synchronous and the percentage never decreases.
type ProgressFunc func(percent int, status string)

// Encoder turns a page bitmap into JPEG bytes at quality q in [0, 1].
type Encoder func(img image.Image, q float64) ([]byte, error)

type Option func(*Engine)

func WithLogger(l observability.Logger) Option { return func(e *Engine) { e.logger = l } }
func WithTracer(t observability.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithWriterConfig sets how each candidate document is serialized.
func WithWriterConfig(cfg writer.Config) Option { return func(e *Engine) { e.writerCfg = cfg } }

// WithEncoder replaces the JPEG encoder.
func WithEncoder(enc Encoder) Option { return func(e *Engine) { e.encode = enc } }

type Engine struct {
	renderer  raster.Renderer
	logger    observability.Logger
	tracer    observability.Tracer
	writerCfg writer.Config
	encode    Encoder
	validate  *validator.Validate
}

// request is validated before any work starts.
type request struct {
	TargetSizeKB float64 `validate:"gt=0"`
}

// Result describes a finished compression.
type Result struct {
	Data         []byte
	OriginalSize int
	// Iterations counts successful attempts.
	Iterations   int
	Quality      float64 // of the returned attempt
	Scale        float64 // of the returned attempt
	// Converged reports that the search stopped on a result within 10%
	// below the target rather than by running out of iterations.
	Converged bool
}

// WithinTarget reports whether the returned document is no larger than
// targetSizeKB.
func (r *Result) WithinTarget(targetSizeKB float64) bool {
	return float64(len(r.Data)) <= targetSizeKB*1024
}

func New(renderer raster.Renderer, opts ...Option) *Engine {
	e := &Engine{
		renderer: renderer,
		logger:   observability.NopLogger{},
		tracer:   observability.NopTracer(),
		encode:   optimize.EncodeJPEG,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = observability.NopLogger{}
	}
	if e.tracer == nil {
		e.tracer = observability.NopTracer()
	}
	if e.encode == nil {
		e.encode = optimize.EncodeJPEG
	}
	return e
}

// Compress returns the latest attempt of the search. Reaching the target
// is not guaranteed and not an error; compare the size yourself.
func (e *Engine) Compress(ctx context.Context, data []byte, targetSizeKB float64, progress ProgressFunc) ([]byte, error) {
	res, err := e.CompressWithStats(ctx, data, targetSizeKB, progress)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// CompressWithStats is Compress with details of the search.
//
// Each iteration renders every page at the current scale, encodes it at
// the midpoint of the quality bounds and assembles a document with one
// full-page image per page. An oversized result lowers the upper bound; if
// that happens below qualityFloor the scale shrinks and the bounds reset.
// A result under the target raises the lower bound and ends the search
// when it is within 10% of the target. Both levels share MaxIterations.
func (e *Engine) CompressWithStats(ctx context.Context, data []byte, targetSizeKB float64, progress ProgressFunc) (*Result, error) {
	if err := e.validate.Struct(request{TargetSizeKB: targetSizeKB}); err != nil {
		return nil, fmt.Errorf("%w: got %v KB", ErrInvalidTarget, targetSizeKB)
	}
	if progress == nil {
		progress = func(int, string) {}
	}
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanCompress)
	defer span.Finish()
	target := targetSizeKB * 1024

	doc, err := e.renderer.Open(ctx, data)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	defer doc.Close()
	progress(5, "Analyzing PDF structure...")

	res := &Result{OriginalSize: len(data), Scale: 1}
	scale := 1.0
	done := false
	for res.Iterations < MaxIterations && !done {
		lo, hi := minQuality, maxQuality
		for res.Iterations < MaxIterations {
			if err := ctx.Err(); err != nil {
				span.SetError(err)
				return nil, fmt.Errorf("compress: %w", err)
			}
			q := (lo + hi) / 2
			i := res.Iterations
			progress(10+i*8, fmt.Sprintf("Iterative Compression (%d/%d)...", i+1, MaxIterations))
			out, err := e.attempt(ctx, doc, q, scale)
			if err != nil {
				if ctx.Err() != nil {
					span.SetError(ctx.Err())
					return nil, fmt.Errorf("compress: %w", ctx.Err())
				}
				e.logger.Error("compression iteration failed", observability.Int("iteration", i+1), observability.Error("error", err))
				if res.Data == nil {
					span.SetError(err)
					return nil, err
				}
				done = true
				break
			}
			res.Iterations++
			res.Data, res.Quality, res.Scale = out, q, scale
			size := float64(len(out))
			e.logger.Debug("compression iteration",
				observability.Int("iteration", i+1),
				observability.Float64("quality", q),
				observability.Float64("scale", scale),
				observability.Int(observability.MetricOutputBytes, len(out)))

			if size > target {
				hi = q
				if q < qualityFloor {
					scale *= scaleStep
					break
				}
				continue
			}
			lo = q
			if size > acceptRatio*target {
				res.Converged = true
				done = true
				break
			}
		}
	}
	progress(100, "Finalizing...")

	span.SetTag("iterations", res.Iterations)
	span.SetTag(observability.MetricOutputBytes, len(res.Data))
	e.logger.Info("compression finished",
		observability.Int("original_bytes", res.OriginalSize),
		observability.Int(observability.MetricOutputBytes, len(res.Data)),
		observability.Int("iterations", res.Iterations),
		observability.Bool("converged", res.Converged))
	return res, nil
}

// attempt builds one candidate document at quality q and scale.
func (e *Engine) attempt(ctx context.Context, doc raster.Document, q, scale float64) ([]byte, error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanIteration)
	defer span.Finish()
	span.SetTag("quality", q)
	span.SetTag("scale", scale)

	b := builder.NewBuilder()
	n := doc.PageCount()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, w, h, err := e.renderPage(ctx, doc, i, scale)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		jpg, err := e.encode(img, q)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		xobj, err := builder.FromJPEG(jpg)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		b.NewPage(float64(w), float64(h)).DrawImage(xobj, 0, 0, float64(w), float64(h), builder.ImageOptions{})
	}
	sem, err := b.Build()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writer.New().Write(ctx, sem, &buf, e.writerCfg); err != nil {
		return nil, fmt.Errorf("assemble pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// renderPage rasterizes page i into a bitmap of exactly PixelSize pixels.
func (e *Engine) renderPage(ctx context.Context, doc raster.Document, i int, scale float64) (image.Image, int, int, error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanRasterize)
	defer span.Finish()
	pw, ph, err := doc.PageSize(i)
	if err != nil {
		return nil, 0, 0, err
	}
	w, h := raster.PixelSize(pw, ph, scale)
	span.SetTag("page", i+1)
	img, err := doc.RenderPage(ctx, i, scale)
	if err != nil {
		return nil, 0, 0, err
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		return optimize.Resize(img, w, h), w, h, nil
	}
	return img, w, h, nil
}
