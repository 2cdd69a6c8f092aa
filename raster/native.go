package raster

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/idmcalculus/kytepdf/contentstream"
	"github.com/idmcalculus/kytepdf/coords"
	"github.com/idmcalculus/kytepdf/ir"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/observability"
)

type options struct {
	logger observability.Logger
}

type Option func(*options)

func WithLogger(l observability.Logger) Option { return func(o *options) { o.logger = l } }

type nativeRenderer struct {
	logger observability.Logger
}

// New returns the pure Go renderer.
func New(opts ...Option) Renderer {
	o := options{logger: observability.NopLogger{}}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = observability.NopLogger{}
	}
	return &nativeRenderer{logger: o.logger}
}

func (r *nativeRenderer) Open(ctx context.Context, data []byte) (Document, error) {
	doc, err := ir.NewDefault(r.logger).ParseBytes(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &nativeDocument{doc: doc, logger: r.logger, fonts: newFontCache()}, nil
}

type nativeDocument struct {
	doc    *semantic.Document
	logger observability.Logger
	fonts  *fontCache
}

func (d *nativeDocument) PageCount() int { return len(d.doc.Pages) }

func (d *nativeDocument) page(i int) (*semantic.Page, error) {
	if i < 0 || i >= len(d.doc.Pages) {
		return nil, fmt.Errorf("%w: page %d of %d", ErrRender, i+1, len(d.doc.Pages))
	}
	return d.doc.Pages[i], nil
}

func (d *nativeDocument) PageSize(i int) (float64, float64, error) {
	p, err := d.page(i)
	if err != nil {
		return 0, 0, err
	}
	w, h := displaySize(pageBox(p), p.Rotate)
	return w, h, nil
}

func (d *nativeDocument) RenderPage(ctx context.Context, i int, scale float64) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.page(i)
	if err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, fmt.Errorf("%w: page %d: scale %v", ErrRender, i+1, scale)
	}
	box := pageBox(p)
	w, h := displaySize(box, p.Rotate)
	pw, ph := PixelSize(w, h, scale)
	dst := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	var ops []semantic.Operation
	for _, cs := range p.Contents {
		if cs.Operations != nil {
			ops = append(ops, cs.Operations...)
			continue
		}
		parsed, err := contentstream.Parse(cs.RawBytes)
		if err != nil {
			d.logger.Debug("content stream truncated", observability.Int("page", i+1), observability.Error("error", err))
		}
		ops = append(ops, parsed...)
	}

	c := newCanvas(ctx, dst, d.fonts, d.logger)
	ec := contentstream.NewExecutionContext(deviceMatrix(box, p.Rotate, scale), p.Resources)
	if err := c.run(ops, ec); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: page %d: %v", ErrRender, i+1, err)
	}
	return dst, nil
}

func (d *nativeDocument) Close() error {
	d.doc = &semantic.Document{}
	return nil
}

// pageBox is the visible area: the crop box when set, else the media box,
// else US Letter.
func pageBox(p *semantic.Page) semantic.Rectangle {
	if p.CropBox.Width() > 0 && p.CropBox.Height() > 0 {
		return p.CropBox
	}
	if p.MediaBox.Width() > 0 && p.MediaBox.Height() > 0 {
		return p.MediaBox
	}
	return semantic.Rectangle{URX: 612, URY: 792}
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg / 90 * 90
}

func displaySize(box semantic.Rectangle, rotate int) (float64, float64) {
	if r := normalizeRotation(rotate); r == 90 || r == 270 {
		return box.Height(), box.Width()
	}
	return box.Width(), box.Height()
}

// deviceMatrix maps user space to pixels: y grows downwards, the page is
// turned clockwise by rotate and the box corner lands on the origin.
func deviceMatrix(box semantic.Rectangle, rotate int, s float64) coords.Matrix {
	w, h := box.Width(), box.Height()
	var m coords.Matrix
	switch normalizeRotation(rotate) {
	case 90:
		m = coords.Matrix{0, s, s, 0, 0, 0}
	case 180:
		m = coords.Matrix{-s, 0, 0, s, w * s, 0}
	case 270:
		m = coords.Matrix{0, -s, -s, 0, h * s, w * s}
	default:
		m = coords.Matrix{s, 0, 0, -s, 0, h * s}
	}
	return coords.Translate(-box.LLX, -box.LLY).Multiply(m)
}
