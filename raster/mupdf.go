//go:build mupdf

package raster

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/gen2brain/go-fitz"

	"github.com/idmcalculus/kytepdf/optimize"
)

type mupdfRenderer struct{}

// NewMuPDF returns a renderer backed by MuPDF through cgo.
func NewMuPDF() Renderer { return mupdfRenderer{} }

func (mupdfRenderer) Open(ctx context.Context, data []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &mupdfDocument{doc: doc}, nil
}

type mupdfDocument struct {
	doc *fitz.Document
}

func (d *mupdfDocument) PageCount() int { return d.doc.NumPage() }

func (d *mupdfDocument) PageSize(i int) (float64, float64, error) {
	b, err := d.doc.Bound(i)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: page %d: %v", ErrRender, i+1, err)
	}
	return float64(b.Dx()), float64(b.Dy()), nil
}

func (d *mupdfDocument) RenderPage(ctx context.Context, i int, scale float64) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h, err := d.PageSize(i)
	if err != nil {
		return nil, err
	}
	img, err := d.doc.ImageDPI(i, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrRender, i+1, err)
	}
	pw, ph := PixelSize(w, h, scale)
	if b := img.Bounds(); b.Dx() == pw && b.Dy() == ph {
		return img, nil
	}
	// MuPDF rounds the pixmap size itself.
	out := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(out, out.Bounds(), optimize.Resize(img, pw, ph), image.Point{}, draw.Src)
	return out, nil
}

func (d *mupdfDocument) Close() error { return d.doc.Close() }
