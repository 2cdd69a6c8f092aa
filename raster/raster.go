// Package raster renders PDF pages to bitmaps.
//
// The default renderer is written in Go on top of the content stream
// processor. It fills and strokes paths, draws images and shows text with
// the Go fonts standing in for the standard 14 fonts; it is meant for
// recompression previews, not for faithful rendering. Building with the
// mupdf tag adds a MuPDF backed renderer.
package raster

import (
	"context"
	"errors"
	"image"
	"math"
)

var ErrRender = errors.New("page render failed")

// Renderer opens documents for rasterization.
type Renderer interface {
	Open(ctx context.Context, data []byte) (Document, error)
}

// Document is an open document. Page indexes are zero-based. A Document
// is used by one goroutine at a time.
type Document interface {
	PageCount() int
	// PageSize is the displayed size in points, after page rotation.
	PageSize(i int) (width, height float64, err error)
	// RenderPage renders page i at scale pixels per point into a bitmap
	// of PixelSize(width, height, scale).
	RenderPage(ctx context.Context, i int, scale float64) (*image.RGBA, error)
	Close() error
}

// PixelSize is the bitmap size for a page of w x h points at scale,
// never smaller than one pixel in either direction.
func PixelSize(w, h, scale float64) (int, int) {
	return max(1, int(math.Floor(w*scale))), max(1, int(math.Floor(h*scale)))
}
