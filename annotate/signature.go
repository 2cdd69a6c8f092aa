package annotate

import (
	"context"
	"errors"
	"fmt"

	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/observability"
)

var ErrPageOutOfRange = errors.New("page number out of range")

// Placement locates a signature as fractions of the page size, measured
// from the top-left corner.
type Placement struct {
	X, Y, W, H float64
}

// SignaturePlacement centers a sigW x sigH signature on a click inside a
// containerW x containerH preview and expresses it as page fractions.
func SignaturePlacement(clickX, clickY, containerW, containerH, sigW, sigH float64) Placement {
	return Placement{
		X: (clickX - sigW/2) / containerW,
		Y: (clickY - sigH/2) / containerH,
		W: sigW / containerW,
		H: sigH / containerH,
	}
}

// Rect converts p into a PDF rectangle on a page of the given size.
func (p Placement) Rect(pageW, pageH float64) (x, y, w, h float64) {
	return p.X * pageW, (1 - p.Y - p.H) * pageH, p.W * pageW, p.H * pageH
}

// PlaceSignature draws a PNG or JPEG signature image on the one-based
// pageNumber at placement.
func PlaceSignature(ctx context.Context, data, image []byte, pageNumber int, placement Placement, opts ...Option) ([]byte, error) {
	img, err := builder.ImageFromBytes(image)
	if err != nil {
		return nil, fmt.Errorf("signature image: %w", err)
	}
	s, err := Open(ctx, data, opts...)
	if err != nil {
		return nil, err
	}
	page, ok := s.Page(pageNumber - 1)
	if !ok {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, pageNumber, s.PageCount())
	}
	x, y, w, h := placement.Rect(page.Width, page.Height)
	page.Overlay().DrawImage(img, x, y, w, h, builder.ImageOptions{})
	s.logger.Info("signature placed",
		observability.Int("page", pageNumber),
		observability.Float64("x", x), observability.Float64("y", y),
		observability.Float64("width", w), observability.Float64("height", h))
	return s.Save(ctx)
}
