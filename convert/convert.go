// Package convert turns PDF pages into images and images into PDF pages.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"runtime"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/optimize"
	"github.com/idmcalculus/kytepdf/raster"
	"github.com/idmcalculus/kytepdf/writer"
)

var (
	ErrNoImages       = errors.New("no images to convert")
	ErrPageOutOfRange = errors.New("page number out of range")
	ErrInvalidOptions = errors.New("invalid conversion options")
)

const (
	DefaultScale       = 2.0
	DefaultJPEGQuality = 0.92
	defaultBaseName    = "page"
)

// ImageOptions controls PagesToImages. Zero values take the defaults.
type ImageOptions struct {
	Scale   float64             `validate:"gte=0,lte=8"`
	Format  builder.ImageFormat `validate:"omitempty,oneof=png jpeg"`
	Quality float64             `validate:"gte=0,lte=1"` // JPEG only
	// Pages lists one-based page numbers. Empty means every page.
	Pages []int `validate:"dive,gt=0"`
	// BaseName prefixes file names: <base>_page_<n>.<ext>.
	BaseName string
}

// PageImage is one rendered page.
type PageImage struct {
	Page   int
	Name   string
	Data   []byte
	Width  int
	Height int
}

type Option func(*Converter)

func WithLogger(l observability.Logger) Option { return func(c *Converter) { c.logger = l } }

// WithWriterConfig sets how ImagesToPDF serializes its output.
func WithWriterConfig(cfg writer.Config) Option { return func(c *Converter) { c.writerCfg = cfg } }

// WithConcurrency caps parallel image encoding and decoding. Values below 1
// mean GOMAXPROCS.
func WithConcurrency(n int) Option { return func(c *Converter) { c.workers = n } }

type Converter struct {
	renderer  raster.Renderer
	logger    observability.Logger
	writerCfg writer.Config
	workers   int
	validate  *validator.Validate
}

func New(renderer raster.Renderer, opts ...Option) *Converter {
	c := &Converter{renderer: renderer, logger: observability.NopLogger{}, validate: validator.New()}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = observability.NopLogger{}
	}
	if c.workers < 1 {
		c.workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// PagesToImages renders pages with the pure Go renderer.
func PagesToImages(ctx context.Context, data []byte, opts ImageOptions) ([]PageImage, error) {
	return New(raster.New()).PagesToImages(ctx, data, opts)
}

// ImagesToPDF builds a document with one page per PNG or JPEG image.
func ImagesToPDF(ctx context.Context, images [][]byte) ([]byte, error) {
	return New(nil).ImagesToPDF(ctx, images)
}

// PagesToImages rasterizes the selected pages in order and encodes them in
// parallel. The result is ordered like the selection.
func (c *Converter) PagesToImages(ctx context.Context, data []byte, opts ImageOptions) ([]PageImage, error) {
	if err := c.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if opts.Scale == 0 {
		opts.Scale = DefaultScale
	}
	if opts.Format == "" {
		opts.Format = builder.FormatPNG
	}
	if opts.Quality == 0 {
		opts.Quality = DefaultJPEGQuality
	}
	if opts.BaseName == "" {
		opts.BaseName = defaultBaseName
	}
	ext := "png"
	if opts.Format == builder.FormatJPEG {
		ext = "jpg"
	}

	doc, err := c.renderer.Open(ctx, data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	selection := opts.Pages
	if len(selection) == 0 {
		selection = make([]int, doc.PageCount())
		for i := range selection {
			selection[i] = i + 1
		}
	}
	for _, n := range selection {
		if n > doc.PageCount() {
			return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, n, doc.PageCount())
		}
	}

	out := make([]PageImage, len(selection))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, n := range selection {
		i, n := i, n // per-iteration copies (go.mod targets go1.21)
		// Rendering stays on this goroutine; only encoding fans out.
		img, err := doc.RenderPage(gctx, n-1, opts.Scale)
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return nil, werr
			}
			return nil, err
		}
		g.Go(func() error {
			b := img.Bounds()
			enc, err := encode(img, opts.Format, opts.Quality)
			if err != nil {
				return fmt.Errorf("page %d: %w", n, err)
			}
			out[i] = PageImage{
				Page:   n,
				Name:   fmt.Sprintf("%s_page_%d.%s", opts.BaseName, n, ext),
				Data:   enc,
				Width:  b.Dx(),
				Height: b.Dy(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.logger.Debug("pages converted",
		observability.Int(observability.MetricPageCount, len(out)),
		observability.String("format", string(opts.Format)))
	return out, nil
}

func encode(img image.Image, format builder.ImageFormat, q float64) ([]byte, error) {
	if format == builder.FormatJPEG {
		return optimize.EncodeJPEG(img, q)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ImagesToPDF decodes images in parallel and lays each one on its own page
// sized to its pixel dimensions, one point per pixel.
func (c *Converter) ImagesToPDF(ctx context.Context, images [][]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	decoded := make([]*semantic.Image, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, data := range images {
		i, data := i, data // per-iteration copies (go.mod targets go1.21)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := builder.ImageFromBytes(data)
			if err != nil {
				return fmt.Errorf("image %d: %w", i+1, err)
			}
			decoded[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := builder.NewBuilder()
	for _, img := range decoded {
		w, h := float64(img.Width), float64(img.Height)
		b.NewPage(w, h).DrawImage(img, 0, 0, w, h, builder.ImageOptions{})
	}
	doc, err := b.Build()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writer.New().Write(ctx, doc, &buf, c.writerCfg); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	c.logger.Debug("images converted",
		observability.Int(observability.MetricPageCount, len(decoded)),
		observability.Int(observability.MetricOutputBytes, buf.Len()))
	return buf.Bytes(), nil
}
