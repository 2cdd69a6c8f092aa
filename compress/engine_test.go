package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/ir"
	"github.com/idmcalculus/kytepdf/optimize"
	"github.com/idmcalculus/kytepdf/pages"
	"github.com/idmcalculus/kytepdf/raster"
	"github.com/idmcalculus/kytepdf/writer"
)

// fakeDoc renders flat grey pages of 100x50 points and records the scale of
// every render call.
type fakeDoc struct {
	pages  int
	scales []float64
	calls  int
	failAt int // one-based render call that fails, 0 for never
}

func (d *fakeDoc) Open(context.Context, []byte) (raster.Document, error) { return d, nil }
func (d *fakeDoc) PageCount() int                                         { return d.pages }
func (d *fakeDoc) PageSize(int) (float64, float64, error)                 { return 100, 50, nil }
func (d *fakeDoc) Close() error                                           { return nil }

func (d *fakeDoc) RenderPage(_ context.Context, i int, scale float64) (*image.RGBA, error) {
	d.calls++
	if d.failAt == d.calls {
		return nil, fmt.Errorf("%w: page %d: boom", raster.ErrRender, i+1)
	}
	d.scales = append(d.scales, scale)
	w, h := raster.PixelSize(100, 50, scale)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}
	return img, nil
}

// paddedEncoder appends pad(q) bytes after a real JPEG so the output size
// is controlled by the test. Only the JPEG header is read back.
func paddedEncoder(pad func(q float64) int) Encoder {
	return func(img image.Image, q float64) ([]byte, error) {
		jpg, err := optimize.EncodeJPEG(img, q)
		if err != nil {
			return nil, err
		}
		return append(jpg, make([]byte, pad(q))...), nil
	}
}

func TestCompressShrinksScaleWhenAlwaysOverTarget(t *testing.T) {
	doc := &fakeDoc{pages: 1}
	var qualities []float64
	enc := paddedEncoder(func(q float64) int {
		qualities = append(qualities, q)
		return 100000
	})
	res, err := New(doc, WithEncoder(enc)).CompressWithStats(context.Background(), []byte("%PDF"), 1, nil)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if res.Iterations != MaxIterations {
		t.Fatalf("iterations = %d", res.Iterations)
	}
	if res.Converged {
		t.Fatalf("unexpected convergence")
	}
	wantScales := []float64{1, 1, 1, 1, 0.6, 0.6, 0.6, 0.6, 0.36, 0.36}
	if len(doc.scales) != len(wantScales) {
		t.Fatalf("scales = %v", doc.scales)
	}
	for i, s := range wantScales {
		if math.Abs(doc.scales[i]-s) > 1e-9 {
			t.Fatalf("scales = %v, want %v", doc.scales, wantScales)
		}
	}
	wantQ := []float64{0.48, 0.245, 0.1275, 0.06875, 0.48}
	for i, q := range wantQ {
		if math.Abs(qualities[i]-q) > 1e-9 {
			t.Fatalf("qualities = %v", qualities)
		}
	}
	if math.Abs(res.Quality-0.245) > 1e-9 || math.Abs(res.Scale-0.36) > 1e-9 {
		t.Fatalf("returned attempt q=%v scale=%v", res.Quality, res.Scale)
	}
	if res.WithinTarget(1) {
		t.Fatalf("result should be over target")
	}
}

func TestCompressStopsNearTarget(t *testing.T) {
	doc := &fakeDoc{pages: 2}
	enc := paddedEncoder(func(q float64) int { return int(q * 500000) })
	// Two pages at q=0.48 give about 480000 bytes: under 500 KB and above 90% of it.
	res, err := New(doc, WithEncoder(enc)).CompressWithStats(context.Background(), []byte("%PDF"), 500, nil)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if res.Iterations != 1 || !res.Converged {
		t.Fatalf("iterations=%d converged=%v", res.Iterations, res.Converged)
	}
	if !res.WithinTarget(500) {
		t.Fatalf("size %d over target", len(res.Data))
	}
	if len(doc.scales) != 2 {
		t.Fatalf("rendered %d pages", len(doc.scales))
	}
}

func TestCompressReturnsBestAttemptAfterFailure(t *testing.T) {
	doc := &fakeDoc{pages: 1, failAt: 2}
	enc := paddedEncoder(func(float64) int { return 100000 })
	res, err := New(doc, WithEncoder(enc)).CompressWithStats(context.Background(), []byte("%PDF"), 1, nil)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	// the failed second attempt is not counted
	if res.Iterations != 1 || res.Data == nil || math.Abs(res.Quality-0.48) > 1e-9 {
		t.Fatalf("iterations=%d quality=%v", res.Iterations, res.Quality)
	}
}

func TestCompressFailsWithoutAttempt(t *testing.T) {
	doc := &fakeDoc{pages: 1, failAt: 1}
	_, err := New(doc).Compress(context.Background(), []byte("%PDF"), 100, nil)
	if !errors.Is(err, raster.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
}

func TestCompressCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := New(&fakeDoc{pages: 1}).Compress(ctx, []byte("%PDF"), 100, nil)
	if !errors.Is(err, context.Canceled) || out != nil {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCompressInvalidTarget(t *testing.T) {
	for _, target := range []float64{0, -5} {
		if _, err := New(&fakeDoc{pages: 1}).Compress(context.Background(), nil, target, nil); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("target %v: expected ErrInvalidTarget, got %v", target, err)
		}
	}
}

func TestCompressRejectsNonPDF(t *testing.T) {
	if _, err := New(raster.New()).Compress(context.Background(), []byte("hello"), 100, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCompressEndToEnd(t *testing.T) {
	b := builder.NewBuilder()
	for i := 1; i <= 3; i++ {
		b.NewPage(612, 792).
			DrawText(fmt.Sprintf("page %d", i), 72, 700, builder.TextOptions{FontSize: 24}).
			DrawRectangle(72, 100, 200, 300, builder.RectOptions{Fill: true, FillColor: builder.Color{B: 1}})
	}
	src, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	var in bytes.Buffer
	if err := writer.New().Write(context.Background(), src, &in, writer.Config{}); err != nil {
		t.Fatal(err)
	}

	var percents []int
	var statuses []string
	progress := func(p int, s string) {
		percents = append(percents, p)
		statuses = append(statuses, s)
	}
	out, err := New(raster.New()).Compress(context.Background(), in.Bytes(), 5000, progress)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	doc, err := ir.NewDefault(nil).ParseBytes(context.Background(), out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(doc.Pages) != 3 {
		t.Fatalf("pages = %d", len(doc.Pages))
	}
	if n, err := pages.Validate(context.Background(), out); err != nil || n != 3 {
		t.Fatalf("validate compressed output: %d pages, %v", n, err)
	}
	for i, p := range doc.Pages {
		if p.MediaBox.Width() != 612 || p.MediaBox.Height() != 792 {
			t.Errorf("page %d media box %+v", i+1, p.MediaBox)
		}
		images := 0
		for _, x := range p.Resources.XObjects {
			if x.Subtype == "Image" && x.Filter == "DCTDecode" {
				images++
			}
		}
		if images != 1 {
			t.Errorf("page %d has %d JPEG images", i+1, images)
		}
	}

	if len(percents) < 3 || percents[0] != 5 || percents[len(percents)-1] != 100 {
		t.Fatalf("progress = %v", percents)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress went backwards: %v", percents)
		}
	}
	if statuses[0] != "Analyzing PDF structure..." || statuses[len(statuses)-1] != "Finalizing..." {
		t.Fatalf("statuses = %v", statuses)
	}
	iterations := 0
	for _, s := range statuses {
		if strings.HasPrefix(s, "Iterative Compression (") {
			iterations++
		}
	}
	if iterations == 0 || iterations > MaxIterations {
		t.Fatalf("iterations = %d", iterations)
	}
	if statuses[1] != "Iterative Compression (1/10)..." || percents[1] != 10 {
		t.Fatalf("first iteration %d %q", percents[1], statuses[1])
	}
}
