package convert

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/ir"
	"github.com/idmcalculus/kytepdf/writer"
)

func fixture(t *testing.T, n int) []byte {
	t.Helper()
	b := builder.NewBuilder()
	for i := 0; i < n; i++ {
		b.NewPage(100, 50).DrawRectangle(0, 0, 50, 50, builder.RectOptions{Fill: true, FillColor: builder.Color{R: 1}})
	}
	doc, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var buf bytes.Buffer
	if err := writer.New().Write(context.Background(), doc, &buf, writer.Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	return buf.Bytes()
}

func TestPagesToImagesPNG(t *testing.T) {
	out, err := PagesToImages(context.Background(), fixture(t, 3), ImageOptions{BaseName: "doc"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("images = %d", len(out))
	}
	for i, pi := range out {
		if pi.Page != i+1 || pi.Name != "doc_page_"+string(rune('1'+i))+".png" {
			t.Errorf("image %d: page %d name %q", i, pi.Page, pi.Name)
		}
		if pi.Width != 200 || pi.Height != 100 {
			t.Errorf("image %d: %dx%d", i, pi.Width, pi.Height)
		}
		img, err := png.Decode(bytes.NewReader(pi.Data))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if r, g, _, _ := img.At(20, 50).RGBA(); r>>8 < 200 || g>>8 > 50 {
			t.Errorf("image %d: left half not red", i)
		}
		if r, g, b, _ := img.At(180, 50).RGBA(); r>>8 < 200 || g>>8 < 200 || b>>8 < 200 {
			t.Errorf("image %d: right half not white", i)
		}
	}
}

func TestPagesToImagesJPEGSelection(t *testing.T) {
	out, err := PagesToImages(context.Background(), fixture(t, 4), ImageOptions{
		Format: builder.FormatJPEG,
		Scale:  1,
		Pages:  []int{4, 2},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 2 || out[0].Page != 4 || out[1].Page != 2 {
		t.Fatalf("pages = %+v", out)
	}
	if out[0].Name != "page_page_4.jpg" {
		t.Fatalf("name = %q", out[0].Name)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out[1].Data))
	if err != nil || cfg.Width != 100 || cfg.Height != 50 {
		t.Fatalf("jpeg %+v, %v", cfg, err)
	}
}

func TestPagesToImagesErrors(t *testing.T) {
	data := fixture(t, 1)
	cases := []struct {
		name string
		opts ImageOptions
		want error
	}{
		{"page past end", ImageOptions{Pages: []int{2}}, ErrPageOutOfRange},
		{"page zero", ImageOptions{Pages: []int{0}}, ErrInvalidOptions},
		{"bad format", ImageOptions{Format: "gif"}, ErrInvalidOptions},
		{"negative scale", ImageOptions{Scale: -1}, ErrInvalidOptions},
		{"quality", ImageOptions{Quality: 2}, ErrInvalidOptions},
	}
	for _, c := range cases {
		if _, err := PagesToImages(context.Background(), data, c.opts); !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}
	}
	if _, err := PagesToImages(context.Background(), []byte("nope"), ImageOptions{}); err == nil {
		t.Errorf("expected error for non-PDF input")
	}
}

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImagesToPDF(t *testing.T) {
	out, err := ImagesToPDF(context.Background(), [][]byte{
		encodePNG(t, 30, 20, color.NRGBA{R: 255, A: 128}),
		encodeJPEG(t, 64, 48),
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	doc, err := ir.NewDefault(nil).ParseBytes(context.Background(), out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("pages = %d", len(doc.Pages))
	}
	sizes := [][2]float64{{30, 20}, {64, 48}}
	filters := []string{"", "DCTDecode"}
	for i, p := range doc.Pages {
		if p.MediaBox.Width() != sizes[i][0] || p.MediaBox.Height() != sizes[i][1] {
			t.Errorf("page %d media box %+v", i+1, p.MediaBox)
		}
		if len(p.Resources.XObjects) != 1 {
			t.Fatalf("page %d xobjects = %d", i+1, len(p.Resources.XObjects))
		}
		for _, x := range p.Resources.XObjects {
			if x.Filter != filters[i] {
				t.Errorf("page %d filter %q", i+1, x.Filter)
			}
			if i == 0 && x.SMask == nil {
				t.Errorf("png alpha lost")
			}
		}
	}
}

func TestImagesToPDFErrors(t *testing.T) {
	if _, err := ImagesToPDF(context.Background(), nil); !errors.Is(err, ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}
	_, err := ImagesToPDF(context.Background(), [][]byte{encodePNG(t, 2, 2, color.Black), []byte("GIF89a")})
	if !errors.Is(err, builder.ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
}
