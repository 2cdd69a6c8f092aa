package annotate

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/idmcalculus/kytepdf/annotation"
	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/coords"
	"github.com/idmcalculus/kytepdf/ir"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/pages"
	"github.com/idmcalculus/kytepdf/writer"
)

func fixture(t *testing.T, pages int) []byte {
	t.Helper()
	b := builder.NewBuilder()
	for i := 0; i < pages; i++ {
		b.NewPage(612, 792).DrawText(fmt.Sprintf("page %d", i+1), 72, 720, builder.TextOptions{})
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

func reparse(t *testing.T, data []byte) *semantic.Document {
	t.Helper()
	doc, err := ir.NewDefault(nil).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	return doc
}

func content(p *semantic.Page) string {
	var sb strings.Builder
	for _, cs := range p.Contents {
		sb.Write(cs.RawBytes)
	}
	return sb.String()
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
		img.Set(x, 1, color.RGBA{B: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestEmbedTextAndSkipsMissingPage(t *testing.T) {
	data := fixture(t, 2)
	anns := []annotation.Annotation{
		{
			ID: "a", Type: annotation.TypeText, PageIndex: 0, X: 50, Y: 100, Content: "Hi",
			Style: &annotation.Style{FontSize: annotation.Float(20), Color: "#ff0000"},
		},
		{ID: "b", Type: annotation.TypeRectangle, PageIndex: 99, X: 10, Y: 10},
	}
	out, err := Embed(context.Background(), data, anns)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	doc := reparse(t, out)
	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(doc.Pages))
	}
	first := content(doc.Pages[0])
	for _, want := range []string{"(page 1) Tj", "20 Tf", "1 0 0 rg", "1 0 0 1 50 676 Tm", "(Hi) Tj"} {
		if !strings.Contains(first, want) {
			t.Fatalf("page 1 missing %q: %q", want, first)
		}
	}
	if strings.Index(first, "(Hi) Tj") < strings.Index(first, "(page 1) Tj") {
		t.Fatalf("annotation drawn beneath page content: %q", first)
	}
	orig := reparse(t, data)
	if got, want := content(doc.Pages[1]), content(orig.Pages[1]); got != want {
		t.Fatalf("page 2 changed: %q != %q", got, want)
	}
	if _, ok := doc.Pages[0].Resources.Fonts["KyF1"]; !ok {
		t.Fatalf("overlay font missing: %v", doc.Pages[0].Resources.Fonts)
	}
	n, err := pages.Validate(context.Background(), out)
	if err != nil {
		t.Fatalf("validate annotated output: %v", err)
	}
	if n != 2 {
		t.Fatalf("validator sees %d pages, want 2", n)
	}
}

func TestEmbedSkipsUndrawableAnnotations(t *testing.T) {
	data := fixture(t, 1)
	anns := []annotation.Annotation{
		{ID: "empty", Type: annotation.TypeText, PageIndex: 0, X: 10, Y: 10},
		{ID: "noimg", Type: annotation.TypeImage, PageIndex: 0, X: 10, Y: 10},
		{ID: "badimg", Type: annotation.TypeImage, PageIndex: 0, Content: "data:image/png;base64,AAAA"},
		{ID: "odd", Type: annotation.Type("arrow"), PageIndex: 0},
		{ID: "neg", Type: annotation.TypeText, PageIndex: -1, Content: "x"},
	}
	out, err := Embed(context.Background(), data, anns)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	got := content(reparse(t, out).Pages[0])
	want := content(reparse(t, data).Pages[0])
	if got != want {
		t.Fatalf("page changed by skipped annotations: %q", got)
	}
}

func TestEmbedRectangleAndImage(t *testing.T) {
	data := fixture(t, 1)
	url := pngDataURL(t)
	anns := []annotation.Annotation{
		{
			ID: "r", Type: annotation.TypeRectangle, PageIndex: 0, X: 10, Y: 20,
			Width: annotation.Float(100), Height: annotation.Float(40),
			Style: &annotation.Style{Color: "#00ff00", StrokeWidth: annotation.Float(2), Opacity: annotation.Float(0.5)},
		},
		{ID: "i1", Type: annotation.TypeImage, PageIndex: 0, X: 0, Y: 0, Content: url},
		{ID: "i2", Type: annotation.TypeImage, PageIndex: 0, X: 300, Y: 300, Content: url},
	}
	out, err := Embed(context.Background(), data, anns)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	page := reparse(t, out).Pages[0]
	c := content(page)
	for _, want := range []string{"0 1 0 rg", "2 w", "10 732 100 40 re", "B\n", "/KyGS1 gs", "/KyIm1 Do"} {
		if !strings.Contains(c, want) {
			t.Fatalf("content missing %q: %q", want, c)
		}
	}
	if strings.Count(c, "/KyIm1 Do") != 2 {
		t.Fatalf("expected the image drawn twice from one resource: %q", c)
	}
	if _, ok := page.Resources.XObjects["KyIm2"]; ok {
		t.Fatalf("same data URL embedded twice")
	}
	if gs := page.Resources.ExtGStates["KyGS1"]; gs.FillAlpha == nil || *gs.FillAlpha != 0.5 {
		t.Fatalf("opacity state: %+v", gs)
	}
}

func TestEmbedRejectsNonPDF(t *testing.T) {
	if _, err := Embed(context.Background(), []byte("hello"), nil); err == nil {
		t.Fatalf("expected error for non-pdf input")
	}
}

func TestToolsAddDefaults(t *testing.T) {
	store := annotation.NewStore()
	at := coords.Point{X: 5, Y: 6}
	tests := []struct {
		tool  Tool
		check func(a annotation.Annotation) error
	}{
		{TextTool{}, func(a annotation.Annotation) error {
			if a.Content != DefaultTextContent || *a.Style.FontSize != DefaultFontSize || a.Style.Font != "Helvetica" {
				return fmt.Errorf("text defaults: %+v %+v", a, a.Style)
			}
			return nil
		}},
		{RectangleTool{}, func(a annotation.Annotation) error {
			if *a.Width != DefaultRectWidth || *a.Height != DefaultRectHeight || a.Style.Color != "#ffffff" {
				return fmt.Errorf("rectangle defaults: %+v", a)
			}
			return nil
		}},
		{ImageTool{}, func(a annotation.Annotation) error {
			if *a.Width != DefaultImageWidth || *a.Height != DefaultImageHeight || a.Content != "" {
				return fmt.Errorf("image defaults: %+v", a)
			}
			return nil
		}},
	}
	for _, tt := range tests {
		id := tt.tool.AddAnnotation(store, 2, at)
		a, ok := store.Get(id)
		if !ok {
			t.Fatalf("%s: annotation %q not stored", tt.tool.Type(), id)
		}
		if a.Type != tt.tool.Type() || a.PageIndex != 2 || a.X != 5 || a.Y != 6 {
			t.Fatalf("%s: placement %+v", tt.tool.Type(), a)
		}
		if err := tt.check(a); err != nil {
			t.Fatal(err)
		}
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 annotations, got %d", store.Len())
	}
}

func TestShowProperties(t *testing.T) {
	a := annotation.Annotation{Type: annotation.TypeText, Content: "x", Style: &annotation.Style{Font: "Wingdings", Color: "red"}}
	props := TextTool{}.ShowProperties(a)
	want := map[string]any{"content": "x", "font": "Helvetica", "fontSize": 16.0, "color": "#000000"}
	for _, p := range props {
		if want[p.Name] != p.Value {
			t.Fatalf("%s = %v, want %v", p.Name, p.Value, want[p.Name])
		}
	}
	props = RectangleTool{}.ShowProperties(annotation.Annotation{Width: annotation.Float(-3)})
	if props[0].Name != "width" || props[0].Value != 100.0 || props[4].Value != 1.0 {
		t.Fatalf("rectangle properties: %+v", props)
	}
}

func TestRegistryReplaceTool(t *testing.T) {
	r := DefaultRegistry()
	if _, ok := r.Lookup(annotation.TypeImage); !ok {
		t.Fatalf("image tool missing")
	}
	r = NewRegistry(TextTool{})
	if _, ok := r.Lookup(annotation.TypeRectangle); ok {
		t.Fatalf("unexpected rectangle tool")
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want builder.Color
		err  bool
	}{
		{"#ff0000", builder.Color{R: 1}, false},
		{"00FF00", builder.Color{G: 1}, false},
		{" #000000 ", builder.Color{}, false},
		{"#fff", builder.Color{}, true},
		{"#gg0000", builder.Color{}, true},
		{"", builder.Color{}, true},
	}
	for _, tt := range tests {
		got, err := ParseHexColor(tt.in)
		if (err != nil) != tt.err {
			t.Fatalf("%q: err = %v", tt.in, err)
		}
		if !tt.err && got != tt.want {
			t.Fatalf("%q: got %+v want %+v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		in       string
		media    string
		data     string
		wantFail bool
	}{
		{"data:text/plain;base64,aGk=", "text/plain", "hi", false},
		{"data:text/plain;base64,aGk", "text/plain", "hi", false},
		{"data:text/plain;base64,a G\nk=", "text/plain", "hi", false},
		{"data:Image/PNG;charset=x;BASE64,aGk=", "image/png", "hi", false},
		{"data:,a%20b", "", "a b", false},
		{"hi", "", "", true},
		{"data:text/plain", "", "", true},
		{"data:;base64,!!!", "", "", true},
	}
	for _, tt := range tests {
		media, data, err := DecodeDataURL(tt.in)
		if tt.wantFail {
			if !errors.Is(err, ErrBadDataURL) {
				t.Fatalf("%q: expected ErrBadDataURL, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || media != tt.media || string(data) != tt.data {
			t.Fatalf("%q: got %q %q %v", tt.in, media, data, err)
		}
	}
}

func TestDecodeImage(t *testing.T) {
	img, err := DecodeImage(pngDataURL(t))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Width != 4 || img.Height != 2 {
		t.Fatalf("size %dx%d", img.Width, img.Height)
	}
	if _, err := DecodeImage("data:image/gif;base64,R0lGODlh"); err == nil {
		t.Fatalf("expected error for unsupported image")
	}
}

func TestScaleAnnotations(t *testing.T) {
	anns := []annotation.Annotation{
		{PageIndex: 0, X: 100, Y: 50, Width: annotation.Float(40)},
		{PageIndex: 1, X: 80, Y: 80, Style: &annotation.Style{FontSize: annotation.Float(32), Color: "#123456"}},
		{PageIndex: 5, X: 7, Y: 9},
	}
	out := ScaleAnnotations(anns, []float64{400, 800})

	if out[0].X != 50 || out[0].Y != 25 || *out[0].Width != 20 || out[0].Height != nil || *out[0].Style.FontSize != 8 {
		t.Fatalf("page 0: %+v %+v", out[0], out[0].Style)
	}
	if out[1].X != 80 || *out[1].Style.FontSize != 32 || out[1].Style.Color != "#123456" {
		t.Fatalf("page 1: %+v %+v", out[1], out[1].Style)
	}
	if out[2].X != 7 || *out[2].Style.FontSize != DefaultFontSize {
		t.Fatalf("unknown page: %+v", out[2])
	}
	if anns[0].X != 100 || anns[0].Style != nil || *anns[1].Style.FontSize != 32 {
		t.Fatalf("input modified: %+v", anns)
	}
}

func TestSignaturePlacement(t *testing.T) {
	p := SignaturePlacement(400, 300, 800, 600, 200, 100)
	want := Placement{X: 0.375, Y: 250.0 / 600, W: 0.25, H: 100.0 / 600}
	if math.Abs(p.X-want.X) > 1e-9 || math.Abs(p.Y-want.Y) > 1e-9 || p.W != want.W || math.Abs(p.H-want.H) > 1e-9 {
		t.Fatalf("placement %+v, want %+v", p, want)
	}
	x, y, w, h := p.Rect(612, 792)
	for i, pair := range [][2]float64{{x, 229.5}, {y, 330}, {w, 153}, {h, 132}} {
		if math.Abs(pair[0]-pair[1]) > 1e-6 {
			t.Fatalf("rect[%d] = %v, want %v", i, pair[0], pair[1])
		}
	}
}

func TestPlaceSignature(t *testing.T) {
	data := fixture(t, 2)
	_, sig, err := DecodeDataURL(pngDataURL(t))
	if err != nil {
		t.Fatal(err)
	}
	p := SignaturePlacement(400, 300, 800, 600, 200, 100)
	out, err := PlaceSignature(context.Background(), data, sig, 2, p)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	doc := reparse(t, out)
	if c := content(doc.Pages[1]); !strings.Contains(c, "153 0 0 132 229.5 330 cm") || !strings.Contains(c, "/KyIm1 Do") {
		t.Fatalf("signature not drawn on page 2: %q", c)
	}
	if strings.Contains(content(doc.Pages[0]), "Do") {
		t.Fatalf("signature drawn on page 1")
	}

	if _, err := PlaceSignature(context.Background(), data, sig, 3, p); !errors.Is(err, ErrPageOutOfRange) {
		t.Fatalf("expected ErrPageOutOfRange, got %v", err)
	}
	if _, err := PlaceSignature(context.Background(), data, []byte("nope"), 1, p); err == nil {
		t.Fatalf("expected error for bad image")
	}
}
