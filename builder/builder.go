package builder

import (
	"fmt"
	"math"

	"github.com/idmcalculus/kytepdf/coords"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"golang.org/x/text/encoding/charmap"
)

// PDFBuilder provides a fluent API for PDF construction.
type PDFBuilder interface {
	NewPage(width, height float64) PageBuilder
	AddPage(page *semantic.Page) PDFBuilder
	SetInfo(info *semantic.DocumentInfo) PDFBuilder
	Build() (*semantic.Document, error)
}

// PageBuilder provides a fluent API for page construction.
type PageBuilder interface {
	DrawText(text string, x, y float64, opts TextOptions) PageBuilder
	DrawImage(img *semantic.Image, x, y, width, height float64, opts ImageOptions) PageBuilder
	DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder
	SetCropBox(box semantic.Rectangle) PageBuilder
	SetRotation(degrees int) PageBuilder
	Page() *semantic.Page
	Finish() PDFBuilder
}

// TextOptions configures text drawing. Rotation is in degrees,
// counter-clockwise around (x, y).
type TextOptions struct {
	Font     string // one of the standard 14 base font names
	FontSize float64
	Color    Color
	Opacity  *float64
	Rotation float64
}

// RectOptions configures rectangle drawing (defaults to stroke if neither
// fill nor stroke is set). Rotation turns the rectangle around (x, y).
type RectOptions struct {
	StrokeColor Color
	FillColor   Color
	LineWidth   float64
	Fill        bool
	Stroke      bool
	Opacity     *float64
	Rotation    float64
}

// ImageOptions configures image drawing. Rotation turns the image around
// its lower-left corner.
type ImageOptions struct {
	Interpolate bool
	Opacity     *float64
	Rotation    float64
}

// Color represents an RGB color with components in [0, 1].
type Color struct {
	R, G, B float64
}

var (
	Black = Color{}
	White = Color{1, 1, 1}
)

const (
	defaultFontSize = 12
	defaultBaseFont = "Helvetica"
)

var standardFonts = map[string]bool{
	"Helvetica": true, "Helvetica-Bold": true, "Helvetica-Oblique": true, "Helvetica-BoldOblique": true,
	"Times-Roman": true, "Times-Bold": true, "Times-Italic": true, "Times-BoldItalic": true,
	"Courier": true, "Courier-Bold": true, "Courier-Oblique": true, "Courier-BoldOblique": true,
	"Symbol": true, "ZapfDingbats": true,
}

// StandardFont reports whether name is a standard 14 font, returning
// Helvetica when it is not.
func StandardFont(name string) (string, bool) {
	if standardFonts[name] {
		return name, true
	}
	return defaultBaseFont, false
}

type builderImpl struct {
	pages []*semantic.Page
	info  *semantic.DocumentInfo
}

type pageBuilderImpl struct {
	parent *builderImpl
	page   *semantic.Page
	prefix string

	fontNames   map[string]string
	imageNames  map[*semantic.Image]string
	gstateNames map[float64]string
}

// NewBuilder constructs a PDFBuilder.
func NewBuilder() PDFBuilder { return &builderImpl{} }

// NewOverlay returns a page builder whose page belongs to no document. It
// is meant to be stamped over an existing page. Resource names carry
// prefix so they are unlikely to clash with the page's own.
func NewOverlay(width, height float64, prefix string) PageBuilder {
	return newPageBuilder(nil, width, height, prefix)
}

func newPageBuilder(parent *builderImpl, w, h float64, prefix string) *pageBuilderImpl {
	box := semantic.Rectangle{LLX: 0, LLY: 0, URX: w, URY: h}
	return &pageBuilderImpl{
		parent:      parent,
		page:        &semantic.Page{MediaBox: box, CropBox: box, Resources: semantic.NewResources()},
		prefix:      prefix,
		fontNames:   make(map[string]string),
		imageNames:  make(map[*semantic.Image]string),
		gstateNames: make(map[float64]string),
	}
}

func (b *builderImpl) NewPage(w, h float64) PageBuilder {
	pb := newPageBuilder(b, w, h, "")
	b.pages = append(b.pages, pb.page)
	return pb
}

func (b *builderImpl) AddPage(p *semantic.Page) PDFBuilder {
	b.pages = append(b.pages, p)
	return b
}

func (b *builderImpl) SetInfo(info *semantic.DocumentInfo) PDFBuilder {
	b.info = info
	return b
}

func (b *builderImpl) Build() (*semantic.Document, error) {
	if len(b.pages) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	for i, p := range b.pages {
		p.Index = i
		if p.MediaBox.Width() <= 0 || p.MediaBox.Height() <= 0 {
			return nil, fmt.Errorf("page %d has an empty media box", i+1)
		}
	}
	return &semantic.Document{Pages: b.pages, Info: b.info}, nil
}

func (p *pageBuilderImpl) DrawText(text string, x, y float64, opts TextOptions) PageBuilder {
	ops := p.ensureContentOps()
	fontName := p.fontResource(opts.Font)
	size := opts.FontSize
	if size <= 0 {
		size = defaultFontSize
	}

	*ops = append(*ops, op("q"))
	p.appendOpacity(ops, opts.Opacity)
	*ops = append(*ops, op("BT"))
	*ops = append(*ops, semantic.Operation{
		Operator: "Tf",
		Operands: []semantic.Operand{semantic.NameOperand{Value: fontName}, num(size)},
	})
	m := rotationAt(x, y, opts.Rotation)
	*ops = append(*ops, semantic.Operation{Operator: "Tm", Operands: matrixOperands(m)})
	appendColorOp(ops, opts.Color, false)
	*ops = append(*ops, semantic.Operation{
		Operator: "Tj",
		Operands: []semantic.Operand{semantic.StringOperand{Value: EncodeWinAnsi(text)}},
	})
	*ops = append(*ops, op("ET"), op("Q"))
	return p
}

func (p *pageBuilderImpl) DrawImage(img *semantic.Image, x, y, width, height float64, opts ImageOptions) PageBuilder {
	if img == nil {
		return p
	}
	res := p.page.Resources
	name, ok := p.imageNames[img]
	if !ok {
		name = fmt.Sprintf("%sIm%d", p.prefix, len(p.imageNames)+1)
		p.imageNames[img] = name
		xobj := img
		if xobj.Subtype != "Image" || (opts.Interpolate && !xobj.Interpolate) {
			cp := *img
			cp.Subtype = "Image"
			cp.Interpolate = cp.Interpolate || opts.Interpolate
			xobj = &cp
		}
		res.XObjects[name] = xobj
	}
	w := width
	if w == 0 {
		w = float64(img.Width)
	}
	h := height
	if h == 0 {
		h = float64(img.Height)
	}

	ops := p.ensureContentOps()
	*ops = append(*ops, op("q"))
	p.appendOpacity(ops, opts.Opacity)
	m := coords.Scale(w, h).Multiply(rotationAt(x, y, opts.Rotation))
	*ops = append(*ops, semantic.Operation{Operator: "cm", Operands: matrixOperands(m)})
	*ops = append(*ops, semantic.Operation{
		Operator: "Do",
		Operands: []semantic.Operand{semantic.NameOperand{Value: name}},
	})
	*ops = append(*ops, op("Q"))
	return p
}

func (p *pageBuilderImpl) DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder {
	po := opts
	if !po.Stroke && !po.Fill {
		po.Stroke = true
	}
	ops := p.ensureContentOps()
	*ops = append(*ops, op("q"))
	p.appendOpacity(ops, opts.Opacity)
	if opts.Rotation != 0 {
		*ops = append(*ops, semantic.Operation{Operator: "cm", Operands: matrixOperands(rotationAt(x, y, opts.Rotation))})
		x, y = 0, 0
	}
	if po.Fill {
		appendColorOp(ops, po.FillColor, false)
	}
	if po.Stroke {
		appendColorOp(ops, po.StrokeColor, true)
		if po.LineWidth > 0 {
			*ops = append(*ops, semantic.Operation{Operator: "w", Operands: []semantic.Operand{num(po.LineWidth)}})
		}
	}
	*ops = append(*ops, semantic.Operation{
		Operator: "re",
		Operands: []semantic.Operand{num(x), num(y), num(width), num(height)},
	})
	*ops = append(*ops, op(paintOperator(po.Fill, po.Stroke)))
	*ops = append(*ops, op("Q"))
	return p
}

func (p *pageBuilderImpl) SetCropBox(box semantic.Rectangle) PageBuilder {
	p.page.CropBox = box
	return p
}

func (p *pageBuilderImpl) SetRotation(degrees int) PageBuilder {
	p.page.Rotate = normalizeRotation(degrees)
	return p
}

func (p *pageBuilderImpl) Page() *semantic.Page { return p.page }

func (p *pageBuilderImpl) Finish() PDFBuilder {
	if p.parent == nil {
		return nil
	}
	return p.parent
}

func (p *pageBuilderImpl) fontResource(baseFont string) string {
	baseFont, _ = StandardFont(baseFont)
	if name, ok := p.fontNames[baseFont]; ok {
		return name
	}
	name := fmt.Sprintf("%sF%d", p.prefix, len(p.fontNames)+1)
	p.fontNames[baseFont] = name
	p.page.Resources.Fonts[name] = &semantic.Font{Subtype: "Type1", BaseFont: baseFont, Encoding: "WinAnsiEncoding"}
	return name
}

// appendOpacity emits a gs operator for opacity values below 1.
func (p *pageBuilderImpl) appendOpacity(ops *[]semantic.Operation, opacity *float64) {
	if opacity == nil {
		return
	}
	a := math.Max(0, math.Min(1, *opacity))
	if a >= 1 {
		return
	}
	name, ok := p.gstateNames[a]
	if !ok {
		name = fmt.Sprintf("%sGS%d", p.prefix, len(p.gstateNames)+1)
		p.gstateNames[a] = name
		alpha := a
		p.page.Resources.ExtGStates[name] = semantic.ExtGState{FillAlpha: &alpha, StrokeAlpha: &alpha}
	}
	*ops = append(*ops, semantic.Operation{Operator: "gs", Operands: []semantic.Operand{semantic.NameOperand{Value: name}}})
}

func (p *pageBuilderImpl) ensureContentOps() *[]semantic.Operation {
	if len(p.page.Contents) == 0 {
		p.page.Contents = append(p.page.Contents, semantic.ContentStream{})
	}
	return &p.page.Contents[0].Operations
}

// EncodeWinAnsi encodes text for the standard fonts. Characters outside
// Windows-1252 become '?'.
func EncodeWinAnsi(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

// rotationAt rotates counter-clockwise by deg around (x, y) and moves the
// origin there.
func rotationAt(x, y, deg float64) coords.Matrix {
	if deg == 0 {
		return coords.Translate(x, y)
	}
	return coords.Rotate(coords.Degrees(deg)).Multiply(coords.Translate(x, y))
}

func matrixOperands(m coords.Matrix) []semantic.Operand {
	out := make([]semantic.Operand, 6)
	for i, v := range m {
		out[i] = num(v)
	}
	return out
}

func appendColorOp(ops *[]semantic.Operation, c Color, stroking bool) {
	if c == Black {
		return
	}
	name := "rg"
	if stroking {
		name = "RG"
	}
	*ops = append(*ops, semantic.Operation{
		Operator: name,
		Operands: []semantic.Operand{num(c.R), num(c.G), num(c.B)},
	})
}

func paintOperator(fill, stroke bool) string {
	switch {
	case fill && stroke:
		return "B"
	case fill:
		return "f"
	default:
		return "S"
	}
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg / 90 * 90
}

func op(name string) semantic.Operation { return semantic.Operation{Operator: name} }

func num(v float64) semantic.Operand { return semantic.NumberOperand{Value: v} }
