package semantic

import "github.com/idmcalculus/kytepdf/ir/raw"

// Document is the semantic representation of a PDF: pages with their
// resources and content, without the object graph.
type Document struct {
	Pages []*Page
	Info  *DocumentInfo
	// Version is the header version to write, e.g. "1.7".
	Version string
}

// Page models a single PDF page.
type Page struct {
	Index     int
	MediaBox  Rectangle
	CropBox   Rectangle
	Rotate    int // degrees: 0/90/180/270
	Resources *Resources
	Contents  []ContentStream
	// OriginalRef is the page object this page was read from, if any.
	OriginalRef raw.ObjectRef
}

// Width of the media box in points.
func (p *Page) Width() float64 { return p.MediaBox.Width() }

// Height of the media box in points.
func (p *Page) Height() float64 { return p.MediaBox.Height() }

// ContentStream is a sequence of operations on a page. Pages read from a
// file carry RawBytes (decoded); pages built in memory carry Operations.
type ContentStream struct {
	Operations []Operation
	RawBytes   []byte
}

// Operation represents a PDF operator and operands.
type Operation struct {
	Operator string
	Operands []Operand
}

// Operand is a type-safe operand value.
type Operand interface {
	operand()
	Type() string
}

type NumberOperand struct{ Value float64 }

func (NumberOperand) operand()     {}
func (NumberOperand) Type() string { return "number" }

type NameOperand struct{ Value string }

func (NameOperand) operand()     {}
func (NameOperand) Type() string { return "name" }

type StringOperand struct{ Value []byte }

func (StringOperand) operand()     {}
func (StringOperand) Type() string { return "string" }

type ArrayOperand struct{ Values []Operand }

func (ArrayOperand) operand()     {}
func (ArrayOperand) Type() string { return "array" }

type DictOperand struct{ Values map[string]Operand }

func (DictOperand) operand()     {}
func (DictOperand) Type() string { return "dict" }

type BoolOperand struct{ Value bool }

func (BoolOperand) operand()     {}
func (BoolOperand) Type() string { return "boolean" }

// InlineImageOperand carries the parameters and data of a BI/ID/EI image.
type InlineImageOperand struct {
	Image DictOperand
	Data  []byte
}

func (InlineImageOperand) operand()     {}
func (InlineImageOperand) Type() string { return "inline_image" }

// Resources holds the named resources a content stream can reference.
type Resources struct {
	Fonts      map[string]*Font
	ExtGStates map[string]ExtGState
	XObjects   map[string]*XObject
}

// NewResources returns Resources with all maps allocated.
func NewResources() *Resources {
	return &Resources{
		Fonts:      make(map[string]*Font),
		ExtGStates: make(map[string]ExtGState),
		XObjects:   make(map[string]*XObject),
	}
}

// Font represents a font resource. Only the simple standard fonts are
// generated; fonts read from files keep their names for reporting.
type Font struct {
	Subtype  string // Type1, TrueType, Type0, ...
	BaseFont string
	Encoding string
	// Embedded is true when a FontFile stream is present.
	Embedded bool
}

// ExtGState captures graphics state defaults such as transparency.
type ExtGState struct {
	LineWidth   *float64
	StrokeAlpha *float64
	FillAlpha   *float64
	BlendMode   string
}

// ColorSpace references a named colorspace.
type ColorSpace interface {
	ColorSpaceName() string
}

type DeviceColorSpace struct {
	Name string // DeviceRGB, DeviceGray, DeviceCMYK
}

func (cs DeviceColorSpace) ColorSpaceName() string { return cs.Name }

// Components reports the number of color components, defaulting to 3.
func (cs DeviceColorSpace) Components() int {
	switch cs.Name {
	case "DeviceGray", "G", "CalGray":
		return 1
	case "DeviceCMYK", "CMYK":
		return 4
	}
	return 3
}

// ICCBasedColorSpace is rendered through its alternate space.
type ICCBasedColorSpace struct {
	N         int
	Alternate ColorSpace
}

func (cs *ICCBasedColorSpace) ColorSpaceName() string { return "ICCBased" }

// IndexedColorSpace maps palette indices to colors in Base.
type IndexedColorSpace struct {
	Base   ColorSpace
	Hival  int
	Lookup []byte
}

func (cs *IndexedColorSpace) ColorSpaceName() string { return "Indexed" }

// Components reports how many samples a pixel has in cs.
func Components(cs ColorSpace) int {
	switch v := cs.(type) {
	case DeviceColorSpace:
		return v.Components()
	case *ICCBasedColorSpace:
		if v.N > 0 {
			return v.N
		}
		if v.Alternate != nil {
			return Components(v.Alternate)
		}
	case *IndexedColorSpace:
		return 1
	}
	return 3
}

// XObject describes an image or form XObject.
//
// For images Data holds the samples after all supported filters are
// applied. When Filter is DCTDecode, Data is a JPEG file instead. When
// writing, an image without Filter is compressed with Flate.
type XObject struct {
	Subtype          string // Image, Form
	Width            int
	Height           int
	ColorSpace       ColorSpace
	BitsPerComponent int
	Data             []byte
	Filter           string
	SMask            *XObject
	Interpolate      bool
	Decode           []float64
	ImageMask        bool

	// Form XObjects
	BBox      Rectangle
	Matrix    []float64
	Resources *Resources
}

// Image is an alias for XObject for image convenience APIs.
type Image = XObject

// Rectangle represents a PDF rectangle.
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

func (r Rectangle) Width() float64  { return r.URX - r.LLX }
func (r Rectangle) Height() float64 { return r.URY - r.LLY }

// DocumentInfo models /Info dictionary values.
type DocumentInfo struct {
	Title    string
	Author   string
	Subject  string
	Keywords []string
	Creator  string
	Producer string
}
