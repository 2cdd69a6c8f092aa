package annotate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/idmcalculus/kytepdf/annotation"
	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/coords"
)

// ErrSkip marks an annotation that cannot be drawn, such as text without
// content. It never fails a whole embedding.
var ErrSkip = errors.New("annotation skipped")

func skip(reason string) error { return fmt.Errorf("%w: %s", ErrSkip, reason) }

// Defaults applied when an annotation leaves a value unset.
const (
	DefaultFontSize     = 16
	DefaultRectWidth    = 100
	DefaultRectHeight   = 50
	DefaultImageWidth   = 150
	DefaultImageHeight  = 150
	DefaultTextContent  = "New Text"
	defaultTextColorHex = "#000000"
	defaultFillColorHex = "#ffffff"
	lineHeightFactor    = 1.2
)

// Property is one editable setting of an annotation with its effective
// value.
type Property struct {
	Name  string
	Value any
}

// Tool creates, draws and describes one type of annotation.
type Tool interface {
	Type() annotation.Type
	// AddAnnotation stores a new annotation with the tool's defaults at
	// the given position and returns its id.
	AddAnnotation(store *annotation.Store, pageIndex int, at coords.Point) string
	// RenderAnnotation draws a onto page. It returns an error wrapping
	// ErrSkip when a cannot be drawn.
	RenderAnnotation(s *Session, page *Page, a annotation.Annotation) error
	ShowProperties(a annotation.Annotation) []Property
}

// Registry selects the Tool for an annotation type.
type Registry struct{ tools map[annotation.Type]Tool }

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[annotation.Type]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// DefaultRegistry holds the text, rectangle and image tools.
func DefaultRegistry() *Registry { return NewRegistry(TextTool{}, RectangleTool{}, ImageTool{}) }

func (r *Registry) Register(t Tool) { r.tools[t.Type()] = t }

func (r *Registry) Lookup(t annotation.Type) (Tool, bool) {
	tool, ok := r.tools[t]
	return tool, ok
}

func style(a annotation.Annotation) annotation.Style {
	if a.Style == nil {
		return annotation.Style{}
	}
	return *a.Style
}

// orDefault treats nil and non-positive values as unset.
func orDefault(v *float64, def float64) float64 {
	if v == nil || *v <= 0 {
		return def
	}
	return *v
}

func value(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// colorOr parses hex, falling back to def when it is empty or malformed.
func colorOr(s *Session, hex string, def builder.Color) builder.Color {
	if hex == "" {
		return def
	}
	c, err := ParseHexColor(hex)
	if err != nil {
		if s != nil {
			s.logger.Debug("bad annotation color, using default", errField(err))
		}
		return def
	}
	return c
}

type TextTool struct{}

func (TextTool) Type() annotation.Type { return annotation.TypeText }

func (TextTool) AddAnnotation(store *annotation.Store, pageIndex int, at coords.Point) string {
	return store.Add(annotation.Annotation{
		Type:      annotation.TypeText,
		PageIndex: pageIndex,
		X:         at.X,
		Y:         at.Y,
		Content:   DefaultTextContent,
		Style: &annotation.Style{
			FontSize: annotation.Float(DefaultFontSize),
			Color:    defaultTextColorHex,
			Font:     "Helvetica",
		},
	})
}

func (TextTool) RenderAnnotation(s *Session, page *Page, a annotation.Annotation) error {
	if a.Content == "" {
		return skip("text has no content")
	}
	st := style(a)
	size := orDefault(st.FontSize, DefaultFontSize)
	opts := builder.TextOptions{
		Font:     s.Font(st.Font),
		FontSize: size,
		Color:    colorOr(s, st.Color, builder.Black),
		Opacity:  st.Opacity,
		Rotation: value(st.Rotation, 0),
	}
	y := coords.AdjustYForTextBaseline(page.Height-a.Y, size)
	overlay := page.Overlay()
	for i, line := range strings.Split(strings.ReplaceAll(a.Content, "\r\n", "\n"), "\n") {
		if line == "" {
			continue
		}
		overlay.DrawText(line, a.X, y-float64(i)*size*lineHeightFactor, opts)
	}
	return nil
}

func (TextTool) ShowProperties(a annotation.Annotation) []Property {
	st := style(a)
	font, _ := builder.StandardFont(st.Font)
	color := st.Color
	if _, err := ParseHexColor(color); err != nil {
		color = defaultTextColorHex
	}
	return []Property{
		{Name: "content", Value: a.Content},
		{Name: "font", Value: font},
		{Name: "fontSize", Value: orDefault(st.FontSize, DefaultFontSize)},
		{Name: "color", Value: color},
	}
}

type RectangleTool struct{}

func (RectangleTool) Type() annotation.Type { return annotation.TypeRectangle }

func (RectangleTool) AddAnnotation(store *annotation.Store, pageIndex int, at coords.Point) string {
	return store.Add(annotation.Annotation{
		Type:      annotation.TypeRectangle,
		PageIndex: pageIndex,
		X:         at.X,
		Y:         at.Y,
		Width:     annotation.Float(DefaultRectWidth),
		Height:    annotation.Float(DefaultRectHeight),
		Style: &annotation.Style{
			Color:       defaultFillColorHex,
			StrokeWidth: annotation.Float(0),
			Opacity:     annotation.Float(1),
		},
	})
}

func (RectangleTool) RenderAnnotation(s *Session, page *Page, a annotation.Annotation) error {
	st := style(a)
	w := orDefault(a.Width, DefaultRectWidth)
	h := orDefault(a.Height, DefaultRectHeight)
	stroke := value(st.StrokeWidth, 0)
	opts := builder.RectOptions{
		Fill:      true,
		FillColor: colorOr(s, st.Color, builder.White),
		Opacity:   st.Opacity,
		Rotation:  value(st.Rotation, 0),
	}
	if stroke > 0 {
		opts.Stroke = true
		opts.StrokeColor = builder.Black
		opts.LineWidth = stroke
	}
	page.Overlay().DrawRectangle(a.X, page.Height-a.Y-h, w, h, opts)
	return nil
}

func (RectangleTool) ShowProperties(a annotation.Annotation) []Property {
	st := style(a)
	color := st.Color
	if _, err := ParseHexColor(color); err != nil {
		color = defaultFillColorHex
	}
	return []Property{
		{Name: "width", Value: orDefault(a.Width, DefaultRectWidth)},
		{Name: "height", Value: orDefault(a.Height, DefaultRectHeight)},
		{Name: "color", Value: color},
		{Name: "strokeWidth", Value: value(st.StrokeWidth, 0)},
		{Name: "opacity", Value: value(st.Opacity, 1)},
	}
}

type ImageTool struct{}

func (ImageTool) Type() annotation.Type { return annotation.TypeImage }

// AddAnnotation creates an image placeholder; the data URL is set later
// with Store.Update once the user picks a file.
func (ImageTool) AddAnnotation(store *annotation.Store, pageIndex int, at coords.Point) string {
	return store.Add(annotation.Annotation{
		Type:      annotation.TypeImage,
		PageIndex: pageIndex,
		X:         at.X,
		Y:         at.Y,
		Width:     annotation.Float(DefaultImageWidth),
		Height:    annotation.Float(DefaultImageHeight),
		Style: &annotation.Style{
			Opacity:  annotation.Float(1),
			Rotation: annotation.Float(0),
		},
	})
}

func (ImageTool) RenderAnnotation(s *Session, page *Page, a annotation.Annotation) error {
	if a.Content == "" {
		return skip("image has no content")
	}
	img, err := s.Image(a.Content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSkip, err)
	}
	st := style(a)
	w := orDefault(a.Width, DefaultImageWidth)
	h := orDefault(a.Height, DefaultImageHeight)
	page.Overlay().DrawImage(img, a.X, page.Height-a.Y-h, w, h, builder.ImageOptions{
		Opacity:  st.Opacity,
		Rotation: value(st.Rotation, 0),
	})
	return nil
}

func (ImageTool) ShowProperties(a annotation.Annotation) []Property {
	st := style(a)
	return []Property{
		{Name: "width", Value: orDefault(a.Width, DefaultImageWidth)},
		{Name: "height", Value: orDefault(a.Height, DefaultImageHeight)},
		{Name: "rotation", Value: value(st.Rotation, 0)},
		{Name: "opacity", Value: value(st.Opacity, 1)},
	}
}
