// Package annotation holds the editable marks a user places on pages and
// an in-memory store for them.
package annotation

// Type selects how an annotation is drawn.
type Type string

const (
	TypeText      Type = "text"
	TypeImage     Type = "image"
	TypeRectangle Type = "rectangle"
)

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeRectangle:
		return true
	}
	return false
}

// Style carries optional rendering hints. Nil pointers mean "use the
// default of the annotation's type".
type Style struct {
	Color       string   `json:"color,omitempty"` // #RRGGBB
	FontSize    *float64 `json:"fontSize,omitempty"`
	Font        string   `json:"font,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	Opacity     *float64 `json:"opacity,omitempty"`
	Rotation    *float64 `json:"rotation,omitempty"` // degrees
}

// Annotation is a single mark on one page. X and Y are in whichever space
// was last written: viewport pixels while editing, PDF points once scaled
// for embedding.
type Annotation struct {
	ID        string   `json:"id"`
	Type      Type     `json:"type"`
	PageIndex int      `json:"pageIndex"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Width     *float64 `json:"width,omitempty"`
	Height    *float64 `json:"height,omitempty"`
	// Content is the text of a text annotation or the data URL of an image.
	Content string `json:"content,omitempty"`
	Style   *Style `json:"style,omitempty"`
}

// Float returns a pointer to v, for the optional fields.
func Float(v float64) *float64 { return &v }

// Clone returns a deep copy of a.
func (a Annotation) Clone() Annotation {
	out := a
	out.Width = cloneFloat(a.Width)
	out.Height = cloneFloat(a.Height)
	if a.Style != nil {
		s := a.Style.Clone()
		out.Style = &s
	}
	return out
}

func (s Style) Clone() Style {
	out := s
	out.FontSize = cloneFloat(s.FontSize)
	out.StrokeWidth = cloneFloat(s.StrokeWidth)
	out.Opacity = cloneFloat(s.Opacity)
	out.Rotation = cloneFloat(s.Rotation)
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Patch lists the fields Update may change. ID and PageIndex are not
// part of it and so can never change. A non-nil Style replaces the whole
// style.
type Patch struct {
	Type    *Type
	X, Y    *float64
	Width   *float64
	Height  *float64
	Content *string
	Style   *Style
}

func (p Patch) apply(a *Annotation) {
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.X != nil {
		a.X = *p.X
	}
	if p.Y != nil {
		a.Y = *p.Y
	}
	if p.Width != nil {
		a.Width = cloneFloat(p.Width)
	}
	if p.Height != nil {
		a.Height = cloneFloat(p.Height)
	}
	if p.Content != nil {
		a.Content = *p.Content
	}
	if p.Style != nil {
		s := p.Style.Clone()
		a.Style = &s
	}
}
