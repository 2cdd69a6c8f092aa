package raster

import (
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/encoding/charmap"

	"github.com/idmcalculus/kytepdf/contentstream"
	"github.com/idmcalculus/kytepdf/coords"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/observability"
)

var goFonts = map[string][]byte{
	"regular":        goregular.TTF,
	"bold":           gobold.TTF,
	"italic":         goitalic.TTF,
	"bolditalic":     gobolditalic.TTF,
	"mono":           gomono.TTF,
	"monobold":       gomonobold.TTF,
	"monoitalic":     gomonoitalic.TTF,
	"monobolditalic": gomonobolditalic.TTF,
}

// face stands in for a PDF font: a Go font plus the single byte encoding
// that maps codes to runes. Composite fonts are not drawn.
type face struct {
	sf        *sfnt.Font
	ppem      fixed.Int26_6
	decode    func(b byte) rune
	composite bool
}

// fontCache parses each Go font once per document.
type fontCache struct {
	parsed map[string]*sfnt.Font
	faces  map[*semantic.Font]*face
	buf    sfnt.Buffer
}

func newFontCache() *fontCache {
	return &fontCache{parsed: make(map[string]*sfnt.Font), faces: make(map[*semantic.Font]*face)}
}

// variant picks the Go font closest to a PDF base font name.
func variant(baseFont string) string {
	name := strings.ToLower(baseFont)
	if i := strings.IndexByte(name, '+'); i >= 0 {
		name = name[i+1:]
	}
	v := ""
	if strings.Contains(name, "courier") || strings.Contains(name, "mono") {
		v = "mono"
	}
	if strings.Contains(name, "bold") || strings.Contains(name, "black") || strings.Contains(name, "heavy") {
		v += "bold"
	}
	if strings.Contains(name, "italic") || strings.Contains(name, "oblique") {
		v += "italic"
	}
	if v == "" {
		return "regular"
	}
	return v
}

func (fc *fontCache) face(f *semantic.Font) (*face, error) {
	if fa, ok := fc.faces[f]; ok {
		return fa, nil
	}
	base, enc, subtype := "", "", ""
	if f != nil {
		base, enc, subtype = f.BaseFont, f.Encoding, f.Subtype
	}
	v := variant(base)
	sf, ok := fc.parsed[v]
	if !ok {
		var err error
		sf, err = opentype.Parse(goFonts[v])
		if err != nil {
			return nil, err
		}
		fc.parsed[v] = sf
	}
	fa := &face{sf: sf, ppem: fixed.I(int(sf.UnitsPerEm())), composite: subtype == "Type0"}
	switch {
	case enc == "MacRomanEncoding":
		fa.decode = charmap.Macintosh.DecodeByte
	case base == "Symbol" || base == "ZapfDingbats":
		fa.decode = func(b byte) rune { return rune(b) }
	default:
		fa.decode = charmap.Windows1252.DecodeByte
	}
	fc.faces[f] = fa
	return fa, nil
}

func (c *canvas) showText(ec *contentstream.ExecutionContext, operands []semantic.Operand) {
	for i := len(operands) - 1; i >= 0; i-- {
		if s, ok := operands[i].(semantic.StringOperand); ok {
			c.drawString(ec, s.Value)
			return
		}
	}
}

func (c *canvas) showTextArray(ec *contentstream.ExecutionContext, operands []semantic.Operand) {
	if len(operands) != 1 {
		return
	}
	arr, ok := operands[0].(semantic.ArrayOperand)
	if !ok {
		return
	}
	gs := ec.GraphicsState
	for _, v := range arr.Values {
		switch v := v.(type) {
		case semantic.StringOperand:
			c.drawString(ec, v.Value)
		case semantic.NumberOperand:
			ec.TextState.Advance(-v.Value / 1000 * gs.FontSize * gs.HorizScale / 100)
		}
	}
}

// drawString shows one string with the glyph outlines of the stand-in
// font, advancing the text matrix by the stand-in widths.
func (c *canvas) drawString(ec *contentstream.ExecutionContext, s []byte) {
	gs := ec.GraphicsState
	fa, err := c.fonts.face(gs.Font)
	if err != nil {
		c.logger.Debug("font unavailable", observability.Error("error", err))
		return
	}
	th := gs.HorizScale / 100
	visible := gs.RenderMode != contentstream.TextInvisible && gs.RenderMode != contentstream.TextClip
	if fa.composite {
		// Without a CMap only the advance can be approximated.
		ec.TextState.Advance(float64(len(s)/2) * 0.5 * gs.FontSize * th)
		return
	}
	upem := float64(fa.ppem) / 64
	var glyphs []pathSeg
	for _, code := range s {
		gi, err := fa.sf.GlyphIndex(&c.fonts.buf, fa.decode(code))
		if err != nil {
			gi = 0
		}
		if visible && gi != 0 {
			glyphs = append(glyphs, c.glyph(ec, fa, gi, upem)...)
		}
		adv, err := fa.sf.GlyphAdvance(&c.fonts.buf, gi, fa.ppem, font.HintingNone)
		w0 := 0.5
		if err == nil {
			w0 = float64(adv) / 64 / upem
		}
		tx := w0*gs.FontSize + gs.CharSpacing
		if code == ' ' {
			tx += gs.WordSpacing
		}
		ec.TextState.Advance(tx * th)
	}
	if len(glyphs) > 0 {
		c.fill(glyphs, c.clip(ec), gs.FillColor, gs.FillAlpha)
	}
}

// glyph returns the outline of gi at the current text position in device
// space. Outlines come back with y growing downwards in font units.
func (c *canvas) glyph(ec *contentstream.ExecutionContext, fa *face, gi sfnt.GlyphIndex, upem float64) []pathSeg {
	segs, err := fa.sf.LoadGlyph(&c.fonts.buf, gi, fa.ppem, nil)
	if err != nil {
		return nil
	}
	trm := ec.RenderingMatrix()
	pt := func(p fixed.Point26_6) coords.Point {
		return trm.Transform(coords.Point{X: float64(p.X) / 64 / upem, Y: -float64(p.Y) / 64 / upem})
	}
	out := make([]pathSeg, 0, len(segs)+1)
	for _, s := range segs {
		switch s.Op {
		case sfnt.SegmentOpMoveTo:
			if len(out) > 0 {
				out = append(out, pathSeg{op: segClose})
			}
			out = append(out, pathSeg{op: segMove, pts: [3]coords.Point{pt(s.Args[0])}})
		case sfnt.SegmentOpLineTo:
			out = append(out, pathSeg{op: segLine, pts: [3]coords.Point{pt(s.Args[0])}})
		case sfnt.SegmentOpQuadTo:
			out = append(out, pathSeg{op: segQuad, pts: [3]coords.Point{pt(s.Args[0]), pt(s.Args[1])}})
		case sfnt.SegmentOpCubeTo:
			out = append(out, pathSeg{op: segCube, pts: [3]coords.Point{pt(s.Args[0]), pt(s.Args[1]), pt(s.Args[2])}})
		}
	}
	if len(out) > 0 {
		out = append(out, pathSeg{op: segClose})
	}
	return out
}
