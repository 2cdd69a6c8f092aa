package raster

import (
	"context"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/vector"

	"github.com/idmcalculus/kytepdf/contentstream"
	"github.com/idmcalculus/kytepdf/coords"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/optimize"
)

const maxFormDepth = 8

type segOp uint8

const (
	segMove segOp = iota
	segLine
	segQuad
	segCube
	segClose
)

// pathSeg holds device space points: one for move and line, two for quad,
// three for cube.
type pathSeg struct {
	op  segOp
	pts [3]coords.Point
}

// canvas paints one page. Paths are kept in device space, transformed
// with the CTM in force when each point was added.
type canvas struct {
	ctx    context.Context
	dst    *image.RGBA
	fonts  *fontCache
	logger observability.Logger
	proc   contentstream.Processor
	z      vector.Rasterizer

	path        []pathSeg
	cur         coords.Point // user space
	clipPending bool
	depth       int
}

type handler func(ec *contentstream.ExecutionContext, operands []semantic.Operand)

func newCanvas(ctx context.Context, dst *image.RGBA, fonts *fontCache, logger observability.Logger) *canvas {
	c := &canvas{ctx: ctx, dst: dst, fonts: fonts, logger: logger, proc: contentstream.NewProcessor()}
	handlers := map[string]handler{
		"m":  c.moveTo,
		"l":  c.lineTo,
		"c":  c.curveTo,
		"v":  c.curveFromCurrent,
		"y":  c.curveToEnd,
		"h":  func(*contentstream.ExecutionContext, []semantic.Operand) { c.closePath() },
		"re": c.rect,
		"W":  func(*contentstream.ExecutionContext, []semantic.Operand) { c.clipPending = true },
		"W*": func(*contentstream.ExecutionContext, []semantic.Operand) { c.clipPending = true },
		"Tj": c.showText,
		"'":  c.showText,
		"\"": c.showText,
		"TJ": c.showTextArray,
		"BI": c.inlineImage,
	}
	for _, op := range []string{"f", "F", "f*", "S", "s", "B", "B*", "b", "b*", "n"} {
		op := op
		handlers[op] = func(ec *contentstream.ExecutionContext, _ []semantic.Operand) { c.paintPath(ec, op) }
	}
	for op, fn := range handlers {
		fn := fn
		c.proc.RegisterHandler(op, contentstream.HandlerFunc(func(ec *contentstream.ExecutionContext, operands []semantic.Operand) error {
			fn(ec, operands)
			return nil
		}))
	}
	c.proc.RegisterHandler("Do", contentstream.HandlerFunc(c.doXObject))
	return c
}

func (c *canvas) run(ops []semantic.Operation, ec *contentstream.ExecutionContext) error {
	return c.proc.Process(c.ctx, ops, ec)
}

func device(ec *contentstream.ExecutionContext, p coords.Point) coords.Point {
	return ec.GraphicsState.CTM.Transform(p)
}

func (c *canvas) moveTo(ec *contentstream.ExecutionContext, operands []semantic.Operand) {
	n := contentstream.Floats(operands)
	if len(n) != 2 {
		return
	}
	c.cur = coords.Point{X: n[0], Y: n[1]}
	c.path = append(c.path, pathSeg{op: segMove, pts: [3]coords.Point{device(ec, c.cur)}})
}

func (c *canvas) lineTo(ec *contentstream.ExecutionContext, operands []semantic.Operand) {
	n := contentstream.Floats(operands)
	if len(n) != 2 || len(c.path) == 0 {
		return
	}
	c.cur = coords.Point{X: n[0], Y: n[1]}
	c.path = append(c.path, pathSeg{op: segLine, pts: [3]coords.Point{device(ec, c.cur)}})
}

func (c *canvas) curveTo(ec *contentstream.ExecutionContext, operands []semantic.Operand) {
	n := contentstream.Floats(operands)
	if len(n) != 6 {
		return
	}
	c.cube(ec, coords.Point{X: n[0], Y: n[1]}, coords.Point{X: n[2], Y: n[3]}, coords.Point{X: n[4], Y: n[5]})
}

// curveFromCurrent is v: the first control point is the current point.
func (c *canvas) curveFromCurrent(ec *contentstream.ExecutionContext, operands []semantic.Operand) {
	n := contentstream.Floats(operands)
	if len(n) != 4 {
		return
	}
	c.cube(ec, c.cur, coords.Point{X: n[0], Y: n[1]}, coords.Point{X: n[2], Y: n[3]})
}

// curveToEnd is y: the second control point is the end point.
func (c *canvas) curveToEnd(ec *contentstream.ExecutionContext, operands []semantic.Operand) {
	n := contentstream.Floats(operands)
	if len(n) != 4 {
		return
	}
	end := coords.Point{X: n[2], Y: n[3]}
	c.cube(ec, coords.Point{X: n[0], Y: n[1]}, end, end)
}

func (c *canvas) cube(ec *contentstream.ExecutionContext, p1, p2, p3 coords.Point) {
	if len(c.path) == 0 {
		return
	}
	c.cur = p3
	c.path = append(c.path, pathSeg{op: segCube, pts: [3]coords.Point{device(ec, p1), device(ec, p2), device(ec, p3)}})
}

func (c *canvas) closePath() {
	if len(c.path) > 0 {
		c.path = append(c.path, pathSeg{op: segClose})
	}
}

func (c *canvas) rect(ec *contentstream.ExecutionContext, operands []semantic.Operand) {
	n := contentstream.Floats(operands)
	if len(n) != 4 {
		return
	}
	x, y, w, h := n[0], n[1], n[2], n[3]
	c.path = append(c.path,
		pathSeg{op: segMove, pts: [3]coords.Point{device(ec, coords.Point{X: x, Y: y})}},
		pathSeg{op: segLine, pts: [3]coords.Point{device(ec, coords.Point{X: x + w, Y: y})}},
		pathSeg{op: segLine, pts: [3]coords.Point{device(ec, coords.Point{X: x + w, Y: y + h})}},
		pathSeg{op: segLine, pts: [3]coords.Point{device(ec, coords.Point{X: x, Y: y + h})}},
		pathSeg{op: segClose},
	)
	c.cur = coords.Point{X: x, Y: y}
}

func (c *canvas) paintPath(ec *contentstream.ExecutionContext, op string) {
	gs := ec.GraphicsState
	if op == "s" || op == "b" || op == "b*" {
		c.closePath()
	}
	clip := c.clip(ec)
	switch op {
	case "f", "F", "f*":
		c.fill(c.path, clip, gs.FillColor, gs.FillAlpha)
	case "S", "s":
		c.stroke(gs, clip)
	case "B", "B*", "b", "b*":
		c.fill(c.path, clip, gs.FillColor, gs.FillAlpha)
		c.stroke(gs, clip)
	}
	if c.clipPending {
		gs.Clip = clip.Intersect(bounds(c.path))
		c.clipPending = false
	}
	c.path = c.path[:0]
}

// clip is the current clipping rectangle. Clipping paths are reduced to
// their bounding boxes.
func (c *canvas) clip(ec *contentstream.ExecutionContext) image.Rectangle {
	if r, ok := ec.GraphicsState.Clip.(image.Rectangle); ok {
		return r
	}
	return c.dst.Bounds()
}

func bounds(segs []pathSeg) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, s := range segs {
		for _, p := range s.pts[:s.op.points()] {
			minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
			maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
		}
	}
	if minX > maxX || minY > maxY {
		return image.Rectangle{}
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX))+1, int(math.Ceil(maxY))+1)
}

func (op segOp) points() int {
	switch op {
	case segMove, segLine:
		return 1
	case segQuad:
		return 2
	case segCube:
		return 3
	}
	return 0
}

func rgba(col contentstream.Color, alpha float64) color.NRGBA {
	u := func(v float64) uint8 { return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255)) }
	return color.NRGBA{u(col.R), u(col.G), u(col.B), u(alpha)}
}

// fill paints segs with the nonzero rule. Open subpaths are closed.
func (c *canvas) fill(segs []pathSeg, clip image.Rectangle, col contentstream.Color, alpha float64) {
	r := bounds(segs).Intersect(clip)
	if r.Empty() || alpha <= 0 {
		return
	}
	c.z.Reset(r.Dx(), r.Dy())
	ox, oy := float64(r.Min.X), float64(r.Min.Y)
	pt := func(p coords.Point) (float32, float32) { return float32(p.X - ox), float32(p.Y - oy) }
	open := false
	for _, s := range segs {
		switch s.op {
		case segMove:
			if open {
				c.z.ClosePath()
			}
			c.z.MoveTo(pt(s.pts[0]))
			open = true
		case segLine:
			c.z.LineTo(pt(s.pts[0]))
		case segQuad:
			x1, y1 := pt(s.pts[0])
			x2, y2 := pt(s.pts[1])
			c.z.QuadTo(x1, y1, x2, y2)
		case segCube:
			x1, y1 := pt(s.pts[0])
			x2, y2 := pt(s.pts[1])
			x3, y3 := pt(s.pts[2])
			c.z.CubeTo(x1, y1, x2, y2, x3, y3)
		case segClose:
			if open {
				c.z.ClosePath()
				open = false
			}
		}
	}
	if open {
		c.z.ClosePath()
	}
	mask := image.NewAlpha(image.Rect(0, 0, r.Dx(), r.Dy()))
	c.z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	draw.DrawMask(c.dst, r, image.NewUniform(rgba(col, alpha)), image.Point{}, mask, image.Point{}, draw.Over)
}

// stroke outlines the current path by filling a quad per flattened
// segment and a square at each vertex. All pieces share one orientation
// so overlaps never cancel.
func (c *canvas) stroke(gs *contentstream.GraphicsState, clip image.Rectangle) {
	hw := math.Max(gs.LineWidth*gs.CTM.ExpansionFactor(), 1) / 2
	var out []pathSeg
	quad := func(a, b, cc, d coords.Point) {
		out = append(out,
			pathSeg{op: segMove, pts: [3]coords.Point{a}},
			pathSeg{op: segLine, pts: [3]coords.Point{b}},
			pathSeg{op: segLine, pts: [3]coords.Point{cc}},
			pathSeg{op: segLine, pts: [3]coords.Point{d}},
			pathSeg{op: segClose},
		)
	}
	square := func(p coords.Point) {
		quad(coords.Point{X: p.X - hw, Y: p.Y - hw}, coords.Point{X: p.X - hw, Y: p.Y + hw},
			coords.Point{X: p.X + hw, Y: p.Y + hw}, coords.Point{X: p.X + hw, Y: p.Y - hw})
	}
	for _, poly := range flatten(c.path) {
		for i := 0; i+1 < len(poly); i++ {
			a, b := poly[i], poly[i+1]
			dx, dy := b.X-a.X, b.Y-a.Y
			l := math.Hypot(dx, dy)
			if l == 0 {
				continue
			}
			nx, ny := -dy/l*hw, dx/l*hw
			quad(coords.Point{X: a.X + nx, Y: a.Y + ny}, coords.Point{X: b.X + nx, Y: b.Y + ny},
				coords.Point{X: b.X - nx, Y: b.Y - ny}, coords.Point{X: a.X - nx, Y: a.Y - ny})
			if i > 0 || gs.LineCap != contentstream.LineCapButt {
				square(a)
			}
		}
		if n := len(poly); n > 1 && gs.LineCap != contentstream.LineCapButt {
			square(poly[n-1])
		}
	}
	c.fill(out, clip, gs.StrokeColor, gs.StrokeAlpha)
}

// flatten turns a path into polylines; closed subpaths repeat their
// first point at the end.
func flatten(segs []pathSeg) [][]coords.Point {
	var out [][]coords.Point
	var cur []coords.Point
	flush := func() {
		if len(cur) > 1 {
			out = append(out, cur)
		}
		cur = nil
	}
	for _, s := range segs {
		switch s.op {
		case segMove:
			flush()
			cur = []coords.Point{s.pts[0]}
		case segLine:
			cur = append(cur, s.pts[0])
		case segQuad, segCube:
			if len(cur) == 0 {
				continue
			}
			p0 := cur[len(cur)-1]
			c1, c2, p3 := s.pts[0], s.pts[1], s.pts[2]
			if s.op == segQuad {
				c1 = coords.Point{X: p0.X + 2*(s.pts[0].X-p0.X)/3, Y: p0.Y + 2*(s.pts[0].Y-p0.Y)/3}
				c2 = coords.Point{X: s.pts[1].X + 2*(s.pts[0].X-s.pts[1].X)/3, Y: s.pts[1].Y + 2*(s.pts[0].Y-s.pts[1].Y)/3}
				p3 = s.pts[1]
			}
			steps := int(math.Ceil((math.Hypot(c1.X-p0.X, c1.Y-p0.Y) + math.Hypot(c2.X-c1.X, c2.Y-c1.Y) + math.Hypot(p3.X-c2.X, p3.Y-c2.Y)) / 4))
			steps = max(4, min(64, steps))
			for i := 1; i <= steps; i++ {
				t := float64(i) / float64(steps)
				mt := 1 - t
				a, b, cc, d := mt*mt*mt, 3*mt*mt*t, 3*mt*t*t, t*t*t
				cur = append(cur, coords.Point{
					X: a*p0.X + b*c1.X + cc*c2.X + d*p3.X,
					Y: a*p0.Y + b*c1.Y + cc*c2.Y + d*p3.Y,
				})
			}
		case segClose:
			if len(cur) > 0 {
				cur = append(cur, cur[0])
				first := cur[0]
				flush()
				cur = []coords.Point{first}
			}
		}
	}
	flush()
	return out
}

func (c *canvas) doXObject(ec *contentstream.ExecutionContext, operands []semantic.Operand) error {
	if len(operands) != 1 {
		return nil
	}
	name, ok := operands[0].(semantic.NameOperand)
	if !ok {
		return nil
	}
	xo := ec.Resources.XObjects[name.Value]
	if xo == nil {
		return nil
	}
	if xo.Subtype == "Form" {
		return c.form(ec, xo)
	}
	c.image(ec, xo)
	return nil
}

func (c *canvas) form(ec *contentstream.ExecutionContext, xo *semantic.XObject) error {
	if c.depth >= maxFormDepth {
		return nil
	}
	ops, err := contentstream.Parse(xo.Data)
	if err != nil {
		c.logger.Debug("form content truncated", observability.Error("error", err))
	}
	gs := ec.GraphicsState.Clone()
	if len(xo.Matrix) == 6 {
		m := coords.Matrix{xo.Matrix[0], xo.Matrix[1], xo.Matrix[2], xo.Matrix[3], xo.Matrix[4], xo.Matrix[5]}
		gs.CTM = m.Multiply(gs.CTM)
	}
	res := xo.Resources
	if res == nil {
		res = ec.Resources
	}
	sub := &contentstream.ExecutionContext{GraphicsState: gs, TextState: &contentstream.TextState{}, Resources: res}
	if b := xo.BBox; b.Width() != 0 && b.Height() != 0 {
		box := []pathSeg{
			{op: segMove, pts: [3]coords.Point{device(sub, coords.Point{X: b.LLX, Y: b.LLY})}},
			{op: segLine, pts: [3]coords.Point{device(sub, coords.Point{X: b.URX, Y: b.LLY})}},
			{op: segLine, pts: [3]coords.Point{device(sub, coords.Point{X: b.URX, Y: b.URY})}},
			{op: segLine, pts: [3]coords.Point{device(sub, coords.Point{X: b.LLX, Y: b.URY})}},
		}
		gs.Clip = c.clip(ec).Intersect(bounds(box))
	}

	saved, savedCur := c.path, c.cur
	c.path = nil
	c.depth++
	defer func() {
		c.depth--
		c.path, c.cur = saved, savedCur
	}()
	return c.run(ops, sub)
}

// image draws xo into the unit square of the current user space.
func (c *canvas) image(ec *contentstream.ExecutionContext, xo *semantic.XObject) {
	img, err := optimize.ToImage(xo)
	if err != nil {
		c.logger.Debug("image skipped", observability.Int("width", xo.Width), observability.Int("height", xo.Height), observability.Error("error", err))
		return
	}
	gs := ec.GraphicsState
	clip := c.clip(ec)
	if clip.Empty() {
		return
	}
	b := img.Bounds()
	iw, ih := float64(b.Dx()), float64(b.Dy())
	m := gs.CTM
	// Sample rows run top down; the unit square is bottom up.
	s2d := f64.Aff3{
		m[0] / iw, -m[2] / ih, m[2] + m[4],
		m[1] / iw, -m[3] / ih, m[3] + m[5],
	}
	if stencil, ok := img.(*image.Alpha); ok {
		mask := image.NewAlpha(clip)
		draw.BiLinear.Transform(mask, s2d, stencil, b, draw.Src, nil)
		draw.DrawMask(c.dst, clip, image.NewUniform(rgba(gs.FillColor, gs.FillAlpha)), image.Point{}, mask, clip.Min, draw.Over)
		return
	}
	var opts *draw.Options
	if gs.FillAlpha < 1 {
		opts = &draw.Options{SrcMask: image.NewUniform(color.Alpha{A: uint8(math.Round(math.Max(0, gs.FillAlpha) * 255))})}
	}
	draw.BiLinear.Transform(c.dst.SubImage(clip).(*image.RGBA), s2d, img, b, draw.Over, opts)
}

var inlineColorSpaces = map[string]string{
	"G": "DeviceGray", "DeviceGray": "DeviceGray",
	"RGB": "DeviceRGB", "DeviceRGB": "DeviceRGB",
	"CMYK": "DeviceCMYK", "DeviceCMYK": "DeviceCMYK",
}

// inlineImage draws BI/ID/EI images that are unfiltered or JPEG.
func (c *canvas) inlineImage(ec *contentstream.ExecutionContext, operands []semantic.Operand) {
	if len(operands) != 1 {
		return
	}
	op, ok := operands[0].(semantic.InlineImageOperand)
	if !ok {
		return
	}
	get := func(short, long string) semantic.Operand {
		if v, ok := op.Image.Values[short]; ok {
			return v
		}
		return op.Image.Values[long]
	}
	num := func(o semantic.Operand) int {
		if n, ok := o.(semantic.NumberOperand); ok {
			return int(n.Value)
		}
		return 0
	}
	xo := &semantic.XObject{
		Subtype:          "Image",
		Width:            num(get("W", "Width")),
		Height:           num(get("H", "Height")),
		BitsPerComponent: num(get("BPC", "BitsPerComponent")),
		Data:             op.Data,
		ColorSpace:       semantic.DeviceColorSpace{Name: "DeviceGray"},
	}
	if b, ok := get("IM", "ImageMask").(semantic.BoolOperand); ok {
		xo.ImageMask = b.Value
	}
	if n, ok := get("CS", "ColorSpace").(semantic.NameOperand); ok {
		cs, known := inlineColorSpaces[n.Value]
		if !known {
			c.logger.Debug("inline image color space not supported", observability.String("colorspace", n.Value))
			return
		}
		xo.ColorSpace = semantic.DeviceColorSpace{Name: cs}
	}
	if d, ok := get("D", "Decode").(semantic.ArrayOperand); ok {
		xo.Decode = contentstream.Floats(d.Values)
	}
	switch f := get("F", "Filter").(type) {
	case nil:
	case semantic.NameOperand:
		if f.Value != "DCT" && f.Value != "DCTDecode" {
			c.logger.Debug("inline image filter not supported", observability.String("filter", f.Value))
			return
		}
		xo.Filter = "DCTDecode"
	default:
		return
	}
	c.image(ec, xo)
}
