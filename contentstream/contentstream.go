package contentstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/idmcalculus/kytepdf/coords"
	"github.com/idmcalculus/kytepdf/ir/semantic"
)

type Processor interface {
	Process(ctx context.Context, ops []semantic.Operation, ec *ExecutionContext) error
	RegisterHandler(op string, h OperatorHandler)
}

type OperatorHandler interface {
	Handle(ctx *ExecutionContext, operands []semantic.Operand) error
}

// HandlerFunc adapts a function to OperatorHandler.
type HandlerFunc func(ctx *ExecutionContext, operands []semantic.Operand) error

func (f HandlerFunc) Handle(ctx *ExecutionContext, operands []semantic.Operand) error {
	return f(ctx, operands)
}

type ExecutionContext struct {
	GraphicsState *GraphicsState
	TextState     *TextState
	Resources     *semantic.Resources
}

// NewExecutionContext starts a page or form with ctm as the initial
// transform.
func NewExecutionContext(ctm coords.Matrix, res *semantic.Resources) *ExecutionContext {
	if res == nil {
		res = semantic.NewResources()
	}
	return &ExecutionContext{GraphicsState: NewGraphicsState(ctm), TextState: &TextState{}, Resources: res}
}

// Color is a device RGB color with components in [0, 1].
type Color struct{ R, G, B float64 }

var Black = Color{}

type GraphicsState struct {
	CTM         coords.Matrix
	LineWidth   float64
	LineCap     LineCap
	LineJoin    LineJoin
	MiterLimit  float64
	FillColor   Color
	StrokeColor Color
	FillAlpha   float64
	StrokeAlpha float64

	Font        *semantic.Font
	FontSize    float64
	CharSpacing float64
	WordSpacing float64
	HorizScale  float64 // percent
	Leading     float64
	Rise        float64
	RenderMode  TextRenderMode

	// Clip is owned by the renderer; it is saved and restored with q/Q.
	Clip any

	stack []*GraphicsState
}

func NewGraphicsState(ctm coords.Matrix) *GraphicsState {
	return &GraphicsState{CTM: ctm, LineWidth: 1, MiterLimit: 10, FillAlpha: 1, StrokeAlpha: 1, HorizScale: 100}
}

func (gs *GraphicsState) Save() { clone := *gs; gs.stack = append(gs.stack, &clone) }
func (gs *GraphicsState) Restore() error {
	n := len(gs.stack)
	if n == 0 {
		return errors.New("state stack empty")
	}
	*gs = *gs.stack[n-1]
	gs.stack = gs.stack[:n-1]
	return nil
}

// Clone copies the current state without its saved states, for running a
// nested content stream such as a form.
func (gs *GraphicsState) Clone() *GraphicsState {
	c := *gs
	c.stack = nil
	return &c
}

// Depth reports how many states are saved.
func (gs *GraphicsState) Depth() int { return len(gs.stack) }

type TextState struct {
	TextMatrix     coords.Matrix
	TextLineMatrix coords.Matrix
}

// Advance moves the text matrix by tx in unscaled text space.
func (ts *TextState) Advance(tx float64) {
	ts.TextMatrix = coords.Translate(tx, 0).Multiply(ts.TextMatrix)
}

// RenderingMatrix maps glyph space (1 unit = 1 em) to device space.
func (ec *ExecutionContext) RenderingMatrix() coords.Matrix {
	gs := ec.GraphicsState
	params := coords.Matrix{gs.FontSize * gs.HorizScale / 100, 0, 0, gs.FontSize, 0, gs.Rise}
	return params.Multiply(ec.TextState.TextMatrix).Multiply(gs.CTM)
}

type simpleProcessor struct{ handlers map[string]OperatorHandler }

// NewProcessor returns a processor that tracks graphics and text state
// itself and dispatches every operator to a registered handler, if any.
func NewProcessor() Processor { return &simpleProcessor{handlers: make(map[string]OperatorHandler)} }

func (p *simpleProcessor) RegisterHandler(op string, h OperatorHandler) { p.handlers[op] = h }

func (p *simpleProcessor) Process(ctx context.Context, ops []semantic.Operation, ec *ExecutionContext) error {
	for i, op := range ops {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		p.apply(ec, op)
		if h, ok := p.handlers[op.Operator]; ok {
			if err := h.Handle(ec, op.Operands); err != nil {
				return fmt.Errorf("operator %s: %w", op.Operator, err)
			}
		}
	}
	return nil
}

// apply updates state for the operators whose effect does not depend on
// the output device.
func (p *simpleProcessor) apply(ec *ExecutionContext, op semantic.Operation) {
	gs, ts := ec.GraphicsState, ec.TextState
	nums := Floats(op.Operands)
	switch op.Operator {
	case "q":
		gs.Save()
	case "Q":
		_ = gs.Restore() // unbalanced Q is ignored
	case "cm":
		if len(nums) == 6 {
			gs.CTM = coords.Matrix{nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]}.Multiply(gs.CTM)
		}
	case "w":
		if len(nums) == 1 {
			gs.LineWidth = nums[0]
		}
	case "J":
		if len(nums) == 1 {
			gs.LineCap = LineCap(nums[0])
		}
	case "j":
		if len(nums) == 1 {
			gs.LineJoin = LineJoin(nums[0])
		}
	case "M":
		if len(nums) == 1 {
			gs.MiterLimit = nums[0]
		}
	case "gs":
		if name, ok := firstName(op.Operands); ok {
			if ext, ok := ec.Resources.ExtGStates[name]; ok {
				if ext.LineWidth != nil {
					gs.LineWidth = *ext.LineWidth
				}
				if ext.FillAlpha != nil {
					gs.FillAlpha = *ext.FillAlpha
				}
				if ext.StrokeAlpha != nil {
					gs.StrokeAlpha = *ext.StrokeAlpha
				}
			}
		}
	case "g":
		gs.FillColor = colorFrom(nums)
	case "G":
		gs.StrokeColor = colorFrom(nums)
	case "rg":
		gs.FillColor = colorFrom(nums)
	case "RG":
		gs.StrokeColor = colorFrom(nums)
	case "k":
		gs.FillColor = colorFrom(nums)
	case "K":
		gs.StrokeColor = colorFrom(nums)
	case "sc", "scn":
		if len(nums) > 0 {
			gs.FillColor = colorFrom(nums)
		}
	case "SC", "SCN":
		if len(nums) > 0 {
			gs.StrokeColor = colorFrom(nums)
		}
	case "cs":
		gs.FillColor = Black
	case "CS":
		gs.StrokeColor = Black

	case "BT":
		ts.TextMatrix = coords.Identity()
		ts.TextLineMatrix = coords.Identity()
	case "Tf":
		if name, ok := firstName(op.Operands); ok {
			gs.Font = ec.Resources.Fonts[name]
		}
		if len(nums) == 1 {
			gs.FontSize = nums[0]
		}
	case "Tc":
		if len(nums) == 1 {
			gs.CharSpacing = nums[0]
		}
	case "Tw":
		if len(nums) == 1 {
			gs.WordSpacing = nums[0]
		}
	case "Tz":
		if len(nums) == 1 {
			gs.HorizScale = nums[0]
		}
	case "TL":
		if len(nums) == 1 {
			gs.Leading = nums[0]
		}
	case "Ts":
		if len(nums) == 1 {
			gs.Rise = nums[0]
		}
	case "Tr":
		if len(nums) == 1 {
			gs.RenderMode = TextRenderMode(nums[0])
		}
	case "Td":
		if len(nums) == 2 {
			moveLine(ts, nums[0], nums[1])
		}
	case "TD":
		if len(nums) == 2 {
			gs.Leading = -nums[1]
			moveLine(ts, nums[0], nums[1])
		}
	case "Tm":
		if len(nums) == 6 {
			ts.TextMatrix = coords.Matrix{nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]}
			ts.TextLineMatrix = ts.TextMatrix
		}
	case "T*":
		moveLine(ts, 0, -gs.Leading)
	case "'":
		moveLine(ts, 0, -gs.Leading)
	case "\"":
		if len(nums) >= 2 {
			gs.WordSpacing = nums[0]
			gs.CharSpacing = nums[1]
		}
		moveLine(ts, 0, -gs.Leading)
	}
}

func moveLine(ts *TextState, tx, ty float64) {
	ts.TextLineMatrix = coords.Translate(tx, ty).Multiply(ts.TextLineMatrix)
	ts.TextMatrix = ts.TextLineMatrix
}

// colorFrom interprets 1, 3 or 4 components as gray, RGB or CMYK.
func colorFrom(c []float64) Color {
	switch len(c) {
	case 1:
		return Color{c[0], c[0], c[0]}
	case 3:
		return Color{c[0], c[1], c[2]}
	case 4:
		k := 1 - c[3]
		return Color{(1 - c[0]) * k, (1 - c[1]) * k, (1 - c[2]) * k}
	}
	return Black
}

func firstName(operands []semantic.Operand) (string, bool) {
	for _, o := range operands {
		if n, ok := o.(semantic.NameOperand); ok {
			return n.Value, true
		}
	}
	return "", false
}

// Floats collects the numeric operands in order, skipping the rest.
func Floats(operands []semantic.Operand) []float64 {
	out := make([]float64, 0, len(operands))
	for _, o := range operands {
		if n, ok := o.(semantic.NumberOperand); ok {
			out = append(out, n.Value)
		}
	}
	return out
}
