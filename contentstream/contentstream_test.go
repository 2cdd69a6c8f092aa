package contentstream

import (
	"context"
	"math"
	"testing"

	"github.com/idmcalculus/kytepdf/coords"
	"github.com/idmcalculus/kytepdf/ir/semantic"
)

type testHandler struct {
	calls int
	last  []string
}

func (h *testHandler) Handle(_ *ExecutionContext, operands []semantic.Operand) error {
	h.calls++
	h.last = make([]string, len(operands))
	for i, op := range operands {
		h.last[i] = op.Type()
	}
	return nil
}

func mustParse(t *testing.T, src string) []semantic.Operation {
	t.Helper()
	ops, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return ops
}

func TestProcessorDispatchesOperators(t *testing.T) {
	p := NewProcessor()
	h := &testHandler{}
	p.RegisterHandler("Tj", h)

	ec := NewExecutionContext(coords.Identity(), nil)
	if err := p.Process(context.Background(), mustParse(t, "BT (Hello) Tj ET"), ec); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if h.calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", h.calls)
	}
	if len(h.last) != 1 || h.last[0] != "string" {
		t.Fatalf("unexpected operand types: %v", h.last)
	}
}

func TestParseOperands(t *testing.T) {
	ops := mustParse(t, "/GS0 gs [(A) -120 (B)] TJ << /MCID 3 >> BDC 1 0 0 1 10.5 -2 cm true null Do % comment\n")
	if len(ops) != 5 {
		t.Fatalf("expected 5 operations, got %d: %+v", len(ops), ops)
	}
	if ops[0].Operator != "gs" || ops[0].Operands[0].(semantic.NameOperand).Value != "GS0" {
		t.Fatalf("unexpected gs %+v", ops[0])
	}
	arr := ops[1].Operands[0].(semantic.ArrayOperand)
	if len(arr.Values) != 3 || arr.Values[1].(semantic.NumberOperand).Value != -120 {
		t.Fatalf("unexpected TJ array %+v", arr)
	}
	dict := ops[2].Operands[0].(semantic.DictOperand)
	if dict.Values["MCID"].(semantic.NumberOperand).Value != 3 {
		t.Fatalf("unexpected BDC dict %+v", dict)
	}
	if got := Floats(ops[3].Operands); len(got) != 6 || got[4] != 10.5 || got[5] != -2 {
		t.Fatalf("unexpected cm operands %v", got)
	}
	if len(ops[4].Operands) != 1 {
		t.Fatalf("null operands should be dropped: %+v", ops[4])
	}
}

func TestParseInlineImage(t *testing.T) {
	ops := mustParse(t, "q BI /W 2 /H 1 /CS /RGB /BPC 8 ID \x00\x01\x02\x03\x04\x05\nEI Q")
	if len(ops) != 3 || ops[1].Operator != "BI" {
		t.Fatalf("unexpected operations %+v", ops)
	}
	img := ops[1].Operands[0].(semantic.InlineImageOperand)
	if len(img.Data) != 6 || img.Data[5] != 5 {
		t.Fatalf("unexpected inline data %v", img.Data)
	}
	if img.Image.Values["CS"].(semantic.NameOperand).Value != "RGB" {
		t.Fatalf("unexpected inline params %+v", img.Image)
	}
}

func TestParseUnbalanced(t *testing.T) {
	ops, err := Parse([]byte("0 0 m [1 2 Tj"))
	if err == nil {
		t.Fatalf("expected error for unterminated array")
	}
	if len(ops) != 1 || ops[0].Operator != "m" {
		t.Fatalf("operations before the error should be kept: %+v", ops)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	src := "q 0.5 0 0 0.5 10 20 cm /Im#201 Do Q BT /F1 12 Tf (a\\(b\\)) Tj ET"
	ops := mustParse(t, src)
	again := mustParse(t, string(Serialize(ops)))
	if len(again) != len(ops) {
		t.Fatalf("round trip changed operation count: %d vs %d", len(again), len(ops))
	}
	if again[2].Operands[0].(semantic.NameOperand).Value != "Im 1" {
		t.Fatalf("name escaping lost: %+v", again[2])
	}
	if string(again[6].Operands[0].(semantic.StringOperand).Value) != "a(b)" {
		t.Fatalf("string escaping lost: %+v", again[6])
	}
}

func TestFormatNumber(t *testing.T) {
	cases := map[float64]string{0: "0", 1: "1", -2.5: "-2.5", 0.333333333: "0.33333", -0.000001: "0", 612: "612"}
	for in, want := range cases {
		if got := FormatNumber(in); got != want {
			t.Fatalf("FormatNumber(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestProcessorTracksState(t *testing.T) {
	size := 0.25
	res := semantic.NewResources()
	res.Fonts["F1"] = &semantic.Font{BaseFont: "Helvetica"}
	res.ExtGStates["GS0"] = semantic.ExtGState{FillAlpha: &size}

	ec := NewExecutionContext(coords.Identity(), res)
	var seen []float64
	p := NewProcessor()
	p.RegisterHandler("Tj", HandlerFunc(func(ec *ExecutionContext, _ []semantic.Operand) error {
		m := ec.RenderingMatrix()
		seen = append(seen, m[4], m[5], m[0])
		return nil
	}))
	src := "q 2 0 0 2 0 0 cm /GS0 gs 1 0 0 rg BT /F1 10 Tf 5 7 Td 14 TL (x) Tj T* (y) Tj ET Q"
	if err := p.Process(context.Background(), mustParse(t, src), ec); err != nil {
		t.Fatalf("process: %v", err)
	}
	want := []float64{10, 14, 20, 10, -14, 20}
	for i := range want {
		if math.Abs(seen[i]-want[i]) > 1e-9 {
			t.Fatalf("rendering matrices %v, want %v", seen, want)
		}
	}
	gs := ec.GraphicsState
	if gs.CTM != coords.Identity() || gs.FillAlpha != 1 || gs.FillColor != Black || gs.Font != nil {
		t.Fatalf("Q should restore state, got %+v", gs)
	}
}

func TestProcessorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewProcessor().Process(ctx, mustParse(t, "q Q"), NewExecutionContext(coords.Identity(), nil))
	if err == nil {
		t.Fatalf("expected context error")
	}
}

func TestCMYKConversion(t *testing.T) {
	c := colorFrom([]float64{0, 1, 1, 0})
	if c != (Color{1, 0, 0}) {
		t.Fatalf("cmyk red converted to %+v", c)
	}
}
