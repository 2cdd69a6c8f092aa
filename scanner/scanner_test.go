package scanner

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/idmcalculus/kytepdf/recovery"
)

func newScanner(t *testing.T, data string, cfg Config) Scanner {
	t.Helper()
	return New([]byte(data), cfg)
}

func nextToken(t *testing.T, s Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := newScanner(t, "%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2 3] /Flag true /Null null >>\nendobj", Config{})

	tok := nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected first token number 1, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 0 {
		t.Fatalf("expected generation number 0, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "obj" {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected Name key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected Name value, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Nums" {
		t.Fatalf("expected Nums key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	for i := int64(1); i <= 3; i++ {
		tok = nextToken(t, s)
		if tok.Type != TokenNumber || !tok.IsInt || tok.Int != i {
			t.Fatalf("expected array number %d, got %+v", i, tok)
		}
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "]" {
		t.Fatalf("expected array close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Flag" {
		t.Fatalf("expected Flag key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenBoolean || !tok.Bool {
		t.Fatalf("expected true boolean, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Null" {
		t.Fatalf("expected Null key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null value, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != ">>" {
		t.Fatalf("expected dict close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "endobj" {
		t.Fatalf("expected endobj, got %+v", tok)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScanner_NameHexEscapes(t *testing.T) {
	tok := nextToken(t, newScanner(t, "/Name#20With#23Hash", Config{}))
	if tok.Type != TokenName || tok.Str != "Name With#Hash" {
		t.Fatalf("unexpected name decode: %+v", tok)
	}
}

func TestScanner_LiteralStringEscapes(t *testing.T) {
	tok := nextToken(t, newScanner(t, "(Hi\\n\\050\\051\\t (nested))", Config{}))
	if tok.Type != TokenString {
		t.Fatalf("expected string, got %+v", tok)
	}
	if !bytes.Equal(tok.Bytes, []byte("Hi\n()\t (nested)")) {
		t.Fatalf("unexpected literal string: %q", tok.Bytes)
	}
}

func TestScanner_LiteralStringLineContinuation(t *testing.T) {
	tok := nextToken(t, newScanner(t, "(Line\\\r\ncontinued)", Config{}))
	if got := string(tok.Bytes); got != "Linecontinued" {
		t.Fatalf("unexpected literal string with continuation: %q", got)
	}
}

func TestScanner_HexStringOddLength(t *testing.T) {
	tok := nextToken(t, newScanner(t, "<48656c6c6f3>", Config{}))
	want := []byte("Hello0")
	if tok.Type != TokenString || !tok.Hex || !bytes.Equal(tok.Bytes, want) {
		t.Fatalf("expected padded hex string %q, got %+v", want, tok)
	}
}

func TestScanner_ReferenceDetection(t *testing.T) {
	tok := nextToken(t, newScanner(t, "12 5 R %comment\n", Config{}))
	if tok.Type != TokenRef || tok.Int != 12 || tok.Gen != 5 {
		t.Fatalf("expected ref 12 5, got %+v", tok)
	}
}

func TestScanner_NumbersBeforeOperatorAreNotRefs(t *testing.T) {
	s := newScanner(t, "1 0 0 RG", Config{})
	for i := 0; i < 3; i++ {
		if tok := nextToken(t, s); tok.Type != TokenNumber {
			t.Fatalf("token %d should be a number, got %+v", i, tok)
		}
	}
	if tok := nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "RG" {
		t.Fatalf("expected RG operator, got %+v", tok)
	}
}

func TestScanner_RealNumbers(t *testing.T) {
	s := newScanner(t, "-.5 +3 4.25", Config{ContentStream: true})
	want := []float64{-0.5, 3, 4.25}
	for _, w := range want {
		tok := nextToken(t, s)
		if tok.Type != TokenNumber || tok.Float != w {
			t.Fatalf("expected %v, got %+v", w, tok)
		}
	}
}

func TestScanner_StreamWithLength(t *testing.T) {
	s := newScanner(t, "stream\r\nabcde\r\nendstream", Config{})
	s.SetNextStreamLength(5)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abcde" {
		t.Fatalf("unexpected stream token: %+v", tok)
	}
}

func TestScanner_StreamWrongLengthFallsBack(t *testing.T) {
	s := newScanner(t, "stream\nabc\nendstream\n", Config{})
	s.SetNextStreamLength(10)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abc" {
		t.Fatalf("unexpected stream token: %+v", tok)
	}
}

func TestScanner_StreamCRPrecedingEndstream(t *testing.T) {
	tok := nextToken(t, newScanner(t, "stream\rdata\rendstream\r", Config{}))
	if got := string(tok.Bytes); got != "data" {
		t.Fatalf("unexpected stream payload: %q", got)
	}
}

func TestScanner_MissingEndstream(t *testing.T) {
	if _, err := newScanner(t, "stream\nabc", Config{}).Next(); err == nil || !strings.Contains(err.Error(), "endstream not found") {
		t.Fatalf("expected endstream error, got %v", err)
	}
	s := newScanner(t, "stream\nabc", Config{Recovery: recovery.NewLenientStrategy(nil)})
	tok := nextToken(t, s)
	if string(tok.Bytes) != "abc" {
		t.Fatalf("lenient scan should keep trailing data, got %q", tok.Bytes)
	}
}

func TestScanner_MaxLiteralStringLength(t *testing.T) {
	if _, err := newScanner(t, "(abcdef)", Config{MaxStringLength: 3}).Next(); err == nil || !strings.Contains(err.Error(), "literal string too long") {
		t.Fatalf("expected literal string too long error, got %v", err)
	}
}

func TestScanner_InlineImage(t *testing.T) {
	s := newScanner(t, "BI /W 1 /H 1 ID abc EI Q", Config{ContentStream: true})
	var tok Token
	for {
		tok = nextToken(t, s)
		if tok.Type == TokenInlineImage {
			break
		}
	}
	if got := string(tok.Bytes); got != "abc" {
		t.Fatalf("unexpected inline image payload: %q", got)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "Q" {
		t.Fatalf("expected Q after inline image, got %+v", tok)
	}
}

func TestScanner_Seek(t *testing.T) {
	s := newScanner(t, "/A /B", Config{})
	if err := s.Seek(3); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if tok := nextToken(t, s); tok.Str != "B" {
		t.Fatalf("expected /B after seek, got %+v", tok)
	}
	if err := s.Seek(100); err == nil {
		t.Fatalf("expected out of range seek to fail")
	}
}
