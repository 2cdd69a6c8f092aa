package writer

import (
	"bytes"
	"testing"
)

func TestTextString(t *testing.T) {
	latin := textString("Café")
	if latin.Hex || !bytes.Equal(latin.Bytes, []byte("Caf\xe9")) {
		t.Fatalf("latin-1 text encoded as %+v", latin)
	}
	wide := textString("日本")
	if !wide.Hex || !bytes.Equal(wide.Bytes, []byte{0xFE, 0xFF, 0x65, 0xE5, 0x67, 0x2C}) {
		t.Fatalf("utf-16 text encoded as % X", wide.Bytes)
	}
}

func TestPDFNameLiteral(t *testing.T) {
	cases := map[string]string{
		"F1":       "F1",
		"a b":      "a#20b",
		"A#B":      "A#23B",
		"Im/1":     "Im#2F1",
		"Résumé":   "R#C3#A9sum#C3#A9",
		"KyGS1_2":  "KyGS1_2",
		"Helv.Alt": "Helv.Alt",
	}
	for in, want := range cases {
		if got := pdfNameLiteral(in); got != want {
			t.Fatalf("pdfNameLiteral(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEncodeStream(t *testing.T) {
	data, filter, err := encodeStream([]byte{0xAB, 0x01}, Config{ContentFilter: FilterASCIIHex})
	if err != nil || filter != "ASCIIHexDecode" || string(data) != "ab01>" {
		t.Fatalf("hex encode = %q %q %v", data, filter, err)
	}
	data, filter, err = encodeStream([]byte("q Q"), Config{ContentFilter: FilterNone})
	if err != nil || filter != "" || string(data) != "q Q" {
		t.Fatalf("no filter = %q %q %v", data, filter, err)
	}
	if _, filter, _ = encodeStream([]byte("q Q"), Config{}); filter != "FlateDecode" {
		t.Fatalf("default filter = %q", filter)
	}
}

func TestEscapeLiteralString(t *testing.T) {
	got := escapeLiteralString([]byte("a(b)\\\n\x01\xe9"))
	if string(got) != "(a\\(b\\)\\\\\\n\\001\\351)" {
		t.Fatalf("escaped as %q", got)
	}
}
