package ir

import (
	"bytes"
	"context"
	"fmt"
	"testing"
)

func TestPipelineDecodesASCIIHexContent(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	hexData := "302030206d" // "0 0 m"
	offsets := make([]int, 5)
	offsets[1] = buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets[3] = buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 100] /Contents 4 0 R >>\nendobj\n")
	offsets[4] = buf.Len()
	fmt.Fprintf(buf, "4 0 obj\n<< /Length %d /Filter /ASCIIHexDecode >>\nstream\n%s>\nendstream\nendobj\n", len(hexData)+1, hexData)
	xrefOff := buf.Len()
	buf.WriteString("xref\n0 5\n0000000000 65535 f \n")
	for i := 1; i < 5; i++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[i])
	}
	buf.WriteString("trailer << /Size 5 /Root 1 0 R >>\nstartxref\n")
	fmt.Fprintf(buf, "%d\n%%%%EOF\n", xrefOff)

	doc, err := NewDefault(nil).Parse(context.Background(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("pipeline parse failed: %v", err)
	}
	if len(doc.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(doc.Pages))
	}
	page := doc.Pages[0]
	if page.Width() != 200 || page.Height() != 100 {
		t.Fatalf("unexpected page size %vx%v", page.Width(), page.Height())
	}
	if len(page.Contents) != 1 || string(page.Contents[0].RawBytes) != "0 0 m" {
		t.Fatalf("unexpected decoded content: %+v", page.Contents)
	}
}

func TestPipelineRejectsNonPDF(t *testing.T) {
	if _, err := NewDefault(nil).ParseBytes(context.Background(), []byte("hello")); err == nil {
		t.Fatalf("expected error for non-PDF input")
	}
}
