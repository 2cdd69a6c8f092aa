package pages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/ir"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/writer"
)

// fixture builds a document whose page i shows "<label> i" and is
// 100*i points wide.
func fixture(t *testing.T, label string, n int) []byte {
	t.Helper()
	b := builder.NewBuilder()
	for i := 1; i <= n; i++ {
		b.NewPage(float64(100*i), 200).DrawText(fmt.Sprintf("%s %d", label, i), 10, 10, builder.TextOptions{})
	}
	doc, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var buf bytes.Buffer
	if err := writer.New().Write(context.Background(), doc, &buf, writer.Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	return buf.Bytes()
}

func reparse(t *testing.T, data []byte) *semantic.Document {
	t.Helper()
	doc, err := ir.NewDefault(nil).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	return doc
}

func text(p *semantic.Page) string {
	var sb strings.Builder
	for _, cs := range p.Contents {
		sb.Write(cs.RawBytes)
	}
	return sb.String()
}

// expectPages checks that doc holds exactly the labelled pages in order.
func expectPages(t *testing.T, doc *semantic.Document, labels ...string) {
	t.Helper()
	if len(doc.Pages) != len(labels) {
		t.Fatalf("pages = %d, want %d", len(doc.Pages), len(labels))
	}
	for i, l := range labels {
		if c := text(doc.Pages[i]); !strings.Contains(c, "("+l+") Tj") {
			t.Errorf("page %d content %q, want %q", i+1, c, l)
		}
	}
}

func TestMerge(t *testing.T) {
	out, err := Merge(context.Background(), fixture(t, "a", 2), fixture(t, "b", 1))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	doc := reparse(t, out)
	expectPages(t, doc, "a 1", "a 2", "b 1")
	if w := doc.Pages[1].MediaBox.Width(); w != 200 {
		t.Fatalf("second page width = %v", w)
	}
	if doc.Pages[0].Resources == nil || len(doc.Pages[0].Resources.Fonts) == 0 {
		t.Fatalf("fonts not copied")
	}
}

func TestMergeErrors(t *testing.T) {
	if _, err := Merge(context.Background()); !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
	if _, err := Merge(context.Background(), fixture(t, "a", 1), []byte("junk")); err == nil || !strings.Contains(err.Error(), "document 2") {
		t.Fatalf("expected error naming document 2, got %v", err)
	}
}

func TestExtract(t *testing.T) {
	src := fixture(t, "p", 4)
	out, err := Extract(context.Background(), src, []int{3, 1})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	doc := reparse(t, out)
	expectPages(t, doc, "p 3", "p 1")
	if w := doc.Pages[0].MediaBox.Width(); w != 300 {
		t.Fatalf("width = %v", w)
	}

	if _, err := Extract(context.Background(), src, []int{5}); !errors.Is(err, ErrPageOutOfRange) {
		t.Fatalf("expected ErrPageOutOfRange, got %v", err)
	}
	if _, err := Extract(context.Background(), src, nil); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestSplit(t *testing.T) {
	parts, err := Split(context.Background(), fixture(t, "p", 5), []string{"1-2", "4,5", "3-99"})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("parts = %d", len(parts))
	}
	expectPages(t, reparse(t, parts[0]), "p 1", "p 2")
	expectPages(t, reparse(t, parts[1]), "p 4", "p 5")
	expectPages(t, reparse(t, parts[2]), "p 3", "p 4", "p 5")

	if _, err := Split(context.Background(), fixture(t, "p", 2), []string{"7-9"}); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Extract(ctx, fixture(t, "p", 1), []int{1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestInfo(t *testing.T) {
	info, err := New().Info(context.Background(), fixture(t, "p", 2))
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if len(info.Pages) != 2 || info.Pages[1].Number != 2 || info.Pages[1].Width != 200 || info.Pages[1].Height != 200 {
		t.Fatalf("info = %+v", info)
	}
	if info.Version == "" {
		t.Fatalf("missing version")
	}
}

func TestValidate(t *testing.T) {
	merged, err := Merge(context.Background(), fixture(t, "a", 2), fixture(t, "b", 2))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	n, err := Validate(context.Background(), merged)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if n != 4 {
		t.Fatalf("page count = %d", n)
	}
	if _, err := Validate(context.Background(), []byte("not a pdf")); err == nil {
		t.Fatalf("expected validation error")
	}
}
