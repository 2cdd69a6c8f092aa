package xref_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/recovery"
	"github.com/idmcalculus/kytepdf/xref"
)

func TestResolverRepairsCorruptXRef(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	// No xref, no startxref
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("%%EOF\n")
	data := buf.Bytes()

	if _, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), data); err == nil {
		t.Fatal("expected error on missing startxref without a recovery strategy")
	}

	resolver := xref.NewResolver(xref.ResolverConfig{Recovery: &testRecovery{action: recovery.ActionFix}})
	table, err := resolver.Resolve(context.Background(), data)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if !table.Repaired {
		t.Fatalf("table should be marked repaired")
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != int64(off1) {
		t.Errorf("object 1 lookup failed or wrong offset: got %d, want %d, ok=%v", e.Offset, off1, ok)
	}
	if e, ok := table.Lookup(2); !ok || e.Offset != int64(off2) {
		t.Errorf("object 2 lookup failed or wrong offset: got %d, want %d, ok=%v", e.Offset, off2, ok)
	}
	if _, ok := table.Trailer.KV["Root"].(raw.RefObj); !ok {
		t.Errorf("trailer root not recovered: %v", table.Trailer.KV)
	}
}

func TestRepairGarbagePrefix(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	buf.WriteString("999 ")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< >>\nendobj\n")
	buf.WriteString("trailer\n<< /Size 2 /Root 1 0 R >>\n%%EOF\n")

	table, err := xref.Repair(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != int64(off1) {
		t.Errorf("object 1 lookup failed: got %d, want %d", e.Offset, off1)
	}
	if _, ok := table.Lookup(999); ok {
		t.Errorf("garbage number should not become an object")
	}
}

func TestRepairLaterDefinitionWins(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n1 0 obj\n(old)\nendobj\n")
	off := buf.Len()
	buf.WriteString("1 0 obj\n(new)\nendobj\n")
	table, err := xref.Repair(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if e, _ := table.Lookup(1); e.Offset != int64(off) {
		t.Fatalf("expected offset %d, got %d", off, e.Offset)
	}
	if n, ok := table.Trailer.KV["Size"].(raw.NumberObj); !ok || n.Int() != 2 {
		t.Fatalf("unexpected size %v", table.Trailer.KV["Size"])
	}
}

func TestRepairNothingFound(t *testing.T) {
	if _, err := xref.Repair(context.Background(), []byte("not a pdf at all")); err != xref.ErrRepairFailed {
		t.Fatalf("expected ErrRepairFailed, got %v", err)
	}
}

type testRecovery struct {
	action recovery.Action
}

func (r *testRecovery) OnError(ctx context.Context, err error, loc recovery.Location) recovery.Action {
	return r.action
}
