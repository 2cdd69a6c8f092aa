package writer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/filters"
	"github.com/idmcalculus/kytepdf/ir"
	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/pagetree"
	"github.com/idmcalculus/kytepdf/parser"
)

func TestStampRenamesClashingResources(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(100, 100).DrawText("base", 10, 10, builder.TextOptions{})
	src, _ := b.Build()
	data := writeDoc(t, src, Config{})

	doc, err := parser.Load(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	overlay := builder.NewOverlay(100, 100, "")
	overlay.DrawText("over", 20, 20, builder.TextOptions{Font: "Courier"})

	s := NewStamper(doc, Config{})
	if err := s.Stamp(pages[0], overlay.Page()); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	var out bytes.Buffer
	if err := New().WriteRaw(context.Background(), doc, &out, Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}

	sem, err := ir.NewDefault(nil).ParseBytes(context.Background(), out.Bytes())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	fonts := sem.Pages[0].Resources.Fonts
	if fonts["F1"].BaseFont != "Helvetica" || fonts["F1_1"] == nil || fonts["F1_1"].BaseFont != "Courier" {
		t.Fatalf("fonts not merged: %+v", fonts)
	}
	content := string(sem.Pages[0].Contents[0].RawBytes)
	if !strings.HasPrefix(content, "q\n") {
		t.Fatalf("original content not wrapped: %q", content)
	}
	base := strings.Index(content, "(base) Tj")
	restore := strings.Index(content, "Q\nq\nBT\n/F1_1")
	over := strings.Index(content, "(over) Tj")
	if base < 0 || restore < base || over < restore {
		t.Fatalf("unexpected content order: %q", content)
	}
}

// sharedResourcesDoc has two pages inheriting one /Resources dictionary.
func sharedResourcesDoc() (*raw.Document, *raw.DictObj) {
	doc := raw.NewDocument("1.7")
	font := raw.Dict()
	font.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	font.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral("Helvetica"))
	fonts := raw.Dict()
	fonts.Set(raw.NameLiteral("F1"), raw.Ref(5, 0))
	res := raw.Dict()
	res.Set(raw.NameLiteral("Font"), fonts)

	doc.Objects[raw.ObjectRef{Num: 1}] = raw.NewStream(nil, []byte("BT /F1 12 Tf (p1) Tj ET"))
	doc.Objects[raw.ObjectRef{Num: 4}] = res
	doc.Objects[raw.ObjectRef{Num: 5}] = font
	kids := raw.NewArray()
	for i, num := range []int{10, 11} {
		p := raw.Dict()
		p.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
		p.Set(raw.NameLiteral("Parent"), raw.Ref(2, 0))
		if i == 0 {
			p.Set(raw.NameLiteral("Contents"), raw.Ref(1, 0))
		}
		doc.Objects[raw.ObjectRef{Num: num}] = p
		kids.Append(raw.Ref(num, 0))
	}
	pages := raw.Dict()
	pages.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pages.Set(raw.NameLiteral("Kids"), kids)
	pages.Set(raw.NameLiteral("Count"), raw.NumberInt(2))
	pages.Set(raw.NameLiteral("Resources"), raw.Ref(4, 0))
	pages.Set(raw.NameLiteral("MediaBox"), raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(50), raw.NumberInt(50)))
	doc.Objects[raw.ObjectRef{Num: 2}] = pages
	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.Ref(2, 0))
	doc.Objects[raw.ObjectRef{Num: 3}] = catalog
	doc.Trailer.Set(raw.NameLiteral("Root"), raw.Ref(3, 0))
	return doc, fonts
}

func TestStampLeavesSharedResourcesAlone(t *testing.T) {
	doc, sharedFonts := sharedResourcesDoc()
	pages, err := pagetree.Pages(doc)
	if err != nil || len(pages) != 2 {
		t.Fatalf("pages: %v %d", err, len(pages))
	}
	s := NewStamper(doc, Config{ContentFilter: FilterNone})
	for _, p := range pages {
		overlay := builder.NewOverlay(50, 50, "")
		overlay.DrawRectangle(1, 1, 10, 10, builder.RectOptions{Fill: true, FillColor: builder.White})
		overlay.DrawText("x", 1, 1, builder.TextOptions{Font: "Times-Roman"})
		if err := s.Stamp(p, overlay.Page()); err != nil {
			t.Fatalf("stamp page %d: %v", p.Index, err)
		}
	}
	if sharedFonts.Len() != 1 {
		t.Fatalf("inherited font dictionary was modified: %v", sharedFonts.KV)
	}
	if _, own := pages[1].Dict.KV["Resources"]; !own {
		t.Fatalf("stamped page should get its own resources")
	}

	// The page without content gets the overlay alone, without a stray Q.
	second, err := pagetree.Contents(context.Background(), doc, pages[1], nil)
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if bytes.HasPrefix(second, []byte("Q")) || !bytes.Contains(second, []byte("/F1_1 ")) {
		t.Fatalf("unexpected overlay content %q", second)
	}
	first, err := pagetree.Contents(context.Background(), doc, pages[0], filters.NewDefaultPipeline(filters.Limits{}))
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if !bytes.HasPrefix(first, []byte("q\n")) || !bytes.Contains(first, []byte("(p1) Tj")) {
		t.Fatalf("unexpected stamped content %q", first)
	}
	// Both overlays use Times-Roman: one font object serves them.
	if f0, f1 := pageFont(doc, pages[0]), pageFont(doc, pages[1]); f0 != f1 || f0.Num == 0 {
		t.Fatalf("overlay font stored twice: %v %v", f0, f1)
	}
}

func pageFont(doc *raw.Document, p *pagetree.Page) raw.ObjectRef {
	fonts, _ := doc.ResolveDict(p.Resources.KV["Font"])
	ref, _ := fonts.KV["F1_1"].(raw.RefObj)
	return ref.R
}
