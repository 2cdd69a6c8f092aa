package writer

import (
	"fmt"
	"strconv"

	"github.com/idmcalculus/kytepdf/contentstream"
	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/pagetree"
)

// Stamper draws overlay pages on top of the pages of an existing raw
// document. Fonts and images shared between overlays are stored once.
type Stamper struct {
	doc  *raw.Document
	b    *objectBuilder
	next int
}

func NewStamper(doc *raw.Document, cfg Config) *Stamper {
	s := &Stamper{doc: doc, next: doc.MaxObjectNum() + 1}
	s.b = newObjectBuilder(cfg, s.add)
	return s
}

func (s *Stamper) add(o raw.Object) raw.ObjectRef {
	ref := raw.ObjectRef{Num: s.next}
	s.next++
	s.doc.Objects[ref] = o
	return ref
}

// operators whose first name operand selects a resource, by category
var resourceOperators = map[string]string{
	"Tf": "Font",
	"Do": "XObject",
	"gs": "ExtGState",
}

// Stamp appends overlay's content to page. The existing content is wrapped
// in q/Q so graphics state it leaves behind cannot affect the overlay.
// Overlay resource names that clash with the page's are renamed. The page
// gets its own copy of the resource dictionaries, so pages sharing
// inherited resources are not affected.
func (s *Stamper) Stamp(page *pagetree.Page, overlay *semantic.Page) error {
	if page == nil || page.Dict == nil {
		return fmt.Errorf("stamp: no page")
	}
	ops, err := overlayOperations(overlay)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	added, err := s.b.resources(overlay.Resources)
	if err != nil {
		return fmt.Errorf("stamp resources: %w", err)
	}
	merged := s.copyResources(page.Resources)
	renames := make(map[string]map[string]string)
	for _, cat := range []string{"Font", "XObject", "ExtGState"} {
		src, ok := added.KV[cat].(*raw.DictObj)
		if !ok {
			continue
		}
		dst, _ := merged.KV[cat].(*raw.DictObj)
		if dst == nil {
			dst = raw.Dict()
			merged.Set(raw.NameLiteral(cat), dst)
		}
		renames[cat] = mergeNames(dst, src)
	}
	ops = renameOperands(ops, renames)

	overlayData := append([]byte("Q\n"), contentstream.Serialize(ops)...)
	contents := raw.NewArray()
	for _, ref := range s.existingContents(page.Dict) {
		contents.Append(ref)
	}
	if contents.Len() == 0 {
		overlayData = overlayData[2:]
	} else {
		prefix, err := s.b.stream(raw.Dict(), []byte("q\n"))
		if err != nil {
			return err
		}
		contents.Items = append([]raw.Object{raw.RefObj{R: s.add(prefix)}}, contents.Items...)
	}
	stream, err := s.b.stream(raw.Dict(), overlayData)
	if err != nil {
		return err
	}
	contents.Append(raw.RefObj{R: s.add(stream)})

	page.Dict.Set(raw.NameLiteral("Contents"), contents)
	page.Dict.Set(raw.NameLiteral("Resources"), merged)
	page.Resources = merged
	return nil
}

func overlayOperations(p *semantic.Page) ([]semantic.Operation, error) {
	if p == nil {
		return nil, nil
	}
	var ops []semantic.Operation
	for _, cs := range p.Contents {
		if len(cs.Operations) > 0 {
			ops = append(ops, cs.Operations...)
			continue
		}
		if len(cs.RawBytes) == 0 {
			continue
		}
		parsed, err := contentstream.Parse(cs.RawBytes)
		if err != nil {
			return nil, fmt.Errorf("overlay content: %w", err)
		}
		ops = append(ops, parsed...)
	}
	return ops, nil
}

func (s *Stamper) copyResources(res *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	if res == nil {
		return out
	}
	for k, v := range res.KV {
		out.KV[k] = v
	}
	for _, cat := range []string{"Font", "XObject", "ExtGState"} {
		if d, ok := s.doc.ResolveDict(res.KV[cat]); ok {
			cp := raw.Dict()
			for k, v := range d.KV {
				cp.KV[k] = v
			}
			out.KV[cat] = cp
		}
	}
	return out
}

// mergeNames copies src entries into dst, returning the names that had to
// change because dst already used them.
func mergeNames(dst, src *raw.DictObj) map[string]string {
	renamed := make(map[string]string)
	for name, v := range src.KV {
		final := name
		for i := 1; ; i++ {
			if _, taken := dst.KV[final]; !taken {
				break
			}
			final = name + "_" + strconv.Itoa(i)
		}
		if final != name {
			renamed[name] = final
		}
		dst.KV[final] = v
	}
	return renamed
}

func renameOperands(ops []semantic.Operation, renames map[string]map[string]string) []semantic.Operation {
	for i, op := range ops {
		cat, ok := resourceOperators[op.Operator]
		if !ok || len(renames[cat]) == 0 || len(op.Operands) == 0 {
			continue
		}
		name, ok := op.Operands[0].(semantic.NameOperand)
		if !ok {
			continue
		}
		if to, ok := renames[cat][name.Value]; ok {
			operands := append([]semantic.Operand(nil), op.Operands...)
			operands[0] = semantic.NameOperand{Value: to}
			ops[i] = semantic.Operation{Operator: op.Operator, Operands: operands}
		}
	}
	return ops
}

func (s *Stamper) existingContents(page *raw.DictObj) []raw.Object {
	switch v := page.KV["Contents"].(type) {
	case nil:
		return nil
	case raw.RefObj:
		if arr, ok := s.doc.ResolveArray(v); ok {
			return append([]raw.Object(nil), arr.Items...)
		}
		return []raw.Object{v}
	case *raw.ArrayObj:
		return append([]raw.Object(nil), v.Items...)
	}
	return nil
}
