package pagetree

import (
	"fmt"

	"github.com/idmcalculus/kytepdf/ir/raw"
)

// Tree is a flat /Pages node being filled in a new document.
type Tree struct {
	Doc      *raw.Document
	PagesRef raw.ObjectRef
	kids     *raw.ArrayObj
	next     int
}

// NewTree creates a document holding an empty catalog and page tree.
func NewTree(version string) *Tree {
	doc := raw.NewDocument(version)
	t := &Tree{Doc: doc, kids: raw.NewArray(), next: 1}
	pages := raw.Dict()
	pages.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pages.Set(raw.NameLiteral("Kids"), t.kids)
	pages.Set(raw.NameLiteral("Count"), raw.NumberInt(0))
	t.PagesRef = t.Add(pages)

	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.RefObj{R: t.PagesRef})
	doc.Trailer.Set(raw.NameLiteral("Root"), raw.RefObj{R: t.Add(catalog)})
	return t
}

// Reserve hands out the next object number without storing anything.
func (t *Tree) Reserve() raw.ObjectRef {
	ref := raw.ObjectRef{Num: t.next}
	t.next++
	return ref
}

// Add stores o under a fresh object number.
func (t *Tree) Add(o raw.Object) raw.ObjectRef {
	ref := t.Reserve()
	t.Doc.Objects[ref] = o
	return ref
}

// AppendPage links an already stored page dictionary into the tree.
func (t *Tree) AppendPage(ref raw.ObjectRef) error {
	page, ok := t.Doc.Objects[ref].(*raw.DictObj)
	if !ok {
		return fmt.Errorf("object %s is not a page dictionary", ref)
	}
	page.Set(raw.NameLiteral("Parent"), raw.RefObj{R: t.PagesRef})
	t.kids.Append(raw.RefObj{R: ref})
	t.Doc.Objects[t.PagesRef].(*raw.DictObj).Set(raw.NameLiteral("Count"), raw.NumberInt(int64(t.kids.Len())))
	return nil
}

// Len reports how many pages have been appended.
func (t *Tree) Len() int { return t.kids.Len() }

// Copier deep-copies pages from one document into a Tree, renumbering every
// object it reaches. Objects shared between pages are copied once.
type Copier struct {
	src     *raw.Document
	dst     *Tree
	mapping map[raw.ObjectRef]raw.ObjectRef
}

func NewCopier(src *raw.Document, dst *Tree) *Copier {
	return &Copier{src: src, dst: dst, mapping: make(map[raw.ObjectRef]raw.ObjectRef)}
}

// CopyPage copies p with its inherited attributes written onto the page
// itself and appends it to the destination tree.
func (c *Copier) CopyPage(p *Page) (raw.ObjectRef, error) {
	var newRef raw.ObjectRef
	if p.Ref.Num > 0 {
		if existing, ok := c.mapping[p.Ref]; ok {
			newRef = existing
		} else {
			newRef = c.dst.Reserve()
			c.mapping[p.Ref] = newRef
		}
	} else {
		newRef = c.dst.Reserve()
	}

	out := raw.Dict()
	for k, v := range p.Dict.KV {
		if k == "Parent" {
			continue
		}
		out.KV[k] = c.copy(v)
	}
	out.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	out.Set(raw.NameLiteral("MediaBox"), BoxArray(p.MediaBox))
	if p.CropBox != p.MediaBox {
		out.Set(raw.NameLiteral("CropBox"), BoxArray(p.CropBox))
	}
	if p.Rotate != 0 {
		out.Set(raw.NameLiteral("Rotate"), raw.NumberInt(int64(p.Rotate)))
	}
	if _, own := p.Dict.KV["Resources"]; !own && p.resourcesObj != nil {
		out.Set(raw.NameLiteral("Resources"), c.copy(p.resourcesObj))
	}
	if _, ok := out.KV["Resources"]; !ok {
		out.Set(raw.NameLiteral("Resources"), raw.Dict())
	}

	c.dst.Doc.Objects[newRef] = out
	if err := c.dst.AppendPage(newRef); err != nil {
		return raw.ObjectRef{}, err
	}
	return newRef, nil
}

func (c *Copier) copy(o raw.Object) raw.Object {
	switch v := o.(type) {
	case raw.RefObj:
		if mapped, ok := c.mapping[v.R]; ok {
			return raw.RefObj{R: mapped}
		}
		target, ok := c.src.Objects[v.R]
		if !ok {
			return raw.NullObj{}
		}
		newRef := c.dst.Reserve()
		c.mapping[v.R] = newRef
		c.dst.Doc.Objects[newRef] = c.copy(target)
		return raw.RefObj{R: newRef}
	case *raw.DictObj:
		out := &raw.DictObj{KV: make(map[string]raw.Object, len(v.KV))}
		for k, item := range v.KV {
			// Annotation /P and page /Parent links point back into the
			// source tree. Dropping them avoids dragging every page along.
			if k == "Parent" || k == "P" {
				if _, isRef := item.(raw.RefObj); isRef {
					continue
				}
			}
			out.KV[k] = c.copy(item)
		}
		return out
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, item := range v.Items {
			out.Items[i] = c.copy(item)
		}
		return out
	case *raw.StreamObj:
		return &raw.StreamObj{Dict: c.copy(v.Dict).(*raw.DictObj), Data: append([]byte(nil), v.Data...)}
	default:
		return raw.Clone(o)
	}
}
