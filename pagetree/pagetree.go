// Package pagetree walks and rebuilds the /Pages tree of a raw document.
package pagetree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/idmcalculus/kytepdf/filters"
	"github.com/idmcalculus/kytepdf/ir/raw"
)

var (
	ErrNoPages   = errors.New("document has no page tree")
	ErrTreeDepth = errors.New("page tree too deep")
)

const maxTreeDepth = 64

// Box is a PDF rectangle normalized so LL is the lower-left corner.
type Box struct {
	LLX, LLY, URX, URY float64
}

func (b Box) Width() float64  { return b.URX - b.LLX }
func (b Box) Height() float64 { return b.URY - b.LLY }
func (b Box) IsZero() bool    { return b == Box{} }

// DefaultMediaBox is US Letter, used when no MediaBox is present anywhere.
var DefaultMediaBox = Box{0, 0, 612, 792}

// Page is one leaf of the page tree with inheritable attributes resolved.
type Page struct {
	Index     int
	Ref       raw.ObjectRef
	Dict      *raw.DictObj
	MediaBox  Box
	CropBox   Box
	Rotate    int
	Resources *raw.DictObj

	resourcesObj raw.Object
}

// Width and Height report the MediaBox size in points.
func (p *Page) Width() float64  { return p.MediaBox.Width() }
func (p *Page) Height() float64 { return p.MediaBox.Height() }

type inherited struct {
	mediaBox  *Box
	cropBox   *Box
	rotate    *int
	resources raw.Object
}

// Pages returns the leaves of the page tree in document order.
func Pages(doc *raw.Document) ([]*Page, error) {
	root, err := doc.Root()
	if err != nil {
		return nil, err
	}
	pagesObj, ok := root.KV["Pages"]
	if !ok {
		return nil, ErrNoPages
	}
	var out []*Page
	visited := make(map[raw.ObjectRef]bool)
	if err := walk(doc, pagesObj, inherited{}, visited, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Count is len(Pages(doc)).
func Count(doc *raw.Document) (int, error) {
	pages, err := Pages(doc)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

func walk(doc *raw.Document, obj raw.Object, inh inherited, visited map[raw.ObjectRef]bool, depth int, out *[]*Page) error {
	if depth > maxTreeDepth {
		return ErrTreeDepth
	}
	var ref raw.ObjectRef
	if r, ok := obj.(raw.RefObj); ok {
		if visited[r.R] {
			return nil
		}
		visited[r.R] = true
		ref = r.R
	}
	dict, ok := doc.ResolveDict(obj)
	if !ok {
		return nil
	}

	if box, ok := boxFrom(doc, dict.KV["MediaBox"]); ok {
		inh.mediaBox = &box
	}
	if box, ok := boxFrom(doc, dict.KV["CropBox"]); ok {
		inh.cropBox = &box
	}
	if n, ok := doc.ResolveNumber(dict.KV["Rotate"]); ok {
		r := normalizeRotation(int(n))
		inh.rotate = &r
	}
	if res, ok := dict.KV["Resources"]; ok {
		inh.resources = res
	}

	typ, _ := dict.NameValue("Type")
	kids, hasKids := doc.ResolveArray(dict.KV["Kids"])
	if typ == "Page" || (typ == "" && !hasKids) {
		*out = append(*out, newPage(doc, len(*out), ref, dict, inh))
		return nil
	}
	if !hasKids {
		return nil
	}
	for _, kid := range kids.Items {
		if err := walk(doc, kid, inh, visited, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

func newPage(doc *raw.Document, index int, ref raw.ObjectRef, dict *raw.DictObj, inh inherited) *Page {
	p := &Page{Index: index, Ref: ref, Dict: dict, MediaBox: DefaultMediaBox, resourcesObj: inh.resources}
	if inh.mediaBox != nil {
		p.MediaBox = *inh.mediaBox
	}
	p.CropBox = p.MediaBox
	if inh.cropBox != nil {
		p.CropBox = intersect(*inh.cropBox, p.MediaBox)
	}
	if inh.rotate != nil {
		p.Rotate = *inh.rotate
	}
	if inh.resources != nil {
		p.Resources, _ = doc.ResolveDict(inh.resources)
	}
	return p
}

func boxFrom(doc *raw.Document, o raw.Object) (Box, bool) {
	arr, ok := doc.ResolveArray(o)
	if !ok || arr.Len() < 4 {
		return Box{}, false
	}
	var v [4]float64
	for i := 0; i < 4; i++ {
		n, ok := doc.ResolveNumber(arr.Items[i])
		if !ok {
			return Box{}, false
		}
		v[i] = n
	}
	b := Box{
		LLX: math.Min(v[0], v[2]), LLY: math.Min(v[1], v[3]),
		URX: math.Max(v[0], v[2]), URY: math.Max(v[1], v[3]),
	}
	if b.Width() <= 0 || b.Height() <= 0 {
		return Box{}, false
	}
	return b, true
}

func intersect(a, b Box) Box {
	out := Box{
		LLX: math.Max(a.LLX, b.LLX), LLY: math.Max(a.LLY, b.LLY),
		URX: math.Min(a.URX, b.URX), URY: math.Min(a.URY, b.URY),
	}
	if out.Width() <= 0 || out.Height() <= 0 {
		return b
	}
	return out
}

func normalizeRotation(deg int) int {
	r := ((deg % 360) + 360) % 360
	return r / 90 * 90
}

// BoxArray renders b as a PDF array.
func BoxArray(b Box) *raw.ArrayObj {
	return raw.NewArray(num(b.LLX), num(b.LLY), num(b.URX), num(b.URY))
}

func num(f float64) raw.NumberObj {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return raw.NumberInt(int64(f))
	}
	return raw.NumberFloat(f)
}

// Contents returns the page's decoded content streams joined by newlines.
func Contents(ctx context.Context, doc *raw.Document, p *Page, fp *filters.Pipeline) ([]byte, error) {
	if fp == nil {
		fp = filters.NewDefaultPipeline(filters.Limits{})
	}
	streams := contentStreams(doc, p.Dict.KV["Contents"])
	var buf bytes.Buffer
	for i, st := range streams {
		names, params := filters.ExtractFilters(st.Dict)
		data, err := fp.Decode(ctx, st.Data, names, params)
		if err != nil {
			return nil, fmt.Errorf("page %d content stream %d: %w", p.Index+1, i, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func contentStreams(doc *raw.Document, o raw.Object) []*raw.StreamObj {
	switch v := doc.Resolve(o).(type) {
	case *raw.StreamObj:
		return []*raw.StreamObj{v}
	case *raw.ArrayObj:
		var out []*raw.StreamObj
		for _, it := range v.Items {
			if st, ok := doc.Resolve(it).(*raw.StreamObj); ok {
				out = append(out, st)
			}
		}
		return out
	}
	return nil
}
