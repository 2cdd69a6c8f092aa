package semantic

import (
	"context"

	"github.com/idmcalculus/kytepdf/filters"
	"github.com/idmcalculus/kytepdf/ir/raw"
)

// maxFormDepth bounds nested form XObjects, which may reference each other.
const maxFormDepth = 8

type resourceParser struct {
	doc     *raw.Document
	fp      *filters.Pipeline
	fonts   map[raw.ObjectRef]*Font
	xobjs   map[raw.ObjectRef]*XObject
	pending map[raw.ObjectRef]bool
}

func newResourceParser(doc *raw.Document, fp *filters.Pipeline) *resourceParser {
	return &resourceParser{
		doc:     doc,
		fp:      fp,
		fonts:   make(map[raw.ObjectRef]*Font),
		xobjs:   make(map[raw.ObjectRef]*XObject),
		pending: make(map[raw.ObjectRef]bool),
	}
}

// parse reads a resource dictionary. Entries that cannot be read are left
// out; a page with a broken image still renders its text.
func (rp *resourceParser) parse(ctx context.Context, dict *raw.DictObj, depth int) *Resources {
	res := NewResources()
	if dict == nil {
		return res
	}
	if fonts, ok := rp.doc.ResolveDict(dict.KV["Font"]); ok {
		for name, v := range fonts.KV {
			if f := rp.font(v); f != nil {
				res.Fonts[name] = f
			}
		}
	}
	if gstates, ok := rp.doc.ResolveDict(dict.KV["ExtGState"]); ok {
		for name, v := range gstates.KV {
			if gs, ok := rp.extGState(v); ok {
				res.ExtGStates[name] = gs
			}
		}
	}
	if xobjs, ok := rp.doc.ResolveDict(dict.KV["XObject"]); ok {
		for name, v := range xobjs.KV {
			if ctx.Err() != nil {
				return res
			}
			if x := rp.xobject(ctx, v, depth); x != nil {
				res.XObjects[name] = x
			}
		}
	}
	return res
}

func (rp *resourceParser) font(o raw.Object) *Font {
	ref, isRef := o.(raw.RefObj)
	if isRef {
		if f, ok := rp.fonts[ref.R]; ok {
			return f
		}
	}
	dict, ok := rp.doc.ResolveDict(o)
	if !ok {
		return nil
	}
	f := &Font{}
	f.Subtype, _ = dict.NameValue("Subtype")
	f.BaseFont, _ = dict.NameValue("BaseFont")
	if enc, ok := rp.doc.Resolve(dict.KV["Encoding"]).(raw.NameObj); ok {
		f.Encoding = enc.Val
	}
	if fd, ok := rp.doc.ResolveDict(dict.KV["FontDescriptor"]); ok {
		for _, key := range []string{"FontFile", "FontFile2", "FontFile3"} {
			if _, ok := fd.KV[key]; ok {
				f.Embedded = true
			}
		}
	}
	if isRef {
		rp.fonts[ref.R] = f
	}
	return f
}

func (rp *resourceParser) extGState(o raw.Object) (ExtGState, bool) {
	dict, ok := rp.doc.ResolveDict(o)
	if !ok {
		return ExtGState{}, false
	}
	var gs ExtGState
	if v, ok := rp.doc.ResolveNumber(dict.KV["LW"]); ok {
		gs.LineWidth = &v
	}
	if v, ok := rp.doc.ResolveNumber(dict.KV["CA"]); ok {
		gs.StrokeAlpha = &v
	}
	if v, ok := rp.doc.ResolveNumber(dict.KV["ca"]); ok {
		gs.FillAlpha = &v
	}
	switch bm := rp.doc.Resolve(dict.KV["BM"]).(type) {
	case raw.NameObj:
		gs.BlendMode = bm.Val
	case *raw.ArrayObj:
		if len(bm.Items) > 0 {
			if n, ok := bm.Items[0].(raw.NameObj); ok {
				gs.BlendMode = n.Val
			}
		}
	}
	return gs, true
}

func (rp *resourceParser) xobject(ctx context.Context, o raw.Object, depth int) *XObject {
	ref, isRef := o.(raw.RefObj)
	if isRef {
		if x, ok := rp.xobjs[ref.R]; ok {
			return x
		}
		if rp.pending[ref.R] {
			return nil
		}
		rp.pending[ref.R] = true
		defer delete(rp.pending, ref.R)
	}
	st, ok := rp.doc.Resolve(o).(*raw.StreamObj)
	if !ok {
		return nil
	}
	var x *XObject
	switch subtype, _ := st.Dict.NameValue("Subtype"); subtype {
	case "Image":
		x = rp.image(ctx, st)
	case "Form":
		if depth >= maxFormDepth {
			return nil
		}
		x = rp.form(ctx, st, depth)
	}
	if x != nil && isRef {
		rp.xobjs[ref.R] = x
	}
	return x
}

func (rp *resourceParser) image(ctx context.Context, st *raw.StreamObj) *XObject {
	d := st.Dict
	x := &XObject{Subtype: "Image"}
	if v, ok := rp.doc.ResolveNumber(d.KV["Width"]); ok {
		x.Width = int(v)
	}
	if v, ok := rp.doc.ResolveNumber(d.KV["Height"]); ok {
		x.Height = int(v)
	}
	if v, ok := rp.doc.ResolveNumber(d.KV["BitsPerComponent"]); ok {
		x.BitsPerComponent = int(v)
	}
	if b, ok := rp.doc.Resolve(d.KV["ImageMask"]).(raw.BoolObj); ok && b.V {
		x.ImageMask = true
		x.BitsPerComponent = 1
	}
	if b, ok := rp.doc.Resolve(d.KV["Interpolate"]).(raw.BoolObj); ok {
		x.Interpolate = b.V
	}
	if arr, ok := rp.doc.ResolveArray(d.KV["Decode"]); ok {
		x.Decode = numbers(rp.doc, arr)
	}
	if !x.ImageMask {
		x.ColorSpace = rp.colorSpace(d.KV["ColorSpace"], 0)
	}

	names, params := filters.ExtractFilters(d)
	data, err := rp.fp.Decode(ctx, st.Data, names, params)
	if err != nil {
		// Keep the encoded bytes and name the filter the renderer must
		// understand to use them.
		x.Data = st.Data
		if len(names) > 0 {
			x.Filter = names[len(names)-1]
		}
		return x
	}
	x.Data = data
	if len(names) > 0 {
		if last := names[len(names)-1]; last == "DCTDecode" || last == "DCT" {
			x.Filter = "DCTDecode"
		}
	}
	if sm, ok := rp.doc.Resolve(d.KV["SMask"]).(*raw.StreamObj); ok {
		x.SMask = rp.image(ctx, sm)
	}
	return x
}

func (rp *resourceParser) form(ctx context.Context, st *raw.StreamObj, depth int) *XObject {
	d := st.Dict
	x := &XObject{Subtype: "Form"}
	if arr, ok := rp.doc.ResolveArray(d.KV["BBox"]); ok && arr.Len() == 4 {
		v := numbers(rp.doc, arr)
		x.BBox = Rectangle{LLX: v[0], LLY: v[1], URX: v[2], URY: v[3]}
	}
	if arr, ok := rp.doc.ResolveArray(d.KV["Matrix"]); ok && arr.Len() == 6 {
		x.Matrix = numbers(rp.doc, arr)
	}
	names, params := filters.ExtractFilters(d)
	data, err := rp.fp.Decode(ctx, st.Data, names, params)
	if err != nil {
		return nil
	}
	x.Data = data
	if res, ok := rp.doc.ResolveDict(d.KV["Resources"]); ok {
		x.Resources = rp.parse(ctx, res, depth+1)
	}
	return x
}

func (rp *resourceParser) colorSpace(o raw.Object, depth int) ColorSpace {
	if depth > 4 {
		return DeviceColorSpace{Name: "DeviceRGB"}
	}
	switch v := rp.doc.Resolve(o).(type) {
	case raw.NameObj:
		return DeviceColorSpace{Name: v.Val}
	case *raw.ArrayObj:
		if v.Len() == 0 {
			break
		}
		family, _ := rp.doc.Resolve(v.Items[0]).(raw.NameObj)
		switch family.Val {
		case "ICCBased":
			cs := &ICCBasedColorSpace{}
			if v.Len() > 1 {
				if prof, ok := rp.doc.ResolveDict(v.Items[1]); ok {
					if n, ok := rp.doc.ResolveNumber(prof.KV["N"]); ok {
						cs.N = int(n)
					}
					if alt, ok := prof.KV["Alternate"]; ok {
						cs.Alternate = rp.colorSpace(alt, depth+1)
					}
				}
			}
			if cs.Alternate == nil {
				cs.Alternate = DeviceColorSpace{Name: deviceFor(cs.N)}
			}
			return cs
		case "Indexed", "I":
			if v.Len() < 4 {
				break
			}
			cs := &IndexedColorSpace{Base: rp.colorSpace(v.Items[1], depth+1)}
			if n, ok := rp.doc.ResolveNumber(v.Items[2]); ok {
				cs.Hival = int(n)
			}
			switch lk := rp.doc.Resolve(v.Items[3]).(type) {
			case raw.StringObj:
				cs.Lookup = lk.Bytes
			case *raw.StreamObj:
				names, params := filters.ExtractFilters(lk.Dict)
				if data, err := rp.fp.Decode(context.Background(), lk.Data, names, params); err == nil {
					cs.Lookup = data
				}
			}
			return cs
		case "CalRGB", "Lab":
			return DeviceColorSpace{Name: "DeviceRGB"}
		case "CalGray":
			return DeviceColorSpace{Name: "DeviceGray"}
		case "Separation", "DeviceN":
			// Tint transforms are not evaluated; treat as gray.
			return DeviceColorSpace{Name: "DeviceGray"}
		default:
			return DeviceColorSpace{Name: family.Val}
		}
	}
	return DeviceColorSpace{Name: "DeviceRGB"}
}

func deviceFor(n int) string {
	switch n {
	case 1:
		return "DeviceGray"
	case 4:
		return "DeviceCMYK"
	}
	return "DeviceRGB"
}

func numbers(doc *raw.Document, arr *raw.ArrayObj) []float64 {
	out := make([]float64, arr.Len())
	for i, it := range arr.Items {
		out[i], _ = doc.ResolveNumber(it)
	}
	return out
}
