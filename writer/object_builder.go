package writer

import (
	"fmt"
	"strings"

	"github.com/idmcalculus/kytepdf/contentstream"
	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/pagetree"
)

// objectBuilder lowers semantic resources and content into raw objects.
// Fonts and XObjects are stored once however many pages use them.
type objectBuilder struct {
	cfg Config
	add func(raw.Object) raw.ObjectRef

	fontRefs    map[string]raw.ObjectRef
	xobjectRefs map[*semantic.XObject]raw.ObjectRef
	// forms being lowered, to cut cycles between form resources
	pendingForms map[*semantic.XObject]bool
}

func newObjectBuilder(cfg Config, add func(raw.Object) raw.ObjectRef) *objectBuilder {
	return &objectBuilder{
		cfg:          cfg,
		add:          add,
		fontRefs:     make(map[string]raw.ObjectRef),
		xobjectRefs:  make(map[*semantic.XObject]raw.ObjectRef),
		pendingForms: make(map[*semantic.XObject]bool),
	}
}

// buildDocument produces a raw document with a flat page tree.
func buildDocument(doc *semantic.Document, cfg Config) (*raw.Document, error) {
	if doc == nil || len(doc.Pages) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	tree := pagetree.NewTree(pdfVersion(cfg, doc.Version))
	b := newObjectBuilder(cfg, tree.Add)

	for i, p := range doc.Pages {
		pageDict, err := b.page(p)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		if err := tree.AppendPage(tree.Add(pageDict)); err != nil {
			return nil, err
		}
	}
	if info := infoDict(doc.Info); info != nil {
		tree.Doc.Trailer.Set(raw.NameLiteral("Info"), raw.RefObj{R: tree.Add(info)})
	}
	return tree.Doc, nil
}

func (b *objectBuilder) page(p *semantic.Page) (*raw.DictObj, error) {
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	dict.Set(raw.NameLiteral("MediaBox"), rectArray(p.MediaBox))
	if p.CropBox != (semantic.Rectangle{}) && p.CropBox != p.MediaBox {
		dict.Set(raw.NameLiteral("CropBox"), rectArray(p.CropBox))
	}
	if rot := normalizeRotation(p.Rotate); rot != 0 {
		dict.Set(raw.NameLiteral("Rotate"), raw.NumberInt(int64(rot)))
	}
	res, err := b.resources(p.Resources)
	if err != nil {
		return nil, err
	}
	dict.Set(raw.NameLiteral("Resources"), res)

	contents := raw.NewArray()
	for _, cs := range p.Contents {
		stream, err := b.contentStream(cs)
		if err != nil {
			return nil, err
		}
		contents.Append(raw.RefObj{R: b.add(stream)})
	}
	switch contents.Len() {
	case 0:
	case 1:
		dict.Set(raw.NameLiteral("Contents"), contents.Items[0])
	default:
		dict.Set(raw.NameLiteral("Contents"), contents)
	}
	return dict, nil
}

func (b *objectBuilder) contentStream(cs semantic.ContentStream) (*raw.StreamObj, error) {
	data := cs.RawBytes
	if len(cs.Operations) > 0 {
		data = contentstream.Serialize(cs.Operations)
	}
	return b.stream(raw.Dict(), data)
}

func (b *objectBuilder) stream(dict *raw.DictObj, data []byte) (*raw.StreamObj, error) {
	enc, filter, err := encodeStream(data, b.cfg)
	if err != nil {
		return nil, err
	}
	if filter != "" {
		dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral(filter))
	}
	return raw.NewStream(dict, enc), nil
}

// resources returns a direct /Resources dictionary for res.
func (b *objectBuilder) resources(res *semantic.Resources) (*raw.DictObj, error) {
	out := raw.Dict()
	if res == nil {
		return out, nil
	}
	if len(res.Fonts) > 0 {
		fonts := raw.Dict()
		for name, f := range res.Fonts {
			fonts.Set(raw.NameLiteral(name), raw.RefObj{R: b.ensureFont(f)})
		}
		out.Set(raw.NameLiteral("Font"), fonts)
	}
	if len(res.ExtGStates) > 0 {
		states := raw.Dict()
		for name, gs := range res.ExtGStates {
			states.Set(raw.NameLiteral(name), extGStateDict(gs))
		}
		out.Set(raw.NameLiteral("ExtGState"), states)
	}
	if len(res.XObjects) > 0 {
		xobjs := raw.Dict()
		for name, xo := range res.XObjects {
			ref, err := b.ensureXObject(xo)
			if err != nil {
				return nil, fmt.Errorf("xobject %s: %w", name, err)
			}
			xobjs.Set(raw.NameLiteral(name), raw.RefObj{R: ref})
		}
		out.Set(raw.NameLiteral("XObject"), xobjs)
	}
	return out, nil
}

func fontKey(f *semantic.Font) string {
	return strings.Join([]string{f.Subtype, f.BaseFont, f.Encoding}, "|")
}

func (b *objectBuilder) ensureFont(f *semantic.Font) raw.ObjectRef {
	key := fontKey(f)
	if ref, ok := b.fontRefs[key]; ok {
		return ref
	}
	subtype := f.Subtype
	if subtype == "" {
		subtype = "Type1"
	}
	base := f.BaseFont
	if base == "" {
		base = "Helvetica"
	}
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	dict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral(subtype))
	dict.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral(base))
	if f.Encoding != "" {
		dict.Set(raw.NameLiteral("Encoding"), raw.NameLiteral(f.Encoding))
	}
	ref := b.add(dict)
	b.fontRefs[key] = ref
	return ref
}

func extGStateDict(gs semantic.ExtGState) *raw.DictObj {
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Type"), raw.NameLiteral("ExtGState"))
	if gs.LineWidth != nil {
		dict.Set(raw.NameLiteral("LW"), raw.NumberFloat(*gs.LineWidth))
	}
	if gs.FillAlpha != nil {
		dict.Set(raw.NameLiteral("ca"), raw.NumberFloat(*gs.FillAlpha))
	}
	if gs.StrokeAlpha != nil {
		dict.Set(raw.NameLiteral("CA"), raw.NumberFloat(*gs.StrokeAlpha))
	}
	if gs.BlendMode != "" {
		dict.Set(raw.NameLiteral("BM"), raw.NameLiteral(gs.BlendMode))
	}
	return dict
}

func (b *objectBuilder) ensureXObject(xo *semantic.XObject) (raw.ObjectRef, error) {
	if xo == nil {
		return raw.ObjectRef{}, fmt.Errorf("nil xobject")
	}
	if ref, ok := b.xobjectRefs[xo]; ok {
		return ref, nil
	}
	if xo.Subtype == "Form" {
		return b.form(xo)
	}
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Type"), raw.NameLiteral("XObject"))
	dict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Image"))
	dict.Set(raw.NameLiteral("Width"), raw.NumberInt(int64(xo.Width)))
	dict.Set(raw.NameLiteral("Height"), raw.NumberInt(int64(xo.Height)))
	bpc := xo.BitsPerComponent
	if bpc == 0 {
		bpc = 8
	}
	if xo.ImageMask {
		dict.Set(raw.NameLiteral("ImageMask"), raw.Bool(true))
		bpc = 1
	} else {
		dict.Set(raw.NameLiteral("ColorSpace"), colorSpaceObject(xo.ColorSpace))
	}
	dict.Set(raw.NameLiteral("BitsPerComponent"), raw.NumberInt(int64(bpc)))
	if xo.Interpolate {
		dict.Set(raw.NameLiteral("Interpolate"), raw.Bool(true))
	}
	if len(xo.Decode) > 0 {
		arr := raw.NewArray()
		for _, v := range xo.Decode {
			arr.Append(number(v))
		}
		dict.Set(raw.NameLiteral("Decode"), arr)
	}
	if xo.SMask != nil {
		mask := *xo.SMask
		mask.ColorSpace = semantic.DeviceColorSpace{Name: "DeviceGray"}
		mask.SMask = nil
		ref, err := b.ensureXObject(&mask)
		if err != nil {
			return raw.ObjectRef{}, fmt.Errorf("soft mask: %w", err)
		}
		dict.Set(raw.NameLiteral("SMask"), raw.RefObj{R: ref})
	}

	var stream *raw.StreamObj
	if xo.Filter != "" {
		// Already encoded (JPEG, or data no decoder understood).
		dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral(xo.Filter))
		stream = raw.NewStream(dict, xo.Data)
	} else {
		var err error
		if stream, err = b.stream(dict, xo.Data); err != nil {
			return raw.ObjectRef{}, err
		}
	}
	ref := b.add(stream)
	b.xobjectRefs[xo] = ref
	return ref, nil
}

func (b *objectBuilder) form(xo *semantic.XObject) (raw.ObjectRef, error) {
	if b.pendingForms[xo] {
		return raw.ObjectRef{}, fmt.Errorf("form xobject references itself")
	}
	b.pendingForms[xo] = true
	defer delete(b.pendingForms, xo)

	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Type"), raw.NameLiteral("XObject"))
	dict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Form"))
	dict.Set(raw.NameLiteral("BBox"), rectArray(xo.BBox))
	if len(xo.Matrix) == 6 {
		arr := raw.NewArray()
		for _, v := range xo.Matrix {
			arr.Append(number(v))
		}
		dict.Set(raw.NameLiteral("Matrix"), arr)
	}
	res, err := b.resources(xo.Resources)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	dict.Set(raw.NameLiteral("Resources"), res)
	stream, err := b.stream(dict, xo.Data)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	ref := b.add(stream)
	b.xobjectRefs[xo] = ref
	return ref, nil
}

func colorSpaceObject(cs semantic.ColorSpace) raw.Object {
	switch v := cs.(type) {
	case semantic.DeviceColorSpace:
		return raw.NameLiteral(v.Name)
	case *semantic.ICCBasedColorSpace:
		// The profile is not kept; the alternate space is close enough.
		if v.Alternate != nil {
			return colorSpaceObject(v.Alternate)
		}
		switch v.N {
		case 1:
			return raw.NameLiteral("DeviceGray")
		case 4:
			return raw.NameLiteral("DeviceCMYK")
		}
	case *semantic.IndexedColorSpace:
		return raw.NewArray(
			raw.NameLiteral("Indexed"),
			colorSpaceObject(v.Base),
			raw.NumberInt(int64(v.Hival)),
			raw.HexStr(v.Lookup),
		)
	}
	return raw.NameLiteral("DeviceRGB")
}

func infoDict(info *semantic.DocumentInfo) *raw.DictObj {
	if info == nil {
		return nil
	}
	dict := raw.Dict()
	set := func(key, value string) {
		if value != "" {
			dict.Set(raw.NameLiteral(key), textString(value))
		}
	}
	set("Title", info.Title)
	set("Author", info.Author)
	set("Subject", info.Subject)
	set("Keywords", strings.Join(info.Keywords, ", "))
	set("Creator", info.Creator)
	set("Producer", info.Producer)
	if dict.Len() == 0 {
		return nil
	}
	return dict
}

func normalizeRotation(rot int) int {
	rot %= 360
	if rot < 0 {
		rot += 360
	}
	if rot%90 != 0 {
		return 0
	}
	return rot
}
