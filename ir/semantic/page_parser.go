package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/idmcalculus/kytepdf/filters"
	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/pagetree"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Builder turns a raw document into semantic pages.
type Builder interface {
	Build(ctx context.Context, doc *raw.Document) (*Document, error)
}

type builder struct {
	fp *filters.Pipeline
}

// NewBuilder returns a Builder decoding streams through fp. A nil
// pipeline gets the default decoders with no limits.
func NewBuilder(fp *filters.Pipeline) Builder {
	if fp == nil {
		fp = filters.NewDefaultPipeline(filters.Limits{})
	}
	return &builder{fp: fp}
}

func (b *builder) Build(ctx context.Context, doc *raw.Document) (*Document, error) {
	pages, err := pagetree.Pages(doc)
	if err != nil {
		return nil, err
	}
	pr := newResourceParser(doc, b.fp)
	out := &Document{Version: doc.Version, Info: parseInfo(doc)}
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := parsePage(ctx, doc, p, b.fp, pr)
		if err != nil {
			return nil, err
		}
		out.Pages = append(out.Pages, page)
	}
	return out, nil
}

func parsePage(ctx context.Context, doc *raw.Document, p *pagetree.Page, fp *filters.Pipeline, pr *resourceParser) (*Page, error) {
	page := &Page{
		Index:       p.Index,
		MediaBox:    fromBox(p.MediaBox),
		CropBox:     fromBox(p.CropBox),
		Rotate:      p.Rotate,
		OriginalRef: p.Ref,
	}
	if p.Resources != nil {
		page.Resources = pr.parse(ctx, p.Resources, 0)
	} else {
		page.Resources = NewResources()
	}
	data, err := pagetree.Contents(ctx, doc, p, fp)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", p.Index+1, err)
	}
	if len(data) > 0 {
		page.Contents = []ContentStream{{RawBytes: data}}
	}
	return page, nil
}

func fromBox(b pagetree.Box) Rectangle {
	return Rectangle{LLX: b.LLX, LLY: b.LLY, URX: b.URX, URY: b.URY}
}

func parseInfo(doc *raw.Document) *DocumentInfo {
	if doc.Trailer == nil {
		return nil
	}
	dict, ok := doc.ResolveDict(doc.Trailer.KV["Info"])
	if !ok {
		return nil
	}
	info := &DocumentInfo{
		Title:    textString(doc, dict.KV["Title"]),
		Author:   textString(doc, dict.KV["Author"]),
		Subject:  textString(doc, dict.KV["Subject"]),
		Creator:  textString(doc, dict.KV["Creator"]),
		Producer: textString(doc, dict.KV["Producer"]),
	}
	if kw := textString(doc, dict.KV["Keywords"]); kw != "" {
		for _, k := range strings.FieldsFunc(kw, func(r rune) bool { return r == ',' || r == ';' }) {
			if k = strings.TrimSpace(k); k != "" {
				info.Keywords = append(info.Keywords, k)
			}
		}
	}
	return info
}

// textString decodes a PDF text string: UTF-16BE with a byte order mark,
// otherwise Latin-1.
func textString(doc *raw.Document, o raw.Object) string {
	s, ok := doc.Resolve(o).(raw.StringObj)
	if !ok {
		return ""
	}
	b := s.Bytes
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(b)
		if err == nil {
			return string(out)
		}
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
