package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/observability"
)

type impl struct{ logger observability.Logger }

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	writeObject(&buf, ref, obj, identityRefs)
	return buf.Bytes(), nil
}

func writeObject(buf *bytes.Buffer, ref raw.ObjectRef, obj raw.Object, renum renumberFunc) {
	fmt.Fprintf(buf, "%d %d obj\n", ref.Num, ref.Gen)
	serializePrimitive(buf, obj, renum)
	buf.WriteString("\nendobj\n")
}

func (w *impl) Write(ctx context.Context, doc *semantic.Document, out io.Writer, cfg Config) error {
	rawDoc, err := buildDocument(doc, cfg)
	if err != nil {
		return err
	}
	return w.WriteRaw(ctx, rawDoc, out, cfg)
}

// WriteRaw renumbers the objects reachable from the trailer's /Root and
// /Info densely from 1 and writes them with a classic xref table.
// Anything else in the trailer (/Encrypt, /Prev, /XRefStm) is dropped.
func (w *impl) WriteRaw(ctx context.Context, doc *raw.Document, out io.Writer, cfg Config) error {
	if doc == nil || doc.Trailer == nil {
		return fmt.Errorf("document has no trailer")
	}
	rootObj, ok := doc.Trailer.KV["Root"].(raw.RefObj)
	if !ok {
		return raw.ErrNoRoot
	}
	if _, ok := doc.Objects[rootObj.R]; !ok {
		return raw.ErrNoRoot
	}
	var roots []raw.ObjectRef
	roots = append(roots, rootObj.R)
	infoObj, hasInfo := doc.Trailer.KV["Info"].(raw.RefObj)
	if hasInfo {
		if _, ok := doc.Objects[infoObj.R]; ok {
			roots = append(roots, infoObj.R)
		} else {
			hasInfo = false
		}
	}

	order := reachable(doc, roots)
	if cfg.KeepUnreachable {
		order = appendRemaining(doc, order)
	}
	numbers := make(map[raw.ObjectRef]raw.ObjectRef, len(order))
	for i, ref := range order {
		numbers[ref] = raw.ObjectRef{Num: i + 1}
	}
	renum := func(r raw.ObjectRef) (raw.ObjectRef, bool) {
		n, ok := numbers[r]
		return n, ok
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-" + pdfVersion(cfg, doc.Version) + "\n%\xE2\xE3\xCF\xD3\n")
	offsets := make([]int, len(order))
	for i, ref := range order {
		if i%128 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		offsets[i] = buf.Len()
		writeObject(&buf, numbers[ref], doc.Objects[ref], renum)
	}

	xrefOffset := buf.Len()
	size := len(order) + 1
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}

	var infoRef *raw.ObjectRef
	if hasInfo {
		r := numbers[infoObj.R]
		infoRef = &r
	}
	trailer := buildTrailer(size, numbers[rootObj.R], infoRef, fileID(buf.Bytes()))
	buf.WriteString("trailer\n")
	serializePrimitive(&buf, trailer, identityRefs)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	w.logger.Debug("pdf written",
		observability.Int("objects", len(order)),
		observability.Int(observability.MetricOutputBytes, buf.Len()))
	_, err := out.Write(buf.Bytes())
	return err
}

// reachable lists the objects referenced directly or indirectly from roots,
// in depth-first order with dictionary keys visited alphabetically.
func reachable(doc *raw.Document, roots []raw.ObjectRef) []raw.ObjectRef {
	seen := make(map[raw.ObjectRef]bool)
	var order []raw.ObjectRef
	var visit func(o raw.Object)
	visitRef := func(r raw.ObjectRef) {
		if seen[r] {
			return
		}
		obj, ok := doc.Objects[r]
		if !ok {
			return
		}
		seen[r] = true
		order = append(order, r)
		visit(obj)
	}
	visit = func(o raw.Object) {
		switch v := o.(type) {
		case raw.RefObj:
			visitRef(v.R)
		case *raw.ArrayObj:
			for _, it := range v.Items {
				visit(it)
			}
		case *raw.DictObj:
			keys := make([]string, 0, len(v.KV))
			for k := range v.KV {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				visit(v.KV[k])
			}
		case *raw.StreamObj:
			visit(v.Dict)
		}
	}
	for _, r := range roots {
		visitRef(r)
	}
	return order
}

func appendRemaining(doc *raw.Document, order []raw.ObjectRef) []raw.ObjectRef {
	seen := make(map[raw.ObjectRef]bool, len(order))
	for _, r := range order {
		seen[r] = true
	}
	var rest []raw.ObjectRef
	for r := range doc.Objects {
		if !seen[r] {
			rest = append(rest, r)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Num != rest[j].Num {
			return rest[i].Num < rest[j].Num
		}
		return rest[i].Gen < rest[j].Gen
	})
	return append(order, rest...)
}
