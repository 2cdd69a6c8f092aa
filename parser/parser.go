package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/idmcalculus/kytepdf/filters"
	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/recovery"
	"github.com/idmcalculus/kytepdf/xref"
)

var (
	// ErrNotPDF means no %PDF- header was found near the start of the input.
	ErrNotPDF = errors.New("not a valid PDF: missing %PDF header")
	// ErrEncrypted means the trailer names an /Encrypt dictionary.
	ErrEncrypted = errors.New("document is password protected (encrypted)")
)

// headerWindow is how far into the file the header may start. Some
// producers prepend junk before %PDF-.
const headerWindow = 1024

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   filters.Limits
	Cache    Cache
	Logger   observability.Logger
	// AllowEncrypted loads encrypted files without decrypting them. Strings
	// and streams stay ciphertext; only structure is usable.
	AllowEncrypted bool
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.Logger == nil {
		cfg.XRef.Logger = cfg.Logger
	}
	return &DocumentParser{cfg: cfg}
}

// Load parses data with a lenient recovery strategy, the way every
// toolkit operation opens user supplied files.
func Load(ctx context.Context, data []byte, logger observability.Logger) (*raw.Document, error) {
	p := NewDocumentParser(Config{Recovery: recovery.NewLenientStrategy(logger), Logger: logger})
	return p.ParseBytes(ctx, data)
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	return p.ParseBytes(ctx, readAll(r))
}

func (p *DocumentParser) ParseBytes(ctx context.Context, data []byte) (*raw.Document, error) {
	version, ok := detectHeaderVersion(data)
	if !ok {
		return nil, ErrNotPDF
	}

	fp := filters.NewDefaultPipeline(p.cfg.Limits)
	xcfg := p.cfg.XRef
	xcfg.Filters = fp
	table, err := xref.NewResolver(xcfg).Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}

	doc := raw.NewDocument(version)
	doc.Trailer = table.Trailer
	if _, ok := table.Trailer.KV["Encrypt"]; ok {
		if !p.cfg.AllowEncrypted {
			return nil, ErrEncrypted
		}
		doc.Encrypted = true
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithData(data).
		WithXRef(table).
		WithFilters(fp).
		WithRecovery(p.cfg.Recovery).
		WithCache(p.cfg.Cache).
		Build()
	if err != nil {
		return nil, err
	}

	for _, objNum := range table.Objects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if objNum == 0 {
			continue // free head entry
		}
		entry, _ := table.Lookup(objNum)
		ref := raw.ObjectRef{Num: objNum, Gen: entry.Gen}
		if entry.Kind == xref.EntryCompressed {
			ref.Gen = 0
		}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("load object %d: %w", objNum, err)
		}
		if _, isNull := obj.(raw.NullObj); isNull {
			continue
		}
		doc.Objects[ref] = obj
	}

	if table.Repaired {
		p.expandObjectStreams(ctx, fp, doc)
		p.ensureRoot(doc)
	}
	if _, err := doc.Root(); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	p.cfg.Logger.Debug("parsed document",
		observability.String("version", doc.Version),
		observability.Int("objects", len(doc.Objects)),
		observability.Bool("repaired", table.Repaired))
	return doc, nil
}

// expandObjectStreams adds objects that only live inside object streams.
// A repaired table only knows about top-level "n g obj" headers.
func (p *DocumentParser) expandObjectStreams(ctx context.Context, fp *filters.Pipeline, doc *raw.Document) {
	refs := make([]raw.ObjectRef, 0, len(doc.Objects))
	for ref := range doc.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })
	for _, ref := range refs {
		st, ok := doc.Objects[ref].(*raw.StreamObj)
		if !ok {
			continue
		}
		if typ, _ := st.Dict.NameValue("Type"); typ != "ObjStm" {
			continue
		}
		stm, err := decodeObjectStream(ctx, fp, st)
		if err != nil {
			p.cfg.Logger.Warn("skipping unreadable object stream", observability.Int("object", ref.Num), observability.Error("error", err))
			continue
		}
		for i, num := range stm.nums {
			key := raw.ObjectRef{Num: num}
			if _, exists := doc.Objects[key]; exists {
				continue
			}
			obj, err := stm.object(i)
			if err != nil {
				continue
			}
			doc.Objects[key] = obj
		}
	}
}

// ensureRoot points the trailer at a catalog when the recovered trailer has none.
func (p *DocumentParser) ensureRoot(doc *raw.Document) {
	if _, err := doc.Root(); err == nil {
		return
	}
	refs := make([]raw.ObjectRef, 0, len(doc.Objects))
	for ref := range doc.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num > refs[j].Num })
	for _, ref := range refs {
		d, ok := doc.Objects[ref].(*raw.DictObj)
		if !ok {
			continue
		}
		if typ, _ := d.NameValue("Type"); typ == "Catalog" {
			doc.Trailer.Set(raw.NameLiteral("Root"), raw.RefObj{R: ref})
			p.cfg.Logger.Warn("recovered document catalog", observability.Int("object", ref.Num))
			return
		}
	}
}

func detectHeaderVersion(data []byte) (string, bool) {
	window := data
	if len(window) > headerWindow {
		window = window[:headerWindow]
	}
	idx := bytes.Index(window, []byte("%PDF-"))
	if idx < 0 {
		return "", false
	}
	rest := data[idx+5:]
	end := 0
	for end < len(rest) && end < 8 && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return "", true
	}
	return string(rest[:end]), true
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
