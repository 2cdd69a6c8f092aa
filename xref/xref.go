package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/idmcalculus/kytepdf/filters"
	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/recovery"
	"github.com/idmcalculus/kytepdf/scanner"
)

// EntryKind distinguishes the three cross-reference entry types.
type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	EntryCompressed
)

// Entry locates one object. InUse entries carry a byte offset; compressed
// entries name the object stream and the index inside it.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is the merged view over every xref section of a file.
type Table struct {
	entries  map[int]Entry
	Trailer  *raw.DictObj
	Repaired bool
	// Sections counts the xref sections followed through /Prev.
	Sections int
}

func newTable() *Table { return &Table{entries: make(map[int]Entry)} }

func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

// Objects lists in-use and compressed object numbers in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *Table) Len() int { return len(t.entries) }

// setIfAbsent keeps entries from newer sections; older sections are read later.
func (t *Table) setIfAbsent(num int, e Entry) {
	if _, ok := t.entries[num]; !ok {
		t.entries[num] = e
	}
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Filters      *filters.Pipeline
	Logger       observability.Logger
}

// Resolver locates and parses xref information in a PDF.
type Resolver struct {
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 64
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.NewDefaultPipeline(filters.Limits{})
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Resolver{cfg: cfg}
}

var (
	ErrNoStartXRef = errors.New("startxref not found")
	ErrBadXRef     = errors.New("malformed cross-reference section")
)

// Resolve reads the xref chain starting at startxref. When the chain is
// broken and a recovery strategy allows it, the table is rebuilt by
// scanning the whole file. Without a strategy the error is returned.
func (r *Resolver) Resolve(ctx context.Context, data []byte) (*Table, error) {
	table, err := r.resolveChain(ctx, data)
	if err == nil {
		return table, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if r.cfg.Recovery == nil {
		return nil, err
	}
	if r.cfg.Recovery.OnError(ctx, err, recovery.Location{Component: "xref"}) == recovery.ActionFail {
		return nil, err
	}
	r.cfg.Logger.Warn("xref damaged, rebuilding", observability.Error("error", err))
	return Repair(ctx, data)
}

func (r *Resolver) resolveChain(ctx context.Context, data []byte) (*Table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	table := newTable()
	seen := make(map[int64]bool)
	offset := start
	for depth := 0; offset >= 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("%w: xref chain deeper than %d", ErrBadXRef, r.cfg.MaxXRefDepth)
		}
		if seen[offset] {
			break
		}
		seen[offset] = true
		if offset >= int64(len(data)) {
			return nil, fmt.Errorf("%w: offset %d out of range", ErrBadXRef, offset)
		}
		trailer, err := r.readSection(ctx, data, offset, table)
		if err != nil {
			return nil, err
		}
		table.Sections++
		if table.Trailer == nil {
			table.Trailer = trailer
		}
		offset = -1
		if prev, ok := trailer.KV["Prev"].(raw.NumberObj); ok {
			offset = prev.Int()
		}
	}
	if table.Trailer == nil {
		return nil, fmt.Errorf("%w: no trailer", ErrBadXRef)
	}
	return table, nil
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoStartXRef
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("%w: missing startxref offset", ErrBadXRef)
	}
	off, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	return off, nil
}

// readSection reads either a classic table or an xref stream at offset.
func (r *Resolver) readSection(ctx context.Context, data []byte, offset int64, table *Table) (*raw.DictObj, error) {
	p := offset
	for p < int64(len(data)) && isSpace(data[p]) {
		p++
	}
	if bytes.HasPrefix(data[p:], []byte("xref")) {
		trailer, err := readClassic(data, p+4, table)
		if err != nil {
			return nil, err
		}
		if stm, ok := trailer.KV["XRefStm"].(raw.NumberObj); ok {
			if _, err := r.readStream(ctx, data, stm.Int(), table); err != nil {
				r.cfg.Logger.Warn("ignoring hybrid xref stream", observability.Error("error", err))
			}
		}
		return trailer, nil
	}
	return r.readStream(ctx, data, p, table)
}

func readClassic(data []byte, pos int64, table *Table) (*raw.DictObj, error) {
	s := scanner.New(data, scanner.Config{})
	if err := s.Seek(pos); err != nil {
		return nil, err
	}
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadXRef, err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := ReadObject(s)
			if err != nil {
				return nil, fmt.Errorf("%w: trailer: %v", ErrBadXRef, err)
			}
			d, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, fmt.Errorf("%w: trailer is not a dictionary", ErrBadXRef)
			}
			return d, nil
		}
		countTok, err := s.Next()
		if err != nil || tok.Type != scanner.TokenNumber || countTok.Type != scanner.TokenNumber {
			return nil, fmt.Errorf("%w: invalid subsection header at %d", ErrBadXRef, tok.Pos)
		}
		first, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err1 := s.Next()
			genTok, err2 := s.Next()
			kindTok, err3 := s.Next()
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, fmt.Errorf("%w: unexpected end of xref section", ErrBadXRef)
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kindTok.Type != scanner.TokenKeyword {
				return nil, fmt.Errorf("%w: invalid entry at %d", ErrBadXRef, offTok.Pos)
			}
			num := first + i
			switch kindTok.Str {
			case "n":
				table.setIfAbsent(num, Entry{Kind: EntryInUse, Offset: offTok.Int, Gen: int(genTok.Int)})
			case "f":
				table.setIfAbsent(num, Entry{Kind: EntryFree, Gen: int(genTok.Int)})
			default:
				return nil, fmt.Errorf("%w: entry type %q", ErrBadXRef, kindTok.Str)
			}
		}
	}
}

// readStream parses a cross-reference stream object at offset.
func (r *Resolver) readStream(ctx context.Context, data []byte, offset int64, table *Table) (*raw.DictObj, error) {
	_, obj, err := ReadIndirect(data, offset, scanner.Config{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadXRef, err)
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("%w: expected xref stream at %d", ErrBadXRef, offset)
	}
	if typ, _ := st.Dict.NameValue("Type"); typ != "XRef" {
		return nil, fmt.Errorf("%w: stream at %d is not /Type /XRef", ErrBadXRef, offset)
	}
	names, params := filters.ExtractFilters(st.Dict)
	payload, err := r.cfg.Filters.Decode(ctx, st.Data, names, params)
	if err != nil {
		return nil, fmt.Errorf("%w: decode xref stream: %v", ErrBadXRef, err)
	}
	widths, err := intArray(st.Dict.KV["W"])
	if err != nil || len(widths) != 3 {
		return nil, fmt.Errorf("%w: invalid /W", ErrBadXRef)
	}
	size := 0
	if n, ok := st.Dict.KV["Size"].(raw.NumberObj); ok {
		size = int(n.Int())
	}
	index := []int{0, size}
	if idx, err := intArray(st.Dict.KV["Index"]); err == nil && len(idx) >= 2 {
		index = idx
	}
	rowLen := widths[0] + widths[1] + widths[2]
	if rowLen == 0 {
		return nil, fmt.Errorf("%w: zero width entries", ErrBadXRef)
	}
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(payload) {
				return st.Dict, nil
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen
			kind := 1
			if widths[0] > 0 {
				kind = int(beUint(row[:widths[0]]))
			}
			f2 := beUint(row[widths[0] : widths[0]+widths[1]])
			f3 := beUint(row[widths[0]+widths[1]:])
			num := first + j
			switch kind {
			case 0:
				table.setIfAbsent(num, Entry{Kind: EntryFree, Gen: int(f3)})
			case 1:
				table.setIfAbsent(num, Entry{Kind: EntryInUse, Offset: int64(f2), Gen: int(f3)})
			case 2:
				table.setIfAbsent(num, Entry{Kind: EntryCompressed, Stream: int(f2), Index: int(f3)})
			}
		}
	}
	return st.Dict, nil
}

func intArray(o raw.Object) ([]int, error) {
	arr, ok := o.(*raw.ArrayObj)
	if !ok {
		return nil, errors.New("not an array")
	}
	out := make([]int, 0, arr.Len())
	for _, it := range arr.Items {
		n, ok := it.(raw.NumberObj)
		if !ok {
			return nil, errors.New("non-numeric array item")
		}
		out = append(out, int(n.Int()))
	}
	return out, nil
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}
