package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/idmcalculus/kytepdf/filters"
	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/recovery"
	"github.com/idmcalculus/kytepdf/scanner"
	"github.com/idmcalculus/kytepdf/xref"
)

type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	data      []byte
	xrefTable *xref.Table
	filters   *filters.Pipeline
	cache     Cache
	recovery  recovery.Strategy
	scanCfg   scanner.Config
}

func (b *ObjectLoaderBuilder) WithXRef(table *xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}
func (b *ObjectLoaderBuilder) WithFilters(p *filters.Pipeline) *ObjectLoaderBuilder {
	b.filters = p
	return b
}
func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.data == nil || b.xrefTable == nil {
		return nil, errors.New("data and xref table required")
	}
	fp := b.filters
	if fp == nil {
		fp = filters.NewDefaultPipeline(filters.Limits{})
	}
	cfg := b.scanCfg
	cfg.Recovery = b.recovery
	return &objectLoader{
		data:      b.data,
		xrefTable: b.xrefTable,
		filters:   fp,
		cache:     b.cache,
		recovery:  b.recovery,
		scanCfg:   cfg,
		objStms:   make(map[int]*objectStream),
		loading:   make(map[raw.ObjectRef]bool),
	}, nil
}

type objectLoader struct {
	data      []byte
	xrefTable *xref.Table
	filters   *filters.Pipeline
	cache     Cache
	recovery  recovery.Strategy
	scanCfg   scanner.Config

	mu      sync.Mutex
	objStms map[int]*objectStream
	loading map[raw.ObjectRef]bool
}

// objectStream is a decoded /Type /ObjStm with its offset table.
type objectStream struct {
	data    []byte
	first   int
	nums    []int
	offsets []int
}

var errCircularLength = errors.New("circular stream length reference")

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.cache != nil {
		if obj, ok := o.cache.Get(ref); ok {
			return obj, nil
		}
	}
	obj, err := o.loadOnce(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.cache != nil {
		o.cache.Put(ref, obj)
	}
	return obj, nil
}

func (o *objectLoader) loadOnce(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	entry, ok := o.xrefTable.Lookup(ref.Num)
	if !ok || entry.Kind == xref.EntryFree {
		return raw.NullObj{}, nil
	}
	if entry.Kind == xref.EntryCompressed {
		return o.loadFromObjectStream(ctx, ref, entry.Stream, entry.Index)
	}

	o.mu.Lock()
	if o.loading[ref] {
		o.mu.Unlock()
		return nil, errCircularLength
	}
	o.loading[ref] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.loading, ref)
		o.mu.Unlock()
	}()

	got, obj, err := xref.ReadIndirect(o.data, entry.Offset, o.scanCfg, func(lv raw.Object) (int64, bool) {
		return o.resolveLength(ctx, lv)
	})
	if err == nil && got.Num != ref.Num {
		err = fmt.Errorf("xref points object %d at object %d", ref.Num, got.Num)
	}
	if err != nil {
		if o.recovery == nil {
			return nil, err
		}
		action := o.recovery.OnError(ctx, err, recovery.Location{ByteOffset: entry.Offset, ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "loader"})
		if action == recovery.ActionFail {
			return nil, err
		}
		return raw.NullObj{}, nil
	}
	return obj, nil
}

func (o *objectLoader) resolveLength(ctx context.Context, lv raw.Object) (int64, bool) {
	ref, ok := lv.(raw.RefObj)
	if !ok {
		return 0, false
	}
	obj, err := o.Load(ctx, ref.R)
	if err != nil {
		return 0, false
	}
	n, ok := obj.(raw.NumberObj)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, streamNum, idx int) (raw.Object, error) {
	stm, err := o.objectStream(ctx, streamNum)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
	}
	if idx < 0 || idx >= len(stm.nums) || stm.nums[idx] != ref.Num {
		// index disagrees with the xref entry; search by number
		idx = -1
		for i, n := range stm.nums {
			if n == ref.Num {
				idx = i
				break
			}
		}
		if idx < 0 {
			return raw.NullObj{}, nil
		}
	}
	return stm.object(idx)
}

func (o *objectLoader) objectStream(ctx context.Context, num int) (*objectStream, error) {
	o.mu.Lock()
	cached, ok := o.objStms[num]
	o.mu.Unlock()
	if ok {
		return cached, nil
	}
	obj, err := o.Load(ctx, raw.ObjectRef{Num: num})
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("not a stream")
	}
	stm, err := decodeObjectStream(ctx, o.filters, st)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.objStms[num] = stm
	o.mu.Unlock()
	return stm, nil
}

func decodeObjectStream(ctx context.Context, fp *filters.Pipeline, st *raw.StreamObj) (*objectStream, error) {
	names, params := filters.ExtractFilters(st.Dict)
	data, err := fp.Decode(ctx, st.Data, names, params)
	if err != nil {
		return nil, err
	}
	n := int(intFromDict(st.Dict, "N"))
	first := int(intFromDict(st.Dict, "First"))
	if first < 0 || first > len(data) {
		return nil, errors.New("object stream First exceeds length")
	}
	s := scanner.New(data[:first], scanner.Config{ContentStream: true})
	stm := &objectStream{data: data, first: first}
	for i := 0; i < n; i++ {
		numTok, err1 := s.Next()
		offTok, err2 := s.Next()
		if err1 != nil || err2 != nil {
			break
		}
		stm.nums = append(stm.nums, int(numTok.Int))
		stm.offsets = append(stm.offsets, int(offTok.Int))
	}
	return stm, nil
}

func (stm *objectStream) object(idx int) (raw.Object, error) {
	start := stm.first + stm.offsets[idx]
	if start > len(stm.data) {
		return nil, errors.New("object offset beyond stream data")
	}
	s := scanner.New(stm.data, scanner.Config{})
	if err := s.Seek(int64(start)); err != nil {
		return nil, err
	}
	return xref.ReadObject(s)
}

func intFromDict(d *raw.DictObj, key string) int64 {
	if n, ok := d.KV[key].(raw.NumberObj); ok {
		return n.Int()
	}
	return 0
}
