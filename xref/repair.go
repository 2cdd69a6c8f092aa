package xref

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/scanner"
)

var objHeader = regexp.MustCompile(`(\d+)[ \t\r\n\f\x00]+(\d+)[ \t\r\n\f\x00]+obj\b`)

// ErrRepairFailed reports that no object definitions were found.
var ErrRepairFailed = errors.New("repair failed: no objects found")

// Repair scans the entire file to reconstruct the xref table from
// "<num> <gen> obj" headers. Later definitions win, matching incremental
// updates. The last readable trailer dictionary is kept; when there is
// none, the trailer of the last cross-reference stream is used instead.
func Repair(ctx context.Context, data []byte) (*Table, error) {
	table := newTable()
	table.Repaired = true
	for _, m := range objHeader.FindAllSubmatchIndex(data, -1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := m[0]
		if start > 0 && !isSpace(data[start-1]) && !isDelim(data[start-1]) {
			continue
		}
		num, err1 := strconv.Atoi(string(data[m[2]:m[3]]))
		gen, err2 := strconv.Atoi(string(data[m[4]:m[5]]))
		if err1 != nil || err2 != nil {
			continue
		}
		table.entries[num] = Entry{Kind: EntryInUse, Offset: int64(start), Gen: gen}
	}
	if len(table.entries) == 0 {
		return nil, ErrRepairFailed
	}

	table.Trailer = lastTrailer(data)
	if table.Trailer == nil {
		table.Trailer = lastXRefStreamDict(data, table)
	}
	if table.Trailer == nil {
		table.Trailer = raw.Dict()
	}
	table.Trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(maxKey(table.entries)+1)))
	table.Trailer.Delete("Prev")
	table.Trailer.Delete("XRefStm")
	return table, nil
}

func lastTrailer(data []byte) *raw.DictObj {
	for end := len(data); end > 0; {
		idx := bytes.LastIndex(data[:end], []byte("trailer"))
		if idx < 0 {
			return nil
		}
		s := scanner.New(data, scanner.Config{})
		if err := s.Seek(int64(idx + len("trailer"))); err == nil {
			if obj, err := ReadObject(s); err == nil {
				if d, ok := obj.(*raw.DictObj); ok {
					return d
				}
			}
		}
		end = idx
	}
	return nil
}

func lastXRefStreamDict(data []byte, table *Table) *raw.DictObj {
	var best *raw.DictObj
	var bestOff int64 = -1
	for _, e := range table.entries {
		if e.Offset <= bestOff {
			continue
		}
		_, obj, err := ReadIndirect(data, e.Offset, scanner.Config{}, nil)
		if err != nil {
			continue
		}
		st, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		if typ, _ := st.Dict.NameValue("Type"); typ == "XRef" {
			best, bestOff = st.Dict, e.Offset
		}
	}
	if best == nil {
		return nil
	}
	out := raw.Dict()
	for _, k := range []string{"Root", "Info", "ID", "Encrypt"} {
		if v, ok := best.KV[k]; ok {
			out.KV[k] = v
		}
	}
	return out
}

func maxKey(m map[int]Entry) int {
	max := 0
	for k := range m {
		if k > max {
			max = k
		}
	}
	return max
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
