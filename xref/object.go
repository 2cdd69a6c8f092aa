package xref

import (
	"errors"
	"fmt"
	"io"

	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/scanner"
)

// TokenSource is the part of a scanner the object reader needs.
type TokenSource interface {
	Next() (scanner.Token, error)
}

var errUnexpectedClose = errors.New("unexpected closing delimiter")

// maxNesting bounds array/dictionary recursion.
const maxNesting = 256

// ReadObject reads one direct object from ts.
func ReadObject(ts TokenSource) (raw.Object, error) {
	tok, err := ts.Next()
	if err != nil {
		return nil, err
	}
	return readValue(ts, tok, 0)
}

func readValue(ts TokenSource, tok scanner.Token, depth int) (raw.Object, error) {
	if depth > maxNesting {
		return nil, errors.New("object nesting too deep")
	}
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case scanner.TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	case scanner.TokenName:
		return raw.NameLiteral(tok.Str), nil
	case scanner.TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenArray:
		arr := raw.NewArray()
		for {
			next, err := ts.Next()
			if err != nil {
				return nil, fmt.Errorf("unterminated array: %w", err)
			}
			if next.Type == scanner.TokenKeyword && next.Str == "]" {
				return arr, nil
			}
			item, err := readValue(ts, next, depth+1)
			if err != nil {
				return nil, err
			}
			arr.Append(item)
		}
	case scanner.TokenDict:
		d := raw.Dict()
		for {
			key, err := ts.Next()
			if err != nil {
				return nil, fmt.Errorf("unterminated dictionary: %w", err)
			}
			if key.Type == scanner.TokenKeyword && key.Str == ">>" {
				return d, nil
			}
			if key.Type != scanner.TokenName {
				return nil, fmt.Errorf("dictionary key must be a name, got %q at %d", key.Str, key.Pos)
			}
			vt, err := ts.Next()
			if err != nil {
				return nil, fmt.Errorf("unterminated dictionary: %w", err)
			}
			if vt.Type == scanner.TokenKeyword && vt.Str == ">>" {
				// key without value; treat as null and stop
				return d, nil
			}
			val, err := readValue(ts, vt, depth+1)
			if err != nil {
				return nil, err
			}
			if _, isNull := val.(raw.NullObj); !isNull {
				d.Set(raw.NameLiteral(key.Str), val)
			}
		}
	case scanner.TokenKeyword:
		switch tok.Str {
		case "]", ">>":
			return nil, fmt.Errorf("%w %q at %d", errUnexpectedClose, tok.Str, tok.Pos)
		}
		return nil, fmt.Errorf("unexpected keyword %q at %d", tok.Str, tok.Pos)
	}
	return nil, fmt.Errorf("unexpected token at %d", tok.Pos)
}

// LengthFunc resolves a stream /Length value that may be an indirect reference.
type LengthFunc func(raw.Object) (int64, bool)

// ReadIndirect parses "num gen obj ... endobj" at offset. Streams are
// returned with their encoded payload.
func ReadIndirect(data []byte, offset int64, cfg scanner.Config, length LengthFunc) (raw.ObjectRef, raw.Object, error) {
	s := scanner.New(data, cfg)
	if err := s.Seek(offset); err != nil {
		return raw.ObjectRef{}, nil, err
	}
	head, err := s.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	gen, err := s.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	kw, err := s.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if head.Type != scanner.TokenNumber || gen.Type != scanner.TokenNumber || kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return raw.ObjectRef{}, nil, fmt.Errorf("no object header at offset %d", offset)
	}
	ref := raw.ObjectRef{Num: int(head.Int), Gen: int(gen.Int)}

	obj, err := ReadObject(s)
	if err != nil {
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return ref, obj, nil
	}
	if lv, ok := dict.KV["Length"]; ok {
		if n, ok := lv.(raw.NumberObj); ok {
			s.SetNextStreamLength(n.Int())
		} else if length != nil {
			if n, ok := length(lv); ok {
				s.SetNextStreamLength(n)
			}
		}
	}
	next, err := s.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ref, dict, nil
		}
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	if next.Type != scanner.TokenStream {
		return ref, dict, nil
	}
	st := &raw.StreamObj{Dict: dict, Data: next.Bytes}
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(next.Bytes))))
	return ref, st, nil
}
