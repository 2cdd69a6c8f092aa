package raw

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Dictionary represents a PDF dictionary object.
type Dictionary interface {
	Object
	Get(key Name) (Object, bool)
	Set(key Name, value Object)
	Keys() []Name
	Len() int
}

// Array represents a PDF array object.
type Array interface {
	Object
	Get(index int) (Object, bool)
	Len() int
	Append(obj Object)
}

// Stream represents a raw (undecoded) PDF stream.
type Stream interface {
	Object
	Dictionary() Dictionary
	RawData() []byte
	Length() int64
}

// Name represents a PDF name object.
type Name interface {
	Object
	Value() string
}

// String represents a PDF string (literal or hex).
type String interface {
	Object
	Value() []byte
	IsHex() bool
}

// Number represents a PDF numeric value.
type Number interface {
	Object
	Int() int64
	Float() float64
	IsInteger() bool
}

// Reference represents an indirect object reference.
type Reference interface {
	Object
	Ref() ObjectRef
}

// maxResolveDepth bounds reference chains (1 0 R -> 2 0 R -> ...).
const maxResolveDepth = 32

var ErrNoRoot = errors.New("document catalog not found")

// Document is the root container for raw PDF objects.
type Document struct {
	Objects   map[ObjectRef]Object
	Trailer   *DictObj
	Version   string // e.g., "1.7"
	Encrypted bool
}

// NewDocument returns an empty document with an empty trailer.
func NewDocument(version string) *Document {
	if version == "" {
		version = "1.7"
	}
	return &Document{Objects: make(map[ObjectRef]Object), Trailer: Dict(), Version: version}
}

// Resolve follows indirect references until a direct object is reached.
// A dangling reference resolves to NullObj.
func (d *Document) Resolve(o Object) Object {
	for i := 0; i < maxResolveDepth; i++ {
		ref, ok := o.(RefObj)
		if !ok {
			return o
		}
		target, found := d.Objects[ref.R]
		if !found {
			return NullObj{}
		}
		o = target
	}
	return NullObj{}
}

// ResolveDict resolves o and returns it as a dictionary. Stream dictionaries count.
func (d *Document) ResolveDict(o Object) (*DictObj, bool) {
	switch v := d.Resolve(o).(type) {
	case *DictObj:
		return v, true
	case *StreamObj:
		return v.Dict, true
	}
	return nil, false
}

// ResolveArray resolves o and returns it as an array.
func (d *Document) ResolveArray(o Object) (*ArrayObj, bool) {
	a, ok := d.Resolve(o).(*ArrayObj)
	return a, ok
}

// ResolveNumber resolves o and returns its float value.
func (d *Document) ResolveNumber(o Object) (float64, bool) {
	n, ok := d.Resolve(o).(NumberObj)
	return n.Float(), ok
}

// MaxObjectNum reports the highest object number in use.
func (d *Document) MaxObjectNum() int {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	return max
}

// Add stores o under the next free object number and returns its reference.
func (d *Document) Add(o Object) ObjectRef {
	if d.Objects == nil {
		d.Objects = make(map[ObjectRef]Object)
	}
	ref := ObjectRef{Num: d.MaxObjectNum() + 1}
	d.Objects[ref] = o
	return ref
}

// Root returns the catalog dictionary named by the trailer.
func (d *Document) Root() (*DictObj, error) {
	if d.Trailer == nil {
		return nil, ErrNoRoot
	}
	root, ok := d.ResolveDict(d.Trailer.KV["Root"])
	if !ok {
		return nil, ErrNoRoot
	}
	return root, nil
}

// Parser converts bytes into a raw.Document.
type Parser interface {
	Parse(ctx context.Context, r io.ReaderAt) (*Document, error)
}
