package raw

import "testing"

func TestDocument_ResolveFollowsChains(t *testing.T) {
	doc := NewDocument("")
	doc.Objects[ObjectRef{Num: 1}] = Ref(2, 0)
	doc.Objects[ObjectRef{Num: 2}] = NumberInt(42)

	n, ok := doc.ResolveNumber(Ref(1, 0))
	if !ok || n != 42 {
		t.Fatalf("resolve chain = %v %v, want 42", n, ok)
	}
	if _, ok := doc.Resolve(Ref(9, 0)).(NullObj); !ok {
		t.Fatalf("dangling ref should resolve to null")
	}
}

func TestDocument_ResolveCycleTerminates(t *testing.T) {
	doc := NewDocument("")
	doc.Objects[ObjectRef{Num: 1}] = Ref(2, 0)
	doc.Objects[ObjectRef{Num: 2}] = Ref(1, 0)
	if _, ok := doc.Resolve(Ref(1, 0)).(NullObj); !ok {
		t.Fatalf("cyclic refs should resolve to null")
	}
}

func TestDocument_AddUsesNextNumber(t *testing.T) {
	doc := NewDocument("1.4")
	doc.Objects[ObjectRef{Num: 7}] = NullObj{}
	ref := doc.Add(Dict())
	if ref.Num != 8 || ref.Gen != 0 {
		t.Fatalf("Add returned %v, want 8 0 R", ref)
	}
	if doc.Version != "1.4" {
		t.Fatalf("version = %q", doc.Version)
	}
}

func TestDocument_Root(t *testing.T) {
	doc := NewDocument("")
	if _, err := doc.Root(); err != ErrNoRoot {
		t.Fatalf("expected ErrNoRoot, got %v", err)
	}
	cat := Dict()
	cat.Set(NameLiteral("Type"), NameLiteral("Catalog"))
	ref := doc.Add(cat)
	doc.Trailer.Set(NameLiteral("Root"), Ref(ref.Num, ref.Gen))
	root, err := doc.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if typ, _ := root.NameValue("Type"); typ != "Catalog" {
		t.Fatalf("root type = %q", typ)
	}
}

func TestClone_IsDeep(t *testing.T) {
	inner := NewArray(NumberInt(1))
	d := Dict()
	d.Set(NameLiteral("A"), inner)
	d.Set(NameLiteral("S"), Str([]byte("x")))

	c := Clone(d).(*DictObj)
	c.KV["A"].(*ArrayObj).Append(NumberInt(2))
	c.KV["S"].(StringObj).Bytes[0] = 'y'

	if inner.Len() != 1 {
		t.Fatalf("clone shared array storage")
	}
	if string(d.KV["S"].(StringObj).Bytes) != "x" {
		t.Fatalf("clone shared string storage")
	}
}

func TestNumberObj_IntFromFloat(t *testing.T) {
	if got := NumberFloat(3.9).Int(); got != 3 {
		t.Fatalf("Int() = %d, want 3", got)
	}
	if got := NumberInt(5).Float(); got != 5 {
		t.Fatalf("Float() = %v, want 5", got)
	}
}

func TestNewStream_SetsLength(t *testing.T) {
	s := NewStream(nil, []byte("abcd"))
	n, ok := s.Dict.KV["Length"].(NumberObj)
	if !ok || n.Int() != 4 {
		t.Fatalf("Length = %+v", s.Dict.KV["Length"])
	}
}
