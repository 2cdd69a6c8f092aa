package writer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/idmcalculus/kytepdf/contentstream"
	"github.com/idmcalculus/kytepdf/filters"
	"github.com/idmcalculus/kytepdf/ir/raw"
	"github.com/idmcalculus/kytepdf/ir/semantic"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func pdfVersion(cfg Config, docVersion string) string {
	switch {
	case cfg.Version != "":
		return string(cfg.Version)
	case docVersion != "":
		return docVersion
	}
	return string(PDF17)
}

// fileID derives both halves of /ID from the serialized body, so equal
// input always produces byte-identical output.
func fileID(body []byte) [2][]byte {
	sum := sha256.Sum256(body)
	id := append([]byte(nil), sum[:16]...)
	return [2][]byte{id, append([]byte(nil), id...)}
}

func buildTrailer(size int, rootRef raw.ObjectRef, infoRef *raw.ObjectRef, ids [2][]byte) *raw.DictObj {
	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(size)))
	trailer.Set(raw.NameLiteral("Root"), raw.Ref(rootRef.Num, rootRef.Gen))
	if infoRef != nil {
		trailer.Set(raw.NameLiteral("Info"), raw.Ref(infoRef.Num, infoRef.Gen))
	}
	trailer.Set(raw.NameLiteral("ID"), raw.NewArray(raw.HexStr(ids[0]), raw.HexStr(ids[1])))
	return trailer
}

func rectArray(r semantic.Rectangle) *raw.ArrayObj {
	return raw.NewArray(number(r.LLX), number(r.LLY), number(r.URX), number(r.URY))
}

func number(f float64) raw.NumberObj {
	if f == float64(int64(f)) {
		return raw.NumberInt(int64(f))
	}
	return raw.NumberFloat(f)
}

// encodeStream applies the configured filter, returning the filter name to
// record in the stream dictionary ("" for none).
func encodeStream(data []byte, cfg Config) ([]byte, string, error) {
	switch cfg.ContentFilter {
	case FilterNone:
		return data, "", nil
	case FilterASCIIHex:
		dst := make([]byte, hex.EncodedLen(len(data))+1)
		hex.Encode(dst, data)
		dst[len(dst)-1] = '>'
		return dst, "ASCIIHexDecode", nil
	default:
		enc, err := filters.FlateEncode(data)
		if err != nil {
			return nil, "", fmt.Errorf("flate encode: %w", err)
		}
		return enc, "FlateDecode", nil
	}
}

// textString encodes s as PDFDocEncoding when every rune is Latin-1 and as
// UTF-16BE with a byte order mark otherwise.
func textString(s string) raw.StringObj {
	if b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s)); err == nil {
		return raw.Str(b)
	}
	b, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return raw.Str([]byte(s))
	}
	return raw.HexStr(b)
}

// renumberFunc maps an object reference to the number it is written under.
// A false result writes null in place of the reference.
type renumberFunc func(raw.ObjectRef) (raw.ObjectRef, bool)

func identityRefs(r raw.ObjectRef) (raw.ObjectRef, bool) { return r, true }

func serializePrimitive(b *bytes.Buffer, o raw.Object, renum renumberFunc) {
	switch v := o.(type) {
	case raw.NameObj:
		b.WriteByte('/')
		b.WriteString(pdfNameLiteral(v.Value()))
	case raw.NumberObj:
		if v.IsInteger() {
			b.WriteString(strconv.FormatInt(v.Int(), 10))
		} else {
			b.WriteString(contentstream.FormatNumber(v.Float()))
		}
	case raw.BoolObj:
		b.WriteString(strconv.FormatBool(v.Value()))
	case raw.NullObj:
		b.WriteString("null")
	case raw.StringObj:
		if v.IsHex() {
			b.WriteByte('<')
			b.WriteString(strings.ToUpper(hex.EncodeToString(v.Value())))
			b.WriteByte('>')
			return
		}
		b.Write(escapeLiteralString(v.Value()))
	case *raw.ArrayObj:
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			serializePrimitive(b, it, renum)
		}
		b.WriteByte(']')
	case *raw.DictObj:
		serializeDict(b, v, renum, -1)
	case *raw.StreamObj:
		serializeDict(b, v.Dict, renum, len(v.Data))
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
	case raw.RefObj:
		ref, ok := renum(v.Ref())
		if !ok {
			b.WriteString("null")
			return
		}
		fmt.Fprintf(b, "%d %d R", ref.Num, ref.Gen)
	default:
		b.WriteString("null")
	}
}

// serializeDict writes keys in sorted order. A non-negative length
// replaces whatever /Length the dictionary carries.
func serializeDict(b *bytes.Buffer, d *raw.DictObj, renum renumberFunc, length int) {
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		if length >= 0 && k == "Length" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("<<")
	for _, k := range keys {
		b.WriteByte('/')
		b.WriteString(pdfNameLiteral(k))
		b.WriteByte(' ')
		serializePrimitive(b, d.KV[k], renum)
	}
	if length >= 0 {
		fmt.Fprintf(b, "/Length %d", length)
	}
	b.WriteString(">>")
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

func pdfNameLiteral(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_' || ch == '.' || ch == '+' || ch == '*' {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}
