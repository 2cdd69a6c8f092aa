package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/idmcalculus/kytepdf/ir/semantic"
	"github.com/idmcalculus/kytepdf/scanner"
)

// maxOperandDepth bounds nested arrays and dictionaries in operands.
const maxOperandDepth = 32

var errUnbalanced = errors.New("unbalanced array or dictionary")

// Parse splits decoded content into operations. On a syntax error the
// operations read so far are returned together with the error.
func Parse(data []byte) ([]semantic.Operation, error) {
	s := scanner.New(data, scanner.Config{ContentStream: true, MaxArrayDepth: maxOperandDepth})
	var ops []semantic.Operation
	var operands []semantic.Operand
	for {
		tok, err := s.Next()
		if err == io.EOF {
			return ops, nil
		}
		if err != nil {
			return ops, fmt.Errorf("content offset %d: %w", s.Position(), err)
		}
		if tok.Type == scanner.TokenKeyword {
			switch tok.Str {
			case "BI":
				op, err := readInlineImage(s)
				if err != nil {
					return ops, err
				}
				ops = append(ops, op)
				operands = nil
			case "]", ">>", ">", ")", "{", "}":
				// stray delimiter
			default:
				ops = append(ops, semantic.Operation{Operator: tok.Str, Operands: operands})
				operands = nil
			}
			continue
		}
		v, err := readOperand(s, tok, 0)
		if err != nil {
			return ops, err
		}
		if v != nil {
			operands = append(operands, v)
		}
	}
}

func readOperand(s scanner.Scanner, tok scanner.Token, depth int) (semantic.Operand, error) {
	if depth > maxOperandDepth {
		return nil, errUnbalanced
	}
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt {
			return semantic.NumberOperand{Value: float64(tok.Int)}, nil
		}
		return semantic.NumberOperand{Value: tok.Float}, nil
	case scanner.TokenName:
		return semantic.NameOperand{Value: tok.Str}, nil
	case scanner.TokenString:
		return semantic.StringOperand{Value: tok.Bytes}, nil
	case scanner.TokenBoolean:
		return semantic.BoolOperand{Value: tok.Bool}, nil
	case scanner.TokenNull:
		return nil, nil
	case scanner.TokenArray:
		arr := semantic.ArrayOperand{}
		for {
			next, err := s.Next()
			if err != nil {
				return nil, errUnbalanced
			}
			if next.Type == scanner.TokenKeyword && next.Str == "]" {
				return arr, nil
			}
			if next.Type == scanner.TokenKeyword {
				return nil, errUnbalanced
			}
			v, err := readOperand(s, next, depth+1)
			if err != nil {
				return nil, err
			}
			if v != nil {
				arr.Values = append(arr.Values, v)
			}
		}
	case scanner.TokenDict:
		return readDict(s, ">>", depth)
	}
	return nil, fmt.Errorf("unexpected token at %d", tok.Pos)
}

func readDict(s scanner.Scanner, end string, depth int) (semantic.DictOperand, error) {
	d := semantic.DictOperand{Values: make(map[string]semantic.Operand)}
	for {
		keyTok, err := s.Next()
		if err != nil {
			return d, errUnbalanced
		}
		if keyTok.Type == scanner.TokenKeyword && keyTok.Str == end {
			return d, nil
		}
		if keyTok.Type != scanner.TokenName {
			return d, fmt.Errorf("dictionary key at %d is not a name", keyTok.Pos)
		}
		valTok, err := s.Next()
		if err != nil {
			return d, errUnbalanced
		}
		v, err := readOperand(s, valTok, depth+1)
		if err != nil {
			return d, err
		}
		if v != nil {
			d.Values[keyTok.Str] = v
		}
	}
}

// readInlineImage reads the key/value pairs after BI up to the image data.
func readInlineImage(s scanner.Scanner) (semantic.Operation, error) {
	img := semantic.InlineImageOperand{Image: semantic.DictOperand{Values: make(map[string]semantic.Operand)}}
	for {
		tok, err := s.Next()
		if err != nil {
			return semantic.Operation{}, fmt.Errorf("inline image: %w", err)
		}
		if tok.Type == scanner.TokenInlineImage {
			img.Data = tok.Bytes
			return semantic.Operation{Operator: "BI", Operands: []semantic.Operand{img}}, nil
		}
		if tok.Type != scanner.TokenName {
			return semantic.Operation{}, fmt.Errorf("inline image key at %d is not a name", tok.Pos)
		}
		valTok, err := s.Next()
		if err != nil {
			return semantic.Operation{}, fmt.Errorf("inline image: %w", err)
		}
		v, err := readOperand(s, valTok, 1)
		if err != nil {
			return semantic.Operation{}, err
		}
		if v != nil {
			img.Image.Values[tok.Str] = v
		}
	}
}

// Serialize writes operations back to content stream syntax, one
// operation per line.
func Serialize(ops []semantic.Operation) []byte {
	var buf bytes.Buffer
	for _, op := range ops {
		if op.Operator == "BI" && len(op.Operands) == 1 {
			if img, ok := op.Operands[0].(semantic.InlineImageOperand); ok {
				buf.WriteString("BI")
				for _, k := range sortedKeys(img.Image.Values) {
					buf.WriteByte(' ')
					writeName(&buf, k)
					buf.WriteByte(' ')
					writeOperand(&buf, img.Image.Values[k])
				}
				buf.WriteString(" ID ")
				buf.Write(img.Data)
				buf.WriteString("\nEI\n")
				continue
			}
		}
		for _, o := range op.Operands {
			writeOperand(&buf, o)
			buf.WriteByte(' ')
		}
		buf.WriteString(op.Operator)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func writeOperand(buf *bytes.Buffer, o semantic.Operand) {
	switch v := o.(type) {
	case semantic.NumberOperand:
		buf.WriteString(FormatNumber(v.Value))
	case semantic.NameOperand:
		writeName(buf, v.Value)
	case semantic.StringOperand:
		writeString(buf, v.Value)
	case semantic.BoolOperand:
		buf.WriteString(strconv.FormatBool(v.Value))
	case semantic.ArrayOperand:
		buf.WriteByte('[')
		for i, it := range v.Values {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeOperand(buf, it)
		}
		buf.WriteByte(']')
	case semantic.DictOperand:
		buf.WriteString("<<")
		for _, k := range sortedKeys(v.Values) {
			buf.WriteByte(' ')
			writeName(buf, k)
			buf.WriteByte(' ')
			writeOperand(buf, v.Values[k])
		}
		buf.WriteString(" >>")
	}
}

// FormatNumber prints f with at most five decimals and no trailing zeros.
func FormatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', 5, 64)
	s = trimZeros(s)
	if s == "-0" {
		return "0"
	}
	return s
}

func trimZeros(s string) string {
	if !bytes.ContainsRune([]byte(s), '.') {
		return s
	}
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < '!' || c > '~' || c == '#' || bytes.IndexByte([]byte("()<>[]{}/%"), c) >= 0 {
			fmt.Fprintf(buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
}

func writeString(buf *bytes.Buffer, b []byte) {
	buf.WriteByte('(')
	for _, c := range b {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}

func sortedKeys(m map[string]semantic.Operand) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
