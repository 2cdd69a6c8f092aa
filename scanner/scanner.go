package scanner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/idmcalculus/kytepdf/recovery"
)

type TokenType int

const (
	TokenDict        TokenType = iota // '<<'
	TokenArray                        // '['
	TokenName                         // '/Name'
	TokenString                       // literal or hex string
	TokenNumber                       // numeric value
	TokenBoolean                      // true/false
	TokenNull                         // null
	TokenRef                          // indirect ref '5 0 R'
	TokenStream                       // 'stream' ... 'endstream' payload
	TokenInlineImage                  // inline image data following ID ... EI (content stream only)
	TokenKeyword                      // other keywords (obj, endobj, >>, ], operators)
)

// Token is a lexical unit. Which value fields are meaningful depends on Type:
// Str for names and keywords, Bytes for strings, streams and inline images,
// Int/Float/IsInt for numbers, Int/Gen for references, Bool for booleans.
type Token struct {
	Type  TokenType
	Str   string
	Bytes []byte
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Gen   int
	Hex   bool
	Pos   int64
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	Seek(offset int64) error
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxStreamLength int64
	// ContentStream disables reference detection ("0 0 R" never occurs in
	// page content) and enables inline image scanning.
	ContentStream bool
	Recovery      recovery.Strategy
}

// pdfScanner lexes an in-memory PDF buffer.
type pdfScanner struct {
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	arrayDepth    int
}

// New returns a scanner over data. data is not copied.
func New(data []byte, cfg Config) Scanner {
	return &pdfScanner{data: data, cfg: cfg, nextStreamLen: -1}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *pdfScanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, s.recover(errors.New("array depth exceeded"), "array")
		}
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']':
		s.pos++
		if s.arrayDepth > 0 {
			s.arrayDepth--
		}
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case ')':
		// stray close paren; skip it rather than looping
		s.pos++
		return Token{Type: TokenKeyword, Str: ")", Pos: start}, nil
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	return s.scanKeyword()
}

func (s *pdfScanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *pdfScanner) peek(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for s.pos < int64(len(s.data)) && depth > 0 {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= int64(len(s.data)) {
				break
			}
			esc := s.data[s.pos]
			s.pos++
			switch {
			case esc == '\r':
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2 && s.pos < int64(len(s.data)); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(c)
			}
		default:
			buf.WriteByte(c)
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.recover(errors.New("literal string too long"), "literal")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
			return Token{}, err
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var nibbles []byte
	closed := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if isHex(c) {
			nibbles = append(nibbles, c)
		}
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = fromHex(nibbles[2*i])<<4 | fromHex(nibbles[2*i+1])
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		// lone delimiter we do not otherwise handle
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		if !s.cfg.ContentStream {
			return s.scanStream(start)
		}
	case "ID":
		if s.cfg.ContentStream {
			return s.scanInlineImage(start)
		}
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
}

var endstream = []byte("endstream")

// scanStream returns the payload between the stream keyword and endstream.
// A declared length is trusted only when endstream actually follows it.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos
	declared := s.nextStreamLen
	s.nextStreamLen = -1

	if declared >= 0 && dataStart+declared <= int64(len(s.data)) {
		end := dataStart + declared
		p := end
		for p < int64(len(s.data)) && isWhitespace(s.data[p]) {
			p++
		}
		if bytes.HasPrefix(s.data[p:], endstream) {
			if s.cfg.MaxStreamLength > 0 && declared > s.cfg.MaxStreamLength {
				return Token{}, errors.New("stream too long")
			}
			s.pos = p + int64(len(endstream))
			return Token{Type: TokenStream, Bytes: s.data[dataStart:end], Pos: start}, nil
		}
		// wrong /Length: fall through to searching for endstream
	}

	idx := bytes.Index(s.data[dataStart:], endstream)
	if idx < 0 {
		if err := s.recover(errors.New("endstream not found"), "stream"); err != nil {
			return Token{}, err
		}
		s.pos = int64(len(s.data))
		return Token{Type: TokenStream, Bytes: s.data[dataStart:], Pos: start}, nil
	}
	end := dataStart + int64(idx)
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
		return Token{}, errors.New("stream too long")
	}
	s.pos = dataStart + int64(idx) + int64(len(endstream))
	return Token{Type: TokenStream, Bytes: s.data[dataStart:end], Pos: start}, nil
}

// scanInlineImage consumes the bytes after ID up to a whitespace delimited EI.
func (s *pdfScanner) scanInlineImage(start int64) (Token, error) {
	if s.pos < int64(len(s.data)) && isWhitespace(s.data[s.pos]) {
		s.pos++
	}
	dataStart := s.pos
	for i := dataStart; i+1 < int64(len(s.data)); i++ {
		if s.data[i] != 'E' || s.data[i+1] != 'I' {
			continue
		}
		if i > dataStart && !isWhitespace(s.data[i-1]) {
			continue
		}
		if i+2 < int64(len(s.data)) && !isDelimiter(s.data[i+2]) {
			continue
		}
		end := i
		if end > dataStart && isWhitespace(s.data[end-1]) {
			end--
		}
		s.pos = i + 2
		return Token{Type: TokenInlineImage, Bytes: s.data[dataStart:end], Pos: start}, nil
	}
	return Token{}, s.recover(errors.New("unterminated inline image"), "inline_image")
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first := s.scanNumberString()
	if first == "" {
		// sign or dot without digits: treat as a keyword so parsing can continue
		return s.scanKeyword()
	}
	tok := numberToken(first, start)
	if s.cfg.ContentStream || !tok.IsInt || tok.Int < 0 {
		return tok, nil
	}

	save := s.pos
	s.skipWSAndComments()
	second := s.scanNumberString()
	if second != "" {
		gen, err := strconv.Atoi(second)
		s.skipWSAndComments()
		if err == nil && gen >= 0 && s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' &&
			(s.pos+1 >= int64(len(s.data)) || isDelimiter(s.data[s.pos+1])) {
			s.pos++
			return Token{Type: TokenRef, Int: tok.Int, Gen: gen, IsInt: true, Pos: start}, nil
		}
	}
	s.pos = save
	return tok, nil
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '+' || c == '-' {
			if s.pos != start {
				break
			}
		} else if c >= '0' && c <= '9' {
			seenDigit = true
		} else if c != '.' {
			break
		}
		s.pos++
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

func numberToken(text string, pos int64) Token {
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, Float: float64(i), IsInt: true, Str: text, Pos: pos}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		// malformed numbers such as "1.2.3" read as zero, matching common readers
		f = 0
	}
	return Token{Type: TokenNumber, Float: f, Str: text, Pos: pos}
}

func (s *pdfScanner) recover(err error, loc string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	action := s.cfg.Recovery.OnError(context.Background(), err, recovery.Location{
		ByteOffset: s.pos,
		Component:  "scanner:" + loc,
	})
	switch action {
	case recovery.ActionSkip, recovery.ActionFix:
		return nil
	default:
		return err
	}
}

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
