package pgtype

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrMalformedArray is returned for any violation of the array text
// grammar: an unopened/unclosed brace, a missing comma between elements,
// or trailing garbage after the outermost close.
var ErrMalformedArray = errors.New("pgtype: malformed array literal")

// arrayConverter parses and renders the recursive Postgres array text
// grammar. Nesting depth is not fixed at construction time: the same
// converter decodes {1,2,3} and {{1,2},{3,4}} alike, since every leaf uses
// the same element converter regardless of depth (Postgres multidimensional
// arrays are homogeneously typed).
type arrayConverter struct {
	elem Converter
}

func newArrayConverter(elem Converter) Converter {
	return arrayConverter{elem: elem}
}

func (c arrayConverter) FromBytes(raw []byte, format Format) (any, error) {
	p := &arrayParser{b: raw, elem: c.elem, format: format}
	v, err := p.parseArray()
	if err != nil {
		return nil, err
	}
	p.skipWhitespace()
	if p.pos != len(p.b) {
		return nil, errors.Wrapf(ErrMalformedArray, "trailing content after array: %q", p.b[p.pos:])
	}
	return v, nil
}

func (c arrayConverter) ToBytes(v any) (Format, []byte, error) {
	elems, ok := v.([]any)
	if !ok {
		return FormatText, nil, errors.Newf("pgtype: %T is not []any", v)
	}
	var b strings.Builder
	if err := c.encode(&b, elems); err != nil {
		return FormatText, nil, err
	}
	return FormatText, []byte(b.String()), nil
}

func (c arrayConverter) encode(b *strings.Builder, elems []any) error {
	b.WriteByte('{')
	for i, e := range elems {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := c.encodeElement(b, e); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func (c arrayConverter) encodeElement(b *strings.Builder, e any) error {
	if e == nil {
		b.WriteString("NULL")
		return nil
	}
	if nested, ok := e.([]any); ok {
		return c.encode(b, nested)
	}
	_, raw, err := c.elem.ToBytes(e)
	if err != nil {
		return err
	}
	writeArrayLiteral(b, raw)
	return nil
}

// writeArrayLiteral quotes an element's text form when it would otherwise
// be ambiguous: empty, case-insensitively "NULL", or containing a comma,
// brace, quote, backslash, or whitespace.
func writeArrayLiteral(b *strings.Builder, raw []byte) {
	if !needsQuoting(raw) {
		b.Write(raw)
		return
	}
	b.WriteByte('"')
	for _, ch := range raw {
		if ch == '"' || ch == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	b.WriteByte('"')
}

func needsQuoting(raw []byte) bool {
	if len(raw) == 0 {
		return true
	}
	if strings.EqualFold(string(raw), "null") {
		return true
	}
	for _, ch := range raw {
		switch ch {
		case ',', '{', '}', '"', '\\', ' ', '\t', '\n', '\r':
			return true
		}
	}
	return false
}

type arrayParser struct {
	b      []byte
	pos    int
	elem   Converter
	format Format
}

func (p *arrayParser) peek() (byte, bool) {
	if p.pos >= len(p.b) {
		return 0, false
	}
	return p.b[p.pos], true
}

func (p *arrayParser) skipWhitespace() {
	for {
		ch, ok := p.peek()
		if !ok || !isSpace(ch) {
			return
		}
		p.pos++
	}
}

func isSpace(ch byte) bool {
	switch ch {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

// parseArray consumes a brace-delimited, comma-separated element list,
// recursing into nested arrays and delegating leaf text to elem.
func (p *arrayParser) parseArray() ([]any, error) {
	ch, ok := p.peek()
	if !ok || ch != '{' {
		return nil, errors.Wrap(ErrMalformedArray, "expected '{'")
	}
	p.pos++
	p.skipWhitespace()

	var out []any
	first := true
	for {
		ch, ok := p.peek()
		if !ok {
			return nil, errors.Wrap(ErrMalformedArray, "unterminated array, expected '}'")
		}
		if ch == '}' {
			break
		}
		if !first {
			if ch != ',' {
				return nil, errors.Wrapf(ErrMalformedArray, "expected ',' before element, got %q", ch)
			}
			p.pos++
			p.skipWhitespace()
		}
		first = false

		elem, err := p.parseElement()
		if err != nil {
			return nil, err
		}
		out = append(out, elem)
		p.skipWhitespace()
	}
	p.pos++ // consume '}'
	return out, nil
}

func (p *arrayParser) parseElement() (any, error) {
	ch, ok := p.peek()
	if !ok {
		return nil, errors.Wrap(ErrMalformedArray, "unexpected end of array")
	}
	switch {
	case ch == '{':
		return p.parseArray()
	case ch == '"':
		return p.parseQuoted()
	case p.matchesNull():
		p.pos += len("NULL")
		return nil, nil
	default:
		return p.parseUnquoted()
	}
}

func (p *arrayParser) matchesNull() bool {
	const lit = "NULL"
	if p.pos+len(lit) > len(p.b) {
		return false
	}
	if string(p.b[p.pos:p.pos+len(lit)]) != lit {
		return false
	}
	if p.pos+len(lit) == len(p.b) {
		return true
	}
	next := p.b[p.pos+len(lit)]
	return next == ',' || next == '}' || isSpace(next)
}

func (p *arrayParser) parseQuoted() (any, error) {
	p.pos++ // consume opening quote
	var buf []byte
	for {
		ch, ok := p.peek()
		if !ok {
			return nil, errors.Wrap(ErrMalformedArray, "unterminated quoted array element")
		}
		if ch == '"' {
			p.pos++
			return p.decodeLeaf(buf)
		}
		if ch == '\\' {
			p.pos++
			esc, ok := p.peek()
			if !ok {
				return nil, errors.Wrap(ErrMalformedArray, "unterminated escape in quoted array element")
			}
			buf = append(buf, esc)
			p.pos++
			continue
		}
		buf = append(buf, ch)
		p.pos++
	}
}

func (p *arrayParser) parseUnquoted() (any, error) {
	start := p.pos
	for {
		ch, ok := p.peek()
		if !ok || ch == ',' || ch == '}' {
			break
		}
		p.pos++
	}
	token := p.b[start:p.pos]
	// Trailing whitespace before the delimiter is not part of the token
	// (leading whitespace was already consumed by the caller).
	for len(token) > 0 && isSpace(token[len(token)-1]) {
		token = token[:len(token)-1]
	}
	if len(token) == 0 {
		return nil, errors.Wrap(ErrMalformedArray, "empty unquoted array element")
	}
	return p.decodeLeaf(token)
}

func (p *arrayParser) decodeLeaf(raw []byte) (any, error) {
	return p.elem.FromBytes(raw, p.format)
}
