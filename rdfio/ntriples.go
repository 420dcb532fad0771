package rdfio

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

type ntDecoder struct {
	reader *bufio.Reader
	format Format
	base   string
	line   int
	offset int
}

func newNTriplesDecoder(r io.Reader, opts DecoderOptions) Decoder {
	return &ntDecoder{reader: bufio.NewReader(r), format: NTriples, base: opts.BaseIRI}
}

func newNQuadsDecoder(r io.Reader, opts DecoderOptions) Decoder {
	return &ntDecoder{reader: bufio.NewReader(r), format: NQuads, base: opts.BaseIRI}
}

func (d *ntDecoder) Next() (rdf.Quad, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return rdf.Quad{}, err
		}
		d.line++
		start := d.offset
		d.offset += len(line)

		cursor := &ntCursor{input: strings.TrimRight(line, "\r\n"), format: d.format, base: d.base, line: d.line, lineOffset: start}
		cursor.skipWS()
		if cursor.eof() || cursor.peek() == '#' {
			continue
		}
		return cursor.parseStatement()
	}
}

func (d *ntDecoder) readLine() (string, error) {
	line, err := d.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return line, nil
		}
		if err == io.EOF {
			return "", io.EOF
		}
		return "", errors.NewIOError(err, "read %s input", d.format.Name)
	}
	return line, nil
}

type ntCursor struct {
	input      string
	pos        int
	format     Format
	base       string
	line       int
	lineOffset int
}

func (c *ntCursor) parseStatement() (rdf.Quad, error) {
	subject, err := c.parseSubject()
	if err != nil {
		return rdf.Quad{}, err
	}
	predicate, err := c.parseIRI()
	if err != nil {
		return rdf.Quad{}, err
	}
	object, err := c.parseObject()
	if err != nil {
		return rdf.Quad{}, err
	}

	var graph rdf.Term = rdf.DefaultGraph
	c.skipWS()
	if !c.eof() && c.peek() != '.' {
		if !c.format.Dataset {
			return rdf.Quad{}, c.errorf("graph name not allowed in %s", c.format.Name)
		}
		switch {
		case c.peek() == '<':
			graph, err = c.parseIRI()
		case strings.HasPrefix(c.rest(), "_:"):
			graph, err = c.parseBlankNode()
		default:
			return rdf.Quad{}, c.errorf("expected graph name or '.'")
		}
		if err != nil {
			return rdf.Quad{}, err
		}
	}
	c.skipWS()
	if !c.consume('.') {
		return rdf.Quad{}, c.errorf("expected '.' at end of statement")
	}
	c.skipWS()
	if !c.eof() && c.peek() != '#' {
		return rdf.Quad{}, c.errorf("unexpected content after '.'")
	}
	return rdf.Quad{S: subject, P: predicate, O: object, G: graph}, nil
}

func (c *ntCursor) eof() bool    { return c.pos >= len(c.input) }
func (c *ntCursor) peek() byte   { return c.input[c.pos] }
func (c *ntCursor) rest() string { return c.input[c.pos:] }

func (c *ntCursor) skipWS() {
	for c.pos < len(c.input) {
		switch c.input[c.pos] {
		case ' ', '\t':
			c.pos++
		default:
			return
		}
	}
}

func (c *ntCursor) consume(ch byte) bool {
	c.skipWS()
	if c.pos < len(c.input) && c.input[c.pos] == ch {
		c.pos++
		return true
	}
	return false
}

func (c *ntCursor) parseSubject() (rdf.Term, error) {
	c.skipWS()
	if c.eof() {
		return nil, c.errorf("unexpected end of line, expected subject")
	}
	switch {
	case strings.HasPrefix(c.rest(), "<<"):
		return c.parseTripleTerm()
	case c.peek() == '<':
		return c.parseIRI()
	case strings.HasPrefix(c.rest(), "_:"):
		return c.parseBlankNode()
	case c.peek() == '"':
		return nil, c.errorf("literal not allowed as subject")
	}
	return nil, c.errorf("unexpected character %q, expected subject", c.peek())
}

func (c *ntCursor) parseObject() (rdf.Term, error) {
	c.skipWS()
	if c.eof() {
		return nil, c.errorf("unexpected end of line, expected object")
	}
	switch {
	case c.peek() == '"':
		return c.parseLiteral()
	case strings.HasPrefix(c.rest(), "<<"):
		return c.parseTripleTerm()
	case c.peek() == '<':
		return c.parseIRI()
	case strings.HasPrefix(c.rest(), "_:"):
		return c.parseBlankNode()
	}
	return nil, c.errorf("unexpected character %q, expected object", c.peek())
}

func (c *ntCursor) parseIRI() (rdf.IRI, error) {
	c.skipWS()
	if !c.consume('<') {
		return rdf.IRI{}, c.errorf("expected IRI")
	}
	var b strings.Builder
	for {
		if c.eof() {
			return rdf.IRI{}, c.errorf("unterminated IRI")
		}
		ch := c.peek()
		switch {
		case ch == '>':
			c.pos++
			value := b.String()
			if c.base != "" {
				resolved, err := rdf.ResolveIRI(c.base, value)
				if err != nil {
					return rdf.IRI{}, c.errorf("invalid IRI %q: %v", value, err)
				}
				value = resolved
			}
			return rdf.IRI{Value: value}, nil
		case ch == '\\':
			r, err := c.parseUChar()
			if err != nil {
				return rdf.IRI{}, err
			}
			b.WriteRune(r)
		case ch <= 0x20 || ch == '"' || ch == '{' || ch == '}' || ch == '|' || ch == '^' || ch == '`' || ch == '<':
			return rdf.IRI{}, c.errorf("invalid character %q in IRI", ch)
		default:
			b.WriteByte(ch)
			c.pos++
		}
	}
}

// parseUChar reads \uXXXX or \UXXXXXXXX at the cursor.
func (c *ntCursor) parseUChar() (rune, error) {
	if c.pos+1 >= len(c.input) {
		return 0, c.errorf("unterminated escape")
	}
	var n int
	switch c.input[c.pos+1] {
	case 'u':
		n = 4
	case 'U':
		n = 8
	default:
		return 0, c.errorf("invalid escape \\%c", c.input[c.pos+1])
	}
	if c.pos+2+n > len(c.input) {
		return 0, c.errorf("truncated unicode escape")
	}
	v, err := strconv.ParseUint(c.input[c.pos+2:c.pos+2+n], 16, 32)
	if err != nil || !utf8.ValidRune(rune(v)) {
		return 0, c.errorf("invalid unicode escape")
	}
	c.pos += 2 + n
	return rune(v), nil
}

func (c *ntCursor) parseBlankNode() (rdf.BlankNode, error) {
	c.skipWS()
	if !strings.HasPrefix(c.rest(), "_:") {
		return rdf.BlankNode{}, c.errorf("expected blank node")
	}
	c.pos += 2
	start := c.pos
	for c.pos < len(c.input) && !isTermDelimiter(c.input[c.pos]) {
		c.pos++
	}
	// A label may contain '.' but not end with one
	for c.pos > start && c.input[c.pos-1] == '.' {
		c.pos--
	}
	if start == c.pos {
		return rdf.BlankNode{}, c.errorf("blank node label missing")
	}
	return rdf.BlankNode{ID: c.input[start:c.pos]}, nil
}

func (c *ntCursor) parseLiteral() (rdf.Term, error) {
	if !c.consume('"') {
		return nil, c.errorf("expected literal")
	}
	var b strings.Builder
	closed := false
	for c.pos < len(c.input) {
		ch := c.input[c.pos]
		if ch == '"' {
			c.pos++
			closed = true
			break
		}
		if ch == '\\' {
			if c.pos+1 >= len(c.input) {
				return nil, c.errorf("unterminated escape")
			}
			next := c.input[c.pos+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case '"', '\'', '\\':
				b.WriteByte(next)
			case 'u', 'U':
				r, err := c.parseUChar()
				if err != nil {
					return nil, err
				}
				b.WriteRune(r)
				continue
			default:
				return nil, c.errorf("invalid escape \\%c", next)
			}
			c.pos += 2
			continue
		}
		b.WriteByte(ch)
		c.pos++
	}
	if !closed {
		return nil, c.errorf("unterminated string literal")
	}
	lexical := b.String()
	if strings.HasPrefix(c.rest(), "@") {
		c.pos++
		start := c.pos
		for c.pos < len(c.input) && isLangChar(c.input[c.pos]) {
			c.pos++
		}
		tag := c.input[start:c.pos]
		lang, dir := tag, ""
		if i := strings.Index(tag, "--"); i >= 0 {
			lang, dir = tag[:i], tag[i+2:]
			if dir != "ltr" && dir != "rtl" {
				return nil, c.errorf("invalid base direction %q", dir)
			}
		}
		if lang == "" || lang[0] == '-' {
			return nil, c.errorf("invalid language tag %q", tag)
		}
		return rdf.NewDirLangLiteral(lexical, lang, dir), nil
	}
	if strings.HasPrefix(c.rest(), "^^") {
		c.pos += 2
		dt, err := c.parseIRI()
		if err != nil {
			return nil, err
		}
		return rdf.NewTypedLiteral(lexical, dt), nil
	}
	return rdf.NewLiteral(lexical), nil
}

// parseTripleTerm accepts both <<( s p o )>> and the older << s p o >>.
func (c *ntCursor) parseTripleTerm() (rdf.Term, error) {
	c.pos += 2
	paren := false
	if !c.eof() && c.peek() == '(' {
		paren = true
		c.pos++
	}
	subject, err := c.parseSubject()
	if err != nil {
		return nil, err
	}
	predicate, err := c.parseIRI()
	if err != nil {
		return nil, err
	}
	object, err := c.parseObject()
	if err != nil {
		return nil, err
	}
	c.skipWS()
	closer := ">>"
	if paren {
		closer = ")>>"
	}
	if !strings.HasPrefix(c.rest(), closer) {
		return nil, c.errorf("expected '%s'", closer)
	}
	c.pos += len(closer)
	return rdf.TripleTerm{S: subject, P: predicate, O: object}, nil
}

func (c *ntCursor) errorf(format string, args ...interface{}) error {
	pos := errors.Position{Line: c.line, Column: c.pos + 1, Offset: c.lineOffset + c.pos}
	end := errors.Position{Line: c.line, Column: len(c.input) + 1, Offset: c.lineOffset + len(c.input)}
	return errors.NewSyntaxError(strings.ToLower(c.format.Name), pos, end, format, args...)
}

func isTermDelimiter(ch byte) bool {
	switch ch {
	case ' ', '\t', '\r', '\n', '<', '>', '"', ')', '#':
		return true
	default:
		return false
	}
}

func isLangChar(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '-'
}

type ntEncoder struct {
	writer *bufio.Writer
	format Format
	err    error
}

func newNTriplesEncoder(w io.Writer) Encoder {
	return &ntEncoder{writer: bufio.NewWriter(w), format: NTriples}
}

func newNQuadsEncoder(w io.Writer) Encoder {
	return &ntEncoder{writer: bufio.NewWriter(w), format: NQuads}
}

// Encode writes one statement. The N-Triples encoder drops graph names.
func (e *ntEncoder) Encode(q rdf.Quad) error {
	if e.err != nil {
		return e.err
	}
	if q.S == nil || q.P.Value == "" || q.O == nil {
		return errors.NewConstraintError("%s: missing statement fields", e.format.Name)
	}
	line := q.S.String() + " " + q.P.String() + " " + q.O.String()
	if e.format.Dataset && q.G != nil && !rdf.IsDefaultGraph(q.G) {
		line += " " + q.G.String()
	}
	line += " .\n"
	if _, err := e.writer.WriteString(line); err != nil {
		e.err = errors.NewIOError(err, "write %s output", e.format.Name)
	}
	return e.err
}

func (e *ntEncoder) Close() error {
	if e.err != nil {
		return e.err
	}
	if err := e.writer.Flush(); err != nil {
		e.err = errors.NewIOError(err, "flush %s output", e.format.Name)
	}
	return e.err
}
