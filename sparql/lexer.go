package sparql

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/teranos/quadstore/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIRI           // <http://...>, value without brackets
	tokPName         // prefix:local, value as written
	tokBlank         // _:label, value is the label
	tokVar           // ?x or $x, value is the name
	tokString        // value is the unescaped content
	tokLangTag       // @en or @en--ltr, value without @
	tokInteger
	tokDecimal
	tokDouble
	tokName  // bare word: keywords, function names, a, true, false
	tokPunct // operators and delimiters, value as written
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIRI:
		return "IRI"
	case tokPName:
		return "prefixed name"
	case tokBlank:
		return "blank node"
	case tokVar:
		return "variable"
	case tokString:
		return "string"
	case tokLangTag:
		return "language tag"
	case tokInteger, tokDecimal, tokDouble:
		return "number"
	case tokName:
		return "name"
	}
	return "punctuation"
}

type token struct {
	kind  tokenKind
	value string
	start errors.Position
	end   errors.Position
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokIRI:
		return "<" + t.value + ">"
	case tokVar:
		return "?" + t.value
	case tokString:
		return `"` + t.value + `"`
	case tokBlank:
		return "_:" + t.value
	case tokLangTag:
		return "@" + t.value
	}
	return t.value
}

// is reports whether t is the punctuation or case-insensitive keyword s.
func (t token) is(s string) bool {
	switch t.kind {
	case tokPunct:
		return t.value == s
	case tokName:
		return strings.EqualFold(t.value, s)
	}
	return false
}

// Punctuation, longest first
var puncts = []string{
	"<<(", ")>>", "{|", "|}",
	"<<", ">>", "^^", "&&", "||", "!=", "<=", ">=",
	"{", "}", "(", ")", "[", "]", ".", ",", ";", "*", "/", "|", "^", "!",
	"=", "<", ">", "+", "-", "?", "~",
}

type lexer struct {
	input  string
	pos    int
	line   int
	col    int
	format string
}

func newLexer(input, format string) *lexer {
	return &lexer{input: input, line: 1, col: 1, format: format}
}

func (l *lexer) position() errors.Position {
	return errors.Position{Line: l.line, Column: l.col, Offset: l.pos}
}

func (l *lexer) errorf(start errors.Position, msg string, args ...interface{}) error {
	return errors.NewSyntaxError(l.format, start, l.position(), msg, args...)
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.input); {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		l.pos += size
		i += size
		if r == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
	}
}

func (l *lexer) peekByte(off int) byte {
	if l.pos+off < len(l.input) {
		return l.input[l.pos+off]
	}
	return 0
}

func (l *lexer) rest() string { return l.input[l.pos:] }

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance(1)
		case c == '#':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.advance(1)
			}
		default:
			return
		}
	}
}

// tokenize splits the whole input up front so the parser can look ahead freely.
func (l *lexer) tokenize() ([]token, error) {
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	start := l.position()
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, start: start, end: start}, nil
	}

	emit := func(kind tokenKind, value string, n int) (token, error) {
		l.advance(n)
		return token{kind: kind, value: value, start: start, end: l.position()}, nil
	}

	c := l.input[l.pos]
	switch {
	case c == '<':
		if iri, n, ok := l.scanIRIRef(); ok {
			value, err := unescapeIRI(iri)
			if err != nil {
				return token{}, l.errorf(start, "%v", err)
			}
			return emit(tokIRI, value, n)
		}
	case c == '?' || c == '$':
		if n := scanName(l.input[l.pos+1:], false); n > 0 {
			return emit(tokVar, l.input[l.pos+1:l.pos+1+n], n+1)
		}
		if c == '$' {
			return token{}, l.errorf(start, "invalid variable name")
		}
	case c == '_' && l.peekByte(1) == ':':
		n := scanLocalName(l.input[l.pos+2:])
		if n == 0 {
			return token{}, l.errorf(start, "blank node label expected after _:")
		}
		return emit(tokBlank, l.input[l.pos+2:l.pos+2+n], n+2)
	case c == '"' || c == '\'':
		return l.scanString(start)
	case c == '@':
		n := 1
		for l.pos+n < len(l.input) && isLangChar(l.input[l.pos+n]) {
			n++
		}
		if n == 1 {
			return token{}, l.errorf(start, "language tag expected after @")
		}
		return emit(tokLangTag, l.input[l.pos+1:l.pos+n], n)
	case c >= '0' && c <= '9' || c == '.' && isDigit(l.peekByte(1)):
		return l.scanNumber(start)
	case c == ':' || isNameStartByte(l.rest()):
		return l.scanWordOrPName(start)
	}

	for _, p := range puncts {
		if strings.HasPrefix(l.rest(), p) {
			return emit(tokPunct, p, len(p))
		}
	}
	r, _ := utf8.DecodeRuneInString(l.rest())
	return token{}, l.errorf(start, "unexpected character %q", r)
}

// scanIRIRef recognizes <...> when the content is a valid IRI reference.
// Otherwise the '<' is an operator or the start of a quoted triple.
func (l *lexer) scanIRIRef() (string, int, bool) {
	s := l.rest()
	for i := 1; i < len(s); i++ {
		switch c := s[i]; {
		case c == '>':
			return s[1:i], i + 1, true
		case c <= ' ' || c == '<' || c == '"' || c == '{' || c == '}' || c == '|' || c == '^' || c == '`':
			return "", 0, false
		}
	}
	return "", 0, false
}

func unescapeIRI(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		r, n, err := decodeUChar(s[i:])
		if err != nil {
			return "", err
		}
		b.WriteRune(r)
		i += n - 1
	}
	return b.String(), nil
}

// decodeUChar decodes \uXXXX or \UXXXXXXXX at the start of s.
func decodeUChar(s string) (rune, int, error) {
	if len(s) < 2 {
		return 0, 0, errors.New("incomplete escape")
	}
	width := 0
	switch s[1] {
	case 'u':
		width = 4
	case 'U':
		width = 8
	default:
		return 0, 0, errors.Newf("invalid escape \\%c", s[1])
	}
	if len(s) < 2+width {
		return 0, 0, errors.New("incomplete unicode escape")
	}
	var r rune
	for _, h := range s[2 : 2+width] {
		v, ok := hexValue(byte(h))
		if !ok {
			return 0, 0, errors.Newf("invalid hex digit %q in unicode escape", h)
		}
		r = r<<4 | rune(v)
	}
	if !utf8.ValidRune(r) {
		return 0, 0, errors.Newf("invalid code point U+%X", r)
	}
	return r, 2 + width, nil
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func (l *lexer) scanString(start errors.Position) (token, error) {
	quote := l.input[l.pos]
	long := strings.HasPrefix(l.rest(), strings.Repeat(string(quote), 3))
	open := 1
	if long {
		open = 3
	}
	s := l.input[l.pos+open:]

	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == quote && (!long || strings.HasPrefix(s[i:], strings.Repeat(string(quote), 3))):
			n := i + 1
			if long {
				n = i + 3
			}
			l.advance(open + n)
			return token{kind: tokString, value: b.String(), start: start, end: l.position()}, nil
		case c == '\\':
			if i+1 >= len(s) {
				return token{}, l.errorf(start, "unterminated string")
			}
			switch e := s[i+1]; e {
			case 't':
				b.WriteByte('\t')
			case 'b':
				b.WriteByte('\b')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 'f':
				b.WriteByte('\f')
			case '"', '\'', '\\':
				b.WriteByte(e)
			case 'u', 'U':
				r, n, err := decodeUChar(s[i:])
				if err != nil {
					return token{}, l.errorf(start, "%v", err)
				}
				b.WriteRune(r)
				i += n
				continue
			default:
				return token{}, l.errorf(start, "invalid escape \\%c in string", e)
			}
			i += 2
		case !long && (c == '\n' || c == '\r'):
			return token{}, l.errorf(start, "line break in short string")
		default:
			b.WriteByte(c)
			i++
		}
	}
	return token{}, l.errorf(start, "unterminated string")
}

func (l *lexer) scanNumber(start errors.Position) (token, error) {
	s := l.rest()
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	kind := tokInteger
	if i < len(s) && s[i] == '.' && i+1 < len(s) && isDigit(s[i+1]) {
		kind = tokDecimal
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			kind = tokDouble
			i = j
		}
	}
	value := s[:i]
	l.advance(i)
	return token{kind: kind, value: value, start: start, end: l.position()}, nil
}

func (l *lexer) scanWordOrPName(start errors.Position) (token, error) {
	s := l.rest()
	n := 0
	if s[0] != ':' {
		n = scanName(s, true)
	}
	if n < len(s) && s[n] == ':' {
		local := scanLocalName(s[n+1:])
		total := n + 1 + local
		l.advance(total)
		return token{kind: tokPName, value: s[:total], start: start, end: l.position()}, nil
	}
	if n == 0 {
		r, _ := utf8.DecodeRuneInString(s)
		return token{}, l.errorf(start, "unexpected character %q", r)
	}
	l.advance(n)
	return token{kind: tokName, value: s[:n], start: start, end: l.position()}, nil
}

// scanName returns the byte length of a name at the start of s. Prefix names
// may contain dots and hyphens but not end with a dot.
func scanName(s string, prefix bool) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		ok := r == '_' || unicode.IsLetter(r) || (n > 0 || !prefix) && unicode.IsDigit(r) ||
			n > 0 && (r == '-' || r == '·' || prefix && r == '.')
		if !ok {
			break
		}
		n += size
	}
	for prefix && n > 0 && s[n-1] == '.' {
		n--
	}
	return n
}

// scanLocalName returns the length of the local part of a prefixed name or
// blank node label, including %XX and \-escapes. A trailing dot is excluded.
func scanLocalName(s string) int {
	n := 0
	for n < len(s) {
		c := s[n]
		if c == '%' && n+2 < len(s) {
			if _, ok := hexValue(s[n+1]); ok {
				if _, ok := hexValue(s[n+2]); ok {
					n += 3
					continue
				}
			}
			break
		}
		if c == '\\' && n+1 < len(s) && strings.IndexByte("_~.-!$&'()*+,;=/?#@%", s[n+1]) >= 0 {
			n += 2
			continue
		}
		r, size := utf8.DecodeRuneInString(s[n:])
		if r == '_' || r == ':' || unicode.IsLetter(r) || unicode.IsDigit(r) || n > 0 && (r == '-' || r == '.' || r == '·') {
			n += size
			continue
		}
		break
	}
	for n > 0 && s[n-1] == '.' {
		n--
	}
	return n
}

func isNameStartByte(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLangChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-'
}

// unescapeLocal removes backslash escapes from a prefixed name's local part.
func unescapeLocal(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
