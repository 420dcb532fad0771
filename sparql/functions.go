package sparql

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"math/big"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

// Compiled REGEX and REPLACE patterns, keyed by flags and pattern
var regexCache, _ = lru.New[string, *regexp.Regexp](512)

func (e *evaluator) callBuiltin(v exprCall, row binding, g rdf.Term) (rdf.Term, error) {
	// Lazily evaluated forms
	switch v.name {
	case "IF":
		cond, err := e.evalBool(v.args[0], row, g)
		if err != nil {
			return nil, err
		}
		if cond {
			return e.evalExpr(v.args[1], row, g)
		}
		return e.evalExpr(v.args[2], row, g)
	case "COALESCE":
		for _, a := range v.args {
			t, err := e.evalExpr(a, row, g)
			if err == nil {
				return t, nil
			}
			if !isExprError(err) {
				return nil, err
			}
		}
		return nil, errNoValue
	}

	args := make([]rdf.Term, len(v.args))
	for i, a := range v.args {
		t, err := e.evalExpr(a, row, g)
		if err != nil {
			return nil, err
		}
		args[i] = t
	}
	switch v.name {
	case "BNODE":
		if len(args) == 1 {
			if _, ok := isSimpleString(args[0]); !ok {
				return nil, errNoValue
			}
		}
		return rdf.NewBlankNode(), nil
	case "RAND":
		return doubleNumber(rand.Float64()).term(), nil
	case "NOW":
		return rdf.NewTypedLiteral(e.now.Format(time.RFC3339Nano), rdf.XSDDateTime), nil
	case "UUID":
		return rdf.NewIRI("urn:uuid:" + uuid.NewString()), nil
	case "STRUUID":
		return rdf.NewLiteral(uuid.NewString()), nil
	case "IRI":
		return e.toIRI(args[0])
	}
	fn, ok := builtins[v.name]
	if !ok {
		return nil, errors.AssertionFailedf("unhandled builtin %s", v.name)
	}
	return fn(args)
}

func (e *evaluator) toIRI(t rdf.Term) (rdf.Term, error) {
	switch v := t.(type) {
	case rdf.IRI:
		return v, nil
	case rdf.Literal:
		if !v.IsPlain() {
			return nil, errNoValue
		}
		resolved, err := rdf.ResolveIRI(e.baseIRI, v.Lexical)
		if err != nil || !rdf.IsAbsoluteIRI(resolved) {
			return nil, errNoValue
		}
		return rdf.NewIRI(resolved), nil
	}
	return nil, errNoValue
}

type builtinFunc func(args []rdf.Term) (rdf.Term, error)

var builtins map[string]builtinFunc

func init() {
	builtins = map[string]builtinFunc{
		"STR":            fnStr,
		"LANG":           fnLang,
		"LANGDIR":        fnLangDir,
		"LANGMATCHES":    fnLangMatches,
		"DATATYPE":       fnDatatype,
		"ABS":            numericUnary(math.Abs, func(r *big.Rat) *big.Rat { return new(big.Rat).Abs(r) }),
		"CEIL":           numericUnary(math.Ceil, ratCeil),
		"FLOOR":          numericUnary(math.Floor, ratFloor),
		"ROUND":          numericUnary(func(f float64) float64 { return math.Floor(f + 0.5) }, ratRound),
		"CONCAT":         fnConcat,
		"STRLEN":         fnStrlen,
		"UCASE":          stringMap(strings.ToUpper),
		"LCASE":          stringMap(strings.ToLower),
		"ENCODE_FOR_URI": fnEncodeForURI,
		"CONTAINS":       stringTest(strings.Contains),
		"STRSTARTS":      stringTest(strings.HasPrefix),
		"STRENDS":        stringTest(strings.HasSuffix),
		"STRBEFORE":      fnStrBefore,
		"STRAFTER":       fnStrAfter,
		"YEAR":           dateField(func(t time.Time) int { return t.Year() }),
		"MONTH":          dateField(func(t time.Time) int { return int(t.Month()) }),
		"DAY":            dateField(func(t time.Time) int { return t.Day() }),
		"HOURS":          dateField(func(t time.Time) int { return t.Hour() }),
		"MINUTES":        dateField(func(t time.Time) int { return t.Minute() }),
		"SECONDS":        fnSeconds,
		"TIMEZONE":       fnTimezone,
		"TZ":             fnTZ,
		"MD5":            hashFunc(md5.New),
		"SHA1":           hashFunc(sha1.New),
		"SHA256":         hashFunc(sha256.New),
		"SHA384":         hashFunc(sha512.New384),
		"SHA512":         hashFunc(sha512.New),
		"STRLANG":        fnStrLang,
		"STRLANGDIR":     fnStrLangDir,
		"STRDT":          fnStrDT,
		"SAMETERM":       func(a []rdf.Term) (rdf.Term, error) { return boolTerm(rdf.Equal(a[0], a[1])), nil },
		"ISIRI":          kindTest(rdf.TermIRI),
		"ISURI":          kindTest(rdf.TermIRI),
		"ISBLANK":        kindTest(rdf.TermBlankNode),
		"ISLITERAL":      kindTest(rdf.TermLiteral),
		"ISTRIPLE":       kindTest(rdf.TermTriple),
		"ISNUMERIC":      fnIsNumeric,
		"HASLANG":        fnHasLang,
		"HASLANGDIR":     fnHasLangDir,
		"REGEX":          fnRegex,
		"SUBSTR":         fnSubstr,
		"REPLACE":        fnReplace,
		"TRIPLE":         fnTriple,
		"SUBJECT":        triplePart(func(t rdf.TripleTerm) rdf.Term { return t.S }),
		"PREDICATE":      triplePart(func(t rdf.TripleTerm) rdf.Term { return t.P }),
		"OBJECT":         triplePart(func(t rdf.TripleTerm) rdf.Term { return t.O }),
	}
}

// String helpers

func isSimpleString(t rdf.Term) (string, bool) {
	lit, ok := literalOf(t)
	if !ok || !lit.IsPlain() {
		return "", false
	}
	return lit.Lexical, true
}

// withLexical keeps the language tag and direction of like.
func withLexical(like rdf.Literal, lex string) rdf.Literal {
	if like.Lang != "" {
		return rdf.NewDirLangLiteral(lex, like.Lang, like.Direction)
	}
	return rdf.NewLiteral(lex)
}

// compatibleArgs checks that two string arguments may be combined: the
// second is simple or carries the same language tag as the first.
func compatibleArgs(a, b rdf.Term) (rdf.Literal, rdf.Literal, bool) {
	la, ok1 := isStringLiteral(a)
	lb, ok2 := isStringLiteral(b)
	if !ok1 || !ok2 {
		return la, lb, false
	}
	return la, lb, lb.Lang == "" || lb.Lang == la.Lang
}

func fnStr(a []rdf.Term) (rdf.Term, error) {
	switch v := a[0].(type) {
	case rdf.IRI:
		return rdf.NewLiteral(v.Value), nil
	case rdf.Literal:
		return rdf.NewLiteral(v.Lexical), nil
	}
	return nil, errNoValue
}

func fnLang(a []rdf.Term) (rdf.Term, error) {
	lit, ok := literalOf(a[0])
	if !ok {
		return nil, errNoValue
	}
	return rdf.NewLiteral(lit.Lang), nil
}

func fnLangDir(a []rdf.Term) (rdf.Term, error) {
	lit, ok := literalOf(a[0])
	if !ok {
		return nil, errNoValue
	}
	return rdf.NewLiteral(lit.Direction), nil
}

func fnLangMatches(a []rdf.Term) (rdf.Term, error) {
	tag, ok1 := isSimpleString(a[0])
	rng, ok2 := isSimpleString(a[1])
	if !ok1 || !ok2 {
		return nil, errNoValue
	}
	if rng == "*" {
		return boolTerm(tag != ""), nil
	}
	tag, rng = strings.ToLower(tag), strings.ToLower(rng)
	return boolTerm(tag == rng || strings.HasPrefix(tag, rng+"-")), nil
}

func fnDatatype(a []rdf.Term) (rdf.Term, error) {
	lit, ok := literalOf(a[0])
	if !ok {
		return nil, errNoValue
	}
	switch {
	case lit.Direction != "":
		return rdf.RDFDirLangString, nil
	case lit.Lang != "":
		return rdf.RDFLangString, nil
	case lit.Datatype.Value == "":
		return rdf.XSDString, nil
	}
	return lit.Datatype, nil
}

// Numeric functions

func numericUnary(onFloat func(float64) float64, onRat func(*big.Rat) *big.Rat) builtinFunc {
	return func(a []rdf.Term) (rdf.Term, error) {
		n, ok := toNumber(a[0])
		if !ok {
			return nil, errNoValue
		}
		switch n.kind {
		case numInteger:
			return bigInteger(onRat(n.rat())).term(), nil
		case numDecimal:
			return number{kind: numDecimal, r: onRat(n.r)}.term(), nil
		}
		n.f = onFloat(n.f)
		if n.kind == numFloat {
			n.f = float64(float32(n.f))
		}
		return n.term(), nil
	}
}

func ratFloor(r *big.Rat) *big.Rat {
	q := new(big.Int).Div(r.Num(), r.Denom()) // Euclidean: rounds toward -inf for positive denominators
	return new(big.Rat).SetInt(q)
}

func ratCeil(r *big.Rat) *big.Rat {
	f := ratFloor(r)
	if f.Cmp(r) != 0 {
		f.Add(f, big.NewRat(1, 1))
	}
	return f
}

func ratRound(r *big.Rat) *big.Rat {
	return ratFloor(new(big.Rat).Add(r, big.NewRat(1, 2)))
}

func fnIsNumeric(a []rdf.Term) (rdf.Term, error) {
	_, ok := toNumber(a[0])
	return boolTerm(ok), nil
}

// String functions

func fnConcat(a []rdf.Term) (rdf.Term, error) {
	var sb strings.Builder
	lang, dir := "", ""
	sameLang := true
	for i, t := range a {
		lit, ok := isStringLiteral(t)
		if !ok {
			return nil, errNoValue
		}
		sb.WriteString(lit.Lexical)
		if i == 0 {
			lang, dir = lit.Lang, lit.Direction
		} else if lit.Lang != lang || lit.Direction != dir {
			sameLang = false
		}
	}
	if sameLang && lang != "" {
		return rdf.NewDirLangLiteral(sb.String(), lang, dir), nil
	}
	return rdf.NewLiteral(sb.String()), nil
}

func fnStrlen(a []rdf.Term) (rdf.Term, error) {
	lit, ok := isStringLiteral(a[0])
	if !ok {
		return nil, errNoValue
	}
	return integerNumber(int64(utf8.RuneCountInString(lit.Lexical))).term(), nil
}

func stringMap(fn func(string) string) builtinFunc {
	return func(a []rdf.Term) (rdf.Term, error) {
		lit, ok := isStringLiteral(a[0])
		if !ok {
			return nil, errNoValue
		}
		return withLexical(lit, fn(lit.Lexical)), nil
	}
}

func stringTest(fn func(s, sub string) bool) builtinFunc {
	return func(a []rdf.Term) (rdf.Term, error) {
		x, y, ok := compatibleArgs(a[0], a[1])
		if !ok {
			return nil, errNoValue
		}
		return boolTerm(fn(x.Lexical, y.Lexical)), nil
	}
}

func fnStrBefore(a []rdf.Term) (rdf.Term, error) {
	x, y, ok := compatibleArgs(a[0], a[1])
	if !ok {
		return nil, errNoValue
	}
	i := strings.Index(x.Lexical, y.Lexical)
	if i < 0 {
		return rdf.NewLiteral(""), nil
	}
	return withLexical(x, x.Lexical[:i]), nil
}

func fnStrAfter(a []rdf.Term) (rdf.Term, error) {
	x, y, ok := compatibleArgs(a[0], a[1])
	if !ok {
		return nil, errNoValue
	}
	i := strings.Index(x.Lexical, y.Lexical)
	if i < 0 {
		return rdf.NewLiteral(""), nil
	}
	return withLexical(x, x.Lexical[i+len(y.Lexical):]), nil
}

func fnEncodeForURI(a []rdf.Term) (rdf.Term, error) {
	lit, ok := isStringLiteral(a[0])
	if !ok {
		return nil, errNoValue
	}
	var sb strings.Builder
	for _, c := range []byte(lit.Lexical) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return rdf.NewLiteral(sb.String()), nil
}

func fnSubstr(a []rdf.Term) (rdf.Term, error) {
	lit, ok := isStringLiteral(a[0])
	if !ok {
		return nil, errNoValue
	}
	startN, ok := toNumber(a[1])
	if !ok {
		return nil, errNoValue
	}
	runes := []rune(lit.Lexical)
	start := math.Floor(startN.float() + 0.5)
	end := math.Inf(1)
	if len(a) == 3 {
		lenN, ok := toNumber(a[2])
		if !ok {
			return nil, errNoValue
		}
		end = start + math.Floor(lenN.float()+0.5)
	}
	if math.IsNaN(start) || math.IsNaN(end) {
		return withLexical(lit, ""), nil
	}
	var sb strings.Builder
	for i, r := range runes {
		pos := float64(i + 1)
		if pos >= start && pos < end {
			sb.WriteRune(r)
		}
	}
	return withLexical(lit, sb.String()), nil
}

func fnStrLang(a []rdf.Term) (rdf.Term, error) {
	lex, ok1 := isSimpleString(a[0])
	lang, ok2 := isSimpleString(a[1])
	if !ok1 || !ok2 || lang == "" {
		return nil, errNoValue
	}
	return rdf.NewLangLiteral(lex, lang), nil
}

func fnStrLangDir(a []rdf.Term) (rdf.Term, error) {
	lex, ok1 := isSimpleString(a[0])
	lang, ok2 := isSimpleString(a[1])
	dir, ok3 := isSimpleString(a[2])
	if !ok1 || !ok2 || !ok3 || lang == "" || (dir != "ltr" && dir != "rtl") {
		return nil, errNoValue
	}
	return rdf.NewDirLangLiteral(lex, lang, dir), nil
}

func fnStrDT(a []rdf.Term) (rdf.Term, error) {
	lex, ok := isSimpleString(a[0])
	dt, isIRI := a[1].(rdf.IRI)
	if !ok || !isIRI || dt == rdf.RDFLangString || dt == rdf.RDFDirLangString {
		return nil, errNoValue
	}
	return rdf.NewTypedLiteral(lex, dt), nil
}

func fnHasLang(a []rdf.Term) (rdf.Term, error) {
	lit, ok := literalOf(a[0])
	if !ok {
		return nil, errNoValue
	}
	return boolTerm(lit.Lang != ""), nil
}

func fnHasLangDir(a []rdf.Term) (rdf.Term, error) {
	lit, ok := literalOf(a[0])
	if !ok {
		return nil, errNoValue
	}
	return boolTerm(lit.Direction != ""), nil
}

func kindTest(kind rdf.TermKind) builtinFunc {
	return func(a []rdf.Term) (rdf.Term, error) {
		return boolTerm(a[0].Kind() == kind), nil
	}
}

func hashFunc(newHash func() hash.Hash) builtinFunc {
	return func(a []rdf.Term) (rdf.Term, error) {
		lex, ok := isSimpleString(a[0])
		if !ok {
			return nil, errNoValue
		}
		h := newHash()
		h.Write([]byte(lex))
		return rdf.NewLiteral(hex.EncodeToString(h.Sum(nil))), nil
	}
}

// Regular expressions

// compileRegex translates XPath flags to Go syntax. The x flag strips
// whitespace from the pattern and q quotes it.
func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	key := flags + "\x00" + pattern
	if re, ok := regexCache.Get(key); ok {
		return re, nil
	}
	var goFlags strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
			goFlags.WriteRune(f)
		case 'x':
			pattern = strings.Map(func(r rune) rune {
				if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
					return -1
				}
				return r
			}, pattern)
		case 'q':
			pattern = regexp.QuoteMeta(pattern)
		default:
			return nil, errNoValue
		}
	}
	if goFlags.Len() > 0 {
		pattern = "(?" + goFlags.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errNoValue
	}
	regexCache.Add(key, re)
	return re, nil
}

func regexArgs(a []rdf.Term, flagsAt int) (rdf.Literal, *regexp.Regexp, error) {
	text, ok := isStringLiteral(a[0])
	if !ok {
		return text, nil, errNoValue
	}
	pattern, ok := isSimpleString(a[1])
	if !ok {
		return text, nil, errNoValue
	}
	flags := ""
	if len(a) > flagsAt {
		if flags, ok = isSimpleString(a[flagsAt]); !ok {
			return text, nil, errNoValue
		}
	}
	re, err := compileRegex(pattern, flags)
	return text, re, err
}

func fnRegex(a []rdf.Term) (rdf.Term, error) {
	text, re, err := regexArgs(a, 2)
	if err != nil {
		return nil, err
	}
	return boolTerm(re.MatchString(text.Lexical)), nil
}

var xpathGroupRef = regexp.MustCompile(`\\\\|\\\$|\$([0-9]+)`)

func fnReplace(a []rdf.Term) (rdf.Term, error) {
	text, re, err := regexArgs([]rdf.Term{a[0], a[1]}, 2)
	if len(a) == 4 {
		text, re, err = regexArgs([]rdf.Term{a[0], a[1], a[3]}, 2)
	}
	if err != nil {
		return nil, err
	}
	repl, ok := isSimpleString(a[2])
	if !ok || re.MatchString("") {
		return nil, errNoValue
	}
	repl = xpathGroupRef.ReplaceAllStringFunc(repl, func(m string) string {
		switch m {
		case `\\`:
			return `\`
		case `\$`:
			return "$$"
		}
		return "${" + m[1:] + "}"
	})
	return withLexical(text, re.ReplaceAllString(text.Lexical, repl)), nil
}

// Dates

func dateField(fn func(time.Time) int) builtinFunc {
	return func(a []rdf.Term) (rdf.Term, error) {
		t, _, ok := parseDateTime(a[0])
		if !ok {
			return nil, errNoValue
		}
		return integerNumber(int64(fn(t))).term(), nil
	}
}

func fnSeconds(a []rdf.Term) (rdf.Term, error) {
	t, _, ok := parseDateTime(a[0])
	if !ok {
		return nil, errNoValue
	}
	r := new(big.Rat).SetFrac64(int64(t.Second())*1e9+int64(t.Nanosecond()), 1e9)
	return number{kind: numDecimal, r: r}.term(), nil
}

func fnTimezone(a []rdf.Term) (rdf.Term, error) {
	t, hasTZ, ok := parseDateTime(a[0])
	if !ok || !hasTZ {
		return nil, errNoValue
	}
	_, offset := t.Zone()
	if offset == 0 {
		return rdf.NewTypedLiteral("PT0S", rdf.XSDDayTimeDuration), nil
	}
	var sb strings.Builder
	if offset < 0 {
		sb.WriteByte('-')
		offset = -offset
	}
	sb.WriteString("PT")
	if h := offset / 3600; h > 0 {
		sb.WriteString(strconv.Itoa(h) + "H")
	}
	if m := offset % 3600 / 60; m > 0 {
		sb.WriteString(strconv.Itoa(m) + "M")
	}
	return rdf.NewTypedLiteral(sb.String(), rdf.XSDDayTimeDuration), nil
}

func fnTZ(a []rdf.Term) (rdf.Term, error) {
	t, hasTZ, ok := parseDateTime(a[0])
	if !ok {
		return nil, errNoValue
	}
	if !hasTZ {
		return rdf.NewLiteral(""), nil
	}
	if _, offset := t.Zone(); offset == 0 {
		return rdf.NewLiteral("Z"), nil
	}
	return rdf.NewLiteral(t.Format("-07:00")), nil
}

// Triple terms

func fnTriple(a []rdf.Term) (rdf.Term, error) {
	p, ok := a[1].(rdf.IRI)
	if !ok || !rdf.ValidSubject(a[0]) {
		return nil, errNoValue
	}
	return rdf.TripleTerm{S: a[0], P: p, O: a[2]}, nil
}

func triplePart(fn func(rdf.TripleTerm) rdf.Term) builtinFunc {
	return func(a []rdf.Term) (rdf.Term, error) {
		t, ok := a[0].(rdf.TripleTerm)
		if !ok {
			return nil, errNoValue
		}
		return fn(t), nil
	}
}

// Casts

type castFunc func(rdf.Term) (rdf.Term, error)

var casts = map[string]castFunc{
	rdf.XSDString.Value:   castString,
	rdf.XSDBoolean.Value:  castBoolean,
	rdf.XSDInteger.Value:  castInteger,
	rdf.XSDDecimal.Value:  castDecimal,
	rdf.XSDFloat.Value:    castFloating(numFloat),
	rdf.XSDDouble.Value:   castFloating(numDouble),
	rdf.XSDDateTime.Value: castDateTime,
	rdf.XSDDate.Value:     castDate,
}

// castSource returns the literal being cast; IRIs only cast to xsd:string.
func castSource(t rdf.Term) (rdf.Literal, bool) {
	lit, ok := literalOf(t)
	if !ok || lit.Lang != "" {
		return lit, false
	}
	return lit, true
}

func castString(t rdf.Term) (rdf.Term, error) {
	if iri, ok := t.(rdf.IRI); ok {
		return rdf.NewLiteral(iri.Value), nil
	}
	lit, ok := literalOf(t)
	if !ok {
		return nil, errNoValue
	}
	if n, ok := toNumber(lit); ok {
		return rdf.NewLiteral(n.term().Lexical), nil
	}
	return rdf.NewLiteral(lit.Lexical), nil
}

func castBoolean(t rdf.Term) (rdf.Term, error) {
	lit, ok := castSource(t)
	if !ok {
		return nil, errNoValue
	}
	if n, ok := toNumber(lit); ok {
		return boolTerm(n.sign() != 0 && !n.isNaN()), nil
	}
	if lit.IsPlain() || lit.Datatype == rdf.XSDBoolean {
		if b, ok := parseBoolean(lit.Lexical); ok {
			return boolTerm(b), nil
		}
	}
	return nil, errNoValue
}

func castInteger(t rdf.Term) (rdf.Term, error) {
	lit, ok := castSource(t)
	if !ok {
		return nil, errNoValue
	}
	if lit.Datatype == rdf.XSDBoolean {
		b, ok := parseBoolean(lit.Lexical)
		if !ok {
			return nil, errNoValue
		}
		if b {
			return integerNumber(1).term(), nil
		}
		return integerNumber(0).term(), nil
	}
	if lit.IsPlain() {
		lit = rdf.NewTypedLiteral(lit.Lexical, rdf.XSDInteger)
	}
	n, ok := toNumber(lit)
	if !ok || n.isNaN() || math.IsInf(n.float(), 0) {
		return nil, errNoValue
	}
	switch n.kind {
	case numInteger:
		return n.term(), nil
	case numFloat, numDouble:
		n = number{kind: numDecimal, r: n.rat()}
	}
	q := new(big.Int).Quo(n.r.Num(), n.r.Denom())
	if q.IsInt64() {
		return integerNumber(q.Int64()).term(), nil
	}
	return rdf.NewTypedLiteral(q.String(), rdf.XSDInteger), nil
}

func castDecimal(t rdf.Term) (rdf.Term, error) {
	lit, ok := castSource(t)
	if !ok {
		return nil, errNoValue
	}
	if lit.Datatype == rdf.XSDBoolean {
		b, ok := parseBoolean(lit.Lexical)
		if !ok {
			return nil, errNoValue
		}
		if b {
			return rdf.NewTypedLiteral("1.0", rdf.XSDDecimal), nil
		}
		return rdf.NewTypedLiteral("0.0", rdf.XSDDecimal), nil
	}
	if lit.IsPlain() {
		lit = rdf.NewTypedLiteral(lit.Lexical, rdf.XSDDecimal)
	}
	n, ok := toNumber(lit)
	if !ok || n.isNaN() || math.IsInf(n.float(), 0) {
		return nil, errNoValue
	}
	return number{kind: numDecimal, r: n.rat()}.term(), nil
}

func castFloating(kind numKind) castFunc {
	return func(t rdf.Term) (rdf.Term, error) {
		lit, ok := castSource(t)
		if !ok {
			return nil, errNoValue
		}
		var f float64
		switch {
		case lit.Datatype == rdf.XSDBoolean:
			b, ok := parseBoolean(lit.Lexical)
			if !ok {
				return nil, errNoValue
			}
			if b {
				f = 1
			}
		case lit.IsPlain():
			if f, ok = parseXSDFloat(strings.TrimSpace(lit.Lexical)); !ok {
				return nil, errNoValue
			}
		default:
			n, ok := toNumber(lit)
			if !ok {
				return nil, errNoValue
			}
			f = n.float()
		}
		if kind == numFloat {
			f = float64(float32(f))
		}
		return number{kind: kind, f: f}.term(), nil
	}
}

func castDateTime(t rdf.Term) (rdf.Term, error) {
	lit, ok := castSource(t)
	if !ok {
		return nil, errNoValue
	}
	switch {
	case lit.Datatype == rdf.XSDDateTime:
		return lit, nil
	case lit.Datatype == rdf.XSDDate:
		tm, hasTZ, ok := parseDateTime(lit)
		if !ok {
			return nil, errNoValue
		}
		lex := tm.Format("2006-01-02T15:04:05")
		if hasTZ {
			lex += tzLexical(tm)
		}
		return rdf.NewTypedLiteral(lex, rdf.XSDDateTime), nil
	case lit.IsPlain():
		candidate := rdf.NewTypedLiteral(strings.TrimSpace(lit.Lexical), rdf.XSDDateTime)
		if _, _, ok := parseDateTime(candidate); ok {
			return candidate, nil
		}
	}
	return nil, errNoValue
}

func castDate(t rdf.Term) (rdf.Term, error) {
	lit, ok := castSource(t)
	if !ok {
		return nil, errNoValue
	}
	switch {
	case lit.Datatype == rdf.XSDDate:
		return lit, nil
	case lit.Datatype == rdf.XSDDateTime:
		tm, hasTZ, ok := parseDateTime(lit)
		if !ok {
			return nil, errNoValue
		}
		lex := tm.Format("2006-01-02")
		if hasTZ {
			lex += tzLexical(tm)
		}
		return rdf.NewTypedLiteral(lex, rdf.XSDDate), nil
	case lit.IsPlain():
		candidate := rdf.NewTypedLiteral(strings.TrimSpace(lit.Lexical), rdf.XSDDate)
		if _, _, ok := parseDateTime(candidate); ok {
			return candidate, nil
		}
	}
	return nil, errNoValue
}

func tzLexical(t time.Time) string {
	if _, offset := t.Zone(); offset == 0 {
		return "Z"
	}
	return t.Format("-07:00")
}
