package sparql

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/quadstore/rdf"
)

// exprError is a SPARQL expression error: the expression has no value for
// this row. It never escapes the evaluator.
type exprError struct{ msg string }

func (e *exprError) Error() string { return e.msg }

var errNoValue = &exprError{msg: "expression has no value"}

func isExprError(err error) bool {
	_, ok := err.(*exprError)
	return ok
}

type numKind int

const (
	numInteger numKind = iota
	numDecimal
	numFloat
	numDouble
)

// number is a parsed numeric literal. Integers that overflow int64 keep
// their integer kind and are carried exactly in r.
type number struct {
	kind numKind
	i    int64
	r    *big.Rat
	f    float64
}

var integerTypes = map[string]bool{
	rdf.XSDInteger.Value: true, rdf.XSDLong.Value: true, rdf.XSDInt.Value: true,
	rdf.XSDShort.Value: true, rdf.XSDByte.Value: true,
	rdf.XSDNonNegativeInteger.Value: true, rdf.XSDPositiveInteger.Value: true,
	rdf.XSDNonPositiveInteger.Value: true, rdf.XSDNegativeInteger.Value: true,
	rdf.XSDUnsignedLong.Value: true, rdf.XSDUnsignedInt.Value: true,
	rdf.XSDUnsignedShort.Value: true, rdf.XSDUnsignedByte.Value: true,
}

func isNumericDatatype(dt rdf.IRI) bool {
	return integerTypes[dt.Value] || dt == rdf.XSDDecimal || dt == rdf.XSDFloat || dt == rdf.XSDDouble
}

func literalOf(t rdf.Term) (rdf.Literal, bool) {
	switch v := t.(type) {
	case rdf.Literal:
		return v, true
	case *rdf.Literal:
		return *v, true
	}
	return rdf.Literal{}, false
}

// toNumber parses a numeric literal. Ill-typed lexical forms are not numbers.
func toNumber(t rdf.Term) (number, bool) {
	lit, ok := literalOf(t)
	if !ok {
		return number{}, false
	}
	lex := strings.TrimSpace(lit.Lexical)
	switch {
	case integerTypes[lit.Datatype.Value]:
		if i, err := strconv.ParseInt(strings.TrimPrefix(lex, "+"), 10, 64); err == nil {
			return number{kind: numInteger, i: i}, true
		}
		if r, ok := new(big.Rat).SetString(lex); ok && r.IsInt() && !strings.ContainsAny(lex, ".eE/") {
			return bigInteger(r), true
		}
	case lit.Datatype == rdf.XSDDecimal:
		if strings.ContainsAny(lex, "eE/") || lex == "" {
			return number{}, false
		}
		if r, ok := new(big.Rat).SetString(lex); ok {
			return number{kind: numDecimal, r: r}, true
		}
	case lit.Datatype == rdf.XSDFloat || lit.Datatype == rdf.XSDDouble:
		f, ok := parseXSDFloat(lex)
		if !ok {
			return number{}, false
		}
		kind := numDouble
		if lit.Datatype == rdf.XSDFloat {
			kind = numFloat
			f = float64(float32(f))
		}
		return number{kind: kind, f: f}, true
	}
	return number{}, false
}

func parseXSDFloat(lex string) (float64, bool) {
	switch lex {
	case "INF", "+INF":
		return math.Inf(1), true
	case "-INF":
		return math.Inf(-1), true
	case "NaN":
		return math.NaN(), true
	}
	lower := strings.ToLower(lex)
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") || strings.HasPrefix(lower, "0x") {
		return 0, false
	}
	f, err := strconv.ParseFloat(lex, 64)
	return f, err == nil
}

func (n number) rat() *big.Rat {
	switch n.kind {
	case numInteger:
		if n.r != nil {
			return n.r
		}
		return new(big.Rat).SetInt64(n.i)
	case numDecimal:
		return n.r
	}
	r, _ := new(big.Rat).SetString(strconv.FormatFloat(n.f, 'g', -1, 64))
	return r
}

func (n number) float() float64 {
	switch n.kind {
	case numInteger:
		if n.r != nil {
			f, _ := n.r.Float64()
			return f
		}
		return float64(n.i)
	case numDecimal:
		f, _ := n.r.Float64()
		return f
	}
	return n.f
}

func (n number) sign() int {
	switch n.kind {
	case numInteger:
		if n.r != nil {
			return n.r.Sign()
		}
		switch {
		case n.i > 0:
			return 1
		case n.i < 0:
			return -1
		}
		return 0
	case numDecimal:
		return n.r.Sign()
	}
	switch {
	case n.f > 0:
		return 1
	case n.f < 0:
		return -1
	}
	return 0
}

func (n number) isNaN() bool {
	return (n.kind == numFloat || n.kind == numDouble) && math.IsNaN(n.f)
}

func maxKind(a, b numKind) numKind {
	if a > b {
		return a
	}
	return b
}

func (n number) term() rdf.Literal {
	switch n.kind {
	case numInteger:
		if n.r != nil {
			return rdf.NewTypedLiteral(n.r.Num().String(), rdf.XSDInteger)
		}
		return rdf.NewTypedLiteral(strconv.FormatInt(n.i, 10), rdf.XSDInteger)
	case numDecimal:
		return rdf.NewTypedLiteral(formatDecimal(n.r), rdf.XSDDecimal)
	case numFloat:
		return rdf.NewTypedLiteral(formatDouble(n.f), rdf.XSDFloat)
	}
	return rdf.NewTypedLiteral(formatDouble(n.f), rdf.XSDDouble)
}

func integerNumber(i int64) number { return number{kind: numInteger, i: i} }

// bigInteger returns the integer r, which must be integral, using the int64
// form when it fits.
func bigInteger(r *big.Rat) number {
	if r.Num().IsInt64() {
		return integerNumber(r.Num().Int64())
	}
	return number{kind: numInteger, r: r}
}

func doubleNumber(f float64) number { return number{kind: numDouble, f: f} }

// formatDecimal writes r in canonical xsd:decimal form with at most 18
// fractional digits.
func formatDecimal(r *big.Rat) string {
	s := r.FloatString(18)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		if strings.HasSuffix(s, ".") {
			s += "0"
		}
	}
	if s == "-0.0" {
		s = "0.0"
	}
	return s
}

// formatDouble writes f in canonical xsd:double form, e.g. 1.5E1.
func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0E0"
		}
		return "0.0E0"
	}
	s := strconv.FormatFloat(f, 'E', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	e, _ := strconv.Atoi(exp)
	return mantissa + "E" + strconv.Itoa(e)
}

func arithmetic(op byte, a, b number) (number, error) {
	kind := maxKind(a.kind, b.kind)
	if op == '/' && kind == numInteger {
		kind = numDecimal
	}
	switch kind {
	case numInteger:
		if n, ok := smallArithmetic(op, a, b); ok {
			return n, nil
		}
		return exactArithmetic(op, a, b)
	case numDecimal:
		return exactArithmetic(op, a, b)
	}
	x, y := a.float(), b.float()
	var f float64
	switch op {
	case '+':
		f = x + y
	case '-':
		f = x - y
	case '*':
		f = x * y
	case '/':
		f = x / y
	}
	if kind == numFloat {
		f = float64(float32(f))
	}
	return number{kind: kind, f: f}, nil
}

// smallArithmetic applies op to two int64 integers; ok is false on overflow.
func smallArithmetic(op byte, a, b number) (number, bool) {
	if a.r != nil || b.r != nil {
		return number{}, false
	}
	x, y := a.i, b.i
	switch op {
	case '+':
		if s := x + y; (s > x) == (y > 0) {
			return integerNumber(s), true
		}
	case '-':
		if d := x - y; (d < x) == (y > 0) {
			return integerNumber(d), true
		}
	case '*':
		if x == 0 || y == 0 {
			return integerNumber(0), true
		}
		if p := x * y; p/y == x && !(x == -1 && y == math.MinInt64) && !(y == -1 && x == math.MinInt64) {
			return integerNumber(p), true
		}
	}
	return number{}, false
}

// exactArithmetic computes op with arbitrary precision. Integer operands
// other than division give an integer.
func exactArithmetic(op byte, a, b number) (number, error) {
	x, y := a.rat(), b.rat()
	r := new(big.Rat)
	switch op {
	case '+':
		r.Add(x, y)
	case '-':
		r.Sub(x, y)
	case '*':
		r.Mul(x, y)
	case '/':
		if y.Sign() == 0 {
			return number{}, errNoValue
		}
		r.Quo(x, y)
	}
	if a.kind == numInteger && b.kind == numInteger && op != '/' {
		return bigInteger(r), nil
	}
	return number{kind: numDecimal, r: r}, nil
}

// compareNumbers returns -1, 0 or 1; ok is false when either side is NaN.
func compareNumbers(a, b number) (int, bool) {
	if a.isNaN() || b.isNaN() {
		return 0, false
	}
	kind := maxKind(a.kind, b.kind)
	switch kind {
	case numInteger:
		if a.r != nil || b.r != nil {
			return a.rat().Cmp(b.rat()), true
		}
		switch {
		case a.i < b.i:
			return -1, true
		case a.i > b.i:
			return 1, true
		}
		return 0, true
	case numDecimal:
		return a.rat().Cmp(b.rat()), true
	}
	x, y := a.float(), b.float()
	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	}
	return 0, true
}

// Literal helpers

func boolTerm(b bool) rdf.Literal {
	if b {
		return rdf.True
	}
	return rdf.False
}

func parseBoolean(lex string) (bool, bool) {
	switch strings.TrimSpace(lex) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}

// ebv computes the effective boolean value.
func ebv(t rdf.Term) (bool, error) {
	lit, ok := literalOf(t)
	if !ok {
		return false, errNoValue
	}
	switch {
	case lit.Datatype == rdf.XSDBoolean:
		b, ok := parseBoolean(lit.Lexical)
		if !ok {
			return false, nil
		}
		return b, nil
	case lit.IsPlain():
		return lit.Lexical != "", nil
	case isNumericDatatype(lit.Datatype):
		n, ok := toNumber(lit)
		if !ok {
			return false, nil
		}
		return n.sign() != 0 && !n.isNaN(), nil
	}
	return false, errNoValue
}

// isStringLiteral reports a simple or language-tagged string.
func isStringLiteral(t rdf.Term) (rdf.Literal, bool) {
	lit, ok := literalOf(t)
	if !ok {
		return lit, false
	}
	return lit, lit.IsPlain() || lit.Lang != ""
}

func parseDateTime(t rdf.Term) (time.Time, bool, bool) {
	lit, ok := literalOf(t)
	if !ok || lit.Datatype != rdf.XSDDateTime && lit.Datatype != rdf.XSDDate {
		return time.Time{}, false, false
	}
	lex := strings.TrimSpace(lit.Lexical)
	hasTZ := strings.HasSuffix(lex, "Z") || tzSuffix(lex)
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"}
	if lit.Datatype == rdf.XSDDate {
		layouts = []string{"2006-01-02Z07:00", "2006-01-02"}
	}
	for _, layout := range layouts {
		if tm, err := time.Parse(layout, lex); err == nil {
			return tm, hasTZ, true
		}
	}
	return time.Time{}, false, false
}

func tzSuffix(lex string) bool {
	if len(lex) < 6 {
		return false
	}
	s := lex[len(lex)-6:]
	return (s[0] == '+' || s[0] == '-') && s[3] == ':'
}

// equalTerms implements the SPARQL = operator. ok is false when the
// comparison is a type error.
func equalTerms(a, b rdf.Term) (bool, error) {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			c, ok := compareNumbers(na, nb)
			return ok && c == 0, nil
		}
	}
	la, aLit := literalOf(a)
	lb, bLit := literalOf(b)
	if aLit && bLit {
		switch {
		case la.IsPlain() && lb.IsPlain():
			return la.Lexical == lb.Lexical, nil
		case la.Datatype == rdf.XSDBoolean && lb.Datatype == rdf.XSDBoolean:
			x, ok1 := parseBoolean(la.Lexical)
			y, ok2 := parseBoolean(lb.Lexical)
			if ok1 && ok2 {
				return x == y, nil
			}
		case (la.Datatype == rdf.XSDDateTime) && (lb.Datatype == rdf.XSDDateTime):
			x, xtz, ok1 := parseDateTime(la)
			y, ytz, ok2 := parseDateTime(lb)
			if ok1 && ok2 {
				if xtz != ytz {
					return false, errNoValue
				}
				return x.Equal(y), nil
			}
		}
		if rdf.Equal(a, b) {
			return true, nil
		}
		// Different literals of a known datatype are unequal; unknown
		// datatypes cannot be compared
		if knownDatatype(la) && knownDatatype(lb) {
			return false, nil
		}
		return false, errNoValue
	}
	if ta, ok := a.(rdf.TripleTerm); ok {
		tb, ok := b.(rdf.TripleTerm)
		if !ok {
			return false, nil
		}
		return equalTriples(ta, tb)
	}
	return rdf.Equal(a, b), nil
}

func equalTriples(a, b rdf.TripleTerm) (bool, error) {
	if a.P != b.P {
		return false, nil
	}
	for _, pair := range [][2]rdf.Term{{a.S, b.S}, {a.O, b.O}} {
		eq, err := equalTerms(pair[0], pair[1])
		if err != nil || !eq {
			return eq, err
		}
	}
	return true, nil
}

func knownDatatype(l rdf.Literal) bool {
	return l.IsPlain() || l.Lang != "" || l.Datatype == rdf.XSDBoolean ||
		l.Datatype == rdf.XSDDateTime || isNumericDatatype(l.Datatype)
}

// compareValues implements < and >: it returns -1, 0 or 1, or errNoValue
// for incomparable operands.
func compareValues(a, b rdf.Term) (int, error) {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			c, ok := compareNumbers(na, nb)
			if !ok {
				return 0, errNoValue
			}
			return c, nil
		}
		return 0, errNoValue
	}
	la, aLit := literalOf(a)
	lb, bLit := literalOf(b)
	if !aLit || !bLit {
		return 0, errNoValue
	}
	switch {
	case la.IsPlain() && lb.IsPlain():
		return strings.Compare(la.Lexical, lb.Lexical), nil
	case la.Lang != "" && lb.Lang != "" && la.Lang == lb.Lang:
		return strings.Compare(la.Lexical, lb.Lexical), nil
	case la.Datatype == rdf.XSDBoolean && lb.Datatype == rdf.XSDBoolean:
		x, _ := parseBoolean(la.Lexical)
		y, _ := parseBoolean(lb.Lexical)
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		}
		return 1, nil
	case la.Datatype == lb.Datatype && (la.Datatype == rdf.XSDDateTime || la.Datatype == rdf.XSDDate):
		x, xtz, ok1 := parseDateTime(la)
		y, ytz, ok2 := parseDateTime(lb)
		if !ok1 || !ok2 || xtz != ytz {
			return 0, errNoValue
		}
		return x.Compare(y), nil
	}
	return 0, errNoValue
}

// orderTerms is the total order of ORDER BY: unbound, blank nodes, IRIs,
// literals, triple terms.
func orderTerms(a, b rdf.Term) int {
	rank := func(t rdf.Term) int {
		if t == nil {
			return 0
		}
		switch t.Kind() {
		case rdf.TermBlankNode:
			return 1
		case rdf.TermIRI:
			return 2
		case rdf.TermLiteral:
			return 3
		case rdf.TermTriple:
			return 4
		}
		return 5
	}
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 3:
		if c, err := compareValues(a, b); err == nil && c != 0 {
			return c
		}
		la, _ := literalOf(a)
		lb, _ := literalOf(b)
		if c := strings.Compare(la.Lexical, lb.Lexical); c != 0 {
			return c
		}
		if c := strings.Compare(la.Datatype.Value, lb.Datatype.Value); c != 0 {
			return c
		}
		return strings.Compare(la.Lang+la.Direction, lb.Lang+lb.Direction)
	case 4:
		ta, tb := a.(rdf.TripleTerm), b.(rdf.TripleTerm)
		if c := orderTerms(ta.S, tb.S); c != 0 {
			return c
		}
		if c := strings.Compare(ta.P.Value, tb.P.Value); c != 0 {
			return c
		}
		return orderTerms(ta.O, tb.O)
	}
	return strings.Compare(a.String(), b.String())
}
