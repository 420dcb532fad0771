package sparql

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"io"
	"mime"
	"strings"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
	"github.com/teranos/quadstore/rdfio"
)

// ResultsFormat is a serialization of SELECT and ASK results.
type ResultsFormat struct {
	Name      string
	MediaType string
}

var (
	ResultsJSON  = ResultsFormat{Name: "json", MediaType: "application/sparql-results+json"}
	ResultsXML   = ResultsFormat{Name: "xml", MediaType: "application/sparql-results+xml"}
	ResultsCSV   = ResultsFormat{Name: "csv", MediaType: "text/csv"}
	ResultsTSV   = ResultsFormat{Name: "tsv", MediaType: "text/tab-separated-values"}
	ResultsTable = ResultsFormat{Name: "table", MediaType: "text/plain"}
)

var resultsFormats = []ResultsFormat{ResultsJSON, ResultsXML, ResultsCSV, ResultsTSV, ResultsTable}

// ResultsFormatFromMediaType looks a format up by media type, ignoring
// parameters, or by its short name.
func ResultsFormatFromMediaType(mediaType string) (ResultsFormat, bool) {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mediaType))
	}
	for _, f := range resultsFormats {
		if f.MediaType == mt || f.Name == mt {
			return f, true
		}
	}
	if mt == "application/json" {
		return ResultsJSON, true
	}
	return ResultsFormat{}, false
}

// WriteResults serializes results to w. Solutions and booleans use f;
// triples use tf, an rdfio format. The results are consumed.
func WriteResults(w io.Writer, results QueryResults, f ResultsFormat, tf rdfio.Format) error {
	switch r := results.(type) {
	case Boolean:
		return WriteBoolean(w, bool(r), f)
	case *Solutions:
		return WriteSolutions(w, r, f)
	case *Triples:
		return WriteTriples(w, r, tf)
	}
	return errors.AssertionFailedf("unknown results type %T", results)
}

// WriteTriples encodes a CONSTRUCT or DESCRIBE result in the default graph.
func WriteTriples(w io.Writer, triples *Triples, f rdfio.Format) error {
	defer triples.Close()
	enc, err := rdfio.NewEncoder(f, w)
	if err != nil {
		return err
	}
	for triples.Next() {
		t := triples.Triple()
		if err := enc.Encode(t.InGraph(rdf.DefaultGraph)); err != nil {
			return errors.NewIOError(err, "writing %s", f)
		}
	}
	if err := triples.Err(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return errors.NewIOError(err, "writing %s", f)
	}
	return nil
}

// WriteBoolean serializes an ASK result.
func WriteBoolean(w io.Writer, value bool, f ResultsFormat) error {
	var err error
	switch f {
	case ResultsJSON:
		err = json.NewEncoder(w).Encode(struct {
			Head    struct{} `json:"head"`
			Boolean bool     `json:"boolean"`
		}{Boolean: value})
	case ResultsXML:
		_, err = io.WriteString(w, xml.Header+`<sparql xmlns="http://www.w3.org/2005/sparql-results#"><head/><boolean>`+
			boolString(value)+"</boolean></sparql>\n")
	case ResultsCSV, ResultsTSV, ResultsTable:
		_, err = io.WriteString(w, boolString(value)+"\n")
	default:
		return errors.NewConstraintError("unsupported results format %q", f.Name)
	}
	if err != nil {
		return errors.NewIOError(err, "writing %s results", f.Name)
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// WriteSolutions serializes a SELECT result, consuming it.
func WriteSolutions(w io.Writer, sols *Solutions, f ResultsFormat) error {
	defer sols.Close()
	var err error
	switch f {
	case ResultsJSON:
		err = writeJSON(w, sols)
	case ResultsXML:
		err = writeXML(w, sols)
	case ResultsCSV:
		err = writeCSV(w, sols)
	case ResultsTSV:
		err = writeTSV(w, sols)
	case ResultsTable:
		err = writeTable(w, sols)
	default:
		return errors.NewConstraintError("unsupported results format %q", f.Name)
	}
	if err != nil {
		if errors.KindOf(err) != errors.KindUnknown {
			return err
		}
		return errors.NewIOError(err, "writing %s results", f.Name)
	}
	return sols.Err()
}

// JSON

type jsonTerm struct {
	Type      string    `json:"type"`
	Value     string    `json:"value,omitempty"`
	Lang      string    `json:"xml:lang,omitempty"`
	Direction string    `json:"its:dir,omitempty"`
	Datatype  string    `json:"datatype,omitempty"`
	Subject   *jsonTerm `json:"subject,omitempty"`
	Predicate *jsonTerm `json:"predicate,omitempty"`
	Object    *jsonTerm `json:"object,omitempty"`
}

func toJSONTerm(t rdf.Term) *jsonTerm {
	switch v := t.(type) {
	case rdf.IRI:
		return &jsonTerm{Type: "uri", Value: v.Value}
	case rdf.BlankNode:
		return &jsonTerm{Type: "bnode", Value: v.ID}
	case rdf.Literal:
		jt := &jsonTerm{Type: "literal", Value: v.Lexical, Lang: v.Lang, Direction: v.Direction}
		if v.Lang == "" && !v.IsPlain() {
			jt.Datatype = v.Datatype.Value
		}
		return jt
	case rdf.TripleTerm:
		return &jsonTerm{Type: "triple", Subject: toJSONTerm(v.S), Predicate: toJSONTerm(v.P), Object: toJSONTerm(v.O)}
	}
	return nil
}

func writeJSON(w io.Writer, sols *Solutions) error {
	bw := bufio.NewWriter(w)
	vars, err := json.Marshal(sols.Variables())
	if err != nil {
		return err
	}
	if vars == nil || string(vars) == "null" {
		vars = []byte("[]")
	}
	bw.WriteString(`{"head":{"vars":`)
	bw.Write(vars)
	bw.WriteString(`},"results":{"bindings":[`)
	first := true
	for sols.Next() {
		s := sols.Solution()
		row := make(map[string]*jsonTerm, s.Len())
		for i, name := range s.Variables() {
			if t := s.At(i); t != nil {
				row[name] = toJSONTerm(t)
			}
		}
		b, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if !first {
			bw.WriteByte(',')
		}
		first = false
		bw.Write(b)
	}
	if err := sols.Err(); err != nil {
		return err
	}
	bw.WriteString("]}}\n")
	return bw.Flush()
}

// XML

func writeXMLTerm(bw *bufio.Writer, t rdf.Term) {
	esc := func(s string) { xml.EscapeText(bw, []byte(s)) }
	switch v := t.(type) {
	case rdf.IRI:
		bw.WriteString("<uri>")
		esc(v.Value)
		bw.WriteString("</uri>")
	case rdf.BlankNode:
		bw.WriteString("<bnode>")
		esc(v.ID)
		bw.WriteString("</bnode>")
	case rdf.Literal:
		bw.WriteString("<literal")
		switch {
		case v.Lang != "":
			bw.WriteString(` xml:lang="`)
			esc(v.Lang)
			bw.WriteByte('"')
			if v.Direction != "" {
				bw.WriteString(` its:dir="`)
				esc(v.Direction)
				bw.WriteByte('"')
			}
		case !v.IsPlain():
			bw.WriteString(` datatype="`)
			esc(v.Datatype.Value)
			bw.WriteByte('"')
		}
		bw.WriteByte('>')
		esc(v.Lexical)
		bw.WriteString("</literal>")
	case rdf.TripleTerm:
		bw.WriteString("<triple><subject>")
		writeXMLTerm(bw, v.S)
		bw.WriteString("</subject><predicate>")
		writeXMLTerm(bw, v.P)
		bw.WriteString("</predicate><object>")
		writeXMLTerm(bw, v.O)
		bw.WriteString("</object></triple>")
	}
}

func writeXML(w io.Writer, sols *Solutions) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(xml.Header)
	bw.WriteString(`<sparql xmlns="http://www.w3.org/2005/sparql-results#" xmlns:its="http://www.w3.org/2005/11/its"><head>`)
	for _, name := range sols.Variables() {
		bw.WriteString(`<variable name="`)
		xml.EscapeText(bw, []byte(name))
		bw.WriteString(`"/>`)
	}
	bw.WriteString("</head><results>")
	for sols.Next() {
		s := sols.Solution()
		bw.WriteString("<result>")
		for i, name := range s.Variables() {
			t := s.At(i)
			if t == nil {
				continue
			}
			bw.WriteString(`<binding name="`)
			xml.EscapeText(bw, []byte(name))
			bw.WriteString(`">`)
			writeXMLTerm(bw, t)
			bw.WriteString("</binding>")
		}
		bw.WriteString("</result>")
	}
	if err := sols.Err(); err != nil {
		return err
	}
	bw.WriteString("</results></sparql>\n")
	return bw.Flush()
}

// CSV and TSV

// csvValue is the lossy plain form of the CSV format.
func csvValue(t rdf.Term) string {
	switch v := t.(type) {
	case nil:
		return ""
	case rdf.IRI:
		return v.Value
	case rdf.BlankNode:
		return "_:" + v.ID
	case rdf.Literal:
		return v.Lexical
	case rdf.TripleTerm:
		return "<< " + csvValue(v.S) + " " + v.P.Value + " " + csvValue(v.O) + " >>"
	}
	return t.String()
}

func writeCSV(w io.Writer, sols *Solutions) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(sols.Variables()); err != nil {
		return err
	}
	for sols.Next() {
		s := sols.Solution()
		record := make([]string, s.Len())
		for i := range record {
			record[i] = csvValue(s.At(i))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	if err := sols.Err(); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// tsvValue writes terms in N-Triples form; integers, decimals and doubles
// keep their bare form.
func tsvValue(t rdf.Term) string {
	if t == nil {
		return ""
	}
	if lit, ok := t.(rdf.Literal); ok {
		switch lit.Datatype {
		case rdf.XSDInteger, rdf.XSDDecimal, rdf.XSDDouble:
			if _, ok := toNumber(lit); ok && lit.Lang == "" && !strings.ContainsAny(lit.Lexical, " \t\n") {
				return lit.Lexical
			}
		}
	}
	return t.String()
}

func writeTSV(w io.Writer, sols *Solutions) error {
	bw := bufio.NewWriter(w)
	for i, name := range sols.Variables() {
		if i > 0 {
			bw.WriteByte('\t')
		}
		bw.WriteString("?" + name)
	}
	bw.WriteByte('\n')
	for sols.Next() {
		s := sols.Solution()
		for i := 0; i < s.Len(); i++ {
			if i > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(tsvValue(s.At(i)))
		}
		bw.WriteByte('\n')
	}
	if err := sols.Err(); err != nil {
		return err
	}
	return bw.Flush()
}

// Text table

func writeTable(w io.Writer, sols *Solutions) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(sols.Variables()))
	for i, name := range sols.Variables() {
		header[i] = "?" + name
	}
	t.AppendHeader(header)
	for sols.Next() {
		s := sols.Solution()
		row := make(table.Row, s.Len())
		for i := range row {
			if v := s.At(i); v != nil {
				row[i] = v.String()
			} else {
				row[i] = ""
			}
		}
		t.AppendRow(row)
	}
	if err := sols.Err(); err != nil {
		return err
	}
	t.Render()
	return nil
}
