package rdf

// Namespaces
const (
	RDFNamespace = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	XSDNamespace = "http://www.w3.org/2001/XMLSchema#"
)

// RDF vocabulary
var (
	RDFType          = IRI{Value: RDFNamespace + "type"}
	RDFLangString    = IRI{Value: RDFNamespace + "langString"}
	RDFDirLangString = IRI{Value: RDFNamespace + "dirLangString"}
	RDFReifies       = IRI{Value: RDFNamespace + "reifies"}
	RDFNil           = IRI{Value: RDFNamespace + "nil"}
	RDFFirst         = IRI{Value: RDFNamespace + "first"}
	RDFRest          = IRI{Value: RDFNamespace + "rest"}
)

// XSD datatypes
var (
	XSDString             = IRI{Value: XSDNamespace + "string"}
	XSDBoolean            = IRI{Value: XSDNamespace + "boolean"}
	XSDInteger            = IRI{Value: XSDNamespace + "integer"}
	XSDDecimal            = IRI{Value: XSDNamespace + "decimal"}
	XSDFloat              = IRI{Value: XSDNamespace + "float"}
	XSDDouble             = IRI{Value: XSDNamespace + "double"}
	XSDDateTime           = IRI{Value: XSDNamespace + "dateTime"}
	XSDDate               = IRI{Value: XSDNamespace + "date"}
	XSDDayTimeDuration    = IRI{Value: XSDNamespace + "dayTimeDuration"}
	XSDLong               = IRI{Value: XSDNamespace + "long"}
	XSDInt                = IRI{Value: XSDNamespace + "int"}
	XSDShort              = IRI{Value: XSDNamespace + "short"}
	XSDByte               = IRI{Value: XSDNamespace + "byte"}
	XSDNonNegativeInteger = IRI{Value: XSDNamespace + "nonNegativeInteger"}
	XSDPositiveInteger    = IRI{Value: XSDNamespace + "positiveInteger"}
	XSDNonPositiveInteger = IRI{Value: XSDNamespace + "nonPositiveInteger"}
	XSDNegativeInteger    = IRI{Value: XSDNamespace + "negativeInteger"}
	XSDUnsignedLong       = IRI{Value: XSDNamespace + "unsignedLong"}
	XSDUnsignedInt        = IRI{Value: XSDNamespace + "unsignedInt"}
	XSDUnsignedShort      = IRI{Value: XSDNamespace + "unsignedShort"}
	XSDUnsignedByte       = IRI{Value: XSDNamespace + "unsignedByte"}
)

// Literal shortcuts
var (
	True  = Literal{Lexical: "true", Datatype: XSDBoolean}
	False = Literal{Lexical: "false", Datatype: XSDBoolean}
)
