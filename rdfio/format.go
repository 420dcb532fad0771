// Package rdfio connects the store to RDF serializations. It ships N-Triples
// and N-Quads codecs and a registry other codecs plug into.
package rdfio

import (
	"io"
	"mime"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

// Format describes an RDF serialization.
type Format struct {
	Name       string
	MediaType  string
	Extensions []string
	// Dataset is true for formats that carry graph names (N-Quads, TriG).
	Dataset bool
}

func (f Format) String() string { return f.Name }

// IsZero reports whether f is the zero Format.
func (f Format) IsZero() bool { return f.Name == "" }

// Built-in formats
var (
	NTriples = Format{Name: "N-Triples", MediaType: "application/n-triples", Extensions: []string{"nt"}}
	NQuads   = Format{Name: "N-Quads", MediaType: "application/n-quads", Extensions: []string{"nq"}, Dataset: true}
)

// Decoder yields parsed quads. Next returns io.EOF at the end of input.
// After a syntax error a decoder resumes at the next statement, so callers
// may skip bad statements by calling Next again.
type Decoder interface {
	Next() (rdf.Quad, error)
}

// Encoder writes quads. Close flushes buffered output.
type Encoder interface {
	Encode(q rdf.Quad) error
	Close() error
}

// DecoderOptions configures a decoder.
type DecoderOptions struct {
	// BaseIRI resolves relative IRIs.
	BaseIRI string
}

// DecoderFactory creates a decoder reading from r.
type DecoderFactory func(r io.Reader, opts DecoderOptions) Decoder

// EncoderFactory creates an encoder writing to w.
type EncoderFactory func(w io.Writer) Encoder

type codec struct {
	format Format
	dec    DecoderFactory
	enc    EncoderFactory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]codec{}
)

func init() {
	Register(NTriples, newNTriplesDecoder, newNTriplesEncoder)
	Register(NQuads, newNQuadsDecoder, newNQuadsEncoder)
}

// Register makes a codec available under its format name. Either factory may
// be nil for read-only or write-only codecs. Registering a name again
// replaces the previous codec.
func Register(f Format, dec DecoderFactory, enc EncoderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(f.Name)] = codec{format: f, dec: dec, enc: enc}
}

// Formats lists the registered formats sorted by name.
func Formats() []Format {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Format, 0, len(registry))
	for _, c := range registry {
		out = append(out, c.format)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a format by name, media type or file extension.
func Lookup(key string) (Format, bool) {
	if f, ok := FormatFromMediaType(key); ok {
		return f, true
	}
	if f, ok := FormatFromExtension(key); ok {
		return f, true
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[strings.ToLower(strings.TrimSpace(key))]
	return c.format, ok
}

// FormatFromMediaType finds a format by media type, ignoring parameters.
func FormatFromMediaType(mediaType string) (Format, bool) {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return Format{}, false
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, c := range registry {
		if strings.EqualFold(c.format.MediaType, mt) {
			return c.format, true
		}
	}
	return Format{}, false
}

// FormatFromExtension finds a format by file extension or file name.
func FormatFromExtension(name string) (Format, bool) {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" {
		ext = name
	}
	ext = strings.ToLower(ext)
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, c := range registry {
		for _, e := range c.format.Extensions {
			if e == ext {
				return c.format, true
			}
		}
	}
	return Format{}, false
}

// NewDecoder creates a decoder for f. Unknown formats are constraint errors.
func NewDecoder(f Format, r io.Reader, opts DecoderOptions) (Decoder, error) {
	registryMu.RLock()
	c, ok := registry[strings.ToLower(f.Name)]
	registryMu.RUnlock()
	if !ok || c.dec == nil {
		return nil, errors.NewConstraintError("not supported RDF format for parsing: %q", f.Name)
	}
	return c.dec(r, opts), nil
}

// NewEncoder creates an encoder for f. Unknown formats are constraint errors.
func NewEncoder(f Format, w io.Writer) (Encoder, error) {
	registryMu.RLock()
	c, ok := registry[strings.ToLower(f.Name)]
	registryMu.RUnlock()
	if !ok || c.enc == nil {
		return nil, errors.NewConstraintError("not supported RDF format for serialization: %q", f.Name)
	}
	return c.enc(w), nil
}

// ReadAll decodes every quad of r. The first error stops decoding.
func ReadAll(f Format, r io.Reader, opts DecoderOptions) ([]rdf.Quad, error) {
	dec, err := NewDecoder(f, r, opts)
	if err != nil {
		return nil, err
	}
	var out []rdf.Quad
	for {
		q, err := dec.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, q)
	}
}
