package rdf

import (
	"net/url"
	"strings"
)

// ResolveIRI resolves ref against base per RFC 3986. An empty base leaves
// ref unchanged; an absolute ref is returned as is.
func ResolveIRI(base, ref string) (string, error) {
	if base == "" || IsAbsoluteIRI(ref) {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// IsAbsoluteIRI reports whether s starts with a scheme.
func IsAbsoluteIRI(s string) bool {
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return false
	}
	for j := 0; j < i; j++ {
		c := s[j]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case j > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
