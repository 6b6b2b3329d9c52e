package audit

import (
	"strings"
)

// RedactedMarker replaces every sensitive value written to the trail.
const RedactedMarker = "[REDACTED]"

var defaultTerms = []string{
	"password", "secret", "token", "ssn", "dateofbirth", "email", "phone",
	"street", "postalcode", "creditcard", "cardnumber", "cvv", "apikey",
}

// DefaultTerms returns the sensitive name fragments used by NewSanitizer.
func DefaultTerms() []string {
	return append([]string(nil), defaultTerms...)
}

// Sanitizer redacts object members whose key names a sensitive attribute.
type Sanitizer struct {
	terms []string
}

// NewSanitizer builds a sanitizer. With no terms the defaults apply.
func NewSanitizer(terms ...string) *Sanitizer {
	if len(terms) == 0 {
		terms = defaultTerms
	}
	s := &Sanitizer{terms: make([]string, 0, len(terms))}
	for _, t := range terms {
		if t = normalizeKey(t); t != "" {
			s.terms = append(s.terms, t)
		}
	}
	return s
}

// IsSensitive matches key against the terms after lower-casing it and
// dropping separators, so "Postal_Code" and "billing.postalCode" both match.
func (s *Sanitizer) IsSensitive(key string) bool {
	k := normalizeKey(key)
	if k == "" {
		return false
	}
	for _, t := range s.terms {
		if strings.Contains(k, t) {
			return true
		}
	}
	return false
}

// Sanitize returns a redacted copy of v. The input is left untouched.
func (s *Sanitizer) Sanitize(v Value) Value {
	switch x := v.(type) {
	case Object:
		out := make(Object, len(x))
		for k, item := range x {
			if s.IsSensitive(k) {
				out[k] = String(RedactedMarker)
				continue
			}
			out[k] = s.Sanitize(item)
		}
		return out
	case Array:
		out := make(Array, len(x))
		for i, item := range x {
			out[i] = s.Sanitize(item)
		}
		return out
	case nil:
		return Null{}
	default:
		return v
	}
}

var keySeparators = strings.NewReplacer("_", "", "-", "", ".", "", " ", "")

func normalizeKey(key string) string {
	return keySeparators.Replace(strings.ToLower(strings.TrimSpace(key)))
}
