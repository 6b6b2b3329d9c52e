package account

import (
	"slices"
	"strings"
)

// Policy is the single list of attribute paths treated as sensitive. The
// orchestrator encrypts exactly these paths and the masking helpers hide them.
type Policy struct {
	Fields []string
}

var addressSubfields = []string{"street", "city", "state", "postal_code", "country"}

// DefaultPolicy covers contact details, both addresses and the custom field blob.
func DefaultPolicy() Policy {
	fields := []string{"email", "phone"}
	for _, prefix := range []string{"billing_address", "shipping_address"} {
		for _, f := range addressSubfields {
			fields = append(fields, prefix+"."+f)
		}
	}
	fields = append(fields, "custom_fields")
	return Policy{Fields: fields}
}

// IsSensitive reports whether path, or any path beneath it, is listed.
func (p Policy) IsSensitive(path string) bool {
	if slices.Contains(p.Fields, path) {
		return true
	}
	for _, f := range p.Fields {
		if strings.HasPrefix(f, path+".") {
			return true
		}
	}
	return false
}

// Paths returns a copy of the listed paths.
func (p Policy) Paths() []string {
	return append([]string(nil), p.Fields...)
}
