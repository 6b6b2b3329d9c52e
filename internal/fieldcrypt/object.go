package fieldcrypt

import (
	"errors"
	"fmt"
)

// Status describes the outcome of decrypting one field.
type Status string

const (
	StatusDecrypted Status = "decrypted"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// FieldResult reports what DecryptObject did with one listed field. A failed
// field keeps its raw value in the output map.
type FieldResult struct {
	Field  string
	Status Status
	Err    error
}

// EncryptObject returns a copy of obj with every listed string field sealed.
// Missing, nil and empty values are left as they are. obj is not modified.
func (e *Engine) EncryptObject(obj map[string]any, fields []string) (map[string]any, error) {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, f := range fields {
		v, ok := out[f]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s is %T", ErrNotString, f, v)
		}
		sealed, err := e.Encrypt(s)
		if err != nil {
			return nil, fmt.Errorf("fieldcrypt: encrypt %s: %w", f, err)
		}
		out[f] = sealed
	}
	return out, nil
}

// DecryptObject returns a copy of obj with every listed field opened. It never
// stops at a failing field; each listed field gets one FieldResult.
func (e *Engine) DecryptObject(obj map[string]any, fields []string) (map[string]any, []FieldResult) {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	results := make([]FieldResult, 0, len(fields))
	for _, f := range fields {
		v, ok := out[f]
		s, isString := v.(string)
		if !ok || !isString || s == "" {
			results = append(results, FieldResult{Field: f, Status: StatusSkipped})
			continue
		}
		plain, err := e.Decrypt(s)
		if err != nil {
			cause := err
			var de *DecryptError
			if errors.As(err, &de) {
				cause = de.Err
			}
			results = append(results, FieldResult{Field: f, Status: StatusFailed, Err: &DecryptError{Field: f, Err: cause}})
			continue
		}
		out[f] = plain
		results = append(results, FieldResult{Field: f, Status: StatusDecrypted})
	}
	return out, results
}
