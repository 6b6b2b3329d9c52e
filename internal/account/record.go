package account

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is the at-rest form of an account. Attributes named by the policy
// hold ciphertext tokens once the orchestrator has sealed them, and the custom
// field map travels as one opaque JSON blob.
type Record struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Industry        Industry  `json:"industry"`
	Type            Type      `json:"type"`
	Status          Status    `json:"status"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Website         string    `json:"website,omitempty"`
	BillingAddress  *Address  `json:"billing_address,omitempty"`
	ShippingAddress *Address  `json:"shipping_address,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	CustomFields    string    `json:"custom_fields,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedBy       string    `json:"updated_by"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ToRecord serializes a into its at-rest shape without encrypting anything.
func ToRecord(a Account) (Record, error) {
	r := Record{
		ID:              a.ID,
		Name:            a.Name,
		Industry:        a.Industry,
		Type:            a.Type,
		Status:          a.Status,
		Email:           a.Email,
		Phone:           a.Phone,
		Website:         a.Website,
		BillingAddress:  copyAddress(a.BillingAddress),
		ShippingAddress: copyAddress(a.ShippingAddress),
		Tags:            append([]string(nil), a.Tags...),
		CreatedBy:       a.CreatedBy,
		CreatedAt:       a.CreatedAt,
		UpdatedBy:       a.UpdatedBy,
		UpdatedAt:       a.UpdatedAt,
	}
	if len(a.CustomFields) > 0 {
		blob, err := json.Marshal(a.CustomFields)
		if err != nil {
			return Record{}, fmt.Errorf("%w: custom_fields: %v", ErrInvalid, err)
		}
		r.CustomFields = string(blob)
	}
	return r, nil
}

// ToAccount parses the record back into the plaintext view. The record must
// already be decrypted.
func (r Record) ToAccount() (Account, error) {
	a := Account{
		ID:              r.ID,
		Name:            r.Name,
		Industry:        r.Industry,
		Type:            r.Type,
		Status:          r.Status,
		Email:           r.Email,
		Phone:           r.Phone,
		Website:         r.Website,
		BillingAddress:  copyAddress(r.BillingAddress),
		ShippingAddress: copyAddress(r.ShippingAddress),
		Tags:            append([]string(nil), r.Tags...),
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedBy:       r.UpdatedBy,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.CustomFields != "" {
		if err := json.Unmarshal([]byte(r.CustomFields), &a.CustomFields); err != nil {
			return Account{}, fmt.Errorf("decode custom_fields: %w", err)
		}
	}
	return a, nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.BillingAddress = copyAddress(r.BillingAddress)
	out.ShippingAddress = copyAddress(r.ShippingAddress)
	out.Tags = append([]string(nil), r.Tags...)
	return out
}

// SensitiveValues returns the values at every policy path. Absent values map
// to nil so field-level transforms can skip them.
func (r Record) SensitiveValues(p Policy) map[string]any {
	out := make(map[string]any, len(p.Fields))
	for _, path := range p.Fields {
		v, ok := r.get(path)
		if !ok {
			continue
		}
		if v == "" {
			out[path] = nil
			continue
		}
		out[path] = v
	}
	return out
}

// ApplySensitiveValues writes string values back to their paths.
func (r *Record) ApplySensitiveValues(values map[string]any) {
	for path, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		r.set(path, s)
	}
}

func (r Record) get(path string) (string, bool) {
	switch path {
	case "email":
		return r.Email, true
	case "phone":
		return r.Phone, true
	case "website":
		return r.Website, true
	case "custom_fields":
		return r.CustomFields, true
	}
	prefix, field, ok := strings.Cut(path, ".")
	if !ok {
		return "", false
	}
	addr := r.address(prefix)
	if addr == nil {
		return "", prefix == "billing_address" || prefix == "shipping_address"
	}
	p := addressField(addr, field)
	if p == nil {
		return "", false
	}
	return *p, true
}

func (r *Record) set(path, value string) {
	switch path {
	case "email":
		r.Email = value
		return
	case "phone":
		r.Phone = value
		return
	case "website":
		r.Website = value
		return
	case "custom_fields":
		r.CustomFields = value
		return
	}
	prefix, field, ok := strings.Cut(path, ".")
	if !ok {
		return
	}
	addr := r.address(prefix)
	if addr == nil {
		return
	}
	if p := addressField(addr, field); p != nil {
		*p = value
	}
}

func (r *Record) address(name string) *Address {
	switch name {
	case "billing_address":
		return r.BillingAddress
	case "shipping_address":
		return r.ShippingAddress
	}
	return nil
}

func addressField(a *Address, name string) *string {
	switch name {
	case "street":
		return &a.Street
	case "city":
		return &a.City
	case "state":
		return &a.State
	case "postal_code":
		return &a.PostalCode
	case "country":
		return &a.Country
	}
	return nil
}
