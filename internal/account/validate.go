package account

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[0-9+\-(). ]{7,20}$`)
)

// Normalize trims attributes, lower-cases tags and drops empty addresses.
func (a *Account) Normalize() {
	a.Name = strings.TrimSpace(a.Name)
	a.Industry = Industry(strings.TrimSpace(strings.ToLower(string(a.Industry))))
	a.Type = Type(strings.TrimSpace(strings.ToLower(string(a.Type))))
	a.Status = Status(strings.TrimSpace(strings.ToLower(string(a.Status))))
	a.Email = strings.TrimSpace(strings.ToLower(a.Email))
	a.Phone = strings.TrimSpace(a.Phone)
	a.Website = strings.TrimSpace(a.Website)
	a.BillingAddress = normalizeAddress(a.BillingAddress)
	a.ShippingAddress = normalizeAddress(a.ShippingAddress)
	a.Tags = dedupeTags(a.Tags)
}

// Validate checks the account invariants and reports every violation at once.
func (a Account) Validate() error {
	verr := &ValidationError{}
	if a.Name == "" {
		verr.add("name", "is required")
	}
	switch {
	case a.Industry == "":
		verr.add("industry", "is required")
	case !slices.Contains(industries, a.Industry):
		verr.add("industry", "unsupported value "+string(a.Industry))
	}
	switch {
	case a.Type == "":
		verr.add("type", "is required")
	case !slices.Contains(types, a.Type):
		verr.add("type", "unsupported value "+string(a.Type))
	}
	switch {
	case a.Status == "":
		verr.add("status", "is required")
	case !slices.Contains(statuses, a.Status):
		verr.add("status", "unsupported value "+string(a.Status))
	}
	if a.Email != "" && !emailPattern.MatchString(a.Email) {
		verr.add("email", "must be a valid email address")
	}
	if a.Phone != "" && !validPhone(a.Phone) {
		verr.add("phone", "must be a valid phone number")
	}
	if a.Website != "" && !validWebsite(a.Website) {
		verr.add("website", "must be an absolute http(s) URL")
	}
	validateAddress(verr, "billing_address", a.BillingAddress)
	validateAddress(verr, "shipping_address", a.ShippingAddress)
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func validateAddress(verr *ValidationError, field string, addr *Address) {
	if addr == nil {
		return
	}
	if missing := addr.Missing(); len(missing) > 0 {
		verr.add(field, "missing "+strings.Join(missing, ", "))
	}
}

func validPhone(p string) bool {
	if !phonePattern.MatchString(p) {
		return false
	}
	digits := 0
	for _, r := range p {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 7
}

func validWebsite(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func normalizeAddress(a *Address) *Address {
	if a == nil {
		return nil
	}
	out := Address{
		Street:     strings.TrimSpace(a.Street),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
	if out.IsEmpty() {
		return nil
	}
	return &out
}

func dedupeTags(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
