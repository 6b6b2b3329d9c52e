package account

import (
	"strings"
)

const (
	MaskEmail   = "email"
	MaskPhone   = "phone"
	MaskGeneric = "generic"
)

// Mask hides a value for display. Email keeps the first character of the
// local part and the whole domain; phone keeps the last four characters;
// anything else keeps its first character.
func Mask(value, kind string) string {
	if value == "" {
		return ""
	}
	switch kind {
	case MaskEmail:
		local, domain, ok := strings.Cut(value, "@")
		if !ok || local == "" {
			return maskGeneric(value)
		}
		stars := len([]rune(local)) - 2
		if stars < 1 {
			stars = 1
		}
		return string([]rune(local)[:1]) + strings.Repeat("*", stars) + "@" + domain
	case MaskPhone:
		runes := []rune(value)
		if len(runes) <= 4 {
			return strings.Repeat("*", len(runes))
		}
		return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
	default:
		return maskGeneric(value)
	}
}

func maskGeneric(value string) string {
	runes := []rune(value)
	if len(runes) <= 1 {
		return "*"
	}
	return string(runes[:1]) + strings.Repeat("*", len(runes)-1)
}

func maskKind(path string) string {
	switch path {
	case "email":
		return MaskEmail
	case "phone":
		return MaskPhone
	}
	return MaskGeneric
}

// MaskAccount returns a display copy with every sensitive path masked. Custom
// field values are hidden while keeping their keys.
func MaskAccount(a Account, p Policy) Account {
	out := a.Clone()
	if p.IsSensitive("email") {
		out.Email = Mask(out.Email, MaskEmail)
	}
	if p.IsSensitive("phone") {
		out.Phone = Mask(out.Phone, MaskPhone)
	}
	if p.IsSensitive("website") {
		out.Website = Mask(out.Website, MaskGeneric)
	}
	maskAddress(out.BillingAddress, "billing_address", p)
	maskAddress(out.ShippingAddress, "shipping_address", p)
	if p.IsSensitive("custom_fields") && out.CustomFields != nil {
		for k := range out.CustomFields {
			out.CustomFields[k] = "****"
		}
	}
	return out
}

func maskAddress(addr *Address, prefix string, p Policy) {
	if addr == nil {
		return
	}
	for _, f := range addressSubfields {
		path := prefix + "." + f
		if !p.IsSensitive(path) {
			continue
		}
		if field := addressField(addr, f); field != nil {
			*field = Mask(*field, maskKind(path))
		}
	}
}
