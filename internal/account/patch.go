package account

import (
	"reflect"
	"slices"
)

// Apply returns a copy of a with p applied, plus the changed attributes keyed
// by their wire names. Attributes whose value does not change are left out of
// the delta.
func (a Account) Apply(p Patch) (Account, map[string]any) {
	out := a.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Industry != nil {
		out.Industry = *p.Industry
	}
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Email != nil {
		out.Email = *p.Email
	}
	if p.Phone != nil {
		out.Phone = *p.Phone
	}
	if p.Website != nil {
		out.Website = *p.Website
	}
	if p.BillingAddress != nil {
		out.BillingAddress = copyAddress(p.BillingAddress)
	}
	if p.ShippingAddress != nil {
		out.ShippingAddress = copyAddress(p.ShippingAddress)
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), p.Tags...)
	}
	if p.CustomFields != nil {
		out.CustomFields = copyFields(p.CustomFields)
	}
	out.Normalize()

	delta := map[string]any{}
	if out.Name != a.Name {
		delta["name"] = out.Name
	}
	if out.Industry != a.Industry {
		delta["industry"] = out.Industry
	}
	if out.Type != a.Type {
		delta["type"] = out.Type
	}
	if out.Status != a.Status {
		delta["status"] = out.Status
	}
	if out.Email != a.Email {
		delta["email"] = out.Email
	}
	if out.Phone != a.Phone {
		delta["phone"] = out.Phone
	}
	if out.Website != a.Website {
		delta["website"] = out.Website
	}
	if !reflect.DeepEqual(out.BillingAddress, a.BillingAddress) {
		delta["billing_address"] = out.BillingAddress
	}
	if !reflect.DeepEqual(out.ShippingAddress, a.ShippingAddress) {
		delta["shipping_address"] = out.ShippingAddress
	}
	if !slices.Equal(out.Tags, a.Tags) {
		delta["tags"] = out.Tags
	}
	if p.CustomFields != nil && !reflect.DeepEqual(out.CustomFields, a.CustomFields) {
		delta["custom_fields"] = out.CustomFields
	}
	return out, delta
}
