package account

import "time"

// EntityType is the entity type recorded in the audit trail and the permission table.
const EntityType = "account"

type Industry string

const (
	IndustryTechnology    Industry = "technology"
	IndustryFinance       Industry = "finance"
	IndustryHealthcare    Industry = "healthcare"
	IndustryManufacturing Industry = "manufacturing"
	IndustryRetail        Industry = "retail"
	IndustryEducation     Industry = "education"
	IndustryGovernment    Industry = "government"
	IndustryNonprofit     Industry = "nonprofit"
	IndustryOther         Industry = "other"
)

var industries = []Industry{
	IndustryTechnology, IndustryFinance, IndustryHealthcare, IndustryManufacturing,
	IndustryRetail, IndustryEducation, IndustryGovernment, IndustryNonprofit, IndustryOther,
}

type Type string

const (
	TypeCustomer Type = "customer"
	TypePartner  Type = "partner"
	TypeVendor   Type = "vendor"
	TypeProspect Type = "prospect"
	TypeReseller Type = "reseller"
	TypeOther    Type = "other"
)

var types = []Type{TypeCustomer, TypePartner, TypeVendor, TypeProspect, TypeReseller, TypeOther}

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusPending   Status = "pending"
	StatusSuspended Status = "suspended"
)

var statuses = []Status{StatusActive, StatusInactive, StatusPending, StatusSuspended}

// Address is either fully populated or absent.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IsEmpty reports whether no sub-field is set.
func (a Address) IsEmpty() bool {
	return a.Street == "" && a.City == "" && a.State == "" && a.PostalCode == "" && a.Country == ""
}

// Missing lists the sub-fields that are not set.
func (a Address) Missing() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Account is the plaintext business view of an account.
type Account struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Industry        Industry       `json:"industry"`
	Type            Type           `json:"type"`
	Status          Status         `json:"status"`
	Email           string         `json:"email,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	Website         string         `json:"website,omitempty"`
	BillingAddress  *Address       `json:"billing_address,omitempty"`
	ShippingAddress *Address       `json:"shipping_address,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	CustomFields    map[string]any `json:"custom_fields,omitempty"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedBy       string         `json:"updated_by"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Input carries the attributes of a new account.
type Input struct {
	Name            string         `json:"name"`
	Industry        Industry       `json:"industry"`
	Type            Type           `json:"type"`
	Status          Status         `json:"status"`
	Email           string         `json:"email,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	Website         string         `json:"website,omitempty"`
	BillingAddress  *Address       `json:"billing_address,omitempty"`
	ShippingAddress *Address       `json:"shipping_address,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	CustomFields    map[string]any `json:"custom_fields,omitempty"`
}

// Patch describes a partial update. Nil fields are left unchanged; an empty
// optional string clears it, and an all-empty address clears the address.
type Patch struct {
	Name            *string        `json:"name,omitempty"`
	Industry        *Industry      `json:"industry,omitempty"`
	Type            *Type          `json:"type,omitempty"`
	Status          *Status        `json:"status,omitempty"`
	Email           *string        `json:"email,omitempty"`
	Phone           *string        `json:"phone,omitempty"`
	Website         *string        `json:"website,omitempty"`
	BillingAddress  *Address       `json:"billing_address,omitempty"`
	ShippingAddress *Address       `json:"shipping_address,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	CustomFields    map[string]any `json:"custom_fields,omitempty"`
}

// Query filters account listings. Empty fields match everything.
type Query struct {
	Industry Industry
	Type     Type
	Status   Status
	Tag      string
	Limit    int
	Offset   int
}

// NewFromInput builds a normalized account from input. Identity and audit
// metadata are left to the caller.
func NewFromInput(in Input) Account {
	a := Account{
		Name:            in.Name,
		Industry:        in.Industry,
		Type:            in.Type,
		Status:          in.Status,
		Email:           in.Email,
		Phone:           in.Phone,
		Website:         in.Website,
		BillingAddress:  copyAddress(in.BillingAddress),
		ShippingAddress: copyAddress(in.ShippingAddress),
		Tags:            append([]string(nil), in.Tags...),
		CustomFields:    copyFields(in.CustomFields),
	}
	a.Normalize()
	return a
}

// Clone returns a deep copy so transforms never touch the caller's value.
func (a Account) Clone() Account {
	out := a
	out.BillingAddress = copyAddress(a.BillingAddress)
	out.ShippingAddress = copyAddress(a.ShippingAddress)
	out.Tags = append([]string(nil), a.Tags...)
	out.CustomFields = copyFields(a.CustomFields)
	return out
}

func copyAddress(a *Address) *Address {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func copyFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyFields(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
