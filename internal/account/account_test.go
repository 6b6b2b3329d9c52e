package account

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func validInput() Input {
	return Input{
		Name:     "  Acme Corp ",
		Industry: "Technology",
		Type:     TypeCustomer,
		Status:   StatusActive,
		Email:    "Billing@Acme.example",
		Phone:    "+1 (555) 123-4567",
		Website:  "https://acme.example",
		BillingAddress: &Address{
			Street: "1 Main St", City: "Springfield", State: "IL", PostalCode: "62701", Country: "US",
		},
		Tags:         []string{"VIP", "vip", " enterprise ", ""},
		CustomFields: map[string]any{"tier": "gold", "nested": map[string]any{"score": 7.0}},
	}
}

func TestNewFromInputNormalizes(t *testing.T) {
	a := NewFromInput(validInput())
	if a.Name != "Acme Corp" || a.Industry != IndustryTechnology || a.Email != "billing@acme.example" {
		t.Fatalf("unexpected normalization: %+v", a)
	}
	if len(a.Tags) != 2 || a.Tags[0] != "vip" || a.Tags[1] != "enterprise" {
		t.Fatalf("unexpected tags: %v", a.Tags)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateReportsEveryField(t *testing.T) {
	in := Input{
		Industry:       "space",
		Email:          "not-an-email",
		Phone:          "12",
		Website:        "ftp://files.example",
		BillingAddress: &Address{Street: "1 Main St"},
	}
	err := NewFromInput(in).Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	want := map[string]bool{
		"name": true, "industry": true, "type": true, "status": true,
		"email": true, "phone": true, "website": true, "billing_address": true,
	}
	for _, f := range verr.Fields {
		delete(want, f.Field)
	}
	if len(want) != 0 {
		t.Fatalf("missing field errors: %v (got %v)", want, verr.Fields)
	}
	if !strings.Contains(err.Error(), "postal_code") {
		t.Fatalf("address error should name missing sub-fields: %v", err)
	}
}

func TestEmptyAddressIsAbsent(t *testing.T) {
	in := validInput()
	in.ShippingAddress = &Address{Street: "  "}
	a := NewFromInput(in)
	if a.ShippingAddress != nil {
		t.Fatalf("expected empty address to normalize to nil, got %+v", a.ShippingAddress)
	}
}

func TestApplyReturnsOnlyChanges(t *testing.T) {
	a := NewFromInput(validInput())
	email := "new@acme.example"
	sameName := "Acme Corp"
	updated, delta := a.Apply(Patch{Email: &email, Name: &sameName, ShippingAddress: &Address{}})
	if updated.Email != email {
		t.Fatalf("email not applied: %s", updated.Email)
	}
	if _, ok := delta["name"]; ok {
		t.Fatal("unchanged name reported in delta")
	}
	if delta["email"] != email {
		t.Fatalf("unexpected delta: %v", delta)
	}
	if _, ok := delta["shipping_address"]; ok {
		t.Fatal("clearing an absent address is not a change")
	}
	if a.Email == email {
		t.Fatal("Apply mutated the receiver")
	}

	cleared, delta := a.Apply(Patch{BillingAddress: &Address{}})
	if cleared.BillingAddress != nil {
		t.Fatal("expected billing address cleared")
	}
	if _, ok := delta["billing_address"]; !ok {
		t.Fatalf("expected billing_address in delta: %v", delta)
	}
}

func TestMask(t *testing.T) {
	if got := Mask("john.doe@example.com", MaskEmail); got != "j******@example.com" {
		t.Fatalf("unexpected email mask: %s", got)
	}
	got := Mask("555-123-4567", MaskPhone)
	if !strings.HasSuffix(got, "4567") || strings.Trim(got[:len(got)-4], "*") != "" {
		t.Fatalf("unexpected phone mask: %s", got)
	}
	if got := Mask("ab@x.io", MaskEmail); got != "a*@x.io" {
		t.Fatalf("unexpected short email mask: %s", got)
	}
	if got := Mask("Main", MaskGeneric); got != "M***" {
		t.Fatalf("unexpected generic mask: %s", got)
	}
}

func TestMaskAccountUsesPolicy(t *testing.T) {
	a := NewFromInput(validInput())
	masked := MaskAccount(a, DefaultPolicy())
	if masked.Email == a.Email || masked.BillingAddress.Street == a.BillingAddress.Street {
		t.Fatalf("sensitive fields not masked: %+v", masked)
	}
	if masked.Name != a.Name {
		t.Fatal("non-sensitive field was masked")
	}
	if masked.CustomFields["tier"] != "****" {
		t.Fatalf("custom fields not hidden: %v", masked.CustomFields)
	}
	if a.CustomFields["tier"] != "gold" {
		t.Fatal("MaskAccount mutated the input")
	}
}

func TestRecordSensitivePaths(t *testing.T) {
	a := NewFromInput(validInput())
	r, err := ToRecord(a)
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	values := r.SensitiveValues(DefaultPolicy())
	if values["email"] != a.Email || values["billing_address.street"] != "1 Main St" {
		t.Fatalf("unexpected values: %v", values)
	}
	if v, ok := values["shipping_address.city"]; !ok || v != nil {
		t.Fatalf("absent address should map to nil: %v", v)
	}
	if values["phone"] == nil || values["custom_fields"] == nil {
		t.Fatalf("expected phone and custom fields: %v", values)
	}

	r.ApplySensitiveValues(map[string]any{"email": "sealed", "billing_address.postal_code": "sealed-zip", "shipping_address.city": nil})
	if r.Email != "sealed" || r.BillingAddress.PostalCode != "sealed-zip" {
		t.Fatalf("values not applied: %+v", r)
	}

	roundTrip, err := r.ToAccount()
	if err != nil {
		t.Fatalf("ToAccount: %v", err)
	}
	nested, ok := roundTrip.CustomFields["nested"].(map[string]any)
	if !ok || nested["score"] != 7.0 {
		t.Fatalf("custom fields lost: %v", roundTrip.CustomFields)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "a", "c"} {
		r := Record{ID: id, Name: id, Industry: IndustryRetail, Type: TypeCustomer, Status: StatusActive, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if id == "c" {
			r.Tags = []string{"vip"}
		}
		if err := s.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := s.Create(ctx, Record{ID: "a"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	all, err := s.List(ctx, Query{})
	if err != nil || len(all) != 3 || all[0].ID != "b" {
		t.Fatalf("unexpected list: %v %v", all, err)
	}
	vip, _ := s.List(ctx, Query{Tag: "vip"})
	if len(vip) != 1 || vip[0].ID != "c" {
		t.Fatalf("unexpected tag filter: %v", vip)
	}
	page, _ := s.List(ctx, Query{Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].ID != "a" {
		t.Fatalf("unexpected page: %v", page)
	}

	got, _ := s.Get(ctx, "c")
	got.Tags[0] = "mutated"
	again, _ := s.Get(ctx, "c")
	if again.Tags[0] != "vip" {
		t.Fatal("store returned shared state")
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Update(ctx, Record{ID: "a"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}
