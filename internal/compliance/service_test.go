package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vaultline.org/internal/access"
	"vaultline.org/internal/account"
	"vaultline.org/internal/audit"
	"vaultline.org/internal/fieldcrypt"
	"vaultline.org/internal/graph"
	"vaultline.org/internal/obs"
)

type fixture struct {
	svc      *Service
	accounts account.Store
	mem      *account.MemoryStore
	rels     graph.Store
	trail    *audit.Trail
	gate     *access.Gate
	engine   *fieldcrypt.Engine
}

type fixtureConfig struct {
	accounts func(*account.MemoryStore) account.Store
	rels     func(*graph.MemoryStore) graph.Store
	opts     []Option
}

func quiet(t *testing.T) {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetOutput(io.Discard)
	t.Cleanup(func() { logger.SetOutput(original) })
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	quiet(t)
	engine, err := fieldcrypt.New([]byte("test passphrase for field encryption"))
	if err != nil {
		t.Fatalf("fieldcrypt.New: %v", err)
	}
	gate, err := access.New(access.Config{
		Roles: access.RoleTable{account.EntityType: {
			View:   []string{"sales", "manager"},
			Create: []string{"sales", "manager"},
			Update: []string{"sales", "manager"},
			Delete: []string{"manager"},
		}},
		Users: map[string][]string{
			"u-sales": {"sales"},
			"u-mgr":   {"manager"},
			"u-admin": {"admin"},
			"u-ext":   {"partner"},
		},
	})
	if err != nil {
		t.Fatalf("access.New: %v", err)
	}
	mem := account.NewMemoryStore()
	var accounts account.Store = mem
	if cfg.accounts != nil {
		accounts = cfg.accounts(mem)
	}
	var rels graph.Store = graph.NewMemoryStore()
	if cfg.rels != nil {
		rels = cfg.rels(rels.(*graph.MemoryStore))
	}
	trail := audit.New(audit.NewMemoryStore())
	svc, err := New(Deps{Accounts: accounts, Relationships: rels, Audit: trail, Gate: gate, Crypto: engine}, cfg.opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{svc: svc, accounts: accounts, mem: mem, rels: rels, trail: trail, gate: gate, engine: engine}
}

func sampleInput(name string) account.Input {
	return account.Input{
		Name:     name,
		Industry: account.IndustryFinance,
		Type:     account.TypeCustomer,
		Status:   account.StatusActive,
		Email:    "a@b.com",
		Phone:    "+1 555 123 4567",
		BillingAddress: &account.Address{
			Street: "1 Main St", City: "Springfield", State: "IL", PostalCode: "62701", Country: "US",
		},
		Tags:         []string{"vip"},
		CustomFields: map[string]any{"tier": "gold"},
	}
}

func mustCreate(t *testing.T, f *fixture, name string) string {
	t.Helper()
	v, err := f.svc.CreateAccount(context.Background(), "u-admin", sampleInput(name))
	if err != nil {
		t.Fatalf("CreateAccount %s: %v", name, err)
	}
	return v.Account.ID
}

func expectCode(t *testing.T, err error, code Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

func TestEndToEndLifecycle(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()

	created, err := f.svc.CreateAccount(ctx, "u-mgr", sampleInput("Acme"))
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	id := created.Account.ID

	stored, err := f.mem.Get(ctx, id)
	if err != nil {
		t.Fatalf("stored record: %v", err)
	}
	if stored.Email == "a@b.com" || !fieldcrypt.LooksEncrypted(stored.Email) {
		t.Fatalf("email not sealed at rest: %q", stored.Email)
	}
	if !fieldcrypt.LooksEncrypted(stored.BillingAddress.Street) || !fieldcrypt.LooksEncrypted(stored.CustomFields) {
		t.Fatalf("address or custom fields not sealed: %+v", stored)
	}
	if stored.Name != "Acme" {
		t.Fatalf("non-sensitive field altered: %q", stored.Name)
	}

	view, err := f.svc.GetAccount(ctx, "u-sales", id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if view.Account.Email != "a@b.com" || view.Account.CustomFields["tier"] != "gold" || len(view.DecryptFailures) != 0 {
		t.Fatalf("unexpected view: %+v", view)
	}

	exp, err := f.svc.ExportAccountData(ctx, "u-sales", id)
	if err != nil {
		t.Fatalf("ExportAccountData: %v", err)
	}
	if exp.Account.Email != "a@b.com" || exp.ExportedBy != "u-sales" {
		t.Fatalf("unexpected export: %+v", exp)
	}
	if len(exp.AuditTrail) == 0 || exp.AuditTrail[0].Action != audit.ActionCreate {
		t.Fatalf("export trail should start with the create entry: %+v", exp.AuditTrail)
	}
	if strings.Contains(string(exp.AuditTrail[0].Details), "a@b.com") {
		t.Fatalf("plaintext email in create entry: %s", exp.AuditTrail[0].Details)
	}
	data, err := json.Marshal(exp)
	if err != nil {
		t.Fatalf("marshal export: %v", err)
	}
	var decoded DataExport
	if err := json.Unmarshal(data, &decoded); err != nil || !decoded.ExportDate.Equal(exp.ExportDate) {
		t.Fatalf("export did not round trip: %v", err)
	}

	page, _ := f.svc.GetAuditTrail(ctx, "u-sales", id, audit.Page{})
	newest := page.Entries[0]
	if newest.Action != audit.ActionAccess || !strings.Contains(string(newest.Details), "data_export") {
		t.Fatalf("export should be audited last: %+v", newest)
	}

	res, err := f.svc.CompletelyRemoveAccountData(ctx, "u-mgr", id)
	if err != nil {
		t.Fatalf("CompletelyRemoveAccountData: %v", err)
	}
	if !res.Success || !strings.Contains(res.Message, id) || !strings.Contains(res.Message, "GDPR Article 17") {
		t.Fatalf("unexpected erasure result: %+v", res)
	}

	_, err = f.svc.GetAccount(ctx, "u-sales", id)
	expectCode(t, err, CodeNotFound)
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("not found error should match both sentinels: %v", err)
	}
	trail, err := f.svc.GetAuditTrail(ctx, "u-sales", id, audit.Page{})
	if err != nil || trail.Total != 0 {
		t.Fatalf("audit trail should be empty after erasure: %+v %v", trail, err)
	}

	again, err := f.svc.CompletelyRemoveAccountData(ctx, "u-mgr", id)
	if err != nil || !again.Success {
		t.Fatalf("repeat erasure should succeed: %+v %v", again, err)
	}
}

func TestPermissionDeniedHasNoSideEffects(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()

	_, err := f.svc.CreateAccount(ctx, "u-ext", sampleInput("Nope"))
	expectCode(t, err, CodePermissionDenied)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied: %v", err)
	}
	if all, _ := f.mem.List(ctx, account.Query{}); len(all) != 0 {
		t.Fatalf("denied create stored %d records", len(all))
	}

	id := mustCreate(t, f, "Acme")
	expectCode(t, f.svc.DeleteAccount(ctx, "u-sales", id), CodePermissionDenied)
	_, err = f.svc.CompletelyRemoveAccountData(ctx, "u-sales", id)
	expectCode(t, err, CodePermissionDenied)
	_, err = f.svc.GetAccount(ctx, "u-ext", id)
	expectCode(t, err, CodePermissionDenied)

	if _, err := f.mem.Get(ctx, id); err != nil {
		t.Fatalf("account touched by denied calls: %v", err)
	}
	page, _ := f.trail.GetAuditTrail(ctx, account.EntityType, id, audit.Page{})
	if page.Total != 1 {
		t.Fatalf("denied calls wrote audit entries: %+v", page.Entries)
	}
}

func TestValidationHappensBeforeWrites(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	in := sampleInput("Bad")
	in.Email = "not-an-email"
	in.ShippingAddress = &account.Address{City: "Nowhere"}
	_, err := f.svc.CreateAccount(ctx, "u-mgr", in)
	expectCode(t, err, CodeValidation)
	var verr *account.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Fatalf("expected two field errors, got %v", err)
	}
	if all, _ := f.mem.List(ctx, account.Query{}); len(all) != 0 {
		t.Fatal("invalid account stored")
	}

	id := mustCreate(t, f, "Acme")
	bad := "12"
	_, err = f.svc.UpdateAccount(ctx, "u-sales", id, account.Patch{Phone: &bad})
	expectCode(t, err, CodeValidation)
}

func TestUpdateRedactsContactChanges(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	id := mustCreate(t, f, "Acme")

	email, phone := "new@acme.example", "+44 20 7946 0000"
	if _, err := f.svc.UpdateAccount(ctx, "u-sales", id, account.Patch{Email: &email, Phone: &phone}); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	page, _ := f.svc.GetAuditTrail(ctx, "u-sales", id, audit.Page{Limit: 1})
	entry := page.Entries[0]
	if entry.Action != audit.ActionUpdate {
		t.Fatalf("expected update entry, got %s", entry.Action)
	}
	var details struct {
		Changes map[string]any `json:"changes"`
	}
	if err := json.Unmarshal(entry.Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Changes["email"] != audit.RedactedMarker || details.Changes["phone"] != audit.RedactedMarker {
		t.Fatalf("contact changes not redacted: %v", details.Changes)
	}
	if _, ok := details.Changes["name"]; ok {
		t.Fatalf("unchanged field in delta: %v", details.Changes)
	}

	stored, _ := f.mem.Get(ctx, id)
	if !fieldcrypt.LooksEncrypted(stored.Email) {
		t.Fatalf("updated email not sealed: %q", stored.Email)
	}
	view, _ := f.svc.GetAccount(ctx, "u-sales", id)
	if view.Account.Email != email || view.Account.Phone != phone || view.Account.UpdatedBy != "u-sales" {
		t.Fatalf("update not visible: %+v", view.Account)
	}
}

func TestDeleteKeepsTrailAndRelationships(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	parent := mustCreate(t, f, "Parent")
	child := mustCreate(t, f, "Child")
	if _, err := f.svc.UpdateRelationships(ctx, "u-sales", parent, RelationshipChange{AddChildren: []Link{{AccountID: child}}}); err != nil {
		t.Fatalf("UpdateRelationships: %v", err)
	}
	if err := f.svc.DeleteAccount(ctx, "u-mgr", child); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	_, err := f.svc.GetAccount(ctx, "u-mgr", child)
	expectCode(t, err, CodeNotFound)

	page, _ := f.svc.GetAuditTrail(ctx, "u-mgr", child, audit.Page{})
	if page.Total < 2 || page.Entries[0].Action != audit.ActionDelete {
		t.Fatalf("trail should survive ordinary delete: %+v", page)
	}
	if strings.Contains(string(page.Entries[0].Details), "a@b.com") {
		t.Fatalf("deletion snapshot leaked contact data: %s", page.Entries[0].Details)
	}
	rels, _ := f.svc.GetRelationships(ctx, "u-mgr", parent)
	if len(rels.Children) != 1 {
		t.Fatalf("relationships should survive ordinary delete: %+v", rels)
	}
	expectCode(t, f.svc.DeleteAccount(ctx, "u-mgr", child), CodeNotFound)
}

func TestRelationshipCycles(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	ids := map[string]string{}
	for _, n := range []string{"A", "B", "C", "D", "E"} {
		ids[n] = mustCreate(t, f, n)
	}
	link := func(id string) []Link { return []Link{{AccountID: id, Type: graph.TypeSubsidiary}} }

	if _, err := f.svc.UpdateRelationships(ctx, "u-sales", ids["B"], RelationshipChange{AddChildren: link(ids["A"])}); err != nil {
		t.Fatalf("B -> A: %v", err)
	}
	if _, err := f.svc.UpdateRelationships(ctx, "u-sales", ids["C"], RelationshipChange{AddChildren: link(ids["B"])}); err != nil {
		t.Fatalf("C -> B: %v", err)
	}

	_, err := f.svc.UpdateRelationships(ctx, "u-sales", ids["A"], RelationshipChange{AddChildren: link(ids["C"])})
	expectCode(t, err, CodeCircularReference)
	if !errors.Is(err, graph.ErrCircularReference) {
		t.Fatalf("expected graph.ErrCircularReference: %v", err)
	}
	rels, _ := f.svc.GetRelationships(ctx, "u-sales", ids["A"])
	if len(rels.Children) != 0 || len(rels.Parents) != 1 {
		t.Fatalf("rejected edge was written: %+v", rels)
	}

	rels, err = f.svc.UpdateRelationships(ctx, "u-sales", ids["D"], RelationshipChange{AddChildren: link(ids["E"])})
	if err != nil || len(rels.Children) != 1 || rels.Children[0].Type != graph.TypeSubsidiary {
		t.Fatalf("unrelated D -> E should be accepted: %+v %v", rels, err)
	}

	_, err = f.svc.UpdateRelationships(ctx, "u-sales", ids["E"], RelationshipChange{AddChildren: []Link{{AccountID: ids["A"]}, {AccountID: ids["D"]}}})
	expectCode(t, err, CodeCircularReference)
	rels, _ = f.svc.GetRelationships(ctx, "u-sales", ids["E"])
	if len(rels.Children) != 0 {
		t.Fatalf("batch with a cycle was partly written: %+v", rels)
	}

	_, err = f.svc.UpdateRelationships(ctx, "u-sales", ids["A"], RelationshipChange{AddParents: link(ids["E"]), AddChildren: link(ids["E"])})
	expectCode(t, err, CodeCircularReference)

	_, err = f.svc.UpdateRelationships(ctx, "u-sales", ids["A"], RelationshipChange{AddParents: link(ids["A"])})
	expectCode(t, err, CodeCircularReference)

	_, err = f.svc.UpdateRelationships(ctx, "u-sales", ids["D"], RelationshipChange{AddChildren: link(ids["E"])})
	expectCode(t, err, CodeConflict)

	_, err = f.svc.UpdateRelationships(ctx, "u-sales", ids["D"], RelationshipChange{AddChildren: link("missing")})
	expectCode(t, err, CodeNotFound)

	_, err = f.svc.UpdateRelationships(ctx, "u-sales", ids["D"], RelationshipChange{AddChildren: []Link{{AccountID: ids["A"], Type: "COUSIN"}}})
	expectCode(t, err, CodeValidation)
}

func TestRelationshipRemovalAndSwap(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	x, y := mustCreate(t, f, "X"), mustCreate(t, f, "Y")
	rels, err := f.svc.UpdateRelationships(ctx, "u-sales", x, RelationshipChange{AddChildren: []Link{{AccountID: y}}})
	if err != nil {
		t.Fatalf("X -> Y: %v", err)
	}
	edgeID := rels.Children[0].ID

	// Reversing the edge is only legal when the old one goes in the same batch.
	_, err = f.svc.UpdateRelationships(ctx, "u-sales", x, RelationshipChange{AddParents: []Link{{AccountID: y}}})
	expectCode(t, err, CodeCircularReference)
	rels, err = f.svc.UpdateRelationships(ctx, "u-sales", x, RelationshipChange{Remove: []string{edgeID}, AddParents: []Link{{AccountID: y}}})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if len(rels.Parents) != 1 || rels.Parents[0].ParentAccountID != y || len(rels.Children) != 0 {
		t.Fatalf("unexpected relationships after swap: %+v", rels)
	}

	page, _ := f.svc.GetAuditTrail(ctx, "u-sales", x, audit.Page{Limit: 1})
	if !strings.Contains(string(page.Entries[0].Details), edgeID) {
		t.Fatalf("relationship change not audited: %s", page.Entries[0].Details)
	}

	z := mustCreate(t, f, "Z")
	_, err = f.svc.UpdateRelationships(ctx, "u-sales", z, RelationshipChange{Remove: []string{rels.Parents[0].ID}})
	expectCode(t, err, CodeValidation)
}

type failingEdges struct {
	*graph.MemoryStore
	fail bool
}

func (f *failingEdges) DeleteForAccount(ctx context.Context, accountID string) (int64, error) {
	if f.fail {
		return 0, errors.New("relationship store unavailable")
	}
	return f.MemoryStore.DeleteForAccount(ctx, accountID)
}

func TestErasurePartialFailureIsRetryable(t *testing.T) {
	edges := &failingEdges{fail: true}
	f := newFixture(t, fixtureConfig{rels: func(m *graph.MemoryStore) graph.Store {
		edges.MemoryStore = m
		return edges
	}})
	ctx := context.Background()
	a, b := mustCreate(t, f, "A"), mustCreate(t, f, "B")
	if _, err := f.svc.UpdateRelationships(ctx, "u-mgr", a, RelationshipChange{AddChildren: []Link{{AccountID: b}}}); err != nil {
		t.Fatalf("UpdateRelationships: %v", err)
	}

	res, err := f.svc.CompletelyRemoveAccountData(ctx, "u-mgr", a)
	expectCode(t, err, CodePartialFailure)
	if res.Success {
		t.Fatal("partial failure reported success")
	}
	var ce *Error
	if !errors.As(err, &ce) || !ce.Retryable() {
		t.Fatalf("partial failure should be retryable: %v", err)
	}
	var pfe *PartialFailureError
	if !errors.As(err, &pfe) || len(pfe.Steps()) != 1 || pfe.Steps()[0] != stepRelationships {
		t.Fatalf("unexpected failed steps: %v", err)
	}

	edges.fail = false
	res, err = f.svc.CompletelyRemoveAccountData(ctx, "u-mgr", a)
	if err != nil || !res.Success {
		t.Fatalf("retry should succeed: %+v %v", res, err)
	}
	rels, _ := f.svc.GetRelationships(ctx, "u-mgr", b)
	if len(rels.Parents) != 0 {
		t.Fatalf("edges to the erased account remain: %+v", rels)
	}
}

func TestDecryptFailuresDegradePerField(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := obs.NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := newFixture(t, fixtureConfig{opts: []Option{WithMetrics(metrics)}})
	ctx := context.Background()
	id := mustCreate(t, f, "Acme")

	rec, _ := f.mem.Get(ctx, id)
	rec.Email = "corrupted-value"
	rec.CustomFields = strings.Repeat("0", 24) + ":" + strings.Repeat("0", 32) + ":00"
	if err := f.mem.Update(ctx, rec); err != nil {
		t.Fatalf("corrupt record: %v", err)
	}

	view, err := f.svc.GetAccount(ctx, "u-sales", id)
	if err != nil {
		t.Fatalf("GetAccount should degrade, got %v", err)
	}
	if view.Account.Email != "corrupted-value" || view.Account.Phone != "+1 555 123 4567" {
		t.Fatalf("unexpected degraded view: %+v", view.Account)
	}
	if view.Account.CustomFields != nil {
		t.Fatalf("undecryptable custom fields should be dropped: %v", view.Account.CustomFields)
	}
	failed := map[string]bool{}
	for _, df := range view.DecryptFailures {
		failed[df.Field] = true
		if !errors.Is(df.Err, fieldcrypt.ErrDecrypt) {
			t.Fatalf("failure %s lacks ErrDecrypt: %v", df.Field, df.Err)
		}
	}
	if len(failed) != 2 || !failed["email"] || !failed["custom_fields"] {
		t.Fatalf("unexpected failures: %+v", view.DecryptFailures)
	}
	if got := counterValue(t, reg, "vaultline_compliance_decrypt_failures_total", "field", "email"); got != 1 {
		t.Fatalf("decrypt failure metric = %v", got)
	}

	name := "Renamed"
	_, err = f.svc.UpdateAccount(ctx, "u-sales", id, account.Patch{Name: &name})
	expectCode(t, err, CodeDecryption)

	list, err := f.svc.ListAccounts(ctx, "u-sales", account.Query{})
	if err != nil || len(list) != 1 || len(list[0].DecryptFailures) != 2 {
		t.Fatalf("list should degrade too: %+v %v", list, err)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestListAccountsFiltersByGrant(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	var created []string
	for i := 0; i < 3; i++ {
		created = append(created, mustCreate(t, f, fmt.Sprintf("Acme %d", i)))
	}
	all, err := f.svc.ListAccounts(ctx, "u-sales", account.Query{})
	if err != nil || len(all) != 3 {
		t.Fatalf("sales should list everything: %d %v", len(all), err)
	}
	if err := f.gate.GrantSpecificPermission(access.Grant{UserID: "u-ext", EntityType: account.EntityType, EntityID: created[1], Action: access.ActionView}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	some, err := f.svc.ListAccounts(ctx, "u-ext", account.Query{})
	if err != nil || len(some) != 1 || some[0].Account.ID != created[1] || some[0].Account.Email != "a@b.com" {
		t.Fatalf("unexpected filtered list: %+v %v", some, err)
	}
	page, _ := f.trail.GetAuditTrail(ctx, account.EntityType, created[1], audit.Page{Limit: 1})
	if page.Entries[0].UserID != "u-ext" || page.Entries[0].Action != audit.ActionAccess {
		t.Fatalf("listing not audited: %+v", page.Entries[0])
	}
}

type trackingAccounts struct {
	*account.MemoryStore
	inflight int32
	peak     int32
}

func (s *trackingAccounts) Update(ctx context.Context, r account.Record) error {
	n := atomic.AddInt32(&s.inflight, 1)
	defer atomic.AddInt32(&s.inflight, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return s.MemoryStore.Update(ctx, r)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	tracker := &trackingAccounts{}
	f := newFixture(t, fixtureConfig{accounts: func(m *account.MemoryStore) account.Store {
		tracker.MemoryStore = m
		return tracker
	}})
	ctx := context.Background()
	id := mustCreate(t, f, "Acme")

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("Acme %02d", i)
			if _, err := f.svc.UpdateAccount(ctx, "u-sales", id, account.Patch{Name: &name}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("UpdateAccount: %v", err)
	}
	if peak := atomic.LoadInt32(&tracker.peak); peak != 1 {
		t.Fatalf("updates overlapped: peak %d", peak)
	}
	page, _ := f.svc.GetAuditTrail(ctx, "u-sales", id, audit.Page{Limit: audit.MaxPageLimit})
	updates := 0
	for _, e := range page.Entries {
		if e.Action == audit.ActionUpdate {
			updates++
		}
	}
	if updates != writers {
		t.Fatalf("expected %d update entries, got %d", writers, updates)
	}
}

type blockingAccounts struct {
	*account.MemoryStore
}

func (blockingAccounts) Get(ctx context.Context, id string) (account.Record, error) {
	<-ctx.Done()
	return account.Record{}, ctx.Err()
}

func TestStoreTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		accounts: func(m *account.MemoryStore) account.Store { return blockingAccounts{m} },
		opts:     []Option{WithOpTimeout(20 * time.Millisecond)},
	})
	_, err := f.svc.GetAccount(context.Background(), "u-sales", "any")
	expectCode(t, err, CodeTimeout)
	var ce *Error
	if !errors.As(err, &ce) || !ce.Retryable() || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should be retryable and keep its cause: %v", err)
	}
}

func TestExportRateLimit(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, fixtureConfig{opts: []Option{
		WithExportRateLimit(1, 1),
		WithClock(func() time.Time { return now }),
	}})
	ctx := context.Background()
	id := mustCreate(t, f, "Acme")

	if _, err := f.svc.ExportAccountData(ctx, "u-sales", id); err != nil {
		t.Fatalf("first export: %v", err)
	}
	_, err := f.svc.ExportAccountData(ctx, "u-sales", id)
	expectCode(t, err, CodeRateLimited)
	var ce *Error
	if !errors.As(err, &ce) || !ce.Retryable() {
		t.Fatalf("rate limit should be retryable: %v", err)
	}
	if _, err := f.svc.ExportAccountData(ctx, "u-admin", id); err != nil {
		t.Fatalf("other users keep their own budget: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := f.svc.ExportAccountData(ctx, "u-sales", id); err != nil {
		t.Fatalf("budget should refill: %v", err)
	}
}

func TestCodeOfForeignErrors(t *testing.T) {
	if CodeOf(nil) != "" {
		t.Fatal("nil error has no code")
	}
	if CodeOf(errors.New("boom")) != CodeInternal {
		t.Fatal("foreign errors are internal")
	}
	if CodeOf(fmt.Errorf("wrapped: %w", context.Canceled)) != CodeTimeout {
		t.Fatal("cancellation maps to timeout")
	}
}

type slowEdges struct {
	*graph.MemoryStore
	delay time.Duration
	fail  error
}

func (s *slowEdges) ListParents(ctx context.Context, childID string) ([]graph.Relationship, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.ListParents(ctx, childID)
}

func (s *slowEdges) ApplyBatch(ctx context.Context, remove []string, add []graph.Relationship) error {
	time.Sleep(s.delay)
	if s.fail != nil {
		return s.fail
	}
	return s.MemoryStore.ApplyBatch(ctx, remove, add)
}

func TestCycleDetectedAcrossLongChain(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	const length = 70
	chain := make([]string, length)
	for i := range chain {
		chain[i] = mustCreate(t, f, fmt.Sprintf("N%02d", i))
		if i == 0 {
			continue
		}
		if _, err := f.svc.UpdateRelationships(ctx, "u-mgr", chain[i-1], RelationshipChange{
			AddChildren: []Link{{AccountID: chain[i]}},
		}); err != nil {
			t.Fatalf("link %d: %v", i, err)
		}
	}
	_, err := f.svc.UpdateRelationships(ctx, "u-mgr", chain[0], RelationshipChange{
		AddParents: []Link{{AccountID: chain[length-1]}},
	})
	expectCode(t, err, CodeCircularReference)
	rels, _ := f.svc.GetRelationships(ctx, "u-mgr", chain[0])
	if len(rels.Parents) != 0 {
		t.Fatalf("closing edge was written: %+v", rels.Parents)
	}
}

func TestConcurrentOppositeEdgesCannotFormCycle(t *testing.T) {
	edges := &slowEdges{delay: 10 * time.Millisecond}
	f := newFixture(t, fixtureConfig{rels: func(m *graph.MemoryStore) graph.Store {
		edges.MemoryStore = m
		return edges
	}})
	ctx := context.Background()
	a, b := mustCreate(t, f, "A"), mustCreate(t, f, "B")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, pair := range [][2]string{{a, b}, {b, a}} {
		wg.Add(1)
		go func(i int, parent, child string) {
			defer wg.Done()
			_, errs[i] = f.svc.UpdateRelationships(ctx, "u-mgr", parent, RelationshipChange{
				AddChildren: []Link{{AccountID: child}},
			})
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case CodeOf(err) != CodeCircularReference:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one of the opposite edges should be written, errs=%v", errs)
	}
	fromA, _ := edges.MemoryStore.ListChildren(ctx, a)
	fromB, _ := edges.MemoryStore.ListChildren(ctx, b)
	if len(fromA)+len(fromB) != 1 {
		t.Fatalf("graph holds %d edges between A and B", len(fromA)+len(fromB))
	}
}

func TestErasureRacingLinkLeavesNoEdge(t *testing.T) {
	edges := &slowEdges{delay: 5 * time.Millisecond}
	f := newFixture(t, fixtureConfig{rels: func(m *graph.MemoryStore) graph.Store {
		edges.MemoryStore = m
		return edges
	}})
	ctx := context.Background()
	a, x := mustCreate(t, f, "A"), mustCreate(t, f, "X")

	var (
		wg      sync.WaitGroup
		linkErr error
		eraseOK bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, linkErr = f.svc.UpdateRelationships(ctx, "u-mgr", a, RelationshipChange{AddChildren: []Link{{AccountID: x}}})
	}()
	go func() {
		defer wg.Done()
		res, err := f.svc.CompletelyRemoveAccountData(ctx, "u-mgr", x)
		eraseOK = err == nil && res.Success
	}()
	wg.Wait()

	if !eraseOK {
		t.Fatal("erasure should succeed")
	}
	if linkErr != nil && CodeOf(linkErr) != CodeNotFound {
		t.Fatalf("link may only fail because the account is gone: %v", linkErr)
	}
	parents, _ := edges.MemoryStore.ListParents(ctx, x)
	children, _ := edges.MemoryStore.ListChildren(ctx, a)
	if len(parents) != 0 || len(children) != 0 {
		t.Fatalf("edge to the erased account survived: parents=%v children=%v", parents, children)
	}
}

func TestFailedRelationshipBatchChangesNothing(t *testing.T) {
	edges := &slowEdges{}
	f := newFixture(t, fixtureConfig{rels: func(m *graph.MemoryStore) graph.Store {
		edges.MemoryStore = m
		return edges
	}})
	ctx := context.Background()
	a, b, c := mustCreate(t, f, "A"), mustCreate(t, f, "B"), mustCreate(t, f, "C")
	rels, err := f.svc.UpdateRelationships(ctx, "u-mgr", a, RelationshipChange{AddChildren: []Link{{AccountID: b}}})
	if err != nil {
		t.Fatalf("UpdateRelationships: %v", err)
	}
	before, _ := f.svc.GetAuditTrail(ctx, "u-mgr", a, audit.Page{})

	edges.fail = errors.New("disk full")
	_, err = f.svc.UpdateRelationships(ctx, "u-mgr", a, RelationshipChange{
		Remove:      []string{rels.Children[0].ID},
		AddChildren: []Link{{AccountID: c}},
	})
	expectCode(t, err, CodeInternal)

	children, _ := edges.MemoryStore.ListChildren(ctx, a)
	if len(children) != 1 || children[0].ChildAccountID != b {
		t.Fatalf("failed batch altered the graph: %+v", children)
	}
	after, _ := f.svc.GetAuditTrail(ctx, "u-mgr", a, audit.Page{})
	if after.Total != before.Total {
		t.Fatalf("failed batch was audited: %d -> %d entries", before.Total, after.Total)
	}
}
