// Package compliance is the only read and write path for accounts. Every
// operation is authorized first, sensitive fields are encrypted before they
// reach a store, and each call leaves an audit entry behind.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vaultline.org/internal/access"
	"vaultline.org/internal/account"
	"vaultline.org/internal/audit"
	"vaultline.org/internal/fieldcrypt"
	"vaultline.org/internal/graph"
	"vaultline.org/internal/ids"
	"vaultline.org/internal/lock"
	"vaultline.org/internal/obs"
)

// Deps are the collaborators every Service needs.
type Deps struct {
	Accounts      account.Store
	Relationships graph.Store
	Audit         *audit.Trail
	Gate          *access.Gate
	Crypto        *fieldcrypt.Engine
}

// Service orchestrates accounts, relationships, audit and erasure.
type Service struct {
	accounts      account.Store
	relationships graph.Store
	trail         *audit.Trail
	gate          *access.Gate
	crypto        *fieldcrypt.Engine

	policy       account.Policy
	locker       lock.Locker
	now          func() time.Time
	metrics      *obs.Metrics
	opTimeout    time.Duration
	exportLimits *userLimiter
}

// View is a decrypted account plus the fields that could not be decrypted.
type View struct {
	Account         account.Account  `json:"account"`
	DecryptFailures []DecryptFailure `json:"decrypt_failures,omitempty"`
}

func New(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Accounts == nil:
		return nil, errors.New("compliance: account store is required")
	case deps.Relationships == nil:
		return nil, errors.New("compliance: relationship store is required")
	case deps.Audit == nil:
		return nil, errors.New("compliance: audit trail is required")
	case deps.Gate == nil:
		return nil, errors.New("compliance: permission gate is required")
	case deps.Crypto == nil:
		return nil, errors.New("compliance: encryption engine is required")
	}
	s := &Service{
		accounts:      deps.Accounts,
		relationships: deps.Relationships,
		trail:         deps.Audit,
		gate:          deps.Gate,
		crypto:        deps.Crypto,
		policy:        account.DefaultPolicy(),
		locker:        lock.NewKeyedMutex(),
		now:           time.Now,
		opTimeout:     DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the sensitive-field policy in force.
func (s *Service) Policy() account.Policy {
	return account.Policy{Fields: s.policy.Paths()}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Service) authorize(op string, action access.Action, userID, entityID string) error {
	if s.gate.Can(action, userID, account.EntityType, entityID) {
		return nil
	}
	s.metrics.PermissionDenied(string(action))
	return newError(CodePermissionDenied, op, entityID,
		fmt.Errorf("user %q may not %s %s", userID, action, account.EntityType))
}

func (s *Service) lockAccount(ctx context.Context, op, id string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, account.EntityType+":"+id)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	return unlock, nil
}

// graphLockKey guards every edge mutation and the ancestor reads behind it.
const graphLockKey = "graph:relationships"

// lockGraph must be taken after any account lock.
func (s *Service) lockGraph(ctx context.Context, op, id string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, graphLockKey)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	return unlock, nil
}

func (s *Service) observe(op string, started time.Time, err *error) {
	s.metrics.ObserveOperation(op, *err, started)
}

// CreateAccount validates in, stores it with sensitive fields sealed and
// audits the plaintext snapshot, which the trail redacts.
func (s *Service) CreateAccount(ctx context.Context, userID string, in account.Input) (_ *View, err error) {
	const op = "create_account"
	defer s.observe(op, time.Now(), &err)
	if err := s.authorize(op, access.ActionCreate, userID, ""); err != nil {
		return nil, err
	}
	a := account.NewFromInput(in)
	if verr := a.Validate(); verr != nil {
		return nil, newError(CodeValidation, op, "", verr)
	}
	now := s.now().UTC()
	a.ID = ids.NewAt(now)
	a.CreatedBy, a.CreatedAt = userID, now
	a.UpdatedBy, a.UpdatedAt = userID, now

	rec, err := s.seal(a)
	if err != nil {
		return nil, wrap(op, a.ID, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.accounts.Create(ctx, rec); err != nil {
		return nil, wrap(op, a.ID, err)
	}
	if _, err := s.trail.LogCreation(ctx, account.EntityType, a.ID, a, userID); err != nil {
		return nil, wrap(op, a.ID, err)
	}
	return &View{Account: a}, nil
}

// GetAccount returns the decrypted account. Fields that fail to decrypt keep
// their stored value and are listed in the view.
func (s *Service) GetAccount(ctx context.Context, userID, id string) (_ *View, err error) {
	const op = "get_account"
	defer s.observe(op, time.Now(), &err)
	if err := s.authorize(op, access.ActionView, userID, id); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rec, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	a, failures := s.open(rec)
	if _, err := s.trail.LogAccess(ctx, account.EntityType, id, map[string]any{"reason": "read"}, userID); err != nil {
		return nil, wrap(op, id, err)
	}
	return &View{Account: a, DecryptFailures: failures}, nil
}

// ListAccounts returns the matching accounts userID may view.
func (s *Service) ListAccounts(ctx context.Context, userID string, q account.Query) (_ []View, err error) {
	const op = "list_accounts"
	defer s.observe(op, time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	recs, err := s.accounts.List(ctx, q)
	if err != nil {
		return nil, wrap(op, "", err)
	}
	recs = access.FilterByPermission(s.gate, userID, account.EntityType, recs, func(r account.Record) string { return r.ID })
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		a, failures := s.open(rec)
		if _, err := s.trail.LogAccess(ctx, account.EntityType, rec.ID, map[string]any{"reason": "list"}, userID); err != nil {
			return nil, wrap(op, rec.ID, err)
		}
		out = append(out, View{Account: a, DecryptFailures: failures})
	}
	return out, nil
}

// UpdateAccount applies p under the account lock and audits the changed
// fields only. An account with undecryptable fields cannot be updated since
// re-sealing would encrypt ciphertext.
func (s *Service) UpdateAccount(ctx context.Context, userID, id string, p account.Patch) (_ *View, err error) {
	const op = "update_account"
	defer s.observe(op, time.Now(), &err)
	if err := s.authorize(op, access.ActionUpdate, userID, id); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	unlock, err := s.lockAccount(ctx, op, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	prior, failures := s.open(rec)
	if len(failures) > 0 {
		return nil, newError(CodeDecryption, op, id,
			fmt.Errorf("%w: field %s", fieldcrypt.ErrDecrypt, failures[0].Field))
	}
	updated, delta := prior.Apply(p)
	if verr := updated.Validate(); verr != nil {
		return nil, newError(CodeValidation, op, id, verr)
	}
	if len(delta) == 0 {
		return &View{Account: prior}, nil
	}
	updated.UpdatedBy, updated.UpdatedAt = userID, s.now().UTC()

	sealed, err := s.seal(updated)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	if err := s.accounts.Update(ctx, sealed); err != nil {
		return nil, wrap(op, id, err)
	}
	if _, err := s.trail.LogUpdate(ctx, account.EntityType, id, delta, userID); err != nil {
		return nil, wrap(op, id, err)
	}
	return &View{Account: updated}, nil
}

// DeleteAccount removes the account record only. Its relationships and audit
// trail are kept.
func (s *Service) DeleteAccount(ctx context.Context, userID, id string) (err error) {
	const op = "delete_account"
	defer s.observe(op, time.Now(), &err)
	if err := s.authorize(op, access.ActionDelete, userID, id); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	unlock, err := s.lockAccount(ctx, op, id)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := s.accounts.Get(ctx, id)
	if err != nil {
		return wrap(op, id, err)
	}
	if err := s.accounts.Delete(ctx, id); err != nil {
		return wrap(op, id, err)
	}
	snapshot := map[string]any{
		"id":       rec.ID,
		"name":     rec.Name,
		"industry": rec.Industry,
		"type":     rec.Type,
		"status":   rec.Status,
	}
	if _, err := s.trail.LogDeletion(ctx, account.EntityType, id, snapshot, userID); err != nil {
		return wrap(op, id, err)
	}
	return nil
}

// GetAuditTrail returns one page of the account's trail, newest first.
func (s *Service) GetAuditTrail(ctx context.Context, userID, id string, page audit.Page) (_ audit.PageResult, err error) {
	const op = "get_audit_trail"
	defer s.observe(op, time.Now(), &err)
	if err := s.authorize(op, access.ActionView, userID, id); err != nil {
		return audit.PageResult{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.trail.GetAuditTrail(ctx, account.EntityType, id, page)
	if err != nil {
		return audit.PageResult{}, wrap(op, id, err)
	}
	return res, nil
}
