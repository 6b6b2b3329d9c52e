package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vaultline.org/internal/access"
	"vaultline.org/internal/account"
	"vaultline.org/internal/audit"
	"vaultline.org/internal/obs"
)

// DataExport answers a data subject access request.
type DataExport struct {
	Account         account.Account  `json:"account"`
	DecryptFailures []DecryptFailure `json:"decrypt_failures,omitempty"`
	Relationships   Relationships    `json:"relationships"`
	AuditTrail      []audit.Entry    `json:"audit_trail"`
	ExportDate      time.Time        `json:"export_date"`
	ExportedBy      string           `json:"exported_by"`
}

// ErasureResult reports a completed erasure.
type ErasureResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

const (
	stepAccount       = "account"
	stepRelationships = "relationships"
	stepAudit         = "audit"
)

// ExportAccountData gathers the decrypted account, its edges and its trail
// oldest first. The export is itself audited as the last step.
func (s *Service) ExportAccountData(ctx context.Context, userID, id string) (_ *DataExport, err error) {
	const op = "export_account_data"
	defer s.observe(op, time.Now(), &err)
	if err := s.authorize(op, access.ActionView, userID, id); err != nil {
		return nil, err
	}
	if !s.exportLimits.allow(userID, s.now()) {
		return nil, newError(CodeRateLimited, op, id, fmt.Errorf("user %q exceeded the export rate", userID))
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
	a, failures := s.open(rec)
	rels, err := s.listRelationships(ctx, id)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	trail, err := s.trail.ExportAuditData(ctx, account.EntityType, id, userID)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	out := &DataExport{
		Account:         a,
		DecryptFailures: failures,
		Relationships:   rels,
		AuditTrail:      trail.Entries,
		ExportDate:      s.now().UTC(),
		ExportedBy:      userID,
	}
	if _, err := s.trail.LogAccess(ctx, account.EntityType, id, map[string]any{"reason": "data_export"}, userID); err != nil {
		return nil, wrap(op, id, err)
	}
	return out, nil
}

// CompletelyRemoveAccountData deletes the account, every edge touching it and
// its whole audit trail while holding the graph lock. All three steps run even
// when one fails; any failure yields a retryable partial failure error.
// Erasing an erased account succeeds.
func (s *Service) CompletelyRemoveAccountData(ctx context.Context, userID, id string) (_ ErasureResult, err error) {
	const op = "erase_account_data"
	defer s.observe(op, time.Now(), &err)
	if err := s.authorize(op, access.ActionDelete, userID, id); err != nil {
		return ErasureResult{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	unlock, err := s.lockAccount(ctx, op, id)
	if err != nil {
		return ErasureResult{}, err
	}
	defer unlock()
	unlockGraph, err := s.lockGraph(ctx, op, id)
	if err != nil {
		return ErasureResult{}, err
	}
	defer unlockGraph()

	var failed []StepFailure
	if err := s.accounts.Delete(ctx, id); err != nil && !errors.Is(err, account.ErrNotFound) {
		failed = append(failed, StepFailure{Step: stepAccount, Err: err})
	}
	edges, err := s.relationships.DeleteForAccount(ctx, id)
	if err != nil {
		failed = append(failed, StepFailure{Step: stepRelationships, Err: err})
	}
	entries, err := s.trail.DeleteAuditData(ctx, account.EntityType, id)
	if err != nil {
		failed = append(failed, StepFailure{Step: stepAudit, Err: err})
	}

	fields := map[string]any{
		"account_id":            id,
		"user_id":               userID,
		"relationships_removed": edges,
		"audit_entries_removed": entries,
		"success":               len(failed) == 0,
	}
	s.metrics.Erasure(len(failed) == 0)
	if len(failed) > 0 {
		pfe := &PartialFailureError{AccountID: id, Failed: failed}
		fields["failed_steps"] = pfe.Steps()
		fields["error"] = pfe.Error()
		obs.Event(obs.LevelError, "compliance.erasure", fields)
		return ErasureResult{}, newError(CodePartialFailure, op, id, pfe)
	}
	obs.Event(obs.LevelInfo, "compliance.erasure", fields)
	return ErasureResult{
		Success: true,
		Message: fmt.Sprintf("All data for account %s has been permanently removed (GDPR Article 17)", id),
	}, nil
}
