package compliance

import (
	"context"
	"fmt"
	"time"

	"vaultline.org/internal/access"
	"vaultline.org/internal/account"
	"vaultline.org/internal/graph"
	"vaultline.org/internal/ids"
)

// Link names the account on the other end of a new relationship.
type Link struct {
	AccountID string     `json:"account_id"`
	Type      graph.Type `json:"relationship_type"`
}

// RelationshipChange is applied as one batch: either every edge is written or
// none is.
type RelationshipChange struct {
	AddParents  []Link   `json:"add_parents,omitempty"`
	AddChildren []Link   `json:"add_children,omitempty"`
	Remove      []string `json:"remove,omitempty"`
}

// Relationships are the edges touching one account.
type Relationships struct {
	Parents  []graph.Relationship `json:"parents"`
	Children []graph.Relationship `json:"children"`
}

// pendingEdges overlays a batch on top of the stored graph so later edges in
// the batch are checked against earlier ones.
type pendingEdges struct {
	base    graph.ParentLister
	removed map[string]bool
	added   []graph.Relationship
}

func (p *pendingEdges) ListParents(ctx context.Context, childID string) ([]graph.Relationship, error) {
	stored, err := p.base.ListParents(ctx, childID)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Relationship, 0, len(stored))
	for _, r := range stored {
		if !p.removed[r.ID] {
			out = append(out, r)
		}
	}
	for _, r := range p.added {
		if r.ChildAccountID == childID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *pendingEdges) has(ctx context.Context, parentID, childID string) (bool, error) {
	parents, err := p.ListParents(ctx, childID)
	if err != nil {
		return false, err
	}
	for _, r := range parents {
		if r.ParentAccountID == parentID {
			return true, nil
		}
	}
	return false, nil
}

// UpdateRelationships validates the whole change against the current graph
// and writes it only if no edge is invalid, duplicated or cycle forming. Edge
// mutations hold the graph lock so checks on different accounts cannot
// interleave.
func (s *Service) UpdateRelationships(ctx context.Context, userID, accountID string, change RelationshipChange) (_ Relationships, err error) {
	const op = "update_relationships"
	defer s.observe(op, time.Now(), &err)
	if err := s.authorize(op, access.ActionUpdate, userID, accountID); err != nil {
		return Relationships{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	unlock, err := s.lockAccount(ctx, op, accountID)
	if err != nil {
		return Relationships{}, err
	}
	defer unlock()
	unlockGraph, err := s.lockGraph(ctx, op, accountID)
	if err != nil {
		return Relationships{}, err
	}
	defer unlockGraph()

	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return Relationships{}, wrap(op, accountID, err)
	}

	batch := &pendingEdges{base: s.relationships, removed: make(map[string]bool)}
	var removed []graph.Relationship
	for _, relID := range change.Remove {
		r, err := s.relationships.Get(ctx, relID)
		if err != nil {
			return Relationships{}, wrap(op, accountID, fmt.Errorf("relationship %s: %w", relID, err))
		}
		if r.ParentAccountID != accountID && r.ChildAccountID != accountID {
			return Relationships{}, newError(CodeValidation, op, accountID,
				fmt.Errorf("%w: relationship %s does not involve account %s", graph.ErrInvalid, relID, accountID))
		}
		if !batch.removed[relID] {
			batch.removed[relID] = true
			removed = append(removed, r)
		}
	}

	now := s.now().UTC()
	proposed := make([]graph.Relationship, 0, len(change.AddParents)+len(change.AddChildren))
	for _, l := range change.AddParents {
		proposed = append(proposed, s.newEdge(l.AccountID, accountID, l.Type, userID, now))
	}
	for _, l := range change.AddChildren {
		proposed = append(proposed, s.newEdge(accountID, l.AccountID, l.Type, userID, now))
	}

	checked := make(map[string]bool)
	for _, r := range proposed {
		if ferrs := graph.Validate(r); len(ferrs) > 0 {
			if r.ParentAccountID != "" && r.ParentAccountID == r.ChildAccountID {
				return Relationships{}, newError(CodeCircularReference, op, accountID,
					fmt.Errorf("%w: %s cannot be its own parent", graph.ErrCircularReference, r.ParentAccountID))
			}
			return Relationships{}, newError(CodeValidation, op, accountID, &EdgeValidationError{Fields: ferrs})
		}
		other := r.ParentAccountID
		if other == accountID {
			other = r.ChildAccountID
		}
		if !checked[other] {
			if _, err := s.accounts.Get(ctx, other); err != nil {
				return Relationships{}, wrap(op, accountID, fmt.Errorf("related account %s: %w", other, err))
			}
			checked[other] = true
		}
		dup, err := batch.has(ctx, r.ParentAccountID, r.ChildAccountID)
		if err != nil {
			return Relationships{}, wrap(op, accountID, err)
		}
		if dup {
			return Relationships{}, newError(CodeConflict, op, accountID,
				fmt.Errorf("%w: %s -> %s", graph.ErrConflict, r.ParentAccountID, r.ChildAccountID))
		}
		ancestors, err := graph.CollectAncestors(ctx, batch, r.ParentAccountID, 0)
		if err != nil {
			return Relationships{}, wrap(op, accountID, err)
		}
		if graph.WouldCreateCircularReference(ancestors, r.ParentAccountID, r.ChildAccountID) {
			return Relationships{}, newError(CodeCircularReference, op, accountID,
				fmt.Errorf("%w: %s -> %s", graph.ErrCircularReference, r.ParentAccountID, r.ChildAccountID))
		}
		batch.added = append(batch.added, r)
	}

	removeIDs := make([]string, 0, len(removed))
	for _, r := range removed {
		removeIDs = append(removeIDs, r.ID)
	}
	if err := s.relationships.ApplyBatch(ctx, removeIDs, batch.added); err != nil {
		return Relationships{}, wrap(op, accountID, err)
	}

	details := map[string]any{"relationships": map[string]any{
		"added":   edgeSummaries(batch.added),
		"removed": edgeSummaries(removed),
	}}
	if _, err := s.trail.LogUpdate(ctx, account.EntityType, accountID, details, userID); err != nil {
		return Relationships{}, wrap(op, accountID, err)
	}
	rels, err := s.listRelationships(ctx, accountID)
	if err != nil {
		return Relationships{}, wrap(op, accountID, err)
	}
	return rels, nil
}

// GetRelationships lists the parent and child edges of an account.
func (s *Service) GetRelationships(ctx context.Context, userID, accountID string) (_ Relationships, err error) {
	const op = "get_relationships"
	defer s.observe(op, time.Now(), &err)
	if err := s.authorize(op, access.ActionView, userID, accountID); err != nil {
		return Relationships{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rels, err := s.listRelationships(ctx, accountID)
	if err != nil {
		return Relationships{}, wrap(op, accountID, err)
	}
	if _, err := s.trail.LogAccess(ctx, account.EntityType, accountID, map[string]any{"reason": "relationships"}, userID); err != nil {
		return Relationships{}, wrap(op, accountID, err)
	}
	return rels, nil
}

func (s *Service) listRelationships(ctx context.Context, accountID string) (Relationships, error) {
	parents, err := s.relationships.ListParents(ctx, accountID)
	if err != nil {
		return Relationships{}, err
	}
	children, err := s.relationships.ListChildren(ctx, accountID)
	if err != nil {
		return Relationships{}, err
	}
	if parents == nil {
		parents = []graph.Relationship{}
	}
	if children == nil {
		children = []graph.Relationship{}
	}
	return Relationships{Parents: parents, Children: children}, nil
}

func (s *Service) newEdge(parentID, childID string, typ graph.Type, userID string, now time.Time) graph.Relationship {
	if typ == "" {
		typ = graph.TypeParentChild
	}
	return graph.Relationship{
		ID:              ids.NewAt(now),
		ParentAccountID: parentID,
		ChildAccountID:  childID,
		Type:            typ,
		CreatedBy:       userID,
		CreatedAt:       now,
		UpdatedBy:       userID,
		UpdatedAt:       now,
	}
}

func edgeSummaries(rs []graph.Relationship) []map[string]any {
	out := make([]map[string]any, 0, len(rs))
	for _, r := range rs {
		out = append(out, map[string]any{
			"id":                r.ID,
			"parent_account_id": r.ParentAccountID,
			"child_account_id":  r.ChildAccountID,
			"relationship_type": string(r.Type),
		})
	}
	return out
}

// EdgeValidationError lists the structural problems of a proposed edge.
type EdgeValidationError struct {
	Fields []graph.FieldError
}

func (e *EdgeValidationError) Error() string {
	msg := graph.ErrInvalid.Error()
	for i, f := range e.Fields {
		if i == 0 {
			msg += ": "
		} else {
			msg += "; "
		}
		msg += f.Error()
	}
	return msg
}

func (e *EdgeValidationError) Unwrap() error { return graph.ErrInvalid }
