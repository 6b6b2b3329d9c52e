// Package graph validates parent/child links between accounts and keeps the
// link graph acyclic. It never owns account storage.
package graph

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrCircularReference = errors.New("graph: relationship would create a circular reference")
	ErrInvalid           = errors.New("graph: invalid relationship")
	ErrNotFound          = errors.New("graph: relationship not found")
	ErrConflict          = errors.New("graph: relationship already exists")
)

// Type classifies a link.
type Type string

const (
	TypeParentChild Type = "PARENT_CHILD"
	TypeSubsidiary  Type = "SUBSIDIARY"
	TypeAffiliate   Type = "AFFILIATE"
	TypeFranchise   Type = "FRANCHISE"
)

var knownTypes = map[Type]struct{}{
	TypeParentChild: {}, TypeSubsidiary: {}, TypeAffiliate: {}, TypeFranchise: {},
}

// Relationship is a directed edge from parent to child.
type Relationship struct {
	ID              string    `json:"id"`
	ParentAccountID string    `json:"parent_account_id"`
	ChildAccountID  string    `json:"child_account_id"`
	Type            Type      `json:"relationship_type"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedBy       string    `json:"updated_by"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// Validate lists every structural problem with r. An empty result means valid.
func Validate(r Relationship) []FieldError {
	var errs []FieldError
	parent := strings.TrimSpace(r.ParentAccountID)
	child := strings.TrimSpace(r.ChildAccountID)
	if parent == "" {
		errs = append(errs, FieldError{"parent_account_id", "is required"})
	}
	if child == "" {
		errs = append(errs, FieldError{"child_account_id", "is required"})
	}
	if parent != "" && parent == child {
		errs = append(errs, FieldError{"child_account_id", "must differ from parent_account_id"})
	}
	if r.Type == "" {
		errs = append(errs, FieldError{"relationship_type", "is required"})
	} else if _, ok := knownTypes[r.Type]; !ok {
		errs = append(errs, FieldError{"relationship_type", "unsupported value " + string(r.Type)})
	}
	return errs
}

// ParseType accepts case-insensitive type names.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := knownTypes[t]
	return t, ok
}
