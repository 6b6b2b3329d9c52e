package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vaultline.org/internal/account"
	"vaultline.org/internal/fieldcrypt"
	"vaultline.org/internal/graph"
)

// Code is the machine-readable class of an orchestrator error.
type Code string

const (
	CodeValidation        Code = "VALIDATION_FAILED"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeCircularReference Code = "CIRCULAR_REFERENCE"
	CodeDecryption        Code = "DECRYPTION_FAILED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodePartialFailure    Code = "COMPLIANCE_PARTIAL_FAILURE"
	CodeTimeout           Code = "TIMEOUT"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInternal          Code = "INTERNAL"
)

var (
	ErrValidation        = errors.New("compliance: validation failed")
	ErrPermissionDenied  = errors.New("compliance: permission denied")
	ErrCircularReference = errors.New("compliance: circular reference")
	ErrDecryption        = errors.New("compliance: decryption failed")
	ErrNotFound          = errors.New("compliance: not found")
	ErrConflict          = errors.New("compliance: conflict")
	ErrPartialFailure    = errors.New("compliance: partial failure")
	ErrTimeout           = errors.New("compliance: timeout")
	ErrRateLimited       = errors.New("compliance: rate limited")
	ErrInternal          = errors.New("compliance: internal error")
)

var sentinels = map[Code]error{
	CodeValidation:        ErrValidation,
	CodePermissionDenied:  ErrPermissionDenied,
	CodeCircularReference: ErrCircularReference,
	CodeDecryption:        ErrDecryption,
	CodeNotFound:          ErrNotFound,
	CodeConflict:          ErrConflict,
	CodePartialFailure:    ErrPartialFailure,
	CodeTimeout:           ErrTimeout,
	CodeRateLimited:       ErrRateLimited,
	CodeInternal:          ErrInternal,
}

// Error is returned by every Service operation.
type Error struct {
	Code     Code
	Op       string
	EntityID string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Op)
	if e.EntityID != "" {
		b.WriteString(" ")
		b.WriteString(e.EntityID)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Code))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the code sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if s, ok := sentinels[e.Code]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Retryable reports whether repeating the call may succeed.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeTimeout, CodePartialFailure, CodeRateLimited:
		return true
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return classify(err)
}

// StepFailure records one erasure step that did not complete.
type StepFailure struct {
	Step string
	Err  error
}

// PartialFailureError lists the erasure steps that failed. Every step is
// idempotent so the whole erasure can be retried.
type PartialFailureError struct {
	AccountID string
	Failed    []StepFailure
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Step, f.Err))
	}
	return fmt.Sprintf("erasure of account %s incomplete (%s)", e.AccountID, strings.Join(parts, "; "))
}

func (e *PartialFailureError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f.Err)
	}
	return out
}

// Steps names the failed steps in order.
func (e *PartialFailureError) Steps() []string {
	out := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f.Step)
	}
	return out
}

func classify(err error) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeTimeout
	case errors.Is(err, account.ErrNotFound), errors.Is(err, graph.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, account.ErrConflict), errors.Is(err, graph.ErrConflict):
		return CodeConflict
	case errors.Is(err, graph.ErrCircularReference):
		return CodeCircularReference
	case errors.Is(err, account.ErrInvalid), errors.Is(err, graph.ErrInvalid):
		return CodeValidation
	case errors.Is(err, fieldcrypt.ErrDecrypt):
		return CodeDecryption
	}
	return CodeInternal
}

func wrap(op, entityID string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: classify(err), Op: op, EntityID: entityID, Err: err}
}

func newError(code Code, op, entityID string, err error) *Error {
	return &Error{Code: code, Op: op, EntityID: entityID, Err: err}
}
