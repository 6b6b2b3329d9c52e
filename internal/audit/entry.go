package audit

import (
	"encoding/json"
	"time"
)

// Action names the lifecycle event an entry records.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAccess Action = "access"
)

// Entry is one immutable audit record. Details hold sanitized JSON.
type Entry struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Seq        int64           `json:"seq"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	UserID     string          `json:"user_id"`
	UserName   string          `json:"user_name,omitempty"`
	Action     Action          `json:"action"`
	Details    json.RawMessage `json:"details"`
	IPAddress  string          `json:"ip_address,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
}

// Clone copies the entry including its details buffer.
func (e Entry) Clone() Entry {
	if e.Details != nil {
		e.Details = append(json.RawMessage(nil), e.Details...)
	}
	return e
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Page selects a window of the newest-first trail.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PageResult is one page of entries, newest first.
type PageResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Export is the portable, oldest-first dump of one entity's trail.
type Export struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Entries    []Entry   `json:"entries"`
	ExportDate time.Time `json:"export_date"`
	ExportedBy string    `json:"exported_by"`
}
