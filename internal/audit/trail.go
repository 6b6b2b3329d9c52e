// Package audit records an append-only trail of entity lifecycle events.
// Payloads are sanitized and size capped before they reach the store.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"vaultline.org/internal/ids"
	"vaultline.org/internal/obs"
)

var ErrInvalid = errors.New("audit: entity type and id are required")

const (
	DefaultMaxDetailsChars = 10000
	previewChars           = 256
)

// Directory resolves user ids to display names.
type Directory interface {
	DisplayName(userID string) (string, bool)
}

// DirectoryMap is a fixed id to name Directory.
type DirectoryMap map[string]string

func (d DirectoryMap) DisplayName(userID string) (string, bool) {
	name, ok := d[userID]
	return name, ok
}

// Trail writes and reads audit entries through a Store.
type Trail struct {
	store      Store
	sanitizer  *Sanitizer
	directory  Directory
	now        func() time.Time
	maxDetails int
	maxDepth   int
}

type Option func(*Trail)

func WithDirectory(d Directory) Option {
	return func(t *Trail) { t.directory = d }
}

func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// WithMaxDetailsChars sets the size above which details are replaced by a
// truncation summary. Non-positive values keep the default.
func WithMaxDetailsChars(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.maxDetails = n
		}
	}
}

func WithSanitizer(s *Sanitizer) Option {
	return func(t *Trail) {
		if s != nil {
			t.sanitizer = s
		}
	}
}

func WithMaxDepth(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.maxDepth = n
		}
	}
}

func New(store Store, opts ...Option) *Trail {
	t := &Trail{
		store:      store,
		sanitizer:  NewSanitizer(),
		now:        time.Now,
		maxDetails: DefaultMaxDetailsChars,
		maxDepth:   DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LogCreation records the full snapshot of a new entity.
func (t *Trail) LogCreation(ctx context.Context, entityType, entityID string, snapshot any, userID string) (Entry, error) {
	v, err := t.payload(snapshot)
	if err != nil {
		return Entry{}, err
	}
	return t.append(ctx, entityType, entityID, ActionCreate, v, userID)
}

// LogUpdate records the changed fields under "changes".
func (t *Trail) LogUpdate(ctx context.Context, entityType, entityID string, changes any, userID string) (Entry, error) {
	v, err := t.payload(changes)
	if err != nil {
		return Entry{}, err
	}
	return t.append(ctx, entityType, entityID, ActionUpdate, Object{"changes": v}, userID)
}

// LogDeletion records the last known snapshot under "snapshot". A nil
// snapshot produces empty details.
func (t *Trail) LogDeletion(ctx context.Context, entityType, entityID string, snapshot any, userID string) (Entry, error) {
	if snapshot == nil {
		return t.append(ctx, entityType, entityID, ActionDelete, Object{}, userID)
	}
	v, err := t.payload(snapshot)
	if err != nil {
		return Entry{}, err
	}
	return t.append(ctx, entityType, entityID, ActionDelete, Object{"snapshot": v}, userID)
}

// LogAccess records a read, such as {"reason": "data_export"}.
func (t *Trail) LogAccess(ctx context.Context, entityType, entityID string, details any, userID string) (Entry, error) {
	v, err := t.payload(details)
	if err != nil {
		return Entry{}, err
	}
	return t.append(ctx, entityType, entityID, ActionAccess, v, userID)
}

// GetAuditTrail returns one page of the entity's entries, newest first.
func (t *Trail) GetAuditTrail(ctx context.Context, entityType, entityID string, page Page) (PageResult, error) {
	page = page.normalized()
	entries, err := t.store.List(ctx, entityType, entityID)
	if err != nil {
		return PageResult{}, fmt.Errorf("audit: list: %w", err)
	}
	SortOldestFirst(entries)
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	res := PageResult{Entries: []Entry{}, Total: len(entries), Limit: page.Limit, Offset: page.Offset}
	if page.Offset >= len(entries) {
		return res, nil
	}
	end := page.Offset + page.Limit
	if end > len(entries) {
		end = len(entries)
	}
	res.Entries = entries[page.Offset:end]
	return res, nil
}

// ExportAuditData returns every entry for the entity, oldest first.
func (t *Trail) ExportAuditData(ctx context.Context, entityType, entityID, exportedBy string) (*Export, error) {
	entries, err := t.store.List(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("audit: export: %w", err)
	}
	SortOldestFirst(entries)
	if entries == nil {
		entries = []Entry{}
	}
	return &Export{
		EntityType: entityType,
		EntityID:   entityID,
		Entries:    entries,
		ExportDate: t.now().UTC(),
		ExportedBy: exportedBy,
	}, nil
}

// DeleteAuditData purges every entry for the entity and returns the count.
// Purging an entity with no entries succeeds with zero.
func (t *Trail) DeleteAuditData(ctx context.Context, entityType, entityID string) (int, error) {
	n, err := t.store.DeleteEntity(ctx, entityType, entityID)
	if err != nil {
		return 0, fmt.Errorf("audit: delete: %w", err)
	}
	return int(n), nil
}

func (t *Trail) payload(v any) (Value, error) {
	if v == nil {
		return Object{}, nil
	}
	return FromAny(v, t.maxDepth)
}

func (t *Trail) append(ctx context.Context, entityType, entityID string, action Action, details Value, userID string) (Entry, error) {
	entityType = strings.TrimSpace(entityType)
	entityID = strings.TrimSpace(entityID)
	if entityType == "" || entityID == "" {
		return Entry{}, ErrInvalid
	}
	data, err := t.encodeDetails(t.sanitizer.Sanitize(details))
	if err != nil {
		return Entry{}, err
	}
	prov := ProvenanceFromContext(ctx)
	e := Entry{
		ID:         ids.New(),
		Timestamp:  t.now().UTC(),
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Action:     action,
		Details:    data,
		IPAddress:  prov.IPAddress,
		UserAgent:  prov.UserAgent,
		RequestID:  prov.RequestID,
	}
	if t.directory != nil {
		if name, ok := t.directory.DisplayName(userID); ok {
			e.UserName = name
		}
	}
	if err := t.store.Append(ctx, &e); err != nil {
		return Entry{}, fmt.Errorf("audit: append: %w", err)
	}

	fields := map[string]any{
		"audit_id":    e.ID,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"action":      string(e.Action),
		"user_id":     e.UserID,
	}
	if e.RequestID != "" {
		fields["request_id"] = e.RequestID
	}
	obs.Event(obs.LevelInfo, "audit.append", fields)
	return e, nil
}

func (t *Trail) encodeDetails(v Value) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit: encode details: %w", err)
	}
	size := utf8.RuneCount(data)
	if size <= t.maxDetails {
		return data, nil
	}
	preview := []rune(string(data))
	if len(preview) > previewChars {
		preview = preview[:previewChars]
	}
	summary, err := json.Marshal(map[string]any{
		"_truncated":    true,
		"original_size": size,
		"preview":       string(preview),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: encode truncation summary: %w", err)
	}
	return summary, nil
}
