package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"vaultline.org/internal/audit"
)

// AuditStore implements audit.Store over audit_entries. The bigserial seq
// column breaks timestamp ties.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

const auditColumns = `seq, id, ts, entity_type, entity_id, user_id, user_name, action,
	details, ip_address, user_agent, request_id`

func (s *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	details := string(e.Details)
	if details == "" {
		details = "{}"
	}
	return s.db.QueryRowContext(ctx, `
		insert into audit_entries (id, ts, entity_type, entity_id, user_id, user_name, action,
			details, ip_address, user_agent, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning seq`,
		e.ID, e.Timestamp.UTC(), e.EntityType, e.EntityID, e.UserID, e.UserName, string(e.Action),
		details, e.IPAddress, e.UserAgent, e.RequestID,
	).Scan(&e.Seq)
}

func (s *AuditStore) List(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+auditColumns+` from audit_entries
		where entity_type = $1 and entity_id = $2
		order by ts, seq`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			action  string
			details []byte
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Timestamp, &e.EntityType, &e.EntityID, &e.UserID, &e.UserName,
			&action, &details, &e.IPAddress, &e.UserAgent, &e.RequestID); err != nil {
			return nil, err
		}
		e.Action = audit.Action(action)
		e.Details = json.RawMessage(details)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *AuditStore) DeleteEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from audit_entries where entity_type = $1 and entity_id = $2`, entityType, entityID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
