package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vaultline.org/internal/graph"
)

// RelationshipStore implements graph.Store over account_relationships.
type RelationshipStore struct {
	db *sql.DB
}

var _ graph.Store = (*RelationshipStore)(nil)

const relationshipColumns = `id, parent_account_id, child_account_id, relationship_type,
	created_by, created_at, updated_by, updated_at`

const insertRelationship = `
	insert into account_relationships (` + relationshipColumns + `)
	values ($1, $2, $3, $4, $5, $6, $7, $8)`

func (s *RelationshipStore) Create(ctx context.Context, r graph.Relationship) error {
	_, err := s.db.ExecContext(ctx, insertRelationship,
		r.ID, r.ParentAccountID, r.ChildAccountID, string(r.Type),
		r.CreatedBy, r.CreatedAt.UTC(), r.UpdatedBy, r.UpdatedAt.UTC())
	return edgeError(err)
}

// ApplyBatch runs every delete and insert in one transaction.
func (s *RelationshipStore) ApplyBatch(ctx context.Context, remove []string, add []graph.Relationship) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range remove {
		res, err := tx.ExecContext(ctx, `delete from account_relationships where id = $1`, id)
		if err != nil {
			return err
		}
		if err := requireRow(res, graph.ErrNotFound); err != nil {
			return fmt.Errorf("%w: relationship %s", err, id)
		}
	}
	for _, r := range add {
		_, err := tx.ExecContext(ctx, insertRelationship,
			r.ID, r.ParentAccountID, r.ChildAccountID, string(r.Type),
			r.CreatedBy, r.CreatedAt.UTC(), r.UpdatedBy, r.UpdatedAt.UTC())
		if err != nil {
			return edgeError(err)
		}
	}
	return tx.Commit()
}

func edgeError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return graph.ErrConflict
		case pgErrCheckViolation:
			return graph.ErrCircularReference
		}
	}
	return err
}

func (s *RelationshipStore) Get(ctx context.Context, id string) (graph.Relationship, error) {
	row := s.db.QueryRowContext(ctx, `select `+relationshipColumns+` from account_relationships where id = $1`, id)
	r, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Relationship{}, graph.ErrNotFound
	}
	return r, err
}

func (s *RelationshipStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from account_relationships where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, graph.ErrNotFound)
}

func (s *RelationshipStore) ListParents(ctx context.Context, childID string) ([]graph.Relationship, error) {
	return s.list(ctx, `child_account_id = $1`, childID)
}

func (s *RelationshipStore) ListChildren(ctx context.Context, parentID string) ([]graph.Relationship, error) {
	return s.list(ctx, `parent_account_id = $1`, parentID)
}

func (s *RelationshipStore) DeleteForAccount(ctx context.Context, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from account_relationships where parent_account_id = $1 or child_account_id = $1`, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *RelationshipStore) list(ctx context.Context, cond string, arg string) ([]graph.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+relationshipColumns+` from account_relationships where `+cond+` order by created_at, id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []graph.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRelationship(sc scanner) (graph.Relationship, error) {
	var (
		r   graph.Relationship
		typ string
	)
	if err := sc.Scan(&r.ID, &r.ParentAccountID, &r.ChildAccountID, &typ,
		&r.CreatedBy, &r.CreatedAt, &r.UpdatedBy, &r.UpdatedAt); err != nil {
		return graph.Relationship{}, err
	}
	r.Type = graph.Type(typ)
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return r, nil
}
