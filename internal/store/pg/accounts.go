package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vaultline.org/internal/account"
)

// AccountStore implements account.Store over the accounts table.
type AccountStore struct {
	db *sql.DB
}

var _ account.Store = (*AccountStore)(nil)

const accountColumns = `id, name, industry, type, status, email, phone, website,
	billing_address, shipping_address, tags, custom_fields,
	created_by, created_at, updated_by, updated_at`

func (s *AccountStore) Create(ctx context.Context, r account.Record) error {
	billing, shipping, tags, err := encodeRecord(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into accounts (`+accountColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.Name, string(r.Industry), string(r.Type), string(r.Status), r.Email, r.Phone, r.Website,
		billing, shipping, tags, r.CustomFields,
		r.CreatedBy, r.CreatedAt.UTC(), r.UpdatedBy, r.UpdatedAt.UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return account.ErrConflict
	}
	return err
}

func (s *AccountStore) Get(ctx context.Context, id string) (account.Record, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Record{}, account.ErrNotFound
	}
	return r, err
}

func (s *AccountStore) Update(ctx context.Context, r account.Record) error {
	billing, shipping, tags, err := encodeRecord(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts set
			name = $2, industry = $3, type = $4, status = $5,
			email = $6, phone = $7, website = $8,
			billing_address = $9, shipping_address = $10, tags = $11, custom_fields = $12,
			updated_by = $13, updated_at = $14
		where id = $1`,
		r.ID, r.Name, string(r.Industry), string(r.Type), string(r.Status),
		r.Email, r.Phone, r.Website,
		billing, shipping, tags, r.CustomFields,
		r.UpdatedBy, r.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	return requireRow(res, account.ErrNotFound)
}

func (s *AccountStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from accounts where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, account.ErrNotFound)
}

// List filters on the indexed attributes and orders by creation time, then id.
func (s *AccountStore) List(ctx context.Context, q account.Query) ([]account.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.Industry != "" {
		add("industry = $%d", string(q.Industry))
	}
	if q.Type != "" {
		add("type = $%d", string(q.Type))
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if q.Tag != "" {
		tag, _ := json.Marshal([]string{q.Tag})
		add("tags @> $%d::jsonb", string(tag))
	}
	query := `select ` + accountColumns + ` from accounts`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	args = append(args, account.ClampLimit(q.Limit), max(q.Offset, 0))
	query += fmt.Sprintf(` order by created_at, id limit $%d offset $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []account.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeRecord(r account.Record) (billing, shipping any, tags string, err error) {
	if billing, err = encodeAddress(r.BillingAddress); err != nil {
		return nil, nil, "", err
	}
	if shipping, err = encodeAddress(r.ShippingAddress); err != nil {
		return nil, nil, "", err
	}
	list := r.Tags
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, nil, "", err
	}
	return billing, shipping, string(b), nil
}

func encodeAddress(a *account.Address) (any, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanRecord(sc scanner) (account.Record, error) {
	var (
		r                         account.Record
		industry, typ, status     string
		billing, shipping, tagRaw []byte
	)
	if err := sc.Scan(&r.ID, &r.Name, &industry, &typ, &status, &r.Email, &r.Phone, &r.Website,
		&billing, &shipping, &tagRaw, &r.CustomFields,
		&r.CreatedBy, &r.CreatedAt, &r.UpdatedBy, &r.UpdatedAt); err != nil {
		return account.Record{}, err
	}
	r.Industry, r.Type, r.Status = account.Industry(industry), account.Type(typ), account.Status(status)
	var err error
	if r.BillingAddress, err = decodeAddress(billing); err != nil {
		return account.Record{}, fmt.Errorf("account %s billing_address: %w", r.ID, err)
	}
	if r.ShippingAddress, err = decodeAddress(shipping); err != nil {
		return account.Record{}, fmt.Errorf("account %s shipping_address: %w", r.ID, err)
	}
	if len(tagRaw) > 0 {
		if err := json.Unmarshal(tagRaw, &r.Tags); err != nil {
			return account.Record{}, fmt.Errorf("account %s tags: %w", r.ID, err)
		}
		if len(r.Tags) == 0 {
			r.Tags = nil
		}
	}
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return r, nil
}

func decodeAddress(raw []byte) (*account.Address, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var a account.Address
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
