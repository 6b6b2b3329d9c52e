// Package pg implements the account, relationship and audit stores on
// PostgreSQL through the pgx database/sql driver.
package pg

import (
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgErrUniqueViolation = "23505"
	pgErrCheckViolation  = "23514"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema files, named NNNN_name.up.sql and .down.sql.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store bundles the three stores over one connection pool.
type Store struct {
	db *sql.DB
}

// Open connects with pool defaults sized for a single service instance.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Accounts() *AccountStore { return &AccountStore{db: s.db} }

func (s *Store) Relationships() *RelationshipStore { return &RelationshipStore{db: s.db} }

func (s *Store) AuditEntries() *AuditStore { return &AuditStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

type scanner interface {
	Scan(dest ...any) error
}
