package sql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var _ storage.Storage = (*Store)(nil)

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL (lib/pq and pgx)
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Times are stored as unix nanoseconds so expiry comparisons behave the same
// on every driver.
func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store and applies pending migrations.
// Supported drivers are sqlite3, postgres and pgx.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if driver == "sqlite3" {
		// One writer avoids SQLITE_BUSY under concurrent requests.
		db.SetMaxOpenConns(1)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(dialect(driver)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

func dialect(driver string) string {
	if driver == "pgx" {
		return "postgres"
	}
	return driver
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================
// Stacks
// ============================================

type stackRow struct {
	ID        string `db:"id"`
	Data      string `db:"data"`
	Version   int64  `db:"version"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r *stackRow) toDomain() (*domain.Stack, error) {
	stack, err := domain.DecodeStack([]byte(r.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding stack %s: %w", r.ID, err)
	}
	stack.Version = r.Version
	return stack, nil
}

func (s *Store) CreateStack(ctx context.Context, stack *domain.Stack) error {
	stack.Version = 1
	data, err := domain.EncodeStack(stack)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stacks (id, data, version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		stack.ID, string(data), stack.Version, toNanos(stack.CreatedAt), toNanos(stack.UpdatedAt))
	return wrapUniqueError(err)
}

func (s *Store) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	var row stackRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, data, version, created_at, updated_at FROM stacks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) ListStacks(ctx context.Context) ([]*domain.Stack, error) {
	var rows []stackRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, data, version, created_at, updated_at FROM stacks ORDER BY id`); err != nil {
		return nil, err
	}
	stacks := make([]*domain.Stack, 0, len(rows))
	for i := range rows {
		stack, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, stack)
	}
	return stacks, nil
}

func (s *Store) UpdateStack(ctx context.Context, stack *domain.Stack) error {
	expected := stack.Version
	stack.Version = expected + 1
	data, err := domain.EncodeStack(stack)
	if err != nil {
		stack.Version = expected
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE stacks SET data = $1, version = $2, updated_at = $3 WHERE id = $4 AND version = $5`,
		string(data), stack.Version, toNanos(stack.UpdatedAt), stack.ID, expected)
	if err != nil {
		stack.Version = expected
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 1 {
		return nil
	}
	stack.Version = expected

	var exists int
	err = s.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM stacks WHERE id = $1`, stack.ID)
	if err != nil {
		return err
	}
	if exists == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (s *Store) DeleteStack(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM stacks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ============================================
// Tokens
// ============================================

type tokenRow struct {
	ID        string `db:"id"`
	Principal string `db:"principal"`
	IssuedAt  int64  `db:"issued_at"`
	ExpiresAt int64  `db:"expires_at"`
}

func (s *Store) CreateToken(ctx context.Context, token *domain.Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, principal, issued_at, expires_at) VALUES ($1, $2, $3, $4)`,
		token.ID, token.Principal, toNanos(token.IssuedAt), toNanos(token.ExpiresAt))
	return wrapUniqueError(err)
}

func (s *Store) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	var row tokenRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, principal, issued_at, expires_at FROM tokens WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.Token{
		ID:        row.ID,
		Principal: row.Principal,
		IssuedAt:  fromNanos(row.IssuedAt),
		ExpiresAt: fromNanos(row.ExpiresAt),
	}, nil
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = $1`, id)
	return err
}

// ============================================
// Root credential
// ============================================

type rootRow struct {
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	UpdatedAt    int64  `db:"updated_at"`
}

func (s *Store) GetRootCredential(ctx context.Context) (*domain.RootCredential, error) {
	var row rootRow
	err := s.db.GetContext(ctx, &row,
		`SELECT username, password_hash, updated_at FROM root_credential WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.RootCredential{
		Username:     row.Username,
		PasswordHash: []byte(row.PasswordHash),
		UpdatedAt:    fromNanos(row.UpdatedAt),
	}, nil
}

func (s *Store) InitRootCredential(ctx context.Context, cred *domain.RootCredential) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO root_credential (id, username, password_hash, updated_at) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		cred.Username, string(cred.PasswordHash), toNanos(cred.UpdatedAt))
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (s *Store) PutRootCredential(ctx context.Context, cred *domain.RootCredential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO root_credential (id, username, password_hash, updated_at) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET username = excluded.username,
		     password_hash = excluded.password_hash, updated_at = excluded.updated_at`,
		cred.Username, string(cred.PasswordHash), toNanos(cred.UpdatedAt))
	return err
}

// ============================================
// Leases
// ============================================

type leaseRow struct {
	StackID    string `db:"stack_id"`
	Holder     string `db:"holder"`
	LeaseID    string `db:"lease_id"`
	Operation  string `db:"operation"`
	AcquiredAt int64  `db:"acquired_at"`
	Deadline   int64  `db:"deadline"`
}

// AcquireLease inserts the lease, or takes over a row whose deadline has
// passed. The conditional upsert makes the check and the write one statement.
func (s *Store) AcquireLease(ctx context.Context, lease *domain.Lease, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO leases (stack_id, holder, lease_id, operation, acquired_at, deadline)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (stack_id) DO UPDATE SET holder = excluded.holder, lease_id = excluded.lease_id,
		     operation = excluded.operation, acquired_at = excluded.acquired_at, deadline = excluded.deadline
		 WHERE leases.deadline <= $7`,
		lease.StackID, lease.Holder, lease.LeaseID, string(lease.Operation),
		toNanos(lease.AcquiredAt), toNanos(lease.Deadline), toNanos(now))
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (s *Store) RenewLease(ctx context.Context, stackID, leaseID string, deadline, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE leases SET deadline = $1 WHERE stack_id = $2 AND lease_id = $3 AND deadline > $4`,
		toNanos(deadline), stackID, leaseID, toNanos(now))
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (s *Store) ReleaseLease(ctx context.Context, stackID, leaseID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE stack_id = $1 AND lease_id = $2`, stackID, leaseID)
	return err
}

func (s *Store) GetLease(ctx context.Context, stackID string) (*domain.Lease, error) {
	var row leaseRow
	err := s.db.GetContext(ctx, &row,
		`SELECT stack_id, holder, lease_id, operation, acquired_at, deadline FROM leases WHERE stack_id = $1`, stackID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.Lease{
		StackID:    row.StackID,
		Holder:     row.Holder,
		LeaseID:    row.LeaseID,
		Operation:  domain.Operation(row.Operation),
		AcquiredAt: fromNanos(row.AcquiredAt),
		Deadline:   fromNanos(row.Deadline),
	}, nil
}

func (s *Store) DeleteLease(ctx context.Context, stackID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE stack_id = $1`, stackID)
	return err
}

// PurgeExpired removes expired tokens and leases.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := toNanos(now)
	total := 0
	for _, q := range []string{
		`DELETE FROM tokens WHERE expires_at <= $1`,
		`DELETE FROM leases WHERE deadline <= $1`,
	} {
		result, err := s.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return total, err
		}
		rows, _ := result.RowsAffected()
		total += int(rows)
	}
	return total, nil
}
