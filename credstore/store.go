// Package credstore persists the accounts the reference backend signs in,
// confirms and resets. It uses SQLite through the pure-Go modernc driver.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no account exists for an email.
	ErrNotFound = errors.New("account not found")
	// ErrExists is returned when an account already exists for an email.
	ErrExists = errors.New("account already exists")
	// ErrConfirmed is returned when an unconfirmed-only update hits a confirmed account.
	ErrConfirmed = errors.New("account already confirmed")
)

// Account is one stored credential record.
type Account struct {
	ID             string
	Email          string
	Name           string
	PasswordHash   string
	EmailConfirmed bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store is a SQLite-backed account table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	email TEXT PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	email_confirmed INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Open opens (and creates if needed) the database at path. ":memory:" keeps
// the table in process memory.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a new unconfirmed account and returns it.
func (s *Store) Create(ctx context.Context, email, name, passwordHash string) (*Account, error) {
	now := s.now().UTC().Truncate(time.Second)
	acct := &Account{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (email, id, name, password_hash, email_confirmed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(email) DO NOTHING`,
		acct.Email, acct.ID, acct.Name, acct.PasswordHash, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	if n == 0 {
		return nil, ErrExists
	}
	return acct, nil
}

// Get loads the account for email.
func (s *Store) Get(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, email_confirmed, created_at, updated_at
		 FROM accounts WHERE email = ?`, normalizeEmail(email))

	var (
		acct      Account
		confirmed int
		created   int64
		updated   int64
	)
	err := row.Scan(&acct.ID, &acct.Email, &acct.Name, &acct.PasswordHash, &confirmed, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	acct.EmailConfirmed = confirmed != 0
	acct.CreatedAt = time.Unix(created, 0).UTC()
	acct.UpdatedAt = time.Unix(updated, 0).UTC()
	return &acct, nil
}

// ConfirmEmail marks the account's email as confirmed. Confirming twice is not an error.
func (s *Store) ConfirmEmail(ctx context.Context, email string) error {
	return s.update(ctx,
		`UPDATE accounts SET email_confirmed = 1, updated_at = ? WHERE email = ?`,
		s.now().Unix(), normalizeEmail(email))
}

// UpdatePassword replaces the stored password hash.
func (s *Store) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	return s.update(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE email = ?`,
		passwordHash, s.now().Unix(), normalizeEmail(email))
}

// ReplaceUnconfirmed overwrites name and password of an account that never
// confirmed its email. It returns ErrConfirmed for confirmed accounts and
// ErrNotFound when there is no account.
func (s *Store) ReplaceUnconfirmed(ctx context.Context, email, name, passwordHash string) error {
	err := s.update(ctx,
		`UPDATE accounts SET name = ?, password_hash = ?, updated_at = ?
		 WHERE email = ? AND email_confirmed = 0`,
		name, passwordHash, s.now().Unix(), normalizeEmail(email))
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, getErr := s.Get(ctx, email); getErr == nil {
		return ErrConfirmed
	}
	return ErrNotFound
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
