package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrInvalidEmail is returned for addresses that do not look like e-mail addresses.
var ErrInvalidEmail = errors.New("invalid email address")

var emailPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	email      TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

// Visit is one recorded sign-in.
type Visit struct {
	ID        int64
	Email     string
	CreatedAt time.Time
}

// Registry records the e-mail addresses users sign in with.
type Registry struct {
	db  *sql.DB
	now func() time.Time
}

// ValidEmail reports whether email is acceptable.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// Open opens or creates the registry database at path.
func Open(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Registry{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Record validates email and stores a sign-in for it.
func (r *Registry) Record(ctx context.Context, email string) (Visit, error) {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return Visit{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `INSERT INTO users (email, created_at) VALUES (?, ?)`, email, now.UnixMilli())
	if err != nil {
		return Visit{}, fmt.Errorf("failed to record email: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Visit{}, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return Visit{ID: id, Email: email, CreatedAt: time.UnixMilli(now.UnixMilli()).UTC()}, nil
}

// Visits returns the recorded sign-ins for email, oldest first.
func (r *Registry) Visits(ctx context.Context, email string) ([]Visit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, email, created_at FROM users WHERE email = ? ORDER BY id`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	var out []Visit
	for rows.Next() {
		var v Visit
		var ms int64
		if err := rows.Scan(&v.ID, &v.Email, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		v.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

// Count returns the number of distinct recorded addresses.
func (r *Registry) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT email) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
