package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	email       TEXT NOT NULL,
	name        TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
`

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteDirectory keeps users in the same SQLite file as tasks.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory ensures the users table exists on db. Closing the
// directory does not close db.
func NewSQLiteDirectory(db *sql.DB) (*SQLiteDirectory, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create users schema: %w", err)
	}
	return &SQLiteDirectory{db: db}, nil
}

// Resolve returns the internal id for externalID.
func (d *SQLiteDirectory) Resolve(ctx context.Context, externalID string) (string, error) {
	var id string
	err := d.db.QueryRowContext(ctx, `SELECT id FROM users WHERE external_id = ?`, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownUser
	}
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}
	return id, nil
}

// Upsert creates the user or refreshes email and name, keyed by external id.
func (d *SQLiteDirectory) Upsert(ctx context.Context, p Profile) (*User, error) {
	p = p.Normalize()
	now := time.Now().UTC().Format(timeLayout)

	var (
		u                    User
		name                 sql.NullString
		createdAt, updatedAt string
	)
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO users (id, external_id, email, name, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(external_id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			updated_at = excluded.updated_at
		RETURNING id, external_id, email, name, created_at, updated_at`,
		uuid.NewString(), p.ExternalID, p.Email, nullable(p.Name), now, now,
	).Scan(&u.ID, &u.ExternalID, &u.Email, &name, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	if name.Valid {
		u.Name = &name.String
	}
	u.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	u.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &u, nil
}

// Close is a no-op; the owner of db closes it.
func (d *SQLiteDirectory) Close() error { return nil }

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
