package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	title       VARCHAR(255) NOT NULL,
	description TEXT,
	due_date    TIMESTAMPTZ,
	done        BOOLEAN NOT NULL DEFAULT FALSE,
	priority    TEXT NOT NULL DEFAULT 'NONE',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, created_at DESC);
`

// PostgresStore persists tasks in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects to dsn, verifies the connection and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Pool exposes the pool so other tables can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, ownerID string, d Draft) (*Task, error) {
	t := newTask(ownerID, d, s.now().Truncate(time.Microsecond))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (`+selectColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.OwnerID, t.Title, t.Description, t.DueDate, t.Done, string(t.Priority),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Get(ctx context.Context, ownerID, id string) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	t, err := scanPgTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Update locks the owner's row with SELECT ... FOR UPDATE, merges and writes it
// back in the same transaction.
func (s *PostgresStore) Update(ctx context.Context, ownerID, id string, p Patch) (*Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE id = $1 AND owner_id = $2 FOR UPDATE`, id, ownerID)
	t, err := scanPgTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	p.ApplyTo(t)
	t.UpdatedAt = touch(t.CreatedAt, s.now().Truncate(time.Microsecond))

	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET
			title=$1, description=$2, due_date=$3, done=$4, priority=$5, updated_at=$6
		WHERE id=$7 AND owner_id=$8`,
		t.Title, t.Description, t.DueDate, t.Done, string(t.Priority), t.UpdatedAt, id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM tasks WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, ownerID string, f Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + selectColumns + " FROM tasks WHERE owner_id = $1")
	args := []any{ownerID}

	if f.Done != nil {
		args = append(args, *f.Done)
		fmt.Fprintf(&q, " AND done = $%d", len(args))
	}
	if f.Priority != nil {
		args = append(args, string(*f.Priority))
		fmt.Fprintf(&q, " AND priority = $%d", len(args))
	}
	if term := strings.TrimSpace(f.Query); term != "" {
		args = append(args, likePattern(term))
		n := len(args)
		fmt.Fprintf(&q, ` AND (title ILIKE $%d OR coalesce(description, '') ILIKE $%d)`, n, n)
	}
	q.WriteString(" ORDER BY " + priorityOrder + ", created_at DESC, id ASC")
	fmt.Fprintf(&q, " LIMIT %d", f.EffectiveLimit())

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanPgTask(row pgx.Row) (*Task, error) {
	var t Task
	var priority string
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.DueDate,
		&t.Done, &priority, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = Priority(priority)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.DueDate != nil {
		d := t.DueDate.UTC()
		t.DueDate = &d
	}
	return &t, nil
}
