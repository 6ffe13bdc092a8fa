package task

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT,
	due_date    TEXT,
	done        INTEGER NOT NULL DEFAULT 0,
	priority    TEXT NOT NULL DEFAULT 'NONE',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, created_at);
`

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// priorityOrder ranks the priority column by severity.
const priorityOrder = `CASE priority
	WHEN 'URGENT' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 WHEN 'LOW' THEN 3 ELSE 4 END`

// foldFunc lowers text the way strings.ToLower does. SQLite's lower() only
// folds ASCII, which would make the query filter store-dependent.
const foldFunc = "go_lower"

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(foldFunc, 1, foldValue); err != nil {
		panic(fmt.Sprintf("register sqlite function %s: %v", foldFunc, err))
	}
}

func foldValue(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

const selectColumns = `id, owner_id, title, description, due_date, done, priority, created_at, updated_at`

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	locks keyedMutex
	now   func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tasks table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// WithClock replaces the time source; tests use it to pin timestamps.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

// DB exposes the handle so other tables can share the file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a new task owned by ownerID.
func (s *SQLiteStore) Create(ctx context.Context, ownerID string, d Draft) (*Task, error) {
	t := newTask(ownerID, d, s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+selectColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OwnerID, t.Title, nullString(t.Description), nullTime(t.DueDate),
		t.Done, string(t.Priority), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, ownerID, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Update merges p into the stored task inside one transaction.
func (s *SQLiteStore) Update(ctx context.Context, ownerID, id string, p Patch) (*Task, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	p.ApplyTo(t)
	t.UpdatedAt = touch(t.CreatedAt, s.now())

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET
			title=?, description=?, due_date=?, done=?, priority=?, updated_at=?
		WHERE id=? AND owner_id=?`,
		t.Title, nullString(t.Description), nullTime(t.DueDate), t.Done, string(t.Priority),
		formatTime(t.UpdatedAt), id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return t, nil
}

// List returns the owner's tasks matching the filter.
func (s *SQLiteStore) List(ctx context.Context, ownerID string, f Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + selectColumns + " FROM tasks WHERE owner_id = ?")
	args := []any{ownerID}

	if f.Done != nil {
		q.WriteString(" AND done = ?")
		args = append(args, *f.Done)
	}
	if f.Priority != nil {
		q.WriteString(" AND priority = ?")
		args = append(args, string(*f.Priority))
	}
	if term := strings.TrimSpace(f.Query); term != "" {
		q.WriteString(` AND (` + foldFunc + `(title) LIKE ? ESCAPE '\' OR ` + foldFunc + `(coalesce(description, '')) LIKE ? ESCAPE '\')`)
		pattern := likePattern(term)
		args = append(args, pattern, pattern)
	}
	q.WriteString(" ORDER BY " + priorityOrder + ", created_at DESC, id ASC")
	q.WriteString(fmt.Sprintf(" LIMIT %d", f.EffectiveLimit()))

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Delete removes a task by ID.
func (s *SQLiteStore) Delete(ctx context.Context, ownerID, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var description, dueDate sql.NullString
	var priority, createdAt, updatedAt string

	err := s.Scan(
		&t.ID, &t.OwnerID, &t.Title, &description, &dueDate,
		&t.Done, &priority, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Priority = Priority(priority)
	if description.Valid {
		t.Description = &description.String
	}
	if dueDate.Valid {
		d, err := time.Parse(timeLayout, dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("parse due_date: %w", err)
		}
		t.DueDate = &d
	}
	if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

// newTask builds a fresh record for d.
func newTask(ownerID string, d Draft, now time.Time) *Task {
	now = now.UTC()
	priority := d.Priority
	if priority == "" {
		priority = PriorityNone
	}
	t := &Task{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     d.Title,
		Done:      d.Done,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if d.Description != nil {
		desc := *d.Description
		t.Description = &desc
	}
	if d.DueDate != nil {
		due := d.DueDate.UTC()
		t.DueDate = &due
	}
	return t
}

// touch returns the new updatedAt, never earlier than createdAt.
func touch(createdAt, now time.Time) time.Time {
	now = now.UTC()
	if now.Before(createdAt) {
		return createdAt
	}
	return now
}

func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
