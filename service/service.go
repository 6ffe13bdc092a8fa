// Package service validates task operations, resolves the caller's owner id
// and renders tasks for external consumers.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/GoCodeAlone/taskpilot/identity"
	"github.com/GoCodeAlone/taskpilot/task"
)

// MaxTitleLength bounds task titles in characters.
const MaxTitleLength = 255

// isoLayout matches JavaScript's Date.toISOString.
const isoLayout = "2006-01-02T15:04:05.000Z"

// TaskView is the external representation of a task.
type TaskView struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description *string       `json:"description"`
	DueDate     *string       `json:"dueDate"`
	Done        bool          `json:"done"`
	Priority    task.Priority `json:"priority"`
	UserID      string        `json:"userId"`
	CreatedAt   string        `json:"createdAt"`
	UpdatedAt   string        `json:"updatedAt"`
}

// FormatTime renders t as an ISO-8601 UTC string with millisecond precision.
func FormatTime(t time.Time) string { return t.UTC().Format(isoLayout) }

// NewTaskView converts a stored task.
func NewTaskView(t *task.Task) TaskView {
	v := TaskView{
		ID:        t.ID,
		Title:     t.Title,
		Done:      t.Done,
		Priority:  t.Priority,
		UserID:    t.OwnerID,
		CreatedAt: FormatTime(t.CreatedAt),
		UpdatedAt: FormatTime(t.UpdatedAt),
	}
	if t.Description != nil {
		d := *t.Description
		v.Description = &d
	}
	if t.DueDate != nil {
		d := FormatTime(*t.DueDate)
		v.DueDate = &d
	}
	return v
}

// CreateInput is the body of a create request.
type CreateInput struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Priority    string     `json:"priority,omitempty"`
}

// UpdateInput is a partial update; absent fields are preserved.
type UpdateInput struct {
	Title       task.Field[string]    `json:"title,omitzero"`
	Description task.Field[string]    `json:"description,omitzero"`
	DueDate     task.Field[time.Time] `json:"dueDate,omitzero"`
	Done        task.Field[bool]      `json:"done,omitzero"`
	Priority    task.Field[string]    `json:"priority,omitzero"`
}

// ListInput filters a listing. A nil Limit means the default.
type ListInput struct {
	Done     *bool  `json:"done,omitempty"`
	Q        string `json:"q,omitempty"`
	Limit    *int   `json:"limit,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// Service implements the task operations for the calling identity.
type Service struct {
	tasks  task.Store
	users  identity.Resolver
	logger *slog.Logger
}

// New returns a Service over tasks, resolving callers through users.
func New(tasks task.Store, users identity.Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tasks: tasks, users: users, logger: logger}
}

func (s *Service) owner(ctx context.Context) (string, error) {
	id, err := identity.Owner(ctx, s.users)
	if err != nil {
		if !errors.Is(err, identity.ErrNoSubject) && !errors.Is(err, identity.ErrUnknownUser) {
			s.logger.Error("service: identity lookup failed", "error", err)
		}
		return "", authError(err)
	}
	return id, nil
}

func (s *Service) fail(op string, err error) error {
	se := storageError(err)
	if se.Kind == KindUnknown || se.Kind == KindTimeout {
		s.logger.Error("service: storage failure", "op", op, "error", err)
	}
	return se
}

// CreateTask validates in and persists a task for the caller.
func (s *Service) CreateTask(ctx context.Context, in CreateInput) (*TaskView, error) {
	title, err := validTitle(in.Title)
	if err != nil {
		return nil, err
	}
	priority, err := validPriority(in.Priority)
	if err != nil {
		return nil, err
	}
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}

	t, err := s.tasks.Create(ctx, owner, task.Draft{
		Title:       title,
		Description: in.Description,
		DueDate:     in.DueDate,
		Priority:    priority,
	})
	if err != nil {
		return nil, s.fail("create", err)
	}
	v := NewTaskView(t)
	return &v, nil
}

// GetTask returns one of the caller's tasks.
func (s *Service) GetTask(ctx context.Context, id string) (*TaskView, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalidField("id", "Task id is required")
	}
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.tasks.Get(ctx, owner, id)
	if err != nil {
		return nil, s.fail("get", err)
	}
	v := NewTaskView(t)
	return &v, nil
}

// UpdateTask merges in into one of the caller's tasks.
func (s *Service) UpdateTask(ctx context.Context, id string, in UpdateInput) (*TaskView, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalidField("id", "Task id is required")
	}
	patch, err := buildPatch(in)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, "update", id, patch)
}

// ToggleDone changes only the done flag.
func (s *Service) ToggleDone(ctx context.Context, id string, done bool) (*TaskView, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalidField("id", "Task id is required")
	}
	return s.update(ctx, "toggle", id, task.Patch{Done: task.Set(done)})
}

func (s *Service) update(ctx context.Context, op, id string, patch task.Patch) (*TaskView, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.tasks.Update(ctx, owner, id, patch)
	if err != nil {
		return nil, s.fail(op, err)
	}
	v := NewTaskView(t)
	return &v, nil
}

// DeleteTask removes one of the caller's tasks.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidField("id", "Task id is required")
	}
	owner, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if err := s.tasks.Delete(ctx, owner, id); err != nil {
		return s.fail("delete", err)
	}
	return nil
}

// ListTasks returns the caller's tasks matching in.
func (s *Service) ListTasks(ctx context.Context, in ListInput) ([]TaskView, error) {
	f := task.Filter{Done: in.Done, Query: strings.TrimSpace(in.Q), Limit: task.DefaultLimit}
	if in.Limit != nil {
		if *in.Limit < 1 || *in.Limit > task.MaxLimit {
			return nil, invalidField("limit", "Limit must be between 1 and 100")
		}
		f.Limit = *in.Limit
	}
	if in.Priority != "" {
		p, err := validPriority(in.Priority)
		if err != nil {
			return nil, err
		}
		f.Priority = &p
	}
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}

	tasks, err := s.tasks.List(ctx, owner, f)
	if err != nil {
		return nil, s.fail("list", err)
	}
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, NewTaskView(t))
	}
	return views, nil
}

func validTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalidField("title", "Title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", invalidField("title", "Title must be less than 255 characters")
	}
	return title, nil
}

func validPriority(s string) (task.Priority, error) {
	p, err := task.ParsePriority(s)
	if err != nil {
		return "", invalidField("priority", "Priority must be one of URGENT, HIGH, MEDIUM, LOW, NONE")
	}
	return p, nil
}

func buildPatch(in UpdateInput) (task.Patch, error) {
	var p task.Patch
	var fields []FieldError

	if in.Title.IsSet() {
		v, ok := in.Title.Value()
		if !ok {
			fields = append(fields, FieldError{Field: "title", Message: "Title is required"})
		} else if title, err := validTitle(v); err != nil {
			fields = append(fields, err.(*Error).Fields...)
		} else {
			p.Title = task.Set(title)
		}
	}
	p.Description = in.Description
	p.DueDate = in.DueDate
	if in.Done.IsSet() {
		if v, ok := in.Done.Value(); ok {
			p.Done = task.Set(v)
		} else {
			fields = append(fields, FieldError{Field: "done", Message: "Done must be true or false"})
		}
	}
	if in.Priority.IsSet() {
		v, ok := in.Priority.Value()
		pr, err := task.ParsePriority(v)
		if !ok || v == "" || err != nil {
			fields = append(fields, FieldError{Field: "priority", Message: "Priority must be one of URGENT, HIGH, MEDIUM, LOW, NONE"})
		} else {
			p.Priority = task.Set(pr)
		}
	}

	if len(fields) > 0 {
		msg := fields[0].Message
		if len(fields) > 1 {
			msg = "Validation failed"
		}
		return task.Patch{}, validation(msg, fields...)
	}
	if p.Empty() {
		return task.Patch{}, validation("No fields to update")
	}
	return p, nil
}
