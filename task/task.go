// Package task defines the task model and owner-scoped persistence.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNotFound is returned when a task does not exist or belongs to another owner.
var ErrNotFound = errors.New("task not found")

// Priority is the severity of a task.
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
	PriorityNone   Priority = "NONE"
)

// Priorities lists every priority from most to least severe.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow, PriorityNone}

// Rank orders priorities by severity; URGENT is 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

var titleCase = cases.Title(language.English)

// Label returns the display form, e.g. "Urgent".
func (p Priority) Label() string {
	if p == PriorityNone {
		return "No priority"
	}
	return titleCase.String(strings.ToLower(string(p)))
}

// ParsePriority converts s to a Priority. An empty string resolves to NONE.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNone, nil
	}
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Task is a unit of work owned by a single user.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	Done        bool       `json:"done"`
	Priority    Priority   `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	if t.Description != nil {
		d := *t.Description
		c.Description = &d
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	return &c
}

// Draft holds the fields supplied when creating a task.
type Draft struct {
	Title       string
	Description *string
	DueDate     *time.Time
	Priority    Priority
	Done        bool
}

// Patch is a partial update. Absent fields are left untouched; a null
// Description or DueDate clears the stored value.
type Patch struct {
	Title       Field[string]
	Description Field[string]
	DueDate     Field[time.Time]
	Done        Field[bool]
	Priority    Field[Priority]
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return !p.Title.IsSet() && !p.Description.IsSet() && !p.DueDate.IsSet() &&
		!p.Done.IsSet() && !p.Priority.IsSet()
}

// ApplyTo merges p into t. Null values on non-nullable fields are ignored;
// callers validate them beforehand.
func (p Patch) ApplyTo(t *Task) {
	if v, ok := p.Title.Value(); ok {
		t.Title = v
	}
	applyNullable(&t.Description, p.Description)
	applyNullable(&t.DueDate, p.DueDate)
	if v, ok := p.Done.Value(); ok {
		t.Done = v
	}
	if v, ok := p.Priority.Value(); ok {
		t.Priority = v
	}
}

func applyNullable[T any](dst **T, f Field[T]) {
	if !f.IsSet() {
		return
	}
	if v, ok := f.Value(); ok {
		*dst = &v
		return
	}
	*dst = nil
}

// Limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Filter controls which tasks are returned by List.
type Filter struct {
	Done     *bool
	Priority *Priority
	Query    string
	Limit    int
}

// EffectiveLimit returns the limit clamped to [1, MaxLimit], defaulting to DefaultLimit.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

// Match reports whether t satisfies the filter, ignoring Limit.
func (f Filter) Match(t *Task) bool {
	if f.Done != nil && t.Done != *f.Done {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(t.Title), q) {
		return true
	}
	return t.Description != nil && strings.Contains(strings.ToLower(*t.Description), q)
}

// Less is the default list ordering: severity first, then newest first.
// The id comparison keeps the order total.
func Less(a, b *Task) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Store persists tasks. Every method is scoped to ownerID.
type Store interface {
	Create(ctx context.Context, ownerID string, d Draft) (*Task, error)
	Get(ctx context.Context, ownerID, id string) (*Task, error)
	Update(ctx context.Context, ownerID, id string, p Patch) (*Task, error)
	Delete(ctx context.Context, ownerID, id string) error
	List(ctx context.Context, ownerID string, f Filter) ([]*Task, error)
	Close() error
}
