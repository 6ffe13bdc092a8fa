package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/taskpilot/identity"
	"github.com/GoCodeAlone/taskpilot/task"
)

type fixture struct {
	svc   *Service
	store *task.MemoryStore
	alice context.Context
	bob   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := identity.NewMemoryDirectory()
	ctx := context.Background()
	for _, ext := range []string{"alice", "bob"} {
		if _, err := dir.Upsert(ctx, identity.Profile{ExternalID: ext, Email: ext + "@example.com"}); err != nil {
			t.Fatalf("Upsert %s: %v", ext, err)
		}
	}
	clock := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	store := task.NewMemoryStore().WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	return &fixture{
		svc:   New(store, dir, nil),
		store: store,
		alice: identity.WithSubject(ctx, "alice"),
		bob:   identity.WithSubject(ctx, "bob"),
	}
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("kind = %s, want %s (err: %v)", got, kind, err)
	}
}

func TestCreateTask_Defaults(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.CreateTask(f.alice, CreateInput{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if v.Priority != task.PriorityNone {
		t.Errorf("Priority = %q, want NONE", v.Priority)
	}
	if v.Done {
		t.Error("Done = true, want false")
	}
	if v.Description != nil || v.DueDate != nil {
		t.Errorf("optional fields should be nil: %+v", v)
	}
	if _, err := time.Parse(time.RFC3339, v.CreatedAt); err != nil {
		t.Errorf("CreatedAt %q is not ISO-8601: %v", v.CreatedAt, err)
	}
	if !strings.HasSuffix(v.CreatedAt, "Z") {
		t.Errorf("CreatedAt %q should be UTC", v.CreatedAt)
	}
}

func TestCreateTask_RejectsBlankTitle(t *testing.T) {
	f := newFixture(t)
	for _, title := range []string{"", "   ", "\t\n"} {
		_, err := f.svc.CreateTask(f.alice, CreateInput{Title: title})
		wantKind(t, err, KindValidation)
		var se *Error
		if !errors.As(err, &se) || len(se.Fields) != 1 || se.Fields[0].Field != "title" {
			t.Errorf("title %q: fields = %+v", title, se)
		}
	}
	list, err := f.svc.ListTasks(f.alice, ListInput{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("persisted %d tasks after rejected creates", len(list))
	}
}

func TestCreateTask_TitleLength(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.CreateTask(f.alice, CreateInput{Title: strings.Repeat("a", 255)}); err != nil {
		t.Errorf("255 chars: %v", err)
	}
	_, err := f.svc.CreateTask(f.alice, CreateInput{Title: strings.Repeat("a", 256)})
	wantKind(t, err, KindValidation)
	if MessageOf(err) != "Title must be less than 255 characters" {
		t.Errorf("message = %q", MessageOf(err))
	}
}

func TestCreateTask_BadPriority(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTask(f.alice, CreateInput{Title: "x", Priority: "SOMEDAY"})
	wantKind(t, err, KindValidation)
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTask(context.Background(), CreateInput{Title: "x"})
	wantKind(t, err, KindAuthentication)
	if MessageOf(err) != "Authentication required" {
		t.Errorf("message = %q", MessageOf(err))
	}

	_, err = f.svc.ListTasks(identity.WithSubject(context.Background(), "mallory"), ListInput{})
	wantKind(t, err, KindAuthentication)
}

func TestOwnershipIsolation(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.CreateTask(f.alice, CreateInput{Title: "alice's"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	b, err := f.svc.CreateTask(f.bob, CreateInput{Title: "bob's"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	_, err = f.svc.GetTask(f.bob, a.ID)
	wantKind(t, err, KindNotFound)
	if MessageOf(err) != "Task not found" {
		t.Errorf("message = %q", MessageOf(err))
	}
	_, err = f.svc.GetTask(f.alice, b.ID)
	wantKind(t, err, KindNotFound)

	_, err = f.svc.ToggleDone(f.bob, a.ID, true)
	wantKind(t, err, KindNotFound)
	wantKind(t, f.svc.DeleteTask(f.bob, a.ID), KindNotFound)

	got, err := f.svc.GetTask(f.alice, a.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Done {
		t.Error("bob's toggle leaked into alice's task")
	}
}

func TestUpdateTask_PreservesOmittedFields(t *testing.T) {
	f := newFixture(t)
	desc := "keep"
	due := time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)
	created, err := f.svc.CreateTask(f.alice, CreateInput{
		Title: "old", Description: &desc, DueDate: &due, Priority: "HIGH",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := f.svc.UpdateTask(f.alice, created.ID, UpdateInput{Title: task.Set("X")}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	got, err := f.svc.GetTask(f.alice, created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "X" {
		t.Errorf("Title = %q, want X", got.Title)
	}
	if got.Description == nil || *got.Description != "keep" {
		t.Errorf("Description = %v", got.Description)
	}
	if got.DueDate == nil || *got.DueDate != *created.DueDate {
		t.Errorf("DueDate = %v, want %v", got.DueDate, *created.DueDate)
	}
	if got.Priority != task.PriorityHigh {
		t.Errorf("Priority = %q, want HIGH", got.Priority)
	}
}

func TestUpdateTask_Validation(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreateTask(f.alice, CreateInput{Title: "ok"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	tests := []struct {
		name  string
		in    UpdateInput
		field string
	}{
		{"blank title", UpdateInput{Title: task.Set("  ")}, "title"},
		{"null title", UpdateInput{Title: task.Null[string]()}, "title"},
		{"null done", UpdateInput{Done: task.Null[bool]()}, "done"},
		{"bad priority", UpdateInput{Priority: task.Set("whenever")}, "priority"},
		{"empty", UpdateInput{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateTask(f.alice, created.ID, tt.in)
			wantKind(t, err, KindValidation)
			var se *Error
			errors.As(err, &se)
			if tt.field != "" && (len(se.Fields) == 0 || se.Fields[0].Field != tt.field) {
				t.Errorf("fields = %+v, want %s", se.Fields, tt.field)
			}
		})
	}
}

func TestUpdateTask_ClearsExplicitNull(t *testing.T) {
	f := newFixture(t)
	desc := "remove me"
	created, err := f.svc.CreateTask(f.alice, CreateInput{Title: "t", Description: &desc})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	got, err := f.svc.UpdateTask(f.alice, created.ID, UpdateInput{Description: task.Null[string]()})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.Description != nil {
		t.Errorf("Description = %q, want nil", *got.Description)
	}
}

func TestToggleDone_RoundTrip(t *testing.T) {
	f := newFixture(t)
	desc := "d"
	before, err := f.svc.CreateTask(f.alice, CreateInput{Title: "flip", Description: &desc, Priority: "LOW"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	on, err := f.svc.ToggleDone(f.alice, before.ID, true)
	if err != nil {
		t.Fatalf("ToggleDone(true): %v", err)
	}
	if !on.Done {
		t.Error("Done = false after toggle on")
	}
	after, err := f.svc.ToggleDone(f.alice, before.ID, false)
	if err != nil {
		t.Fatalf("ToggleDone(false): %v", err)
	}

	if after.UpdatedAt == before.UpdatedAt {
		t.Error("UpdatedAt should change")
	}
	after.UpdatedAt = before.UpdatedAt
	if *after.Description != *before.Description {
		t.Errorf("Description changed")
	}
	after.Description, before.Description = nil, nil
	if *after != *before {
		t.Errorf("round trip changed fields:\n got %+v\nwant %+v", *after, *before)
	}
}

func TestListTasks_PriorityFilter(t *testing.T) {
	f := newFixture(t)
	for _, in := range []CreateInput{
		{Title: "a", Priority: "URGENT"},
		{Title: "b", Priority: "LOW"},
		{Title: "c", Priority: "URGENT"},
		{Title: "d"},
		{Title: "e", Priority: "URGENT"},
	} {
		if _, err := f.svc.CreateTask(f.alice, in); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	got, err := f.svc.ListTasks(f.alice, ListInput{Priority: "URGENT"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	var titles []string
	for _, v := range got {
		if v.Priority != task.PriorityUrgent {
			t.Errorf("non-urgent task %q returned", v.Title)
		}
		titles = append(titles, v.Title)
	}
	if strings.Join(titles, ",") != "e,c,a" {
		t.Errorf("order = %v, want [e c a]", titles)
	}
}

func TestListTasks_LimitValidation(t *testing.T) {
	f := newFixture(t)
	for _, n := range []int{0, 101, -1} {
		n := n
		_, err := f.svc.ListTasks(f.alice, ListInput{Limit: &n})
		wantKind(t, err, KindValidation)
	}
	n := 100
	if _, err := f.svc.ListTasks(f.alice, ListInput{Limit: &n}); err != nil {
		t.Errorf("limit 100: %v", err)
	}
}

type failingStore struct {
	task.Store
	err error
}

func (s failingStore) List(context.Context, string, task.Filter) ([]*task.Task, error) {
	return nil, s.err
}

func TestStorageErrorsAreClassified(t *testing.T) {
	f := newFixture(t)
	dir := identity.NewMemoryDirectory()
	if _, err := dir.Upsert(context.Background(), identity.Profile{ExternalID: "alice", Email: "a@example.com"}); err != nil {
		t.Fatal(err)
	}

	svc := New(failingStore{Store: f.store, err: errors.New("disk on fire")}, dir, nil)
	_, err := svc.ListTasks(f.alice, ListInput{})
	wantKind(t, err, KindUnknown)
	if MessageOf(err) != "Database operation failed" {
		t.Errorf("message = %q", MessageOf(err))
	}

	svc = New(failingStore{Store: f.store, err: context.DeadlineExceeded}, dir, nil)
	_, err = svc.ListTasks(f.alice, ListInput{})
	wantKind(t, err, KindTimeout)
}
