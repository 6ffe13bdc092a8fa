package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoCodeAlone/taskpilot/identity"
	"github.com/GoCodeAlone/taskpilot/service"
	"github.com/GoCodeAlone/taskpilot/task"
)

// countingService records calls and delegates to a real service.
type countingService struct {
	TaskService
	calls atomic.Int32
}

func (c *countingService) CreateTask(ctx context.Context, in service.CreateInput) (*service.TaskView, error) {
	c.calls.Add(1)
	return c.TaskService.CreateTask(ctx, in)
}

func newTestRegistry(t *testing.T) (*Registry, *countingService, context.Context) {
	t.Helper()
	dir := identity.NewMemoryDirectory()
	ctx := context.Background()
	if _, err := dir.Upsert(ctx, identity.Profile{ExternalID: "alice", Email: "alice@example.com"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	svc := &countingService{TaskService: service.New(task.NewMemoryStore(), dir, nil)}
	loc := time.FixedZone("IST", 5*3600+1800)
	clock := &Clock{Now: func() time.Time { return time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC) }, Location: loc}
	reg, err := NewDefault(svc, clock, time.Second, nil)
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}
	return reg, svc, identity.WithSubject(ctx, "alice")
}

func TestNewDefault_RegistersFixedSet(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	defs := reg.Definitions()
	if len(defs) != len(Names) {
		t.Fatalf("expected %d definitions, got %d", len(Names), len(defs))
	}
	for i, d := range defs {
		if d.Name != string(Names[i]) {
			t.Errorf("definition %d: expected %s, got %s", i, Names[i], d.Name)
		}
		if d.Parameters["type"] != "object" {
			t.Errorf("%s: schema type = %v", d.Name, d.Parameters["type"])
		}
	}
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	reg, svc, _ := newTestRegistry(t)
	if err := reg.Register(newDeleteTask(svc)); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	reg, _, ctx := newTestRegistry(t)
	res := reg.Execute(ctx, "dropTables", nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != string(service.KindValidation) {
		t.Errorf("errorKind = %q", res.ErrorKind)
	}
}

func TestExecute_ValidatesBeforeExecutor(t *testing.T) {
	reg, svc, ctx := newTestRegistry(t)
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing title", map[string]any{}},
		{"wrong type", map[string]any{"title": 42}},
		{"bad priority", map[string]any{"title": "x", "priority": "SOMEDAY"}},
		{"unknown field", map[string]any{"title": "x", "colour": "red"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reg.Execute(ctx, string(CreateTask), tt.args)
			if res.Success {
				t.Fatal("expected failure")
			}
			if res.ErrorKind != string(service.KindValidation) {
				t.Errorf("errorKind = %q", res.ErrorKind)
			}
			if !strings.HasPrefix(res.Message, "Invalid input for createTask") {
				t.Errorf("message = %q", res.Message)
			}
		})
	}
	if n := svc.calls.Load(); n != 0 {
		t.Errorf("executor reached %d times with malformed input", n)
	}
}

func TestExecute_CreateTask(t *testing.T) {
	reg, svc, ctx := newTestRegistry(t)
	res := reg.Execute(ctx, "createTask", map[string]any{"title": "Buy milk", "dueDate": "2026-03-11"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Message != `Task "Buy milk" created successfully` {
		t.Errorf("message = %q", res.Message)
	}
	if res.Widget != WidgetTaskCard {
		t.Errorf("widget = %q", res.Widget)
	}
	v := res.Data.(map[string]any)["task"].(*service.TaskView)
	// Midnight IST on the 11th.
	if v.DueDate == nil || *v.DueDate != "2026-03-10T18:30:00.000Z" {
		t.Errorf("dueDate = %v", v.DueDate)
	}
	if svc.calls.Load() != 1 {
		t.Errorf("calls = %d", svc.calls.Load())
	}
}

func TestExecute_ServiceErrorsBecomeEnvelopes(t *testing.T) {
	reg, _, ctx := newTestRegistry(t)

	res := reg.Execute(ctx, "createTask", map[string]any{"title": "   "})
	if res.Success || res.ErrorKind != string(service.KindValidation) || res.Message != "Title is required" {
		t.Errorf("blank title: %+v", res)
	}

	res = reg.Execute(ctx, "deleteTask", map[string]any{"id": "nope"})
	if res.Success || res.ErrorKind != string(service.KindNotFound) || res.Message != "Task not found" {
		t.Errorf("missing task: %+v", res)
	}

	res = reg.Execute(context.Background(), "listTasks", nil)
	if res.Success || res.ErrorKind != string(service.KindAuthentication) {
		t.Errorf("no identity: %+v", res)
	}
}

func TestExecute_UpdateAndList(t *testing.T) {
	reg, _, ctx := newTestRegistry(t)
	created := reg.Execute(ctx, "createTask", map[string]any{"title": "draft", "description": "notes"})
	id := created.Data.(map[string]any)["task"].(*service.TaskView).ID

	res := reg.Execute(ctx, "updateTask", map[string]any{"id": id, "title": "final", "description": nil})
	if !res.Success {
		t.Fatalf("update: %+v", res)
	}
	v := res.Data.(map[string]any)["task"].(*service.TaskView)
	if v.Title != "final" || v.Description != nil {
		t.Errorf("updated = %+v", v)
	}

	res = reg.Execute(ctx, "listTasks", map[string]any{"q": "FIN"})
	if !res.Success || res.Message != "Found 1 task(s)" || res.Widget != WidgetTaskList {
		t.Errorf("list: %+v", res)
	}
	if n := res.Data.(map[string]any)["count"]; n != 1 {
		t.Errorf("count = %v", n)
	}
}

type stubTool struct {
	run func(ctx context.Context) Result
}

func (s stubTool) Name() Name             { return GetTime }
func (s stubTool) Description() string    { return "stub" }
func (s stubTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (s stubTool) Execute(ctx context.Context, _ json.RawMessage) Result {
	return s.run(ctx)
}

func TestExecute_Timeout(t *testing.T) {
	reg := NewRegistry(20*time.Millisecond, nil)
	release := make(chan struct{})
	defer close(release)
	if err := reg.Register(stubTool{run: func(context.Context) Result {
		<-release
		return Result{Success: true}
	}}); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	res := reg.Execute(context.Background(), "getTime", nil)
	if res.Success || res.ErrorKind != "Timeout" {
		t.Errorf("expected Timeout envelope, got %+v", res)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Execute blocked for %v", time.Since(start))
	}
}

func TestExecute_RecoversPanic(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	if err := reg.Register(stubTool{run: func(context.Context) Result { panic("boom") }}); err != nil {
		t.Fatal(err)
	}
	res := reg.Execute(context.Background(), "getTime", nil)
	if res.Success || res.ErrorKind != string(service.KindUnknown) {
		t.Errorf("expected UnknownError envelope, got %+v", res)
	}
}
