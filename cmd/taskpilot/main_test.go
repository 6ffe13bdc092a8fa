package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/taskpilot/agent"
	"github.com/GoCodeAlone/taskpilot/client"
	"github.com/GoCodeAlone/taskpilot/config"
	"github.com/GoCodeAlone/taskpilot/identity"
	"github.com/GoCodeAlone/taskpilot/provider/mock"
	"github.com/GoCodeAlone/taskpilot/server"
	"github.com/GoCodeAlone/taskpilot/server/api"
	"github.com/GoCodeAlone/taskpilot/service"
	"github.com/GoCodeAlone/taskpilot/task"
	"github.com/GoCodeAlone/taskpilot/tools"
)

const secret = "cli-test-secret"

// startServer runs a full API server and returns its URL and a token.
func startServer(t *testing.T, steps ...mock.Step) (string, string) {
	t.Helper()
	dir := identity.NewMemoryDirectory()
	if _, err := dir.Upsert(context.Background(), identity.Profile{ExternalID: "alice", Email: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	svc := service.New(task.NewMemoryStore(), dir, nil)
	reg, err := tools.NewDefault(svc, tools.NewClock(time.UTC), time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	h := &api.Handlers{
		Tasks:   svc,
		Chat:    agent.NewRuntime(agent.Config{Provider: mock.New(steps...), Tools: reg}),
		Version: "test",
	}
	srv := server.New(config.Config{Auth: config.AuthConfig{JWTSecret: secret}}, h, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	token, err := identity.NewTokenVerifier(secret, "").Issue("alice", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return ts.URL, token
}

func run(t *testing.T, url, token string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", url, "--token", token, "--tz", "UTC"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseDue(t *testing.T) {
	now := time.Date(2026, 4, 2, 22, 30, 0, 0, time.UTC)
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		in   string
		loc  *time.Location
		want time.Time
	}{
		{"today", time.UTC, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)},
		{"Tomorrow", time.UTC, time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)},
		{"+3d", time.UTC, time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC)},
		{"2026-05-01", time.UTC, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-05-01 17:15", time.UTC, time.Date(2026, 5, 1, 17, 15, 0, 0, time.UTC)},
		{"2026-05-01T09:00:00Z", time.UTC, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		// 22:30 UTC is already the 3rd in Kolkata.
		{"today", kolkata, time.Date(2026, 4, 3, 0, 0, 0, 0, kolkata)},
	}
	for _, tt := range tests {
		got, err := parseDue(tt.in, now, tt.loc)
		if err != nil {
			t.Errorf("parseDue(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseDue(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "someday", "+xd", "05/01/2026"} {
		if _, err := parseDue(bad, now, time.UTC); err == nil {
			t.Errorf("parseDue(%q) succeeded, want error", bad)
		}
	}
}

func TestTasksCommands(t *testing.T) {
	url, token := startServer(t)

	out, err := run(t, url, token, "tasks", "add", "File", "taxes", "--priority", "urgent", "--due", "2026-05-01 09:00")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.HasPrefix(out, "created ") || !strings.Contains(out, "File taxes") {
		t.Fatalf("add output = %q", out)
	}
	id := strings.TrimSuffix(strings.Fields(out)[1], ":")

	out, err = run(t, url, token, "tasks", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "Urgent") || !strings.Contains(out, "Fri May 1 09:00") {
		t.Errorf("list output = %q", out)
	}

	if out, err = run(t, url, token, "tasks", "done", id); err != nil || !strings.HasPrefix(out, "[x] File taxes") {
		t.Errorf("done = %q, %v", out, err)
	}

	out, err = run(t, url, token, "tasks", "edit", id, "--clear-due", "--title", "File 2025 taxes")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !strings.Contains(out, "title:       File 2025 taxes") || !strings.Contains(out, "due:         -") || !strings.Contains(out, "priority:    Urgent") {
		t.Errorf("edit output = %q", out)
	}

	if out, _ = run(t, url, token, "tasks", "list", "--state", "open"); !strings.Contains(out, "no tasks") {
		t.Errorf("open list = %q", out)
	}

	if out, err = run(t, url, token, "tasks", "rm", id); err != nil || !strings.Contains(out, "Task deleted successfully") {
		t.Errorf("rm = %q, %v", out, err)
	}
	if _, err = run(t, url, token, "tasks", "show", id); service.KindOf(err) != service.KindNotFound {
		t.Errorf("show after rm: %v", err)
	}
}

func TestTasksAddValidation(t *testing.T) {
	url, token := startServer(t)
	_, err := run(t, url, token, "tasks", "add", " ")
	if service.KindOf(err) != service.KindValidation {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestTasksListUpcomingView(t *testing.T) {
	url, token := startServer(t)
	c := client.New(url, token)
	ctx := context.Background()
	today := time.Now().UTC().Add(time.Minute)
	later := today.AddDate(0, 1, 0)
	for _, in := range []service.CreateInput{
		{Title: "soon", DueDate: &today},
		{Title: "much later", DueDate: &later},
		{Title: "whenever"},
	} {
		if _, err := c.CreateTask(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	out, err := run(t, url, token, "tasks", "list", "--view", "upcoming")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(out, "whenever") {
		t.Errorf("undated task in upcoming view: %q", out)
	}
	if !strings.Contains(out, "Later (1)") || !strings.Contains(out, "much later") {
		t.Errorf("upcoming output = %q", out)
	}

	if _, err := run(t, url, token, "tasks", "list", "--view", "someday"); err == nil {
		t.Error("expected unknown view error")
	}
}

func TestChatOneShot(t *testing.T) {
	url, token := startServer(t,
		mock.Call("createTask", map[string]any{"title": "Book flights"}),
		mock.Text("Added Book flights."),
	)
	out, err := run(t, url, token, "chat", "add", "book", "flights")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "· createTask") || !strings.Contains(out, "Added Book flights.") {
		t.Errorf("chat output = %q", out)
	}

	list, err := run(t, url, token, "tasks", "list")
	if err != nil || !strings.Contains(list, "Book flights") {
		t.Errorf("list after chat = %q, %v", list, err)
	}
}

func TestChatREPLKeepsHistory(t *testing.T) {
	url, token := startServer(t, mock.Text("first"), mock.Text("second"))
	s := &session{client: client.New(url, token)}
	var out bytes.Buffer
	s.out = &out

	in := strings.NewReader("hello\n\nagain\n/quit\n")
	if err := s.repl(context.Background(), in); err != nil {
		t.Fatalf("repl: %v", err)
	}
	if len(s.history) != 4 {
		t.Fatalf("history has %d messages, want 4: %+v", len(s.history), s.history)
	}
	if s.history[1].Content != "first" || s.history[3].Content != "second" {
		t.Errorf("history = %+v", s.history)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "http://unused", "", "version")
	if err != nil || !strings.HasPrefix(out, "taskpilot dev") {
		t.Errorf("version = %q, %v", out, err)
	}
}
