package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/taskpilot/service"
	"github.com/GoCodeAlone/taskpilot/task"
	"github.com/GoCodeAlone/taskpilot/tools"
	"github.com/GoCodeAlone/taskpilot/transcript"
)

// ErrPending is returned when an entry still awaits confirmation.
var ErrPending = errors.New("reconciler: task has a pending change")

// ErrUnknownTask is returned for ids not present in any view.
var ErrUnknownTask = errors.New("reconciler: task not in any view")

// Backend performs confirmed task operations. *service.Service and
// *client.Client both satisfy it.
type Backend interface {
	CreateTask(ctx context.Context, in service.CreateInput) (*service.TaskView, error)
	ToggleDone(ctx context.Context, id string, done bool) (*service.TaskView, error)
	UpdateTask(ctx context.Context, id string, in service.UpdateInput) (*service.TaskView, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, in service.ListInput) ([]service.TaskView, error)
}

// Options configures a Reconciler.
type Options struct {
	Views    []View
	Now      func() time.Time
	Location *time.Location
	Logger   *slog.Logger
}

// Reconciler applies events under one lock and runs backend calls in the
// background. Subscribers receive the latest snapshot; intermediate
// snapshots may be skipped for a slow subscriber.
type Reconciler struct {
	backend Backend
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.Mutex
	state State
	temp  int
	subs  map[chan State]struct{}

	wg sync.WaitGroup
}

// New returns a Reconciler with empty views.
func New(backend Backend, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	env := Env{Now: opts.Now(), Location: opts.Location}
	return &Reconciler{
		backend: backend,
		now:     opts.Now,
		logger:  opts.Logger,
		state:   NewState(env, opts.Views...),
		subs:    make(map[chan State]struct{}),
	}
}

// State returns the current snapshot.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscribe delivers the current snapshot and then every change until ctx
// is done.
func (r *Reconciler) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	ch <- r.state
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, ch)
		close(ch)
		r.mu.Unlock()
	}()
	return ch
}

// Dispatch applies ev atomically and notifies subscribers.
func (r *Reconciler) Dispatch(ev Event) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(ev)
}

func (r *Reconciler) applyLocked(ev Event) State {
	s := r.state
	s.Env.Now = r.now()
	r.state = Apply(s, ev)
	for ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		ch <- r.state
	}
	return r.state
}

// Wait blocks until every background call has been applied.
func (r *Reconciler) Wait() { r.wg.Wait() }

func (r *Reconciler) async(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Refresh reloads every view from the backend.
func (r *Reconciler) Refresh(ctx context.Context) {
	r.async(func() {
		limit := task.MaxLimit
		tasks, err := r.backend.ListTasks(ctx, service.ListInput{Limit: &limit})
		if err != nil {
			r.logger.Warn("reconciler: refresh failed", "error", err)
			r.Dispatch(LoadFailed{Err: err})
			return
		}
		r.Dispatch(Loaded{Tasks: tasks})
	})
}

// Create inserts a placeholder immediately and returns its temporary id.
func (r *Reconciler) Create(ctx context.Context, in service.CreateInput) string {
	r.mu.Lock()
	r.temp++
	tempID := fmt.Sprintf("tmp-%d", r.temp)
	r.applyLocked(CreateRequested{Task: placeholder(tempID, in, r.now())})
	r.mu.Unlock()

	r.async(func() {
		v, err := r.backend.CreateTask(ctx, in)
		if err != nil {
			r.logger.Warn("reconciler: create failed", "temp_id", tempID, "error", err)
			r.Dispatch(CreateFailed{TempID: tempID, Err: err})
			return
		}
		r.Dispatch(CreateConfirmed{TempID: tempID, Task: *v})
	})
	return tempID
}

func placeholder(id string, in service.CreateInput, now time.Time) service.TaskView {
	p, err := task.ParsePriority(in.Priority)
	if err != nil {
		p = task.PriorityNone
	}
	ts := service.FormatTime(now)
	v := service.TaskView{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Priority:    p,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if in.DueDate != nil {
		d := service.FormatTime(*in.DueDate)
		v.DueDate = &d
	}
	return v
}

// Toggle flips done immediately and confirms it in the background.
func (r *Reconciler) Toggle(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.state.Find(id)
	switch {
	case !ok:
		r.mu.Unlock()
		return ErrUnknownTask
	case e.State == Pending:
		r.mu.Unlock()
		return ErrPending
	}
	done := !e.Task.Done
	r.applyLocked(ToggleRequested{ID: id})
	r.mu.Unlock()

	r.async(func() {
		v, err := r.backend.ToggleDone(ctx, id, done)
		if err != nil {
			r.logger.Warn("reconciler: toggle failed", "id", id, "error", err)
			r.Dispatch(ToggleFailed{ID: id, Err: err})
			return
		}
		r.Dispatch(ToggleConfirmed{Task: *v})
	})
	return nil
}

// Update applies in once the backend confirms it.
func (r *Reconciler) Update(ctx context.Context, id string, in service.UpdateInput) {
	r.async(func() {
		v, err := r.backend.UpdateTask(ctx, id, in)
		if err != nil {
			r.Dispatch(UpdateFailed{ID: id, Err: err})
			return
		}
		r.Dispatch(Upserted{Task: *v})
	})
}

// Delete removes the task once the backend confirms it.
func (r *Reconciler) Delete(ctx context.Context, id string) {
	r.async(func() {
		if err := r.backend.DeleteTask(ctx, id); err != nil {
			r.Dispatch(DeleteFailed{ID: id, Err: err})
			return
		}
		r.Dispatch(Removed{ID: id})
	})
}

// Open shows the detail surface for id within view.
func (r *Reconciler) Open(view, id string) { r.Dispatch(OpenDetail{View: view, ID: id}) }

// Close hides the detail surface.
func (r *Reconciler) Close() { r.Dispatch(CloseDetail{}) }

// ApplyTranscript folds a successful tool result from an assistant turn
// into the views. It reports whether the event changed anything.
func (r *Reconciler) ApplyTranscript(ev transcript.Event) bool {
	evs := FromTranscript(ev)
	if len(evs) == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range evs {
		r.applyLocked(e)
	}
	return true
}

// FromTranscript maps a tool_result event to reconciler events. A listing
// upserts each task rather than replacing views, since it may be filtered.
func FromTranscript(ev transcript.Event) []Event {
	if ev.Kind != transcript.KindToolResult || ev.IsError {
		return nil
	}
	name, ok := tools.ParseName(ev.ToolName)
	if !ok {
		return nil
	}
	var res struct {
		Success bool `json:"success"`
		Data    struct {
			Task  *service.TaskView  `json:"task"`
			Tasks []service.TaskView `json:"tasks"`
			ID    string             `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(ev.Output, &res); err != nil || !res.Success {
		return nil
	}

	switch name {
	case tools.CreateTask, tools.UpdateTask:
		if res.Data.Task != nil {
			return []Event{Upserted{Task: *res.Data.Task}}
		}
	case tools.ListTasks:
		out := make([]Event, 0, len(res.Data.Tasks))
		for _, t := range res.Data.Tasks {
			out = append(out, Upserted{Task: t})
		}
		return out
	case tools.DeleteTask:
		if res.Data.ID != "" {
			return []Event{Removed{ID: res.Data.ID}}
		}
	}
	return nil
}
