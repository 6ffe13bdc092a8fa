// Package reconciler keeps several filtered task lists consistent while
// creates, toggles, updates and deletes complete out of order. Every
// transition is a pure function of the previous state and one event.
package reconciler

import (
	"maps"
	"slices"

	"github.com/GoCodeAlone/taskpilot/service"
)

// Lifecycle is the confirmation state of a list entry.
type Lifecycle string

const (
	Pending    Lifecycle = "pending"
	Confirmed  Lifecycle = "confirmed"
	RolledBack Lifecycle = "rolled_back"
)

// Entry is one task as shown in a view.
type Entry struct {
	Task  service.TaskView
	State Lifecycle
	// prior holds the done value to restore if a pending toggle fails.
	prior bool
}

// Detail is the open detail surface, if any.
type Detail struct {
	View string
	Task service.TaskView
}

// State is an immutable snapshot. Apply never modifies its argument.
type State struct {
	Env    Env
	Views  []View
	Lists  map[string][]Entry
	Detail *Detail
	Err    error
	// deleted holds ids removed from every view. Confirmations that arrive
	// after the delete must not bring them back.
	deleted map[string]bool
}

// NewState returns an empty state over views.
func NewState(env Env, views ...View) State {
	if len(views) == 0 {
		views = DefaultViews()
	}
	lists := make(map[string][]Entry, len(views))
	for _, v := range views {
		lists[v.Name] = nil
	}
	return State{Env: env, Views: views, Lists: lists}
}

// List returns the entries of the named view.
func (s State) List(view string) []Entry { return s.Lists[view] }

// Find returns the first entry for id in any view.
func (s State) Find(id string) (Entry, bool) {
	for _, v := range s.Views {
		if i := indexOf(s.Lists[v.Name], id); i >= 0 {
			return s.Lists[v.Name][i], true
		}
	}
	return Entry{}, false
}

// Event is a state transition input.
type Event interface{ event() }

type (
	// Loaded replaces every view with the projection of tasks. Pending
	// entries survive the reload; deleted ids stay out of it.
	Loaded struct{ Tasks []service.TaskView }
	// LoadFailed records a failed refresh.
	LoadFailed struct{ Err error }

	// CreateRequested inserts a placeholder under a temporary id.
	CreateRequested struct{ Task service.TaskView }
	// CreateConfirmed swaps the placeholder for the stored task.
	CreateConfirmed struct {
		TempID string
		Task   service.TaskView
	}
	// CreateFailed removes the placeholder.
	CreateFailed struct {
		TempID string
		Err    error
	}

	// ToggleRequested flips done optimistically.
	ToggleRequested struct{ ID string }
	// ToggleConfirmed settles a toggle with the stored task.
	ToggleConfirmed struct{ Task service.TaskView }
	// ToggleFailed restores the prior done value.
	ToggleFailed struct {
		ID  string
		Err error
	}

	// Upserted re-projects a confirmed task into every view.
	Upserted struct{ Task service.TaskView }
	// UpdateFailed records a failed update; views are unchanged.
	UpdateFailed struct {
		ID  string
		Err error
	}
	// Removed drops a task from every view for good.
	Removed struct{ ID string }
	// DeleteFailed records a failed delete; views are unchanged.
	DeleteFailed struct {
		ID  string
		Err error
	}

	OpenDetail  struct{ View, ID string }
	CloseDetail struct{}
	ClearError  struct{}
)

func (Loaded) event()          {}
func (LoadFailed) event()      {}
func (CreateRequested) event() {}
func (CreateConfirmed) event() {}
func (CreateFailed) event()    {}
func (ToggleRequested) event() {}
func (ToggleConfirmed) event() {}
func (ToggleFailed) event()    {}
func (Upserted) event()        {}
func (UpdateFailed) event()    {}
func (Removed) event()         {}
func (DeleteFailed) event()    {}
func (OpenDetail) event()      {}
func (CloseDetail) event()     {}
func (ClearError) event()      {}

// Apply returns the state that results from ev.
func Apply(s State, ev Event) State {
	n := s.clone()
	switch ev := ev.(type) {
	case Loaded:
		n.load(ev.Tasks)
	case LoadFailed:
		n.Err = ev.Err

	case CreateRequested:
		n.project(Entry{Task: ev.Task, State: Pending})
	case CreateConfirmed:
		if n.Detail != nil && n.Detail.Task.ID == ev.TempID {
			n.Detail.Task = ev.Task
		}
		n.remove(ev.TempID)
		if !n.deleted[ev.Task.ID] {
			n.project(Entry{Task: ev.Task, State: Confirmed})
		}
	case CreateFailed:
		n.remove(ev.TempID)
		n.Err = ev.Err

	case ToggleRequested:
		e, ok := n.Find(ev.ID)
		if !ok {
			break
		}
		e.prior = e.Task.Done
		e.Task.Done = !e.Task.Done
		e.State = Pending
		n.project(e)
	case ToggleConfirmed:
		if !n.deleted[ev.Task.ID] {
			n.project(Entry{Task: ev.Task, State: Confirmed})
		}
	case ToggleFailed:
		n.Err = ev.Err
		e, ok := n.Find(ev.ID)
		if !ok || e.State != Pending {
			break
		}
		e.Task.Done = e.prior
		e.State = RolledBack
		n.project(e)

	case Upserted:
		if !n.deleted[ev.Task.ID] {
			n.project(Entry{Task: ev.Task, State: Confirmed})
		}
	case UpdateFailed:
		n.Err = ev.Err
	case Removed:
		n.remove(ev.ID)
		n.deleted[ev.ID] = true
	case DeleteFailed:
		n.Err = ev.Err

	case OpenDetail:
		if i := indexOf(n.Lists[ev.View], ev.ID); i >= 0 {
			n.Detail = &Detail{View: ev.View, Task: n.Lists[ev.View][i].Task}
		}
	case CloseDetail:
		n.Detail = nil
	case ClearError:
		n.Err = nil
	}
	n.syncDetail()
	return n
}

// clone copies the list headers; entries are values so appends and
// in-place replacements on the copy never reach s.
func (s State) clone() State {
	n := s
	n.Lists = make(map[string][]Entry, len(s.Lists))
	for k, v := range s.Lists {
		n.Lists[k] = slices.Clone(v)
	}
	if s.Detail != nil {
		d := *s.Detail
		n.Detail = &d
	}
	n.deleted = maps.Clone(s.deleted)
	if n.deleted == nil {
		n.deleted = make(map[string]bool)
	}
	return n
}

// project places e into every view it matches and removes it from the rest.
func (s *State) project(e Entry) {
	for _, v := range s.Views {
		list := s.Lists[v.Name]
		i := indexOf(list, e.Task.ID)
		switch {
		case v.Match(e.Task, s.Env) && i >= 0:
			list[i] = e
		case v.Match(e.Task, s.Env):
			list = append(list, e)
		case i >= 0:
			list = slices.Delete(list, i, i+1)
		}
		slices.SortStableFunc(list, func(a, b Entry) int { return compare(v.Less, a.Task, b.Task) })
		s.Lists[v.Name] = list
	}
}

func (s *State) remove(id string) {
	for name, list := range s.Lists {
		if i := indexOf(list, id); i >= 0 {
			s.Lists[name] = slices.Delete(list, i, i+1)
		}
	}
}

func (s *State) load(tasks []service.TaskView) {
	var pending []Entry
	seen := make(map[string]bool)
	for _, v := range s.Views {
		for _, e := range s.Lists[v.Name] {
			if e.State == Pending && !seen[e.Task.ID] {
				seen[e.Task.ID] = true
				pending = append(pending, e)
			}
		}
		s.Lists[v.Name] = nil
	}
	for _, t := range tasks {
		if !seen[t.ID] && !s.deleted[t.ID] {
			s.project(Entry{Task: t, State: Confirmed})
		}
	}
	for _, e := range pending {
		s.project(e)
	}
}

// syncDetail refreshes the detail task from its view, or closes the detail
// when the task has left that view.
func (s *State) syncDetail() {
	if s.Detail == nil {
		return
	}
	list := s.Lists[s.Detail.View]
	if i := indexOf(list, s.Detail.Task.ID); i >= 0 {
		s.Detail.Task = list[i].Task
		return
	}
	s.Detail = nil
}

func indexOf(list []Entry, id string) int {
	return slices.IndexFunc(list, func(e Entry) bool { return e.Task.ID == id })
}

func compare(less func(a, b service.TaskView) bool, a, b service.TaskView) int {
	switch {
	case less(a, b):
		return -1
	case less(b, a):
		return 1
	}
	return 0
}
