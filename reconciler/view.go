package reconciler

import (
	"time"

	"github.com/GoCodeAlone/taskpilot/service"
	"github.com/GoCodeAlone/taskpilot/task"
)

// Env is the fixed clock reading every predicate and comparator sees.
type Env struct {
	Now      time.Time
	Location *time.Location
}

func (e Env) loc() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

// startOfDay returns midnight of t's calendar day in the env's location,
// shifted by days.
func (e Env) startOfDay(t time.Time, days int) time.Time {
	t = t.In(e.loc())
	return time.Date(t.Year(), t.Month(), t.Day()+days, 0, 0, 0, 0, e.loc())
}

// dayDiff is the number of calendar days from today to t.
func (e Env) dayDiff(t time.Time) int {
	civil := func(t time.Time) time.Time {
		y, m, d := t.In(e.loc()).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return int(civil(t).Sub(civil(e.Now)).Hours() / 24)
}

// View is a named projection of the task set.
type View struct {
	Name  string
	Match func(v service.TaskView, env Env) bool
	Less  func(a, b service.TaskView) bool
}

// View names.
const (
	ViewAll      = "all"
	ViewToday    = "today"
	ViewTomorrow = "tomorrow"
	ViewUpcoming = "upcoming"
)

// DefaultViews returns the built-in views.
func DefaultViews() []View {
	return []View{
		{Name: ViewAll, Match: func(service.TaskView, Env) bool { return true }, Less: newestFirst},
		{Name: ViewToday, Match: dueOn(0), Less: bySeverity},
		{Name: ViewTomorrow, Match: dueOn(1), Less: bySeverity},
		{Name: ViewUpcoming, Match: dueFromToday, Less: byDueDate},
	}
}

func dueOn(offset int) func(service.TaskView, Env) bool {
	return func(v service.TaskView, env Env) bool {
		due, ok := dueOf(v)
		return ok && env.dayDiff(due) == offset
	}
}

func dueFromToday(v service.TaskView, env Env) bool {
	due, ok := dueOf(v)
	return ok && !due.Before(env.startOfDay(env.Now, 0))
}

func newestFirst(a, b service.TaskView) bool {
	ca, cb := parseTime(a.CreatedAt), parseTime(b.CreatedAt)
	if !ca.Equal(cb) {
		return ca.After(cb)
	}
	return a.ID < b.ID
}

func bySeverity(a, b service.TaskView) bool {
	return task.Less(
		&task.Task{ID: a.ID, Priority: a.Priority, CreatedAt: parseTime(a.CreatedAt)},
		&task.Task{ID: b.ID, Priority: b.Priority, CreatedAt: parseTime(b.CreatedAt)},
	)
}

// byDueDate orders by due date ascending with undated tasks last.
func byDueDate(a, b service.TaskView) bool {
	da, oka := dueOf(a)
	db, okb := dueOf(b)
	switch {
	case oka && okb && !da.Equal(db):
		return da.Before(db)
	case oka != okb:
		return oka
	}
	return newestFirst(a, b)
}

func dueOf(v service.TaskView) (time.Time, bool) {
	if v.DueDate == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, *v.DueDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
