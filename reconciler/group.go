package reconciler

import (
	"slices"
	"time"

	"github.com/GoCodeAlone/taskpilot/service"
)

// Section is a labelled run of tasks within a view.
type Section struct {
	Label string
	Order int
	Tasks []service.TaskView
}

// NoDueDate is the label for undated tasks.
const NoDueDate = "No Due Date"

// Group splits tasks into date sections: Yesterday, Today and Tomorrow by
// name, other days as "Jan 2", undated tasks last. Sections are ordered by
// distance from today; tasks keep their input order within a section.
func Group(tasks []service.TaskView, env Env) []Section {
	var out []Section
	index := make(map[string]int)
	for _, t := range tasks {
		label, order := NoDueDate, 999
		if due, ok := dueOf(t); ok {
			label, order = dayLabel(due, env)
		}
		i, ok := index[label]
		if !ok {
			i = len(out)
			index[label] = i
			out = append(out, Section{Label: label, Order: order})
		}
		out[i].Tasks = append(out[i].Tasks, t)
	}
	slices.SortStableFunc(out, func(a, b Section) int { return a.Order - b.Order })
	return out
}

func dayLabel(due time.Time, env Env) (string, int) {
	d := env.dayDiff(due)
	switch {
	case d == 0:
		return "Today", 0
	case d == 1:
		return "Tomorrow", 1
	case d == -1:
		return "Yesterday", -1
	case d < 0:
		return due.In(env.loc()).Format("Jan 2"), d
	default:
		// Leave room for Tomorrow at 1.
		return due.In(env.loc()).Format("Jan 2"), d + 1
	}
}

// Upcoming section labels.
const (
	SectionToday    = "Today"
	SectionTomorrow = "Tomorrow"
	SectionThisWeek = "This Week"
	SectionLater    = "Later"
)

// Upcoming splits dated tasks into Today, Tomorrow, This Week (the rest of
// the Sunday-started week) and Later. Empty sections are omitted.
func Upcoming(tasks []service.TaskView, env Env) []Section {
	sections := []Section{
		{Label: SectionToday, Order: 0},
		{Label: SectionTomorrow, Order: 1},
		{Label: SectionThisWeek, Order: 2},
		{Label: SectionLater, Order: 3},
	}
	today := env.startOfDay(env.Now, 0)
	weekStart := today.AddDate(0, 0, -int(today.Weekday()))
	weekEnd := weekStart.AddDate(0, 0, 7)

	for _, t := range tasks {
		due, ok := dueOf(t)
		if !ok {
			continue
		}
		var i int
		switch d := env.dayDiff(due); {
		case d == 0:
			i = 0
		case d == 1:
			i = 1
		case !due.Before(weekStart) && due.Before(weekEnd):
			i = 2
		default:
			i = 3
		}
		sections[i].Tasks = append(sections[i].Tasks, t)
	}
	return slices.DeleteFunc(sections, func(s Section) bool { return len(s.Tasks) == 0 })
}
