package reconciler

import (
	"testing"

	"github.com/GoCodeAlone/taskpilot/service"
)

func TestGroup(t *testing.T) {
	tasks := []service.TaskView{
		view("none", nil),
		view("next-monday", due(4)),
		view("today-1", due(0)),
		view("yesterday", due(-1)),
		view("tomorrow", due(1)),
		view("last-week", due(-5)),
		view("today-2", due(0)),
	}
	got := Group(tasks, testEnv)

	want := []struct {
		label string
		count int
	}{
		{"Mar 28", 1},
		{"Yesterday", 1},
		{"Today", 2},
		{"Tomorrow", 1},
		{"Apr 6", 1},
		{NoDueDate, 1},
	}
	if len(got) != len(want) {
		t.Fatalf("Group returned %d sections, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Label != w.label || len(got[i].Tasks) != w.count {
			t.Errorf("section %d = %s (%d), want %s (%d)", i, got[i].Label, len(got[i].Tasks), w.label, w.count)
		}
	}
	if got[2].Tasks[0].ID != "today-1" {
		t.Errorf("Today section order = %s first, want today-1", got[2].Tasks[0].ID)
	}
}

func TestUpcoming(t *testing.T) {
	tasks := []service.TaskView{
		view("today", due(0)),
		view("saturday", due(2)),
		view("later", due(8)),
		view("undated", nil),
	}
	got := Upcoming(tasks, testEnv)
	want := []string{SectionToday, SectionThisWeek, SectionLater}
	if len(got) != len(want) {
		t.Fatalf("Upcoming returned %+v", got)
	}
	for i, w := range want {
		if got[i].Label != w {
			t.Errorf("section %d = %s, want %s", i, got[i].Label, w)
		}
	}
}
