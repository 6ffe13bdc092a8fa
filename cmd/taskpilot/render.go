package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/GoCodeAlone/taskpilot/reconciler"
	"github.com/GoCodeAlone/taskpilot/service"
)

const dueLayout = "Mon Jan 2 15:04"

// printTasks writes tasks as an aligned table.
func printTasks(w io.Writer, tasks []service.TaskView, loc *time.Location) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tPRIORITY\tDUE\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, checkbox(t.Done), t.Priority.Label(), formatDue(t.DueDate, loc), t.Title)
	}
	tw.Flush() //nolint:errcheck
}

// printSections writes one titled table per section.
func printSections(w io.Writer, sections []reconciler.Section, loc *time.Location) {
	if len(sections) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%d)\n", s.Label, len(s.Tasks))
		printTasks(w, s.Tasks, loc)
	}
}

func printTask(w io.Writer, t service.TaskView, loc *time.Location) {
	fmt.Fprintf(w, "id:          %s\n", t.ID)
	fmt.Fprintf(w, "title:       %s\n", t.Title)
	if t.Description != nil {
		fmt.Fprintf(w, "description: %s\n", *t.Description)
	}
	fmt.Fprintf(w, "due:         %s\n", formatDue(t.DueDate, loc))
	fmt.Fprintf(w, "priority:    %s\n", t.Priority.Label())
	fmt.Fprintf(w, "done:        %t\n", t.Done)
	fmt.Fprintf(w, "created:     %s\n", formatStamp(t.CreatedAt, loc))
	fmt.Fprintf(w, "updated:     %s\n", formatStamp(t.UpdatedAt, loc))
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func formatDue(due *string, loc *time.Location) string {
	if due == nil {
		return "-"
	}
	return formatStamp(*due, loc)
}

func formatStamp(s string, loc *time.Location) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.In(loc).Format(dueLayout)
}

// parseDue accepts today, tomorrow, +Nd, a calendar date, a date with a
// wall-clock time, or RFC 3339. Bare dates resolve to midnight in loc.
func parseDue(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	now = now.In(loc)
	midnight := func(days int) time.Time {
		return time.Date(now.Year(), now.Month(), now.Day()+days, 0, 0, 0, 0, loc)
	}
	switch s {
	case "today":
		return midnight(0), nil
	case "tomorrow":
		return midnight(1), nil
	}
	if rest, ok := strings.CutPrefix(s, "+"); ok {
		if n, err := strconv.Atoi(strings.TrimSuffix(rest, "d")); err == nil && strings.HasSuffix(rest, "d") {
			return midnight(n), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(s)); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised due date %q (try today, tomorrow, +3d, 2026-05-01 or 2026-05-01 17:00)", s)
}
