package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GoCodeAlone/taskpilot/service"
	"github.com/GoCodeAlone/taskpilot/task"
)

var priorityEnum = []any{"URGENT", "HIGH", "MEDIUM", "LOW", "NONE"}

func dueDateProp(desc string) map[string]any {
	return map[string]any{"type": "string", "minLength": 1, "description": desc}
}

// dueLayouts are tried in order; layouts without a zone are read in the
// display timezone.
var dueLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseDue reads the due date formats a model commonly emits.
func parseDue(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for i, layout := range dueLayouts {
		var (
			t   time.Time
			err error
		)
		if i == 0 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, loc)
		}
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func badDue(s string) Result {
	return Result{
		Message:   fmt.Sprintf("Invalid due date %q, expected ISO 8601 such as 2025-10-20T10:00:00Z", s),
		ErrorKind: string(service.KindValidation),
	}
}

type createTaskInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"dueDate"`
	Priority    string  `json:"priority"`
}

func newCreateTask(svc TaskService, loc *time.Location) Tool {
	return &typed[createTaskInput]{
		name:        CreateTask,
		description: "Create a new task for the authenticated user. Use this tool when the user wants to add a new task, todo item, or reminder to their task list.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":       map[string]any{"type": "string", "description": "The title or name of the task"},
				"description": map[string]any{"type": "string", "description": "Optional detailed description of the task"},
				"dueDate":     dueDateProp("Optional due date in ISO 8601 format (e.g. '2025-10-20T10:00:00Z')"),
				"priority":    map[string]any{"type": "string", "enum": priorityEnum, "description": "Task priority level. Defaults to NONE if not specified"},
			},
			"required":             []any{"title"},
			"additionalProperties": false,
		},
		run: func(ctx context.Context, in createTaskInput) Result {
			ci := service.CreateInput{Title: in.Title, Description: in.Description, Priority: in.Priority}
			if in.DueDate != nil {
				due, err := parseDue(*in.DueDate, loc)
				if err != nil {
					return badDue(*in.DueDate)
				}
				ci.DueDate = &due
			}
			v, err := svc.CreateTask(ctx, ci)
			if err != nil {
				return Failure(err)
			}
			return Result{
				Success: true,
				Message: fmt.Sprintf("Task %q created successfully", v.Title),
				Data:    map[string]any{"task": v},
				Widget:  WidgetTaskCard,
			}
		},
	}
}

type listTasksInput struct {
	Done     *bool  `json:"done"`
	Q        string `json:"q"`
	Limit    *int   `json:"limit"`
	Priority string `json:"priority"`
}

func newListTasks(svc TaskService) Tool {
	return &typed[listTasksInput]{
		name:        ListTasks,
		description: "Get a list of tasks for the authenticated user. Use this tool when the user wants to see their tasks, view their todo list, or search for specific tasks.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"done":     map[string]any{"type": "boolean", "description": "Filter by completion status. Leave unset to show all tasks"},
				"q":        map[string]any{"type": "string", "description": "Search query matched against title or description"},
				"limit":    map[string]any{"type": "integer", "minimum": 1, "maximum": task.MaxLimit, "description": "Maximum number of tasks to return. Defaults to 50"},
				"priority": map[string]any{"type": "string", "enum": priorityEnum, "description": "Filter tasks by priority level"},
			},
			"additionalProperties": false,
		},
		run: func(ctx context.Context, in listTasksInput) Result {
			views, err := svc.ListTasks(ctx, service.ListInput{
				Done: in.Done, Q: in.Q, Limit: in.Limit, Priority: in.Priority,
			})
			if err != nil {
				return Failure(err)
			}
			return Result{
				Success: true,
				Message: fmt.Sprintf("Found %d task(s)", len(views)),
				Data:    map[string]any{"tasks": views, "count": len(views)},
				Widget:  WidgetTaskList,
			}
		},
	}
}

type updateTaskInput struct {
	ID          string             `json:"id"`
	Title       task.Field[string] `json:"title"`
	Description task.Field[string] `json:"description"`
	Done        task.Field[bool]   `json:"done"`
	DueDate     task.Field[string] `json:"dueDate"`
	Priority    task.Field[string] `json:"priority"`
}

func newUpdateTask(svc TaskService, loc *time.Location) Tool {
	return &typed[updateTaskInput]{
		name:        UpdateTask,
		description: "Update an existing task for the authenticated user. Use this tool when the user wants to modify task details, change the title, description, completion status, priority or due date.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":          map[string]any{"type": "string", "minLength": 1, "description": "The unique ID of the task to update"},
				"title":       map[string]any{"type": "string", "description": "New title for the task"},
				"description": map[string]any{"type": []any{"string", "null"}, "description": "New description. Null clears it"},
				"done":        map[string]any{"type": "boolean", "description": "New completion status"},
				"dueDate":     map[string]any{"type": []any{"string", "null"}, "description": "New due date in ISO 8601 format. Null clears it"},
				"priority":    map[string]any{"type": "string", "enum": priorityEnum, "description": "New priority level"},
			},
			"required":             []any{"id"},
			"additionalProperties": false,
		},
		run: func(ctx context.Context, in updateTaskInput) Result {
			ui := service.UpdateInput{
				Title:       in.Title,
				Description: in.Description,
				Done:        in.Done,
				Priority:    in.Priority,
			}
			switch s, ok := in.DueDate.Value(); {
			case ok:
				due, err := parseDue(s, loc)
				if err != nil {
					return badDue(s)
				}
				ui.DueDate = task.Set(due)
			case in.DueDate.IsNull():
				ui.DueDate = task.Null[time.Time]()
			}
			v, err := svc.UpdateTask(ctx, in.ID, ui)
			if err != nil {
				return Failure(err)
			}
			return Result{
				Success: true,
				Message: fmt.Sprintf("Task %q updated successfully", v.Title),
				Data:    map[string]any{"task": v},
				Widget:  WidgetTaskCard,
			}
		},
	}
}

type deleteTaskInput struct {
	ID string `json:"id"`
}

func newDeleteTask(svc TaskService) Tool {
	return &typed[deleteTaskInput]{
		name:        DeleteTask,
		description: "Delete a task for the authenticated user. Use this tool when the user wants to remove or delete a task from their list.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "string", "minLength": 1, "description": "The unique ID of the task to delete"},
			},
			"required":             []any{"id"},
			"additionalProperties": false,
		},
		run: func(ctx context.Context, in deleteTaskInput) Result {
			if err := svc.DeleteTask(ctx, in.ID); err != nil {
				return Failure(err)
			}
			return Result{
				Success: true,
				Message: "Task deleted successfully",
				Data:    map[string]any{"id": in.ID},
			}
		},
	}
}
