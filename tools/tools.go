// Package tools defines the operations the assistant may invoke and the
// registry that validates and dispatches them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GoCodeAlone/taskpilot/service"
)

// Name identifies a tool. The set is closed: every tool the assistant can
// call is declared here.
type Name string

const (
	CreateTask Name = "createTask"
	ListTasks  Name = "listTasks"
	UpdateTask Name = "updateTask"
	DeleteTask Name = "deleteTask"
	GetTime    Name = "getTime"
)

// Names lists the tools in the order they are offered to the model.
var Names = []Name{CreateTask, ListTasks, UpdateTask, DeleteTask, GetTime}

// ParseName maps a wire name to a declared Name.
func ParseName(s string) (Name, bool) {
	for _, n := range Names {
		if string(n) == s {
			return n, true
		}
	}
	return "", false
}

// Widget hints which inline renderer a UI should use for a result.
type Widget string

const (
	WidgetNone     Widget = ""
	WidgetTaskList Widget = "task_list"
	WidgetTaskCard Widget = "task_card"
)

// Result is the envelope every tool call produces. Executors never return
// errors; failures are reported with Success false and an ErrorKind.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	Widget    Widget `json:"widget,omitempty"`
}

// Failure wraps err into a failed envelope.
func Failure(err error) Result {
	return Result{
		Success:   false,
		Message:   service.MessageOf(err),
		ErrorKind: string(service.KindOf(err)),
	}
}

// Tool is a named operation with a JSON Schema input contract.
type Tool interface {
	Name() Name
	Description() string
	Schema() map[string]any
	// Execute runs with input already validated against Schema.
	Execute(ctx context.Context, input json.RawMessage) Result
}

// typed adapts a function over a decoded input struct to Tool.
type typed[In any] struct {
	name        Name
	description string
	schema      map[string]any
	run         func(ctx context.Context, in In) Result
}

func (t *typed[In]) Name() Name             { return t.name }
func (t *typed[In]) Description() string    { return t.description }
func (t *typed[In]) Schema() map[string]any { return t.schema }

func (t *typed[In]) Execute(ctx context.Context, input json.RawMessage) Result {
	var in In
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return Result{
				Message:   fmt.Sprintf("Invalid input for %s: %v", t.name, err),
				ErrorKind: string(service.KindValidation),
			}
		}
	}
	return t.run(ctx, in)
}

// TaskService is the slice of the task service the tools call.
type TaskService interface {
	CreateTask(ctx context.Context, in service.CreateInput) (*service.TaskView, error)
	ListTasks(ctx context.Context, in service.ListInput) ([]service.TaskView, error)
	UpdateTask(ctx context.Context, id string, in service.UpdateInput) (*service.TaskView, error)
	DeleteTask(ctx context.Context, id string) error
}
