// Package agent drives the model/tool loop for one assistant turn and keeps
// per-conversation history.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/taskpilot/provider"
	"github.com/GoCodeAlone/taskpilot/tools"
)

// State is the position of a turn in the loop.
type State string

const (
	StateAwaitingModel    State = "awaiting_model"
	StateModelResponded   State = "model_responded"
	StateDispatchingTools State = "dispatching_tools"
	StateDone             State = "done"
)

// Reason records why a turn reached StateDone.
type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonStepLimit Reason = "step_limit"
	ReasonAborted   Reason = "aborted"
	ReasonFailed    Reason = "failed"
)

// DefaultMaxSteps bounds model round-trips per turn.
const DefaultMaxSteps = 20

// DefaultModelTimeout bounds a single model round-trip.
const DefaultModelTimeout = 60 * time.Second

// Dispatcher executes tool calls by name. tools.Registry implements it.
type Dispatcher interface {
	Definitions() []provider.ToolDef
	Execute(ctx context.Context, name string, args map[string]any) tools.Result
}

// Config wires a Runtime.
type Config struct {
	Provider     provider.Provider
	Tools        Dispatcher
	MaxSteps     int
	ModelTimeout time.Duration
	// Directive overrides the generated system directive when set.
	Directive string
	Now       func() time.Time
	Location  *time.Location
	Logger    *slog.Logger
}

// Outcome summarises a finished turn.
type Outcome struct {
	Reason Reason
	Steps  int
	// Messages are the assistant and tool messages the turn appended to
	// history, in call order.
	Messages []provider.Message
	Err      error
}
