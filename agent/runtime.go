package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/taskpilot/provider"
	"github.com/GoCodeAlone/taskpilot/tools"
	"github.com/GoCodeAlone/taskpilot/transcript"
)

// ErrModelTimeout is reported when a model round-trip exceeds its bound.
var ErrModelTimeout = errors.New("model did not respond in time")

// Runtime runs assistant turns. It holds no per-conversation state and is
// safe for concurrent use.
type Runtime struct {
	cfg Config
}

// NewRuntime applies defaults to cfg.
func NewRuntime(cfg Config) *Runtime {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = DefaultModelTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runtime{cfg: cfg}
}

// Start runs a turn over messages in the background and returns its log,
// which is closed when the turn ends.
func (r *Runtime) Start(ctx context.Context, messages []provider.Message) *transcript.Log {
	log := transcript.NewLog()
	go func() {
		defer log.Close()
		r.Run(ctx, messages, log)
	}()
	return log
}

// emitter appends to the log unless the turn has been aborted. The lock
// makes the abort check and the append atomic, so nothing lands between an
// observed cancellation and the final done event.
type emitter struct {
	mu      sync.Mutex
	log     *transcript.Log
	ctx     context.Context
	aborted bool
}

func (e *emitter) emit(ev transcript.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted || e.ctx.Err() != nil {
		e.aborted = true
		return false
	}
	e.log.Append(ev)
	return true
}

// finish appends the terminal event regardless of cancellation.
func (e *emitter) finish(ev transcript.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		e.aborted = true
	}
	e.log.Append(ev)
}

// Run executes one turn synchronously. messages is the prior history plus
// the new user message, without a system message. Run appends events to log
// but does not close it.
func (r *Runtime) Run(ctx context.Context, messages []provider.Message, log *transcript.Log) Outcome {
	em := &emitter{log: log, ctx: ctx}
	history := make([]provider.Message, 0, len(messages)+1)
	history = append(history, provider.Message{Role: provider.RoleSystem, Content: r.directive()})
	history = append(history, messages...)
	base := len(history)

	out := Outcome{}
	end := func(reason Reason, err error) Outcome {
		out.Reason = reason
		out.Err = err
		out.Messages = append([]provider.Message(nil), history[base:]...)
		em.finish(transcript.Event{Kind: transcript.KindDone, Step: out.Steps, Reason: string(reason)})
		r.cfg.Logger.Debug("agent: turn finished", "reason", reason, "steps", out.Steps, "error", err)
		return out
	}

	defs := r.cfg.Tools.Definitions()
	for step := 1; step <= r.cfg.MaxSteps; step++ {
		if ctx.Err() != nil {
			return end(ReasonAborted, ctx.Err())
		}
		out.Steps = step

		// StateAwaitingModel
		resp, err := r.generate(ctx, em, step, history, defs)
		if err != nil {
			if ctx.Err() != nil {
				return end(ReasonAborted, ctx.Err())
			}
			r.cfg.Logger.Error("agent: model request failed", "step", step, "error", err)
			em.emit(transcript.Event{Kind: transcript.KindError, Step: step, Text: userFacing(err)})
			return end(ReasonFailed, err)
		}

		// StateModelResponded
		history = append(history, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if len(resp.ToolCalls) == 0 {
			return end(ReasonCompleted, nil)
		}

		// StateDispatchingTools
		results, ok := r.dispatch(ctx, em, step, resp.ToolCalls)
		if !ok {
			return end(ReasonAborted, ctx.Err())
		}
		for i, tc := range resp.ToolCalls {
			history = append(history, provider.Message{
				Role:       provider.RoleTool,
				Content:    string(results[i]),
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}

	r.cfg.Logger.Warn("agent: step limit reached", "steps", r.cfg.MaxSteps)
	em.emit(transcript.Event{
		Kind: transcript.KindStepLimit,
		Step: out.Steps,
		Text: fmt.Sprintf("I stopped after %d steps without finishing. Here is what I managed so far.", r.cfg.MaxSteps),
	})
	return end(ReasonStepLimit, nil)
}

func (r *Runtime) directive() string {
	if r.cfg.Directive != "" {
		return r.cfg.Directive
	}
	return Directive(r.cfg.Now(), r.cfg.Location)
}

// generate performs one bounded model round-trip, emitting text as it
// streams and collecting tool calls in the order the model produced them.
func (r *Runtime) generate(ctx context.Context, em *emitter, step int, history []provider.Message, defs []provider.ToolDef) (*provider.Response, error) {
	mctx, cancel := context.WithTimeout(ctx, r.cfg.ModelTimeout)
	defer cancel()

	ch, err := r.cfg.Provider.Stream(mctx, history, defs)
	if err != nil {
		return nil, classify(mctx, err)
	}

	resp := &provider.Response{}
	var text strings.Builder
	for ev := range ch {
		switch ev.Type {
		case provider.EventText:
			if ev.Text == "" {
				continue
			}
			text.WriteString(ev.Text)
			em.emit(transcript.Event{Kind: transcript.KindText, Step: step, Text: ev.Text})
		case provider.EventToolCall:
			if ev.Tool != nil {
				resp.ToolCalls = append(resp.ToolCalls, *ev.Tool)
			}
		case provider.EventError:
			// Drain so the producer can exit.
			for range ch {
			}
			return nil, classify(mctx, errors.New(ev.Error))
		case provider.EventDone:
			if ev.Usage != nil {
				resp.Usage = *ev.Usage
			}
			resp.Content = text.String()
			return resp, nil
		}
	}
	if err := mctx.Err(); err != nil {
		return nil, classify(mctx, err)
	}
	return nil, errors.New("model stream ended unexpectedly")
}

func classify(mctx context.Context, err error) error {
	if errors.Is(mctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrModelTimeout, err)
	}
	return err
}

func userFacing(err error) string {
	if errors.Is(err, ErrModelTimeout) {
		return "The assistant took too long to respond. Please try again."
	}
	return "The assistant is unavailable right now. Please try again in a moment."
}

// dispatch runs one step's tool calls concurrently. Executors run detached
// from cancellation so they are never interrupted; once ctx is done their
// results are dropped. Results are indexed by call order.
func (r *Runtime) dispatch(ctx context.Context, em *emitter, step int, calls []provider.ToolCall) ([]json.RawMessage, bool) {
	for _, tc := range calls {
		if !em.emit(transcript.Event{
			Kind:       transcript.KindToolCall,
			Step:       step,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Input:      tc.Arguments,
		}) {
			return nil, false
		}
	}

	detached := context.WithoutCancel(ctx)
	results := make([]json.RawMessage, len(calls))
	var g errgroup.Group
	for i, tc := range calls {
		g.Go(func() error {
			res := r.cfg.Tools.Execute(detached, tc.Name, tc.Arguments)
			raw, err := json.Marshal(res)
			if err != nil {
				raw, _ = json.Marshal(tools.Result{Message: "Tool result could not be encoded", ErrorKind: "UnknownError"})
			}
			results[i] = raw
			r.cfg.Logger.Debug("agent: tool finished", "tool", tc.Name, "id", tc.ID, "success", res.Success)
			em.emit(transcript.Event{
				Kind:       transcript.KindToolResult,
				Step:       step,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Output:     raw,
				IsError:    !res.Success,
			})
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return results, ctx.Err() == nil
	case <-ctx.Done():
		r.cfg.Logger.Info("agent: turn aborted during tool dispatch", "step", step)
		return nil, false
	}
}
