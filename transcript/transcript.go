// Package transcript is the append-only event log of one assistant turn.
// The agent appends to it; the HTTP layer and UI fold over it.
package transcript

import (
	"context"
	"encoding/json"
	"sync"
)

// Kind identifies a transcript event.
type Kind string

const (
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindError      Kind = "error"
	KindStepLimit  Kind = "step_limit"
	KindDone       Kind = "done"
)

// Event is one entry in the log. Seq starts at 1 and increases by one.
type Event struct {
	Seq        int             `json:"seq"`
	Kind       Kind            `json:"type"`
	Step       int             `json:"step,omitempty"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      map[string]any  `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Terminal reports whether e ends a turn.
func (e Event) Terminal() bool { return e.Kind == KindDone }

// Log is safe for concurrent use. After Close, Append is a no-op.
type Log struct {
	mu      sync.Mutex
	events  []Event
	changed chan struct{}
	closed  bool
}

// NewLog returns an empty, open log.
func NewLog() *Log {
	return &Log{changed: make(chan struct{})}
}

// Append assigns the next sequence number to e and records it. It reports
// false when the log is already closed.
func (l *Log) Append(e Event) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Event{}, false
	}
	e.Seq = len(l.events) + 1
	l.events = append(l.events, e)
	close(l.changed)
	l.changed = make(chan struct{})
	return e, true
}

// Close marks the log complete and wakes subscribers.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.changed)
}

// Closed reports whether Close has been called.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Events returns a copy of every event appended so far.
func (l *Log) Events() []Event {
	return l.Since(0)
}

// Since returns the events with Seq greater than seq.
func (l *Log) Since(seq int) []Event {
	evs, _, _ := l.snapshot(seq)
	return evs
}

func (l *Log) snapshot(seq int) ([]Event, <-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	var out []Event
	if seq < len(l.events) {
		out = make([]Event, len(l.events)-seq)
		copy(out, l.events[seq:])
	}
	return out, l.changed, l.closed
}

// Subscribe streams every event from the start of the log, then new events
// as they are appended. The channel closes once the log is closed and
// drained, or when ctx is done.
func (l *Log) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		seq := 0
		for {
			evs, changed, closed := l.snapshot(seq)
			for _, e := range evs {
				select {
				case out <- e:
					seq = e.Seq
				case <-ctx.Done():
					return
				}
			}
			if closed && len(evs) == 0 {
				return
			}
			if len(evs) > 0 {
				continue
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
