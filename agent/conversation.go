package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/GoCodeAlone/taskpilot/provider"
	"github.com/GoCodeAlone/taskpilot/transcript"
)

// ErrBusy is returned when a message arrives while a turn is in progress.
var ErrBusy = errors.New("agent: conversation is busy")

// ErrEmptyMessage is returned for blank user input.
var ErrEmptyMessage = errors.New("agent: message is empty")

// Conversation processes one user message at a time and accumulates the
// resulting history.
type Conversation struct {
	rt *Runtime

	mu      sync.Mutex
	busy    bool
	history []provider.Message
	last    Outcome
}

// NewConversation starts a conversation seeded with prior history.
func (r *Runtime) NewConversation(history ...provider.Message) *Conversation {
	return &Conversation{rt: r, history: append([]provider.Message(nil), history...)}
}

// Send starts a turn for text and returns its live log. The log closes when
// the turn ends, after history has been updated.
func (c *Conversation) Send(ctx context.Context, text string) (*transcript.Log, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.busy = true
	msgs := append(append([]provider.Message(nil), c.history...), provider.Message{Role: provider.RoleUser, Content: text})
	c.mu.Unlock()

	log := transcript.NewLog()
	go func() {
		out := c.rt.Run(ctx, msgs, log)
		c.mu.Lock()
		c.history = append(msgs, out.Messages...)
		c.last = out
		c.busy = false
		c.mu.Unlock()
		log.Close()
	}()
	return log, nil
}

// Busy reports whether a turn is in progress.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// History returns a copy of the accumulated messages.
func (c *Conversation) History() []provider.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.Message(nil), c.history...)
}

// Last returns the outcome of the most recent finished turn.
func (c *Conversation) Last() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
