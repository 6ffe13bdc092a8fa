// Package mock provides a scripted provider for tests and offline runs.
package mock

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/taskpilot/provider"
)

const defaultResponse = "Got it. Let me know if there is anything else I can do."

// Step is one scripted model turn.
type Step struct {
	Content   string              `yaml:"content" json:"content"`
	ToolCalls []provider.ToolCall `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	Error     string              `yaml:"error,omitempty" json:"error,omitempty"`
	Delay     time.Duration       `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// Text is a step that answers with content and no tool calls.
func Text(content string) Step { return Step{Content: content} }

// Call is a step that invokes a single tool.
func Call(name string, args map[string]any) Step {
	return Step{ToolCalls: []provider.ToolCall{{Name: name, Arguments: args}}}
}

// Scenario is a named sequence of steps loadable from YAML.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
	Loop  bool   `yaml:"loop,omitempty"`
}

// LoadScenario reads a Scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario %q: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %q: %w", path, err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", path)
	}
	return &sc, nil
}

// Provider implements provider.Provider from a script. Once the script is
// exhausted it answers with a fixed text reply, unless it loops.
// It is safe for concurrent use.
type Provider struct {
	mu       sync.Mutex
	steps    []Step
	loop     bool
	idx      int
	requests [][]provider.Message
}

// New returns a provider that plays steps once.
func New(steps ...Step) *Provider {
	return &Provider{steps: steps}
}

// NewLooping returns a provider that cycles through steps indefinitely.
func NewLooping(steps ...Step) *Provider {
	return &Provider{steps: steps, loop: true}
}

// FromScenario returns a provider playing sc.
func FromScenario(sc *Scenario) *Provider {
	return &Provider{steps: sc.Steps, loop: sc.Loop}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "mock" }

// Calls reports how many requests the provider has served.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns copies of the message histories received so far.
func (p *Provider) Requests() [][]provider.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]provider.Message, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Provider) next(messages []provider.Message) Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, append([]provider.Message(nil), messages...))
	if p.idx >= len(p.steps) {
		if !p.loop || len(p.steps) == 0 {
			return Text(defaultResponse)
		}
		p.idx = 0
	}
	step := p.steps[p.idx]
	p.idx++

	calls := make([]provider.ToolCall, len(step.ToolCalls))
	for i, tc := range step.ToolCalls {
		if tc.ID == "" {
			tc.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}
		calls[i] = tc
	}
	step.ToolCalls = calls
	return step
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chat returns the next scripted step.
func (p *Provider) Chat(ctx context.Context, messages []provider.Message, _ []provider.ToolDef) (*provider.Response, error) {
	step := p.next(messages)
	if err := wait(ctx, step.Delay); err != nil {
		return nil, err
	}
	if step.Error != "" {
		return nil, fmt.Errorf("mock: %s", step.Error)
	}
	return &provider.Response{
		Content:   step.Content,
		ToolCalls: step.ToolCalls,
		Usage:     provider.Usage{OutputTokens: len(step.Content)},
	}, nil
}

// Stream delivers the next step as word-sized text events followed by any
// tool calls and a done event.
func (p *Provider) Stream(ctx context.Context, messages []provider.Message, _ []provider.ToolDef) (<-chan provider.StreamEvent, error) {
	step := p.next(messages)
	if step.Error != "" {
		return nil, fmt.Errorf("mock stream: %s", step.Error)
	}

	ch := make(chan provider.StreamEvent, 4)
	go func() {
		defer close(ch)
		emit := func(ev provider.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := wait(ctx, step.Delay); err != nil {
			return
		}
		for _, chunk := range chunks(step.Content) {
			if !emit(provider.StreamEvent{Type: provider.EventText, Text: chunk}) {
				return
			}
		}
		for i := range step.ToolCalls {
			tc := step.ToolCalls[i]
			if !emit(provider.StreamEvent{Type: provider.EventToolCall, Tool: &tc}) {
				return
			}
		}
		emit(provider.StreamEvent{
			Type:  provider.EventDone,
			Usage: &provider.Usage{OutputTokens: len(step.Content)},
		})
	}()
	return ch, nil
}

// chunks splits s after each space so concatenation restores s.
func chunks(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
