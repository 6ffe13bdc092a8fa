package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/GoCodeAlone/taskpilot/provider"
	"github.com/GoCodeAlone/taskpilot/service"
)

// DefaultTimeout bounds a single executor call.
const DefaultTimeout = 15 * time.Second

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the registered tools. Register is the single point where
// tools enter the set.
type Registry struct {
	mu      sync.RWMutex
	tools   map[Name]*entry
	order   []Name
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry returns an empty registry. A zero timeout uses DefaultTimeout.
func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[Name]*entry), timeout: timeout, logger: logger}
}

// Register compiles the tool's schema and adds it. Duplicate names are rejected.
func (r *Registry) Register(t Tool) error {
	schema, err := compileSchema(t.Name(), t.Schema())
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = &entry{tool: t, schema: schema}
	r.order = append(r.order, t.Name())
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name Name) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Definitions returns the provider definitions in registration order.
func (r *Registry) Definitions() []provider.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]provider.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		defs = append(defs, provider.ToolDef{
			Name:        string(name),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Execute validates args and runs the named tool within the registry timeout.
// It always returns an envelope.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	n, ok := ParseName(name)
	r.mu.RLock()
	e := r.tools[n]
	r.mu.RUnlock()
	if !ok || e == nil {
		return Result{Message: fmt.Sprintf("Unknown tool: %s", name), ErrorKind: string(service.KindValidation)}
	}

	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Result{Message: fmt.Sprintf("Invalid input for %s: %v", name, err), ErrorKind: string(service.KindValidation)}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Result{Message: fmt.Sprintf("Invalid input for %s: %v", name, err), ErrorKind: string(service.KindValidation)}
	}
	if err := e.schema.Validate(inst); err != nil {
		r.logger.Debug("tools: input rejected", "tool", name, "error", err)
		return Result{Message: fmt.Sprintf("Invalid input for %s: %s", name, validationMessage(err)), ErrorKind: string(service.KindValidation)}
	}

	return r.run(ctx, e.tool, raw)
}

func (r *Registry) run(ctx context.Context, t Tool, input json.RawMessage) Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("tools: executor panicked", "tool", t.Name(), "panic", p)
				done <- Result{Message: "Tool failed unexpectedly", ErrorKind: string(service.KindUnknown)}
			}
		}()
		done <- t.Execute(ctx, input)
	}()

	select {
	case res := <-done:
		r.logger.Debug("tools: executed", "tool", t.Name(), "success", res.Success, "elapsed", time.Since(start))
		return res
	case <-ctx.Done():
		r.logger.Warn("tools: executor did not finish", "tool", t.Name(), "error", ctx.Err())
		msg := fmt.Sprintf("Tool %s timed out", t.Name())
		if errors.Is(ctx.Err(), context.Canceled) {
			msg = fmt.Sprintf("Tool %s was cancelled", t.Name())
		}
		return Result{Message: msg, ErrorKind: string(service.KindTimeout)}
	}
}

func compileSchema(name Name, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s schema: %w", name, err)
	}
	url := "https://taskpilot.local/tools/" + string(name) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add %s schema: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return compiled, nil
}

// validationMessage flattens a schema error to its leaf causes.
func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var leaves []*jsonschema.ValidationError
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			leaves = append(leaves, v)
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)

	printer := message.NewPrinter(language.English)
	var buf bytes.Buffer
	for i, l := range leaves {
		if i > 0 {
			buf.WriteString("; ")
		}
		loc := "/"
		for j, p := range l.InstanceLocation {
			if j > 0 {
				loc += "/"
			}
			loc += p
		}
		fmt.Fprintf(&buf, "at %s: %s", loc, l.ErrorKind.LocalizedString(printer))
	}
	return buf.String()
}

// NewDefault registers the fixed tool set over svc. Due dates without a
// zone and all rendered times use clock's location.
func NewDefault(svc TaskService, clock *Clock, timeout time.Duration, logger *slog.Logger) (*Registry, error) {
	if clock == nil {
		clock = NewClock(nil)
	}
	r := NewRegistry(timeout, logger)
	for _, t := range []Tool{
		newCreateTask(svc, clock.Location),
		newListTasks(svc),
		newUpdateTask(svc, clock.Location),
		newDeleteTask(svc),
		newGetTime(clock),
	} {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
