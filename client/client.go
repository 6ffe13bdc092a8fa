// Package client is an HTTP client for the taskpilot API. It satisfies the
// reconciler's Backend so a UI can drive its views over the network.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/taskpilot/provider"
	"github.com/GoCodeAlone/taskpilot/service"
	"github.com/GoCodeAlone/taskpilot/task"
	"github.com/GoCodeAlone/taskpilot/transcript"
)

// DefaultServer is the daemon's default listen URL.
const DefaultServer = "http://localhost:9090"

// Client holds HTTP client state.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New returns a Client for baseURL authenticating with token.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Success bool                 `json:"success"`
	Data    json.RawMessage      `json:"data"`
	Message string               `json:"message"`
	Error   string               `json:"error"`
	Kind    service.Kind         `json:"kind"`
	Details []service.FieldError `json:"details"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

// do sends the request and decodes the data field into out (may be nil).
// API failures come back as *service.Error with the server's kind.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode >= 400 || !env.Success {
		kind := env.Kind
		if kind == "" {
			kind = service.KindUnknown
		}
		return &service.Error{Kind: kind, Message: env.Error, Fields: env.Details}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in service.CreateInput) (*service.TaskView, error) {
	var v service.TaskView
	if err := c.do(ctx, http.MethodPost, "/api/tasks", in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (*service.TaskView, error) {
	var v service.TaskView
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// UpdateTask sends a partial update. Absent fields are not sent.
func (c *Client) UpdateTask(ctx context.Context, id string, in service.UpdateInput) (*service.TaskView, error) {
	var v service.TaskView
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ToggleDone sets the done flag.
func (c *Client) ToggleDone(ctx context.Context, id string, done bool) (*service.TaskView, error) {
	return c.UpdateTask(ctx, id, service.UpdateInput{Done: task.Set(done)})
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

// ListTasks lists tasks matching in.
func (c *Client) ListTasks(ctx context.Context, in service.ListInput) ([]service.TaskView, error) {
	q := url.Values{}
	if in.Done != nil {
		q.Set("done", strconv.FormatBool(*in.Done))
	}
	if in.Q != "" {
		q.Set("q", in.Q)
	}
	if in.Limit != nil {
		q.Set("limit", strconv.Itoa(*in.Limit))
	}
	if in.Priority != "" {
		q.Set("priority", in.Priority)
	}
	path := "/api/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []service.TaskView
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns the server's status map.
func (c *Client) Status(ctx context.Context) (map[string]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return out, nil
}

// Chat starts a turn and streams its transcript events. The channel closes
// after the done event, when the stream ends, or when ctx is cancelled.
// The request is not bounded by HTTPClient.Timeout.
func (c *Client) Chat(ctx context.Context, messages []provider.Message) (<-chan transcript.Event, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	body := struct {
		Messages []msg `json:"messages"`
	}{}
	for _, m := range messages {
		body.Messages = append(body.Messages, msg{Role: string(m.Role), Content: m.Content})
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	hc := *c.HTTPClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		var env envelope
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			return nil, &service.Error{Kind: env.Kind, Message: env.Error, Fields: env.Details}
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	ch := make(chan transcript.Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close() //nolint:errcheck
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var data strings.Builder
		for sc.Scan() {
			line := sc.Text()
			if rest, ok := strings.CutPrefix(line, "data: "); ok {
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(rest)
				continue
			}
			if line != "" || data.Len() == 0 {
				continue
			}
			var ev transcript.Event
			err := json.Unmarshal([]byte(data.String()), &ev)
			data.Reset()
			if err != nil {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}()
	return ch, nil
}
