package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key=test-key, got %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("expected anthropic-version=%s, got %s", anthropicAPIVersion, r.Header.Get("anthropic-version"))
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "You are helpful." {
			t.Errorf("expected system prompt lifted, got %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("expected 1 user message, got %+v", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicRespItem{{Type: "text", Text: "Hello"}, {Type: "text", Text: " there"}},
			Usage:   anthropicUsage{InputTokens: 12, OutputTokens: 3},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL})
	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are helpful."},
		{Role: RoleUser, Content: "Hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Hello there" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.InputTokens != 12 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestAnthropicChatToolHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 3 {
			t.Fatalf("expected user, assistant, grouped results; got %d messages", len(req.Messages))
		}
		assistant := req.Messages[1]
		if assistant.Role != "assistant" || len(assistant.Content) != 3 {
			t.Fatalf("expected text plus two tool_use blocks, got %+v", assistant)
		}
		if assistant.Content[1].Type != "tool_use" || assistant.Content[1].ID != "tu_1" {
			t.Errorf("unexpected first tool_use %+v", assistant.Content[1])
		}
		results := req.Messages[2]
		if results.Role != "user" || len(results.Content) != 2 {
			t.Fatalf("expected both results in one user turn, got %+v", results)
		}
		if results.Content[0].ToolUseID != "tu_1" || results.Content[1].ToolUseID != "tu_2" {
			t.Errorf("tool results out of order: %+v", results.Content)
		}

		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicRespItem{{Type: "tool_use", ID: "tu_3", Name: "listTasks"}},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleUser, Content: "tidy up"},
		{Role: RoleAssistant, Content: "On it.", ToolCalls: []ToolCall{
			{ID: "tu_1", Name: "deleteTask", Arguments: map[string]any{"id": "a"}},
			{ID: "tu_2", Name: "deleteTask", Arguments: map[string]any{"id": "b"}},
		}},
		{Role: RoleTool, ToolCallID: "tu_1", Content: "ok"},
		{Role: RoleTool, ToolCallID: "tu_2", Content: "ok"},
	}, []ToolDef{{Name: "listTasks"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "listTasks" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments == nil {
		t.Error("expected empty arguments map, got nil")
	}
}

func TestAnthropicChatAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "Hi"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestAnthropicStreamWithToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		events := []string{
			`{"type":"message_start","message":{"usage":{"input_tokens":20,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Adding it"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_9","name":"createTask"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"title\":"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Buy milk\"}"}}`,
			`{"type":"content_block_stop","index":1}`,
			`{"type":"message_delta","usage":{"output_tokens":17}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			_, _ = fmt.Fprintf(w, "event: x\ndata: %s\n\n", e)
			flusher.Flush()
		}
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	ch, err := p.Stream(context.Background(), []Message{{Role: RoleUser, Content: "add Buy milk"}}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text string
	var tool *ToolCall
	var usage *Usage
	for event := range ch {
		switch event.Type {
		case EventText:
			text += event.Text
		case EventToolCall:
			tool = event.Tool
		case EventDone:
			usage = event.Usage
		case EventError:
			t.Fatalf("unexpected error: %s", event.Error)
		}
	}
	if text != "Adding it" {
		t.Errorf("unexpected text %q", text)
	}
	if tool == nil || tool.ID != "tu_9" || tool.Arguments["title"] != "Buy milk" {
		t.Fatalf("unexpected tool call %+v", tool)
	}
	if usage == nil || usage.InputTokens != 20 || usage.OutputTokens != 17 {
		t.Errorf("unexpected usage %+v", usage)
	}
}

func TestAnthropicStreamTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"par\"}}\n\n")
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	ch, err := p.Stream(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var last StreamEvent
	for event := range ch {
		last = event
	}
	if last.Type != EventError {
		t.Errorf("expected trailing error event, got %+v", last)
	}
}

func TestAnthropicDefaults(t *testing.T) {
	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k"})
	if p.Name() != "anthropic" {
		t.Errorf("expected name anthropic, got %s", p.Name())
	}
	if p.config.Model != defaultAnthropicModel {
		t.Errorf("expected default model, got %s", p.config.Model)
	}
	if p.config.BaseURL != defaultAnthropicBaseURL {
		t.Errorf("expected default base URL, got %s", p.config.BaseURL)
	}
}
