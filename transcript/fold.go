package transcript

import "encoding/json"

// Part types.
const (
	PartText   = "text"
	PartTool   = "tool"
	PartError  = "error"
	PartNotice = "notice"
)

// ToolState is the lifecycle of a tool part.
type ToolState string

const (
	StateInputAvailable  ToolState = "input-available"
	StateOutputAvailable ToolState = "output-available"
	StateOutputError     ToolState = "output-error"
)

// Status summarises a folded turn.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusStepLimit Status = "step_limit"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// Part is one renderable piece of an assistant message.
type Part struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Input      map[string]any  `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	// Widget names the card a client should render for the output, if any.
	Widget string `json:"widget,omitempty"`
}

// Message is the assistant message a log folds into.
type Message struct {
	Role   string `json:"role"`
	Parts  []Part `json:"parts"`
	Status Status `json:"status"`
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var s string
	for _, p := range m.Parts {
		if p.Type == PartText {
			s += p.Text
		}
	}
	return s
}

// Fold reduces events to a single assistant message. Adjacent text events
// merge into one part; a tool result updates the part opened by its call.
func Fold(events []Event) Message {
	m := Message{Role: "assistant", Status: StatusStreaming}
	tools := make(map[string]int)

	for _, e := range events {
		switch e.Kind {
		case KindText:
			if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == PartText {
				m.Parts[n-1].Text += e.Text
				continue
			}
			m.Parts = append(m.Parts, Part{Type: PartText, Text: e.Text})
		case KindToolCall:
			tools[e.ToolCallID] = len(m.Parts)
			m.Parts = append(m.Parts, Part{
				Type:       PartTool,
				ToolCallID: e.ToolCallID,
				ToolName:   e.ToolName,
				State:      StateInputAvailable,
				Input:      e.Input,
			})
		case KindToolResult:
			i, ok := tools[e.ToolCallID]
			if !ok {
				i = len(m.Parts)
				tools[e.ToolCallID] = i
				m.Parts = append(m.Parts, Part{Type: PartTool, ToolCallID: e.ToolCallID, ToolName: e.ToolName})
			}
			m.Parts[i].Output = e.Output
			m.Parts[i].Widget = widgetOf(e.Output)
			m.Parts[i].State = StateOutputAvailable
			if e.IsError {
				m.Parts[i].State = StateOutputError
			}
		case KindError:
			m.Parts = append(m.Parts, Part{Type: PartError, Text: e.Text})
		case KindStepLimit:
			m.Parts = append(m.Parts, Part{Type: PartNotice, Text: e.Text})
		case KindDone:
			m.Status = statusFor(e.Reason)
		}
	}
	return m
}

func widgetOf(out json.RawMessage) string {
	var hint struct {
		Widget string `json:"widget"`
	}
	if json.Unmarshal(out, &hint) != nil {
		return ""
	}
	return hint.Widget
}

func statusFor(reason string) Status {
	switch reason {
	case "completed":
		return StatusComplete
	case "step_limit":
		return StatusStepLimit
	case "aborted":
		return StatusAborted
	default:
		return StatusFailed
	}
}
