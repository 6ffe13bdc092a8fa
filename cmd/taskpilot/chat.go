package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/taskpilot/client"
	"github.com/GoCodeAlone/taskpilot/provider"
	"github.com/GoCodeAlone/taskpilot/tools"
	"github.com/GoCodeAlone/taskpilot/transcript"
)

func (a *app) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant; without a message, start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := &session{client: a.client, out: cmd.OutOrStdout()}
			if len(args) > 0 {
				return s.turn(cmd.Context(), strings.Join(args, " "))
			}
			return s.repl(cmd.Context(), cmd.InOrStdin())
		},
	}
}

// session keeps the conversation history between turns. The server holds
// no state, so every turn resends the whole history.
type session struct {
	client  *client.Client
	out     io.Writer
	history []provider.Message
}

func (s *session) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "taskpilot chat. /reset clears history, /quit exits.")
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(s.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			s.history = nil
			fmt.Fprintln(s.out, "history cleared")
			continue
		}
		if err := s.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// turn sends one user message and prints the streamed reply. The
// assistant's final text joins the history only when the turn produced one.
func (s *session) turn(ctx context.Context, text string) error {
	msgs := append(append([]provider.Message(nil), s.history...), provider.Message{Role: provider.RoleUser, Content: text})
	events, err := s.client.Chat(ctx, msgs)
	if err != nil {
		return err
	}

	var all []transcript.Event
	midLine := false
	for ev := range events {
		all = append(all, ev)
		switch ev.Kind {
		case transcript.KindText:
			fmt.Fprint(s.out, ev.Text)
			midLine = !strings.HasSuffix(ev.Text, "\n")
			continue
		case transcript.KindDone:
			continue
		}
		if midLine {
			fmt.Fprintln(s.out)
			midLine = false
		}
		switch ev.Kind {
		case transcript.KindToolCall:
			fmt.Fprintf(s.out, "  · %s %s\n", ev.ToolName, compactJSON(ev.Input))
		case transcript.KindToolResult:
			fmt.Fprintf(s.out, "    %s\n", resultSummary(ev.Output))
		case transcript.KindError, transcript.KindStepLimit:
			fmt.Fprintf(s.out, "! %s\n", ev.Text)
		}
	}
	if midLine {
		fmt.Fprintln(s.out)
	}

	s.history = msgs
	if reply := transcript.Fold(all).Text(); reply != "" {
		s.history = append(s.history, provider.Message{Role: provider.RoleAssistant, Content: reply})
	}
	return ctx.Err()
}

func compactJSON(v map[string]any) string {
	if len(v) == 0 {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func resultSummary(raw json.RawMessage) string {
	var r tools.Result
	if err := json.Unmarshal(raw, &r); err != nil || r.Message == "" {
		return string(raw)
	}
	if !r.Success {
		return "failed: " + r.Message
	}
	return r.Message
}
