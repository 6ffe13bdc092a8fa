package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/taskpilot/identity"
	"github.com/GoCodeAlone/taskpilot/provider"
	"github.com/GoCodeAlone/taskpilot/server/sse"
	"github.com/GoCodeAlone/taskpilot/service"
)

// chatRequest is the body accepted by POST /api/chat. Prior turns are
// supplied by the client; the last message must be from the user.
type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (req chatRequest) history() ([]provider.Message, error) {
	if len(req.Messages) == 0 {
		return nil, badRequest("Messages are required", "messages")
	}
	out := make([]provider.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch provider.Role(m.Role) {
		case provider.RoleUser, provider.RoleAssistant:
		default:
			return nil, badRequest("Role must be user or assistant", "messages")
		}
		out = append(out, provider.Message{Role: provider.Role(m.Role), Content: m.Content})
	}
	last := out[len(out)-1]
	if last.Role != provider.RoleUser || strings.TrimSpace(last.Content) == "" {
		return nil, badRequest("The last message must be a non-empty user message", "messages")
	}
	return out, nil
}

// chat runs one assistant turn and streams its transcript events. The turn
// is aborted when the client disconnects.
func (h *Handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	msgs, err := req.history()
	if err != nil {
		h.writeError(w, err)
		return
	}

	sub, _ := identity.SubjectFrom(r.Context())
	if h.Limiter != nil {
		res, err := h.Limiter.Allow(r.Context(), sub)
		switch {
		case err != nil:
			h.logger().Warn("api: rate limiter unavailable", "error", err)
		case !res.Allowed:
			retry := int(time.Until(res.ResetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Success: false,
				Error:   "Too many requests, please slow down",
				Kind:    service.KindValidation,
			})
			return
		}
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log := h.Chat.Start(r.Context(), msgs)
	h.logger().Info("api: chat turn started", "subject", sub, "messages", len(msgs))
	for ev := range log.Subscribe(r.Context()) {
		if err := stream.Send(ev); err != nil {
			h.logger().Debug("api: chat stream write failed", "error", err)
			return
		}
	}
}
