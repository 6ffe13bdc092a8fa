// Package api implements the taskpilot REST, chat and webhook handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/GoCodeAlone/taskpilot/identity"
	"github.com/GoCodeAlone/taskpilot/provider"
	"github.com/GoCodeAlone/taskpilot/server/ratelimit"
	"github.com/GoCodeAlone/taskpilot/service"
	"github.com/GoCodeAlone/taskpilot/transcript"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// TaskService is the task surface exposed over HTTP.
type TaskService interface {
	CreateTask(ctx context.Context, in service.CreateInput) (*service.TaskView, error)
	GetTask(ctx context.Context, id string) (*service.TaskView, error)
	UpdateTask(ctx context.Context, id string, in service.UpdateInput) (*service.TaskView, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, in service.ListInput) ([]service.TaskView, error)
}

// ChatRunner starts an assistant turn and returns its live log.
type ChatRunner interface {
	Start(ctx context.Context, messages []provider.Message) *transcript.Log
}

// Provisioner creates or updates users from identity-provider events.
type Provisioner interface {
	Upsert(ctx context.Context, p identity.Profile) (*identity.User, error)
}

// CachePrimer records a freshly provisioned subject.
type CachePrimer interface {
	Prime(ctx context.Context, externalID, ownerID string) error
}

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Tasks   TaskService
	Chat    ChatRunner
	Limiter ratelimit.Limiter // nil disables chat rate limiting
	Users   Provisioner
	Cache   CachePrimer // optional
	Webhook *identity.WebhookVerifier
	Logger  *slog.Logger
	Version string
}

// RegisterRoutes registers the authenticated API routes on mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", h.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)

	mux.HandleFunc("POST /api/chat", h.chat)
}

// RegisterPublicRoutes registers routes that carry no bearer token.
func (h *Handlers) RegisterPublicRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/version", h.version)
	if h.Webhook != nil && h.Users != nil {
		mux.HandleFunc("POST /api/webhook/identity", h.identityWebhook)
	}
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type successBody struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorBody struct {
	Success bool                 `json:"success"`
	Error   string               `json:"error"`
	Kind    service.Kind         `json:"kind"`
	Details []service.FieldError `json:"details,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindAuthentication:
		return http.StatusUnauthorized
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Errors that are not *service.Error are reported
// as UnknownError without their text.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		h.logger().Error("api: unclassified error", "error", err)
		se = &service.Error{Kind: service.KindUnknown, Message: "Internal server error"}
	}
	writeJSON(w, StatusFor(se.Kind), errorBody{Success: false, Error: se.Message, Kind: se.Kind, Details: se.Fields})
}

func badRequest(message, field string) *service.Error {
	e := &service.Error{Kind: service.KindValidation, Message: message}
	if field != "" {
		e.Fields = []service.FieldError{{Field: field, Message: message}}
	}
	return e
}

func decodeBody(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return badRequest("Invalid request body", "")
	}
	return nil
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := service.ListInput{Q: q.Get("q"), Priority: q.Get("priority")}

	if s := q.Get("done"); s != "" {
		done, err := strconv.ParseBool(s)
		if err != nil {
			h.writeError(w, badRequest("Done must be true or false", "done"))
			return
		}
		in.Done = &done
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, badRequest("Limit must be between 1 and 100", "limit"))
			return
		}
		in.Limit = &n
	}

	tasks, err := h.Tasks.ListTasks(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true, Data: tasks})
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var in service.CreateInput
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, err)
		return
	}
	v, err := h.Tasks.CreateTask(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, successBody{Success: true, Data: v})
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	v, err := h.Tasks.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true, Data: v})
}

func (h *Handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateInput
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, err)
		return
	}
	v, err := h.Tasks.UpdateTask(r.Context(), r.PathValue("id"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true, Data: v})
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Tasks.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true, Message: "Task deleted successfully"})
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.Version,
	})
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
