package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/GoCodeAlone/taskpilot/identity"
)

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

// identityWebhook provisions users from signed identity-provider events.
func (h *Handlers) identityWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("svix-id")
	ts := r.Header.Get("svix-timestamp")
	sig := r.Header.Get("svix-signature")
	if id == "" || ts == "" || sig == "" {
		writeText(w, http.StatusBadRequest, "Missing Svix headers")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeText(w, http.StatusBadRequest, "Unreadable body")
		return
	}

	if err := h.Webhook.Verify(id, ts, sig, body); err != nil {
		if errors.Is(err, identity.ErrMissingHeaders) {
			writeText(w, http.StatusBadRequest, "Missing Svix headers")
			return
		}
		h.logger().Warn("api: webhook signature rejected", "svix_id", id, "error", err)
		writeText(w, http.StatusBadRequest, "Bad signature")
		return
	}

	evt, err := identity.ParseUserEvent(body)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if evt.Type != "user.created" && evt.Type != "user.updated" {
		writeText(w, http.StatusOK, "Ignored")
		return
	}

	p := evt.Profile()
	if p.ExternalID == "" || p.Email == "" {
		writeText(w, http.StatusUnprocessableEntity, "Invalid user payload")
		return
	}
	u, err := h.Users.Upsert(r.Context(), p)
	if err != nil {
		h.logger().Error("api: user upsert failed", "external_id", p.ExternalID, "error", err)
		writeText(w, http.StatusInternalServerError, "Provisioning failed")
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Prime(r.Context(), u.ExternalID, u.ID); err != nil {
			h.logger().Warn("api: identity cache prime failed", "external_id", u.ExternalID, "error", err)
		}
	}
	h.logger().Info("api: user provisioned", "type", evt.Type, "external_id", u.ExternalID)
	writeText(w, http.StatusOK, "ok")
}
