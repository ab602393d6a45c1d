package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"waygate/internal/api/middleware"
	"waygate/internal/engine/sessions"
	"waygate/internal/pkg/errors"
	"waygate/internal/pkg/phone"
)

type MessageHandler struct {
	registry     *sessions.Registry
	readyTimeout time.Duration
}

func NewMessageHandler(registry *sessions.Registry, readyTimeout time.Duration) *MessageHandler {
	return &MessageHandler{registry: registry, readyTimeout: readyTimeout}
}

// Send delivers a text message through the tenant's session. With waitReady
// the call blocks until the session is ready (bounded by the configured
// timeout) instead of failing fast with 503.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r)

	var req struct {
		To        string `json:"to"`
		Text      string `json:"text"`
		WaitReady bool   `json:"waitReady"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.Write(w, errors.InvalidInput("invalid request body"))
		return
	}
	if req.To == "" {
		errors.Write(w, errors.InvalidInput("to is required"))
		return
	}
	if req.Text == "" {
		errors.Write(w, errors.InvalidInput("text is required"))
		return
	}
	if !phone.IsValid(req.To) {
		errors.Write(w, errors.InvalidInput("to is not a valid phone number"))
		return
	}

	if req.WaitReady {
		if _, err := h.registry.WaitForReady(r.Context(), tenantID, h.readyTimeout); err != nil {
			errors.Write(w, err)
			return
		}
	}

	receipt, err := h.registry.SendMessage(r.Context(), tenantID, req.To, req.Text)
	if err != nil {
		errors.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        receipt.ID,
		"to":        req.To,
		"timestamp": receipt.Timestamp,
	})
}
