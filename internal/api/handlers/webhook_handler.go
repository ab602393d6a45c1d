package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "waygate/internal/api/context"
	"waygate/internal/api/middleware"
	"waygate/internal/engine/webhooks"
	"waygate/internal/pkg/errors"
)

type WebhookHandler struct {
	dispatcher *webhooks.Dispatcher
}

func NewWebhookHandler(dispatcher *webhooks.Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r)

	var req struct {
		URL     string            `json:"url"`
		Events  []string          `json:"events"`
		Headers map[string]string `json:"headers"`
		Secret  string            `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.Write(w, errors.InvalidInput("invalid request body"))
		return
	}

	sub, err := h.dispatcher.Subscribe(tenantID, req.URL, req.Events, req.Headers, req.Secret)
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r)

	subs, err := h.dispatcher.List(tenantID)
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"webhooks": subs,
		"total":    len(subs),
	})
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r)

	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	webhookID := params.ByName("webhook_id")

	removed, err := h.dispatcher.Unsubscribe(tenantID, webhookID)
	if err != nil {
		errors.Write(w, err)
		return
	}
	if !removed {
		errors.Write(w, errors.NotFound("webhook not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
