package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/skip2/go-qrcode"

	"waygate/internal/api/middleware"
	"waygate/internal/engine/sessions"
	"waygate/internal/pkg/errors"
)

type SessionHandler struct {
	registry *sessions.Registry
	probe    *sessions.CredentialProbe
}

func NewSessionHandler(registry *sessions.Registry, probe *sessions.CredentialProbe) *SessionHandler {
	return &SessionHandler{registry: registry, probe: probe}
}

// Create starts (or returns) the tenant's session. Concurrent calls for the
// same tenant all land on the same session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r)

	s, err := h.registry.GetOrCreate(r.Context(), tenantID)
	if err != nil {
		errors.Write(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"tenantId": s.TenantID,
		"status":   s.Status(),
	})
}

// Get reports the tenant's session status. A tenant with stored credentials
// but no live session reports disconnected rather than 404, so callers can
// tell "never paired" apart from "paired but not running".
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r)

	s, ok := h.registry.Get(tenantID)
	if !ok {
		if !h.probe.Exists(tenantID) {
			errors.Write(w, errors.NotFound("session not found"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tenantId":          tenantID,
			"status":            sessions.StatusDisconnected,
			"storedCredentials": true,
		})
		return
	}

	info := s.Snapshot()
	active, remaining := h.registry.PairingState(tenantID)

	resp := map[string]interface{}{
		"tenantId":  info.TenantID,
		"status":    info.Status,
		"createdAt": info.CreatedAt,
	}
	if info.ConnectedAt != nil {
		resp["connectedAt"] = info.ConnectedAt
	}
	if info.ReplacedAt != nil {
		resp["replacedAt"] = info.ReplacedAt
	}
	if info.Error != "" {
		resp["error"] = info.Error
	}
	if active {
		resp["pairingActive"] = true
		resp["pairingSecondsRemaining"] = remaining
	}
	writeJSON(w, http.StatusOK, resp)
}

// List enumerates every known tenant, live or stored on disk.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	tenants := h.registry.AllTenants()

	items := make([]map[string]interface{}, 0, len(tenants))
	for _, tenantID := range tenants {
		entry := map[string]interface{}{"tenantId": tenantID}
		if s, ok := h.registry.Get(tenantID); ok {
			entry["status"] = s.Status()
		} else {
			entry["status"] = sessions.StatusDisconnected
			entry["storedCredentials"] = true
		}
		items = append(items, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": items,
		"total":    len(items),
	})
}

// GetQR opens (or reports on) the tenant's pairing window and returns the
// current code as JSON.
func (h *SessionHandler) GetQR(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r)

	bundle, err := h.registry.RequestPairingCode(r.Context(), tenantID)
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// GetQRImage renders the pairing code as a PNG for direct scanning. The size
// query parameter is in pixels.
func (h *SessionHandler) GetQRImage(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r)

	size := 0
	if raw := r.URL.Query().Get("size"); raw != "" {
		var err error
		size, err = strconv.Atoi(raw)
		if err != nil {
			errors.Write(w, errors.InvalidInput("size must be an integer"))
			return
		}
	}
	if size == 0 {
		size = 512
	}
	if size < 128 || size > 2048 {
		errors.Write(w, errors.InvalidInput("size must be between 128 and 2048"))
		return
	}

	bundle, err := h.registry.RequestPairingCode(r.Context(), tenantID)
	if err != nil {
		errors.Write(w, err)
		return
	}
	if bundle.Code == "" {
		errors.Write(w, errors.Conflict("session already authenticated, no code to render", nil))
		return
	}

	qr, err := qrcode.New(bundle.Code, qrcode.Medium)
	if err != nil {
		errors.Write(w, errors.Internal(err))
		return
	}
	png, err := qr.PNG(size)
	if err != nil {
		errors.Write(w, errors.Internal(err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// Replace tears the session down and builds a fresh one after the settle
// delay. With preserveState the stored credentials are kept so the new
// session reconnects without re-pairing.
func (h *SessionHandler) Replace(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r)

	var req struct {
		PreserveState bool `json:"preserveState"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errors.Write(w, errors.InvalidInput("invalid request body"))
			return
		}
	}

	s, err := h.registry.Replace(r.Context(), tenantID, req.PreserveState)
	if err != nil {
		errors.Write(w, err)
		return
	}

	info := s.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenantId":      info.TenantID,
		"status":        info.Status,
		"preserveState": req.PreserveState,
		"replacedAt":    info.ReplacedAt,
	})
}

// Delete destroys the tenant's session. Destroying an absent session is not
// an error.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r)

	if err := h.registry.Destroy(r.Context(), tenantID); err != nil {
		errors.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
