package handlers

import (
	"net/http"
	"time"

	"waygate/internal/engine/sessions"
)

type HealthHandler struct {
	registry  *sessions.Registry
	startedAt time.Time
	version   string
}

func NewHealthHandler(registry *sessions.Registry, version string) *HealthHandler {
	return &HealthHandler{registry: registry, startedAt: time.Now(), version: version}
}

// Handle reports process liveness plus a per-status session census. The
// endpoint is unauthenticated so load balancers can probe it.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	counts := h.registry.Counts()

	// Sessions in a terminal status need operator intervention (re-pairing or
	// replacement); their presence degrades the report.
	status := "healthy"
	byStatus := make(map[string]int, len(counts))
	live := 0
	for st, n := range counts {
		byStatus[string(st)] = n
		live += n
		if st.Terminal() && n > 0 {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    int(time.Since(h.startedAt).Seconds()),
		"sessions": map[string]interface{}{
			"live":     live,
			"total":    len(h.registry.AllTenants()),
			"byStatus": byStatus,
		},
	})
}
