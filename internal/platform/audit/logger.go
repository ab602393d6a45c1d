package audit

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Delivery is one webhook delivery attempt, successful or not.
type Delivery struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	WebhookID  string `json:"webhook_id"`
	Event      string `json:"event"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// Recorder keeps a delivery trail in the webhook store so operators can
// answer "did tenant X's hook fire for that message" after the fact.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record writes the attempt asynchronously. The trail is best-effort like
// delivery itself; a failed insert must never slow a dispatch down.
func (r *Recorder) Record(tenantID, webhookID, event string, statusCode int, deliveryErr error) {
	if r == nil || r.db == nil {
		return
	}

	entry := &Delivery{
		ID:         "del_" + uuid.New().String(),
		TenantID:   tenantID,
		WebhookID:  webhookID,
		Event:      event,
		StatusCode: statusCode,
		CreatedAt:  time.Now().Unix(),
	}
	if deliveryErr != nil {
		entry.Error = deliveryErr.Error()
	}

	go func() {
		query := `
			INSERT INTO webhook_deliveries (id, tenant_id, webhook_id, event, status_code, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := r.db.Exec(query, entry.ID, entry.TenantID, entry.WebhookID, entry.Event, entry.StatusCode, entry.Error, entry.CreatedAt); err != nil {
			log.Debug().Err(err).Str("webhook", entry.WebhookID).Msg("failed to record delivery")
		}
	}()
}
