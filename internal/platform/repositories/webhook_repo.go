package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"waygate/internal/platform/models"
)

type WebhookRepository struct {
	db *sql.DB
}

func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(sub *models.Subscription) error {
	sub.ID = "wh_" + uuid.New().String()
	sub.CreatedAt = time.Now().Unix()

	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return err
	}
	headersJSON, err := json.Marshal(sub.Headers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhooks (id, tenant_id, url, events, headers, secret, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query, sub.ID, sub.TenantID, sub.URL, string(eventsJSON), string(headersJSON), sub.Secret, sub.CreatedAt)
	return err
}

func (r *WebhookRepository) ListByTenant(tenantID string) ([]*models.Subscription, error) {
	query := `SELECT id, tenant_id, url, events, headers, secret, created_at FROM webhooks WHERE tenant_id = ? ORDER BY created_at DESC`
	rows, err := r.db.Query(query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// Delete removes one subscription. Returns false when the subscription does
// not exist for the tenant.
func (r *WebhookRepository) Delete(tenantID, id string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM webhooks WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetByTenantAndEvent returns the tenant's subscriptions whose filter
// includes the event. Filters are stored as a JSON array; with few
// subscriptions per tenant, filtering in the app is fine.
func (r *WebhookRepository) GetByTenantAndEvent(tenantID, event string) ([]*models.Subscription, error) {
	subs, err := r.ListByTenant(tenantID)
	if err != nil {
		return nil, err
	}

	var matched []*models.Subscription
	for _, sub := range subs {
		for _, e := range sub.Events {
			if e == event {
				matched = append(matched, sub)
				break
			}
		}
	}
	return matched, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	for rows.Next() {
		var s models.Subscription
		var eventsStr string
		var headersStr sql.NullString
		var secret sql.NullString

		if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &eventsStr, &headersStr, &secret, &s.CreatedAt); err != nil {
			return nil, err
		}

		json.Unmarshal([]byte(eventsStr), &s.Events)
		if headersStr.Valid && headersStr.String != "" && headersStr.String != "null" {
			json.Unmarshal([]byte(headersStr.String), &s.Headers)
		}
		if secret.Valid {
			s.Secret = secret.String
		}
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}
