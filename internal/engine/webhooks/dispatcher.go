package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"waygate/internal/engine/sessions"
	"waygate/internal/pkg/errors"
	"waygate/internal/platform/audit"
	"waygate/internal/platform/models"
	"waygate/internal/platform/repositories"
)

// AllowedEvents is the full set of subscribable event names.
var AllowedEvents = []string{
	sessions.NotifyConnected,
	sessions.NotifyDisconnected,
	sessions.NotifyMessage,
	sessions.NotifyMessageAck,
}

// Dispatcher owns the webhook subscription collection and fans registry
// events out to subscribed URLs. It observes the registry through the Sink
// interface and never touches session objects.
type Dispatcher struct {
	repo   *repositories.WebhookRepository
	client *http.Client
	log    zerolog.Logger

	// Trail, when set, records every delivery attempt in the webhook store.
	Trail *audit.Recorder
}

func NewDispatcher(repo *repositories.WebhookRepository, deliveryTimeout time.Duration) *Dispatcher {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}
	return &Dispatcher{
		repo:   repo,
		client: &http.Client{Timeout: deliveryTimeout},
		log:    log.With().Str("component", "webhooks").Logger(),
	}
}

// Subscribe registers a webhook for a tenant. The event filter must be a
// non-empty subset of AllowedEvents.
func (d *Dispatcher) Subscribe(tenantID, url string, events []string, headers map[string]string, secret string) (*models.Subscription, error) {
	if url == "" {
		return nil, errors.InvalidInput("url is required")
	}
	if len(events) == 0 {
		return nil, errors.InvalidInput("at least one event is required")
	}
	for _, e := range events {
		if !eventAllowed(e) {
			return nil, errors.InvalidInput(fmt.Sprintf("unknown event %q", e))
		}
	}

	sub := &models.Subscription{
		TenantID: tenantID,
		URL:      url,
		Events:   events,
		Headers:  headers,
		Secret:   secret,
	}
	if err := d.repo.Create(sub); err != nil {
		return nil, errors.Internal(err)
	}

	d.log.Info().Str("tenant", tenantID).Str("webhook", sub.ID).Msg("webhook subscribed")
	return sub, nil
}

// Unsubscribe removes a subscription; false when it was not found.
func (d *Dispatcher) Unsubscribe(tenantID, subscriptionID string) (bool, error) {
	ok, err := d.repo.Delete(tenantID, subscriptionID)
	if err != nil {
		return false, errors.Internal(err)
	}
	if ok {
		d.log.Info().Str("tenant", tenantID).Str("webhook", subscriptionID).Msg("webhook unsubscribed")
	}
	return ok, nil
}

func (d *Dispatcher) List(tenantID string) ([]*models.Subscription, error) {
	subs, err := d.repo.ListByTenant(tenantID)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return subs, nil
}

// SessionEvent implements sessions.Sink. Matching subscriptions are
// enumerated synchronously; each delivery runs in its own goroutine so a slow
// endpoint never blocks the registry.
func (d *Dispatcher) SessionEvent(evt sessions.TenantEvent) {
	subs, err := d.repo.GetByTenantAndEvent(evt.TenantID, evt.Event)
	if err != nil {
		d.log.Error().Err(err).Str("tenant", evt.TenantID).Msg("could not load subscriptions")
		return
	}
	if len(subs) == 0 {
		return
	}

	envelope := &models.Envelope{
		Event:     evt.Event,
		TenantID:  evt.TenantID,
		Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
		Data:      evt.Data,
	}

	for _, sub := range subs {
		go d.deliver(sub, envelope)
	}
}

// deliver is best-effort: one attempt, failures logged and swallowed. A
// failing webhook never affects session state or message sending.
func (d *Dispatcher) deliver(sub *models.Subscription, envelope *models.Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		d.log.Error().Err(err).Str("webhook", sub.ID).Msg("could not marshal envelope")
		return
	}

	req, err := http.NewRequest(http.MethodPost, sub.URL, bytes.NewBuffer(payload))
	if err != nil {
		d.log.Error().Err(err).Str("webhook", sub.ID).Msg("could not build delivery request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Waygate-Event", envelope.Event)
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}
	if sub.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(sub.Secret, payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn().Err(err).Str("webhook", sub.ID).Msg("webhook delivery failed")
		d.Trail.Record(sub.TenantID, sub.ID, envelope.Event, 0, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.log.Warn().Str("webhook", sub.ID).Int("status", resp.StatusCode).Msg("webhook delivery rejected")
	}
	d.Trail.Record(sub.TenantID, sub.ID, envelope.Event, resp.StatusCode, nil)
}

func eventAllowed(event string) bool {
	for _, e := range AllowedEvents {
		if e == event {
			return true
		}
	}
	return false
}
