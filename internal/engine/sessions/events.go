package sessions

import "time"

// Registry-level event names, as seen by webhook subscribers.
const (
	NotifyConnected            = "connected"
	NotifyDisconnected         = "disconnected"
	NotifyMessage              = "message"
	NotifyMessageAck           = "message_ack"
	NotifyPairingWindowExpired = "pairing_window_expired"
)

// TenantEvent is a lifecycle or message notification for one tenant, emitted
// by the registry as its sessions move through the state machine.
type TenantEvent struct {
	Event     string      `json:"event"`
	TenantID  string      `json:"tenantId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Sink observes registry events. Implementations must not block: delivery
// work belongs on the implementation's side of the boundary.
type Sink interface {
	SessionEvent(evt TenantEvent)
}

type nopSink struct{}

func (nopSink) SessionEvent(TenantEvent) {}
