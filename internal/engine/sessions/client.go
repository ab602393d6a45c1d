package sessions

import (
	"context"
	"time"
)

// EventType identifies a notification raised by the external chat client.
type EventType string

const (
	EventPairingCode   EventType = "pairing_code"
	EventAuthenticated EventType = "authenticated"
	EventReady         EventType = "ready"
	EventAuthFailure   EventType = "auth_failure"
	EventDisconnected  EventType = "disconnected"
	EventMessage       EventType = "message"
	EventMessageAck    EventType = "message_ack"
)

// DisconnectReasonLogout marks a disconnect that invalidated the stored
// credential. The registry must not reuse the credential segment afterwards.
const DisconnectReasonLogout = "logout"

// Event is one notification from the external client. Which fields are set
// depends on Type.
type Event struct {
	Type    EventType
	Code    string // EventPairingCode
	Reason  string // EventDisconnected
	Error   string // EventAuthFailure
	Message *InboundMessage
	Ack     *MessageAck
}

type InboundMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageAck struct {
	MessageID string    `json:"messageId"`
	State     string    `json:"ack"`
	Timestamp time.Time `json:"timestamp"`
}

type Receipt struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is the external chat-account collaborator. One client is exclusively
// owned by one session; the registry never shares a client across tenants.
//
// Events returns a bounded channel of client notifications. The channel is
// closed when the client is destroyed; the session's event pump is its only
// reader, which preserves per-tenant event ordering.
type Client interface {
	Initialize(ctx context.Context) error
	Events() <-chan Event
	SendText(ctx context.Context, address, text string) (Receipt, error)
	Destroy(ctx context.Context) error
}

// ClientFactory builds the external client for a tenant. credentialDir is the
// tenant's segment of the shared credential storage; the client persists its
// pairing state there.
type ClientFactory func(tenantID, credentialDir string) (Client, error)
