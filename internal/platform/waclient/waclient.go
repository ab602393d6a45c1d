// Package waclient adapts whatsmeow to the session engine's Client
// interface. The engine never imports whatsmeow directly; everything it needs
// arrives through the bounded event channel.
package waclient

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"waygate/internal/engine/sessions"
)

const eventBuffer = 64

// Factory builds whatsmeow-backed clients. One credential database lives in
// each tenant's credential segment.
type Factory struct {
	clientName string
}

func NewFactory(clientName string) *Factory {
	return &Factory{clientName: clientName}
}

// New implements sessions.ClientFactory.
func (f *Factory) New(tenantID, credentialDir string) (sessions.Client, error) {
	if err := os.MkdirAll(credentialDir, 0755); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "waclient").Str("tenant", tenantID).Logger()

	dbPath := filepath.Join(credentialDir, "session.db")
	container, err := sqlstore.New(context.Background(), "sqlite3", "file:"+dbPath+"?_foreign_keys=on", newWALogger(logger))
	if err != nil {
		return nil, err
	}

	device, err := container.GetFirstDevice(context.Background())
	if err != nil {
		return nil, err
	}

	wa := whatsmeow.NewClient(device, newWALogger(logger))
	// A disconnect ends this client's life: the registry destroys the session
	// and builds a fresh client on the next request. Letting the library
	// silently reconnect would leave the session stuck in disconnected while
	// the socket is live again.
	wa.EnableAutoReconnect = false
	return &Client{
		wa:     wa,
		log:    logger,
		events: make(chan sessions.Event, eventBuffer),
	}, nil
}

// Client wraps one whatsmeow client for one tenant.
type Client struct {
	wa     *whatsmeow.Client
	log    zerolog.Logger
	events chan sessions.Event

	mu            sync.Mutex
	closed        bool
	authenticated bool
}

func (c *Client) Initialize(ctx context.Context) error {
	c.wa.AddEventHandler(c.handleEvent)

	if c.wa.Store.ID == nil {
		// Fresh credential: QR codes come through a dedicated channel which
		// must be requested before connecting.
		qrChan, err := c.wa.GetQRChannel(context.Background())
		if err != nil {
			return err
		}
		go c.pumpQR(qrChan)
	}

	return c.wa.Connect()
}

func (c *Client) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.emit(sessions.Event{Type: sessions.EventPairingCode, Code: item.Code})
		case "timeout":
			c.emit(sessions.Event{Type: sessions.EventDisconnected, Reason: "qr_timeout"})
		case "success":
			// PairSuccess arrives via the main event handler.
		}
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		c.markAuthenticated()
	case *events.Connected:
		// A restored credential skips pairing entirely; synthesize the
		// authenticated step so the state machine sees the same order.
		if !c.wasAuthenticated() {
			c.markAuthenticated()
		}
		c.emit(sessions.Event{Type: sessions.EventReady})
	case *events.Disconnected:
		c.emit(sessions.Event{Type: sessions.EventDisconnected, Reason: "network"})
	case *events.LoggedOut:
		c.emit(sessions.Event{Type: sessions.EventDisconnected, Reason: sessions.DisconnectReasonLogout})
	case *events.ClientOutdated:
		c.emit(sessions.Event{Type: sessions.EventAuthFailure, Error: "client outdated"})
	case *events.StreamReplaced:
		c.emit(sessions.Event{Type: sessions.EventDisconnected, Reason: "stream_replaced"})
	case *events.Message:
		c.emit(sessions.Event{Type: sessions.EventMessage, Message: &sessions.InboundMessage{
			ID:        string(v.Info.ID),
			From:      v.Info.Sender.User,
			Body:      v.Message.GetConversation(),
			Timestamp: v.Info.Timestamp,
		}})
	case *events.Receipt:
		for _, id := range v.MessageIDs {
			state := string(v.Type)
			if state == "" {
				state = "delivered"
			}
			c.emit(sessions.Event{Type: sessions.EventMessageAck, Ack: &sessions.MessageAck{
				MessageID: string(id),
				State:     state,
				Timestamp: v.Timestamp,
			}})
		}
	}
}

func (c *Client) markAuthenticated() {
	c.mu.Lock()
	already := c.authenticated
	c.authenticated = true
	c.mu.Unlock()
	if !already {
		c.emit(sessions.Event{Type: sessions.EventAuthenticated})
	}
}

func (c *Client) wasAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) Events() <-chan sessions.Event {
	return c.events
}

func (c *Client) SendText(ctx context.Context, address, text string) (sessions.Receipt, error) {
	jid, err := types.ParseJID(address)
	if err != nil {
		return sessions.Receipt{}, err
	}

	resp, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return sessions.Receipt{}, err
	}

	return sessions.Receipt{ID: string(resp.ID), Timestamp: resp.Timestamp}, nil
}

func (c *Client) Destroy(ctx context.Context) error {
	c.wa.Disconnect()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	c.mu.Unlock()
	return nil
}

// emit never blocks the whatsmeow callback: when the session's pump falls
// behind, the event is dropped and logged.
func (c *Client) emit(ev sessions.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn().Str("event", string(ev.Type)).Msg("event buffer full, dropping")
	}
}
