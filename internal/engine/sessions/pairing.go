package sessions

import "time"

const (
	// PairingWindowTTL matches the chat network's own code-expiry behavior
	// and is authoritative for callers deciding whether to keep polling.
	PairingWindowTTL = 60 * time.Second

	// codeArrivalTimeout bounds how long a pairing request waits for the
	// external client to surface a code. It is a local liveness bound only;
	// the window's own expiry clock runs independently.
	codeArrivalTimeout = 10 * time.Second
)

// PairingWindow gates pairing-code issuance for one tenant. Its lifetime is
// independent from the session's: a ready session has no window at all.
type PairingWindow struct {
	active   bool
	issuedAt time.Time

	// code is retained after the window deactivates so a late caller that
	// already holds it can still learn of expiry precisely.
	code string
}

// CodeBundle is the result of a pairing-code request.
type CodeBundle struct {
	Status           string    `json:"status"` // "qr" or "ready"
	Code             string    `json:"code,omitempty"`
	ExpiresInSeconds int       `json:"expiresInSeconds,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt,omitempty"`
	Instructions     []string  `json:"instructions,omitempty"`
	Message          string    `json:"message,omitempty"`
}

var pairingInstructions = []string{
	"1. Open WhatsApp on your phone",
	"2. Go to Settings -> Linked Devices",
	"3. Tap \"Link a Device\"",
	"4. Scan this QR code within 60 seconds",
}
