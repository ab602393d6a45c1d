package models

// Subscription is one tenant's webhook registration. Subscriptions are
// independent of session lifetime: destroying or replacing a session leaves
// them in place.
type Subscription struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	URL       string            `json:"url"`
	Events    []string          `json:"events"`
	Headers   map[string]string `json:"headers,omitempty"`
	Secret    string            `json:"-"`
	CreatedAt int64             `json:"createdAt"`
}

// Envelope is the JSON body delivered to webhook endpoints.
type Envelope struct {
	Event     string      `json:"event"`
	TenantID  string      `json:"tenantId"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}
