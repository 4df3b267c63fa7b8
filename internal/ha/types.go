package ha

import (
	"encoding/json"
	"time"
)

// Message represents a base WebSocket message to/from Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error represents an error response from Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event is the payload of an "event" message. Bus events carry EventType and
// Data; render_template subscriptions carry Result or Error.
type Event struct {
	EventType string          `json:"event_type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	TimeFired time.Time       `json:"time_fired,omitempty"`

	Result    json.RawMessage `json:"result,omitempty"`
	Listeners json.RawMessage `json:"listeners,omitempty"`
	Error     string          `json:"error,omitempty"`
	Level     string          `json:"level,omitempty"`
}

// RenderTemplateRequest subscribes to the rendered value of a template.
// Home Assistant re-renders whenever an entity the template reads changes.
type RenderTemplateRequest struct {
	ID           int    `json:"id"`
	Type         string `json:"type"`
	Template     string `json:"template"`
	ReportErrors bool   `json:"report_errors"`
	Strict       bool   `json:"strict,omitempty"`
}

// UnsubscribeRequest cancels a subscription created by an earlier request
type UnsubscribeRequest struct {
	ID           int    `json:"id"`
	Type         string `json:"type"`
	Subscription int    `json:"subscription"`
}

// FireEventRequest fires an event on the Home Assistant bus
type FireEventRequest struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

// TemplateResult is one rendering of a subscribed template. Exactly one of
// Value and Error is meaningful: Error is non-empty when rendering failed.
type TemplateResult struct {
	Value json.RawMessage
	Error string
}

// TemplateHandler is called for every rendering of a subscribed template
type TemplateHandler func(result TemplateResult)

// Subscription represents an active subscription
type Subscription interface {
	Unsubscribe() error
}

// templateSubscription tracks a render_template subscription across reconnects
type templateSubscription struct {
	key      int
	template string
	handler  TemplateHandler
	client   *Client
}

func (s *templateSubscription) Unsubscribe() error {
	return s.client.unsubscribeTemplate(s.key)
}
