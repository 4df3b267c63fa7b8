// Package testutil provides a mock Home Assistant WebSocket server and a test
// environment for end-to-end tests of the integrations.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg interface{}) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(msg)
}

// subscription is one render_template subscription of a connection
type subscription struct {
	id       int
	template string
	conn     *connWrapper
}

// MockHAServer simulates the parts of the Home Assistant WebSocket API used
// by hassbridge: auth, render_template, unsubscribe_events and fire_event.
// Template renderings are driven by the test through SetTemplate.
type MockHAServer struct {
	server *httptest.Server
	token  string

	mu            sync.Mutex
	connections   []*connWrapper
	subscriptions map[*connWrapper]map[int]*subscription
	values        map[string]json.RawMessage
	errors        map[string]string
	firedEvents   []FiredEvent
}

// FiredEvent records a fire_event request.
type FiredEvent struct {
	Timestamp time.Time
	EventType string
	EventData map[string]interface{}
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorMessage   `json:"error,omitempty"`
	Event   interface{}     `json:"event,omitempty"`
}

// ErrorMessage is the error of a failed result
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type request struct {
	ID           int                    `json:"id"`
	Type         string                 `json:"type"`
	AccessToken  string                 `json:"access_token,omitempty"`
	Template     string                 `json:"template,omitempty"`
	Subscription int                    `json:"subscription,omitempty"`
	EventType    string                 `json:"event_type,omitempty"`
	EventData    map[string]interface{} `json:"event_data,omitempty"`
}

type renderEvent struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Level  string          `json:"level,omitempty"`
}

// NewMockHAServer starts a mock server accepting token.
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:         token,
		subscriptions: make(map[*connWrapper]map[int]*subscription),
		values:        make(map[string]json.RawMessage),
		errors:        make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	return s
}

// URL is the websocket URL of the server.
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// Stop closes every connection and the server.
func (s *MockHAServer) Stop() {
	s.CloseConnections()
	s.server.Close()
}

// CloseConnections drops every client connection, forcing a reconnect.
func (s *MockHAServer) CloseConnections() {
	s.mu.Lock()
	conns := s.connections
	s.connections = nil
	s.subscriptions = make(map[*connWrapper]map[int]*subscription)
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.Close()
	}
}

// SetTemplate sets the rendering of template and pushes it to every
// subscriber.
func (s *MockHAServer) SetTemplate(template string, value interface{}) {
	raw, _ := json.Marshal(value)

	s.mu.Lock()
	s.values[template] = raw
	delete(s.errors, template)
	subs := s.subscribersLocked(template)
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.conn.write(Message{ID: sub.id, Type: "event", Event: renderEvent{Result: raw}})
	}
}

// SetTemplateError makes template fail to render with message.
func (s *MockHAServer) SetTemplateError(template, message string) {
	s.mu.Lock()
	delete(s.values, template)
	s.errors[template] = message
	subs := s.subscribersLocked(template)
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.conn.write(Message{ID: sub.id, Type: "event", Event: renderEvent{Error: message, Level: "ERROR"}})
	}
}

func (s *MockHAServer) subscribersLocked(template string) []*subscription {
	var subs []*subscription
	for _, byID := range s.subscriptions {
		for _, sub := range byID {
			if sub.template == template {
				subs = append(subs, sub)
			}
		}
	}
	return subs
}

// Subscriptions returns the templates currently subscribed, one entry per
// subscription.
func (s *MockHAServer) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var templates []string
	for _, byID := range s.subscriptions {
		for _, sub := range byID {
			templates = append(templates, sub.template)
		}
	}
	return templates
}

// FiredEvents returns all fired events since the last clear
func (s *MockHAServer) FiredEvents() []FiredEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]FiredEvent, len(s.firedEvents))
	copy(events, s.firedEvents)
	return events
}

// ClearFiredEvents resets the fired event log
func (s *MockHAServer) ClearFiredEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firedEvents = nil
}

// CountFiredEvents counts fired events of eventType
func (s *MockHAServer) CountFiredEvents(eventType string) int {
	count := 0
	for _, e := range s.FiredEvents() {
		if e.EventType == eventType {
			count++
		}
	}
	return count
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wrapper := &connWrapper{conn: conn}
	defer s.dropConnection(wrapper)

	if err := wrapper.write(Message{Type: "auth_required"}); err != nil {
		return
	}

	var auth request
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		_ = wrapper.write(Message{Type: "auth_invalid"})
		return
	}
	if err := wrapper.write(Message{Type: "auth_ok"}); err != nil {
		return
	}

	s.mu.Lock()
	s.connections = append(s.connections, wrapper)
	s.subscriptions[wrapper] = make(map[int]*subscription)
	s.mu.Unlock()

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Type {
		case "render_template":
			s.handleRenderTemplate(wrapper, req)
		case "unsubscribe_events":
			s.handleUnsubscribe(wrapper, req)
		case "fire_event":
			s.handleFireEvent(wrapper, req)
		default:
			_ = wrapper.write(Message{
				ID:      req.ID,
				Type:    "result",
				Success: boolPtr(false),
				Error:   &ErrorMessage{Code: "unknown_command", Message: "Unknown command."},
			})
		}
	}
}

func (s *MockHAServer) dropConnection(wrapper *connWrapper) {
	s.mu.Lock()
	for i, c := range s.connections {
		if c == wrapper {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			break
		}
	}
	delete(s.subscriptions, wrapper)
	s.mu.Unlock()
	_ = wrapper.conn.Close()
}

// handleRenderTemplate acknowledges the subscription, then sends the current
// rendering if one is known.
func (s *MockHAServer) handleRenderTemplate(wrapper *connWrapper, req request) {
	s.mu.Lock()
	if byID, ok := s.subscriptions[wrapper]; ok {
		byID[req.ID] = &subscription{id: req.ID, template: req.Template, conn: wrapper}
	}
	value, hasValue := s.values[req.Template]
	message, hasError := s.errors[req.Template]
	s.mu.Unlock()

	if err := wrapper.write(Message{ID: req.ID, Type: "result", Success: boolPtr(true)}); err != nil {
		return
	}

	switch {
	case hasValue:
		_ = wrapper.write(Message{ID: req.ID, Type: "event", Event: renderEvent{Result: value}})
	case hasError:
		_ = wrapper.write(Message{ID: req.ID, Type: "event", Event: renderEvent{Error: message, Level: "ERROR"}})
	}
}

func (s *MockHAServer) handleUnsubscribe(wrapper *connWrapper, req request) {
	s.mu.Lock()
	byID := s.subscriptions[wrapper]
	_, found := byID[req.Subscription]
	delete(byID, req.Subscription)
	s.mu.Unlock()

	if !found {
		_ = wrapper.write(Message{
			ID:      req.ID,
			Type:    "result",
			Success: boolPtr(false),
			Error:   &ErrorMessage{Code: "not_found", Message: "Subscription not found."},
		})
		return
	}
	_ = wrapper.write(Message{ID: req.ID, Type: "result", Success: boolPtr(true)})
}

func (s *MockHAServer) handleFireEvent(wrapper *connWrapper, req request) {
	s.mu.Lock()
	s.firedEvents = append(s.firedEvents, FiredEvent{
		Timestamp: time.Now(),
		EventType: req.EventType,
		EventData: req.EventData,
	})
	s.mu.Unlock()

	result, _ := json.Marshal(map[string]interface{}{
		"context": map[string]interface{}{"id": "mock"},
	})
	_ = wrapper.write(Message{ID: req.ID, Type: "result", Success: boolPtr(true), Result: result})
}

func boolPtr(b bool) *bool { return &b }
