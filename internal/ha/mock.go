package ha

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient interface for testing
type MockClient struct {
	connected   bool
	connMu      sync.RWMutex
	templates   map[int]*mockTemplateSub
	nextKey     int
	templatesMu sync.Mutex
	failing     map[string]error
	events      []FiredEvent
	eventsMu    sync.Mutex
}

// FiredEvent records a FireEvent call for testing
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
	Time      time.Time
}

type mockTemplateSub struct {
	key      int
	template string
	handler  TemplateHandler
	mock     *MockClient
}

func (s *mockTemplateSub) Unsubscribe() error {
	s.mock.templatesMu.Lock()
	defer s.mock.templatesMu.Unlock()
	delete(s.mock.templates, s.key)
	return nil
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		templates: make(map[int]*mockTemplateSub),
		failing:   make(map[string]error),
	}
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.templatesMu.Lock()
	m.templates = make(map[int]*mockTemplateSub)
	m.templatesMu.Unlock()
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// FailTemplate makes subsequent subscriptions to template fail with err
func (m *MockClient) FailTemplate(template string, err error) {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()
	m.failing[template] = err
}

// SubscribeTemplate records the subscription; renderings are driven by
// EmitTemplateResult and EmitTemplateError.
func (m *MockClient) SubscribeTemplate(template string, handler TemplateHandler) (Subscription, error) {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()

	if err, ok := m.failing[template]; ok {
		return nil, err
	}

	m.nextKey++
	sub := &mockTemplateSub{
		key:      m.nextKey,
		template: template,
		handler:  handler,
		mock:     m,
	}
	m.templates[sub.key] = sub
	return sub, nil
}

// Templates returns the templates with an active subscription
func (m *MockClient) Templates() []string {
	m.templatesMu.Lock()
	defer m.templatesMu.Unlock()

	result := make([]string, 0, len(m.templates))
	for _, sub := range m.templates {
		result = append(result, sub.template)
	}
	return result
}

// EmitTemplateResult delivers a rendering to every subscriber of template.
// It returns the number of subscribers notified.
func (m *MockClient) EmitTemplateResult(template string, value interface{}) int {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("mock: cannot marshal template value: %v", err))
	}
	return m.emit(template, TemplateResult{Value: raw})
}

// EmitTemplateError delivers a rendering error to every subscriber of template
func (m *MockClient) EmitTemplateError(template, message string) int {
	return m.emit(template, TemplateResult{Error: message})
}

func (m *MockClient) emit(template string, result TemplateResult) int {
	m.templatesMu.Lock()
	var handlers []TemplateHandler
	for _, sub := range m.templates {
		if sub.template == template {
			handlers = append(handlers, sub.handler)
		}
	}
	m.templatesMu.Unlock()

	for _, handler := range handlers {
		handler(result)
	}
	return len(handlers)
}

// FireEvent records the event
func (m *MockClient) FireEvent(eventType string, data map[string]interface{}) error {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	m.events = append(m.events, FiredEvent{
		EventType: eventType,
		Data:      data,
		Time:      time.Now(),
	})
	return nil
}

// GetFiredEvents returns all recorded events
func (m *MockClient) GetFiredEvents() []FiredEvent {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	events := make([]FiredEvent, len(m.events))
	copy(events, m.events)
	return events
}
