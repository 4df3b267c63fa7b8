package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HAClient defines the interface for Home Assistant WebSocket client
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	SubscribeTemplate(template string, handler TemplateHandler) (Subscription, error)
	FireEvent(eventType string, data map[string]interface{}) error
}

// Client implements HAClient interface
type Client struct {
	url       string
	token     string
	logger    *zap.Logger
	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	msgID     int
	msgIDMu   sync.Mutex
	pending   map[int]chan Message
	pendingMu sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool
	writeMu   sync.Mutex // Protects websocket writes
	timeout   time.Duration

	// Template subscriptions survive reconnects. templates is keyed by a
	// stable local key; templateIDs maps the current message ID to that key.
	templates   map[int]*templateSubscription
	templateIDs map[int]int
	nextKey     int
	templatesMu sync.Mutex
}

// NewClient creates a new Home Assistant WebSocket client
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:         url,
		token:       token,
		logger:      logger.Named("ha"),
		pending:     make(map[int]chan Message),
		ctx:         ctx,
		cancel:      cancel,
		reconnect:   true,
		timeout:     10 * time.Second,
		templates:   make(map[int]*templateSubscription),
		templateIDs: make(map[int]int),
	}
}

func (c *Client) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Connect establishes WebSocket connection and authenticates
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	c.conn = conn

	if err := c.authenticate(); err != nil {
		c.conn.Close()
		c.connMu.Unlock()
		return err
	}

	c.resetContextLocked()
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant")

	go c.receiveMessages()

	// Release lock before resubscribing; sendMessage takes a read lock
	c.connMu.Unlock()

	c.resubscribeTemplates()

	return nil
}

// authenticate runs the auth_required / auth / auth_ok handshake
func (c *Client) authenticate() error {
	var authRequired Message
	if err := c.conn.ReadJSON(&authRequired); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}

	if authRequired.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(AuthMessage{
		Type:        "auth",
		AccessToken: c.token,
	})
	c.writeMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResponse Message
	if err := c.conn.ReadJSON(&authResponse); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	if authResponse.Type == "auth_invalid" {
		return fmt.Errorf("authentication failed: invalid token")
	}

	if authResponse.Type != "auth_ok" {
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}

	return nil
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.templatesMu.Lock()
	c.templates = make(map[int]*templateSubscription)
	c.templateIDs = make(map[int]int)
	c.templatesMu.Unlock()

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage sends a message and waits for its result
func (c *Client) sendMessage(msg interface{}) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, fmt.Errorf("not connected")
	}
	conn := c.conn
	ctx := c.ctx
	c.connMu.RUnlock()

	var msgID int
	switch m := msg.(type) {
	case *RenderTemplateRequest:
		msgID = m.ID
	case *UnsubscribeRequest:
		msgID = m.ID
	case *FireEventRequest:
		msgID = m.ID
	default:
		return nil, fmt.Errorf("unsupported message type")
	}

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages handles incoming messages in the background
func (c *Client) receiveMessages() {
	c.connMu.RLock()
	conn := c.conn
	ctx := c.ctx
	c.connMu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect()
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// handleEvent routes render_template events to their subscription
func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil {
		return
	}

	c.templatesMu.Lock()
	var sub *templateSubscription
	if key, ok := c.templateIDs[msg.ID]; ok {
		sub = c.templates[key]
	}
	c.templatesMu.Unlock()

	if sub == nil {
		c.logger.Debug("Ignoring event for unknown subscription", zap.Int("msg_id", msg.ID))
		return
	}

	result := TemplateResult{Value: msg.Event.Result}
	if msg.Event.Error != "" {
		// Warnings are informational; only errors replace the value.
		if msg.Event.Level == "WARNING" {
			c.logger.Warn("Template warning",
				zap.String("template", sub.template),
				zap.String("warning", msg.Event.Error))
			return
		}
		result = TemplateResult{Error: msg.Event.Error}
	}

	sub.handler(result)
}

// handleDisconnect handles connection loss
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	reconnect := c.reconnect
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if !reconnect {
		return
	}

	go c.attemptReconnect()
}

// attemptReconnect tries to reconnect with exponential backoff
func (c *Client) attemptReconnect() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		c.connMu.RLock()
		ctx := c.ctx
		c.connMu.RUnlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect...")

		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

// SubscribeTemplate asks Home Assistant to render template now and on every
// change of the entities it reads. handler runs on the receive goroutine.
func (c *Client) SubscribeTemplate(template string, handler TemplateHandler) (Subscription, error) {
	c.templatesMu.Lock()
	c.nextKey++
	sub := &templateSubscription{
		key:      c.nextKey,
		template: template,
		handler:  handler,
		client:   c,
	}
	c.templates[sub.key] = sub
	c.templatesMu.Unlock()

	if err := c.sendRenderTemplate(sub); err != nil {
		c.templatesMu.Lock()
		delete(c.templates, sub.key)
		c.templatesMu.Unlock()
		return nil, err
	}

	return sub, nil
}

// sendRenderTemplate registers the routing entry before sending so that the
// first rendering, which may follow the result immediately, is not lost.
func (c *Client) sendRenderTemplate(sub *templateSubscription) error {
	msgID := c.nextMsgID()

	c.templatesMu.Lock()
	for id, key := range c.templateIDs {
		if key == sub.key {
			delete(c.templateIDs, id)
		}
	}
	c.templateIDs[msgID] = sub.key
	c.templatesMu.Unlock()

	_, err := c.sendMessage(&RenderTemplateRequest{
		ID:           msgID,
		Type:         "render_template",
		Template:     sub.template,
		ReportErrors: true,
	})
	if err != nil {
		c.templatesMu.Lock()
		delete(c.templateIDs, msgID)
		c.templatesMu.Unlock()
		return fmt.Errorf("failed to subscribe template: %w", err)
	}
	return nil
}

// resubscribeTemplates restores template subscriptions after a reconnect
func (c *Client) resubscribeTemplates() {
	c.templatesMu.Lock()
	subs := make([]*templateSubscription, 0, len(c.templates))
	for _, sub := range c.templates {
		subs = append(subs, sub)
	}
	c.templatesMu.Unlock()

	for _, sub := range subs {
		if err := c.sendRenderTemplate(sub); err != nil {
			c.logger.Warn("Failed to resubscribe template",
				zap.String("template", sub.template),
				zap.Error(err))
			sub.handler(TemplateResult{Error: err.Error()})
		}
	}

	if len(subs) > 0 {
		c.logger.Info("Resubscribed templates", zap.Int("count", len(subs)))
	}
}

// unsubscribeTemplate drops a template subscription locally and on the server
func (c *Client) unsubscribeTemplate(key int) error {
	c.templatesMu.Lock()
	if _, ok := c.templates[key]; !ok {
		c.templatesMu.Unlock()
		return nil // Already unsubscribed
	}
	delete(c.templates, key)

	serverID := 0
	for id, k := range c.templateIDs {
		if k == key {
			serverID = id
			delete(c.templateIDs, id)
		}
	}
	c.templatesMu.Unlock()

	if serverID == 0 || !c.IsConnected() {
		return nil
	}

	_, err := c.sendMessage(&UnsubscribeRequest{
		ID:           c.nextMsgID(),
		Type:         "unsubscribe_events",
		Subscription: serverID,
	})
	if err != nil {
		return fmt.Errorf("failed to unsubscribe template: %w", err)
	}
	return nil
}

// FireEvent fires an event on the Home Assistant event bus
func (c *Client) FireEvent(eventType string, data map[string]interface{}) error {
	_, err := c.sendMessage(&FireEventRequest{
		ID:        c.nextMsgID(),
		Type:      "fire_event",
		EventType: eventType,
		EventData: data,
	})
	return err
}

// Decode unmarshals a rendered template value. Home Assistant sends native
// JSON types when the rendering parses as one, otherwise a string.
func (r TemplateResult) Decode() (interface{}, error) {
	if len(r.Value) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return nil, fmt.Errorf("failed to decode template result: %w", err)
	}
	return v, nil
}
