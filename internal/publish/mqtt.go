package publish

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig configures MQTTPublisher.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topics   Topics
}

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// MQTTPublisher publishes discovery and state messages to an MQTT broker.
// Publishing never waits for the broker: delivery failures are logged.
type MQTTPublisher struct {
	client paho.Client
	topics Topics
	logger *zap.Logger
}

// NewMQTTPublisher connects to the broker. The daemon's status topic is
// marked online on connect and offline through the broker's last will.
func NewMQTTPublisher(cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	logger = logger.Named("mqtt")
	topics := cfg.Topics

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetWriteTimeout(publishTimeout).
		SetWill(topics.Bridge(), PayloadOffline, 1, true).
		SetOnConnectHandler(func(c paho.Client) {
			logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
			c.Publish(topics.Bridge(), 1, true, PayloadOnline)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("Lost connection to MQTT broker", zap.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to broker: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &MQTTPublisher{client: client, topics: topics, logger: logger}, nil
}

// Announce publishes the retained discovery config.
func (p *MQTTPublisher) Announce(d Discovery) error {
	payload, err := p.topics.FormatDiscovery(d)
	if err != nil {
		return fmt.Errorf("format discovery: %w", err)
	}
	p.publish(p.topics.Config(d.Component, d.UniqueID), true, payload)
	return nil
}

// Publish sends state, attributes and availability as retained messages.
func (p *MQTTPublisher) Publish(component, uniqueID string, u StateUpdate) error {
	attrs, err := FormatAttributes(u.Attributes)
	if err != nil {
		return fmt.Errorf("format attributes: %w", err)
	}

	p.publish(p.topics.Attributes(component, uniqueID), true, attrs)
	p.publish(p.topics.State(component, uniqueID), true, []byte(u.State))
	p.publish(p.topics.Availability(component, uniqueID), true, []byte(AvailabilityPayload(u.Available)))
	return nil
}

// Remove clears the retained discovery config, which deletes the entity.
func (p *MQTTPublisher) Remove(component, uniqueID string) error {
	for _, topic := range []string{
		p.topics.Config(component, uniqueID),
		p.topics.State(component, uniqueID),
		p.topics.Attributes(component, uniqueID),
		p.topics.Availability(component, uniqueID),
	} {
		p.publish(topic, true, []byte{})
	}
	return nil
}

// Close marks the daemon offline and disconnects from the broker. Unlike
// the other methods it waits for the broker.
func (p *MQTTPublisher) Close() error {
	err := wait(p.client.Publish(p.topics.Bridge(), 1, true, PayloadOffline))
	p.client.Disconnect(1000)
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.topics.Bridge(), err)
	}
	return nil
}

// publish hands the message to paho and logs the outcome once the broker
// acknowledges it.
func (p *MQTTPublisher) publish(topic string, retained bool, payload []byte) {
	token := p.client.Publish(topic, 1, retained, payload)
	go func() {
		if err := wait(token); err != nil {
			p.logger.Warn("Failed to publish", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

func wait(token paho.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout")
	}
	return token.Error()
}
