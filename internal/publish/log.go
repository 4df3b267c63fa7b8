package publish

import (
	"go.uber.org/zap"
)

// LogPublisher only logs what would be published. It is used in read-only mode.
type LogPublisher struct {
	topics Topics
	logger *zap.Logger
}

func NewLogPublisher(topics Topics, logger *zap.Logger) *LogPublisher {
	return &LogPublisher{topics: topics, logger: logger.Named("publish")}
}

func (p *LogPublisher) Announce(d Discovery) error {
	payload, err := p.topics.FormatDiscovery(d)
	if err != nil {
		return err
	}
	p.logger.Info("READ-ONLY: Would announce entity",
		zap.String("topic", p.topics.Config(d.Component, d.UniqueID)),
		zap.ByteString("payload", payload))
	return nil
}

func (p *LogPublisher) Publish(component, uniqueID string, u StateUpdate) error {
	p.logger.Info("READ-ONLY: Would publish state",
		zap.String("topic", p.topics.State(component, uniqueID)),
		zap.String("state", u.State),
		zap.Bool("available", u.Available),
		zap.Any("attributes", u.Attributes))
	return nil
}

func (p *LogPublisher) Remove(component, uniqueID string) error {
	p.logger.Info("READ-ONLY: Would remove entity",
		zap.String("topic", p.topics.Config(component, uniqueID)))
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
