// Package mqttbridge connects a Matcher to an MQTT broker: records arrive on
// the input topic and each emission is published to the pass or fail topic.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/solatis/matchkeeper/internal/core/config"
	"github.com/solatis/matchkeeper/internal/rules"
	"github.com/solatis/matchkeeper/internal/types"
)

// publishTimeout bounds each publish and subscribe round trip.
const publishTimeout = 5 * time.Second

// Client is the part of paho.Client the bridge uses.
type Client interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Processor evaluates one record, routing emissions to sink.
// Implemented by *rules.Matcher.
type Processor interface {
	ProcessTo(ctx context.Context, rec *types.Record, sink rules.Sink) (rules.Outcome, error)
}

// Bridge subscribes to the input topic and is the Sink for the records it
// feeds the matcher.
type Bridge struct {
	client  Client
	matcher Processor
	cfg     config.MQTTConfig
	logger  *slog.Logger
}

// New creates a bridge. Start must be called to begin consuming.
func New(client Client, matcher Processor, cfg config.MQTTConfig, logger *slog.Logger) (*Bridge, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if matcher == nil {
		return nil, fmt.Errorf("matcher cannot be nil")
	}
	if cfg.InputTopic == "" || cfg.PassTopic == "" || cfg.FailTopic == "" {
		return nil, fmt.Errorf("input, pass and fail topics are required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{client: client, matcher: matcher, cfg: cfg, logger: logger}, nil
}

// Start subscribes to the input topic. Records are evaluated with ctx until
// it is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	token := b.client.Subscribe(b.cfg.InputTopic, b.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		b.handle(ctx, msg)
	})
	if err := wait(token); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.cfg.InputTopic, err)
	}
	b.logger.Info("mqtt bridge subscribed", "topic", b.cfg.InputTopic, "qos", b.cfg.QoS)
	return nil
}

// Stop unsubscribes from the input topic.
func (b *Bridge) Stop() error {
	if err := wait(b.client.Unsubscribe(b.cfg.InputTopic)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", b.cfg.InputTopic, err)
	}
	return nil
}

// handle evaluates one inbound message. Undecodable payloads and record
// errors are logged and dropped.
func (b *Bridge) handle(ctx context.Context, msg paho.Message) {
	if ctx.Err() != nil {
		return
	}
	rec, err := types.DecodeRecord(msg.Payload())
	if err != nil {
		b.logger.Warn("dropping mqtt message", "topic", msg.Topic(), "error", err)
		return
	}
	if _, err := b.matcher.ProcessTo(ctx, rec, b); err != nil {
		b.logger.Warn("record rejected", "record_id", rec.ID, "topic", msg.Topic(), "error", err)
	}
}

// Emit publishes rec as JSON to the topic for ch.
func (b *Bridge) Emit(rec *types.Record, ch rules.Channel) {
	topic := b.cfg.PassTopic
	if ch == rules.ChannelFail {
		topic = b.cfg.FailTopic
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		b.logger.Error("failed to encode record", "record_id", rec.ID, "error", err)
		return
	}
	if err := wait(b.client.Publish(topic, b.cfg.QoS, false, payload)); err != nil {
		b.logger.Error("failed to publish record", "record_id", rec.ID, "topic", topic, "error", err)
	}
}

func wait(token paho.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out after %v", publishTimeout)
	}
	return token.Error()
}
