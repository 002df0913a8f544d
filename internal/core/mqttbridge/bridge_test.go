package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/solatis/matchkeeper/internal/core/config"
	"github.com/solatis/matchkeeper/internal/props"
	"github.com/solatis/matchkeeper/internal/rules"
	"github.com/solatis/matchkeeper/internal/types"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type published struct {
	topic   string
	payload map[string]any
}

type fakeClient struct {
	mu         sync.Mutex
	handlers   map[string]paho.MessageHandler
	published  []published
	publishErr error
	subErr     error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]paho.MessageHandler)}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr == nil {
		c.handlers[topic] = cb
	}
	return &fakeToken{err: c.subErr}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return &fakeToken{}
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var m map[string]any
	_ = json.Unmarshal(payload.([]byte), &m)
	c.published = append(c.published, published{topic: topic, payload: m})
	return &fakeToken{err: c.publishErr}
}

// deliver simulates the broker pushing payload on topic.
func (c *fakeClient) deliver(topic, payload string) {
	c.mu.Lock()
	cb := c.handlers[topic]
	c.mu.Unlock()
	if cb != nil {
		cb(nil, &fakeMessage{topic: topic, payload: []byte(payload)})
	}
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.published))
	for i, p := range c.published {
		out[i] = p.topic
	}
	return out
}

func testConfig() config.MQTTConfig {
	return config.DefaultConfig().MQTT
}

func newBridge(t *testing.T, raw []types.RawRule) (*Bridge, *fakeClient) {
	t.Helper()
	m, err := rules.NewMatcher(raw, props.New())
	if err != nil {
		t.Fatal(err)
	}
	client := newFakeClient()
	b, err := New(client, m, testConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return b, client
}

func equalTopics(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew_Validation(t *testing.T) {
	m, _ := rules.NewMatcher(nil, props.New())
	cfg := testConfig()

	if _, err := New(nil, m, cfg, nil); err == nil {
		t.Errorf("nil client: error = nil")
	}
	if _, err := New(newFakeClient(), nil, cfg, nil); err == nil {
		t.Errorf("nil matcher: error = nil")
	}
	cfg.FailTopic = ""
	if _, err := New(newFakeClient(), m, cfg, nil); err == nil {
		t.Errorf("missing topic: error = nil")
	}
}

func TestBridge_Routing(t *testing.T) {
	_, client := newBridge(t, []types.RawRule{
		{Property: "payload", Type: "gt", Value: 0},
		{Property: "payload", Type: "lt", Value: 100},
	})
	cfg := testConfig()

	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{"all pass", `{"payload": 50}`, []string{cfg.PassTopic}},
		{"one fails", `{"payload": 150}`, []string{cfg.FailTopic}},
		{"both fail", `{"payload": "abc"}`, []string{cfg.FailTopic, cfg.FailTopic}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(client.topics())
			client.deliver(cfg.InputTopic, tt.payload)
			got := client.topics()[before:]
			if !equalTopics(got, tt.want) {
				t.Errorf("published to %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBridge_PublishesRecordWithID(t *testing.T) {
	_, client := newBridge(t, []types.RawRule{{Property: "payload", Type: "true"}})
	cfg := testConfig()

	client.deliver(cfg.InputTopic, `{"_msgid": "abc", "payload": true, "topic": "t"}`)

	if len(client.published) != 1 {
		t.Fatalf("published = %v", client.published)
	}
	p := client.published[0]
	if p.topic != cfg.PassTopic || p.payload["_msgid"] != "abc" || p.payload["topic"] != "t" {
		t.Errorf("published = %+v", p)
	}
}

func TestBridge_DropsBadInput(t *testing.T) {
	_, client := newBridge(t, []types.RawRule{{Property: "a.b", Type: "null"}})
	cfg := testConfig()

	client.deliver(cfg.InputTopic, `not json`)
	client.deliver(cfg.InputTopic, `[1]`)
	// Resolution error: no emissions at all.
	client.deliver(cfg.InputTopic, `{}`)

	if got := client.topics(); len(got) != 0 {
		t.Errorf("published to %v, want nothing", got)
	}

	// A later good record is still processed.
	client.deliver(cfg.InputTopic, `{"a": {}}`)
	if got := client.topics(); !equalTopics(got, []string{cfg.PassTopic}) {
		t.Errorf("published to %v, want pass", got)
	}
}

func TestBridge_StartStop(t *testing.T) {
	m, _ := rules.NewMatcher(nil, props.New())
	client := newFakeClient()
	client.subErr = errors.New("not authorized")
	b, _ := New(client, m, testConfig(), nil)
	if err := b.Start(context.Background()); err == nil {
		t.Errorf("Start() error = nil, want subscribe error")
	}

	b, client = newBridge(t, nil)
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	client.deliver(testConfig().InputTopic, `{}`)
	if got := client.topics(); len(got) != 0 {
		t.Errorf("published after Stop: %v", got)
	}
}

func TestBridge_CancelledContext(t *testing.T) {
	m, _ := rules.NewMatcher(nil, props.New())
	client := newFakeClient()
	b, _ := New(client, m, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	client.deliver(testConfig().InputTopic, `{}`)
	if got := client.topics(); len(got) != 0 {
		t.Errorf("published after cancel: %v", got)
	}
}

func TestBridge_PublishErrorLogged(t *testing.T) {
	_, client := newBridge(t, nil)
	client.publishErr = errors.New("broker gone")
	// Must not panic; the error is logged and evaluation continues.
	client.deliver(testConfig().InputTopic, `{}`)
	if got := client.topics(); len(got) != 1 {
		t.Errorf("publish attempts = %v, want 1", got)
	}
}
