package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	connected    atomic.Bool
	connectErr   error
	publishErr   error
	disconnected atomic.Bool

	mu       sync.Mutex
	messages []message
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.connectErr == nil {
		c.connected.Store(true)
	}
	return doneToken{err: c.connectErr}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	if c.publishErr != nil {
		return doneToken{err: c.publishErr}
	}
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	}
	c.mu.Lock()
	c.messages = append(c.messages, message{topic, retained, b})
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) IsConnected() bool { return c.connected.Load() }

func (c *fakeClient) Disconnect(uint) {
	c.connected.Store(false)
	c.disconnected.Store(true)
}

func (c *fakeClient) sent() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.messages...)
}

func testConfig() config.TelemetryConfig {
	return config.TelemetryConfig{Broker: "localhost:1883", Topic: "weatharr/status", IntervalSec: 1}
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", BrokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", BrokerURL("ssl://broker:8883"))
	assert.Empty(t, BrokerURL(" "))
}

func TestRunPublishesAndAnnouncesOffline(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisherWithClient(testConfig(), func() any {
		return map[string]string{"page": "radar"}
	}, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Stats().Published >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	msgs := client.sent()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, "weatharr/status", msgs[0].topic)
	var doc map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].payload, &doc))
	assert.Equal(t, "radar", doc["page"])

	last := msgs[len(msgs)-1]
	assert.Equal(t, "weatharr/status/online", last.topic)
	assert.True(t, last.retained)
	assert.Equal(t, "false", string(last.payload))
	assert.True(t, client.disconnected.Load())
}

func TestBrokerFailuresAreCounted(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("refused")}
	p := NewPublisherWithClient(testConfig(), func() any { return nil }, client)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Run(ctx), context.DeadlineExceeded)
	assert.Equal(t, uint64(1), p.Stats().Errors)
	assert.False(t, p.Stats().Connected)

	client = &fakeClient{publishErr: errors.New("queue full")}
	client.connected.Store(true)
	p = NewPublisherWithClient(testConfig(), func() any { return 1 }, client)
	assert.ErrorContains(t, p.PublishStatus(), "queue full")

	p = NewPublisherWithClient(testConfig(), func() any { return make(chan int) }, client)
	assert.ErrorContains(t, p.PublishStatus(), "marshal")
}

func TestNewPublisherAssignsClientID(t *testing.T) {
	p := NewPublisher(testConfig(), func() any { return nil })
	assert.Regexp(t, `^weatharr-[0-9a-f]{8}$`, p.cfg.ClientID)
	assert.False(t, p.Stats().Connected)
}
