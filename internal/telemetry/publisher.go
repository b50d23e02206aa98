// Package telemetry publishes the station status to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Client is the part of mqtt.Client the publisher uses
type Client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// StatusFunc produces the document to publish
type StatusFunc func() any

// Publisher sends the status document every interval. Broker problems are
// logged and counted, never returned to the station.
type Publisher struct {
	cfg    config.TelemetryConfig
	status StatusFunc
	client Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// BrokerURL adds the tcp:// scheme when the broker is a bare host:port
func BrokerURL(broker string) string {
	broker = strings.TrimSpace(broker)
	if broker == "" || strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// NewPublisher creates a publisher with a paho client for cfg.Broker
func NewPublisher(cfg config.TelemetryConfig, status StatusFunc) *Publisher {
	if cfg.ClientID == "" {
		cfg.ClientID = "weatharr-" + uuid.NewString()[:8]
	}
	p := &Publisher{cfg: cfg, status: status}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(p.onlineTopic(), "false", 1, true)
	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		logger.WithComponent("telemetry").Info().
			Str("broker", cfg.Broker).
			Str("client_id", cfg.ClientID).
			Msg("MQTT connection established")
		c.Publish(p.onlineTopic(), 1, true, "true")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		logger.WithComponent("telemetry").Warn().
			Err(err).
			Str("broker", cfg.Broker).
			Msg("MQTT connection lost, will auto-reconnect")
	}

	p.client = mqtt.NewClient(opts)
	return p
}

// NewPublisherWithClient uses an existing client
func NewPublisherWithClient(cfg config.TelemetryConfig, status StatusFunc, client Client) *Publisher {
	return &Publisher{cfg: cfg, status: status, client: client}
}

func (p *Publisher) onlineTopic() string {
	return p.cfg.Topic + "/online"
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// Run connects and publishes until ctx is done. It only returns ctx.Err().
func (p *Publisher) Run(ctx context.Context) error {
	log := logger.WithComponent("telemetry")
	log.Info().Str("broker", p.cfg.Broker).Str("topic", p.cfg.Topic).Msg("Connecting to MQTT broker")

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warn().Msg("MQTT connect still pending, retrying in background")
	} else if err := token.Error(); err != nil {
		log.Warn().Err(err).Msg("MQTT connect failed, retrying in background")
	}

	interval := time.Duration(p.cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.PublishStatus(); err != nil {
			log.Debug().Err(err).Msg("Status not published")
		}
		select {
		case <-ctx.Done():
			p.shutdown()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PublishStatus sends one status document
func (p *Publisher) PublishStatus() error {
	if !p.client.IsConnected() {
		p.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(p.status())
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

func (p *Publisher) shutdown() {
	if !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(p.onlineTopic(), 1, true, "false")
	token.WaitTimeout(publishTimeout)
	p.client.Disconnect(250)
	p.setConnected(false)
	logger.WithComponent("telemetry").Info().Msg("MQTT disconnected")
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// Stats returns publisher statistics
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Connected: p.connected || p.client.IsConnected(),
		Published: p.published,
		Errors:    p.errors,
	}
}
