// Package notify publishes turn-completed events to an MQTT broker so
// external automations (dashboards, home automation, audit pipelines)
// can react to assistant activity without polling the API.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. A retained will
// message ensures the availability topic transitions to "offline" on
// unexpected disconnects, and a birth message marks it "online" on
// every (re-)connect. Publishing is best-effort: a turn never fails
// because the broker is unreachable.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/agent"
	"github.com/castellanhq/castellan/internal/config"
)

// publishTimeout bounds a single event publish so a stalled broker
// cannot hold up post-turn processing.
const publishTimeout = 5 * time.Second

// TurnEvent is the JSON payload published after each completed turn.
type TurnEvent struct {
	UserID    string    `json:"user_id"`
	Agent     agent.Tag `json:"agent"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher manages the MQTT connection and publishes one retained
// availability message plus one TurnEvent per completed turn. It
// implements the orchestrator's Notifier interface.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "castellan"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "castellan-" + instanceID
	}
	return &Publisher{cfg: cfg, instanceID: instanceID, logger: logger}
}

// Start connects to the MQTT broker. It returns once the connection
// manager is running; autopaho retries in the background until ctx is
// cancelled, so a broker that is down at startup is not fatal.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// TurnCompleted publishes one event for a finished turn. Failures are
// logged and dropped; the user already has their response.
func (p *Publisher) TurnCompleted(ctx context.Context, userID uuid.UUID, tag agent.Tag, message, response string) {
	if p.cm == nil {
		return
	}

	event := TurnEvent{
		UserID:    userID.String(),
		Agent:     tag,
		Message:   message,
		Response:  response,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("mqtt marshal turn event", "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	topic := p.turnTopic(tag)
	if _, err := p.cm.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Warn("mqtt turn publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Debug("mqtt turn published", "topic", topic, "agent", tag)
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

func (p *Publisher) turnTopic(tag agent.Tag) string {
	return p.cfg.TopicPrefix + "/turns/" + string(tag)
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	}
}
