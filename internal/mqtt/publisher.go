package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/hermitd/internal/config"
	"github.com/nugget/hermitd/internal/events"
)

// StatsSource provides runtime data for sensor state publishing. The
// concrete adapter is wired in main.go to avoid coupling the MQTT
// package to the session table or backend watcher.
type StatsSource interface {
	// Uptime returns the process uptime.
	Uptime() time.Duration
	// Version returns the software version string.
	Version() string
	// Model returns the model tag generation requests are sent to.
	Model() string
	// ActiveSessions returns the number of live shell sessions.
	ActiveSessions() int
	// SessionCapacity returns the session table size.
	SessionCapacity() int
	// BackendReady reports whether the last backend probe succeeded.
	BackendReady() bool
}

// eventBuffer is the bus subscription depth. Events beyond it are
// dropped by the bus while the broker is slow.
const eventBuffer = 64

// Publisher manages the MQTT connection and runs a loop that pushes
// sensor states and forwards lifecycle events to the broker.
type Publisher struct {
	cfg    config.MQTTConfig
	stats  StatsSource
	tokens *DailyTokens
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	connected atomic.Bool
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop. bus and tokens may be nil.
func New(cfg config.MQTTConfig, stats StatsSource, tokens *DailyTokens, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		stats:  stats,
		tokens: tokens,
		bus:    bus,
		logger: logger.With("component", "mqtt"),
	}
}

// Start connects to the MQTT broker and begins the publish loop. It
// blocks until ctx is cancelled, then publishes "offline" and
// disconnects.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if brokerURL.Host == "" {
		return fmt.Errorf("parse mqtt broker URL: %q has no host", p.cfg.Broker)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.connected.Store(true)
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "hermitd-" + p.cfg.DeviceName,
			OnServerDisconnect: func(*paho.Disconnect) {
				p.connected.Store(false)
			},
			OnClientError: func(err error) {
				p.connected.Store(false)
				p.logger.Debug("mqtt client error", "error", err)
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Subscribe before connecting so no early lifecycle event is missed.
	var evs <-chan events.Event
	if p.bus != nil {
		evs = p.bus.Subscribe(eventBuffer)
		defer p.bus.Unsubscribe(evs)
	}

	// The connection outlives ctx so "offline" can still be sent on
	// shutdown.
	connLife, cancelConn := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConn()

	cm, err := autopaho.NewConnection(connLife, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before starting the publish loop.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil && ctx.Err() == nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx, evs)

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer stopCancel()
	return p.stop(stopCtx)
}

// stop publishes an "offline" availability message before closing the
// MQTT connection. Without a live connection there is nothing to say;
// the will message covers it.
func (p *Publisher) stop(ctx context.Context) error {
	if p.cm == nil || !p.connected.Load() {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	if err := p.cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	return nil
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "hermitd/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) eventsTopic() string {
	return p.baseTopic() + "/events"
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Publish loop ---

func (p *Publisher) runLoop(ctx context.Context, evs <-chan events.Event) {
	interval := p.cfg.PublishInterval()
	if interval <= 0 {
		interval = time.Duration(config.DefaultPublishInterval) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		case e, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			p.publishEvent(ctx, e)
			// Session counts change with every lifecycle event.
			p.publishStates(ctx)
		}
	}
}

// statePayloads returns the current value of every sensor.
func (p *Publisher) statePayloads() map[string]string {
	backend := "down"
	if p.stats.BackendReady() {
		backend = "up"
	}

	states := map[string]string{
		"uptime":           p.stats.Uptime().Truncate(time.Second).String(),
		"version":          p.stats.Version(),
		"model":            p.stats.Model(),
		"active_sessions":  strconv.Itoa(p.stats.ActiveSessions()),
		"session_capacity": strconv.Itoa(p.stats.SessionCapacity()),
		"backend":          backend,
	}

	if p.tokens != nil {
		input, output, requests := p.tokens.Snapshot()
		states["tokens_today"] = strconv.FormatInt(input+output, 10)
		states["requests_today"] = strconv.FormatInt(requests, 10)
	}
	return states
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	states := p.statePayloads()
	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt sensor states published",
		"entities", len(states))
}

func (p *Publisher) publishEvent(ctx context.Context, e events.Event) {
	if p.cm == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.eventsTopic(),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt event publish failed", "kind", e.Kind, "error", err)
	}
}
