/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/playplan/internal/events"
)

// SubjectPrefix is prepended to every event type on the wire.
const SubjectPrefix = "playplan.events."

// OriginKey marks payloads relayed from another node so they are not forwarded back.
const OriginKey = "_origin"

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string
	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "playplan",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSForwarder mirrors plan events between the local bus and a NATS subject tree.
// Local events are published to playplan.events.<type>; events from
// other nodes are republished on the local bus.
type NATSForwarder struct {
	conn   *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	mu      sync.Mutex
	subs    map[events.EventType]events.Subscriber
	remote  *nats.Subscription
	wg      sync.WaitGroup
	stopped bool
}

// NewNATSForwarder connects to NATS. Callers keep the in-process bus when this fails.
func NewNATSForwarder(cfg NATSConfig, bus *events.Bus, logger zerolog.Logger) (*NATSForwarder, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATSForwarder{
		conn:   conn,
		bus:    bus,
		logger: logger.With().Str("component", "nats_forwarder").Logger(),
		nodeID: generateNodeID(),
		subs:   make(map[events.EventType]events.Subscriber),
	}, nil
}

// Start forwards the given event types until ctx is done or Close is called.
func (f *NATSForwarder) Start(ctx context.Context, types ...events.EventType) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	remote, err := f.conn.Subscribe(SubjectPrefix+">", f.handleRemote)
	if err != nil {
		return fmt.Errorf("subscribe nats: %w", err)
	}
	f.remote = remote

	for _, eventType := range types {
		sub := f.bus.Subscribe(eventType)
		f.subs[eventType] = sub
		f.wg.Add(1)
		go f.forward(ctx, eventType, sub)
	}
	f.logger.Info().Int("event_types", len(types)).Str("node_id", f.nodeID).Msg("nats forwarding started")
	return nil
}

func (f *NATSForwarder) forward(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if _, relayed := payload[OriginKey]; relayed {
				continue
			}
			data, err := marshalNATSMessage(eventType, payload, f.nodeID)
			if err != nil {
				f.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("encode event")
				continue
			}
			if err := f.conn.Publish(subject(eventType), data); err != nil {
				f.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("publish event")
			}
		}
	}
}

func (f *NATSForwarder) handleRemote(msg *nats.Msg) {
	decoded, err := unmarshalNATSMessage(msg.Data)
	if err != nil {
		f.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("ignoring malformed event")
		return
	}
	if decoded.NodeID == f.nodeID {
		return
	}
	payload := events.Payload{}
	for k, v := range decoded.Payload {
		payload[k] = v
	}
	payload[OriginKey] = decoded.NodeID
	f.bus.Publish(decoded.EventType, payload)
}

// NodeID identifies this process on the subject tree.
func (f *NATSForwarder) NodeID() string {
	return f.nodeID
}

// Close stops forwarding and drains the NATS connection.
func (f *NATSForwarder) Close() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	for eventType, sub := range f.subs {
		f.bus.Unsubscribe(eventType, sub)
	}
	f.subs = nil
	if f.remote != nil {
		_ = f.remote.Unsubscribe()
	}
	f.mu.Unlock()

	f.wg.Wait()
	return f.conn.Drain()
}

// subject returns the NATS subject for an event type.
func subject(eventType events.EventType) string {
	return SubjectPrefix + string(eventType)
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

// marshalNATSMessage converts payload to NATS message format.
func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

// unmarshalNATSMessage parses a NATS message.
func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	if !strings.HasPrefix(string(msg.EventType), "plan.") {
		return nil, fmt.Errorf("unexpected event type %q", msg.EventType)
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
