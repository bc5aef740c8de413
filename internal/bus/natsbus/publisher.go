// Package natsbus publishes domain notifications to NATS subjects.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// TopicHeader carries the unprefixed topic of a notification.
const TopicHeader = "Chatlink-Topic"

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher sends JSON notifications to <prefix>.<topic>.
type Publisher struct {
	conn   Conn
	prefix string
}

// New creates a Publisher. An empty prefix publishes on the bare topic.
func New(conn Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: strings.Trim(prefix, ".")}
}

// Connect dials the NATS server with reconnects enabled.
func Connect(url, name string, logger *zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Subject returns the subject a topic is published on.
func (p *Publisher) Subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

// Publish encodes payload as JSON and sends it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}

	msg := nats.NewMsg(p.Subject(topic))
	msg.Data = data
	msg.Header.Set(TopicHeader, topic)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
