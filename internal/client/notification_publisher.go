package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-risk-exceptions/internal/platform/logger"
)

// Publisher is the subset of *nats.Conn the notification publisher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes email notifications to NATS for the
// notifications service to deliver.
//
// Subject: notifications.exceptions.email (configurable)
//
// A nil connection makes every publish a no-op, so the service runs without a
// broker in development.
type NotificationPublisher struct {
	conn    Publisher
	subject string
	log     *logger.Logger
}

// EmailEvent is the JSON schema published to NATS.
type EmailEvent struct {
	EventType    string `json:"event_type"`
	Recipient    string `json:"recipient"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	ResourceType string `json:"resource_type"`
	Category     string `json:"category"`
}

// NewNotificationPublisher creates a publisher backed by conn.
func NewNotificationPublisher(conn Publisher, subject string, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, subject: subject, log: log}
}

// Connect opens a NATS connection named after the service.
func Connect(url, name string, log *logger.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats: reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Notify implements service.NotificationGateway.
func (p *NotificationPublisher) Notify(ctx context.Context, recipientEmail, subject, body string) error {
	if p.conn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	event := &EmailEvent{
		EventType:    "exception_notification",
		Recipient:    recipientEmail,
		Subject:      subject,
		Body:         body,
		ResourceType: "exception_request",
		Category:     "risk_exceptions",
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}

	p.log.Debug().
		Str("subject", p.subject).
		Str("recipient", recipientEmail).
		Msg("notification: event published")
	return nil
}
