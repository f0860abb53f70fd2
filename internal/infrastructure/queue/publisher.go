// Package queue delivers transactional mail through RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domain "marketplace/identity/internal/domain/auth"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultMailQueue is used when no queue name is configured.
const DefaultMailQueue = "mail.password_reset"

// MessageTypePasswordReset tags password-reset mail requests.
const MessageTypePasswordReset = "password_reset"

// MailMessage is the payload consumed by the mail worker.
type MailMessage struct {
	Type        string    `json:"type"`
	To          string    `json:"to"`
	Token       string    `json:"token"`
	RequestedAt time.Time `json:"requested_at"`
}

// MailPublisher publishes mail requests to a durable queue. The broker
// connection is opened lazily and reopened after it drops.
type MailPublisher struct {
	url    string
	queue  string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ domain.MailSender = (*MailPublisher)(nil)

// NewMailPublisher constructs a publisher for the broker at url.
func NewMailPublisher(url, queue string, logger *slog.Logger) *MailPublisher {
	if queue == "" {
		queue = DefaultMailQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MailPublisher{url: url, queue: queue, logger: logger}
}

// SendPasswordResetEmail implements domain.MailSender.
func (p *MailPublisher) SendPasswordResetEmail(ctx context.Context, to, token string) error {
	msg, err := newPublishing(MailMessage{
		Type:        MessageTypePasswordReset,
		To:          to,
		Token:       token,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.logger.Warn("rabbitmq: publish failed", "queue", p.queue, "error", err)
		p.reset()
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

// channel returns an open channel, dialing when needed. Callers hold p.mu.
func (p *MailPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	// Durable so requests survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue: declare %s: %w", p.queue, err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *MailPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *MailPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.ch != nil {
		err = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
		p.conn = nil
	}
	return err
}

func newPublishing(msg MailMessage) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("queue: marshal message: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.RequestedAt,
		Type:         msg.Type,
		Body:         body,
	}, nil
}

// LogMailer records mail requests in the log instead of delivering them.
// It is used when no broker is configured.
type LogMailer struct {
	logger *slog.Logger
}

var _ domain.MailSender = (*LogMailer)(nil)

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// SendPasswordResetEmail implements domain.MailSender. The token is not logged.
func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, to, _ string) error {
	m.logger.InfoContext(ctx, "password reset email requested", "to", to)
	return nil
}
