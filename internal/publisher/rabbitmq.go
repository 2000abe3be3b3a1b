// Package publisher emits events for stored comments so downstream
// consumers can analyse them.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"page_scraper/internal/domain"
)

// ActionCommentSaved is the action of the event sent for every newly stored comment.
const ActionCommentSaved = "comment.saved"

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

// NewRabbitMQ connects and declares a durable direct exchange with one
// durable queue bound to the routing key.
func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger = logger.With("component", "publisher")
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// CommentMessage is the JSON body of a published event.
type CommentMessage struct {
	MessageID string         `json:"message_id"`
	Action    string         `json:"action"`
	Comment   domain.Comment `json:"comment"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewCommentMessage builds the event for a stored comment.
func NewCommentMessage(c *domain.Comment, at time.Time) CommentMessage {
	return CommentMessage{
		MessageID: uuid.NewString(),
		Action:    ActionCommentSaved,
		Comment:   *c,
		Timestamp: at.UTC(),
	}
}

// Publishing encodes msg as a persistent JSON delivery.
func (msg CommentMessage) Publishing() (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}

	return amqp.Publishing{
		MessageId:    msg.MessageID,
		Type:         msg.Action,
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    msg.Timestamp,
	}, nil
}

func (r *RabbitMQ) PublishComment(ctx context.Context, c *domain.Comment) error {
	msg := NewCommentMessage(c, time.Now())

	publishing, err := msg.Publishing()
	if err != nil {
		return err
	}

	if err := r.channel.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	r.logger.Debug("published comment",
		"comment_id", c.ID,
		"post_id", c.PostID,
		"message_id", msg.MessageID,
	)
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
