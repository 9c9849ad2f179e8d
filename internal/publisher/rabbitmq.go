package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"catalog_sync/internal/domain"
)

// RabbitMQ publishes pull reports to a durable direct exchange.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
	now        func() time.Time
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

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

	err = ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

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
		now:        time.Now,
	}, nil
}

// ReportMessage is the event emitted once per finished pull.
type ReportMessage struct {
	Outcome   string            `json:"outcome"`
	Report    domain.PullReport `json:"report"`
	Timestamp time.Time         `json:"timestamp"`
}

// PublishReport emits report as a persistent JSON message. The platform is
// also set as a header so consumers can filter without decoding.
func (r *RabbitMQ) PublishReport(ctx context.Context, report *domain.PullReport) error {
	msg := ReportMessage{
		Outcome:   report.Outcome(),
		Report:    *report,
		Timestamp: r.now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    report.ID,
			Headers: amqp.Table{
				"platform": report.Platform,
				"outcome":  msg.Outcome,
			},
			Body:      body,
			Timestamp: msg.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("publish report: %w", err)
	}

	r.logger.Debug("published pull report",
		"platform", report.Platform,
		"run_id", report.ID,
		"outcome", msg.Outcome,
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
