// Package publisher delivers outbox events and alerts over redis pub/sub.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"orseries/internal/domain/ornumber"
	"orseries/internal/infrastructure/monitor"
	"orseries/internal/infrastructure/storage/postgres"
	"orseries/pkg/logger"
)

var (
	_ postgres.OutboxHandler = (*EventPublisher)(nil)
	_ monitor.Notifier       = (*AlertPublisher)(nil)
)

// Client is the subset of redis.UniversalClient used here.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// NewClient connects to redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Envelope is the message published for each outbox row.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEnvelope wraps an outbox message.
func NewEnvelope(msg *postgres.OutboxMessage) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID.String(),
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		CreatedAt:     msg.CreatedAt,
	}
}

// EventPublisher publishes outbox messages to a redis channel.
type EventPublisher struct {
	client  Client
	channel string
	log     *logger.Logger
}

// NewEventPublisher creates an outbox handler for channel.
func NewEventPublisher(client Client, channel string, log *logger.Logger) *EventPublisher {
	if log == nil {
		log = logger.Default()
	}
	return &EventPublisher{client: client, channel: channel, log: log.WithComponent("event_publisher")}
}

// Handle implements postgres.OutboxHandler.
func (p *EventPublisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	body, err := json.Marshal(NewEnvelope(msg))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, body).Result()
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.EventType, p.channel, err)
	}
	p.log.WithContext(ctx).Debugw("event published",
		"message_id", msg.ID,
		"event_type", msg.EventType,
		"receivers", receivers,
	)
	return nil
}

// AlertPublisher publishes near-limit warnings to a redis channel.
type AlertPublisher struct {
	client  Client
	channel string
}

func NewAlertPublisher(client Client, channel string) *AlertPublisher {
	return &AlertPublisher{client: client, channel: channel}
}

// Notify implements monitor.Notifier.
func (p *AlertPublisher) Notify(ctx context.Context, w *ornumber.NearLimitWarning) error {
	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("publish alert to %s: %w", p.channel, err)
	}
	return nil
}
