package pub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ledger-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TransactionEventsChannel = "transaction_events"
)

// ===============================
// Redis: transaction events
// ===============================

type TransactionEventPublisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewTransactionEventPublisher(rdb *redis.Client, logger *zap.Logger) *TransactionEventPublisher {
	return &TransactionEventPublisher{rdb: rdb, logger: logger}
}

// Publish sends each event on the transaction_events channel.
func (p *TransactionEventPublisher) Publish(ctx context.Context, events ...*domain.TransactionEvent) error {
	var errs []error
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal event: %w", err))
			continue
		}
		if err := p.rdb.Publish(ctx, TransactionEventsChannel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish event: %w", err))
			continue
		}
		p.logger.Debug("transaction event published",
			zap.String("event_type", event.EventType),
			zap.String("owner_id", event.OwnerID),
			zap.String("reference", event.Reference),
		)
	}
	return errors.Join(errs...)
}

// ===============================
// Kafka: confirmation events
// ===============================

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type ConfirmationPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

func NewConfirmationPublisher(writer MessageWriter, logger *zap.Logger) *ConfirmationPublisher {
	return &ConfirmationPublisher{writer: writer, logger: logger}
}

// Publish keys messages by owner so one owner's events stay ordered on a partition.
func (p *ConfirmationPublisher) Publish(ctx context.Context, event *domain.ConfirmationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OwnerID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write confirmation event: %w", err)
	}
	return nil
}

// ===============================
// Fan-out
// ===============================

// Publisher fans events out to whichever sinks are configured. Either sink
// may be nil.
type Publisher struct {
	transactions  *TransactionEventPublisher
	confirmations *ConfirmationPublisher
}

func NewPublisher(transactions *TransactionEventPublisher, confirmations *ConfirmationPublisher) *Publisher {
	return &Publisher{transactions: transactions, confirmations: confirmations}
}

func (p *Publisher) PublishTransactionEvents(ctx context.Context, events []*domain.TransactionEvent) error {
	if p.transactions == nil || len(events) == 0 {
		return nil
	}
	return p.transactions.Publish(ctx, events...)
}

func (p *Publisher) PublishConfirmationEvent(ctx context.Context, event *domain.ConfirmationEvent) error {
	if p.confirmations == nil || event == nil {
		return nil
	}
	return p.confirmations.Publish(ctx, event)
}
