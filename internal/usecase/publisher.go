package usecase

import (
	"context"
	"time"

	"ledger-service/internal/domain"
)

// EventPublisher delivers committed outcomes to downstream consumers.
type EventPublisher interface {
	PublishTransactionEvents(ctx context.Context, events []*domain.TransactionEvent) error
	PublishConfirmationEvent(ctx context.Context, event *domain.ConfirmationEvent) error
}

type noopPublisher struct{}

func (noopPublisher) PublishTransactionEvents(context.Context, []*domain.TransactionEvent) error {
	return nil
}

func (noopPublisher) PublishConfirmationEvent(context.Context, *domain.ConfirmationEvent) error {
	return nil
}

const publishTimeout = 3 * time.Second

// publishContext detaches from the request so a client disconnect after
// commit does not drop the event.
func publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
}
