package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/utils"
	"ledger-service/pkg/xerrors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxConfirmationAttempts = 5

// ConfirmationUsecase is the confirmation registry: one receipt facing
// snapshot per committed operation.
type ConfirmationUsecase struct {
	store     repository.Store
	gen       *utils.ReferenceGenerator
	cache     *cache.CacheService
	publisher EventPublisher
	cacheTTL  time.Duration
	logger    *zap.Logger
}

func NewConfirmationUsecase(
	store repository.Store,
	gen *utils.ReferenceGenerator,
	cacheService *cache.CacheService,
	publisher EventPublisher,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *ConfirmationUsecase {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &ConfirmationUsecase{
		store:     store,
		gen:       gen,
		cache:     cacheService,
		publisher: publisher,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// snapshot is the parameter record kept on the confirmation. Amounts are
// stored as fixed point strings so they survive a JSON round trip exactly.
func snapshot(result *domain.OperationResult) map[string]any {
	details := make(map[string]any, len(result.Details)+4)
	for k, v := range result.Details {
		details[k] = v
	}
	details["amount"] = result.Amount.StringFixed(2)
	details["new_balance"] = result.NewBalance.StringFixed(2)

	ids := make([]string, 0, len(result.Transactions))
	for _, tx := range result.Transactions {
		ids = append(ids, tx.ID)
	}
	details["transaction_ids"] = ids
	return details
}

// Create persists a pending confirmation for result and completes it.
func (uc *ConfirmationUsecase) Create(ctx context.Context, result *domain.OperationResult) (*domain.Confirmation, error) {
	primary := result.Primary()
	if primary == nil {
		return nil, xerrors.Validation("operation result has no transactions")
	}

	repo := uc.store.Repos().Confirmations
	var created *domain.Confirmation
	for attempt := 1; attempt <= maxConfirmationAttempts && created == nil; attempt++ {
		number, err := uc.gen.ConfirmationNumber()
		if err != nil {
			return nil, xerrors.Internal("confirmations.number", err)
		}
		now := uc.gen.Now()
		txID := primary.ID
		c := &domain.Confirmation{
			ID:            uuid.NewString(),
			OwnerID:       result.OwnerID,
			Number:        number,
			OperationType: result.Type,
			Amount:        result.Amount,
			Fee:           result.Fee,
			Details:       snapshot(result),
			Status:        domain.ConfirmationPending,
			TransactionID: &txID,
			Reference:     result.Reference,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = repo.Create(ctx, c)
		if errors.Is(err, xerrors.ErrDuplicateConfirmation) {
			uc.logger.Warn("confirmation number collision, regenerating", zap.Int("attempt", attempt))
			continue
		}
		if errors.Is(err, xerrors.ErrConfirmationExists) {
			// a concurrent request confirmed the same transaction first
			existing, err := repo.GetByTransactionID(ctx, txID)
			if err != nil {
				return nil, xerrors.Internal("confirmations.create", err)
			}
			return existing, nil
		}
		if err != nil {
			confirmationsCreated.WithLabelValues(string(result.Type), "error").Inc()
			return nil, xerrors.Internal("confirmations.create", err)
		}
		created = c
	}
	if created == nil {
		return nil, fmt.Errorf("confirmation after %d attempts: %w", maxConfirmationAttempts, xerrors.ErrDuplicateConfirmation)
	}

	completed, err := repo.UpdateStatus(ctx, created.ID, domain.ConfirmationPending, domain.ConfirmationCompleted, uc.gen.Now())
	if err != nil {
		confirmationsCreated.WithLabelValues(string(result.Type), "pending").Inc()
		uc.logger.Error("confirmation left pending",
			zap.String("confirmation_number", created.Number),
			zap.Error(err),
		)
		return created, nil
	}

	confirmationsCreated.WithLabelValues(string(result.Type), "completed").Inc()
	uc.cacheConfirmation(ctx, completed)
	uc.publish(ctx, completed, domain.EventConfirmationCreated)
	return completed, nil
}

// Get is owner scoped: another owner's confirmation reads as not found.
func (uc *ConfirmationUsecase) Get(ctx context.Context, owner domain.Owner, number string) (*domain.Confirmation, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	if data, err := uc.cache.GetConfirmation(ctx, number); err != nil {
		uc.logger.Warn("confirmation cache read failed", zap.Error(err))
	} else if data != nil {
		var c domain.Confirmation
		if err := json.Unmarshal(data, &c); err == nil {
			if c.OwnerID != owner.ID {
				return nil, xerrors.ErrConfirmationNotFound
			}
			return &c, nil
		}
	}

	c, err := uc.store.Repos().Confirmations.GetByNumber(ctx, number, owner.ID)
	if err != nil {
		return nil, xerrors.Internal("confirmations.get", err)
	}
	uc.cacheConfirmation(ctx, c)
	return c, nil
}

// ForTransaction finds the confirmation issued for a ledger record.
func (uc *ConfirmationUsecase) ForTransaction(ctx context.Context, transactionID string) (*domain.Confirmation, error) {
	c, err := uc.store.Repos().Confirmations.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, xerrors.Internal("confirmations.for_transaction", err)
	}
	return c, nil
}

func (uc *ConfirmationUsecase) List(ctx context.Context, owner domain.Owner, limit, offset int) ([]*domain.Confirmation, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	list, err := uc.store.Repos().Confirmations.ListByOwner(ctx, owner.ID, limit, offset)
	if err != nil {
		return nil, xerrors.Internal("confirmations.list", err)
	}
	return list, nil
}

func (uc *ConfirmationUsecase) MarkDownloaded(ctx context.Context, owner domain.Owner, number string) (*domain.Confirmation, error) {
	return uc.mark(ctx, owner, number, repository.ConfirmationRepository.MarkDownloaded)
}

func (uc *ConfirmationUsecase) MarkPrinted(ctx context.Context, owner domain.Owner, number string) (*domain.Confirmation, error) {
	return uc.mark(ctx, owner, number, repository.ConfirmationRepository.MarkPrinted)
}

type markFunc func(repository.ConfirmationRepository, context.Context, string, string, time.Time) (*domain.Confirmation, error)

func (uc *ConfirmationUsecase) mark(ctx context.Context, owner domain.Owner, number string, fn markFunc) (*domain.Confirmation, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	c, err := fn(uc.store.Repos().Confirmations, ctx, number, owner.ID, uc.gen.Now())
	if err != nil {
		return nil, xerrors.Internal("confirmations.mark", err)
	}
	uc.cacheConfirmation(ctx, c)
	uc.publish(ctx, c, domain.EventConfirmationUpdated)
	return c, nil
}

func (uc *ConfirmationUsecase) cacheConfirmation(ctx context.Context, c *domain.Confirmation) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := uc.cache.SetConfirmation(ctx, c.Number, data, uc.cacheTTL); err != nil {
		uc.logger.Warn("confirmation cache write failed",
			zap.String("confirmation_number", c.Number),
			zap.Error(err),
		)
		// drop the entry so a stale copy is not served until it expires
		_ = uc.cache.DeleteConfirmation(ctx, c.Number)
	}
}

func (uc *ConfirmationUsecase) publish(ctx context.Context, c *domain.Confirmation, eventType string) {
	pctx, cancel := publishContext(ctx)
	defer cancel()

	if err := uc.publisher.PublishConfirmationEvent(pctx, domain.NewConfirmationEvent(c, eventType, uc.gen.Now())); err != nil {
		eventPublishErrors.WithLabelValues("kafka").Inc()
		uc.logger.Warn("failed to publish confirmation event",
			zap.String("confirmation_number", c.Number),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
