package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/xerrors"

	"go.uber.org/zap"
)

// BankingUsecase is the entry point transports call: it runs an operation
// through the engine, issues its confirmation and fans out events.
type BankingUsecase struct {
	movement      *MovementUsecase
	confirmations *ConfirmationUsecase
	cache         *cache.CacheService
	publisher     EventPublisher
	cacheTTL      time.Duration
	logger        *zap.Logger
}

func NewBankingUsecase(
	movement *MovementUsecase,
	confirmations *ConfirmationUsecase,
	cacheService *cache.CacheService,
	publisher EventPublisher,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *BankingUsecase {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &BankingUsecase{
		movement:      movement,
		confirmations: confirmations,
		cache:         cacheService,
		publisher:     publisher,
		cacheTTL:      cacheTTL,
		logger:        logger,
	}
}

// Submit executes op for owner. The money movement is committed before the
// confirmation is issued; a confirmation failure is logged and the receipt is
// returned without one.
func (uc *BankingUsecase) Submit(ctx context.Context, owner domain.Owner, op domain.Operation) (*domain.Receipt, error) {
	if op == nil {
		return nil, xerrors.Validation("operation is required")
	}
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	receipt, err := uc.cachedReceipt(ctx, owner, op)
	if err != nil {
		return nil, err
	}
	if receipt != nil {
		return receipt, nil
	}

	result, err := uc.movement.Execute(ctx, owner, op)
	if err != nil {
		return nil, err
	}

	receipt = &domain.Receipt{Result: result}
	if result.Replayed {
		receipt.Confirmation = uc.existingConfirmation(ctx, result)
	} else {
		conf, err := uc.confirmations.Create(ctx, result)
		if err != nil {
			uc.logger.Error("confirmation not issued",
				zap.String("reference", result.Reference),
				zap.Error(err),
			)
		}
		receipt.Confirmation = conf
		uc.publishTransactions(ctx, op, result)
	}

	uc.cacheReceipt(ctx, owner, op, receipt)
	return receipt, nil
}

// receiptEntry is what the idempotency cache stores: the receipt and the
// fingerprint of the request that produced it.
type receiptEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Receipt     *domain.Receipt `json:"receipt"`
}

// cachedReceipt returns the receipt cached for op's key, nil on a miss, or a
// Conflict when the key was first used with a different request.
func (uc *BankingUsecase) cachedReceipt(ctx context.Context, owner domain.Owner, op domain.Operation) (*domain.Receipt, error) {
	if op.Key() == "" {
		return nil, nil
	}
	data, err := uc.cache.GetReceipt(ctx, owner.ID, op.Key())
	if err != nil {
		uc.logger.Warn("receipt cache read failed", zap.Error(err))
		return nil, nil
	}
	if data == nil {
		return nil, nil
	}
	var entry receiptEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Receipt == nil || entry.Receipt.Result == nil {
		return nil, nil
	}
	if entry.Receipt.Result.Type != op.Type() {
		return nil, xerrors.Conflict("idempotency key %q was used for a different operation", op.Key())
	}
	if entry.Fingerprint != op.Fingerprint() {
		return nil, xerrors.Conflict("idempotency key %q was used with different parameters", op.Key())
	}
	entry.Receipt.Result.Replayed = true
	return entry.Receipt, nil
}

func (uc *BankingUsecase) cacheReceipt(ctx context.Context, owner domain.Owner, op domain.Operation, receipt *domain.Receipt) {
	if op.Key() == "" {
		return
	}
	data, err := json.Marshal(receiptEntry{Fingerprint: op.Fingerprint(), Receipt: receipt})
	if err != nil {
		return
	}
	if err := uc.cache.SetReceipt(ctx, owner.ID, op.Key(), data, uc.cacheTTL); err != nil {
		uc.logger.Warn("receipt cache write failed", zap.Error(err))
	}
}

// existingConfirmation finds the confirmation of a replayed operation, or
// issues one if the original submission never got that far.
func (uc *BankingUsecase) existingConfirmation(ctx context.Context, result *domain.OperationResult) *domain.Confirmation {
	primary := result.Primary()
	if primary == nil {
		return nil
	}
	conf, err := uc.confirmations.ForTransaction(ctx, primary.ID)
	if err == nil {
		return conf
	}
	if !errors.Is(err, xerrors.ErrConfirmationNotFound) {
		uc.logger.Warn("confirmation lookup failed", zap.String("reference", result.Reference), zap.Error(err))
		return nil
	}

	original := *result
	original.Replayed = false
	conf, err = uc.confirmations.Create(ctx, &original)
	if err != nil {
		uc.logger.Error("confirmation not issued on replay",
			zap.String("reference", result.Reference),
			zap.Error(err),
		)
		return nil
	}
	return conf
}

func (uc *BankingUsecase) publishTransactions(ctx context.Context, op domain.Operation, result *domain.OperationResult) {
	eventType := domain.EventTransactionCompleted
	if op.Type() == domain.OperationCancel {
		eventType = domain.EventTransactionCancelled
	}

	pctx, cancel := publishContext(ctx)
	defer cancel()

	events := domain.TransactionEvents(result, eventType, result.Primary().CreatedAt)
	if err := uc.publisher.PublishTransactionEvents(pctx, events); err != nil {
		eventPublishErrors.WithLabelValues("redis").Inc()
		uc.logger.Warn("failed to publish transaction events",
			zap.String("reference", result.Reference),
			zap.Error(err),
		)
	}
}
