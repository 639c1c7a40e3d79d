package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/utils"
	"ledger-service/pkg/xerrors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu            sync.Mutex
	transactions  []*domain.TransactionEvent
	confirmations []*domain.ConfirmationEvent
	err           error
}

func (p *recordingPublisher) PublishTransactionEvents(_ context.Context, events []*domain.TransactionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.transactions = append(p.transactions, events...)
	return nil
}

func (p *recordingPublisher) PublishConfirmationEvent(_ context.Context, event *domain.ConfirmationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.confirmations = append(p.confirmations, event)
	return nil
}

type bankingFixture struct {
	*fixture
	mr            *miniredis.Miniredis
	publisher     *recordingPublisher
	confirmations *ConfirmationUsecase
	banking       *BankingUsecase
}

func newBankingFixture(t *testing.T, withCache bool) *bankingFixture {
	t.Helper()
	f := newFixture(t)
	logger := zap.NewNop()

	var (
		cacheService *cache.CacheService
		mr           *miniredis.Miniredis
	)
	if withCache {
		mr = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		cacheService = cache.NewCacheServiceFromClient(client, logger)
	}

	publisher := &recordingPublisher{}
	confirmations := NewConfirmationUsecase(f.store, f.gen, cacheService, publisher, time.Minute, logger)
	return &bankingFixture{
		fixture:       f,
		mr:            mr,
		publisher:     publisher,
		confirmations: confirmations,
		banking:       NewBankingUsecase(f.movement, confirmations, cacheService, publisher, time.Minute, logger),
	}
}

func TestSubmitIssuesConfirmation(t *testing.T) {
	f := newBankingFixture(t, true)
	ctx := context.Background()
	checking := f.seed(t, alice, "1000000001", domain.AccountTypeChecking, "100", false)

	receipt, err := f.banking.Submit(ctx, alice, &domain.Deposit{AccountNumber: checking.AccountNumber, Amount: amount("25"), Method: "cash"})
	require.NoError(t, err)
	require.NotNil(t, receipt.Confirmation)

	conf := receipt.Confirmation
	assert.True(t, utils.ValidateConfirmationNumber(conf.Number), conf.Number)
	assert.Equal(t, domain.ConfirmationCompleted, conf.Status)
	assert.Equal(t, domain.OperationDeposit, conf.OperationType)
	assert.Equal(t, receipt.Result.Reference, conf.Reference)
	require.NotNil(t, conf.TransactionID)
	assert.Equal(t, receipt.Result.Primary().ID, *conf.TransactionID)
	assert.Equal(t, "25.00", conf.Details["amount"])
	assert.Equal(t, "125.00", conf.Details["new_balance"])
	assert.Equal(t, "cash", conf.Details["method"])
	assert.True(t, f.mr.Exists(cache.ConfirmationKey(conf.Number)))

	require.Len(t, f.publisher.transactions, 1)
	assert.Equal(t, domain.EventTransactionCompleted, f.publisher.transactions[0].EventType)
	require.Len(t, f.publisher.confirmations, 1)
	assert.Equal(t, domain.EventConfirmationCreated, f.publisher.confirmations[0].EventType)
}

func TestSubmitReplayFromCache(t *testing.T) {
	f := newBankingFixture(t, true)
	ctx := context.Background()
	checking := f.seed(t, alice, "1000000001", domain.AccountTypeChecking, "0", false)
	op := &domain.Deposit{AccountNumber: checking.AccountNumber, Amount: amount("10"), IdempotencyKey: "retry-1"}

	first, err := f.banking.Submit(ctx, alice, op)
	require.NoError(t, err)
	assert.True(t, f.mr.Exists(cache.IdempotencyKey(alice.ID, "retry-1")))

	second, err := f.banking.Submit(ctx, alice, op)
	require.NoError(t, err)
	assert.True(t, second.Result.Replayed)
	assert.Equal(t, first.Result.Reference, second.Result.Reference)
	assert.Equal(t, first.Confirmation.Number, second.Confirmation.Number)

	assert.True(t, amount("10").Equal(f.balance(t, checking)))
	assert.Len(t, f.publisher.transactions, 1)
	assert.Len(t, f.publisher.confirmations, 1)

	// a different operation or different parameters under the same key are rejected
	_, err = f.banking.Submit(ctx, alice, &domain.Withdrawal{AccountNumber: checking.AccountNumber, Amount: amount("1"), IdempotencyKey: "retry-1"})
	assert.Equal(t, xerrors.KindConflict, xerrors.KindOf(err))
	_, err = f.banking.Submit(ctx, alice, &domain.Deposit{AccountNumber: checking.AccountNumber, Amount: amount("1000"), IdempotencyKey: "retry-1"})
	assert.Equal(t, xerrors.KindConflict, xerrors.KindOf(err))
	assert.True(t, amount("10").Equal(f.balance(t, checking)))
}

func TestSubmitReplayWithoutCache(t *testing.T) {
	f := newBankingFixture(t, false)
	ctx := context.Background()
	checking := f.seed(t, alice, "1000000001", domain.AccountTypeChecking, "0", false)
	op := &domain.Deposit{AccountNumber: checking.AccountNumber, Amount: amount("10"), IdempotencyKey: "retry-1"}

	first, err := f.banking.Submit(ctx, alice, op)
	require.NoError(t, err)
	second, err := f.banking.Submit(ctx, alice, op)
	require.NoError(t, err)

	assert.True(t, second.Result.Replayed)
	require.NotNil(t, second.Confirmation)
	assert.Equal(t, first.Confirmation.Number, second.Confirmation.Number)
	assert.True(t, amount("10").Equal(f.balance(t, checking)))
}

func TestSubmitCancelPublishesCancelled(t *testing.T) {
	f := newBankingFixture(t, false)
	ctx := context.Background()
	checking := f.seed(t, alice, "1000000001", domain.AccountTypeChecking, "100", false)

	wd, err := f.banking.Submit(ctx, alice, &domain.Withdrawal{AccountNumber: checking.AccountNumber, Amount: amount("50")})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	receipt, err := f.banking.Submit(ctx, alice, &domain.Cancel{TransactionID: wd.Result.Primary().ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OperationCancel, receipt.Confirmation.OperationType)

	require.Len(t, f.publisher.transactions, 2)
	assert.Equal(t, domain.EventTransactionCancelled, f.publisher.transactions[1].EventType)
	assert.Equal(t, domain.CategoryReversal, f.publisher.transactions[1].Category)
}

func TestSubmitFailureLeavesNoTrace(t *testing.T) {
	f := newBankingFixture(t, true)
	ctx := context.Background()
	checking := f.seed(t, alice, "1000000001", domain.AccountTypeChecking, "10", false)

	_, err := f.banking.Submit(ctx, alice, &domain.Withdrawal{AccountNumber: checking.AccountNumber, Amount: amount("50")})
	assert.True(t, errors.Is(err, xerrors.ErrInsufficientFunds))

	list, err := f.confirmations.List(ctx, alice, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.publisher.transactions)
}

func TestSubmitSurvivesPublishFailure(t *testing.T) {
	f := newBankingFixture(t, false)
	f.publisher.err = errors.New("broker down")
	ctx := context.Background()
	checking := f.seed(t, alice, "1000000001", domain.AccountTypeChecking, "0", false)

	receipt, err := f.banking.Submit(ctx, alice, &domain.Deposit{AccountNumber: checking.AccountNumber, Amount: amount("5")})
	require.NoError(t, err)
	assert.NotNil(t, receipt.Confirmation)
	assert.True(t, amount("5").Equal(f.balance(t, checking)))
}

// ===============================
// Confirmations
// ===============================

func TestConfirmationGetIsOwnerScoped(t *testing.T) {
	for _, withCache := range []bool{true, false} {
		f := newBankingFixture(t, withCache)
		ctx := context.Background()
		checking := f.seed(t, alice, "1000000001", domain.AccountTypeChecking, "0", false)

		receipt, err := f.banking.Submit(ctx, alice, &domain.Deposit{AccountNumber: checking.AccountNumber, Amount: amount("5")})
		require.NoError(t, err)
		number := receipt.Confirmation.Number

		got, err := f.confirmations.Get(ctx, alice, number)
		require.NoError(t, err)
		assert.Equal(t, receipt.Confirmation.ID, got.ID)

		_, err = f.confirmations.Get(ctx, bob, number)
		assert.True(t, errors.Is(err, xerrors.ErrConfirmationNotFound), "cache=%v", withCache)
	}
}

func TestConfirmationReceiptFlags(t *testing.T) {
	f := newBankingFixture(t, true)
	ctx := context.Background()
	checking := f.seed(t, alice, "1000000001", domain.AccountTypeChecking, "0", false)

	receipt, err := f.banking.Submit(ctx, alice, &domain.Deposit{AccountNumber: checking.AccountNumber, Amount: amount("5")})
	require.NoError(t, err)
	number := receipt.Confirmation.Number

	first, err := f.confirmations.MarkDownloaded(ctx, alice, number)
	require.NoError(t, err)
	assert.True(t, first.ReceiptDownloaded)
	require.NotNil(t, first.DownloadedAt)

	f.clock.Advance(time.Minute)
	again, err := f.confirmations.MarkDownloaded(ctx, alice, number)
	require.NoError(t, err)
	assert.True(t, first.DownloadedAt.Equal(*again.DownloadedAt))

	printed, err := f.confirmations.MarkPrinted(ctx, alice, number)
	require.NoError(t, err)
	assert.True(t, printed.ReceiptPrinted)
	assert.True(t, printed.ReceiptDownloaded)

	cached, err := f.confirmations.Get(ctx, alice, number)
	require.NoError(t, err)
	assert.True(t, cached.ReceiptPrinted)

	_, err = f.confirmations.MarkPrinted(ctx, bob, number)
	assert.True(t, errors.Is(err, xerrors.ErrConfirmationNotFound))

	assert.Len(t, f.publisher.confirmations, 4)
	assert.Equal(t, domain.EventConfirmationUpdated, f.publisher.confirmations[3].EventType)
}

func TestConfirmationCreateNeedsTransaction(t *testing.T) {
	f := newBankingFixture(t, false)
	_, err := f.confirmations.Create(context.Background(), &domain.OperationResult{Type: domain.OperationDeposit, OwnerID: alice.ID})
	assert.Equal(t, xerrors.KindValidation, xerrors.KindOf(err))
}

func TestConfirmationIssuedOncePerTransaction(t *testing.T) {
	f := newBankingFixture(t, false)
	ctx := context.Background()
	checking := f.seed(t, alice, "1000000001", domain.AccountTypeChecking, "0", false)

	// committed without a confirmation, as when the first submission died
	result, err := f.movement.Execute(ctx, alice, &domain.Deposit{AccountNumber: checking.AccountNumber, Amount: amount("10"), IdempotencyKey: "retry-1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	numbers := make([]string, 8)
	for i := range numbers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipt, err := f.banking.Submit(ctx, alice, &domain.Deposit{AccountNumber: checking.AccountNumber, Amount: amount("10"), IdempotencyKey: "retry-1"})
			if assert.NoError(t, err) && assert.NotNil(t, receipt.Confirmation) {
				numbers[i] = receipt.Confirmation.Number
			}
		}(i)
	}
	wg.Wait()

	for _, n := range numbers[1:] {
		assert.Equal(t, numbers[0], n)
	}
	list, err := f.confirmations.List(ctx, alice, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, result.Primary().ID, *list[0].TransactionID)
}
