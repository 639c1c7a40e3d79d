package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/pkg/xerrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore() *Store {
	return NewStore(WithClock(func() time.Time { return now }))
}

func seedAccount(t *testing.T, s *Store, owner, number string, balance int64, overdraft bool) *domain.Account {
	t.Helper()
	a := &domain.Account{
		ID:                  uuid.NewString(),
		OwnerID:             owner,
		HolderName:          "Test Holder",
		Type:                domain.AccountTypeChecking,
		AccountNumber:       number,
		RoutingNumber:       domain.RoutingNumber,
		Balance:             decimal.NewFromInt(balance),
		OverdraftProtection: overdraft,
		Status:              domain.AccountStatusActive,
		OpenedAt:            now,
		UpdatedAt:           now,
	}
	require.NoError(t, s.Repos().Accounts.Create(context.Background(), a))
	return a
}

func ledgerRecord(a *domain.Account, ref string, dir domain.Direction) *domain.Transaction {
	return &domain.Transaction{
		ID:            uuid.NewString(),
		OwnerID:       a.OwnerID,
		AccountID:     a.ID,
		AccountNumber: a.AccountNumber,
		Direction:     dir,
		Amount:        decimal.NewFromInt(10),
		Category:      domain.CategoryDeposit,
		Status:        domain.TransactionCompleted,
		Reference:     ref,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestAccountLookupIsOwnerScoped(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := seedAccount(t, s, "owner-1", "1000000001", 0, false)

	got, err := s.Repos().Accounts.GetByNumber(ctx, a.AccountNumber, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = s.Repos().Accounts.GetByNumber(ctx, a.AccountNumber, "owner-2")
	assert.ErrorIs(t, err, xerrors.ErrAccountNotFound)

	got, err = s.Repos().Accounts.GetByNumber(ctx, a.AccountNumber, "")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)

	err = s.Repos().Accounts.Create(ctx, &domain.Account{ID: uuid.NewString(), AccountNumber: a.AccountNumber})
	assert.ErrorIs(t, err, xerrors.ErrDuplicateAccountNumber)
}

func TestReturnedAccountsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := seedAccount(t, s, "owner-1", "1000000001", 100, false)

	got, err := s.Repos().Accounts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	got.Balance = decimal.NewFromInt(999)

	again, err := s.Repos().Accounts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", again.Balance.String())
}

func TestAdjustBalanceGuard(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	plain := seedAccount(t, s, "owner-1", "1000000001", 100, false)
	protected := seedAccount(t, s, "owner-1", "1000000002", 100, true)
	accounts := s.Repos().Accounts

	_, err := accounts.AdjustBalance(ctx, plain.ID, decimal.NewFromInt(-200), true)
	assert.ErrorIs(t, err, xerrors.ErrBalanceInsufficient)
	assert.ErrorIs(t, err, xerrors.ErrInsufficientFunds)

	bal, err := accounts.AdjustBalance(ctx, plain.ID, decimal.NewFromInt(-100), true)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	bal, err = accounts.AdjustBalance(ctx, protected.ID, decimal.NewFromInt(-500), true)
	require.NoError(t, err)
	assert.Equal(t, "-400", bal.String())

	// unguarded writes ignore the overdraft rule
	bal, err = accounts.AdjustBalance(ctx, plain.ID, decimal.NewFromInt(-5), false)
	require.NoError(t, err)
	assert.Equal(t, "-5", bal.String())

	got, err := accounts.GetByID(ctx, plain.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	_, err = accounts.AdjustBalance(ctx, "missing", decimal.NewFromInt(1), true)
	assert.ErrorIs(t, err, xerrors.ErrAccountNotFound)
}

func TestConcurrentAdjustmentsDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := seedAccount(t, s, "owner-1", "1000000001", 0, false)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
				_, err := r.Accounts.AdjustBalance(ctx, a.ID, decimal.NewFromInt(2), true)
				return err
			})
		}()
	}
	wg.Wait()

	got, err := s.Repos().Accounts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Balance.String())
	assert.Equal(t, int64(50), got.Version)
}

func TestWithTxDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := seedAccount(t, s, "owner-1", "1000000001", 100, false)
	boom := errors.New("ledger write failed")

	err := s.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		if _, err := r.Accounts.AdjustBalance(ctx, a.ID, decimal.NewFromInt(50), true); err != nil {
			return err
		}
		if err := r.Transactions.Append(ctx, ledgerRecord(a, "DEP-1-AAAAAAAA", domain.DirectionCredit)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Repos().Accounts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Balance.String())

	_, err = s.Repos().Transactions.GetByReference(ctx, "DEP-1-AAAAAAAA")
	assert.ErrorIs(t, err, xerrors.ErrTransactionNotFound)
}

func TestWithTxCommits(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := seedAccount(t, s, "owner-1", "1000000001", 100, false)

	err := s.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		bal, err := r.Accounts.AdjustBalance(ctx, a.ID, decimal.NewFromInt(50), true)
		if err != nil {
			return err
		}
		rec := ledgerRecord(a, "DEP-1-BBBBBBBB", domain.DirectionCredit)
		rec.BalanceAfter = bal
		return r.Transactions.Append(ctx, rec)
	})
	require.NoError(t, err)

	txs, err := s.Repos().Transactions.GetByReference(ctx, "DEP-1-BBBBBBBB")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "150", txs[0].BalanceAfter.String())
}

func TestReferenceUniquePerDirection(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := seedAccount(t, s, "owner-1", "1000000001", 0, false)
	b := seedAccount(t, s, "owner-1", "1000000002", 0, false)
	txs := s.Repos().Transactions

	require.NoError(t, txs.Append(ctx, ledgerRecord(a, "TRF-1-ABCDEF", domain.DirectionDebit)))
	require.NoError(t, txs.Append(ctx, ledgerRecord(b, "TRF-1-ABCDEF", domain.DirectionCredit)))

	err := txs.Append(ctx, ledgerRecord(b, "TRF-1-ABCDEF", domain.DirectionCredit))
	assert.ErrorIs(t, err, xerrors.ErrDuplicateReference)
	assert.ErrorIs(t, err, xerrors.ErrConflict)

	pair, err := txs.GetByReference(ctx, "TRF-1-ABCDEF")
	require.NoError(t, err)
	require.Len(t, pair, 2)
	assert.Equal(t, domain.DirectionDebit, pair[0].Direction)
	assert.Equal(t, domain.DirectionCredit, pair[1].Direction)
}

func TestIdempotencyKeyUniquePerOwner(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := seedAccount(t, s, "owner-1", "1000000001", 0, false)
	b := seedAccount(t, s, "owner-2", "1000000002", 0, false)
	txs := s.Repos().Transactions
	key := "retry-1"

	first := ledgerRecord(a, "DEP-1-AAAAAAAA", domain.DirectionCredit)
	first.IdempotencyKey = &key
	require.NoError(t, txs.Append(ctx, first))

	dup := ledgerRecord(a, "DEP-1-CCCCCCCC", domain.DirectionCredit)
	dup.IdempotencyKey = &key
	assert.ErrorIs(t, txs.Append(ctx, dup), xerrors.ErrDuplicateIdempotencyKey)

	other := ledgerRecord(b, "DEP-1-DDDDDDDD", domain.DirectionCredit)
	other.IdempotencyKey = &key
	require.NoError(t, txs.Append(ctx, other))

	got, err := txs.GetByIdempotencyKey(ctx, "owner-1", key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestMarkCancelledOnlyFromCompleted(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := seedAccount(t, s, "owner-1", "1000000001", 0, false)
	txs := s.Repos().Transactions
	rec := ledgerRecord(a, "WD-1-AAAAAAAA", domain.DirectionDebit)
	require.NoError(t, txs.Append(ctx, rec))

	require.NoError(t, txs.MarkCancelled(ctx, rec.ID, now))
	assert.ErrorIs(t, txs.MarkCancelled(ctx, rec.ID, now), xerrors.ErrNotCancellable)
	assert.ErrorIs(t, txs.MarkCancelled(ctx, "missing", now), xerrors.ErrTransactionNotFound)

	got, err := txs.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCancelled, got.Status)
}

func TestListByOwnerFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := seedAccount(t, s, "owner-1", "1000000001", 0, false)
	txs := s.Repos().Transactions

	for i, ref := range []string{"A", "B", "C", "D"} {
		rec := ledgerRecord(a, ref, domain.DirectionCredit)
		rec.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		if i%2 == 1 {
			rec.Direction = domain.DirectionDebit
			rec.Category = domain.CategoryWithdrawal
		}
		require.NoError(t, txs.Append(ctx, rec))
	}

	all, err := txs.ListByOwner(ctx, "owner-1", domain.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "D", all[0].Reference)

	debit := domain.DirectionDebit
	debits, err := txs.ListByOwner(ctx, "owner-1", domain.TransactionFilter{Direction: &debit})
	require.NoError(t, err)
	assert.Len(t, debits, 2)

	from := now.Add(90 * time.Second)
	recent, err := txs.ListByOwner(ctx, "owner-1", domain.TransactionFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	page, err := txs.ListByOwner(ctx, "owner-1", domain.TransactionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "C", page[0].Reference)

	none, err := txs.ListByOwner(ctx, "owner-2", domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSetStatusTransitions(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := seedAccount(t, s, "owner-1", "1000000001", 10, false)
	accounts := s.Repos().Accounts

	_, err := accounts.SetStatus(ctx, a.ID, domain.AccountStatusActive, domain.AccountStatusClosed)
	assert.ErrorIs(t, err, xerrors.ErrNonZeroBalance)

	_, err = accounts.SetStatus(ctx, a.ID, domain.AccountStatusInactive, domain.AccountStatusActive)
	assert.ErrorIs(t, err, xerrors.ErrInvalidStatusTransition)

	got, err := accounts.SetStatus(ctx, a.ID, domain.AccountStatusActive, domain.AccountStatusInactive)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusInactive, got.Status)

	active, err := accounts.ListByOwner(ctx, "owner-1", true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestConfirmationFlagsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	confirmations := s.Repos().Confirmations

	c := &domain.Confirmation{
		ID:            uuid.NewString(),
		OwnerID:       "owner-1",
		Number:        "TXN-LT8LR400-ABC123",
		OperationType: domain.OperationDeposit,
		Status:        domain.ConfirmationPending,
		Details:       map[string]any{"account_number": "1000000001"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, confirmations.Create(ctx, c))
	assert.ErrorIs(t, confirmations.Create(ctx, c), xerrors.ErrDuplicateConfirmation)

	_, err := confirmations.GetByNumber(ctx, c.Number, "owner-2")
	assert.ErrorIs(t, err, xerrors.ErrConfirmationNotFound)

	first, err := confirmations.MarkDownloaded(ctx, c.Number, "owner-1", now)
	require.NoError(t, err)
	second, err := confirmations.MarkDownloaded(ctx, c.Number, "owner-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, second.ReceiptDownloaded)
	assert.Equal(t, *first.DownloadedAt, *second.DownloadedAt)
	assert.False(t, second.ReceiptPrinted)

	printed, err := confirmations.MarkPrinted(ctx, c.Number, "owner-1", now)
	require.NoError(t, err)
	assert.True(t, printed.ReceiptPrinted)

	done, err := confirmations.UpdateStatus(ctx, c.ID, domain.ConfirmationPending, domain.ConfirmationCompleted, now)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationCompleted, done.Status)

	_, err = confirmations.UpdateStatus(ctx, c.ID, domain.ConfirmationCompleted, domain.ConfirmationPending, now)
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestConfirmationUniquePerTransaction(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	confirmations := s.Repos().Confirmations
	txID := "01HQ0000000000000000000000"

	newConfirmation := func(number string) *domain.Confirmation {
		id := txID
		return &domain.Confirmation{
			ID:            uuid.NewString(),
			OwnerID:       "owner-1",
			Number:        number,
			OperationType: domain.OperationDeposit,
			Status:        domain.ConfirmationPending,
			TransactionID: &id,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	first := newConfirmation("TXN-LT8LR400-AAAAAA")
	require.NoError(t, confirmations.Create(ctx, first))
	assert.ErrorIs(t, confirmations.Create(ctx, newConfirmation("TXN-LT8LR400-BBBBBB")), xerrors.ErrConfirmationExists)

	got, err := confirmations.GetByTransactionID(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, first.Number, got.Number)

	_, err = confirmations.GetByNumber(ctx, "TXN-LT8LR400-BBBBBB", "")
	assert.ErrorIs(t, err, xerrors.ErrConfirmationNotFound)
}
