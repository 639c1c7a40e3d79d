package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/internal/repository/memory"
	"ledger-service/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	alice = domain.Owner{ID: "owner-alice", Name: "Alice Adams"}
	bob   = domain.Owner{ID: "owner-bob", Name: "Bob Brown"}
)

var startTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	clock    *testClock
	store    repository.Store
	gen      *utils.ReferenceGenerator
	accounts *AccountUsecase
	movement *MovementUsecase
	ledger   *LedgerUsecase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{t: startTime}
	return newFixtureWithStore(t, clock, memory.NewStore(memory.WithClock(clock.Now)))
}

func newFixtureWithStore(t *testing.T, clock *testClock, store repository.Store) *fixture {
	t.Helper()
	gen := utils.NewReferenceGenerator(utils.WithClock(clock.Now))
	logger := zap.NewNop()
	return &fixture{
		clock:    clock,
		store:    store,
		gen:      gen,
		accounts: NewAccountUsecase(store, gen, domain.AccountPolicy{}, logger),
		movement: NewMovementUsecase(store, gen, DefaultCancelWindow, logger),
		ledger:   NewLedgerUsecase(store),
	}
}

// seed creates an active account with the given opening balance.
func (f *fixture) seed(t *testing.T, owner domain.Owner, number string, typ domain.AccountType, balance string, overdraft bool) *domain.Account {
	t.Helper()
	a := &domain.Account{
		ID:                  uuid.NewString(),
		OwnerID:             owner.ID,
		HolderName:          owner.Name,
		Type:                typ,
		AccountNumber:       number,
		RoutingNumber:       domain.RoutingNumber,
		Balance:             decimal.RequireFromString(balance),
		OverdraftProtection: overdraft,
		Status:              domain.AccountStatusActive,
		OpenedAt:            f.clock.Now(),
		UpdatedAt:           f.clock.Now(),
	}
	require.NoError(t, f.store.Repos().Accounts.Create(context.Background(), a))
	return a
}

func (f *fixture) balance(t *testing.T, a *domain.Account) decimal.Decimal {
	t.Helper()
	got, err := f.store.Repos().Accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	return got.Balance
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// failingAppendStore lets balance writes through but fails ledger appends
// inside a unit of work: every append, or only those failOn matches.
type failingAppendStore struct {
	*memory.Store
	failOn func(*domain.Transaction) bool
}

type failingTransactions struct {
	repository.TransactionRepository
	failOn func(*domain.Transaction) bool
}

var errLedgerDown = errors.New("ledger write failed")

func (r failingTransactions) Append(ctx context.Context, tx *domain.Transaction) error {
	if r.failOn == nil || r.failOn(tx) {
		return errLedgerDown
	}
	return r.TransactionRepository.Append(ctx, tx)
}

func (s failingAppendStore) WithTx(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		r.Transactions = failingTransactions{TransactionRepository: r.Transactions, failOn: s.failOn}
		return fn(ctx, r)
	})
}

func isReversal(tx *domain.Transaction) bool {
	return tx.Category == domain.CategoryReversal
}
