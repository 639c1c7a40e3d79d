package repository

import (
	"context"
	"time"

	"ledger-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so the same repository
// code runs inside or outside a unit of work.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type AccountRepository interface {
	Create(ctx context.Context, a *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// GetByNumber restricts the lookup to ownerID unless it is empty.
	GetByNumber(ctx context.Context, number, ownerID string) (*domain.Account, error)
	ListByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]*domain.Account, error)
	ExistsByOwnerAndType(ctx context.Context, ownerID string, t domain.AccountType) (bool, error)

	// AdjustBalance atomically adds delta and returns the new balance. With
	// guard set the write is refused with ErrBalanceInsufficient unless the
	// account has overdraft protection or the result stays >= 0.
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal, guard bool) (decimal.Decimal, error)
	// SetStatus moves from -> to conditionally. Closing also requires a zero balance.
	SetStatus(ctx context.Context, id string, from, to domain.AccountStatus) (*domain.Account, error)
	SetOverdraftProtection(ctx context.Context, id string, enabled bool) (*domain.Account, error)
}

type TransactionRepository interface {
	// Append is only called inside a unit of work.
	Append(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetByReference(ctx context.Context, reference string) ([]*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Transaction, error)
	ListByOwner(ctx context.Context, ownerID string, f domain.TransactionFilter) ([]*domain.Transaction, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Transaction, error)
	// MarkCancelled flips completed -> cancelled and fails with
	// ErrNotCancellable for any other current status.
	MarkCancelled(ctx context.Context, id string, at time.Time) error
}

type ConfirmationRepository interface {
	Create(ctx context.Context, c *domain.Confirmation) error
	// GetByNumber restricts the lookup to ownerID unless it is empty.
	GetByNumber(ctx context.Context, number, ownerID string) (*domain.Confirmation, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Confirmation, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Confirmation, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.ConfirmationStatus, at time.Time) (*domain.Confirmation, error)
	// MarkDownloaded and MarkPrinted keep the first timestamp on repeat calls.
	MarkDownloaded(ctx context.Context, number, ownerID string, at time.Time) (*domain.Confirmation, error)
	MarkPrinted(ctx context.Context, number, ownerID string, at time.Time) (*domain.Confirmation, error)
}

type Repositories struct {
	Accounts      AccountRepository
	Transactions  TransactionRepository
	Confirmations ConfirmationRepository
}

// Store hands out repositories bound either to the store directly or to a
// single unit of work.
type Store interface {
	Repos() Repositories
	// WithTx runs fn in one atomic unit of work. Nothing fn wrote is visible
	// unless fn returns nil and the commit succeeds.
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
}
