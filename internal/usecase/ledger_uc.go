package usecase

import (
	"context"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/pkg/xerrors"
)

// HistoryQuery is the caller facing ledger filter. Empty fields are ignored.
type HistoryQuery struct {
	AccountNumber string
	Category      string
	Status        string
	Direction     string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// LedgerUsecase serves owner scoped reads of the ledger.
type LedgerUsecase struct {
	store repository.Store
}

func NewLedgerUsecase(store repository.Store) *LedgerUsecase {
	return &LedgerUsecase{store: store}
}

func (q HistoryQuery) filter() (domain.TransactionFilter, error) {
	f := domain.TransactionFilter{From: q.From, To: q.To, Limit: q.Limit, Offset: q.Offset}
	if q.Category != "" {
		c, err := domain.ParseCategory(q.Category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	if q.Status != "" {
		s, err := domain.ParseTransactionStatus(q.Status)
		if err != nil {
			return f, err
		}
		f.Status = &s
	}
	if q.Direction != "" {
		d, err := domain.ParseDirection(q.Direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return f, xerrors.Validation("from must be before to")
	}
	return f, nil
}

func (uc *LedgerUsecase) History(ctx context.Context, owner domain.Owner, q HistoryQuery) ([]*domain.Transaction, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	f, err := q.filter()
	if err != nil {
		return nil, err
	}

	repos := uc.store.Repos()
	if q.AccountNumber != "" {
		a, err := repos.Accounts.GetByNumber(ctx, q.AccountNumber, owner.ID)
		if err != nil {
			return nil, xerrors.Internal("ledger.history", err)
		}
		f.AccountID = &a.ID
	}

	txs, err := repos.Transactions.ListByOwner(ctx, owner.ID, f)
	if err != nil {
		return nil, xerrors.Internal("ledger.history", err)
	}
	return txs, nil
}

// GetByReference returns the caller's records under reference. For a
// transfer between owners each side only sees its own leg.
func (uc *LedgerUsecase) GetByReference(ctx context.Context, owner domain.Owner, reference string) ([]*domain.Transaction, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	txs, err := uc.store.Repos().Transactions.GetByReference(ctx, reference)
	if err != nil {
		return nil, xerrors.Internal("ledger.reference", err)
	}

	var own []*domain.Transaction
	for _, tx := range txs {
		if tx.OwnerID == owner.ID {
			own = append(own, tx)
		}
	}
	if len(own) == 0 {
		return nil, xerrors.ErrTransactionNotFound
	}
	return own, nil
}

func (uc *LedgerUsecase) GetTransaction(ctx context.Context, owner domain.Owner, id string) (*domain.Transaction, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	tx, err := uc.store.Repos().Transactions.GetByID(ctx, id)
	if err != nil {
		return nil, xerrors.Internal("ledger.get", err)
	}
	if tx.OwnerID != owner.ID {
		return nil, xerrors.ErrTransactionNotFound
	}
	return tx, nil
}

// AccountHistory lists the records of one owned account, newest first.
func (uc *LedgerUsecase) AccountHistory(ctx context.Context, owner domain.Owner, number string, limit, offset int) ([]*domain.Transaction, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	repos := uc.store.Repos()
	a, err := repos.Accounts.GetByNumber(ctx, number, owner.ID)
	if err != nil {
		return nil, xerrors.Internal("ledger.account_history", err)
	}
	txs, err := repos.Transactions.ListByAccount(ctx, a.ID, limit, offset)
	if err != nil {
		return nil, xerrors.Internal("ledger.account_history", err)
	}
	return txs, nil
}
