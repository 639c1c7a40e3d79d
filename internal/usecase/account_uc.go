package usecase

import (
	"context"
	"errors"
	"fmt"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/fees"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"
	"ledger-service/pkg/xerrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxAccountNumberAttempts = 5

// OnboardingAccountTypes are opened for every new owner.
var OnboardingAccountTypes = []domain.AccountType{
	domain.AccountTypeChecking,
	domain.AccountTypeSavings,
}

type AccountUsecase struct {
	store  repository.Store
	gen    *utils.ReferenceGenerator
	policy domain.AccountPolicy
	logger *zap.Logger
}

func NewAccountUsecase(store repository.Store, gen *utils.ReferenceGenerator, policy domain.AccountPolicy, logger *zap.Logger) *AccountUsecase {
	return &AccountUsecase{
		store:  store,
		gen:    gen,
		policy: policy,
		logger: logger,
	}
}

// newAccount builds a zero balance account with the type defaults.
func (uc *AccountUsecase) newAccount(owner domain.Owner, t domain.AccountType) (*domain.Account, error) {
	rate, err := fees.DefaultInterestRate(t)
	if err != nil {
		return nil, err
	}
	overdraft, err := fees.DefaultOverdraft(t)
	if err != nil {
		return nil, err
	}
	number, err := uc.gen.AccountNumber()
	if err != nil {
		return nil, xerrors.Internal("accounts.number", err)
	}

	now := uc.gen.Now()
	return &domain.Account{
		ID:                  uuid.NewString(),
		OwnerID:             owner.ID,
		HolderName:          owner.Name,
		Type:                t,
		AccountNumber:       number,
		RoutingNumber:       domain.RoutingNumber,
		Balance:             decimal.Zero,
		InterestRate:        rate,
		OverdraftProtection: overdraft,
		Status:              domain.AccountStatusActive,
		OpenedAt:            now,
		UpdatedAt:           now,
	}, nil
}

// Onboard opens the seeded checking and savings accounts for a new owner in
// one unit of work.
func (uc *AccountUsecase) Onboard(ctx context.Context, owner domain.Owner) ([]*domain.Account, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var opened []*domain.Account
	for attempt := 1; attempt <= maxAccountNumberAttempts; attempt++ {
		opened = opened[:0]
		err := uc.store.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
			existing, err := r.Accounts.ListByOwner(ctx, owner.ID, false)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				return xerrors.Conflict("owner is already onboarded")
			}
			for _, t := range OnboardingAccountTypes {
				a, err := uc.newAccount(owner, t)
				if err != nil {
					return err
				}
				if err := r.Accounts.Create(ctx, a); err != nil {
					return err
				}
				opened = append(opened, a)
			}
			return nil
		})
		if errors.Is(err, xerrors.ErrDuplicateAccountNumber) {
			uc.logger.Warn("account number collision, retrying onboarding", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, xerrors.Internal("accounts.onboard", err)
		}

		uc.logger.Info("owner onboarded",
			zap.String("owner_id", owner.ID),
			zap.Int("accounts", len(opened)),
		)
		return opened, nil
	}
	return nil, fmt.Errorf("onboard after %d attempts: %w", maxAccountNumberAttempts, xerrors.ErrDuplicateAccountNumber)
}

// OpenAccount adds one account of the given type. With OneAccountPerType set
// an owner may hold at most one non-closed account per type.
func (uc *AccountUsecase) OpenAccount(ctx context.Context, owner domain.Owner, accountType string) (*domain.Account, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	t, err := domain.ParseAccountType(accountType)
	if err != nil {
		return nil, err
	}

	accounts := uc.store.Repos().Accounts
	if uc.policy.OneAccountPerType {
		exists, err := accounts.ExistsByOwnerAndType(ctx, owner.ID, t)
		if err != nil {
			return nil, xerrors.Internal("accounts.open", err)
		}
		if exists {
			return nil, xerrors.ErrAccountTypeExists
		}
	}

	for attempt := 1; attempt <= maxAccountNumberAttempts; attempt++ {
		a, err := uc.newAccount(owner, t)
		if err != nil {
			return nil, err
		}
		err = accounts.Create(ctx, a)
		if errors.Is(err, xerrors.ErrDuplicateAccountNumber) {
			uc.logger.Warn("account number collision, regenerating", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, xerrors.Internal("accounts.open", err)
		}

		uc.logger.Info("account opened",
			zap.String("owner_id", owner.ID),
			zap.String("account_number", a.AccountNumber),
			zap.String("type", string(t)),
		)
		return a, nil
	}
	return nil, fmt.Errorf("open account after %d attempts: %w", maxAccountNumberAttempts, xerrors.ErrDuplicateAccountNumber)
}

func (uc *AccountUsecase) ListAccounts(ctx context.Context, owner domain.Owner, activeOnly bool) ([]*domain.Account, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	accounts, err := uc.store.Repos().Accounts.ListByOwner(ctx, owner.ID, activeOnly)
	if err != nil {
		return nil, xerrors.Internal("accounts.list", err)
	}
	return accounts, nil
}

// GetAccount is owner scoped: another owner's account reads as not found.
func (uc *AccountUsecase) GetAccount(ctx context.Context, owner domain.Owner, number string) (*domain.Account, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	a, err := uc.store.Repos().Accounts.GetByNumber(ctx, number, owner.ID)
	if err != nil {
		return nil, xerrors.Internal("accounts.get", err)
	}
	return a, nil
}

// SetStatus activates, deactivates or closes an account. Setting the current
// status again is a no-op.
func (uc *AccountUsecase) SetStatus(ctx context.Context, owner domain.Owner, number, status string) (*domain.Account, error) {
	to, err := domain.ParseAccountStatus(status)
	if err != nil {
		return nil, err
	}
	a, err := uc.GetAccount(ctx, owner, number)
	if err != nil {
		return nil, err
	}
	if a.Status == to {
		return a, nil
	}
	if !a.Status.CanTransition(to) {
		return nil, xerrors.ErrInvalidStatusTransition
	}
	if to == domain.AccountStatusClosed && !a.Balance.IsZero() {
		return nil, xerrors.ErrNonZeroBalance
	}

	updated, err := uc.store.Repos().Accounts.SetStatus(ctx, a.ID, a.Status, to)
	if err != nil {
		return nil, xerrors.Internal("accounts.status", err)
	}
	uc.logger.Info("account status changed",
		zap.String("account_number", number),
		zap.String("from", string(a.Status)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

func (uc *AccountUsecase) SetOverdraftProtection(ctx context.Context, owner domain.Owner, number string, enabled bool) (*domain.Account, error) {
	a, err := uc.GetAccount(ctx, owner, number)
	if err != nil {
		return nil, err
	}
	if a.Status == domain.AccountStatusClosed {
		return nil, xerrors.ErrAccountInactive
	}
	updated, err := uc.store.Repos().Accounts.SetOverdraftProtection(ctx, a.ID, enabled)
	if err != nil {
		return nil, xerrors.Internal("accounts.overdraft", err)
	}
	return updated, nil
}
