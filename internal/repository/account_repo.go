package repository

import (
	"context"
	"errors"
	"fmt"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type accountRepo struct {
	db DBTX
}

func NewAccountRepo(db DBTX) AccountRepository {
	return &accountRepo{db: db}
}

const accountColumns = `
	id, owner_id, holder_name, account_type, account_number, routing_number,
	balance, interest_rate, overdraft_protection, status, version, opened_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.HolderName, &a.Type, &a.AccountNumber, &a.RoutingNumber,
		&a.Balance, &a.InterestRate, &a.OverdraftProtection, &a.Status, &a.Version,
		&a.OpenedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &a, nil
}

func scanAccountRows(rows pgx.Rows) ([]*domain.Account, error) {
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return accounts, nil
}

func (r *accountRepo) Create(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (
			id, owner_id, holder_name, account_type, account_number, routing_number,
			balance, interest_rate, overdraft_protection, status, version, opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		a.ID, a.OwnerID, a.HolderName, a.Type, a.AccountNumber, a.RoutingNumber,
		a.Balance, a.InterestRate, a.OverdraftProtection, a.Status, a.Version,
		a.OpenedAt, a.UpdatedAt,
	)
	if err != nil {
		if name, ok := xerrors.UniqueViolation(err); ok && name == "accounts_account_number_key" {
			return xerrors.ErrDuplicateAccountNumber
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

func (r *accountRepo) GetByNumber(ctx context.Context, number, ownerID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE account_number = $1 AND ($2 = '' OR owner_id = $2)`
	return scanAccount(r.db.QueryRow(ctx, query, number, ownerID))
}

func (r *accountRepo) ListByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE owner_id = $1 AND (NOT $2::boolean OR status = 'active')
		ORDER BY opened_at, account_number`

	rows, err := r.db.Query(ctx, query, ownerID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return scanAccountRows(rows)
}

func (r *accountRepo) ExistsByOwnerAndType(ctx context.Context, ownerID string, t domain.AccountType) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM accounts
			WHERE owner_id = $1 AND account_type = $2 AND status <> 'closed'
		)`, ownerID, t).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account type: %w", err)
	}
	return exists, nil
}

func (r *accountRepo) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal, guard bool) (decimal.Decimal, error) {
	// Single statement increment: concurrent adjustments serialize on the row
	// lock and the guard sees the latest committed balance.
	query := `
		UPDATE accounts
		SET balance = balance + $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
		  AND (NOT $3::boolean OR overdraft_protection OR balance + $2 >= 0)
		RETURNING balance`

	var balance decimal.Decimal
	err := r.db.QueryRow(ctx, query, id, delta, guard).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("failed to adjust balance: %w", err)
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return decimal.Zero, err
	}
	return decimal.Zero, xerrors.ErrBalanceInsufficient
}

func (r *accountRepo) SetStatus(ctx context.Context, id string, from, to domain.AccountStatus) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		  AND ($3 <> 'closed' OR balance = 0)
		RETURNING ` + accountColumns

	a, err := scanAccount(r.db.QueryRow(ctx, query, id, from, to))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, xerrors.ErrAccountNotFound) {
		return nil, err
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, xerrors.ErrInvalidStatusTransition
	}
	return nil, xerrors.ErrNonZeroBalance
}

func (r *accountRepo) SetOverdraftProtection(ctx context.Context, id string, enabled bool) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET overdraft_protection = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns
	return scanAccount(r.db.QueryRow(ctx, query, id, enabled))
}
