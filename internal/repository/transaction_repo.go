package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
)

type transactionRepo struct {
	db DBTX
}

func NewTransactionRepo(db DBTX) TransactionRepository {
	return &transactionRepo{db: db}
}

const transactionColumns = `
	id, owner_id, account_id, account_number, direction, amount, category, status,
	balance_after, reference, fee, description, source, destination,
	related_transaction_id, idempotency_key, request_fingerprint, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.AccountID, &t.AccountNumber, &t.Direction, &t.Amount,
		&t.Category, &t.Status, &t.BalanceAfter, &t.Reference, &t.Fee, &t.Description,
		&t.Source, &t.Destination, &t.RelatedTransactionID, &t.IdempotencyKey,
		&t.RequestFingerprint, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return &t, nil
}

func scanTransactionRows(rows pgx.Rows) ([]*domain.Transaction, error) {
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return txs, nil
}

func (r *transactionRepo) Append(ctx context.Context, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := r.db.Exec(ctx, query,
		t.ID, t.OwnerID, t.AccountID, t.AccountNumber, t.Direction, t.Amount,
		t.Category, t.Status, t.BalanceAfter, t.Reference, t.Fee, t.Description,
		t.Source, t.Destination, t.RelatedTransactionID, t.IdempotencyKey,
		t.RequestFingerprint, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if name, ok := xerrors.UniqueViolation(err); ok {
			switch name {
			case "transactions_reference_direction_key":
				return xerrors.ErrDuplicateReference
			case "transactions_owner_idempotency_key":
				return xerrors.ErrDuplicateIdempotencyKey
			}
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, id))
}

func (r *transactionRepo) GetByReference(ctx context.Context, reference string) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE reference = $1
		ORDER BY direction DESC, id`

	rows, err := r.db.Query(ctx, query, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions by reference: %w", err)
	}
	txs, err := scanTransactionRows(rows)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, xerrors.ErrTransactionNotFound
	}
	return txs, nil
}

func (r *transactionRepo) GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE owner_id = $1 AND idempotency_key = $2`
	return scanTransaction(r.db.QueryRow(ctx, query, ownerID, key))
}

func (r *transactionRepo) ListByOwner(ctx context.Context, ownerID string, f domain.TransactionFilter) ([]*domain.Transaction, error) {
	conds := []string{"owner_id = $1"}
	args := []any{ownerID}

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AccountID != nil {
		add("account_id = $%d", *f.AccountID)
	}
	if f.Category != nil {
		add("category = $%d", *f.Category)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Direction != nil {
		add("direction = $%d", *f.Direction)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}

	limit, offset := domain.Page(f.Limit, f.Offset)
	args = append(args, limit, offset)

	query := fmt.Sprintf(`SELECT %s
		FROM transactions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		transactionColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return scanTransactionRows(rows)
}

func (r *transactionRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Transaction, error) {
	limit, offset = domain.Page(limit, offset)
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list account transactions: %w", err)
	}
	return scanTransactionRows(rows)
}

func (r *transactionRepo) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status = 'completed'`, id, at)
	if err != nil {
		return fmt.Errorf("failed to cancel transaction: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return xerrors.ErrNotCancellable
}
