package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
)

type confirmationRepo struct {
	db DBTX
}

func NewConfirmationRepo(db DBTX) ConfirmationRepository {
	return &confirmationRepo{db: db}
}

const confirmationColumns = `
	id, owner_id, confirmation_number, operation_type, amount, fee, details, status,
	transaction_id, reference, receipt_downloaded, downloaded_at, receipt_printed,
	printed_at, created_at, updated_at`

func scanConfirmation(row pgx.Row) (*domain.Confirmation, error) {
	var c domain.Confirmation
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Number, &c.OperationType, &c.Amount, &c.Fee, &c.Details,
		&c.Status, &c.TransactionID, &c.Reference, &c.ReceiptDownloaded, &c.DownloadedAt,
		&c.ReceiptPrinted, &c.PrintedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrConfirmationNotFound
		}
		return nil, fmt.Errorf("failed to scan confirmation: %w", err)
	}
	return &c, nil
}

func (r *confirmationRepo) Create(ctx context.Context, c *domain.Confirmation) error {
	details := c.Details
	if details == nil {
		details = map[string]any{}
	}

	query := `
		INSERT INTO confirmations (` + confirmationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Exec(ctx, query,
		c.ID, c.OwnerID, c.Number, c.OperationType, c.Amount, c.Fee, details,
		c.Status, c.TransactionID, c.Reference, c.ReceiptDownloaded, c.DownloadedAt,
		c.ReceiptPrinted, c.PrintedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if name, ok := xerrors.UniqueViolation(err); ok {
			switch name {
			case "confirmations_number_key":
				return xerrors.ErrDuplicateConfirmation
			case "confirmations_transaction_id_key":
				return xerrors.ErrConfirmationExists
			}
		}
		return fmt.Errorf("failed to create confirmation: %w", err)
	}
	return nil
}

func (r *confirmationRepo) GetByNumber(ctx context.Context, number, ownerID string) (*domain.Confirmation, error) {
	query := `SELECT ` + confirmationColumns + `
		FROM confirmations
		WHERE confirmation_number = $1 AND ($2 = '' OR owner_id = $2)`
	return scanConfirmation(r.db.QueryRow(ctx, query, number, ownerID))
}

func (r *confirmationRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Confirmation, error) {
	query := `SELECT ` + confirmationColumns + `
		FROM confirmations
		WHERE transaction_id = $1
		ORDER BY created_at
		LIMIT 1`
	return scanConfirmation(r.db.QueryRow(ctx, query, transactionID))
}

func (r *confirmationRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Confirmation, error) {
	limit, offset = domain.Page(limit, offset)
	query := `SELECT ` + confirmationColumns + `
		FROM confirmations
		WHERE owner_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func (r *confirmationRepo) UpdateStatus(ctx context.Context, id string, from, to domain.ConfirmationStatus, at time.Time) (*domain.Confirmation, error) {
	if !from.CanAdvance(to) {
		return nil, xerrors.Validation("confirmation status cannot move from %s to %s", from, to)
	}
	query := `
		UPDATE confirmations
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING ` + confirmationColumns

	c, err := scanConfirmation(r.db.QueryRow(ctx, query, id, from, to, at))
	if errors.Is(err, xerrors.ErrConfirmationNotFound) {
		return nil, xerrors.Validation("confirmation %s is no longer %s", id, from)
	}
	return c, err
}

// Flags are set with COALESCE so a repeat call keeps the original timestamp.
func (r *confirmationRepo) MarkDownloaded(ctx context.Context, number, ownerID string, at time.Time) (*domain.Confirmation, error) {
	query := `
		UPDATE confirmations
		SET receipt_downloaded = TRUE,
		    downloaded_at = COALESCE(downloaded_at, $3),
		    updated_at = $3
		WHERE confirmation_number = $1 AND ($2 = '' OR owner_id = $2)
		RETURNING ` + confirmationColumns
	return scanConfirmation(r.db.QueryRow(ctx, query, number, ownerID, at))
}

func (r *confirmationRepo) MarkPrinted(ctx context.Context, number, ownerID string, at time.Time) (*domain.Confirmation, error) {
	query := `
		UPDATE confirmations
		SET receipt_printed = TRUE,
		    printed_at = COALESCE(printed_at, $3),
		    updated_at = $3
		WHERE confirmation_number = $1 AND ($2 = '' OR owner_id = $2)
		RETURNING ` + confirmationColumns
	return scanConfirmation(r.db.QueryRow(ctx, query, number, ownerID, at))
}
