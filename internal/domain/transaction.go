package domain

import (
	"strings"
	"time"

	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

func (d Direction) Opposite() Direction {
	if d == DirectionCredit {
		return DirectionDebit
	}
	return DirectionCredit
}

type Category string

const (
	CategoryDeposit    Category = "deposit"
	CategoryWithdrawal Category = "withdrawal"
	CategoryTransfer   Category = "transfer"
	CategoryPayment    Category = "payment"
	CategoryFee        Category = "fee"
	CategoryInterest   Category = "interest"
	CategoryReversal   Category = "reversal"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// PartySnapshot is copied onto a transaction when it is written and never
// refreshed, so receipts stay accurate after an account changes.
type PartySnapshot struct {
	AccountNumber string `json:"account_number,omitempty"`
	HolderName    string `json:"holder_name,omitempty"`
	AccountType   string `json:"account_type,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	RoutingNumber string `json:"routing_number,omitempty"`
}

// Transaction is an immutable ledger fact. Status may only move
// completed -> cancelled after it is written.
type Transaction struct {
	ID                   string            `json:"id" db:"id"`
	OwnerID              string            `json:"owner_id" db:"owner_id"`
	AccountID            string            `json:"account_id" db:"account_id"`
	AccountNumber        string            `json:"account_number" db:"account_number"`
	Direction            Direction         `json:"direction" db:"direction"`
	Amount               decimal.Decimal   `json:"amount" db:"amount"`
	Category             Category          `json:"category" db:"category"`
	Status               TransactionStatus `json:"status" db:"status"`
	BalanceAfter         decimal.Decimal   `json:"balance_after" db:"balance_after"`
	Reference            string            `json:"reference" db:"reference"`
	Fee                  decimal.Decimal   `json:"fee" db:"fee"`
	Description          string            `json:"description,omitempty" db:"description"`
	Source               *PartySnapshot    `json:"source,omitempty" db:"source"`
	Destination          *PartySnapshot    `json:"destination,omitempty" db:"destination"`
	RelatedTransactionID *string           `json:"related_transaction_id,omitempty" db:"related_transaction_id"`
	IdempotencyKey       *string           `json:"idempotency_key,omitempty" db:"idempotency_key"`
	RequestFingerprint   *string           `json:"-" db:"request_fingerprint"`
	CreatedAt            time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at" db:"updated_at"`
}

// OwnedBy keeps the records that belong to ownerID, in order.
func OwnedBy(ownerID string, txs []*Transaction) []*Transaction {
	out := make([]*Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.OwnerID == ownerID {
			out = append(out, tx)
		}
	}
	return out
}

// SignedAmount is the balance delta this record applied.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

type TransactionFilter struct {
	AccountID *string
	Category  *Category
	Status    *TransactionStatus
	Direction *Direction
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Page clamps a caller supplied limit/offset.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if d != DirectionCredit && d != DirectionDebit {
		return "", xerrors.Validation("invalid direction %q", s)
	}
	return d, nil
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryDeposit, CategoryWithdrawal, CategoryTransfer, CategoryPayment,
		CategoryFee, CategoryInterest, CategoryReversal:
		return c, nil
	}
	return "", xerrors.Validation("invalid category %q", s)
}

func ParseTransactionStatus(s string) (TransactionStatus, error) {
	st := TransactionStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case TransactionPending, TransactionCompleted, TransactionFailed, TransactionCancelled:
		return st, nil
	}
	return "", xerrors.Validation("invalid transaction status %q", s)
}

// OperationFor maps the category of an operation's primary record back to
// the operation that wrote it.
func OperationFor(c Category) OperationType {
	switch c {
	case CategoryDeposit:
		return OperationDeposit
	case CategoryWithdrawal:
		return OperationWithdrawal
	case CategoryTransfer:
		return OperationTransfer
	case CategoryPayment:
		return OperationBillPayment
	case CategoryFee:
		return OperationCheckOrder
	case CategoryReversal:
		return OperationCancel
	}
	return ""
}
