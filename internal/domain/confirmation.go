package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationCompleted ConfirmationStatus = "completed"
	ConfirmationFailed    ConfirmationStatus = "failed"
)

// CanAdvance allows pending -> completed|failed only.
func (s ConfirmationStatus) CanAdvance(next ConfirmationStatus) bool {
	return s == ConfirmationPending && (next == ConfirmationCompleted || next == ConfirmationFailed)
}

// Confirmation is the receipt facing record of a completed operation.
type Confirmation struct {
	ID                string             `json:"id" db:"id"`
	OwnerID           string             `json:"owner_id" db:"owner_id"`
	Number            string             `json:"confirmation_number" db:"confirmation_number"`
	OperationType     OperationType      `json:"operation_type" db:"operation_type"`
	Amount            decimal.Decimal    `json:"amount" db:"amount"`
	Fee               decimal.Decimal    `json:"fee" db:"fee"`
	Details           map[string]any     `json:"details" db:"details"`
	Status            ConfirmationStatus `json:"status" db:"status"`
	TransactionID     *string            `json:"transaction_id,omitempty" db:"transaction_id"`
	Reference         string             `json:"reference" db:"reference"`
	ReceiptDownloaded bool               `json:"receipt_downloaded" db:"receipt_downloaded"`
	DownloadedAt      *time.Time         `json:"downloaded_at,omitempty" db:"downloaded_at"`
	ReceiptPrinted    bool               `json:"receipt_printed" db:"receipt_printed"`
	PrintedAt         *time.Time         `json:"printed_at,omitempty" db:"printed_at"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

// Receipt is the client facing outcome of a submitted operation.
type Receipt struct {
	Result       *OperationResult `json:"result"`
	Confirmation *Confirmation    `json:"confirmation,omitempty"`
}
