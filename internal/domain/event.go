package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventTransactionCompleted = "transaction.completed"
	EventTransactionCancelled = "transaction.cancelled"

	EventConfirmationCreated = "confirmation.created"
	EventConfirmationUpdated = "confirmation.updated"
)

type TransactionEvent struct {
	EventType     string            `json:"event_type"`
	OwnerID       string            `json:"owner_id"`
	TransactionID string            `json:"transaction_id"`
	Reference     string            `json:"reference"`
	Operation     OperationType     `json:"operation"`
	Category      Category          `json:"category"`
	Direction     Direction         `json:"direction"`
	Status        TransactionStatus `json:"status"`
	AccountNumber string            `json:"account_number"`
	Amount        decimal.Decimal   `json:"amount"`
	Fee           decimal.Decimal   `json:"fee"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	Timestamp     time.Time         `json:"timestamp"`
}

type ConfirmationEvent struct {
	EventType          string             `json:"event_type"`
	OwnerID            string             `json:"owner_id"`
	ConfirmationNumber string             `json:"confirmation_number"`
	OperationType      OperationType      `json:"operation_type"`
	Status             ConfirmationStatus `json:"status"`
	Reference          string             `json:"reference"`
	Amount             decimal.Decimal    `json:"amount"`
	Fee                decimal.Decimal    `json:"fee"`
	ReceiptDownloaded  bool               `json:"receipt_downloaded"`
	ReceiptPrinted     bool               `json:"receipt_printed"`
	Timestamp          time.Time          `json:"timestamp"`
}

// TransactionEvents builds one event per ledger record r committed, so the
// recipient of a transfer gets an event for its own leg.
func TransactionEvents(r *OperationResult, eventType string, at time.Time) []*TransactionEvent {
	records := r.Written
	if len(records) == 0 {
		records = r.Transactions
	}
	events := make([]*TransactionEvent, 0, len(records))
	for _, tx := range records {
		events = append(events, &TransactionEvent{
			EventType:     eventType,
			OwnerID:       tx.OwnerID,
			TransactionID: tx.ID,
			Reference:     tx.Reference,
			Operation:     r.Type,
			Category:      tx.Category,
			Direction:     tx.Direction,
			Status:        tx.Status,
			AccountNumber: tx.AccountNumber,
			Amount:        tx.Amount,
			Fee:           tx.Fee,
			BalanceAfter:  tx.BalanceAfter,
			Timestamp:     at,
		})
	}
	return events
}

func NewConfirmationEvent(c *Confirmation, eventType string, at time.Time) *ConfirmationEvent {
	return &ConfirmationEvent{
		EventType:          eventType,
		OwnerID:            c.OwnerID,
		ConfirmationNumber: c.Number,
		OperationType:      c.OperationType,
		Status:             c.Status,
		Reference:          c.Reference,
		Amount:             c.Amount,
		Fee:                c.Fee,
		ReceiptDownloaded:  c.ReceiptDownloaded,
		ReceiptPrinted:     c.ReceiptPrinted,
		Timestamp:          at,
	}
}
