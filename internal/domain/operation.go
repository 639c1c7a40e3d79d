package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

type OperationType string

const (
	OperationDeposit     OperationType = "deposit"
	OperationWithdrawal  OperationType = "withdrawal"
	OperationTransfer    OperationType = "transfer"
	OperationBillPayment OperationType = "bill_payment"
	OperationCheckOrder  OperationType = "check_order"
	OperationCancel      OperationType = "cancel"
)

// Operation is one logical money movement submitted to the engine.
type Operation interface {
	Type() OperationType
	Validate() error
	// Key is the caller supplied idempotency key, empty when absent.
	Key() string
	// Details is the parameter snapshot recorded on the confirmation.
	Details() map[string]any
	// Fingerprint identifies the money-relevant parameters. Two requests
	// sharing an idempotency key must have the same fingerprint.
	Fingerprint() string
}

const maxIdempotencyKeyLen = 128

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return xerrors.ErrInvalidAmount
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return xerrors.Validation("amount %s has more than 2 decimal places", amount)
	}
	return nil
}

func validateKey(key string) error {
	if len(key) > maxIdempotencyKeyLen {
		return xerrors.Validation("idempotency key exceeds %d characters", maxIdempotencyKeyLen)
	}
	return nil
}

// fingerprint hashes the operation type and its canonical fields.
func fingerprint(t OperationType, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(t))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return xerrors.Validation("%s is required", field)
	}
	return nil
}

// ===============================
// Deposit
// ===============================

type Deposit struct {
	AccountNumber  string          `json:"account_number"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method,omitempty"` // cash, check, ach, mobile
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (d *Deposit) Type() OperationType { return OperationDeposit }
func (d *Deposit) Key() string         { return d.IdempotencyKey }

func (d *Deposit) Validate() error {
	if err := required("account_number", d.AccountNumber); err != nil {
		return err
	}
	if err := validateAmount(d.Amount); err != nil {
		return err
	}
	return validateKey(d.IdempotencyKey)
}

func (d *Deposit) Details() map[string]any {
	return map[string]any{
		"account_number": d.AccountNumber,
		"method":         d.Method,
		"description":    d.Description,
	}
}

// ===============================
// Withdrawal
// ===============================

type Withdrawal struct {
	AccountNumber  string          `json:"account_number"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method,omitempty"` // atm, teller, ach
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (d *Deposit) Fingerprint() string {
	return fingerprint(d.Type(), d.AccountNumber, canonicalAmount(d.Amount))
}

func (w *Withdrawal) Type() OperationType { return OperationWithdrawal }
func (w *Withdrawal) Key() string         { return w.IdempotencyKey }

func (w *Withdrawal) Validate() error {
	if err := required("account_number", w.AccountNumber); err != nil {
		return err
	}
	if err := validateAmount(w.Amount); err != nil {
		return err
	}
	return validateKey(w.IdempotencyKey)
}

func (w *Withdrawal) Details() map[string]any {
	return map[string]any{
		"account_number": w.AccountNumber,
		"method":         w.Method,
		"description":    w.Description,
	}
}

func (w *Withdrawal) Fingerprint() string {
	return fingerprint(w.Type(), w.AccountNumber, canonicalAmount(w.Amount))
}

// ===============================
// Transfer
// ===============================

// ExternalDestination describes a transfer recipient held at another bank.
// No local balance is touched for it.
type ExternalDestination struct {
	BankName      string `json:"bank_name"`
	RoutingNumber string `json:"routing_number"`
	AccountNumber string `json:"account_number"`
	RecipientName string `json:"recipient_name"`
}

type Transfer struct {
	FromAccountNumber string               `json:"from_account_number"`
	ToAccountNumber   string               `json:"to_account_number,omitempty"`
	External          *ExternalDestination `json:"external,omitempty"`
	Amount            decimal.Decimal      `json:"amount"`
	Memo              string               `json:"memo,omitempty"`
	IdempotencyKey    string               `json:"idempotency_key,omitempty"`
}

func (t *Transfer) Type() OperationType { return OperationTransfer }
func (t *Transfer) Key() string         { return t.IdempotencyKey }

func (t *Transfer) IsExternal() bool { return t.External != nil }

func (t *Transfer) Validate() error {
	if err := required("from_account_number", t.FromAccountNumber); err != nil {
		return err
	}
	if t.IsExternal() {
		if err := required("external.account_number", t.External.AccountNumber); err != nil {
			return err
		}
		if err := required("external.bank_name", t.External.BankName); err != nil {
			return err
		}
		if err := required("external.routing_number", t.External.RoutingNumber); err != nil {
			return err
		}
	} else {
		if err := required("to_account_number", t.ToAccountNumber); err != nil {
			return err
		}
		if t.FromAccountNumber == t.ToAccountNumber {
			return xerrors.ErrSameAccount
		}
	}
	if err := validateAmount(t.Amount); err != nil {
		return err
	}
	return validateKey(t.IdempotencyKey)
}

func (t *Transfer) Fingerprint() string {
	if t.IsExternal() {
		ext := t.External
		return fingerprint(t.Type(), t.FromAccountNumber, canonicalAmount(t.Amount),
			"external", ext.BankName, ext.RoutingNumber, ext.AccountNumber)
	}
	return fingerprint(t.Type(), t.FromAccountNumber, canonicalAmount(t.Amount), t.ToAccountNumber)
}

func (t *Transfer) Details() map[string]any {
	d := map[string]any{
		"from_account_number": t.FromAccountNumber,
		"memo":                t.Memo,
	}
	if t.IsExternal() {
		d["external"] = true
		d["to_account_number"] = t.External.AccountNumber
		d["recipient_bank"] = t.External.BankName
		d["recipient_routing_number"] = t.External.RoutingNumber
		d["recipient_name"] = t.External.RecipientName
	} else {
		d["external"] = false
		d["to_account_number"] = t.ToAccountNumber
	}
	return d
}

// ===============================
// Bill payment
// ===============================

type Payee struct {
	Name          string `json:"name"`
	AccountNumber string `json:"account_number,omitempty"`
	Address       string `json:"address,omitempty"`
}

type BillPayment struct {
	AccountNumber  string          `json:"account_number"`
	Payee          Payee           `json:"payee"`
	Amount         decimal.Decimal `json:"amount"`
	Memo           string          `json:"memo,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (b *BillPayment) Type() OperationType { return OperationBillPayment }
func (b *BillPayment) Key() string         { return b.IdempotencyKey }

func (b *BillPayment) Validate() error {
	if err := required("account_number", b.AccountNumber); err != nil {
		return err
	}
	if err := required("payee.name", b.Payee.Name); err != nil {
		return err
	}
	if err := validateAmount(b.Amount); err != nil {
		return err
	}
	return validateKey(b.IdempotencyKey)
}

func (b *BillPayment) Fingerprint() string {
	return fingerprint(b.Type(), b.AccountNumber, canonicalAmount(b.Amount), b.Payee.Name, b.Payee.AccountNumber)
}

func (b *BillPayment) Details() map[string]any {
	return map[string]any{
		"account_number":       b.AccountNumber,
		"payee_name":           b.Payee.Name,
		"payee_account_number": b.Payee.AccountNumber,
		"payee_address":        b.Payee.Address,
		"memo":                 b.Memo,
	}
}

// ===============================
// Check order
// ===============================

type CheckStyle string

const (
	CheckStyleStandard CheckStyle = "standard"
	CheckStylePremium  CheckStyle = "premium"
	CheckStyleDesigner CheckStyle = "designer"
)

type DeliverySpeed string

const (
	DeliveryStandard  DeliverySpeed = "standard"
	DeliveryExpedited DeliverySpeed = "expedited"
	DeliveryOvernight DeliverySpeed = "overnight"
)

type CheckOrder struct {
	AccountNumber       string        `json:"account_number"`
	Quantity            int           `json:"quantity"`
	Style               CheckStyle    `json:"style"`
	DeliverySpeed       DeliverySpeed `json:"delivery_speed"`
	StartingCheckNumber string        `json:"starting_check_number,omitempty"`
	ShippingAddress     string        `json:"shipping_address,omitempty"`
	IdempotencyKey      string        `json:"idempotency_key,omitempty"`
}

func (c *CheckOrder) Type() OperationType { return OperationCheckOrder }
func (c *CheckOrder) Key() string         { return c.IdempotencyKey }

// Validate checks presence only; quantity, style and speed are validated by
// the fee schedule that prices them.
func (c *CheckOrder) Validate() error {
	if err := required("account_number", c.AccountNumber); err != nil {
		return err
	}
	if c.Quantity <= 0 {
		return xerrors.Validation("quantity must be greater than zero")
	}
	return validateKey(c.IdempotencyKey)
}

func (c *CheckOrder) Fingerprint() string {
	style := c.Style
	if style == "" {
		style = CheckStyleStandard
	}
	speed := c.DeliverySpeed
	if speed == "" {
		speed = DeliveryStandard
	}
	return fingerprint(c.Type(), c.AccountNumber, strconv.Itoa(c.Quantity), string(style), string(speed))
}

func (c *CheckOrder) Details() map[string]any {
	return map[string]any{
		"account_number":        c.AccountNumber,
		"quantity":              c.Quantity,
		"style":                 c.Style,
		"delivery_speed":        c.DeliverySpeed,
		"starting_check_number": c.StartingCheckNumber,
		"shipping_address":      c.ShippingAddress,
	}
}

// ===============================
// Cancel
// ===============================

type Cancel struct {
	TransactionID  string `json:"transaction_id"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (c *Cancel) Type() OperationType { return OperationCancel }
func (c *Cancel) Key() string         { return c.IdempotencyKey }

func (c *Cancel) Validate() error {
	if err := required("transaction_id", c.TransactionID); err != nil {
		return err
	}
	return validateKey(c.IdempotencyKey)
}

func (c *Cancel) Fingerprint() string {
	return fingerprint(c.Type(), c.TransactionID)
}

func (c *Cancel) Details() map[string]any {
	return map[string]any{
		"transaction_id": c.TransactionID,
		"reason":         c.Reason,
	}
}

// ===============================
// Result
// ===============================

// OperationResult is what the engine returns for a committed operation.
type OperationResult struct {
	Type          OperationType   `json:"type"`
	OwnerID       string          `json:"owner_id"`
	AccountNumber string          `json:"account_number"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	// Transactions holds only the records on the caller's own accounts.
	Transactions []*Transaction `json:"transactions"`
	Details      map[string]any `json:"details,omitempty"`
	Replayed     bool           `json:"replayed"`

	// Written is every record the operation committed, including legs on
	// other owners' accounts. It feeds events and is never serialized.
	Written []*Transaction `json:"-"`
}

// Primary is the record on the caller's own account.
func (r *OperationResult) Primary() *Transaction {
	if len(r.Transactions) == 0 {
		return nil
	}
	return r.Transactions[0]
}
