package domain

import (
	"strings"
	"time"

	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

const (
	// RoutingNumber is stamped on every account held by this bank.
	RoutingNumber = "026009593"
	BankName      = "Credit Union Bank"
)

type AccountType string

const (
	AccountTypeChecking   AccountType = "checking"
	AccountTypeSavings    AccountType = "savings"
	AccountTypeCredit     AccountType = "credit"
	AccountTypeInvestment AccountType = "investment"
)

// ParseAccountType accepts any casing ("Checking", "SAVINGS", ...).
func ParseAccountType(s string) (AccountType, error) {
	t := AccountType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", xerrors.ErrInvalidAccountType
	}
	return t, nil
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeCredit, AccountTypeInvestment:
		return true
	}
	return false
}

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusClosed   AccountStatus = "closed"
)

func ParseAccountStatus(s string) (AccountStatus, error) {
	st := AccountStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case AccountStatusActive, AccountStatusInactive, AccountStatusClosed:
		return st, nil
	}
	return "", xerrors.Validation("invalid account status %q", s)
}

// CanTransition reports whether an account may move from s to next.
// active <-> inactive is reversible, active -> closed is terminal.
func (s AccountStatus) CanTransition(next AccountStatus) bool {
	switch s {
	case AccountStatusActive:
		return next == AccountStatusInactive || next == AccountStatusClosed
	case AccountStatusInactive:
		return next == AccountStatusActive
	}
	return false
}

// Account is the single authoritative record of an owned account.
type Account struct {
	ID                  string          `json:"id" db:"id"`
	OwnerID             string          `json:"owner_id" db:"owner_id"`
	HolderName          string          `json:"holder_name" db:"holder_name"`
	Type                AccountType     `json:"type" db:"account_type"`
	AccountNumber       string          `json:"account_number" db:"account_number"`
	RoutingNumber       string          `json:"routing_number" db:"routing_number"`
	Balance             decimal.Decimal `json:"balance" db:"balance"`
	InterestRate        decimal.Decimal `json:"interest_rate" db:"interest_rate"`
	OverdraftProtection bool            `json:"overdraft_protection" db:"overdraft_protection"`
	Status              AccountStatus   `json:"status" db:"status"`
	Version             int64           `json:"version" db:"version"`
	OpenedAt            time.Time       `json:"opened_at" db:"opened_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// CanDebit applies the overdraft rule.
func (a *Account) CanDebit(amount decimal.Decimal) bool {
	return a.OverdraftProtection || a.Balance.GreaterThanOrEqual(amount)
}

// Party returns the snapshot copied onto transactions that touch a.
func (a *Account) Party() *PartySnapshot {
	return &PartySnapshot{
		AccountNumber: a.AccountNumber,
		HolderName:    a.HolderName,
		AccountType:   string(a.Type),
		BankName:      BankName,
		RoutingNumber: a.RoutingNumber,
	}
}

// AccountPolicy holds the configurable account-opening rules.
type AccountPolicy struct {
	OneAccountPerType bool
}
