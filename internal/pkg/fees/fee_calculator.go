// Package fees prices check orders and supplies per account type defaults.
// Everything here is pure: no I/O, no clock.
package fees

import (
	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

var checkBaseFees = map[int]decimal.Decimal{
	50:  decimal.NewFromInt(15),
	100: decimal.NewFromInt(25),
	150: decimal.NewFromInt(35),
	200: decimal.NewFromInt(45),
}

var styleSurcharges = map[domain.CheckStyle]decimal.Decimal{
	domain.CheckStyleStandard: decimal.Zero,
	domain.CheckStylePremium:  decimal.NewFromInt(10),
	domain.CheckStyleDesigner: decimal.NewFromInt(20),
}

var deliverySurcharges = map[domain.DeliverySpeed]decimal.Decimal{
	domain.DeliveryStandard:  decimal.Zero,
	domain.DeliveryExpedited: decimal.NewFromInt(10),
	domain.DeliveryOvernight: decimal.NewFromInt(25),
}

// Interest rates are annual percentages.
var defaultInterestRates = map[domain.AccountType]decimal.Decimal{
	domain.AccountTypeChecking:   decimal.RequireFromString("0.01"),
	domain.AccountTypeSavings:    decimal.RequireFromString("2.5"),
	domain.AccountTypeCredit:     decimal.RequireFromString("19.99"),
	domain.AccountTypeInvestment: decimal.Zero,
}

// CheckOrderFee = base(quantity) + style surcharge + delivery surcharge.
// An empty style or speed means standard.
func CheckOrderFee(quantity int, style domain.CheckStyle, speed domain.DeliverySpeed) (decimal.Decimal, error) {
	base, ok := checkBaseFees[quantity]
	if !ok {
		return decimal.Zero, xerrors.Validation("invalid check quantity %d: must be one of 50, 100, 150, 200", quantity)
	}
	if style == "" {
		style = domain.CheckStyleStandard
	}
	styleFee, ok := styleSurcharges[style]
	if !ok {
		return decimal.Zero, xerrors.Validation("invalid check style %q", style)
	}
	if speed == "" {
		speed = domain.DeliveryStandard
	}
	deliveryFee, ok := deliverySurcharges[speed]
	if !ok {
		return decimal.Zero, xerrors.Validation("invalid delivery speed %q", speed)
	}
	return base.Add(styleFee).Add(deliveryFee), nil
}

func DefaultInterestRate(t domain.AccountType) (decimal.Decimal, error) {
	rate, ok := defaultInterestRates[t]
	if !ok {
		return decimal.Zero, xerrors.ErrInvalidAccountType
	}
	return rate, nil
}

// DefaultOverdraft is on for credit accounts only.
func DefaultOverdraft(t domain.AccountType) (bool, error) {
	if !t.Valid() {
		return false, xerrors.ErrInvalidAccountType
	}
	return t == domain.AccountTypeCredit, nil
}
