package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/fees"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"
	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxReferenceAttempts = 5

	DefaultCancelWindow = 24 * time.Hour
)

// MovementUsecase is the money movement engine. Every operation runs as one
// unit of work: balance adjustments and ledger records commit together or
// not at all.
type MovementUsecase struct {
	store        repository.Store
	gen          *utils.ReferenceGenerator
	cancelWindow time.Duration
	logger       *zap.Logger
}

func NewMovementUsecase(store repository.Store, gen *utils.ReferenceGenerator, cancelWindow time.Duration, logger *zap.Logger) *MovementUsecase {
	if cancelWindow <= 0 {
		cancelWindow = DefaultCancelWindow
	}
	return &MovementUsecase{
		store:        store,
		gen:          gen,
		cancelWindow: cancelWindow,
		logger:       logger,
	}
}

// Execute validates op, applies it atomically and returns the committed
// result. A repeated idempotency key returns the original result with
// Replayed set instead of applying op again.
func (uc *MovementUsecase) Execute(ctx context.Context, owner domain.Owner, op domain.Operation) (*domain.OperationResult, error) {
	if op == nil {
		return nil, xerrors.Validation("operation is required")
	}

	start := time.Now()
	result, err := uc.execute(ctx, owner, op)

	status := "success"
	switch {
	case err != nil:
		status = string(xerrors.KindOf(err))
	case result.Replayed:
		status = "replayed"
	}
	operationsProcessed.WithLabelValues(string(op.Type()), status).Inc()
	operationDuration.WithLabelValues(string(op.Type())).Observe(time.Since(start).Seconds())

	if err != nil {
		uc.logger.Info("operation rejected",
			zap.String("operation", string(op.Type())),
			zap.String("owner_id", owner.ID),
			zap.String("kind", status),
			zap.Error(err),
		)
		return nil, err
	}

	uc.logger.Info("operation committed",
		zap.String("operation", string(op.Type())),
		zap.String("owner_id", owner.ID),
		zap.String("reference", result.Reference),
		zap.String("new_balance", result.NewBalance.String()),
		zap.Bool("replayed", result.Replayed),
	)
	return result, nil
}

func (uc *MovementUsecase) execute(ctx context.Context, owner domain.Owner, op domain.Operation) (*domain.OperationResult, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}

	if key := op.Key(); key != "" {
		result, err := uc.replay(ctx, owner, op)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, xerrors.ErrTransactionNotFound) {
			return nil, err
		}
	}

	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		result, err := uc.apply(ctx, owner, op, attempt)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, xerrors.ErrDuplicateReference):
			referenceRetries.WithLabelValues(string(op.Type())).Inc()
			uc.logger.Warn("reference collision, retrying unit of work",
				zap.String("operation", string(op.Type())),
				zap.Int("attempt", attempt+1),
			)
			continue
		case errors.Is(err, xerrors.ErrDuplicateIdempotencyKey):
			// a concurrent request with the same key committed first
			return uc.replay(ctx, owner, op)
		default:
			return nil, xerrors.Internal(string(op.Type()), err)
		}
	}
	return nil, fmt.Errorf("%s after %d attempts: %w", op.Type(), maxReferenceAttempts, xerrors.ErrDuplicateReference)
}

func (uc *MovementUsecase) apply(ctx context.Context, owner domain.Owner, op domain.Operation, attempt int) (*domain.OperationResult, error) {
	// a retry after a collision moves the reference epoch forward, which is
	// what lets a CHK-<ms> reference become unique again
	now := uc.gen.Now().Add(time.Duration(attempt) * time.Millisecond)

	var result *domain.OperationResult
	err := uc.store.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		switch o := op.(type) {
		case *domain.Deposit:
			result, err = uc.deposit(ctx, r, owner, o, now)
		case *domain.Withdrawal:
			result, err = uc.withdraw(ctx, r, owner, o, now)
		case *domain.Transfer:
			result, err = uc.transfer(ctx, r, owner, o, now)
		case *domain.BillPayment:
			result, err = uc.payBill(ctx, r, owner, o, now)
		case *domain.CheckOrder:
			result, err = uc.orderChecks(ctx, r, owner, o, now)
		case *domain.Cancel:
			result, err = uc.cancel(ctx, r, owner, o, now)
		default:
			err = xerrors.Validation("unsupported operation %q", op.Type())
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ===============================
// Helpers
// ===============================

// resolveSource loads an account the caller acts on. It must belong to the
// caller and be active.
func resolveSource(ctx context.Context, r repository.Repositories, owner domain.Owner, number string) (*domain.Account, error) {
	a, err := r.Accounts.GetByNumber(ctx, number, "")
	if err != nil {
		return nil, err
	}
	if a.OwnerID != owner.ID {
		return nil, xerrors.ErrAccountNotOwned
	}
	if !a.IsActive() {
		return nil, xerrors.ErrAccountInactive
	}
	return a, nil
}

func (uc *MovementUsecase) reference(prefix utils.ReferencePrefix, at time.Time) (string, error) {
	ref, err := uc.gen.ReferenceAt(prefix, at)
	if err != nil {
		return "", xerrors.Internal("reference", err)
	}
	return ref, nil
}

// record builds a completed ledger entry for a. balanceAfter must be the
// value returned by the adjustment that produced it.
func (uc *MovementUsecase) record(a *domain.Account, dir domain.Direction, amount decimal.Decimal, category domain.Category, ref string, balanceAfter decimal.Decimal, now time.Time) (*domain.Transaction, error) {
	id, err := uc.gen.NewID()
	if err != nil {
		return nil, xerrors.Internal("record", err)
	}
	return &domain.Transaction{
		ID:            id,
		OwnerID:       a.OwnerID,
		AccountID:     a.ID,
		AccountNumber: a.AccountNumber,
		Direction:     dir,
		Amount:        amount,
		Category:      category,
		Status:        domain.TransactionCompleted,
		BalanceAfter:  balanceAfter,
		Reference:     ref,
		Fee:           decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// stamp marks tx as the primary record of op, so a later request with the
// same idempotency key finds it and can be compared against it.
func stamp(tx *domain.Transaction, op domain.Operation) {
	key := op.Key()
	if key == "" {
		return
	}
	fp := op.Fingerprint()
	tx.IdempotencyKey = &key
	tx.RequestFingerprint = &fp
}

func newResult(owner domain.Owner, op domain.Operation, accountNumber, ref string, amount, balance decimal.Decimal, txs ...*domain.Transaction) *domain.OperationResult {
	details := op.Details()
	details["reference"] = ref
	return &domain.OperationResult{
		Type:          op.Type(),
		OwnerID:       owner.ID,
		AccountNumber: accountNumber,
		Reference:     ref,
		Amount:        amount,
		Fee:           decimal.Zero,
		NewBalance:    balance,
		Transactions:  domain.OwnedBy(owner.ID, txs),
		Details:       details,
		Written:       txs,
	}
}

// debit applies the overdraft guarded withdrawal of amount from a and writes
// the single ledger record for it.
func (uc *MovementUsecase) debit(ctx context.Context, r repository.Repositories, a *domain.Account, amount decimal.Decimal, category domain.Category, ref string, now time.Time, build func(tx *domain.Transaction)) (*domain.Transaction, error) {
	balance, err := r.Accounts.AdjustBalance(ctx, a.ID, amount.Neg(), true)
	if err != nil {
		return nil, err
	}
	tx, err := uc.record(a, domain.DirectionDebit, amount, category, ref, balance, now)
	if err != nil {
		return nil, err
	}
	tx.Source = a.Party()
	build(tx)
	if err := r.Transactions.Append(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ===============================
// Deposit / Withdrawal
// ===============================

func (uc *MovementUsecase) deposit(ctx context.Context, r repository.Repositories, owner domain.Owner, o *domain.Deposit, now time.Time) (*domain.OperationResult, error) {
	a, err := resolveSource(ctx, r, owner, o.AccountNumber)
	if err != nil {
		return nil, err
	}
	ref, err := uc.reference(utils.PrefixDeposit, now)
	if err != nil {
		return nil, err
	}

	balance, err := r.Accounts.AdjustBalance(ctx, a.ID, o.Amount, false)
	if err != nil {
		return nil, err
	}
	tx, err := uc.record(a, domain.DirectionCredit, o.Amount, domain.CategoryDeposit, ref, balance, now)
	if err != nil {
		return nil, err
	}
	tx.Destination = a.Party()
	tx.Description = describe(o.Description, "Deposit", o.Method)
	stamp(tx, o)
	if err := r.Transactions.Append(ctx, tx); err != nil {
		return nil, err
	}

	return newResult(owner, o, a.AccountNumber, ref, o.Amount, balance, tx), nil
}

func (uc *MovementUsecase) withdraw(ctx context.Context, r repository.Repositories, owner domain.Owner, o *domain.Withdrawal, now time.Time) (*domain.OperationResult, error) {
	a, err := resolveSource(ctx, r, owner, o.AccountNumber)
	if err != nil {
		return nil, err
	}
	ref, err := uc.reference(utils.PrefixWithdrawal, now)
	if err != nil {
		return nil, err
	}

	tx, err := uc.debit(ctx, r, a, o.Amount, domain.CategoryWithdrawal, ref, now, func(tx *domain.Transaction) {
		tx.Description = describe(o.Description, "Withdrawal", o.Method)
		stamp(tx, o)
	})
	if err != nil {
		return nil, err
	}

	return newResult(owner, o, a.AccountNumber, ref, o.Amount, tx.BalanceAfter, tx), nil
}

func describe(text, label, method string) string {
	if text != "" {
		return text
	}
	if method != "" {
		return fmt.Sprintf("%s via %s", label, method)
	}
	return label
}

// ===============================
// Transfer
// ===============================

func (uc *MovementUsecase) transfer(ctx context.Context, r repository.Repositories, owner domain.Owner, o *domain.Transfer, now time.Time) (*domain.OperationResult, error) {
	src, err := resolveSource(ctx, r, owner, o.FromAccountNumber)
	if err != nil {
		return nil, err
	}
	ref, err := uc.reference(utils.PrefixTransfer, now)
	if err != nil {
		return nil, err
	}

	if o.IsExternal() {
		return uc.transferExternal(ctx, r, owner, o, src, ref, now)
	}

	dst, err := r.Accounts.GetByNumber(ctx, o.ToAccountNumber, "")
	if err != nil {
		return nil, err
	}
	if dst.ID == src.ID {
		return nil, xerrors.ErrSameAccount
	}
	if !dst.IsActive() {
		return nil, xerrors.Validation("destination account is not active")
	}

	// Lock rows in id order so opposing transfers cannot deadlock.
	var srcBalance, dstBalance decimal.Decimal
	debitFirst := src.ID < dst.ID
	if debitFirst {
		if srcBalance, err = r.Accounts.AdjustBalance(ctx, src.ID, o.Amount.Neg(), true); err != nil {
			return nil, err
		}
	}
	if dstBalance, err = r.Accounts.AdjustBalance(ctx, dst.ID, o.Amount, false); err != nil {
		return nil, err
	}
	if !debitFirst {
		if srcBalance, err = r.Accounts.AdjustBalance(ctx, src.ID, o.Amount.Neg(), true); err != nil {
			return nil, err
		}
	}

	debit, err := uc.record(src, domain.DirectionDebit, o.Amount, domain.CategoryTransfer, ref, srcBalance, now)
	if err != nil {
		return nil, err
	}
	credit, err := uc.record(dst, domain.DirectionCredit, o.Amount, domain.CategoryTransfer, ref, dstBalance, now)
	if err != nil {
		return nil, err
	}
	debit.RelatedTransactionID = &credit.ID
	credit.RelatedTransactionID = &debit.ID
	for _, tx := range []*domain.Transaction{debit, credit} {
		tx.Source = src.Party()
		tx.Destination = dst.Party()
		tx.Description = describe(o.Memo, "Transfer", "")
	}
	stamp(debit, o)

	if err := r.Transactions.Append(ctx, debit); err != nil {
		return nil, err
	}
	if err := r.Transactions.Append(ctx, credit); err != nil {
		return nil, err
	}

	result := newResult(owner, o, src.AccountNumber, ref, o.Amount, srcBalance, debit, credit)
	result.Details["recipient_name"] = dst.HolderName
	result.Details["recipient_account_type"] = string(dst.Type)
	return result, nil
}

// transferExternal debits the source only; the recipient bank is recorded
// on the single ledger entry.
func (uc *MovementUsecase) transferExternal(ctx context.Context, r repository.Repositories, owner domain.Owner, o *domain.Transfer, src *domain.Account, ref string, now time.Time) (*domain.OperationResult, error) {
	ext := o.External
	tx, err := uc.debit(ctx, r, src, o.Amount, domain.CategoryTransfer, ref, now, func(tx *domain.Transaction) {
		tx.Destination = &domain.PartySnapshot{
			AccountNumber: ext.AccountNumber,
			HolderName:    ext.RecipientName,
			BankName:      ext.BankName,
			RoutingNumber: ext.RoutingNumber,
		}
		tx.Description = describe(o.Memo, "Transfer to "+ext.BankName, "")
		stamp(tx, o)
	})
	if err != nil {
		return nil, err
	}
	return newResult(owner, o, src.AccountNumber, ref, o.Amount, tx.BalanceAfter, tx), nil
}

// ===============================
// Bill payment / Check order
// ===============================

func (uc *MovementUsecase) payBill(ctx context.Context, r repository.Repositories, owner domain.Owner, o *domain.BillPayment, now time.Time) (*domain.OperationResult, error) {
	a, err := resolveSource(ctx, r, owner, o.AccountNumber)
	if err != nil {
		return nil, err
	}
	ref, err := uc.reference(utils.PrefixBillPayment, now)
	if err != nil {
		return nil, err
	}

	tx, err := uc.debit(ctx, r, a, o.Amount, domain.CategoryPayment, ref, now, func(tx *domain.Transaction) {
		tx.Destination = &domain.PartySnapshot{
			AccountNumber: o.Payee.AccountNumber,
			HolderName:    o.Payee.Name,
		}
		tx.Description = describe(o.Memo, "Bill payment to "+o.Payee.Name, "")
		stamp(tx, o)
	})
	if err != nil {
		return nil, err
	}
	return newResult(owner, o, a.AccountNumber, ref, o.Amount, tx.BalanceAfter, tx), nil
}

func (uc *MovementUsecase) orderChecks(ctx context.Context, r repository.Repositories, owner domain.Owner, o *domain.CheckOrder, now time.Time) (*domain.OperationResult, error) {
	fee, err := fees.CheckOrderFee(o.Quantity, o.Style, o.DeliverySpeed)
	if err != nil {
		return nil, err
	}
	a, err := resolveSource(ctx, r, owner, o.AccountNumber)
	if err != nil {
		return nil, err
	}
	ref, err := uc.reference(utils.PrefixCheckOrder, now)
	if err != nil {
		return nil, err
	}

	tx, err := uc.debit(ctx, r, a, fee, domain.CategoryFee, ref, now, func(tx *domain.Transaction) {
		tx.Description = fmt.Sprintf("Check order: %d %s checks, %s delivery",
			o.Quantity, orDefault(string(o.Style), "standard"), orDefault(string(o.DeliverySpeed), "standard"))
		stamp(tx, o)
	})
	if err != nil {
		return nil, err
	}

	result := newResult(owner, o, a.AccountNumber, ref, fee, tx.BalanceAfter, tx)
	result.Fee = fee
	result.Details["fee"] = fee.StringFixed(2)
	return result, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ===============================
// Cancel
// ===============================

// cancel reverses a completed record within the cancel window. Both legs of a
// same-ledger transfer are reversed together under one REV reference.
func (uc *MovementUsecase) cancel(ctx context.Context, r repository.Repositories, owner domain.Owner, o *domain.Cancel, now time.Time) (*domain.OperationResult, error) {
	target, err := r.Transactions.GetByID(ctx, o.TransactionID)
	if err != nil {
		return nil, err
	}
	if target.OwnerID != owner.ID {
		return nil, xerrors.ErrTransactionNotFound
	}
	if target.Category == domain.CategoryReversal || target.Status != domain.TransactionCompleted {
		return nil, xerrors.ErrNotCancellable
	}
	if now.Sub(target.CreatedAt) > uc.cancelWindow {
		return nil, xerrors.ErrCancelWindowExpired
	}

	legs := []*domain.Transaction{target}
	if target.Category == domain.CategoryTransfer && target.RelatedTransactionID != nil {
		related, err := r.Transactions.GetByID(ctx, *target.RelatedTransactionID)
		if err != nil {
			return nil, err
		}
		legs = append(legs, related)
	}
	for _, leg := range legs {
		// only the sender may undo a transfer
		if leg.Direction == domain.DirectionDebit && leg.OwnerID != owner.ID {
			return nil, xerrors.Forbidden("only the sender may cancel a transfer")
		}
	}

	ref, err := uc.reference(utils.PrefixReversal, now)
	if err != nil {
		return nil, err
	}

	ordered := append([]*domain.Transaction(nil), legs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].AccountID < ordered[j].AccountID })

	reversals := make(map[string]*domain.Transaction, len(legs))
	for _, leg := range ordered {
		rev, err := uc.reverse(ctx, r, leg, ref, o.Reason, now)
		if err != nil {
			return nil, err
		}
		reversals[leg.ID] = rev
	}

	primary := reversals[target.ID]
	stamp(primary, o)
	txs := []*domain.Transaction{primary}
	for _, leg := range legs[1:] {
		txs = append(txs, reversals[leg.ID])
	}
	for _, tx := range txs {
		if err := r.Transactions.Append(ctx, tx); err != nil {
			return nil, err
		}
	}

	result := newResult(owner, o, target.AccountNumber, ref, target.Amount, primary.BalanceAfter, txs...)
	result.Details["original_reference"] = target.Reference
	result.Details["reversed_legs"] = len(legs)
	return result, nil
}

// reverse flips leg to cancelled and applies the opposite delta. Reversing a
// credit is a debit and obeys the overdraft rule like any other debit. An
// account that is inactive or closed cannot be touched by a reversal, the
// same as by any other movement.
func (uc *MovementUsecase) reverse(ctx context.Context, r repository.Repositories, leg *domain.Transaction, ref, reason string, now time.Time) (*domain.Transaction, error) {
	a, err := r.Accounts.GetByID(ctx, leg.AccountID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, xerrors.ErrAccountInactive
	}

	if err := r.Transactions.MarkCancelled(ctx, leg.ID, now); err != nil {
		return nil, err
	}

	delta := leg.SignedAmount().Neg()
	balance, err := r.Accounts.AdjustBalance(ctx, a.ID, delta, delta.IsNegative())
	if err != nil {
		return nil, err
	}

	rev, err := uc.record(a, leg.Direction.Opposite(), leg.Amount, domain.CategoryReversal, ref, balance, now)
	if err != nil {
		return nil, err
	}
	rev.Source = leg.Destination
	rev.Destination = leg.Source
	rev.RelatedTransactionID = &leg.ID
	rev.Description = "Reversal of " + leg.Reference
	if reason != "" {
		rev.Description += ": " + reason
	}
	return rev, nil
}

// ===============================
// Idempotent replay
// ===============================

// replay rebuilds the result of the operation that first used op's key. The
// key must come back with the same request it was first used for.
func (uc *MovementUsecase) replay(ctx context.Context, owner domain.Owner, op domain.Operation) (*domain.OperationResult, error) {
	txs := uc.store.Repos().Transactions
	primary, err := txs.GetByIdempotencyKey(ctx, owner.ID, op.Key())
	if err != nil {
		return nil, err
	}
	if domain.OperationFor(primary.Category) != op.Type() {
		return nil, xerrors.Conflict("idempotency key %q was used for a different operation", op.Key())
	}
	if primary.RequestFingerprint == nil || *primary.RequestFingerprint != op.Fingerprint() {
		return nil, xerrors.Conflict("idempotency key %q was used with different parameters", op.Key())
	}

	group, err := txs.GetByReference(ctx, primary.Reference)
	if err != nil {
		return nil, xerrors.Internal("replay", err)
	}
	records := []*domain.Transaction{primary}
	for _, tx := range group {
		if tx.ID != primary.ID && tx.OwnerID == owner.ID {
			records = append(records, tx)
		}
	}

	details := op.Details()
	details["reference"] = primary.Reference
	result := &domain.OperationResult{
		Type:          op.Type(),
		OwnerID:       owner.ID,
		AccountNumber: primary.AccountNumber,
		Reference:     primary.Reference,
		Amount:        primary.Amount,
		Fee:           decimal.Zero,
		NewBalance:    primary.BalanceAfter,
		Transactions:  records,
		Details:       details,
		Replayed:      true,
	}
	if op.Type() == domain.OperationCheckOrder {
		result.Fee = primary.Amount
		details["fee"] = primary.Amount.StringFixed(2)
	}
	return result, nil
}
