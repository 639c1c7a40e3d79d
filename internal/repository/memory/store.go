// Package memory is an in-process Store used by tests and by STORE_DRIVER=memory.
//
// Committed state is never mutated by a unit of work: WithTx stages a copy of
// the maps, records are replaced rather than edited, and the copy is swapped
// in only when the unit of work succeeds. One mutex serializes units of work.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

type state struct {
	accounts       map[string]*domain.Account
	accountNumbers map[string]string // number -> id

	txs         map[string]*domain.Transaction
	refDirs     map[string]struct{} // reference|direction
	idempotency map[string]string   // owner|key -> tx id

	confirmations       map[string]*domain.Confirmation
	confirmationNumbers map[string]string // number -> id
	confirmationTxs     map[string]string // transaction id -> id
}

func newState() *state {
	return &state{
		accounts:            make(map[string]*domain.Account),
		accountNumbers:      make(map[string]string),
		txs:                 make(map[string]*domain.Transaction),
		refDirs:             make(map[string]struct{}),
		idempotency:         make(map[string]string),
		confirmations:       make(map[string]*domain.Confirmation),
		confirmationNumbers: make(map[string]string),
		confirmationTxs:     make(map[string]string),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		accounts:            cloneMap(s.accounts),
		accountNumbers:      cloneMap(s.accountNumbers),
		txs:                 cloneMap(s.txs),
		refDirs:             cloneMap(s.refDirs),
		idempotency:         cloneMap(s.idempotency),
		confirmations:       cloneMap(s.confirmations),
		confirmationNumbers: cloneMap(s.confirmationNumbers),
		confirmationTxs:     cloneMap(s.confirmationTxs),
	}
}

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{state: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Repos() repository.Repositories {
	return s.repos(nil)
}

// WithTx holds the store mutex for the whole unit of work. fn must only use
// the repositories it is handed.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(ctx, s.repos(staged)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.state = staged
	return nil
}

func (s *Store) repos(tx *state) repository.Repositories {
	b := binding{store: s, tx: tx}
	return repository.Repositories{
		Accounts:      &accountRepo{b},
		Transactions:  &transactionRepo{b},
		Confirmations: &confirmationRepo{b},
	}
}

// binding routes a repository call to the staged state of a unit of work, or
// to the committed state under the store mutex.
type binding struct {
	store *Store
	tx    *state
}

func (b binding) run(fn func(st *state) error) error {
	if b.tx != nil {
		return fn(b.tx)
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return fn(b.store.state)
}

func (b binding) now() time.Time {
	return b.store.now()
}

// ===============================
// Accounts
// ===============================

type accountRepo struct{ binding }

func copyAccount(a *domain.Account) *domain.Account {
	cp := *a
	return &cp
}

func (r *accountRepo) Create(_ context.Context, a *domain.Account) error {
	return r.run(func(st *state) error {
		if _, ok := st.accountNumbers[a.AccountNumber]; ok {
			return xerrors.ErrDuplicateAccountNumber
		}
		if _, ok := st.accounts[a.ID]; ok {
			return fmt.Errorf("failed to create account: duplicate id %s", a.ID)
		}
		st.accounts[a.ID] = copyAccount(a)
		st.accountNumbers[a.AccountNumber] = a.ID
		return nil
	})
}

func (r *accountRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	var out *domain.Account
	err := r.run(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return xerrors.ErrAccountNotFound
		}
		out = copyAccount(a)
		return nil
	})
	return out, err
}

func (r *accountRepo) GetByNumber(_ context.Context, number, ownerID string) (*domain.Account, error) {
	var out *domain.Account
	err := r.run(func(st *state) error {
		id, ok := st.accountNumbers[number]
		if !ok {
			return xerrors.ErrAccountNotFound
		}
		a := st.accounts[id]
		if ownerID != "" && a.OwnerID != ownerID {
			return xerrors.ErrAccountNotFound
		}
		out = copyAccount(a)
		return nil
	})
	return out, err
}

func (r *accountRepo) ListByOwner(_ context.Context, ownerID string, activeOnly bool) ([]*domain.Account, error) {
	var out []*domain.Account
	err := r.run(func(st *state) error {
		for _, a := range st.accounts {
			if a.OwnerID != ownerID || (activeOnly && !a.IsActive()) {
				continue
			}
			out = append(out, copyAccount(a))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].AccountNumber < out[j].AccountNumber
	})
	return out, err
}

func (r *accountRepo) ExistsByOwnerAndType(_ context.Context, ownerID string, t domain.AccountType) (bool, error) {
	var exists bool
	err := r.run(func(st *state) error {
		for _, a := range st.accounts {
			if a.OwnerID == ownerID && a.Type == t && a.Status != domain.AccountStatusClosed {
				exists = true
				return nil
			}
		}
		return nil
	})
	return exists, err
}

func (r *accountRepo) AdjustBalance(_ context.Context, id string, delta decimal.Decimal, guard bool) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.run(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return xerrors.ErrAccountNotFound
		}
		if guard && delta.IsNegative() && !a.CanDebit(delta.Neg()) {
			return xerrors.ErrBalanceInsufficient
		}
		next := a.Balance.Add(delta)
		updated := copyAccount(a)
		updated.Balance = next
		updated.Version++
		updated.UpdatedAt = r.now()
		st.accounts[id] = updated
		balance = next
		return nil
	})
	return balance, err
}

func (r *accountRepo) SetStatus(_ context.Context, id string, from, to domain.AccountStatus) (*domain.Account, error) {
	var out *domain.Account
	err := r.run(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return xerrors.ErrAccountNotFound
		}
		if a.Status != from {
			return xerrors.ErrInvalidStatusTransition
		}
		if to == domain.AccountStatusClosed && !a.Balance.IsZero() {
			return xerrors.ErrNonZeroBalance
		}
		updated := copyAccount(a)
		updated.Status = to
		updated.UpdatedAt = r.now()
		st.accounts[id] = updated
		out = copyAccount(updated)
		return nil
	})
	return out, err
}

func (r *accountRepo) SetOverdraftProtection(_ context.Context, id string, enabled bool) (*domain.Account, error) {
	var out *domain.Account
	err := r.run(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return xerrors.ErrAccountNotFound
		}
		updated := copyAccount(a)
		updated.OverdraftProtection = enabled
		updated.UpdatedAt = r.now()
		st.accounts[id] = updated
		out = copyAccount(updated)
		return nil
	})
	return out, err
}

// ===============================
// Transactions
// ===============================

type transactionRepo struct{ binding }

func copyTransaction(t *domain.Transaction) *domain.Transaction {
	cp := *t
	return &cp
}

func refKey(reference string, d domain.Direction) string {
	return reference + "|" + string(d)
}

func idemKey(ownerID, key string) string {
	return ownerID + "|" + key
}

func (r *transactionRepo) Append(_ context.Context, t *domain.Transaction) error {
	return r.run(func(st *state) error {
		if _, ok := st.accounts[t.AccountID]; !ok {
			return xerrors.ErrAccountNotFound
		}
		if _, ok := st.txs[t.ID]; ok {
			return fmt.Errorf("failed to append transaction: duplicate id %s", t.ID)
		}
		if _, ok := st.refDirs[refKey(t.Reference, t.Direction)]; ok {
			return xerrors.ErrDuplicateReference
		}
		if t.IdempotencyKey != nil {
			if _, ok := st.idempotency[idemKey(t.OwnerID, *t.IdempotencyKey)]; ok {
				return xerrors.ErrDuplicateIdempotencyKey
			}
			st.idempotency[idemKey(t.OwnerID, *t.IdempotencyKey)] = t.ID
		}
		st.txs[t.ID] = copyTransaction(t)
		st.refDirs[refKey(t.Reference, t.Direction)] = struct{}{}
		return nil
	})
}

func (r *transactionRepo) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := r.run(func(st *state) error {
		t, ok := st.txs[id]
		if !ok {
			return xerrors.ErrTransactionNotFound
		}
		out = copyTransaction(t)
		return nil
	})
	return out, err
}

func (r *transactionRepo) GetByReference(_ context.Context, reference string) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := r.run(func(st *state) error {
		for _, t := range st.txs {
			if t.Reference == reference {
				out = append(out, copyTransaction(t))
			}
		}
		if len(out) == 0 {
			return xerrors.ErrTransactionNotFound
		}
		return nil
	})
	// debit leg first, matching the postgres ordering
	sort.Slice(out, func(i, j int) bool {
		if out[i].Direction != out[j].Direction {
			return out[i].Direction > out[j].Direction
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (r *transactionRepo) GetByIdempotencyKey(_ context.Context, ownerID, key string) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := r.run(func(st *state) error {
		id, ok := st.idempotency[idemKey(ownerID, key)]
		if !ok {
			return xerrors.ErrTransactionNotFound
		}
		out = copyTransaction(st.txs[id])
		return nil
	})
	return out, err
}

func matches(t *domain.Transaction, f domain.TransactionFilter) bool {
	switch {
	case f.AccountID != nil && t.AccountID != *f.AccountID:
		return false
	case f.Category != nil && t.Category != *f.Category:
		return false
	case f.Status != nil && t.Status != *f.Status:
		return false
	case f.Direction != nil && t.Direction != *f.Direction:
		return false
	case f.From != nil && t.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && !t.CreatedAt.Before(*f.To):
		return false
	}
	return true
}

func newestFirst(txs []*domain.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].ID > txs[j].ID
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	limit, offset = domain.Page(limit, offset)
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (r *transactionRepo) ListByOwner(_ context.Context, ownerID string, f domain.TransactionFilter) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := r.run(func(st *state) error {
		for _, t := range st.txs {
			if t.OwnerID == ownerID && matches(t, f) {
				out = append(out, copyTransaction(t))
			}
		}
		return nil
	})
	newestFirst(out)
	return paginate(out, f.Limit, f.Offset), err
}

func (r *transactionRepo) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := r.run(func(st *state) error {
		for _, t := range st.txs {
			if t.AccountID == accountID {
				out = append(out, copyTransaction(t))
			}
		}
		return nil
	})
	newestFirst(out)
	return paginate(out, limit, offset), err
}

func (r *transactionRepo) MarkCancelled(_ context.Context, id string, at time.Time) error {
	return r.run(func(st *state) error {
		t, ok := st.txs[id]
		if !ok {
			return xerrors.ErrTransactionNotFound
		}
		if t.Status != domain.TransactionCompleted {
			return xerrors.ErrNotCancellable
		}
		updated := copyTransaction(t)
		updated.Status = domain.TransactionCancelled
		updated.UpdatedAt = at
		st.txs[id] = updated
		return nil
	})
}

// ===============================
// Confirmations
// ===============================

type confirmationRepo struct{ binding }

func copyConfirmation(c *domain.Confirmation) *domain.Confirmation {
	cp := *c
	if c.Details != nil {
		cp.Details = cloneMap(c.Details)
	}
	return &cp
}

func (r *confirmationRepo) Create(_ context.Context, c *domain.Confirmation) error {
	return r.run(func(st *state) error {
		if _, ok := st.confirmationNumbers[c.Number]; ok {
			return xerrors.ErrDuplicateConfirmation
		}
		if c.TransactionID != nil {
			if _, ok := st.confirmationTxs[*c.TransactionID]; ok {
				return xerrors.ErrConfirmationExists
			}
			st.confirmationTxs[*c.TransactionID] = c.ID
		}
		st.confirmations[c.ID] = copyConfirmation(c)
		st.confirmationNumbers[c.Number] = c.ID
		return nil
	})
}

func lookupConfirmation(st *state, number, ownerID string) (*domain.Confirmation, error) {
	id, ok := st.confirmationNumbers[number]
	if !ok {
		return nil, xerrors.ErrConfirmationNotFound
	}
	c := st.confirmations[id]
	if ownerID != "" && c.OwnerID != ownerID {
		return nil, xerrors.ErrConfirmationNotFound
	}
	return c, nil
}

func (r *confirmationRepo) GetByNumber(_ context.Context, number, ownerID string) (*domain.Confirmation, error) {
	var out *domain.Confirmation
	err := r.run(func(st *state) error {
		c, err := lookupConfirmation(st, number, ownerID)
		if err != nil {
			return err
		}
		out = copyConfirmation(c)
		return nil
	})
	return out, err
}

func (r *confirmationRepo) GetByTransactionID(_ context.Context, transactionID string) (*domain.Confirmation, error) {
	var out *domain.Confirmation
	err := r.run(func(st *state) error {
		id, ok := st.confirmationTxs[transactionID]
		if !ok {
			return xerrors.ErrConfirmationNotFound
		}
		out = copyConfirmation(st.confirmations[id])
		return nil
	})
	return out, err
}

func (r *confirmationRepo) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]*domain.Confirmation, error) {
	var out []*domain.Confirmation
	err := r.run(func(st *state) error {
		for _, c := range st.confirmations {
			if c.OwnerID == ownerID {
				out = append(out, copyConfirmation(c))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, limit, offset), err
}

func (r *confirmationRepo) UpdateStatus(_ context.Context, id string, from, to domain.ConfirmationStatus, at time.Time) (*domain.Confirmation, error) {
	if !from.CanAdvance(to) {
		return nil, xerrors.Validation("confirmation status cannot move from %s to %s", from, to)
	}
	var out *domain.Confirmation
	err := r.run(func(st *state) error {
		c, ok := st.confirmations[id]
		if !ok {
			return xerrors.ErrConfirmationNotFound
		}
		if c.Status != from {
			return xerrors.Validation("confirmation %s is no longer %s", id, from)
		}
		updated := copyConfirmation(c)
		updated.Status = to
		updated.UpdatedAt = at
		st.confirmations[id] = updated
		out = copyConfirmation(updated)
		return nil
	})
	return out, err
}

func (r *confirmationRepo) mark(number, ownerID string, apply func(c *domain.Confirmation)) (*domain.Confirmation, error) {
	var out *domain.Confirmation
	err := r.run(func(st *state) error {
		c, err := lookupConfirmation(st, number, ownerID)
		if err != nil {
			return err
		}
		updated := copyConfirmation(c)
		apply(updated)
		st.confirmations[c.ID] = updated
		out = copyConfirmation(updated)
		return nil
	})
	return out, err
}

func (r *confirmationRepo) MarkDownloaded(_ context.Context, number, ownerID string, at time.Time) (*domain.Confirmation, error) {
	return r.mark(number, ownerID, func(c *domain.Confirmation) {
		c.ReceiptDownloaded = true
		if c.DownloadedAt == nil {
			c.DownloadedAt = &at
		}
		c.UpdatedAt = at
	})
}

func (r *confirmationRepo) MarkPrinted(_ context.Context, number, ownerID string, at time.Time) (*domain.Confirmation, error) {
	return r.mark(number, ownerID, func(c *domain.Confirmation) {
		c.ReceiptPrinted = true
		if c.PrintedAt == nil {
			c.PrintedAt = &at
		}
		c.UpdatedAt = at
	})
}
