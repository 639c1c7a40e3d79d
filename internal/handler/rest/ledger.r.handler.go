package hrest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/response"
	"ledger-service/pkg/xerrors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	HeaderOwnerID   = "X-Owner-ID"
	HeaderOwnerName = "X-Owner-Name"
)

type LedgerRestHandler struct {
	accountUC      *usecase.AccountUsecase
	bankingUC      *usecase.BankingUsecase
	ledgerUC       *usecase.LedgerUsecase
	confirmationUC *usecase.ConfirmationUsecase
	logger         *zap.Logger
}

func NewLedgerRestHandler(
	accountUC *usecase.AccountUsecase,
	bankingUC *usecase.BankingUsecase,
	ledgerUC *usecase.LedgerUsecase,
	confirmationUC *usecase.ConfirmationUsecase,
	logger *zap.Logger,
) *LedgerRestHandler {
	return &LedgerRestHandler{
		accountUC:      accountUC,
		bankingUC:      bankingUC,
		ledgerUC:       ledgerUC,
		confirmationUC: confirmationUC,
		logger:         logger,
	}
}

// ===============================
// Owner identity
// ===============================

type ownerKey struct{}

// requireOwner reads the identity forwarded by the upstream auth layer.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := domain.Owner{
			ID:   r.Header.Get(HeaderOwnerID),
			Name: r.Header.Get(HeaderOwnerName),
		}
		if err := owner.Validate(); err != nil {
			response.Fail(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(r *http.Request) domain.Owner {
	owner, _ := r.Context().Value(ownerKey{}).(domain.Owner)
	return owner
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return xerrors.Validation("invalid request body")
	}
	return nil
}

func (h *LedgerRestHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if xerrors.KindOf(err) == xerrors.KindInternal {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	response.Fail(w, err)
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, xerrors.Validation("invalid limit")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, xerrors.Validation("invalid offset")
		}
	}
	return limit, offset, nil
}

func timeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, xerrors.Validation("%s must be an RFC3339 timestamp", name)
	}
	return &t, nil
}

// ===============================
// Accounts
// ===============================

func (h *LedgerRestHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accountUC.Onboard(r.Context(), ownerFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, accounts)
}

type openAccountRequest struct {
	Type string `json:"type"`
}

func (h *LedgerRestHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var in openAccountRequest
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.accountUC.OpenAccount(r.Context(), ownerFrom(r), in.Type)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, account)
}

func (h *LedgerRestHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	accounts, err := h.accountUC.ListAccounts(r.Context(), ownerFrom(r), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, accounts)
}

func (h *LedgerRestHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountUC.GetAccount(r.Context(), ownerFrom(r), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, account)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *LedgerRestHandler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	var in statusRequest
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.accountUC.SetStatus(r.Context(), ownerFrom(r), chi.URLParam(r, "number"), in.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, account)
}

type overdraftRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *LedgerRestHandler) SetOverdraft(w http.ResponseWriter, r *http.Request) {
	var in overdraftRequest
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	if in.Enabled == nil {
		h.fail(w, r, xerrors.Validation("enabled is required"))
		return
	}
	account, err := h.accountUC.SetOverdraftProtection(r.Context(), ownerFrom(r), chi.URLParam(r, "number"), *in.Enabled)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, account)
}

// ===============================
// Money movement
// ===============================

// submit decodes a money operation of type T and runs it.
func submit[T any, P interface {
	*T
	domain.Operation
}](h *LedgerRestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op := P(new(T))
		if err := decode(r, op); err != nil {
			h.fail(w, r, err)
			return
		}
		if key := r.Header.Get("Idempotency-Key"); key != "" {
			setKey(op, key)
		}
		h.respondReceipt(w, r, op)
	}
}

// setKey lets the Idempotency-Key header stand in for the body field.
func setKey(op domain.Operation, key string) {
	switch o := op.(type) {
	case *domain.Deposit:
		o.IdempotencyKey = key
	case *domain.Withdrawal:
		o.IdempotencyKey = key
	case *domain.Transfer:
		o.IdempotencyKey = key
	case *domain.BillPayment:
		o.IdempotencyKey = key
	case *domain.CheckOrder:
		o.IdempotencyKey = key
	case *domain.Cancel:
		o.IdempotencyKey = key
	}
}

func (h *LedgerRestHandler) respondReceipt(w http.ResponseWriter, r *http.Request, op domain.Operation) {
	receipt, err := h.bankingUC.Submit(r.Context(), ownerFrom(r), op)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if receipt.Result.Replayed {
		status = http.StatusOK
	}
	response.JSON(w, status, receipt)
}

type cancelRequest struct {
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *LedgerRestHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	var in cancelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &in); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	op := &domain.Cancel{
		TransactionID:  chi.URLParam(r, "id"),
		Reason:         in.Reason,
		IdempotencyKey: in.IdempotencyKey,
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		op.IdempotencyKey = key
	}
	h.respondReceipt(w, r, op)
}

// ===============================
// Ledger
// ===============================

func (h *LedgerRestHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pageParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, err := timeParam(r, "from")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	txs, err := h.ledgerUC.History(r.Context(), ownerFrom(r), usecase.HistoryQuery{
		AccountNumber: q.Get("account_number"),
		Category:      q.Get("category"),
		Status:        q.Get("status"),
		Direction:     q.Get("direction"),
		From:          from,
		To:            to,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, txs)
}

func (h *LedgerRestHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledgerUC.GetTransaction(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, tx)
}

func (h *LedgerRestHandler) GetByReference(w http.ResponseWriter, r *http.Request) {
	txs, err := h.ledgerUC.GetByReference(r.Context(), ownerFrom(r), chi.URLParam(r, "reference"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, txs)
}

// ===============================
// Confirmations
// ===============================

func (h *LedgerRestHandler) ListConfirmations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.confirmationUC.List(r.Context(), ownerFrom(r), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, list)
}

func (h *LedgerRestHandler) GetConfirmation(w http.ResponseWriter, r *http.Request) {
	c, err := h.confirmationUC.Get(r.Context(), ownerFrom(r), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, c)
}

func (h *LedgerRestHandler) MarkDownloaded(w http.ResponseWriter, r *http.Request) {
	c, err := h.confirmationUC.MarkDownloaded(r.Context(), ownerFrom(r), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, c)
}

func (h *LedgerRestHandler) MarkPrinted(w http.ResponseWriter, r *http.Request) {
	c, err := h.confirmationUC.MarkPrinted(r.Context(), ownerFrom(r), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, c)
}
