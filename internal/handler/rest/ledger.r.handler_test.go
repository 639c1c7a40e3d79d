package hrest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository/memory"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	gen := utils.NewReferenceGenerator()

	accounts := usecase.NewAccountUsecase(store, gen, domain.AccountPolicy{}, logger)
	movement := usecase.NewMovementUsecase(store, gen, usecase.DefaultCancelWindow, logger)
	confirmations := usecase.NewConfirmationUsecase(store, gen, nil, nil, time.Minute, logger)
	banking := usecase.NewBankingUsecase(movement, confirmations, nil, nil, time.Minute, logger)
	ledger := usecase.NewLedgerUsecase(store)

	h := NewLedgerRestHandler(accounts, banking, ledger, confirmations, logger)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, owner string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(HeaderOwnerID, owner)
		req.Header.Set(HeaderOwnerName, "Test "+owner)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestMoneyFlowOverREST(t *testing.T) {
	srv := newTestServer(t)

	status, env := call(t, srv, http.MethodPost, "/v1/accounts/onboard", "alice", nil)
	require.Equal(t, http.StatusCreated, status)
	var accounts []domain.Account
	require.NoError(t, json.Unmarshal(env.Data, &accounts))
	require.Len(t, accounts, 2)
	checking, savings := accounts[0].AccountNumber, accounts[1].AccountNumber

	status, env = call(t, srv, http.MethodPost, "/v1/deposits", "alice", map[string]any{
		"account_number": checking,
		"amount":         "1000",
	})
	require.Equal(t, http.StatusCreated, status)
	var receipt domain.Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, "1000", receipt.Result.NewBalance.String())
	require.NotNil(t, receipt.Confirmation)

	status, env = call(t, srv, http.MethodPost, "/v1/transfers", "alice", map[string]any{
		"from_account_number": checking,
		"to_account_number":   savings,
		"amount":              300,
	})
	require.Equal(t, http.StatusCreated, status)
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, "700", receipt.Result.NewBalance.String())
	transferID := receipt.Result.Transactions[0].ID

	status, env = call(t, srv, http.MethodPost, "/v1/withdrawals", "alice", map[string]any{
		"account_number": savings,
		"amount":         "5000",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.False(t, env.Success)
	assert.Equal(t, "insufficient_funds", env.Error.Kind)

	status, _ = call(t, srv, http.MethodPost, "/v1/transactions/"+transferID+"/cancel", "alice", map[string]any{"reason": "typo"})
	assert.Equal(t, http.StatusCreated, status)

	status, env = call(t, srv, http.MethodGet, "/v1/accounts/"+checking, "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var account domain.Account
	require.NoError(t, json.Unmarshal(env.Data, &account))
	assert.Equal(t, "1000", account.Balance.String())

	status, env = call(t, srv, http.MethodGet, "/v1/transactions?account_number="+checking+"&category=transfer", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var txs []domain.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionCancelled, txs[0].Status)

	status, env = call(t, srv, http.MethodGet, "/v1/confirmations", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var confs []domain.Confirmation
	require.NoError(t, json.Unmarshal(env.Data, &confs))
	assert.Len(t, confs, 3)
}

func TestIdempotencyKeyHeader(t *testing.T) {
	srv := newTestServer(t)
	_, env := call(t, srv, http.MethodPost, "/v1/accounts", "alice", map[string]any{"type": "checking"})
	var account domain.Account
	require.NoError(t, json.Unmarshal(env.Data, &account))

	body := map[string]any{"account_number": account.AccountNumber, "amount": "10", "idempotency_key": "abc"}
	status, _ := call(t, srv, http.MethodPost, "/v1/deposits", "alice", body)
	assert.Equal(t, http.StatusCreated, status)
	status, env = call(t, srv, http.MethodPost, "/v1/deposits", "alice", body)
	assert.Equal(t, http.StatusOK, status)

	var receipt domain.Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.True(t, receipt.Result.Replayed)
	assert.Equal(t, "10", receipt.Result.NewBalance.String())
}

func TestRequestErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		owner  string
		body   any
		status int
		kind   string
	}{
		{"missing owner", http.MethodGet, "/v1/accounts", "", nil, http.StatusForbidden, "authorization"},
		{"bad account type", http.MethodPost, "/v1/accounts", "alice", map[string]any{"type": "gold"}, http.StatusBadRequest, "validation"},
		{"unknown account", http.MethodGet, "/v1/accounts/1234567890", "alice", nil, http.StatusNotFound, "not_found"},
		{"negative amount", http.MethodPost, "/v1/deposits", "alice", map[string]any{"account_number": "1234567890", "amount": "-1"}, http.StatusBadRequest, "validation"},
		{"bad body", http.MethodPost, "/v1/withdrawals", "alice", "not an object", http.StatusBadRequest, "validation"},
		{"bad time", http.MethodGet, "/v1/transactions?from=yesterday", "alice", nil, http.StatusBadRequest, "validation"},
		{"missing overdraft flag", http.MethodPatch, "/v1/accounts/1234567890/overdraft", "alice", map[string]any{}, http.StatusBadRequest, "validation"},
		{"unknown confirmation", http.MethodGet, "/v1/confirmations/TXN-1-AAAAAA", "alice", nil, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := call(t, srv, tt.method, tt.path, tt.owner, tt.body)
			assert.Equal(t, tt.status, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.kind, env.Error.Kind)
		})
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	status, env := call(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}
