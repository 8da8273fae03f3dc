package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/franciscozunigap/sofinance/internal/auth"
	"github.com/franciscozunigap/sofinance/internal/balance"
	"github.com/franciscozunigap/sofinance/internal/cache"
	"github.com/franciscozunigap/sofinance/internal/core"
	"github.com/franciscozunigap/sofinance/internal/errs"
	"github.com/franciscozunigap/sofinance/internal/kv"
	"github.com/franciscozunigap/sofinance/internal/log"
	"github.com/franciscozunigap/sofinance/internal/offline"
	"github.com/franciscozunigap/sofinance/internal/store"
	"github.com/franciscozunigap/sofinance/internal/user"
)

type testEnv struct {
	server *Server
	router http.Handler
	store  *unreliableStore
	queue  *offline.Queue
}

// unreliableStore passes through to MemoryStore until failTransactions is
// set, then fails every transaction with a retryable error.
type unreliableStore struct {
	*store.MemoryStore
	failTransactions bool
}

func (u *unreliableStore) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	if u.failTransactions {
		return fmt.Errorf("write batch: %w", errs.ErrUnavailable)
	}
	return u.MemoryStore.RunTransaction(ctx, fn)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := log.New(log.DefaultConfig())
	st := &unreliableStore{MemoryStore: store.NewMemoryStore()}
	c := cache.New(kv.NewMemory(), nil)
	provider := auth.NewLocal(st, "test-secret-0123456789")
	queue := offline.NewQueue(kv.NewMemory())

	balanceSvc := balance.NewService(st, c, provider, logger)
	userSvc := user.NewService(st, c, provider, logger)

	srv := NewServer("0", balanceSvc, userSvc, provider, provider, queue, logger)
	return &testEnv{
		server: srv,
		router: srv.Router(),
		store:  st,
		queue:  queue,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signUp(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/signup", "", map[string]any{
		"email":    "ana@example.com",
		"password": "secret-password",
		"name":     "Ana",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("signup returned no token")
	}
	return resp.Token
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSignUpAndSignIn(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t)

	rec := env.do(t, http.MethodPost, "/api/signin", "", map[string]string{
		"email":    "ana@example.com",
		"password": "secret-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("signin status = %d, body %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodPost, "/api/signin", "", map[string]string{
		"email":    "ana@example.com",
		"password": "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/signup", "", map[string]any{
		"email":    "ana@example.com",
		"password": "secret-password",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate signup status = %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/balance", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/balance", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", rec.Code)
	}
	var resp errorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error != errs.MsgUnauthenticated {
		t.Errorf("error message = %q", resp.Error)
	}
}

func TestRegisterAndReadBack(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t)

	rec := env.do(t, http.MethodPost, "/api/balance", token, map[string]any{
		"type":        "income",
		"description": "Sueldo",
		"amount":      "1500",
		"category":    "Ingreso",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body)
	}
	var reg core.Registration
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode registration: %v", err)
	}
	if !reg.BalanceAfter.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("BalanceAfter = %s, want 1500", reg.BalanceAfter)
	}

	rec = env.do(t, http.MethodGet, "/api/balance", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rec.Code)
	}
	var bal struct {
		Balance decimal.Decimal `json:"balance"`
	}
	json.Unmarshal(rec.Body.Bytes(), &bal)
	if !bal.Balance.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("balance = %s, want 1500", bal.Balance)
	}

	rec = env.do(t, http.MethodGet, "/api/history?limit=10", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var history []core.Registration
	json.Unmarshal(rec.Body.Bytes(), &history)
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1", len(history))
	}

	rec = env.do(t, http.MethodGet, "/api/summary", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rec.Code)
	}
}

func TestRegisterValidationError(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t)

	rec := env.do(t, http.MethodPost, "/api/balance", token, map[string]any{
		"type":   "income",
		"amount": "-50",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid amount status = %d, body %s", rec.Code, rec.Body)
	}

	ops, _ := env.queue.Pending(context.Background())
	if len(ops) != 0 {
		t.Errorf("validation failures must not be queued, got %d entries", len(ops))
	}
}

func TestRegisterAcceptsCommaAmount(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t)

	rec := env.do(t, http.MethodPost, "/api/balance", token, map[string]any{
		"type":        "expense",
		"description": "Mercado",
		"amount":      "120,50",
		"category":    "Necesidad",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body)
	}
	var reg core.Registration
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode registration: %v", err)
	}
	if !reg.Amount.Equal(decimal.RequireFromString("120.50")) {
		t.Errorf("amount = %s, want 120.50", reg.Amount)
	}

	rec = env.do(t, http.MethodPost, "/api/balance", token, map[string]any{
		"type":   "expense",
		"amount": "12,34,56",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed amount status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestRegisterRetryableFailureIsQueued(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t)
	env.store.failTransactions = true

	rec := env.do(t, http.MethodPost, "/api/balance", token, map[string]any{
		"type":        "expense",
		"description": "Mercado",
		"amount":      "120.50",
		"category":    "Necesidad",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body)
	}
	var resp errorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Queued || !resp.Retryable {
		t.Errorf("response = %+v, want queued retryable", resp)
	}

	ops, err := env.queue.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(ops) != 1 || ops[0].Type != offline.OpRegisterBalance {
		t.Fatalf("queue contents = %+v", ops)
	}

	var queued balance.PendingRegistration
	if err := json.Unmarshal(ops[0].Data, &queued); err != nil {
		t.Fatalf("decode queued input: %v", err)
	}
	if queued.UserID == "" {
		t.Error("queued operation must carry the user id")
	}
	if !queued.Input.Amount.Equal(decimal.RequireFromString("120.50")) {
		t.Errorf("queued amount = %s", queued.Input.Amount)
	}
}

func TestQueuedRegistrationReplaysAfterRecovery(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t)
	env.store.failTransactions = true

	rec := env.do(t, http.MethodPost, "/api/balance", token, map[string]any{
		"type":        "income",
		"description": "Sueldo",
		"amount":      "900",
		"category":    "Ingreso",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	env.store.failTransactions = false
	processor := offline.NewProcessor(env.queue, offline.ProcessorConfig{}, log.New(log.DefaultConfig()))
	processor.Register(offline.OpRegisterBalance, balance.ReplayHandler(env.server.balance))
	processor.Sweep(context.Background())

	ops, _ := env.queue.Pending(context.Background())
	if len(ops) != 0 {
		t.Fatalf("queue should drain after recovery, %d remain", len(ops))
	}

	rec = env.do(t, http.MethodGet, "/api/balance", token, nil)
	var bal struct {
		Balance decimal.Decimal `json:"balance"`
	}
	json.Unmarshal(rec.Body.Bytes(), &bal)
	if !bal.Balance.Equal(decimal.NewFromInt(900)) {
		t.Errorf("balance after replay = %s, want 900", bal.Balance)
	}
}

func TestMonthStats(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t)

	env.do(t, http.MethodPost, "/api/balance", token, map[string]any{
		"type":        "income",
		"description": "Sueldo",
		"amount":      "1000",
		"category":    "Ingreso",
	})

	rec := env.do(t, http.MethodGet, "/api/stats/1999/1", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("empty month status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/stats/2026/13", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid month status = %d", rec.Code)
	}
}

func TestValidateRecords(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t)

	rec := env.do(t, http.MethodPost, "/api/reconciliation/validate", token, map[string]any{
		"records": []map[string]any{
			{"amount": "100000", "type": "income", "category": "Ingreso"},
			{"amount": "30000", "type": "expense", "category": "Consumo"},
		},
		"delta": "70000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d, body %s", rec.Code, rec.Body)
	}
	var resp validateRecordsResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.IsValid {
		t.Errorf("expected valid set, got %+v", resp)
	}

	rec = env.do(t, http.MethodPost, "/api/reconciliation/validate", token, map[string]any{
		"records": []map[string]any{},
		"delta":   "500",
	})
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.IsValid {
		t.Error("empty record set must be invalid")
	}
	if resp.Message != "Debes agregar al menos un registro" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.Suggested == nil || !resp.Suggested.Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("suggested = %+v, want amount 500", resp.Suggested)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t)

	rec := env.do(t, http.MethodGet, "/api/user", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get profile status = %d, body %s", rec.Code, rec.Body)
	}
	var profile user.Profile
	json.Unmarshal(rec.Body.Bytes(), &profile)
	if profile.Name != "Ana" {
		t.Errorf("Name = %q", profile.Name)
	}

	profile.Name = "Ana María"
	rec = env.do(t, http.MethodPut, "/api/user", token, profile)
	if rec.Code != http.StatusOK {
		t.Fatalf("update profile status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/user", token, nil)
	json.Unmarshal(rec.Body.Bytes(), &profile)
	if profile.Name != "Ana María" {
		t.Errorf("updated Name = %q", profile.Name)
	}
}
