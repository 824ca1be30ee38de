package billing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/babysteps-billing/internal/cache"
	"github.com/magabrotheeeer/babysteps-billing/internal/config"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/babysteps-billing/internal/metrics"
	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/executor"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/reconciler"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/usage"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/usercontext"
	"github.com/magabrotheeeer/babysteps-billing/internal/storage/memory"
)

type testServer struct {
	srv   *httptest.Server
	store *memory.Store
	maker *jwt.Maker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisCache, err := cache.InitServer(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)

	cfg := &config.Config{
		IdempotencyTTL: time.Hour,
		RateLimit:      config.RateLimit{RPS: 1000, Burst: 1000},
	}

	store := memory.New()
	m := metrics.MustNew(prometheus.NewRegistry())
	creditsService := credits.New(store, logger, m)
	loader := usercontext.New(store)
	maker := jwt.NewMaker("test-secret", time.Hour)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, Services{
		Credits:     creditsService,
		Reconciler:  reconciler.New(store, creditsService, nil, logger, m),
		Usage:       usage.New(store, loader, creditsService, executor.New(creditsService, nil, logger, m), logger),
		Loader:      loader,
		Tokens:      maker,
		Idempotency: redisCache,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store, maker: maker}
}

func (s *testServer) do(t *testing.T, method, path, userID, role, body string, headers ...string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if userID != "" {
		token, err := s.maker.GenerateToken(userID, role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func (s *testServer) balance(t *testing.T, userID string) int {
	t.Helper()
	code, body := s.do(t, http.MethodGet, "/api/v1/credits/balance", userID, "user", "")
	require.Equal(t, http.StatusOK, code, body)
	var got struct {
		Balance int `json:"balance"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	return got.Balance
}

func TestRoutes_PurchaseReconcileSpend(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.store.CreatePaymentTransaction(ctx, &models.PaymentTransaction{
		ID:              "pay-1",
		UserID:          "u1",
		AmountInCents:   499,
		Currency:        "USD",
		PaymentMethod:   "bank_transfer",
		TransactionType: models.PaymentTypeCredits,
		Status:          models.PaymentPending,
		Metadata:        json.RawMessage(`{"credits":20}`),
	}))

	purchaseBody := `{"amount":499,"credits":20,"paymentTransactionId":"pay-1"}`

	code, _ := s.do(t, http.MethodPost, "/api/v1/credits/purchase", "u1", "user", purchaseBody)
	assert.Equal(t, http.StatusBadRequest, code, "pending payment cannot be granted")

	code, _ = s.do(t, http.MethodPost, "/api/v1/admin/payments/status", "u1", "user",
		`{"transactionId":"pay-1","status":"completed"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := s.do(t, http.MethodPost, "/api/v1/admin/payments/status", "admin-1", jwt.RoleAdmin,
		`{"transactionId":"pay-1","status":"completed","externalPaymentId":"bank-77"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"verifiedBy":"admin-1"`)
	assert.Equal(t, 20, s.balance(t, "u1"))

	code, body = s.do(t, http.MethodPost, "/api/v1/credits/purchase", "u1", "user", purchaseBody)
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"newBalance":20`)
	assert.Equal(t, 20, s.balance(t, "u1"), "grant is applied once")

	spendBody := `{"amount":5,"description":"premium template"}`
	for range 2 {
		code, body = s.do(t, http.MethodPost, "/api/v1/credits/spend", "u1", "user", spendBody,
			middlewarectx.IdempotencyKeyHeader, "spend-1")
		require.Equal(t, http.StatusOK, code, body)
		assert.Contains(t, body, `"newBalance":15`)
	}
	assert.Equal(t, 15, s.balance(t, "u1"), "replayed spend is not charged again")

	code, body = s.do(t, http.MethodPost, "/api/v1/credits/spend", "u1", "user", `{"amount":100,"description":"too much"}`)
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Contains(t, body, "insufficient credits")

	code, body = s.do(t, http.MethodGet, "/api/v1/credits/transactions", "u1", "user", "")
	require.Equal(t, http.StatusOK, code)
	var list []models.CreditTransaction
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list, 2)
	assert.Equal(t, models.CreditSpend, list[0].TransactionType)
	assert.Equal(t, models.CreditPurchase, list[1].TransactionType)

	code, body = s.do(t, http.MethodGet, "/api/v1/admin/payments?status=completed", "admin-1", jwt.RoleAdmin, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"id":"pay-1"`)
}

func TestRoutes_UsageAndDecide(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/v1/entitlements/decide", "u2", "user",
		`{"action":"access","subject":"Month","monthNumber":13}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"allowed":false`)

	code, _ = s.do(t, http.MethodPost, "/api/v1/usage", "u2", "user",
		`{"action":"access","subject":"Month","monthNumber":13}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/usage", "u2", "user",
		`{"action":"upload","subject":"Video","monthNumber":2}`)
	assert.Equal(t, http.StatusPaymentRequired, code)

	code, body = s.do(t, http.MethodPost, "/api/v1/usage", "u2", "user",
		`{"action":"create","subject":"Baby","monthNumber":1}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"chargeFailed":false`)

	code, body = s.do(t, http.MethodPost, "/api/v1/entitlements/decide", "u2", "user",
		`{"action":"create","subject":"Baby","monthNumber":1}`)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"creditsRequired":15`, "second baby is counted from recorded usage")
}

func TestRoutes_Unauthenticated(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/api/v1/credits/balance", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/health", "", "", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRoutes_AdminRefundAndPaymentLookup(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	refundBody := `{"userId":"u3","amount":4,"description":"failed export"}`

	code, _ := s.do(t, http.MethodPost, "/api/v1/admin/credits/refund", "u3", "user", refundBody)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Zero(t, s.balance(t, "u3"))

	for range 2 {
		code, body := s.do(t, http.MethodPost, "/api/v1/admin/credits/refund", "admin-1", jwt.RoleAdmin, refundBody,
			middlewarectx.IdempotencyKeyHeader, "refund-1")
		require.Equal(t, http.StatusOK, code, body)
		assert.Contains(t, body, `"newBalance":4`)
	}
	assert.Equal(t, 4, s.balance(t, "u3"), "replayed refund is not granted again")

	require.NoError(t, s.store.CreatePaymentTransaction(ctx, &models.PaymentTransaction{
		ID:              "pay-9",
		UserID:          "u3",
		AmountInCents:   999,
		Currency:        "USD",
		TransactionType: models.PaymentTypeSubscription,
		Status:          models.PaymentPending,
		Metadata:        json.RawMessage(`{"tier":"family","billingType":"monthly"}`),
	}))

	code, body := s.do(t, http.MethodGet, "/api/v1/admin/payments/pay-9", "admin-1", jwt.RoleAdmin, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"status":"pending"`)

	code, _ = s.do(t, http.MethodGet, "/api/v1/admin/payments/missing", "admin-1", jwt.RoleAdmin, "")
	assert.Equal(t, http.StatusNotFound, code)
}
