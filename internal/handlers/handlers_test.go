package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/opendraft/billing-backend/internal/config"
	"github.com/opendraft/billing-backend/internal/database"
	"github.com/opendraft/billing-backend/internal/handlers"
	"github.com/opendraft/billing-backend/internal/locker"
	"github.com/opendraft/billing-backend/internal/models"
	"github.com/opendraft/billing-backend/internal/plans"
	"github.com/opendraft/billing-backend/internal/razorpay"
	"github.com/opendraft/billing-backend/internal/repository"
	"github.com/opendraft/billing-backend/internal/routes"
	"github.com/opendraft/billing-backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testSecret     = "whsec_test"
	testJWTSecret  = "jwt_test_secret"
	testAdminToken = "admin-token"
)

type testServer struct {
	app *fiber.App
	db  *gorm.DB
}

func newTestServer(t *testing.T, webhookSecret string) *testServer {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.MigrateMirror(db))

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		JWTSecret:      testJWTSecret,
		AdminEmails:    "Admin@theopendraft.com",
		AdminTokenHash: string(hash),
		CORSOrigins:    "*",
	}
	cfg.Razorpay.WebhookSecret = webhookSecret
	cfg.Razorpay.GraceWindow = 10 * time.Minute

	catalog := plans.NewCatalog("INR")
	txns := repository.NewTransactionRepository(db)
	subs := repository.NewSubscriptionRepository(db)
	syncService := services.NewSyncService(subs, repository.NewMirrorRepository(db))
	ledger := services.NewTransactionLedger(txns, "INR")
	subscriptionService := services.NewSubscriptionService(subs, ledger, catalog, syncService)
	webhookService := services.NewWebhookService(
		repository.NewWebhookEventRepository(db),
		services.NewPaymentClassifier(subs, catalog, cfg.Razorpay.GraceWindow),
		ledger,
		subscriptionService,
		locker.Noop{},
	)

	app := fiber.New()
	routes.Setup(app, cfg,
		handlers.NewHealthHandler(db, db, locker.Noop{}, catalog),
		handlers.NewWebhookHandler(webhookService, cfg.Razorpay.WebhookSecret),
		handlers.NewAdminHandler(ledger, subscriptionService, syncService, webhookService),
	)
	return &testServer{app: app, db: db}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func (s *testServer) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(model).Count(&n).Error)
	return n
}

func webhookRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/razorpay/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(razorpay.SignatureHeader, signature)
	}
	return req
}

const capturedBody = `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","amount":7900,"notes":{"userEmail":"x@y.com","planType":"seedling"}}}}}`

func TestWebhook_ValidDelivery(t *testing.T) {
	s := newTestServer(t, testSecret)

	status, body := s.do(t, webhookRequest(capturedBody, razorpay.Sign([]byte(capturedBody), testSecret)))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["received"])

	var txn models.Transaction
	require.NoError(t, s.db.Where("payment_id = ?", "pay_1").First(&txn).Error)
	assert.Equal(t, int64(79), txn.Amount)
	assert.Equal(t, models.TransactionTypeOneTime, txn.Type)
	assert.Equal(t, int64(1), s.count(t, &models.WebhookEvent{}))
}

func TestWebhook_SignatureRejection(t *testing.T) {
	s := newTestServer(t, testSecret)
	valid := razorpay.Sign([]byte(capturedBody), testSecret)

	tests := []struct {
		name      string
		signature string
	}{
		{name: "missing", signature: ""},
		{name: "different", signature: razorpay.Sign([]byte(capturedBody), "other_secret")},
		{name: "truncated", signature: valid[:len(valid)-2]},
		{name: "garbage", signature: "not-a-signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, webhookRequest(capturedBody, tt.signature))
			assert.Equal(t, fiber.StatusUnauthorized, status)
			assert.NotEmpty(t, body["error"])
		})
	}

	assert.Equal(t, int64(0), s.count(t, &models.Transaction{}))
	assert.Equal(t, int64(0), s.count(t, &models.WebhookEvent{}))
}

func TestWebhook_MissingSecret(t *testing.T) {
	s := newTestServer(t, "")
	status, body := s.do(t, webhookRequest(capturedBody, razorpay.Sign([]byte(capturedBody), testSecret)))
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, int64(0), s.count(t, &models.Transaction{}))
}

func TestWebhook_MalformedPayload(t *testing.T) {
	s := newTestServer(t, testSecret)
	for _, raw := range []string{
		`{"event":`,
		`{"event":"payment.captured","payload":{"payment":{"entity":{"amount":100}}}}`,
	} {
		status, body := s.do(t, webhookRequest(raw, razorpay.Sign([]byte(raw), testSecret)))
		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.NotEmpty(t, body["error"])
	}
	assert.Equal(t, int64(0), s.count(t, &models.WebhookEvent{}))
}

func TestWebhook_ProcessingFailureStillAcknowledged(t *testing.T) {
	s := newTestServer(t, testSecret)
	raw := `{"event":"subscription.cancelled","payload":{"subscription":{"entity":{"id":"sub_unknown"}}}}`

	req := webhookRequest(raw, razorpay.Sign([]byte(raw), testSecret))
	req.Header.Set(razorpay.EventIDHeader, "evt_cancel_1")
	status, body := s.do(t, req)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["received"])

	var ev models.WebhookEvent
	require.NoError(t, s.db.Where("provider_event_id = ?", "evt_cancel_1").First(&ev).Error)
	assert.Contains(t, ev.ProcessingError, "subscription not found")
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	s := newTestServer(t, testSecret)
	sig := razorpay.Sign([]byte(capturedBody), testSecret)

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, webhookRequest(capturedBody, sig))
		assert.Equal(t, fiber.StatusOK, status)
	}
	assert.Equal(t, int64(1), s.count(t, &models.Transaction{}))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testSecret)
	status, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["db"])
	assert.Equal(t, "shared", body["mirror_db"])
	assert.Equal(t, "disabled", body["redis"])
}

func adminToken(t *testing.T, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func TestAdmin_Auth(t *testing.T) {
	s := newTestServer(t, testSecret)
	path := "/api/admin/transactions?email=x@y.com"

	status, _ := s.do(t, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, fiber.StatusUnauthorized, status)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Admin-Token", "wrong")
	status, _ = s.do(t, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Admin-Token", testAdminToken)
	status, _ = s.do(t, req)
	assert.Equal(t, fiber.StatusOK, status)

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin@theopendraft.com"))
	status, _ = s.do(t, req)
	assert.Equal(t, fiber.StatusOK, status)

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "reader@theopendraft.com"))
	status, _ = s.do(t, req)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func adminRequest(method, path string, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-Admin-Token", testAdminToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestAdmin_TransactionsAndSubscriptions(t *testing.T) {
	s := newTestServer(t, testSecret)
	s.do(t, webhookRequest(capturedBody, razorpay.Sign([]byte(capturedBody), testSecret)))

	status, body := s.do(t, adminRequest(http.MethodGet, "/api/admin/transactions?email=X@Y.com&limit=500", ""))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])

	status, _ = s.do(t, adminRequest(http.MethodGet, "/api/admin/transactions", ""))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = s.do(t, adminRequest(http.MethodGet, "/api/admin/subscriptions/sub_missing", ""))
	assert.Equal(t, fiber.StatusNotFound, status)

	require.NoError(t, s.db.Create(&models.Subscription{SubscriptionID: "sub_1", UserEmail: "a@b.com",
		Amount: 499, Status: models.SubscriptionStatusActive}).Error)

	status, body = s.do(t, adminRequest(http.MethodGet, "/api/admin/subscriptions/sub_1", ""))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "sub_1", body["subscription_id"])
}

func TestAdmin_Sync(t *testing.T) {
	s := newTestServer(t, testSecret)
	require.NoError(t, s.db.Create(&models.Subscription{SubscriptionID: "sub_1", UserEmail: "a@b.com",
		Amount: 499, Status: models.SubscriptionStatusActive}).Error)

	status, _ := s.do(t, adminRequest(http.MethodPost, "/api/admin/subscriptions/sync", `{"email":"not-an-email"}`))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = s.do(t, adminRequest(http.MethodPost, "/api/admin/subscriptions/sync", `{"email":"nobody@b.com"}`))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body := s.do(t, adminRequest(http.MethodPost, "/api/admin/subscriptions/sync", `{"email":"A@B.com"}`))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["synced"])
	assert.Equal(t, int64(1), s.count(t, &models.SubscriptionMirror{}))
}

func TestAdmin_FailedWebhookEvents(t *testing.T) {
	s := newTestServer(t, testSecret)
	raw := `{"event":"subscription.paused","payload":{"subscription":{"entity":{"id":"sub_unknown"}}}}`
	s.do(t, webhookRequest(raw, razorpay.Sign([]byte(raw), testSecret)))

	status, body := s.do(t, adminRequest(http.MethodGet, "/api/admin/webhook-events/failed", ""))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])
}
