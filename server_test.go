package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/mmdatafocus/momo_backend/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testRouter(s *apiServer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerRoutes(r, s, nil)
	return r
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", models.NewValidationError("amount", "must be positive"), http.StatusBadRequest},
		{"not found", utils.ErrorRecordNotFound, http.StatusNotFound},
		{"gorm not found wrapped", fmt.Errorf("load: %w", gorm.ErrRecordNotFound), http.StatusNotFound},
		{"company required", utils.ErrCompanyRequired, http.StatusUnauthorized},
		{"signature", &models.SignatureError{ProviderId: 1, Reason: "bad hmac"}, http.StatusUnauthorized},
		{"forbidden", models.ErrForbidden, http.StatusForbidden},
		{"terminal", &models.TerminalStateViolation{TransactionId: 1, Current: models.TransactionStatusCompleted, Attempted: models.TransactionStatusFailed}, http.StatusConflict},
		{"invalid transition", &models.InvalidTransitionError{TransactionId: 1, From: models.TransactionStatusPending, To: models.TransactionStatusCompleted}, http.StatusConflict},
		{"duplicate", &models.DuplicateError{ProviderId: 1, WebhookId: "w"}, http.StatusConflict},
		{"amount mismatch", &workflow.AmountMismatchError{TransactionId: 1}, http.StatusConflict},
		{"concurrent", models.ErrConcurrentTransition, http.StatusConflict},
		{"inactive provider", models.ErrProviderInactive, http.StatusConflict},
		{"approval", models.ErrApprovalRequired, http.StatusConflict},
		{"idempotency", workflow.ErrIdempotencyInProgress, http.StatusConflict},
		{"recon busy", workflow.ErrReconciliationBusy, http.StatusConflict},
		{"provider", &models.ProviderError{Provider: models.ProviderCodeMTN, Operation: "initiate", HTTPStatus: 503}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusForError(tc.err))
		})
	}
}

func TestWebhookSignatureHeaderFallback(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, "", webhookSignature(h))

	h.Set("X-Hub-Signature-256", "sha256=abc")
	assert.Equal(t, "sha256=abc", webhookSignature(h))

	h.Set("X-Signature", "  first  ")
	assert.Equal(t, "first", webhookSignature(h))
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim("   "))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, splitAndTrim(" https://a.example, ,https://b.example "))
}

func TestOutboxProcessBackoff(t *testing.T) {
	cfg := outboxProcessRetryConfig{maxAttempts: 5, baseBackoff: 2 * time.Second, maxBackoff: 10 * time.Second}
	assert.Equal(t, 2*time.Second, outboxProcessBackoff(0, cfg))
	assert.Equal(t, 2*time.Second, outboxProcessBackoff(1, cfg))
	assert.Equal(t, 4*time.Second, outboxProcessBackoff(2, cfg))
	assert.Equal(t, 8*time.Second, outboxProcessBackoff(3, cfg))
	assert.Equal(t, 10*time.Second, outboxProcessBackoff(4, cfg))
	assert.Equal(t, 10*time.Second, outboxProcessBackoff(80, cfg))
}

func TestOutboxProcessRetryConfigFromEnv(t *testing.T) {
	t.Setenv("OUTBOX_PROCESS_MAX_ATTEMPTS", "3")
	t.Setenv("OUTBOX_PROCESS_BASE_BACKOFF_SECONDS", "1")
	t.Setenv("OUTBOX_PROCESS_MAX_BACKOFF_SECONDS", "bogus")

	cfg := getOutboxProcessRetryConfig()
	assert.Equal(t, 3, cfg.maxAttempts)
	assert.Equal(t, time.Second, cfg.baseBackoff)
	assert.Equal(t, 10*time.Minute, cfg.maxBackoff)
}

func TestRateLimiterFromEnv(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	assert.Nil(t, rateLimiterFromEnv())

	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "0")
	rl := rateLimiterFromEnv()
	require.NotNil(t, rl)
	assert.Equal(t, int64(5), rl.limit)
	assert.Equal(t, time.Minute, rl.window)
}

func TestIntParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x/:id", func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	for path, want := range map[string]int{"/x/42": http.StatusOK, "/x/0": http.StatusBadRequest, "/x/abc": http.StatusBadRequest} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	r := testRouter(&apiServer{logger: quietLogger()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"route not found"}`, w.Body.String())
}

func TestAPIRequiresAuth(t *testing.T) {
	r := testRouter(&apiServer{logger: quietLogger()})
	for _, path := range []string{"/api/v1/transactions", "/api/v1/providers", "/internal/ops/outbox/1"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestWebhookWithBadProviderIdStillAcknowledged(t *testing.T) {
	r := testRouter(&apiServer{logger: quietLogger()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/momo/abc", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"received"}`, w.Body.String())
}

func TestMomoEventsPushDropsPoisonMessages(t *testing.T) {
	r := testRouter(&apiServer{logger: quietLogger()})

	envelope := func(data []byte) string {
		b, err := json.Marshal(map[string]any{
			"message":      map[string]any{"id": "m-1", "data": base64.StdEncoding.EncodeToString(data)},
			"subscription": "projects/p/subscriptions/s",
		})
		require.NoError(t, err)
		return string(b)
	}

	bodies := map[string]string{
		"not json":          "{",
		"bad payload":       envelope([]byte("not-json")),
		"missing company":   envelope([]byte(`{"transaction_id":7,"event_type":"completed"}`)),
		"missing txn":       envelope([]byte(`{"company_id":"c1","event_type":"completed"}`)),
		"empty data object": envelope([]byte(`{}`)),
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pubsub/momo-events", bytes.NewBufferString(body)))
			assert.Equal(t, http.StatusNoContent, w.Code)
		})
	}
}
