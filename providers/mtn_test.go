package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mtnTestServer(t *testing.T, tokenHits *int32, submit http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/collection/token/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenHits, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "api-user", user)
		assert.Equal(t, "api-key", pass)
		assert.Equal(t, "sub-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	})
	mux.HandleFunc("/collection/v1_0/requesttopay", submit)
	mux.HandleFunc("/collection/v1_0/requesttopay/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"amount":                 "150.00",
			"currency":               "ZMW",
			"financialTransactionId": "363440463",
			"externalId":             "MOMO-REF-1",
			"status":                 "SUCCESSFUL",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func mtnConfig(id int, baseURL string) *models.MomoProvider {
	return &models.MomoProvider{
		ID:              id,
		CompanyId:       "c-1",
		Code:            models.ProviderCodeMTN,
		Environment:     models.ProviderEnvironmentSandbox,
		BaseURL:         baseURL,
		CallbackURL:     "https://example.test/webhooks/momo/1",
		Currency:        "ZMW",
		CountryCode:     "ZM",
		ApiUser:         "api-user",
		ApiKey:          "api-key",
		SubscriptionKey: "sub-key",
	}
}

func TestMtnRequestToPay(t *testing.T) {
	var tokenHits int32
	var externalIds []string
	srv := mtnTestServer(t, &tokenHits, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "sandbox", r.Header.Get("X-Target-Environment"))
		_, err := uuid.Parse(r.Header.Get("X-Reference-Id"))
		assert.NoError(t, err, "X-Reference-Id must be a UUID")
		assert.Equal(t, "https://example.test/webhooks/momo/1", r.Header.Get("X-Callback-Url"))

		var body mtnTransferBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "150.00", body.Amount)
		assert.Equal(t, "ZMW", body.Currency)
		externalIds = append(externalIds, body.ExternalId)
		require.NotNil(t, body.Payer)
		assert.Equal(t, "260961234567", body.Payer.PartyId)
		w.WriteHeader(http.StatusAccepted)
	})

	g := NewMtnGateway()
	cfg := mtnConfig(101, srv.URL)
	ctx := context.Background()
	for _, ref := range []string{"MOMO-REF-1", "MOMO-REF-2"} {
		requestId := uuid.NewString()
		res, err := g.RequestToPay(ctx, cfg, PaymentRequest{
			Reference: ref,
			RequestId: requestId,
			Type:      models.TransactionTypePayment,
			Amount:    decimal.RequireFromString("150"),
			Currency:  "ZMW",
			Msisdn:    "260961234567",
		})
		require.NoError(t, err)
		assert.Equal(t, requestId, res.ProviderReference)
		assert.Equal(t, models.TransactionStatusProcessing, res.Status)
	}
	assert.Equal(t, []string{"MOMO-REF-1", "MOMO-REF-2"}, externalIds)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenHits), "token is cached between calls")
}

func TestMtnReferenceIdMustBeUUID(t *testing.T) {
	var submits int32
	var tokenHits int32
	srv := mtnTestServer(t, &tokenHits, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&submits, 1)
		w.WriteHeader(http.StatusAccepted)
	})
	g := NewMtnGateway()
	cfg := mtnConfig(102, srv.URL)
	req := PaymentRequest{
		Reference: "order-42",
		Type:      models.TransactionTypePayment,
		Amount:    decimal.NewFromInt(100),
		Currency:  "ZMW",
		Msisdn:    "260961234567",
	}

	_, err := g.RequestToPay(context.Background(), cfg, req)
	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.False(t, perr.Retryable)
	assert.Equal(t, "INVALID_REFERENCE_ID", perr.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&submits), "nothing is sent without a UUID")

	// A reference that already is a UUID is used as is.
	req.Reference = uuid.NewString()
	res, err := g.RequestToPay(context.Background(), cfg, req)
	require.NoError(t, err)
	assert.Equal(t, req.Reference, res.ProviderReference)
	assert.Equal(t, int32(1), atomic.LoadInt32(&submits))
}

func TestMtnReferenceIdPrefersRequestId(t *testing.T) {
	requestId := uuid.NewString()
	id, ok := mtnReferenceId(PaymentRequest{Reference: uuid.NewString(), RequestId: requestId})
	assert.True(t, ok)
	assert.Equal(t, requestId, id)

	_, ok = mtnReferenceId(PaymentRequest{Reference: "order-42", RequestId: "not-a-uuid"})
	assert.False(t, ok)
}

func TestMtnSubmitErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantErr   bool
		retryable bool
	}{
		{"duplicate reference is accepted", http.StatusConflict, false, false},
		{"server error is retryable", http.StatusServiceUnavailable, true, true},
		{"rate limited is retryable", http.StatusTooManyRequests, true, true},
		{"bad request is final", http.StatusBadRequest, true, false},
		{"expired token is retryable", http.StatusUnauthorized, true, true},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var tokenHits int32
			srv := mtnTestServer(t, &tokenHits, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"code":"ERR","message":"boom"}`))
			})
			res, err := NewMtnGateway().RequestToPay(context.Background(), mtnConfig(200+i, srv.URL), PaymentRequest{
				Reference: "MOMO-REF-9",
				RequestId: uuid.NewString(),
				Type:      models.TransactionTypePayment,
				Amount:    decimal.NewFromInt(10),
				Currency:  "ZMW",
				Msisdn:    "260961234567",
			})
			if !tc.wantErr {
				require.NoError(t, err)
				assert.Equal(t, models.TransactionStatusProcessing, res.Status)
				return
			}
			var perr *models.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tc.status, perr.HTTPStatus)
			assert.Equal(t, tc.retryable, perr.Retryable)
			assert.Equal(t, models.ProviderCodeMTN, perr.Provider)
		})
	}
}

func TestMtnQueryStatus(t *testing.T) {
	var tokenHits int32
	srv := mtnTestServer(t, &tokenHits, func(w http.ResponseWriter, r *http.Request) {})
	res, err := NewMtnGateway().QueryStatus(context.Background(), mtnConfig(300, srv.URL), models.TransactionTypePayment, "MOMO-REF-1", "MOMO-REF-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, res.Status)
	assert.Equal(t, "SUCCESSFUL", res.ProviderStatus)
	require.True(t, res.Amount.Valid)
	assert.True(t, res.Amount.Decimal.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, "ZMW", res.Currency)
}

func TestMtnParseWebhook(t *testing.T) {
	g := NewMtnGateway()

	ev, err := g.ParseWebhook([]byte(`{"financialTransactionId":"99","externalId":"MOMO-REF-1","referenceId":"MOMO-REF-1","amount":"25.50","currency":"ZMW","status":"FAILED","reason":{"code":"PAYER_NOT_FOUND","message":"Payer not found"}}`))
	require.NoError(t, err)
	assert.Equal(t, "MOMO-REF-1:FAILED:99", ev.WebhookId)
	assert.Equal(t, "MOMO-REF-1", ev.Reference)
	assert.Equal(t, models.TransactionStatusFailed, ev.Status)
	assert.Equal(t, "PAYER_NOT_FOUND Payer not found", ev.Reason)
	assert.True(t, ev.Amount.Decimal.Equal(decimal.RequireFromString("25.5")))

	ev, err = g.ParseWebhook([]byte(`{"externalId":"MOMO-REF-2","status":"PENDING","reason":"waiting"}`))
	require.NoError(t, err)
	assert.Equal(t, "", ev.ProviderReference)
	assert.Equal(t, "MOMO-REF-2", ev.Reference)
	assert.Equal(t, "MOMO-REF-2:PENDING", ev.WebhookId)
	assert.Equal(t, models.TransactionStatusProcessing, ev.Status)
	assert.Equal(t, "waiting", ev.Reason)
	assert.False(t, ev.Amount.Valid)

	_, err = g.ParseWebhook([]byte(`{"status":"SUCCESSFUL"}`))
	assert.True(t, models.IsValidationError(err))
	_, err = g.ParseWebhook([]byte(`not json`))
	assert.True(t, models.IsValidationError(err))
}

func TestMapMtnStatus(t *testing.T) {
	assert.Equal(t, models.TransactionStatusCompleted, mapMtnStatus("successful"))
	assert.Equal(t, models.TransactionStatusFailed, mapMtnStatus("REJECTED"))
	assert.Equal(t, models.TransactionStatusExpired, mapMtnStatus("TIMEOUT"))
	assert.Equal(t, models.TransactionStatus(""), mapMtnStatus("WHATEVER"))
}
