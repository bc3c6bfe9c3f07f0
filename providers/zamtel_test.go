package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZamtelTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payouts", r.URL.Path)
		assert.Equal(t, "Bearer zam-key", r.Header.Get("Authorization"))
		var body zamtelRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "MOMO-REF-3", body.ExternalReference)
		assert.Equal(t, "40.00", body.Amount)
		_, _ = w.Write([]byte(`{"transaction_id":"ZT-1","external_reference":"MOMO-REF-3","status":"ACCEPTED"}`))
	}))
	defer srv.Close()

	cfg := &models.MomoProvider{ID: 501, Code: models.ProviderCodeZamtel, BaseURL: srv.URL, ApiKey: "zam-key", Currency: "ZMW", CountryCode: "ZM"}
	res, err := NewZamtelGateway().Transfer(context.Background(), cfg, PaymentRequest{
		Reference: "MOMO-REF-3",
		Type:      models.TransactionTypePayout,
		Amount:    decimal.NewFromInt(40),
		Currency:  "ZMW",
		Msisdn:    "260951234567",
	})
	require.NoError(t, err)
	assert.Equal(t, "ZT-1", res.ProviderReference)
	assert.Equal(t, models.TransactionStatusProcessing, res.Status)
}

func TestZamtelQueryStatusByReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transactions/by-reference/MOMO-REF-3", r.URL.Path)
		_, _ = w.Write([]byte(`{"transaction_id":"ZT-1","status":"CANCELLED","message":"user cancelled"}`))
	}))
	defer srv.Close()

	cfg := &models.MomoProvider{ID: 502, Code: models.ProviderCodeZamtel, BaseURL: srv.URL, ApiKey: "zam-key"}
	res, err := NewZamtelGateway().QueryStatus(context.Background(), cfg, models.TransactionTypePayout, "MOMO-REF-3", "")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCancelled, res.Status)
	assert.Equal(t, "ZT-1", res.ProviderReference)
}

func TestZamtelParseWebhook(t *testing.T) {
	g := NewZamtelGateway()
	ev, err := g.ParseWebhook([]byte(`{"event_id":"evt-1","event_type":"payment.completed","transaction_id":"ZT-1","external_reference":"MOMO-REF-3","status":"SUCCESS","amount":"40.00","currency":"ZMW","timestamp":"2026-03-01T10:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ev.WebhookId)
	assert.Equal(t, models.TransactionStatusCompleted, ev.Status)
	require.NotNil(t, ev.OccurredAt)
	assert.Equal(t, 2026, ev.OccurredAt.Year())

	ev, err = g.ParseWebhook([]byte(`{"transaction_id":"ZT-2","status":"declined"}`))
	require.NoError(t, err)
	assert.Equal(t, "ZT-2:DECLINED", ev.WebhookId)
	assert.Equal(t, models.TransactionStatusFailed, ev.Status)
	assert.Nil(t, ev.OccurredAt)

	_, err = g.ParseWebhook([]byte(`{}`))
	assert.True(t, models.IsValidationError(err))
}
