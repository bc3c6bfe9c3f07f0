package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestApiClientDecodeFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	}))
	defer srv.Close()

	var out map[string]any
	_, err := newApiClient(models.ProviderCodeZamtel).do(context.Background(), apiRequest{Operation: "status", Method: http.MethodGet, URL: srv.URL, Out: &out})
	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Retryable)
	assert.Equal(t, http.StatusOK, perr.HTTPStatus)
}

func TestApiClientCancelledIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newApiClient(models.ProviderCodeZamtel).do(ctx, apiRequest{Operation: "status", Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
}

func TestExtractErrorMessage(t *testing.T) {
	code, msg := extractErrorMessage([]byte(`{"code":"RESOURCE_NOT_FOUND","message":"Requested resource was not found."}`))
	assert.Equal(t, "RESOURCE_NOT_FOUND", code)
	assert.Equal(t, "Requested resource was not found.", msg)

	code, msg = extractErrorMessage([]byte(`{"status":{"response_code":"DP00800001001","message":"Invalid PIN","success":false}}`))
	assert.Equal(t, "DP00800001001", code)
	assert.Equal(t, "Invalid PIN", msg)

	code, msg = extractErrorMessage([]byte(`{"code":400,"error_description":"bad grant"}`))
	assert.Equal(t, "400", code)
	assert.Equal(t, "bad grant", msg)

	_, msg = extractErrorMessage([]byte(`upstream timeout`))
	assert.Equal(t, "upstream timeout", msg)
}

func TestProviderRateLimiterFromEnv(t *testing.T) {
	t.Setenv("MOMO_PROVIDER_RATE_LIMIT_PER_SEC", "")
	l := providerRateLimiter()
	assert.Equal(t, rate.Limit(defaultProviderRatePerSec), l.Limit())
	assert.Equal(t, defaultProviderRatePerSec, l.Burst())

	t.Setenv("MOMO_PROVIDER_RATE_LIMIT_PER_SEC", "-3")
	assert.Equal(t, rate.Limit(defaultProviderRatePerSec), providerRateLimiter().Limit())

	// Rates above one per nanosecond used to collapse the interval to zero.
	t.Setenv("MOMO_PROVIDER_RATE_LIMIT_PER_SEC", "2000000000")
	l = providerRateLimiter()
	assert.Equal(t, rate.Limit(2000000000), l.Limit())
	assert.NoError(t, l.Wait(context.Background()))
}

func TestApiClientWaitsForRateLimiter(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newApiClient(models.ProviderCodeAirtel)
	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	_, err := c.do(context.Background(), apiRequest{Operation: "status", Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)

	// The bucket is empty; a short deadline gives up before the request is sent.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.do(ctx, apiRequest{Operation: "status", Method: http.MethodGet, URL: srv.URL})
	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Retryable)
	assert.Equal(t, 1, hits)
}
