package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/models"
	"golang.org/x/time/rate"
)

const defaultProviderRatePerSec = 20

type apiClient struct {
	provider models.ProviderCode
	http     *http.Client
	limiter  *rate.Limiter
}

// providerRateLimiter spaces outbound calls per operator. Burst is one second's worth.
func providerRateLimiter() *rate.Limiter {
	ratePerSec := defaultProviderRatePerSec
	if v := strings.TrimSpace(os.Getenv("MOMO_PROVIDER_RATE_LIMIT_PER_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ratePerSec = n
		}
	}
	return rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
}

func newApiClient(provider models.ProviderCode) *apiClient {
	timeout := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("MOMO_PROVIDER_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	return &apiClient{
		provider: provider,
		http:     &http.Client{Timeout: timeout},
		limiter:  providerRateLimiter(),
	}
}

type apiRequest struct {
	Operation string
	Method    string
	URL       string
	Headers   map[string]string
	Body      any
	BasicUser string
	BasicPass string
	Out       any
}

type apiResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// do sends r and decodes a 2xx JSON body into r.Out.
// Every failure comes back as *models.ProviderError; transport failures, timeouts,
// 408, 429 and 5xx are retryable.
func (c *apiClient) do(ctx context.Context, r apiRequest) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(r.Operation, 0, "", "rate limit wait", err, true)
	}

	var body io.Reader
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, c.fail(r.Operation, 0, "", "", err, false)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, c.fail(r.Operation, 0, "", "", err, false)
	}
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.BasicUser != "" {
		req.SetBasicAuth(r.BasicUser, r.BasicPass)
	}
	for k, v := range r.Headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(r.Operation, 0, "", "", err, isTransientNetErr(err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	out := &apiResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, msg := extractErrorMessage(raw)
		return out, c.fail(r.Operation, resp.StatusCode, code, msg, nil, retryableStatus(resp.StatusCode))
	}
	if r.Out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, r.Out); err != nil {
			return out, c.fail(r.Operation, resp.StatusCode, "", "undecodable response", err, true)
		}
	}
	return out, nil
}

func (c *apiClient) fail(operation string, status int, code, msg string, err error, retryable bool) *models.ProviderError {
	return &models.ProviderError{
		Provider:   c.provider,
		Operation:  operation,
		HTTPStatus: status,
		Code:       code,
		Message:    msg,
		Retryable:  retryable,
		Err:        err,
	}
}

func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

// isTransientNetErr treats every transport failure except caller cancellation as retryable:
// the request may never have reached the operator.
func isTransientNetErr(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// extractErrorMessage pulls a code and message out of the JSON error shapes the operators use.
func extractErrorMessage(raw []byte) (string, string) {
	var body struct {
		Code         any    `json:"code"`
		Message      string `json:"message"`
		ErrorMessage string `json:"error_description"`
		Status       *struct {
			Code         string `json:"code"`
			Message      string `json:"message"`
			ResponseCode string `json:"response_code"`
		} `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		code := ""
		if body.Code != nil {
			code = strings.Trim(strings.TrimSpace(toString(body.Code)), "\"")
		}
		msg := body.Message
		if msg == "" {
			msg = body.ErrorMessage
		}
		if body.Status != nil {
			if code == "" {
				code = body.Status.ResponseCode
			}
			if msg == "" {
				msg = body.Status.Message
			}
		}
		if code != "" || msg != "" {
			return code, msg
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 500 {
		s = s[:500]
	}
	return "", s
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
