package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
)

// AirtelGateway speaks the Airtel Money Open API: OAuth2 client credentials,
// merchant collections and standard disbursements.
type AirtelGateway struct {
	client *apiClient
	tokens *tokenCache
}

func NewAirtelGateway() *AirtelGateway {
	return &AirtelGateway{client: newApiClient(models.ProviderCodeAirtel), tokens: newTokenCache()}
}

func (g *AirtelGateway) Code() models.ProviderCode {
	return models.ProviderCodeAirtel
}

type airtelStatus struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	ResultCode   string `json:"result_code"`
	ResponseCode string `json:"response_code"`
	Success      bool   `json:"success"`
}

type airtelTransaction struct {
	Id            string `json:"id"`
	AirtelMoneyId string `json:"airtel_money_id"`
	Status        string `json:"status"`
	StatusCode    string `json:"status_code"`
	Message       string `json:"message"`
	Amount        any    `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

type airtelEnvelope struct {
	Data struct {
		Transaction airtelTransaction `json:"transaction"`
	} `json:"data"`
	Status airtelStatus `json:"status"`
}

func (g *AirtelGateway) baseURL(cfg *models.MomoProvider) string {
	return strings.TrimRight(cfg.BaseURL, "/")
}

func (g *AirtelGateway) token(ctx context.Context, cfg *models.MomoProvider) (string, error) {
	return g.tokens.fetch(ctx, tokenKey(cfg, "oauth"), func(ctx context.Context) (string, time.Duration, error) {
		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   any    `json:"expires_in"`
		}
		_, err := g.client.do(ctx, apiRequest{
			Operation: "token",
			Method:    http.MethodPost,
			URL:       g.baseURL(cfg) + "/auth/oauth2/token",
			Body: map[string]string{
				"client_id":     cfg.ClientId,
				"client_secret": cfg.ClientSecret,
				"grant_type":    "client_credentials",
			},
			Out: &out,
		})
		if err != nil {
			return "", 0, err
		}
		if out.AccessToken == "" {
			return "", 0, g.client.fail("token", http.StatusOK, "", "empty access token", nil, true)
		}
		// expires_in arrives as a number or a numeric string.
		secs, _ := strconv.Atoi(strings.TrimSpace(toString(out.ExpiresIn)))
		if secs <= 0 {
			secs = 180
		}
		return out.AccessToken, time.Duration(secs) * time.Second, nil
	})
}

func (g *AirtelGateway) headers(cfg *models.MomoProvider, token string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + token,
		"X-Country":     strings.ToUpper(cfg.CountryCode),
		"X-Currency":    strings.ToUpper(cfg.Currency),
	}
}

// Airtel wants the national number without the country code.
func airtelMsisdn(cfg *models.MomoProvider, msisdn string) string {
	if n, err := utils.NationalNumber(msisdn, cfg.CountryCode); err == nil && n != "" {
		return n
	}
	return msisdn
}

func (g *AirtelGateway) send(ctx context.Context, cfg *models.MomoProvider, operation, path string, body any) (*airtelEnvelope, error) {
	token, err := g.token(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var out airtelEnvelope
	_, err = g.client.do(ctx, apiRequest{
		Operation: operation,
		Method:    http.MethodPost,
		URL:       g.baseURL(cfg) + path,
		Headers:   g.headers(cfg, token),
		Body:      body,
		Out:       &out,
	})
	if err != nil {
		var perr *models.ProviderError
		if errors.As(err, &perr) && perr.HTTPStatus == http.StatusUnauthorized {
			g.tokens.invalidate(ctx, tokenKey(cfg, "oauth"))
			perr.Retryable = true
		}
		return nil, err
	}
	if !out.Status.Success {
		return &out, &models.ProviderError{
			Provider:   models.ProviderCodeAirtel,
			Operation:  operation,
			HTTPStatus: http.StatusOK,
			Code:       out.Status.ResponseCode,
			Message:    out.Status.Message,
			Retryable:  airtelRetryable(out.Status.ResponseCode),
		}
	}
	return &out, nil
}

func (g *AirtelGateway) RequestToPay(ctx context.Context, cfg *models.MomoProvider, req PaymentRequest) (*InitiateResult, error) {
	country, currency := strings.ToUpper(cfg.CountryCode), strings.ToUpper(req.Currency)
	body := map[string]any{
		"reference": req.Description,
		"subscriber": map[string]string{
			"country":  country,
			"currency": currency,
			"msisdn":   airtelMsisdn(cfg, req.Msisdn),
		},
		"transaction": map[string]any{
			"amount":   req.Amount.InexactFloat64(),
			"country":  country,
			"currency": currency,
			"id":       req.Reference,
		},
	}
	out, err := g.send(ctx, cfg, "collection", "/merchant/v1/payments/", body)
	if err != nil {
		return nil, err
	}
	return airtelInitiateResult(out, req.Reference), nil
}

func (g *AirtelGateway) Transfer(ctx context.Context, cfg *models.MomoProvider, req PaymentRequest) (*InitiateResult, error) {
	body := map[string]any{
		"payee":     map[string]string{"msisdn": airtelMsisdn(cfg, req.Msisdn)},
		"reference": req.Description,
		// The disbursement PIN is stored pre-encrypted in the api key column.
		"pin": cfg.ApiKey,
		"transaction": map[string]any{
			"amount": req.Amount.InexactFloat64(),
			"id":     req.Reference,
		},
	}
	out, err := g.send(ctx, cfg, "disbursement", "/standard/v1/disbursements/", body)
	if err != nil {
		return nil, err
	}
	return airtelInitiateResult(out, req.Reference), nil
}

func airtelInitiateResult(out *airtelEnvelope, reference string) *InitiateResult {
	providerRef := out.Data.Transaction.AirtelMoneyId
	if providerRef == "" {
		providerRef = reference
	}
	code := out.Data.Transaction.StatusCode
	if code == "" {
		code = out.Data.Transaction.Status
	}
	status := mapAirtelStatus(code)
	if status == "" || status == models.TransactionStatusCompleted {
		// Acceptance of a collection is not completion; the callback or a poll decides.
		status = models.TransactionStatusProcessing
	}
	return &InitiateResult{ProviderReference: providerRef, ProviderStatus: code, Status: status, Reason: out.Data.Transaction.Message}
}

func (g *AirtelGateway) QueryStatus(ctx context.Context, cfg *models.MomoProvider, txnType models.TransactionType, reference, providerReference string) (*StatusResult, error) {
	path := "/standard/v1/disbursements/"
	if txnType.IsInbound() {
		path = "/standard/v1/payments/"
	}
	token, err := g.token(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var out airtelEnvelope
	_, err = g.client.do(ctx, apiRequest{
		Operation: "status",
		Method:    http.MethodGet,
		URL:       fmt.Sprintf("%s%s%s", g.baseURL(cfg), path, reference),
		Headers:   g.headers(cfg, token),
		Out:       &out,
	})
	if err != nil {
		return nil, err
	}
	t := out.Data.Transaction
	providerRef := t.AirtelMoneyId
	if providerRef == "" {
		providerRef = providerReference
	}
	return &StatusResult{
		ProviderReference: providerRef,
		ProviderStatus:    t.Status,
		Status:            mapAirtelStatus(t.Status),
		Reason:            t.Message,
	}, nil
}

type airtelCallback struct {
	Transaction struct {
		Id            string `json:"id"`
		Message       string `json:"message"`
		StatusCode    string `json:"status_code"`
		AirtelMoneyId string `json:"airtel_money_id"`
		Amount        any    `json:"amount"`
		Currency      string `json:"currency"`
	} `json:"transaction"`
}

func (g *AirtelGateway) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var body airtelCallback
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, models.NewValidationError("payload", "invalid Airtel callback: %v", err)
	}
	t := body.Transaction
	if t.Id == "" {
		return nil, models.NewValidationError("payload", "Airtel callback has no transaction id")
	}
	webhookId := t.Id + ":" + strings.ToUpper(t.StatusCode)
	if t.AirtelMoneyId != "" {
		webhookId = t.AirtelMoneyId + ":" + strings.ToUpper(t.StatusCode)
	}
	amount := decimal.NullDecimal{}
	if t.Amount != nil {
		amount = parseNullDecimal(toString(t.Amount))
	}
	return &WebhookEvent{
		WebhookId:         webhookId,
		EventType:         "transaction.status",
		ProviderReference: t.AirtelMoneyId,
		Reference:         t.Id,
		ProviderStatus:    t.StatusCode,
		Status:            mapAirtelStatus(t.StatusCode),
		Amount:            amount,
		Currency:          t.Currency,
		Reason:            t.Message,
	}, nil
}

func (g *AirtelGateway) VerifySignature(cfg *models.MomoProvider, payload []byte, signature string) error {
	return VerifyHMAC(cfg, payload, signature)
}

// mapAirtelStatus maps TS/TF/TIP/TA/TE. TA (ambiguous) stays in processing until a poll resolves it.
func mapAirtelStatus(code string) models.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "TS", "SUCCESS", "SUCCESS.":
		return models.TransactionStatusCompleted
	case "TF", "FAILED":
		return models.TransactionStatusFailed
	case "TE":
		return models.TransactionStatusExpired
	case "TIP", "TA", "IN PROGRESS":
		return models.TransactionStatusProcessing
	}
	return ""
}

// Airtel ESB codes that mean "try again later".
func airtelRetryable(responseCode string) bool {
	switch responseCode {
	case "DP00800001000", "DP00900001000", "ESB000001", "ESB000004":
		return true
	}
	return false
}
