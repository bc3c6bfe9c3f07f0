package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/shopspring/decimal"
)

const (
	mtnProductCollection   = "collection"
	mtnProductDisbursement = "disbursement"
)

// MtnGateway speaks the MTN MoMo Open API (collection and disbursement products).
// The request id goes out as X-Reference-Id and becomes the provider reference;
// our reference travels as externalId.
type MtnGateway struct {
	client *apiClient
	tokens *tokenCache
}

func NewMtnGateway() *MtnGateway {
	return &MtnGateway{client: newApiClient(models.ProviderCodeMTN), tokens: newTokenCache()}
}

func (g *MtnGateway) Code() models.ProviderCode {
	return models.ProviderCodeMTN
}

type mtnParty struct {
	PartyIdType string `json:"partyIdType"`
	PartyId     string `json:"partyId"`
}

type mtnTransferBody struct {
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ExternalId   string    `json:"externalId"`
	Payer        *mtnParty `json:"payer,omitempty"`
	Payee        *mtnParty `json:"payee,omitempty"`
	PayerMessage string    `json:"payerMessage"`
	PayeeNote    string    `json:"payeeNote"`
}

// mtnStatusBody is both the status response and the callback payload.
type mtnStatusBody struct {
	Amount                 string          `json:"amount"`
	Currency               string          `json:"currency"`
	FinancialTransactionId string          `json:"financialTransactionId"`
	ExternalId             string          `json:"externalId"`
	ReferenceId            string          `json:"referenceId"`
	Status                 string          `json:"status"`
	Reason                 json.RawMessage `json:"reason"`
}

func mtnTargetEnvironment(cfg *models.MomoProvider) string {
	if cfg.Environment == models.ProviderEnvironmentProduction {
		return "mtnzambia"
	}
	return "sandbox"
}

func (g *MtnGateway) baseURL(cfg *models.MomoProvider) string {
	return strings.TrimRight(cfg.BaseURL, "/")
}

func (g *MtnGateway) token(ctx context.Context, cfg *models.MomoProvider, product string) (string, error) {
	return g.tokens.fetch(ctx, tokenKey(cfg, product), func(ctx context.Context) (string, time.Duration, error) {
		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}
		_, err := g.client.do(ctx, apiRequest{
			Operation: "token",
			Method:    http.MethodPost,
			URL:       fmt.Sprintf("%s/%s/token/", g.baseURL(cfg), product),
			BasicUser: cfg.ApiUser,
			BasicPass: cfg.ApiKey,
			Headers:   map[string]string{"Ocp-Apim-Subscription-Key": cfg.SubscriptionKey},
			Out:       &out,
		})
		if err != nil {
			return "", 0, err
		}
		if out.AccessToken == "" {
			return "", 0, g.client.fail("token", http.StatusOK, "", "empty access token", nil, true)
		}
		return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
	})
}

func (g *MtnGateway) headers(cfg *models.MomoProvider, token, reference string) map[string]string {
	h := map[string]string{
		"Authorization":             "Bearer " + token,
		"X-Target-Environment":      mtnTargetEnvironment(cfg),
		"Ocp-Apim-Subscription-Key": cfg.SubscriptionKey,
	}
	if reference != "" {
		h["X-Reference-Id"] = reference
	}
	if cfg.CallbackURL != "" {
		h["X-Callback-Url"] = cfg.CallbackURL
	}
	return h
}

// mtnReferenceId picks the X-Reference-Id for req. MTN only accepts a UUID there, so a
// reference is used directly only when it already is one.
func mtnReferenceId(req PaymentRequest) (string, bool) {
	for _, candidate := range []string{req.RequestId, req.Reference} {
		if id, err := uuid.Parse(strings.TrimSpace(candidate)); err == nil {
			return id.String(), true
		}
	}
	return "", false
}

func (g *MtnGateway) submit(ctx context.Context, cfg *models.MomoProvider, product, path, operation string, body mtnTransferBody, req PaymentRequest) (*InitiateResult, error) {
	reference, ok := mtnReferenceId(req)
	if !ok {
		return nil, g.client.fail(operation, 0, "INVALID_REFERENCE_ID", "X-Reference-Id must be a UUID", nil, false)
	}
	token, err := g.token(ctx, cfg, product)
	if err != nil {
		return nil, err
	}
	_, err = g.client.do(ctx, apiRequest{
		Operation: operation,
		Method:    http.MethodPost,
		URL:       fmt.Sprintf("%s/%s/v1_0/%s", g.baseURL(cfg), product, path),
		Headers:   g.headers(cfg, token, reference),
		Body:      body,
	})
	if err != nil {
		var perr *models.ProviderError
		if errors.As(err, &perr) {
			switch perr.HTTPStatus {
			case http.StatusConflict:
				// Same X-Reference-Id was already accepted by an earlier attempt.
				return &InitiateResult{ProviderReference: reference, ProviderStatus: "PENDING", Status: models.TransactionStatusProcessing}, nil
			case http.StatusUnauthorized:
				g.tokens.invalidate(ctx, tokenKey(cfg, product))
				perr.Retryable = true
			}
		}
		return nil, err
	}
	return &InitiateResult{ProviderReference: reference, ProviderStatus: "PENDING", Status: models.TransactionStatusProcessing}, nil
}

func (g *MtnGateway) RequestToPay(ctx context.Context, cfg *models.MomoProvider, req PaymentRequest) (*InitiateResult, error) {
	body := mtnTransferBody{
		Amount:       req.Amount.StringFixed(2),
		Currency:     req.Currency,
		ExternalId:   req.Reference,
		Payer:        &mtnParty{PartyIdType: "MSISDN", PartyId: req.Msisdn},
		PayerMessage: req.Description,
		PayeeNote:    req.Description,
	}
	return g.submit(ctx, cfg, mtnProductCollection, "requesttopay", "requestToPay", body, req)
}

func (g *MtnGateway) Transfer(ctx context.Context, cfg *models.MomoProvider, req PaymentRequest) (*InitiateResult, error) {
	body := mtnTransferBody{
		Amount:       req.Amount.StringFixed(2),
		Currency:     req.Currency,
		ExternalId:   req.Reference,
		Payee:        &mtnParty{PartyIdType: "MSISDN", PartyId: req.Msisdn},
		PayerMessage: req.Description,
		PayeeNote:    req.Description,
	}
	return g.submit(ctx, cfg, mtnProductDisbursement, "transfer", "transfer", body, req)
}

func (g *MtnGateway) QueryStatus(ctx context.Context, cfg *models.MomoProvider, txnType models.TransactionType, reference, providerReference string) (*StatusResult, error) {
	product, path := mtnProductDisbursement, "transfer"
	if txnType.IsInbound() {
		product, path = mtnProductCollection, "requesttopay"
	}
	id := providerReference
	if id == "" {
		id = reference
	}
	token, err := g.token(ctx, cfg, product)
	if err != nil {
		return nil, err
	}
	var out mtnStatusBody
	_, err = g.client.do(ctx, apiRequest{
		Operation: "status",
		Method:    http.MethodGet,
		URL:       fmt.Sprintf("%s/%s/v1_0/%s/%s", g.baseURL(cfg), product, path, id),
		Headers:   g.headers(cfg, token, ""),
		Out:       &out,
	})
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		ProviderReference: id,
		ProviderStatus:    out.Status,
		Status:            mapMtnStatus(out.Status),
		Amount:            parseNullDecimal(out.Amount),
		Currency:          out.Currency,
		Reason:            mtnReason(out.Reason),
	}, nil
}

func (g *MtnGateway) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var body mtnStatusBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, models.NewValidationError("payload", "invalid MTN callback: %v", err)
	}
	if body.ExternalId == "" && body.ReferenceId == "" {
		return nil, models.NewValidationError("payload", "MTN callback has no reference")
	}
	reference := body.ExternalId
	providerRef := body.ReferenceId
	// MTN callbacks carry no event id; one delivery per reference and status.
	webhookId := providerRef
	if webhookId == "" {
		webhookId = reference
	}
	webhookId += ":" + strings.ToUpper(body.Status)
	if body.FinancialTransactionId != "" {
		webhookId += ":" + body.FinancialTransactionId
	}
	return &WebhookEvent{
		WebhookId:         webhookId,
		EventType:         "payment.status",
		ProviderReference: providerRef,
		Reference:         reference,
		ProviderStatus:    body.Status,
		Status:            mapMtnStatus(body.Status),
		Amount:            parseNullDecimal(body.Amount),
		Currency:          body.Currency,
		Reason:            mtnReason(body.Reason),
	}, nil
}

func (g *MtnGateway) VerifySignature(cfg *models.MomoProvider, payload []byte, signature string) error {
	return VerifyHMAC(cfg, payload, signature)
}

func mapMtnStatus(s string) models.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESSFUL", "SUCCESS":
		return models.TransactionStatusCompleted
	case "FAILED", "REJECTED":
		return models.TransactionStatusFailed
	case "TIMEOUT", "EXPIRED":
		return models.TransactionStatusExpired
	case "PENDING", "ONGOING":
		return models.TransactionStatusProcessing
	}
	return ""
}

// mtnReason accepts both the string and the {code,message} forms.
func mtnReason(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return strings.TrimSpace(obj.Code + " " + obj.Message)
		}
		return obj.Code
	}
	return string(raw)
}

func parseNullDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
