package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/models"
)

// ZamtelGateway speaks the Zamtel Kwacha JSON API with a static bearer key.
type ZamtelGateway struct {
	client *apiClient
}

func NewZamtelGateway() *ZamtelGateway {
	return &ZamtelGateway{client: newApiClient(models.ProviderCodeZamtel)}
}

func (g *ZamtelGateway) Code() models.ProviderCode {
	return models.ProviderCodeZamtel
}

type zamtelRequest struct {
	ExternalReference string `json:"external_reference"`
	Msisdn            string `json:"msisdn"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Narration         string `json:"narration"`
	CallbackURL       string `json:"callback_url,omitempty"`
}

type zamtelResponse struct {
	TransactionId     string `json:"transaction_id"`
	ExternalReference string `json:"external_reference"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
}

type zamtelCallback struct {
	EventId           string `json:"event_id"`
	EventType         string `json:"event_type"`
	TransactionId     string `json:"transaction_id"`
	ExternalReference string `json:"external_reference"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Timestamp         string `json:"timestamp"`
}

func (g *ZamtelGateway) headers(cfg *models.MomoProvider) map[string]string {
	return map[string]string{"Authorization": "Bearer " + cfg.ApiKey}
}

func (g *ZamtelGateway) url(cfg *models.MomoProvider, path string) string {
	return strings.TrimRight(cfg.BaseURL, "/") + path
}

func (g *ZamtelGateway) submit(ctx context.Context, cfg *models.MomoProvider, operation, path string, req PaymentRequest) (*InitiateResult, error) {
	var out zamtelResponse
	_, err := g.client.do(ctx, apiRequest{
		Operation: operation,
		Method:    http.MethodPost,
		URL:       g.url(cfg, path),
		Headers:   g.headers(cfg),
		Body: zamtelRequest{
			ExternalReference: req.Reference,
			Msisdn:            req.Msisdn,
			Amount:            req.Amount.StringFixed(2),
			Currency:          req.Currency,
			Narration:         req.Description,
			CallbackURL:       cfg.CallbackURL,
		},
		Out: &out,
	})
	if err != nil {
		return nil, err
	}
	status := mapZamtelStatus(out.Status)
	if status == "" || status == models.TransactionStatusCompleted {
		status = models.TransactionStatusProcessing
	}
	return &InitiateResult{ProviderReference: out.TransactionId, ProviderStatus: out.Status, Status: status, Reason: out.Message}, nil
}

func (g *ZamtelGateway) RequestToPay(ctx context.Context, cfg *models.MomoProvider, req PaymentRequest) (*InitiateResult, error) {
	return g.submit(ctx, cfg, "collection", "/api/v1/collections", req)
}

func (g *ZamtelGateway) Transfer(ctx context.Context, cfg *models.MomoProvider, req PaymentRequest) (*InitiateResult, error) {
	return g.submit(ctx, cfg, "payout", "/api/v1/payouts", req)
}

func (g *ZamtelGateway) QueryStatus(ctx context.Context, cfg *models.MomoProvider, txnType models.TransactionType, reference, providerReference string) (*StatusResult, error) {
	path := fmt.Sprintf("/api/v1/transactions/%s", providerReference)
	if providerReference == "" {
		path = fmt.Sprintf("/api/v1/transactions/by-reference/%s", reference)
	}
	var out zamtelResponse
	_, err := g.client.do(ctx, apiRequest{
		Operation: "status",
		Method:    http.MethodGet,
		URL:       g.url(cfg, path),
		Headers:   g.headers(cfg),
		Out:       &out,
	})
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		ProviderReference: out.TransactionId,
		ProviderStatus:    out.Status,
		Status:            mapZamtelStatus(out.Status),
		Amount:            parseNullDecimal(out.Amount),
		Currency:          out.Currency,
		Reason:            out.Message,
	}, nil
}

func (g *ZamtelGateway) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var body zamtelCallback
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, models.NewValidationError("payload", "invalid Zamtel callback: %v", err)
	}
	if body.TransactionId == "" && body.ExternalReference == "" {
		return nil, models.NewValidationError("payload", "Zamtel callback has no reference")
	}
	webhookId := body.EventId
	if webhookId == "" {
		webhookId = body.TransactionId + ":" + strings.ToUpper(body.Status)
	}
	ev := &WebhookEvent{
		WebhookId:         webhookId,
		EventType:         body.EventType,
		ProviderReference: body.TransactionId,
		Reference:         body.ExternalReference,
		ProviderStatus:    body.Status,
		Status:            mapZamtelStatus(body.Status),
		Amount:            parseNullDecimal(body.Amount),
		Currency:          body.Currency,
		Reason:            body.Message,
	}
	if ts, err := time.Parse(time.RFC3339, body.Timestamp); err == nil {
		ev.OccurredAt = &ts
	}
	return ev, nil
}

func (g *ZamtelGateway) VerifySignature(cfg *models.MomoProvider, payload []byte, signature string) error {
	return VerifyHMAC(cfg, payload, signature)
}

func mapZamtelStatus(s string) models.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "SUCCESSFUL", "COMPLETED":
		return models.TransactionStatusCompleted
	case "FAILED", "DECLINED":
		return models.TransactionStatusFailed
	case "CANCELLED":
		return models.TransactionStatusCancelled
	case "EXPIRED", "TIMEOUT":
		return models.TransactionStatusExpired
	case "PENDING", "PROCESSING", "ACCEPTED":
		return models.TransactionStatusProcessing
	}
	return ""
}
