package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
)

// PaymentRequest is what every adapter needs to move money.
type PaymentRequest struct {
	Reference   string
	// RequestId is the UUID sent where the operator demands one; stable across retries.
	RequestId   string
	Type        models.TransactionType
	Amount      decimal.Decimal
	Currency    string
	Msisdn      string
	Description string
}

// InitiateResult is the provider's synchronous answer to a collection or transfer.
type InitiateResult struct {
	ProviderReference string
	ProviderStatus    string
	// Status is processing when the provider accepted the request, or a terminal
	// status when it already decided.
	Status models.TransactionStatus
	Reason string
}

// StatusResult is the answer of a status poll.
type StatusResult struct {
	ProviderReference string
	ProviderStatus    string
	Status            models.TransactionStatus
	Amount            decimal.NullDecimal
	Currency          string
	Reason            string
}

// WebhookEvent is a provider callback in provider-neutral form.
type WebhookEvent struct {
	WebhookId         string
	EventType         string
	ProviderReference string
	Reference         string
	ProviderStatus    string
	Status            models.TransactionStatus
	Amount            decimal.NullDecimal
	Currency          string
	Reason            string
	OccurredAt        *time.Time
}

// Gateway is one mobile-money operator API.
//
//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks github.com/mmdatafocus/momo_backend/providers Gateway
type Gateway interface {
	Code() models.ProviderCode
	RequestToPay(ctx context.Context, cfg *models.MomoProvider, req PaymentRequest) (*InitiateResult, error)
	Transfer(ctx context.Context, cfg *models.MomoProvider, req PaymentRequest) (*InitiateResult, error)
	QueryStatus(ctx context.Context, cfg *models.MomoProvider, txnType models.TransactionType, reference, providerReference string) (*StatusResult, error)
	ParseWebhook(payload []byte) (*WebhookEvent, error)
	VerifySignature(cfg *models.MomoProvider, payload []byte, signature string) error
}

// Initiate dispatches to RequestToPay or Transfer by transaction direction.
func Initiate(ctx context.Context, g Gateway, cfg *models.MomoProvider, req PaymentRequest) (*InitiateResult, error) {
	if req.Type.IsInbound() {
		return g.RequestToPay(ctx, cfg, req)
	}
	return g.Transfer(ctx, cfg, req)
}

type Registry struct {
	gateways map[models.ProviderCode]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[models.ProviderCode]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Code()] = g
	}
	return r
}

// NewDefaultRegistry wires the MTN, Airtel and Zamtel adapters.
func NewDefaultRegistry() *Registry {
	return NewRegistry(NewMtnGateway(), NewAirtelGateway(), NewZamtelGateway())
}

func (r *Registry) Get(code models.ProviderCode) (Gateway, error) {
	g, ok := r.gateways[code]
	if !ok {
		return nil, fmt.Errorf("no gateway registered for provider %s", code)
	}
	return g, nil
}

// Zambian national prefixes per operator (mobile numbers are 9 significant digits).
var msisdnPrefixes = map[string]models.ProviderCode{
	"96": models.ProviderCodeMTN,
	"76": models.ProviderCodeMTN,
	"97": models.ProviderCodeAirtel,
	"77": models.ProviderCodeAirtel,
	"95": models.ProviderCodeZamtel,
	"75": models.ProviderCodeZamtel,
}

// DetectProvider returns the operator owning a normalized MSISDN.
func DetectProvider(msisdn, countryCode string) (models.ProviderCode, error) {
	national, err := utils.NationalNumber(msisdn, countryCode)
	if err != nil {
		return "", err
	}
	if len(national) < 2 {
		return "", fmt.Errorf("msisdn %s is too short", msisdn)
	}
	code, ok := msisdnPrefixes[national[:2]]
	if !ok {
		return "", fmt.Errorf("msisdn %s does not belong to a known operator", msisdn)
	}
	return code, nil
}

// CheckMsisdnProvider rejects a number that belongs to another operator than the chosen provider.
func CheckMsisdnProvider(msisdn string, cfg *models.MomoProvider) error {
	if !strings.EqualFold(cfg.CountryCode, "ZM") {
		return nil
	}
	code, err := DetectProvider(msisdn, cfg.CountryCode)
	if err != nil {
		return models.NewValidationError("msisdn", "%v", err)
	}
	if code != cfg.Code {
		return models.NewValidationError("msisdn", "number belongs to %s, not %s", code, cfg.Code)
	}
	return nil
}
