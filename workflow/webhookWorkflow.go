package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/momo_backend/appctx"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/providers"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// WebhookIngestor verifies, deduplicates, stores and applies provider callbacks.
type WebhookIngestor struct {
	Registry *providers.Registry
	Logger   *logrus.Logger
	Now      func() time.Time
}

// WebhookResult is the recorded outcome of one delivery.
type WebhookResult struct {
	WebhookId     int                  `json:"webhook_id"`
	Status        models.WebhookStatus `json:"status"`
	TransactionId *int                 `json:"transaction_id,omitempty"`
	Duplicate     bool                 `json:"duplicate"`
}

func (w *WebhookIngestor) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func payloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func newWebhookRecord(provider *models.MomoProvider, event *providers.WebhookEvent, payload []byte, signature string, receivedAt time.Time) *models.MomoWebhook {
	wh := &models.MomoWebhook{
		ProviderId: provider.ID,
		Payload:    string(payload),
		Signature:  signature,
		ReceivedAt: receivedAt,
	}
	if event == nil {
		return wh
	}
	wh.WebhookId = event.WebhookId
	wh.EventType = event.EventType
	wh.ProviderReference = utils.NilIfEmpty(event.ProviderReference)
	wh.Reference = utils.NilIfEmpty(event.Reference)
	wh.ReportedAmount = event.Amount
	wh.ReportedCurrency = utils.NilIfEmpty(event.Currency)
	if event.Status != "" {
		status := event.Status
		wh.ReportedStatus = &status
	}
	return wh
}

// Ingest handles one delivery for providerID. The tenant is taken from the provider row.
// Every delivery is stored; the error reports why it was not applied.
func (w *WebhookIngestor) Ingest(ctx context.Context, providerID int, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := tracer.Start(ctx, "WebhookIngestor.Ingest")
	defer span.End()
	span.SetAttributes(attribute.Int("provider_id", providerID))

	provider, err := models.GetMomoProviderForWebhook(ctx, providerID)
	if err != nil {
		return nil, err
	}
	ctx = utils.SystemContext(appctx.WithCompany(ctx, provider.CompanyId), provider.CompanyId)
	gateway, err := w.Registry.Get(provider.Code)
	if err != nil {
		return nil, err
	}
	logger := w.Logger.WithFields(logrus.Fields{
		"field":       "WebhookIngestor",
		"company_id":  provider.CompanyId,
		"provider_id": provider.ID,
	})

	event, parseErr := gateway.ParseWebhook(payload)
	if sigErr := gateway.VerifySignature(provider, payload, signature); sigErr != nil {
		wh := newWebhookRecord(provider, event, payload, signature, w.now())
		if wh.WebhookId == "" {
			wh.WebhookId = "unverified:" + payloadHash(payload)
		}
		wh.DedupeHash = models.WebhookDedupeHash(provider.ID, wh.WebhookId)
		wh.Status = models.WebhookStatusFailed
		msg := sigErr.Error()
		wh.ErrorMessage = &msg
		if err := models.CreateMomoWebhook(ctx, wh); err != nil {
			return nil, err
		}
		logger.WithField("webhook_id", wh.WebhookId).Warn("webhook signature rejected")
		return &WebhookResult{WebhookId: wh.ID, Status: wh.Status}, sigErr
	}
	if parseErr != nil {
		wh := newWebhookRecord(provider, nil, payload, signature, w.now())
		wh.WebhookId = "unparsed:" + payloadHash(payload)
		wh.DedupeHash = models.WebhookDedupeHash(provider.ID, wh.WebhookId)
		wh.SignatureVerified = true
		wh.Status = models.WebhookStatusFailed
		msg := parseErr.Error()
		wh.ErrorMessage = &msg
		if err := models.CreateMomoWebhook(ctx, wh); err != nil {
			return nil, err
		}
		logger.WithError(parseErr).Warn("webhook payload could not be parsed")
		return &WebhookResult{WebhookId: wh.ID, Status: wh.Status}, models.NewValidationError("payload", "%v", parseErr)
	}

	wh := newWebhookRecord(provider, event, payload, signature, w.now())
	wh.SignatureVerified = true
	wh.DedupeHash = models.WebhookDedupeHash(provider.ID, event.WebhookId)
	logger = logger.WithField("webhook_id", event.WebhookId)

	db := config.GetDB().WithContext(ctx)
	skip, err := BeginIdempotency(db, provider.CompanyId, models.IdempotencyHandlerWebhook, wh.DedupeHash)
	if err != nil && !errors.Is(err, ErrIdempotencyInProgress) {
		return nil, err
	}
	if skip || errors.Is(err, ErrIdempotencyInProgress) {
		return w.recordDuplicate(ctx, provider, wh, event, logger)
	}

	if err := models.CreateMomoWebhook(ctx, wh); err != nil {
		_ = MarkIdempotencyFailed(db, provider.CompanyId, models.IdempotencyHandlerWebhook, wh.DedupeHash, err)
		return nil, err
	}
	outcome, procErr := w.process(ctx, provider, wh, event)
	if procErr != nil {
		outcome = replayableFailure(outcome, procErr)
	}
	if err := models.RecordWebhookOutcome(ctx, wh, outcome); err != nil {
		procErr = errors.Join(procErr, err)
	}
	if procErr != nil {
		_ = MarkIdempotencyFailed(db, provider.CompanyId, models.IdempotencyHandlerWebhook, wh.DedupeHash, procErr)
		config.LogError(logger.Logger, "webhookWorkflow.go", "Ingest", "applying webhook", event.WebhookId, procErr)
	} else if err := MarkIdempotencySucceeded(db, provider.CompanyId, models.IdempotencyHandlerWebhook, wh.DedupeHash); err != nil {
		logger.WithError(err).Warn("failed to mark webhook idempotency key")
	}
	logger.WithField("status", wh.Status).Info("webhook ingested")
	return &WebhookResult{WebhookId: wh.ID, Status: wh.Status, TransactionId: wh.TransactionId}, procErr
}

// recordDuplicate stores a repeat delivery without touching the transaction.
func (w *WebhookIngestor) recordDuplicate(ctx context.Context, provider *models.MomoProvider, wh *models.MomoWebhook, event *providers.WebhookEvent, logger *logrus.Entry) (*WebhookResult, error) {
	wh.Status = models.WebhookStatusIgnored
	wh.IsDuplicate = true
	now := w.now()
	wh.ProcessedAt = &now
	txn, err := models.FindTransactionForCallback(ctx, provider.ID, event.ProviderReference, event.Reference)
	if err != nil {
		return nil, err
	}
	if txn != nil {
		wh.TransactionId = &txn.ID
	}
	if err := models.CreateMomoWebhook(ctx, wh); err != nil {
		return nil, err
	}
	if txn != nil {
		if err := models.RecordTransactionNote(ctx, txn.ID, models.TransactionEventSpec{
			EventType:  models.TransactionEventWebhookDuplicate,
			FromStatus: txn.Status,
			ToStatus:   txn.Status,
			Source:     models.EventSourceWebhook,
			Note:       event.WebhookId,
			Payload:    map[string]any{"webhook_record_id": wh.ID},
		}); err != nil {
			return nil, err
		}
	}
	logger.Info("duplicate webhook ignored")
	return &WebhookResult{WebhookId: wh.ID, Status: wh.Status, TransactionId: wh.TransactionId, Duplicate: true}, nil
}

// process correlates a stored delivery with its transaction and applies the reported status.
// Outcomes the provider cannot fix by resending are returned as a non-error outcome.
func (w *WebhookIngestor) process(ctx context.Context, provider *models.MomoProvider, wh *models.MomoWebhook, event *providers.WebhookEvent) (models.WebhookOutcome, error) {
	txn, err := models.FindTransactionForCallback(ctx, provider.ID, event.ProviderReference, event.Reference)
	if err != nil {
		return models.WebhookOutcome{}, err
	}
	if txn == nil {
		return models.WebhookOutcome{Status: models.WebhookStatusPendingCorrelation}, nil
	}
	outcome := models.WebhookOutcome{TransactionId: &txn.ID}

	if txn.Status.IsTerminal() {
		return w.ignore(ctx, txn, event, fmt.Sprintf("transaction already %s", txn.Status))
	}
	if !event.Status.IsValid() {
		return w.ignore(ctx, txn, event, fmt.Sprintf("unmapped provider status %q", event.ProviderStatus))
	}

	_, err = ApplyProviderStatus(ctx, provider, txn, StatusUpdate{
		Status:            event.Status,
		ProviderStatus:    event.ProviderStatus,
		ProviderReference: event.ProviderReference,
		Amount:            event.Amount,
		Currency:          event.Currency,
		Reason:            event.Reason,
		Payload:           map[string]any{"webhook_id": event.WebhookId, "webhook_record_id": wh.ID},
	}, models.EventSourceWebhook, w.now())

	var mismatch *AmountMismatchError
	switch {
	case err == nil:
		outcome.Status = models.WebhookStatusProcessed
		return outcome, nil
	case errors.As(err, &mismatch):
		outcome.Status = models.WebhookStatusFailed
		outcome.Error = mismatch.Error()
		return outcome, nil
	case models.IsTerminalStateViolation(err):
		if reloadErr := reloadTransaction(ctx, txn); reloadErr != nil {
			return outcome, reloadErr
		}
		return w.ignore(ctx, txn, event, err.Error())
	}
	return outcome, err
}

// replayableFailure records an error on our side. The provider was answered 200 and will not
// resend, so the delivery is kept for ReplayPending.
func replayableFailure(outcome models.WebhookOutcome, err error) models.WebhookOutcome {
	return models.WebhookOutcome{
		Status:        models.WebhookStatusFailed,
		TransactionId: outcome.TransactionId,
		Replayable:    true,
		Error:         err.Error(),
	}
}

func (w *WebhookIngestor) ignore(ctx context.Context, txn *models.MomoTransaction, event *providers.WebhookEvent, reason string) (models.WebhookOutcome, error) {
	err := models.RecordTransactionNote(ctx, txn.ID, models.TransactionEventSpec{
		EventType:  models.TransactionEventWebhookIgnored,
		FromStatus: txn.Status,
		ToStatus:   txn.Status,
		Source:     models.EventSourceWebhook,
		Note:       reason,
		Payload:    map[string]any{"webhook_id": event.WebhookId, "reported_status": event.Status},
	})
	return models.WebhookOutcome{Status: models.WebhookStatusIgnored, TransactionId: &txn.ID, Error: reason}, err
}

// ReplayPending re-applies deliveries for txn that never took effect, oldest first: those
// parked as pending_correlation and those that failed transiently after verification.
func (w *WebhookIngestor) ReplayPending(ctx context.Context, provider *models.MomoProvider, txn *models.MomoTransaction) (int, error) {
	settings := provider.Settings(config.GetMomoDefaults())
	parked, err := models.ListReplayableWebhooks(ctx, provider.ID, txn.ID, txn.ProviderRef(), txn.Reference, settings.MaxRetryAttempts)
	if err != nil || len(parked) == 0 {
		return 0, err
	}
	gateway, err := w.Registry.Get(provider.Code)
	if err != nil {
		return 0, err
	}
	db := config.GetDB().WithContext(ctx)
	replayed := 0
	for _, wh := range parked {
		if err := models.IncrementWebhookRetry(ctx, wh); err != nil {
			return replayed, err
		}
		event, err := gateway.ParseWebhook([]byte(wh.Payload))
		if err != nil {
			if err := models.RecordWebhookOutcome(ctx, wh, models.WebhookOutcome{Status: models.WebhookStatusFailed, Error: err.Error()}); err != nil {
				return replayed, err
			}
			continue
		}
		outcome, procErr := w.process(ctx, provider, wh, event)
		if procErr != nil {
			outcome = replayableFailure(outcome, procErr)
		}
		if err := models.RecordWebhookOutcome(ctx, wh, outcome); err != nil {
			return replayed, err
		}
		if procErr == nil {
			if err := MarkIdempotencySucceeded(db, txn.CompanyId, models.IdempotencyHandlerWebhook, wh.DedupeHash); err != nil {
				w.Logger.WithError(err).Warn("failed to mark webhook idempotency key")
			}
		}
		replayed++
		w.Logger.WithFields(logrus.Fields{
			"field":          "WebhookIngestor",
			"company_id":     txn.CompanyId,
			"transaction_id": txn.ID,
			"webhook_id":     wh.WebhookId,
			"status":         outcome.Status,
			"retry_count":    wh.RetryCount,
		}).Info("stored webhook replayed")
	}
	return replayed, nil
}
