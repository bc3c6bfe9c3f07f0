package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// MomoNotification is published to the notifications topic for every lifecycle event.
type MomoNotification struct {
	CompanyId     string                   `json:"company_id"`
	TransactionId int                      `json:"transaction_id"`
	EventType     string                   `json:"event_type"`
	Status        models.TransactionStatus `json:"status"`
	Type          models.TransactionType   `json:"type"`
	Amount        string                   `json:"amount"`
	Currency      string                   `json:"currency"`
	Msisdn        string                   `json:"msisdn"`
	Reference     string                   `json:"reference"`
	FailureReason *string                  `json:"failure_reason,omitempty"`
	OccurredAt    time.Time                `json:"occurred_at"`
	CorrelationId string                   `json:"correlation_id"`
}

func notificationFromEvent(msg config.MomoEventMessage) (*MomoNotification, error) {
	var payload models.MomoEventPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return nil, err
		}
	}
	return &MomoNotification{
		CompanyId:     msg.CompanyId,
		TransactionId: msg.TransactionId,
		EventType:     msg.EventType,
		Status:        payload.Status,
		Type:          payload.Type,
		Amount:        payload.Amount,
		Currency:      payload.Currency,
		Msisdn:        payload.Msisdn,
		Reference:     payload.Reference,
		FailureReason: payload.FailureReason,
		OccurredAt:    msg.EventDateTime,
		CorrelationId: msg.CorrelationId,
	}, nil
}

// EventProcessor consumes outbox events: completed transactions are posted to the ledger and
// every event is forwarded as a notification. Each side effect runs at most once per event.
type EventProcessor struct {
	Logger  *logrus.Logger
	Publish func(ctx context.Context, obj interface{}) error
}

func NewEventProcessor(logger *logrus.Logger) *EventProcessor {
	return &EventProcessor{Logger: logger, Publish: config.PublishNotification}
}

func (p *EventProcessor) log(msg config.MomoEventMessage) *logrus.Entry {
	return p.Logger.WithFields(logrus.Fields{
		"field":          "EventProcessor",
		"company_id":     msg.CompanyId,
		"transaction_id": msg.TransactionId,
		"event_type":     msg.EventType,
		"record_id":      msg.ID,
		"correlation_id": msg.CorrelationId,
	})
}

// Process handles one event. Redelivery of the same event is safe.
func (p *EventProcessor) Process(ctx context.Context, msg config.MomoEventMessage) error {
	if msg.CompanyId == "" || msg.TransactionId <= 0 {
		return models.NewValidationError("message", "company_id and transaction_id are required")
	}
	ctx = utils.SystemContext(ctx, msg.CompanyId)
	if msg.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, msg.CorrelationId)
	}
	ctx, span := tracer.Start(ctx, "EventProcessor.Process")
	defer span.End()
	span.SetAttributes(attribute.String("event_type", msg.EventType), attribute.Int("transaction_id", msg.TransactionId))

	if msg.EventType == models.MomoEventTransactionCompleted {
		if err := p.postLedger(ctx, msg); err != nil {
			return err
		}
	}
	return p.notify(ctx, msg)
}

// postLedger is keyed by transaction so two events for the same transaction cannot post twice.
func (p *EventProcessor) postLedger(ctx context.Context, msg config.MomoEventMessage) error {
	messageId := strconv.Itoa(msg.TransactionId)
	var missingAccounts *models.MomoTransaction

	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := BeginIdempotency(tx, msg.CompanyId, models.IdempotencyHandlerLedger, messageId)
		if err != nil || skip {
			return err
		}
		txn, err := utils.FetchModelTx[models.MomoTransaction](tx, msg.CompanyId, msg.TransactionId, true)
		if err != nil {
			return err
		}
		if txn.Status == models.TransactionStatusCompleted {
			provider, err := utils.FetchModelTx[models.MomoProvider](tx, msg.CompanyId, txn.ProviderId, false)
			if err != nil {
				return err
			}
			posted, err := models.PostMomoLedgerEntries(tx, txn, provider)
			switch {
			case errors.Is(err, models.ErrLedgerAccountsMissing):
				missingAccounts = txn
			case err != nil:
				return err
			case posted:
				if err := models.AppendTransactionEvent(tx, txn.ID, models.TransactionEventSpec{
					EventType:  models.TransactionEventLedgerPosted,
					FromStatus: txn.Status,
					ToStatus:   txn.Status,
					Source:     models.EventSourceScheduler,
					Payload:    map[string]any{"record_id": msg.ID},
				}); err != nil {
					return err
				}
			}
		}
		return MarkIdempotencySucceeded(tx, msg.CompanyId, models.IdempotencyHandlerLedger, messageId)
	})
	if err != nil {
		return err
	}
	if missingAccounts != nil && !missingAccounts.NeedsReview {
		p.log(msg).Warn("ledger accounts missing, transaction flagged for review")
		return models.FlagTransactionForReview(ctx, missingAccounts, models.ErrLedgerAccountsMissing.Error(), models.EventSourceScheduler)
	}
	return nil
}

func (p *EventProcessor) notify(ctx context.Context, msg config.MomoEventMessage) error {
	if !config.NotificationsEnabled() || p.Publish == nil {
		return nil
	}
	n, err := notificationFromEvent(msg)
	if err != nil {
		// A payload that cannot be decoded will not decode on retry either.
		p.log(msg).WithError(err).Error("undecodable event payload, notification dropped")
		return nil
	}
	messageId := strconv.Itoa(msg.ID)
	db := config.GetDB().WithContext(ctx)
	skip, err := BeginIdempotency(db, msg.CompanyId, models.IdempotencyHandlerNotify, messageId)
	if err != nil || skip {
		return err
	}
	if err := p.Publish(ctx, n); err != nil {
		_ = MarkIdempotencyFailed(db, msg.CompanyId, models.IdempotencyHandlerNotify, messageId, err)
		return err
	}
	return MarkIdempotencySucceeded(db, msg.CompanyId, models.IdempotencyHandlerNotify, messageId)
}
