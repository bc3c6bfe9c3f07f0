package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
	"gorm.io/gorm"
)

// Outbox event types.
const (
	MomoEventTransactionCompleted = "transaction.completed"
	MomoEventTransactionFailed    = "transaction.failed"
	MomoEventTransactionCancelled = "transaction.cancelled"
	MomoEventTransactionExpired   = "transaction.expired"
	MomoEventTransactionReview    = "transaction.needs_review"
)

// MomoEventRecord is the transactional outbox: written in the same DB transaction as the
// state change, published to Pub/Sub after commit by the outbox dispatcher.
type MomoEventRecord struct {
	ID               int        `gorm:"primary_key;index:idx_momo_outbox_dispatch,priority:3" json:"id"`
	CompanyId        string     `gorm:"size:64;not null;index" json:"company_id"`
	TransactionId    int        `gorm:"not null;index" json:"transaction_id"`
	EventType        string     `gorm:"size:50;not null" json:"event_type"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	EventDateTime    time.Time  `gorm:"not null" json:"event_date_time"`
	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index:idx_momo_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index:idx_momo_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	ProcessingStatus string     `gorm:"size:20;not null;default:'PENDING';index" json:"processing_status"`
	ProcessAttempts  int        `gorm:"not null;default:0" json:"process_attempts"`
	NextProcessAt    *time.Time `gorm:"index" json:"next_process_at"`
	LastProcessError *string    `gorm:"type:text" json:"last_process_error"`
	ProcessedAt      *time.Time `json:"processed_at"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MomoEventPayload is what consumers receive for a transaction event.
type MomoEventPayload struct {
	TransactionId int               `json:"transaction_id"`
	ProviderId    int               `json:"provider_id"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	Amount        string            `json:"amount"`
	FeeAmount     string            `json:"fee_amount"`
	NetAmount     string            `json:"net_amount"`
	Currency      string            `json:"currency"`
	Msisdn        string            `json:"msisdn"`
	Reference     string            `json:"reference"`
	InvoiceId     *int              `json:"invoice_id,omitempty"`
	PaymentId     *int              `json:"payment_id,omitempty"`
	FailureReason *string           `json:"failure_reason,omitempty"`
}

func eventTypeForStatus(s TransactionStatus) string {
	switch s {
	case TransactionStatusCompleted:
		return MomoEventTransactionCompleted
	case TransactionStatusFailed:
		return MomoEventTransactionFailed
	case TransactionStatusCancelled:
		return MomoEventTransactionCancelled
	case TransactionStatusExpired:
		return MomoEventTransactionExpired
	}
	return ""
}

// writeMomoEvent enqueues an outbox record inside the caller's DB transaction.
func writeMomoEvent(tx *gorm.DB, txn *MomoTransaction, eventType string) error {
	payload, err := json.Marshal(MomoEventPayload{
		TransactionId: txn.ID,
		ProviderId:    txn.ProviderId,
		Type:          txn.Type,
		Status:        txn.Status,
		Amount:        txn.Amount.String(),
		FeeAmount:     txn.FeeAmount.String(),
		NetAmount:     txn.NetAmount.String(),
		Currency:      txn.Currency,
		Msisdn:        txn.Msisdn,
		Reference:     txn.Reference,
		InvoiceId:     txn.InvoiceId,
		PaymentId:     txn.PaymentId,
		FailureReason: txn.FailureReason,
	})
	if err != nil {
		return err
	}
	record := MomoEventRecord{
		CompanyId:        txn.CompanyId,
		TransactionId:    txn.ID,
		EventType:        eventType,
		Payload:          payload,
		EventDateTime:    time.Now().UTC(),
		PublishStatus:    OutboxPublishStatusPending,
		ProcessingStatus: OutboxProcessStatusPending,
		CorrelationId:    correlationIdFromContextOrNew(tx.Statement.Context),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToMomoEventMessage(record MomoEventRecord) config.MomoEventMessage {
	return config.MomoEventMessage{
		ID:            record.ID,
		CompanyId:     record.CompanyId,
		EventDateTime: record.EventDateTime,
		TransactionId: record.TransactionId,
		EventType:     record.EventType,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}
