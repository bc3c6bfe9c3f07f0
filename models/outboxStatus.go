package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
	"gorm.io/gorm"
)

// OutboxStatus is the operator view of one outbox record of a transaction.
type OutboxStatus struct {
	RecordId         int        `json:"record_id"`
	TransactionId    int        `json:"transaction_id"`
	EventType        string     `json:"event_type"`
	PublishStatus    string     `json:"publish_status"`
	ProcessingStatus string     `json:"processing_status"`
	PublishAttempts  int        `json:"publish_attempts"`
	ProcessAttempts  int        `json:"process_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	NextProcessAt    *time.Time `json:"next_process_at"`
	LastPublishError *string    `json:"last_publish_error"`
	LastProcessError *string    `json:"last_process_error"`
	CreatedAt        time.Time  `json:"created_at"`
	PublishedAt      *time.Time `json:"published_at"`
	ProcessedAt      *time.Time `json:"processed_at"`
}

func toOutboxStatus(rec MomoEventRecord) *OutboxStatus {
	return &OutboxStatus{
		RecordId:         rec.ID,
		TransactionId:    rec.TransactionId,
		EventType:        rec.EventType,
		PublishStatus:    rec.PublishStatus,
		ProcessingStatus: rec.ProcessingStatus,
		PublishAttempts:  rec.PublishAttempts,
		ProcessAttempts:  rec.ProcessAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		NextProcessAt:    rec.NextProcessAt,
		LastPublishError: rec.LastPublishError,
		LastProcessError: rec.LastProcessError,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
		ProcessedAt:      rec.ProcessedAt,
	}
}

// GetOutboxStatuses lists every outbox record of a transaction, oldest first.
func GetOutboxStatuses(ctx context.Context, transactionId int) ([]*OutboxStatus, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var recs []MomoEventRecord
	if err := config.GetDB().WithContext(ctx).
		Where("company_id = ? AND transaction_id = ?", companyId, transactionId).
		Order("id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*OutboxStatus, 0, len(recs))
	for _, r := range recs {
		out = append(out, toOutboxStatus(r))
	}
	return out, nil
}

// GetMomoEventRecord loads one outbox record of the current company.
func GetMomoEventRecord(ctx context.Context, id int) (*MomoEventRecord, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var rec MomoEventRecord
	err = config.GetDB().WithContext(ctx).Where("id = ? AND company_id = ?", id, companyId).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
