package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
)

// ReprocessOutbox resets unfinished records of a transaction so the dispatcher and
// the direct processor pick them up again.
func ReprocessOutbox(ctx context.Context, transactionId int) ([]*OutboxStatus, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res := config.GetDB().WithContext(ctx).
		Model(&MomoEventRecord{}).
		Where("company_id = ? AND transaction_id = ? AND processing_status <> ?", companyId, transactionId, OutboxProcessStatusSucceeded).
		Updates(map[string]interface{}{
			"locked_at":          nil,
			"locked_by":          nil,
			"publish_status":     OutboxPublishStatusPending,
			"next_attempt_at":    nil,
			"processing_status":  OutboxProcessStatusPending,
			"next_process_at":    &now,
			"last_process_error": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return GetOutboxStatuses(ctx, transactionId)
}
