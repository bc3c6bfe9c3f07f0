package main

import (
	"context"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/sirupsen/logrus"
)

type outboxProcessRetryConfig struct {
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func getOutboxProcessRetryConfig() outboxProcessRetryConfig {
	cfg := outboxProcessRetryConfig{
		maxAttempts: 10,
		baseBackoff: 5 * time.Second,
		maxBackoff:  10 * time.Minute,
	}

	if v := os.Getenv("OUTBOX_PROCESS_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxAttempts = n
		}
	}
	if v := os.Getenv("OUTBOX_PROCESS_BASE_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.baseBackoff = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("OUTBOX_PROCESS_MAX_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxBackoff = time.Duration(n) * time.Second
		}
	}

	return cfg
}

func outboxProcessBackoff(attempt int, cfg outboxProcessRetryConfig) time.Duration {
	if attempt <= 0 {
		return cfg.baseBackoff
	}
	// base * 2^(attempt-1), capped.
	delay := time.Duration(float64(cfg.baseBackoff) * math.Pow(2, float64(attempt-1)))
	if delay > cfg.maxBackoff || delay <= 0 {
		return cfg.maxBackoff
	}
	return delay
}

func processingFields(m config.MomoEventMessage) logrus.Fields {
	return logrus.Fields{
		"field":          "OutboxProcessing",
		"company_id":     m.CompanyId,
		"transaction_id": m.TransactionId,
		"event_type":     m.EventType,
		"record_id":      m.ID,
		"correlation_id": m.CorrelationId,
	}
}

func markOutboxProcessing(ctx context.Context, id int) {
	if id <= 0 {
		return
	}
	_ = config.GetDB().WithContext(ctx).
		Model(&models.MomoEventRecord{}).
		Where("id = ? AND processing_status <> ?", id, models.OutboxProcessStatusDead).
		Updates(map[string]interface{}{
			"processing_status": models.OutboxProcessStatusProcessing,
		}).Error
}

// markOutboxProcessFailure returns whether the record is now DEAD.
func markOutboxProcessFailure(ctx context.Context, logger *logrus.Logger, m config.MomoEventMessage, err error) bool {
	if m.ID <= 0 {
		return false
	}

	cfg := getOutboxProcessRetryConfig()
	now := time.Now().UTC()
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	db := config.GetDB().WithContext(ctx)

	var rec models.MomoEventRecord
	if qerr := db.Select("id, company_id, transaction_id, process_attempts").
		Where("id = ?", m.ID).
		First(&rec).Error; qerr != nil {
		// Still record the error even if attempts cannot be read.
		_ = db.Model(&models.MomoEventRecord{}).
			Where("id = ?", m.ID).
			Updates(map[string]interface{}{
				"last_process_error": &errMsg,
				"locked_at":          nil,
				"locked_by":          nil,
				"processing_status":  models.OutboxProcessStatusFailed,
			}).Error
		return false
	}

	attempts := rec.ProcessAttempts + 1
	status := models.OutboxProcessStatusFailed
	var nextProcessAt *time.Time
	if attempts >= cfg.maxAttempts {
		status = models.OutboxProcessStatusDead
	} else {
		t := now.Add(outboxProcessBackoff(attempts, cfg))
		nextProcessAt = &t
	}

	_ = db.Model(&models.MomoEventRecord{}).
		Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"last_process_error": &errMsg,
			"process_attempts":   attempts,
			"next_process_at":    nextProcessAt,
			"processing_status":  status,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error

	if logger != nil {
		fields := processingFields(m)
		fields["processing_status"] = status
		fields["process_attempts"] = attempts
		logger.WithFields(fields).Error("outbox processing failed: " + errMsg)
	}
	return status == models.OutboxProcessStatusDead
}

func markOutboxProcessSuccess(ctx context.Context, logger *logrus.Logger, m config.MomoEventMessage) {
	if m.ID <= 0 {
		return
	}
	now := time.Now().UTC()

	// DEAD rows stay DEAD until an operator replays them.
	_ = config.GetDB().WithContext(ctx).Model(&models.MomoEventRecord{}).
		Where("id = ? AND processing_status <> ?", m.ID, models.OutboxProcessStatusDead).
		Updates(map[string]interface{}{
			"processing_status":  models.OutboxProcessStatusSucceeded,
			"processed_at":       &now,
			"next_process_at":    nil,
			"last_process_error": nil,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error

	if logger != nil {
		fields := processingFields(m)
		fields["processing_status"] = models.OutboxProcessStatusSucceeded
		logger.WithFields(fields).Info("outbox processed successfully")
	}
}
