package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/momo_backend/appctx"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/mmdatafocus/momo_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxDirectProcessor processes unhandled outbox records without Pub/Sub.
// It is the local/dev path and a safety net when push delivery is misconfigured.
type OutboxDirectProcessor struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Processor *workflow.EventProcessor
	WorkerID  string
	BatchSize int
	Interval  time.Duration
	LockTTL   time.Duration
}

func NewOutboxDirectProcessor(db *gorm.DB, logger *logrus.Logger, processor *workflow.EventProcessor) *OutboxDirectProcessor {
	return &OutboxDirectProcessor{
		DB:        db,
		Logger:    logger,
		Processor: processor,
		WorkerID:  "direct-" + uuid.NewString(),
		BatchSize: 50,
		Interval:  2 * time.Second,
		LockTTL:   30 * time.Second,
	}
}

func shouldRunDirectOutboxProcessor() bool {
	return config.DirectEventProcessing()
}

func (p *OutboxDirectProcessor) Run(ctx context.Context) {
	if p == nil || p.DB == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
	}
}

func (p *OutboxDirectProcessor) claim(ctx context.Context, now time.Time) ([]models.MomoEventRecord, error) {
	staleBefore := now.Add(-p.LockTTL)
	var claimed []models.MomoEventRecord
	err := p.DB.WithContext(appctx.WithoutTenantScope(ctx)).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("processing_status IN ?", []string{models.OutboxProcessStatusPending, models.OutboxProcessStatusFailed}).
			Where("(next_process_at IS NULL OR next_process_at <= ?)", now).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(p.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]int, len(claimed))
		for i := range claimed {
			ids[i] = claimed[i].ID
		}
		return tx.Model(&models.MomoEventRecord{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"locked_at": &now,
				"locked_by": p.WorkerID,
			}).Error
	})
	return claimed, err
}

func (p *OutboxDirectProcessor) processOnce(ctx context.Context) {
	claimed, err := p.claim(ctx, time.Now().UTC())
	if err != nil {
		config.LogError(p.Logger, "OutboxDirectProcessor", "processOnce", "claim batch", nil, err)
		return
	}

	for _, rec := range claimed {
		msg := models.ConvertToMomoEventMessage(rec)
		procCtx := utils.SystemContext(ctx, rec.CompanyId)
		procCtx = utils.SetCorrelationIdInContext(procCtx, rec.CorrelationId)

		mutex := companyMutex(rec.CompanyId)
		mutex.Lock()
		err := ProcessMessage(procCtx, p.Logger, p.Processor, msg)
		mutex.Unlock()
		if err != nil && p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"field":          "OutboxDirectProcessor",
				"company_id":     rec.CompanyId,
				"transaction_id": rec.TransactionId,
				"event_type":     rec.EventType,
				"record_id":      rec.ID,
			}).Error("direct processing failed: " + err.Error())
		}
	}
}
