package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/momo_backend/appctx"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RetryScheduler re-sends, polls and expires transactions whose next attempt is due.
// Rows are leased with locked_at/locked_by so several workers can run side by side.
type RetryScheduler struct {
	DB       *gorm.DB
	Payments *PaymentWorkflow
	Logger   *logrus.Logger
	WorkerID string

	BatchSize    int
	PollInterval time.Duration
	LeaseTimeout time.Duration
	Now          func() time.Time
}

func NewRetryScheduler(db *gorm.DB, payments *PaymentWorkflow, logger *logrus.Logger) *RetryScheduler {
	defaults := config.GetMomoDefaults()
	return &RetryScheduler{
		DB:           db,
		Payments:     payments,
		Logger:       logger,
		WorkerID:     "retry-" + uuid.NewString(),
		BatchSize:    defaults.RetryBatchSize,
		PollInterval: defaults.RetryPollInterval,
		LeaseTimeout: 2 * time.Minute,
	}
}

func (s *RetryScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *RetryScheduler) log(txn *models.MomoTransaction) *logrus.Entry {
	return s.Logger.WithFields(logrus.Fields{
		"field":          "RetryScheduler",
		"worker_id":      s.WorkerID,
		"company_id":     txn.CompanyId,
		"transaction_id": txn.ID,
		"status":         txn.Status,
		"retry_count":    txn.RetryCount,
	})
}

// Run loops until ctx is cancelled.
func (s *RetryScheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			config.LogError(s.Logger, "RetryScheduler", "Run", "run once", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.PollInterval):
		}
	}
}

// RunOnce claims one batch of due transactions and handles them. It returns how many
// were claimed.
func (s *RetryScheduler) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "RetryScheduler.RunOnce")
	defer span.End()

	claimed, err := s.claim(ctx, s.now())
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("claimed", len(claimed)))
	for _, txn := range claimed {
		if ctx.Err() != nil {
			return len(claimed), ctx.Err()
		}
		s.handle(ctx, txn)
	}
	return len(claimed), nil
}

// claim selects due rows across companies with SKIP LOCKED and stamps the lease.
// Expired leases of crashed workers are reclaimed.
func (s *RetryScheduler) claim(ctx context.Context, now time.Time) ([]*models.MomoTransaction, error) {
	if s.DB == nil {
		return nil, nil
	}
	var claimed []*models.MomoTransaction
	err := s.DB.WithContext(appctx.WithoutTenantScope(ctx)).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("status IN ? AND needs_review = ?",
				[]models.TransactionStatus{models.TransactionStatusPending, models.TransactionStatusProcessing}, false).
			Where(`
				(next_retry_at IS NOT NULL AND next_retry_at <= ?)
				OR
				(status = ? AND expires_at IS NOT NULL AND expires_at <= ?)
			`, now, models.TransactionStatusPending, now).
			Where("locked_at IS NULL OR locked_at <= ?", now.Add(-s.LeaseTimeout)).
			Order("id ASC").
			Limit(s.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&claimed).Error
		if err != nil || len(claimed) == 0 {
			return err
		}
		ids := make([]int, len(claimed))
		for i, txn := range claimed {
			ids[i] = txn.ID
			txn.LockedAt = &now
			txn.LockedBy = &s.WorkerID
		}
		return tx.Model(&models.MomoTransaction{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"locked_at": &now, "locked_by": s.WorkerID}).Error
	})
	return claimed, err
}

func (s *RetryScheduler) releaseLease(ctx context.Context, txn *models.MomoTransaction) {
	err := s.DB.WithContext(ctx).Model(&models.MomoTransaction{}).
		Where("id = ? AND company_id = ? AND locked_by = ?", txn.ID, txn.CompanyId, s.WorkerID).
		Updates(map[string]interface{}{"locked_at": nil, "locked_by": nil}).Error
	if err != nil {
		s.log(txn).WithError(err).Warn("failed to release retry lease")
	}
}

// handle runs under the transaction's company so every repository call stays tenant scoped.
func (s *RetryScheduler) handle(parent context.Context, txn *models.MomoTransaction) {
	ctx := utils.SystemContext(parent, txn.CompanyId)
	now := s.now()

	provider, err := models.GetMomoProvider(ctx, txn.ProviderId)
	if err != nil {
		s.log(txn).WithError(err).Error("provider lookup failed")
		s.releaseLease(ctx, txn)
		return
	}
	settings := provider.Settings(config.GetMomoDefaults())
	action := DecideRetry(txn, settings, now)
	entry := s.log(txn).WithField("action", action)

	switch action {
	case RetryActionExpire:
		err = s.Payments.expire(ctx, txn, models.EventSourceScheduler)
	case RetryActionGiveUp:
		err = s.Payments.giveUp(ctx, txn, "", models.EventSourceScheduler, now)
	case RetryActionResend:
		err = s.resend(ctx, provider, txn, settings, now)
	case RetryActionPoll:
		err = s.pollOnce(ctx, provider, txn, settings, now)
	default:
		s.releaseLease(ctx, txn)
		return
	}
	if models.IsTerminalStateViolation(err) || errors.Is(err, models.ErrConcurrentTransition) {
		// Another writer moved the transaction first; its write cleared the lease.
		entry.WithError(err).Info("transaction changed while retrying")
		return
	}
	if err != nil {
		entry.WithError(err).Error("retry attempt failed")
		s.releaseLease(ctx, txn)
		return
	}
	entry.WithField("new_status", txn.Status).Info("retry attempt handled")
}

func (s *RetryScheduler) resend(ctx context.Context, provider *models.MomoProvider, txn *models.MomoTransaction, settings models.ProviderSettings, now time.Time) error {
	if !provider.Active() {
		return models.ScheduleTransactionRetry(ctx, txn, NextRetryAt(settings, now), "provider inactive", models.EventSourceScheduler)
	}
	_, err := s.Payments.send(ctx, provider, txn, models.EventSourceScheduler)
	var providerErr *models.ProviderError
	if errors.As(err, &providerErr) {
		// Rejections are already recorded as failed.
		return nil
	}
	if err != nil && !txn.Status.IsTerminal() {
		// Failures before the provider answered count as an attempt.
		return models.ScheduleTransactionRetry(ctx, txn, NextRetryAt(settings, now), err.Error(), models.EventSourceScheduler)
	}
	return err
}

func (s *RetryScheduler) pollOnce(ctx context.Context, provider *models.MomoProvider, txn *models.MomoTransaction, settings models.ProviderSettings, now time.Time) error {
	if s.Payments.Webhooks != nil {
		replayed, err := s.Payments.Webhooks.ReplayPending(ctx, provider, txn)
		if err != nil {
			s.log(txn).WithError(err).Warn("replaying stored webhooks failed")
		} else if replayed > 0 {
			if err := reloadTransaction(ctx, txn); err != nil {
				return err
			}
			if txn.Status.IsTerminal() || txn.NeedsReview {
				return nil
			}
		}
	}
	reason := "provider reported no final status"
	if _, err := s.Payments.poll(ctx, provider, txn, models.EventSourceScheduler); err != nil {
		var mismatch *AmountMismatchError
		if errors.As(err, &mismatch) {
			// Already flagged for review.
			return nil
		}
		if models.IsTerminalStateViolation(err) {
			return err
		}
		reason = fmt.Sprintf("status poll failed: %v", err)
	}
	switch DecideAfterPoll(txn, settings) {
	case RetryActionGiveUp:
		return s.Payments.giveUp(ctx, txn, reason, models.EventSourceScheduler, now)
	case RetryActionPoll:
		return models.ScheduleTransactionRetry(ctx, txn, NextRetryAt(settings, now), reason, models.EventSourceScheduler)
	}
	return nil
}
