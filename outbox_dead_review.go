package main

import (
	"context"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/sirupsen/logrus"
)

func ensureCompanyContext(ctx context.Context, companyId string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if companyId == "" {
		return ctx
	}
	if _, ok := utils.GetCompanyIdFromContext(ctx); !ok {
		ctx = utils.SystemContext(ctx, companyId)
	}
	return ctx
}

// flagTransactionOnDead puts the transaction in the review queue once its event gave up,
// so a missing ledger posting or notification is seen by an operator.
func flagTransactionOnDead(ctx context.Context, logger *logrus.Logger, msg config.MomoEventMessage) {
	if msg.TransactionId <= 0 {
		return
	}
	ctx = ensureCompanyContext(ctx, msg.CompanyId)

	txn, err := models.GetMomoTransaction(ctx, msg.TransactionId)
	if err != nil {
		if logger != nil {
			logger.WithFields(processingFields(msg)).Warn("failed to load transaction for DEAD review: " + err.Error())
		}
		return
	}
	if txn.NeedsReview {
		return
	}

	reason := "outbox event " + msg.EventType + " could not be processed"
	if err := models.FlagTransactionForReview(ctx, txn, reason, models.EventSourceScheduler); err != nil {
		if logger != nil {
			logger.WithFields(processingFields(msg)).Warn("failed to flag transaction after DEAD processing: " + err.Error())
		}
		return
	}
	if logger != nil {
		logger.WithFields(processingFields(msg)).Warn("transaction flagged for review after DEAD processing")
	}
}
