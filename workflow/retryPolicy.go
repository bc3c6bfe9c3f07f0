package workflow

import (
	"time"

	"github.com/mmdatafocus/momo_backend/models"
)

// RetryAction is what the scheduler does with a due transaction.
type RetryAction string

const (
	RetryActionNone   RetryAction = "none"
	RetryActionResend RetryAction = "resend"
	RetryActionPoll   RetryAction = "poll"
	RetryActionExpire RetryAction = "expire"
	RetryActionGiveUp RetryAction = "give_up"
)

// DecideRetry picks the next step for txn at now. Terminal and flagged transactions are
// never touched. A pending payout still waiting for approval can only expire.
func DecideRetry(txn *models.MomoTransaction, settings models.ProviderSettings, now time.Time) RetryAction {
	if txn.Status.IsTerminal() || txn.NeedsReview {
		return RetryActionNone
	}
	switch txn.Status {
	case models.TransactionStatusPending:
		if txn.ExpiresAt != nil && !now.Before(*txn.ExpiresAt) {
			return RetryActionExpire
		}
		if txn.RequiresApproval && txn.ApprovedAt == nil {
			return RetryActionNone
		}
		if txn.NextRetryAt == nil || now.Before(*txn.NextRetryAt) {
			return RetryActionNone
		}
		// retry_count already counts the attempt now due.
		if txn.RetryCount > settings.MaxRetryAttempts {
			return RetryActionGiveUp
		}
		return RetryActionResend
	case models.TransactionStatusProcessing:
		if txn.NextRetryAt == nil || now.Before(*txn.NextRetryAt) {
			return RetryActionNone
		}
		return RetryActionPoll
	}
	return RetryActionNone
}

// DecideAfterPoll is the step after a poll left txn non-terminal: schedule another
// check or give up once the attempts are used.
func DecideAfterPoll(txn *models.MomoTransaction, settings models.ProviderSettings) RetryAction {
	if txn.Status.IsTerminal() || txn.NeedsReview {
		return RetryActionNone
	}
	if txn.RetryCount >= settings.MaxRetryAttempts {
		return RetryActionGiveUp
	}
	return RetryActionPoll
}

// NextRetryAt is when the following attempt is due.
func NextRetryAt(settings models.ProviderSettings, now time.Time) time.Time {
	return now.Add(settings.RetryDelay)
}
