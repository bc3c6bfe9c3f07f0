package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
	"gorm.io/gorm"
)

// AllowedTransactionTransitions is the single source of truth for status moves.
// Terminal states map to an empty list.
var AllowedTransactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusProcessing,
		TransactionStatusFailed,
		TransactionStatusCancelled,
		TransactionStatusExpired,
	},
	TransactionStatusProcessing: {
		TransactionStatusCompleted,
		TransactionStatusFailed,
		TransactionStatusCancelled,
		TransactionStatusExpired,
	},
	TransactionStatusCompleted: {},
	TransactionStatusFailed:    {},
	TransactionStatusCancelled: {},
	TransactionStatusExpired:   {},
}

func CanTransition(from, to TransactionStatus) bool {
	for _, s := range AllowedTransactionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition classifies a requested move: nil, *TerminalStateViolation or *InvalidTransitionError.
func CheckTransition(transactionId int, from, to TransactionStatus) error {
	if from.IsTerminal() {
		return &TerminalStateViolation{TransactionId: transactionId, Current: from, Attempted: to}
	}
	if !to.IsValid() || !CanTransition(from, to) {
		return &InvalidTransitionError{TransactionId: transactionId, From: from, To: to}
	}
	return nil
}

// TransitionRequest describes one status move and the fields that travel with it.
type TransitionRequest struct {
	To                TransactionStatus
	Source            EventSource
	Note              string
	ProviderReference string
	ProviderStatus    string
	FailureReason     string
	NeedsReview       bool
	ReviewReason      string
	NextRetryAt       *time.Time
	At                time.Time
	Payload           any
}

func statusTimestampColumn(s TransactionStatus) string {
	switch s {
	case TransactionStatusProcessing:
		return "processing_at"
	case TransactionStatusCompleted:
		return "completed_at"
	case TransactionStatusFailed:
		return "failed_at"
	case TransactionStatusCancelled:
		return "cancelled_at"
	case TransactionStatusExpired:
		return "expired_at"
	}
	return ""
}

func buildTransitionUpdates(req TransitionRequest) map[string]interface{} {
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	updates := map[string]interface{}{
		"status":  req.To,
		"version": gorm.Expr("version + 1"),
	}
	if col := statusTimestampColumn(req.To); col != "" {
		updates[col] = &at
	}
	if req.ProviderReference != "" {
		updates["provider_reference"] = req.ProviderReference
	}
	if req.ProviderStatus != "" {
		updates["provider_status"] = req.ProviderStatus
	}
	if req.FailureReason != "" {
		updates["failure_reason"] = req.FailureReason
	}
	if req.NeedsReview {
		updates["needs_review"] = true
		updates["review_reason"] = req.ReviewReason
	}
	if req.To.IsTerminal() {
		// Nothing is scheduled for a finished transaction.
		updates["next_retry_at"] = nil
		updates["locked_at"] = nil
		updates["locked_by"] = nil
	} else if req.NextRetryAt != nil {
		updates["next_retry_at"] = req.NextRetryAt
		updates["locked_at"] = nil
		updates["locked_by"] = nil
	}
	return updates
}

// TransitionTransaction moves txn to req.To with a compare-and-swap on (status, version).
// Exactly one concurrent caller wins; losers get ErrConcurrentTransition, or a
// *TerminalStateViolation when the winner already finished the transaction.
// The audit event and, for terminal states, the outbox record commit atomically with the move.
// On success txn is reloaded in place.
func TransitionTransaction(ctx context.Context, txn *MomoTransaction, req TransitionRequest) error {
	if err := CheckTransition(txn.ID, txn.Status, req.To); err != nil {
		return err
	}
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return err
	}
	if txn.CompanyId != companyId {
		return utils.ErrorRecordNotFound
	}

	from := txn.Status
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&MomoTransaction{}).
			Where("id = ? AND company_id = ? AND status = ? AND version = ?", txn.ID, companyId, from, txn.Version).
			Updates(buildTransitionUpdates(req))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return casLost(tx, txn, req.To)
		}
		if err := tx.First(txn, txn.ID).Error; err != nil {
			return err
		}
		if err := AppendTransactionEvent(tx, txn.ID, TransactionEventSpec{
			EventType:  TransactionEventStatusChanged,
			FromStatus: from,
			ToStatus:   req.To,
			Source:     req.Source,
			Note:       req.Note,
			Payload:    req.Payload,
		}); err != nil {
			return err
		}
		if eventType := eventTypeForStatus(req.To); eventType != "" {
			if err := writeMomoEvent(tx, txn, eventType); err != nil {
				return err
			}
		}
		if req.NeedsReview {
			return writeMomoEvent(tx, txn, MomoEventTransactionReview)
		}
		return nil
	})
}

// casLost reports why a guarded write matched no row.
func casLost(tx *gorm.DB, txn *MomoTransaction, attempted TransactionStatus) error {
	var current MomoTransaction
	if err := tx.Select("id", "status", "version").Where("id = ? AND company_id = ?", txn.ID, txn.CompanyId).Take(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		return err
	}
	if current.Status.IsTerminal() {
		return &TerminalStateViolation{TransactionId: txn.ID, Current: current.Status, Attempted: attempted}
	}
	return ErrConcurrentTransition
}

// GuardedUpdate changes non-status columns under the same compare-and-swap as transitions.
type GuardedUpdate struct {
	Updates       map[string]interface{}
	Event         TransactionEventSpec
	AllowTerminal bool
	OutboxEvent   string
}

func UpdateTransactionGuarded(ctx context.Context, txn *MomoTransaction, g GuardedUpdate) error {
	if txn.Status.IsTerminal() && !g.AllowTerminal {
		return &TerminalStateViolation{TransactionId: txn.ID, Current: txn.Status, Attempted: txn.Status}
	}
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return err
	}
	if txn.CompanyId != companyId {
		return utils.ErrorRecordNotFound
	}
	if _, ok := g.Updates["status"]; ok {
		return errors.New("status changes must go through TransitionTransaction")
	}
	updates := make(map[string]interface{}, len(g.Updates)+1)
	for k, v := range g.Updates {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&MomoTransaction{}).
			Where("id = ? AND company_id = ? AND status = ? AND version = ?", txn.ID, companyId, txn.Status, txn.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if g.AllowTerminal {
				return ErrConcurrentTransition
			}
			return casLost(tx, txn, txn.Status)
		}
		if err := tx.First(txn, txn.ID).Error; err != nil {
			return err
		}
		if g.Event.EventType != "" {
			g.Event.FromStatus = txn.Status
			g.Event.ToStatus = txn.Status
			if err := AppendTransactionEvent(tx, txn.ID, g.Event); err != nil {
				return err
			}
		}
		if g.OutboxEvent != "" {
			return writeMomoEvent(tx, txn, g.OutboxEvent)
		}
		return nil
	})
}

// ScheduleTransactionRetry counts an attempt and sets the next due time.
func ScheduleTransactionRetry(ctx context.Context, txn *MomoTransaction, nextAt time.Time, reason string, source EventSource) error {
	now := time.Now().UTC()
	return UpdateTransactionGuarded(ctx, txn, GuardedUpdate{
		Updates: map[string]interface{}{
			"retry_count":     gorm.Expr("retry_count + 1"),
			"next_retry_at":   &nextAt,
			"last_attempt_at": &now,
			"locked_at":       nil,
			"locked_by":       nil,
		},
		Event: TransactionEventSpec{
			EventType: TransactionEventRetryScheduled,
			Source:    source,
			Note:      reason,
			Payload:   map[string]any{"attempt": txn.RetryCount + 1, "next_retry_at": nextAt.Format(time.RFC3339)},
		},
	})
}

// FlagTransactionForReview surfaces a transaction to operators without changing its status.
func FlagTransactionForReview(ctx context.Context, txn *MomoTransaction, reason string, source EventSource) error {
	return UpdateTransactionGuarded(ctx, txn, GuardedUpdate{
		Updates: map[string]interface{}{
			"needs_review":  true,
			"review_reason": reason,
			"next_retry_at": nil,
			"locked_at":     nil,
			"locked_by":     nil,
		},
		Event:         TransactionEventSpec{EventType: TransactionEventReviewFlagged, Source: source, Note: reason},
		AllowTerminal: true,
		OutboxEvent:   MomoEventTransactionReview,
	})
}

// ResolveTransactionReview clears the review flag after an operator looked at it.
func ResolveTransactionReview(ctx context.Context, txn *MomoTransaction, note string) error {
	return UpdateTransactionGuarded(ctx, txn, GuardedUpdate{
		Updates: map[string]interface{}{
			"needs_review":  false,
			"review_reason": nil,
		},
		Event:         TransactionEventSpec{EventType: TransactionEventReviewFlagged, Source: EventSourceOperator, Note: "review resolved: " + note},
		AllowTerminal: true,
	})
}

// ApproveTransaction stamps the approver on a pending outbound transaction.
func ApproveTransaction(ctx context.Context, txn *MomoTransaction, at time.Time) error {
	if txn.Status != TransactionStatusPending {
		return CheckTransition(txn.ID, txn.Status, TransactionStatusProcessing)
	}
	if !txn.RequiresApproval {
		return NewValidationError("id", "transaction does not require approval")
	}
	if txn.ApprovedAt != nil {
		return NewValidationError("id", "transaction already approved")
	}
	userId, userName := utils.Actor(ctx)
	if userId != 0 && userId == txn.InitiatedBy {
		return NewValidationError("id", "initiator cannot approve their own transaction")
	}
	return UpdateTransactionGuarded(ctx, txn, GuardedUpdate{
		Updates: map[string]interface{}{
			"approved_by":      userId,
			"approved_by_name": userName,
			"approved_at":      &at,
		},
		Event: TransactionEventSpec{EventType: TransactionEventApproved, Source: EventSourceOperator},
	})
}
