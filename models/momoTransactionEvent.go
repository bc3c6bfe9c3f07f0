package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransactionEventType string

const (
	TransactionEventInitiated        TransactionEventType = "initiated"
	TransactionEventStatusChanged    TransactionEventType = "status_changed"
	TransactionEventProviderAccepted TransactionEventType = "provider_accepted"
	TransactionEventApproved         TransactionEventType = "approved"
	TransactionEventRetryScheduled   TransactionEventType = "retry_scheduled"
	TransactionEventReviewFlagged    TransactionEventType = "review_flagged"
	TransactionEventWebhookDuplicate TransactionEventType = "webhook_duplicate"
	TransactionEventWebhookIgnored   TransactionEventType = "webhook_ignored"
	TransactionEventStatusPolled     TransactionEventType = "status_polled"
	TransactionEventReconciled       TransactionEventType = "reconciled"
	TransactionEventUnreconciled     TransactionEventType = "unreconciled"
	TransactionEventLedgerPosted     TransactionEventType = "ledger_posted"
)

type EventSource string

const (
	EventSourceAPI       EventSource = "api"
	EventSourceWebhook   EventSource = "webhook"
	EventSourcePoll      EventSource = "poll"
	EventSourceScheduler EventSource = "scheduler"
	EventSourceOperator  EventSource = "operator"
)

var genesisHash = strings.Repeat("0", 64)

// MomoTransactionEvent is the append-only audit trail of a transaction.
// Each row's Hash covers the previous row's hash, so edits or deletions break the chain.
type MomoTransactionEvent struct {
	ID            int                  `gorm:"primary_key" json:"id"`
	CompanyId     string               `gorm:"size:64;not null;index" json:"company_id"`
	TransactionId int                  `gorm:"not null;index:uniq_momo_txn_event_seq,unique,priority:1" json:"transaction_id"`
	Sequence      int                  `gorm:"not null;index:uniq_momo_txn_event_seq,unique,priority:2" json:"sequence"`
	EventType     TransactionEventType `gorm:"size:40;not null" json:"event_type"`
	FromStatus    TransactionStatus    `gorm:"size:20" json:"from_status"`
	ToStatus      TransactionStatus    `gorm:"size:20" json:"to_status"`
	Source        EventSource          `gorm:"size:20;not null" json:"source"`
	Note          string               `gorm:"type:text" json:"note"`
	Payload       string               `gorm:"type:text" json:"payload"`
	ActorId       int                  `gorm:"not null;default:0" json:"actor_id"`
	ActorName     string               `gorm:"size:100" json:"actor_name"`
	CorrelationId string               `gorm:"size:64;index" json:"correlation_id"`
	Timestamp     string               `gorm:"size:40;not null" json:"timestamp"`
	PreviousHash  string               `gorm:"size:64;not null" json:"previous_hash"`
	Hash          string               `gorm:"size:64;not null" json:"hash"`
	CreatedAt     time.Time            `gorm:"autoCreateTime" json:"created_at"`
}

// TransactionEventSpec describes an event to append.
type TransactionEventSpec struct {
	EventType  TransactionEventType
	FromStatus TransactionStatus
	ToStatus   TransactionStatus
	Source     EventSource
	Note       string
	Payload    any
}

func (e *MomoTransactionEvent) computeHash() string {
	hashInput := fmt.Sprintf("%s|%d|%d|%s|%s|%s|%s|%s|%s|%d|%s|%s",
		e.PreviousHash,
		e.TransactionId,
		e.Sequence,
		e.EventType,
		e.FromStatus,
		e.ToStatus,
		e.Source,
		e.Note,
		e.Payload,
		e.ActorId,
		e.ActorName,
		e.Timestamp,
	)
	sum := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(sum[:])
}

// AppendTransactionEvent writes the next chained event for transactionId inside tx.
// The transaction row is locked first so concurrent appends serialize per transaction.
func AppendTransactionEvent(tx *gorm.DB, transactionId int, spec TransactionEventSpec) error {
	ctx := tx.Statement.Context
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return err
	}
	var owner MomoTransaction
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "company_id").
		Where("id = ? AND company_id = ?", transactionId, companyId).
		Take(&owner).Error; err != nil {
		return fmt.Errorf("lock transaction %d for audit: %w", transactionId, err)
	}

	var last MomoTransactionEvent
	prevHash := genesisHash
	sequence := 1
	res := tx.Where("transaction_id = ?", transactionId).Order("sequence DESC").Limit(1).Find(&last)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		prevHash = last.Hash
		sequence = last.Sequence + 1
	}

	payload := ""
	if spec.Payload != nil {
		b, err := json.Marshal(spec.Payload)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	actorId, actorName := utils.Actor(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	event := MomoTransactionEvent{
		CompanyId:     companyId,
		TransactionId: transactionId,
		Sequence:      sequence,
		EventType:     spec.EventType,
		FromStatus:    spec.FromStatus,
		ToStatus:      spec.ToStatus,
		Source:        spec.Source,
		Note:          spec.Note,
		Payload:       payload,
		ActorId:       actorId,
		ActorName:     actorName,
		CorrelationId: correlationId,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash:  prevHash,
	}
	event.Hash = event.computeHash()
	return tx.Create(&event).Error
}

// RecordTransactionNote appends an audit-only event in its own DB transaction.
func RecordTransactionNote(ctx context.Context, transactionId int, spec TransactionEventSpec) error {
	return config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return AppendTransactionEvent(tx, transactionId, spec)
	})
}

func GetTransactionEvents(ctx context.Context, transactionId int) ([]*MomoTransactionEvent, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var events []*MomoTransactionEvent
	err = config.GetDB().WithContext(ctx).
		Where("company_id = ? AND transaction_id = ?", companyId, transactionId).
		Order("sequence ASC").
		Find(&events).Error
	return events, err
}

// VerifyEventChain checks sequence continuity, linkage and every hash.
// It returns the sequence of the first bad event, or 0 when the chain is intact.
func VerifyEventChain(events []*MomoTransactionEvent) int {
	prev := genesisHash
	for i, e := range events {
		if e.Sequence != i+1 || e.PreviousHash != prev || e.computeHash() != e.Hash {
			if e.Sequence == 0 {
				return i + 1
			}
			return e.Sequence
		}
		prev = e.Hash
	}
	return 0
}

// VerifyTransactionAuditChain loads and verifies one transaction's trail.
func VerifyTransactionAuditChain(ctx context.Context, transactionId int) (bool, int, error) {
	events, err := GetTransactionEvents(ctx, transactionId)
	if err != nil {
		return false, 0, err
	}
	bad := VerifyEventChain(events)
	return bad == 0, bad, nil
}
