package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
)

// MomoWebhook is one inbound provider delivery, stored whatever its outcome.
type MomoWebhook struct {
	ID                int                  `gorm:"primary_key" json:"id"`
	CompanyId         string               `gorm:"size:64;not null;index" json:"company_id"`
	ProviderId        int                  `gorm:"not null;index;index:idx_momo_webhook_corr,priority:1" json:"provider_id"`
	WebhookId         string               `gorm:"size:128;not null;index" json:"webhook_id"`
	DedupeHash        string               `gorm:"size:64;not null;index" json:"dedupe_hash"`
	EventType         string               `gorm:"size:50" json:"event_type"`
	Payload           string               `gorm:"type:mediumtext;not null" json:"payload"`
	Signature         string               `gorm:"size:255" json:"signature"`
	SignatureVerified bool                 `gorm:"not null;default:false" json:"signature_verified"`
	Status            WebhookStatus        `gorm:"size:30;not null;index;index:idx_momo_webhook_corr,priority:2" json:"status"`
	IsDuplicate       bool                 `gorm:"not null;default:false" json:"is_duplicate"`
	// Replayable marks a verified delivery that failed on our side and may be re-applied.
	Replayable        bool                 `gorm:"not null;default:false" json:"replayable"`
	RetryCount        int                  `gorm:"not null;default:0" json:"retry_count"`
	TransactionId     *int                 `gorm:"index" json:"transaction_id"`
	ProviderReference *string              `gorm:"size:128;index:idx_momo_webhook_corr,priority:3" json:"provider_reference"`
	Reference         *string              `gorm:"size:64;index" json:"reference"`
	ReportedStatus    *TransactionStatus   `gorm:"size:20" json:"reported_status"`
	ReportedAmount    decimal.NullDecimal  `gorm:"type:decimal(20,4)" json:"reported_amount"`
	ReportedCurrency  *string              `gorm:"size:3" json:"reported_currency"`
	ErrorMessage      *string              `gorm:"type:text" json:"error_message"`
	CorrelationId     string               `gorm:"size:64;index" json:"correlation_id"`
	ReceivedAt        time.Time            `gorm:"not null;index" json:"received_at"`
	ProcessedAt       *time.Time           `json:"processed_at"`
	CreatedAt         time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// WebhookDedupeHash identifies a delivery independent of payload formatting.
func WebhookDedupeHash(providerId int, webhookId string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", providerId, webhookId)))
	return hex.EncodeToString(sum[:])
}

func CreateMomoWebhook(ctx context.Context, wh *MomoWebhook) error {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return err
	}
	wh.CompanyId = companyId
	if wh.ReceivedAt.IsZero() {
		wh.ReceivedAt = time.Now().UTC()
	}
	if wh.Status == "" {
		wh.Status = WebhookStatusReceived
	}
	if wh.CorrelationId == "" {
		wh.CorrelationId = correlationIdFromContextOrNew(ctx)
	}
	return config.GetDB().WithContext(ctx).Create(wh).Error
}

// WebhookOutcome is the final state recorded for a delivery.
type WebhookOutcome struct {
	Status        WebhookStatus
	TransactionId *int
	IsDuplicate   bool
	Replayable    bool
	Error         string
}

func RecordWebhookOutcome(ctx context.Context, wh *MomoWebhook, outcome WebhookOutcome) error {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"status":       outcome.Status,
		"is_duplicate": outcome.IsDuplicate,
		"replayable":   outcome.Replayable,
	}
	wh.Replayable = outcome.Replayable
	if outcome.TransactionId != nil {
		updates["transaction_id"] = *outcome.TransactionId
		wh.TransactionId = outcome.TransactionId
	}
	if outcome.Error != "" {
		updates["error_message"] = outcome.Error
		wh.ErrorMessage = &outcome.Error
	}
	if outcome.Status != WebhookStatusReceived && outcome.Status != WebhookStatusPendingCorrelation {
		now := time.Now().UTC()
		updates["processed_at"] = &now
		wh.ProcessedAt = &now
	}
	wh.Status = outcome.Status
	wh.IsDuplicate = outcome.IsDuplicate
	return config.GetDB().WithContext(ctx).Model(&MomoWebhook{}).
		Where("id = ? AND company_id = ?", wh.ID, companyId).
		Updates(updates).Error
}

// IncrementWebhookRetry counts a replay attempt of a parked delivery.
func IncrementWebhookRetry(ctx context.Context, wh *MomoWebhook) error {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return err
	}
	wh.RetryCount++
	return config.GetDB().WithContext(ctx).Model(&MomoWebhook{}).
		Where("id = ? AND company_id = ?", wh.ID, companyId).
		Update("retry_count", wh.RetryCount).Error
}

func GetMomoWebhook(ctx context.Context, id int) (*MomoWebhook, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[MomoWebhook](ctx, companyId, id)
}

// ListReplayableWebhooks returns deliveries for a transaction that can be applied again,
// oldest first: parked ones naming either reference, and verified ones that failed
// transiently while fewer than maxRetries replays were made.
func ListReplayableWebhooks(ctx context.Context, providerId, transactionId int, providerReference, reference string, maxRetries int) ([]*MomoWebhook, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	if providerReference == "" && reference == "" && transactionId <= 0 {
		return nil, nil
	}
	db := config.GetDB().WithContext(ctx)
	names := db.Where("transaction_id = ?", transactionId)
	if providerReference != "" {
		names = names.Or("provider_reference = ?", providerReference)
	}
	if reference != "" {
		names = names.Or("reference = ?", reference)
	}
	var results []*MomoWebhook
	err = db.
		Where("company_id = ? AND provider_id = ?", companyId, providerId).
		Where(names).
		Where(
			db.Where("status = ?", WebhookStatusPendingCorrelation).
				Or("status = ? AND replayable = ? AND signature_verified = ? AND retry_count < ?", WebhookStatusFailed, true, true, maxRetries),
		).
		Order("received_at ASC, id ASC").
		Find(&results).Error
	return results, err
}

type MomoWebhookFilter struct {
	ProviderId *int           `form:"provider_id"`
	Status     *WebhookStatus `form:"status"`
	From       *time.Time     `form:"from" time_format:"2006-01-02"`
	To         *time.Time     `form:"to" time_format:"2006-01-02"`
	After      string         `form:"after"`
	Limit      int            `form:"limit"`
}

type MomoWebhooksConnection struct {
	Edges    []*MomoWebhook `json:"edges"`
	PageInfo PageInfo       `json:"pageInfo"`
}

func ListMomoWebhooks(ctx context.Context, f MomoWebhookFilter) (*MomoWebhooksConnection, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	afterId, err := DecodeIdCursor(f.After)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(f.Limit)

	dbCtx := config.GetDB().WithContext(ctx).Where("company_id = ?", companyId)
	if f.ProviderId != nil {
		dbCtx = dbCtx.Where("provider_id = ?", *f.ProviderId)
	}
	if f.Status != nil {
		dbCtx = dbCtx.Where("status = ?", *f.Status)
	}
	if f.From != nil {
		dbCtx = dbCtx.Where("received_at >= ?", *f.From)
	}
	if f.To != nil {
		dbCtx = dbCtx.Where("received_at < ?", f.To.AddDate(0, 0, 1))
	}
	if afterId > 0 {
		dbCtx = dbCtx.Where("id < ?", afterId)
	}
	var rows []*MomoWebhook
	if err := dbCtx.Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, err
	}
	conn := &MomoWebhooksConnection{}
	if len(rows) > limit {
		rows = rows[:limit]
		conn.PageInfo.HasNextPage = true
	}
	conn.Edges = rows
	if len(rows) > 0 {
		conn.PageInfo.EndCursor = EncodeIdCursor(rows[len(rows)-1].ID)
	}
	return conn, nil
}
