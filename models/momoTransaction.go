package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MomoTransaction is one payment, payout, refund or transfer attempt.
// Status only moves through TransitionTransaction.
type MomoTransaction struct {
	ID                    int               `gorm:"primary_key" json:"id"`
	CompanyId             string            `gorm:"size:64;not null;index;index:uniq_momo_txn_ref,unique;index:idx_momo_txn_recon,priority:1" json:"company_id"`
	ProviderId            int               `gorm:"not null;index:idx_momo_txn_provider_ref,priority:1;index:idx_momo_txn_recon,priority:2" json:"provider_id"`
	ProviderCode          ProviderCode      `gorm:"size:20;not null" json:"provider_code"`
	Type                  TransactionType   `gorm:"size:20;not null" json:"type"`
	Status                TransactionStatus `gorm:"size:20;not null;index;index:idx_momo_txn_retry,priority:1" json:"status"`
	Amount                decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"amount"`
	FeeAmount             decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"fee_amount"`
	NetAmount             decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"net_amount"`
	Currency              string            `gorm:"size:3;not null" json:"currency"`
	Msisdn                string            `gorm:"size:20;not null;index" json:"msisdn"`
	Reference             string            `gorm:"size:64;not null;index:uniq_momo_txn_ref,unique" json:"reference"`
	ProviderReference     *string           `gorm:"size:128;index:idx_momo_txn_provider_ref,priority:2" json:"provider_reference"`
	// ProviderRequestId is a UUID generated per transaction for operators that key
	// submissions on one (MTN X-Reference-Id). Retries resend the same id.
	ProviderRequestId     string            `gorm:"size:36;not null;default:''" json:"provider_request_id"`
	ProviderStatus        *string           `gorm:"size:50" json:"provider_status"`
	Description           string            `gorm:"size:255" json:"description"`
	InvoiceId             *int              `gorm:"index" json:"invoice_id"`
	PaymentId             *int              `gorm:"index" json:"payment_id"`
	OriginalTransactionId *int              `gorm:"index" json:"original_transaction_id"`

	RequiresApproval bool       `gorm:"not null;default:false" json:"requires_approval"`
	ApprovedBy       *int       `json:"approved_by"`
	ApprovedByName   *string    `gorm:"size:100" json:"approved_by_name"`
	ApprovedAt       *time.Time `json:"approved_at"`

	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt   *time.Time `gorm:"index:idx_momo_txn_retry,priority:2" json:"next_retry_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	LockedAt      *time.Time `gorm:"index" json:"locked_at"`
	LockedBy      *string    `gorm:"size:100" json:"locked_by"`
	NeedsReview   bool       `gorm:"not null;default:false;index" json:"needs_review"`
	ReviewReason  *string    `gorm:"type:text" json:"review_reason"`
	FailureReason *string    `gorm:"type:text" json:"failure_reason"`

	IsReconciled     bool       `gorm:"not null;default:false;index:idx_momo_txn_recon,priority:3" json:"is_reconciled"`
	ReconciledAt     *time.Time `json:"reconciled_at"`
	ReconciliationId *int       `gorm:"index" json:"reconciliation_id"`

	// Version is bumped on every guarded write; it is the compare-and-swap token.
	Version int `gorm:"not null;default:0" json:"version"`

	InitiatedBy     int        `gorm:"not null;default:0" json:"initiated_by"`
	InitiatedByName string     `gorm:"size:100" json:"initiated_by_name"`
	InitiatedAt     time.Time  `gorm:"not null;index" json:"initiated_at"`
	ProcessingAt    *time.Time `json:"processing_at"`
	CompletedAt     *time.Time `gorm:"index" json:"completed_at"`
	FailedAt        *time.Time `json:"failed_at"`
	CancelledAt     *time.Time `json:"cancelled_at"`
	ExpiredAt       *time.Time `json:"expired_at"`
	ExpiresAt       *time.Time `gorm:"index" json:"expires_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ComputeNetAmount returns amount - fee, rejecting negative inputs and fees above the amount.
func ComputeNetAmount(amount, fee decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, NewValidationError("amount", "must not be negative")
	}
	if fee.IsNegative() {
		return decimal.Zero, NewValidationError("fee_amount", "must not be negative")
	}
	if fee.GreaterThan(amount) {
		return decimal.Zero, NewValidationError("fee_amount", "must not exceed amount")
	}
	return amount.Sub(fee), nil
}

// BeforeSave keeps net_amount = amount - fee_amount on every struct write.
func (t *MomoTransaction) BeforeSave(tx *gorm.DB) error {
	if t.ID == 0 && t.Amount.IsZero() && t.FeeAmount.IsZero() {
		// Model(&MomoTransaction{}) with a column map: nothing to normalize.
		return nil
	}
	net, err := ComputeNetAmount(t.Amount, t.FeeAmount)
	if err != nil {
		return err
	}
	t.NetAmount = net
	return nil
}

func (t *MomoTransaction) ProviderRef() string {
	return utils.DereferencePtr(t.ProviderReference)
}

// insertMomoTransaction creates the row in pending and writes the first audit event.
func insertMomoTransaction(tx *gorm.DB, txn *MomoTransaction) error {
	ctx := tx.Statement.Context
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return err
	}
	if txn.CompanyId != companyId {
		return NewValidationError("company_id", "transaction company does not match request")
	}
	txn.Status = TransactionStatusPending
	txn.Version = 0
	if txn.InitiatedAt.IsZero() {
		txn.InitiatedAt = time.Now().UTC()
	}
	txn.InitiatedBy, txn.InitiatedByName = utils.Actor(ctx)
	if err := tx.Create(txn).Error; err != nil {
		return err
	}
	return AppendTransactionEvent(tx, txn.ID, TransactionEventSpec{
		EventType: TransactionEventInitiated,
		ToStatus:  TransactionStatusPending,
		Source:    EventSourceAPI,
		Payload: map[string]any{
			"type":       txn.Type,
			"amount":     txn.Amount.String(),
			"fee_amount": txn.FeeAmount.String(),
			"net_amount": txn.NetAmount.String(),
			"currency":   txn.Currency,
			"msisdn":     txn.Msisdn,
			"reference":  txn.Reference,
		},
	})
}

func GetMomoTransaction(ctx context.Context, id int) (*MomoTransaction, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[MomoTransaction](ctx, companyId, id)
}

func GetMomoTransactionByReference(ctx context.Context, reference string) (*MomoTransaction, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var txn MomoTransaction
	err = config.GetDB().WithContext(ctx).
		Where("company_id = ? AND reference = ?", companyId, reference).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// FindTransactionForCallback correlates a provider callback: provider reference first, then our reference.
// Returns (nil, nil) when nothing matches.
func FindTransactionForCallback(ctx context.Context, providerId int, providerReference, reference string) (*MomoTransaction, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	var txn MomoTransaction
	if providerReference != "" {
		err := db.Where("company_id = ? AND provider_id = ? AND provider_reference = ?", companyId, providerId, providerReference).
			Order("id DESC").First(&txn).Error
		if err == nil {
			return &txn, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if reference != "" {
		err := db.Where("company_id = ? AND provider_id = ? AND reference = ?", companyId, providerId, reference).
			First(&txn).Error
		if err == nil {
			return &txn, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

type MomoTransactionFilter struct {
	ProviderId  *int               `form:"provider_id"`
	Status      *TransactionStatus `form:"status"`
	Type        *TransactionType   `form:"type"`
	Msisdn      *string            `form:"msisdn"`
	NeedsReview *bool              `form:"needs_review"`
	From        *time.Time         `form:"from" time_format:"2006-01-02"`
	To          *time.Time         `form:"to" time_format:"2006-01-02"`
	After       string             `form:"after"`
	Limit       int                `form:"limit"`
}

type MomoTransactionsConnection struct {
	Edges    []*MomoTransaction `json:"edges"`
	PageInfo PageInfo           `json:"pageInfo"`
}

// ListMomoTransactions pages newest-first by id.
func ListMomoTransactions(ctx context.Context, f MomoTransactionFilter) (*MomoTransactionsConnection, error) {
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
	if f.Type != nil {
		dbCtx = dbCtx.Where("type = ?", *f.Type)
	}
	if f.Msisdn != nil && *f.Msisdn != "" {
		dbCtx = dbCtx.Where("msisdn = ?", *f.Msisdn)
	}
	if f.NeedsReview != nil {
		dbCtx = dbCtx.Where("needs_review = ?", *f.NeedsReview)
	}
	if f.From != nil {
		dbCtx = dbCtx.Where("initiated_at >= ?", *f.From)
	}
	if f.To != nil {
		dbCtx = dbCtx.Where("initiated_at < ?", f.To.AddDate(0, 0, 1))
	}
	if afterId > 0 {
		dbCtx = dbCtx.Where("id < ?", afterId)
	}
	var rows []*MomoTransaction
	if err := dbCtx.Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, err
	}
	conn := &MomoTransactionsConnection{}
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

// sumProviderDailyAmount totals non-failed amounts for a provider on the UTC day of at.
func sumProviderDailyAmount(tx *gorm.DB, companyId string, providerId int, at time.Time) (decimal.Decimal, error) {
	dayStart := utils.StartOfDay(at.UTC())
	var total decimal.NullDecimal
	err := tx.Model(&MomoTransaction{}).
		Where("company_id = ? AND provider_id = ?", companyId, providerId).
		Where("initiated_at >= ? AND initiated_at < ?", dayStart, dayStart.AddDate(0, 0, 1)).
		Where("status NOT IN ?", []TransactionStatus{TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusExpired}).
		Select("COALESCE(SUM(amount), 0)").Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// refundedAmount totals refunds against original that are not failed/cancelled/expired.
func refundedAmount(tx *gorm.DB, companyId string, originalId int) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := tx.Model(&MomoTransaction{}).
		Where("company_id = ? AND original_transaction_id = ? AND type = ?", companyId, originalId, TransactionTypeRefund).
		Where("status NOT IN ?", []TransactionStatus{TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusExpired}).
		Select("COALESCE(SUM(amount), 0)").Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// NewMomoTransaction is the normalized request to open a transaction.
type NewMomoTransaction struct {
	ProviderId            int             `json:"provider_id" validate:"required"`
	Type                  TransactionType `json:"type" validate:"required,oneof=payment payout refund transfer"`
	Amount                decimal.Decimal `json:"amount"`
	Msisdn                string          `json:"msisdn" validate:"required"`
	Description           string          `json:"description" validate:"max=255"`
	Reference             string          `json:"reference" validate:"omitempty,max=64"`
	InvoiceId             *int            `json:"invoice_id"`
	PaymentId             *int            `json:"payment_id"`
	OriginalTransactionId *int            `json:"original_transaction_id"`
}

// CreateMomoTransaction validates input against the provider (limits, fees, refund caps)
// and inserts the row in pending. No provider call happens here.
func CreateMomoTransaction(ctx context.Context, provider *MomoProvider, input *NewMomoTransaction, now time.Time) (*MomoTransaction, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, NewValidationError("", "%v", utils.ProcessValidationErrors(err))
	}
	if provider == nil || provider.CompanyId != companyId || provider.ID != input.ProviderId {
		return nil, NewValidationError("provider_id", "provider not found")
	}
	if !provider.Active() {
		return nil, ErrProviderInactive
	}
	if err := provider.CheckAmountLimits(input.Amount); err != nil {
		return nil, err
	}
	msisdn, err := utils.NormalizeMsisdn(input.Msisdn, provider.CountryCode)
	if err != nil {
		return nil, NewValidationError("msisdn", "%v", err)
	}
	if (input.Type == TransactionTypeRefund) != (input.OriginalTransactionId != nil) {
		return nil, NewValidationError("original_transaction_id", "required for refunds only")
	}

	fee := provider.CalculateFee(input.Amount)
	if input.Type == TransactionTypeRefund {
		// Refunds return the customer's money; the provider fee is not charged twice.
		fee = decimal.Zero
	}
	net, err := ComputeNetAmount(input.Amount, fee)
	if err != nil {
		return nil, err
	}

	requestId := uuid.NewString()
	reference := input.Reference
	if reference == "" {
		reference = requestId
	}

	settings := provider.Settings(config.GetMomoDefaults())
	expiresAt := now.Add(settings.Expiry)
	txn := MomoTransaction{
		CompanyId:             companyId,
		ProviderId:            provider.ID,
		ProviderCode:          provider.Code,
		Type:                  input.Type,
		Amount:                input.Amount,
		FeeAmount:             fee,
		NetAmount:             net,
		Currency:              provider.Currency,
		Msisdn:                msisdn,
		Reference:             reference,
		ProviderRequestId:     requestId,
		Description:           input.Description,
		InvoiceId:             input.InvoiceId,
		PaymentId:             input.PaymentId,
		OriginalTransactionId: input.OriginalTransactionId,
		RequiresApproval:      provider.RequiresApproval(input.Type, input.Amount),
		InitiatedAt:           now,
		ExpiresAt:             &expiresAt,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialize limit checks per provider.
		if _, err := utils.FetchModelTx[MomoProvider](tx, companyId, provider.ID, true); err != nil {
			return err
		}
		if provider.DailyLimit.IsPositive() {
			used, err := sumProviderDailyAmount(tx, companyId, provider.ID, now)
			if err != nil {
				return err
			}
			if used.Add(input.Amount).GreaterThan(provider.DailyLimit) {
				return NewValidationError("amount", "daily limit %s exceeded", provider.DailyLimit.StringFixed(2))
			}
		}
		if input.Type == TransactionTypeRefund {
			original, err := utils.FetchModelTx[MomoTransaction](tx, companyId, *input.OriginalTransactionId, true)
			if err != nil {
				return NewValidationError("original_transaction_id", "transaction not found")
			}
			if original.Type != TransactionTypePayment || original.Status != TransactionStatusCompleted {
				return NewValidationError("original_transaction_id", "only completed payments can be refunded")
			}
			if original.ProviderId != provider.ID {
				return NewValidationError("provider_id", "refund must use the original provider")
			}
			refunded, err := refundedAmount(tx, companyId, original.ID)
			if err != nil {
				return err
			}
			if refunded.Add(input.Amount).GreaterThan(original.Amount) {
				return NewValidationError("amount", "refund exceeds refundable %s", original.Amount.Sub(refunded).StringFixed(2))
			}
		}
		var count int64
		if err := tx.Model(&MomoTransaction{}).Where("company_id = ? AND reference = ?", companyId, txn.Reference).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return NewValidationError("reference", "reference %q already used", txn.Reference)
		}
		return insertMomoTransaction(tx, &txn)
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
