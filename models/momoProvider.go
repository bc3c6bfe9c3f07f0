package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/appctx"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MomoProvider is a company's configured mobile-money operator account.
// Rows are never hard-deleted; IsActive=false takes them out of service.
type MomoProvider struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	CompanyId   string              `gorm:"size:64;not null;index:uniq_momo_provider,unique" json:"company_id"`
	Code        ProviderCode        `gorm:"size:20;not null;index:uniq_momo_provider,unique" json:"code"`
	Environment ProviderEnvironment `gorm:"size:20;not null;default:'sandbox';index:uniq_momo_provider,unique" json:"environment"`
	Name        string              `gorm:"size:100;not null" json:"name"`
	BaseURL     string              `gorm:"size:255;not null" json:"base_url"`
	CallbackURL string              `gorm:"size:255" json:"callback_url"`
	Currency    string              `gorm:"size:3;not null" json:"currency"`
	CountryCode string              `gorm:"size:2;not null;default:'ZM'" json:"country_code"`

	// Credentials. Never rendered in API responses.
	ApiUser         string `gorm:"size:255" json:"-"`
	ApiKey          string `gorm:"size:255" json:"-"`
	ClientId        string `gorm:"size:255" json:"-"`
	ClientSecret    string `gorm:"size:255" json:"-"`
	SubscriptionKey string `gorm:"size:255" json:"-"`
	WebhookSecret   string `gorm:"size:255" json:"-"`

	MinAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"min_amount"`
	MaxAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"max_amount"`
	DailyLimit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"daily_limit"`

	FeeFixed      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"fee_fixed"`
	FeePercentage decimal.Decimal `gorm:"type:decimal(9,4);default:0" json:"fee_percentage"`
	FeeMin        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"fee_min"`
	FeeMax        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"fee_max"`

	CashAccountId       int `gorm:"not null;default:0" json:"cash_account_id"`
	FeeAccountId        int `gorm:"not null;default:0" json:"fee_account_id"`
	ReceivableAccountId int `gorm:"not null;default:0" json:"receivable_account_id"`

	MaxRetryAttempts         int             `gorm:"not null;default:0" json:"max_retry_attempts"`
	RetryDelayMinutes        int             `gorm:"not null;default:0" json:"retry_delay_minutes"`
	ProcessingTimeoutMinutes int             `gorm:"not null;default:0" json:"processing_timeout_minutes"`
	ExpiryMinutes            int             `gorm:"not null;default:0" json:"expiry_minutes"`
	MatchAmountTolerance     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"match_amount_tolerance"`
	MatchDateToleranceDays   int             `gorm:"not null;default:0" json:"match_date_tolerance_days"`
	PayoutApprovalThreshold  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"payout_approval_threshold"`

	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMomoProvider struct {
	Code                     ProviderCode        `json:"code" validate:"required"`
	Environment              ProviderEnvironment `json:"environment" validate:"omitempty,oneof=sandbox production"`
	Name                     string              `json:"name" validate:"required,max=100"`
	BaseURL                  string              `json:"base_url" validate:"required,url"`
	CallbackURL              string              `json:"callback_url" validate:"omitempty,url"`
	Currency                 string              `json:"currency" validate:"required,len=3"`
	CountryCode              string              `json:"country_code" validate:"omitempty,len=2"`
	ApiUser                  string              `json:"api_user"`
	ApiKey                   string              `json:"api_key"`
	ClientId                 string              `json:"client_id"`
	ClientSecret             string              `json:"client_secret"`
	SubscriptionKey          string              `json:"subscription_key"`
	WebhookSecret            string              `json:"webhook_secret" validate:"required,min=16"`
	MinAmount                decimal.Decimal     `json:"min_amount"`
	MaxAmount                decimal.Decimal     `json:"max_amount"`
	DailyLimit               decimal.Decimal     `json:"daily_limit"`
	FeeFixed                 decimal.Decimal     `json:"fee_fixed"`
	FeePercentage            decimal.Decimal     `json:"fee_percentage"`
	FeeMin                   decimal.Decimal     `json:"fee_min"`
	FeeMax                   decimal.Decimal     `json:"fee_max"`
	CashAccountId            int                 `json:"cash_account_id" validate:"required"`
	FeeAccountId             int                 `json:"fee_account_id" validate:"required"`
	ReceivableAccountId      int                 `json:"receivable_account_id" validate:"required"`
	MaxRetryAttempts         int                 `json:"max_retry_attempts" validate:"gte=0,lte=50"`
	RetryDelayMinutes        int                 `json:"retry_delay_minutes" validate:"gte=0,lte=1440"`
	ProcessingTimeoutMinutes int                 `json:"processing_timeout_minutes" validate:"gte=0"`
	ExpiryMinutes            int                 `json:"expiry_minutes" validate:"gte=0"`
	MatchAmountTolerance     decimal.Decimal     `json:"match_amount_tolerance"`
	MatchDateToleranceDays   int                 `json:"match_date_tolerance_days" validate:"gte=0,lte=31"`
	PayoutApprovalThreshold  decimal.Decimal     `json:"payout_approval_threshold"`
}

// ProviderSettings are the effective knobs for one provider after env defaults are applied.
type ProviderSettings struct {
	MaxRetryAttempts       int
	RetryDelay             time.Duration
	ProcessingTimeout      time.Duration
	Expiry                 time.Duration
	MatchAmountTolerance   decimal.Decimal
	MatchDateToleranceDays int
}

func (input *NewMomoProvider) validate(ctx context.Context, companyId string, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return NewValidationError("", "%v", utils.ProcessValidationErrors(err))
	}
	if !input.Code.IsValid() {
		return NewValidationError("code", "unsupported provider %q", input.Code)
	}
	for name, v := range map[string]decimal.Decimal{
		"min_amount":                input.MinAmount,
		"max_amount":                input.MaxAmount,
		"daily_limit":               input.DailyLimit,
		"fee_fixed":                 input.FeeFixed,
		"fee_percentage":            input.FeePercentage,
		"fee_min":                   input.FeeMin,
		"fee_max":                   input.FeeMax,
		"match_amount_tolerance":    input.MatchAmountTolerance,
		"payout_approval_threshold": input.PayoutApprovalThreshold,
	} {
		if v.IsNegative() {
			return NewValidationError(name, "must not be negative")
		}
	}
	if input.FeePercentage.GreaterThan(decimal.NewFromInt(100)) {
		return NewValidationError("fee_percentage", "must be at most 100")
	}
	if input.MaxAmount.IsPositive() && input.MinAmount.GreaterThan(input.MaxAmount) {
		return NewValidationError("min_amount", "must not exceed max_amount")
	}
	if input.FeeMax.IsPositive() && input.FeeMin.GreaterThan(input.FeeMax) {
		return NewValidationError("fee_min", "must not exceed fee_max")
	}
	switch input.Code {
	case ProviderCodeMTN:
		if input.ApiUser == "" || input.ApiKey == "" || input.SubscriptionKey == "" {
			return NewValidationError("api_user", "MTN requires api_user, api_key and subscription_key")
		}
	case ProviderCodeAirtel:
		if input.ClientId == "" || input.ClientSecret == "" {
			return NewValidationError("client_id", "Airtel requires client_id and client_secret")
		}
	case ProviderCodeZamtel:
		if input.ApiKey == "" {
			return NewValidationError("api_key", "Zamtel requires api_key")
		}
	}
	env := input.Environment
	if env == "" {
		env = ProviderEnvironmentSandbox
	}
	count, err := utils.ResourceCountWhere[MomoProvider](ctx, companyId, "code = ? AND environment = ? AND NOT id = ?", input.Code, env, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return NewValidationError("code", "%s %s provider already configured", input.Code, env)
	}
	return nil
}

func (input *NewMomoProvider) apply(p *MomoProvider) {
	p.Code = input.Code
	p.Environment = input.Environment
	if p.Environment == "" {
		p.Environment = ProviderEnvironmentSandbox
	}
	p.Name = input.Name
	p.BaseURL = strings.TrimRight(input.BaseURL, "/")
	p.CallbackURL = input.CallbackURL
	p.Currency = strings.ToUpper(input.Currency)
	p.CountryCode = strings.ToUpper(input.CountryCode)
	if p.CountryCode == "" {
		p.CountryCode = config.GetMomoDefaults().CountryCode
	}
	p.ApiUser = input.ApiUser
	p.ApiKey = input.ApiKey
	p.ClientId = input.ClientId
	p.ClientSecret = input.ClientSecret
	p.SubscriptionKey = input.SubscriptionKey
	p.WebhookSecret = input.WebhookSecret
	p.MinAmount = input.MinAmount
	p.MaxAmount = input.MaxAmount
	p.DailyLimit = input.DailyLimit
	p.FeeFixed = input.FeeFixed
	p.FeePercentage = input.FeePercentage
	p.FeeMin = input.FeeMin
	p.FeeMax = input.FeeMax
	p.CashAccountId = input.CashAccountId
	p.FeeAccountId = input.FeeAccountId
	p.ReceivableAccountId = input.ReceivableAccountId
	p.MaxRetryAttempts = input.MaxRetryAttempts
	p.RetryDelayMinutes = input.RetryDelayMinutes
	p.ProcessingTimeoutMinutes = input.ProcessingTimeoutMinutes
	p.ExpiryMinutes = input.ExpiryMinutes
	p.MatchAmountTolerance = input.MatchAmountTolerance
	p.MatchDateToleranceDays = input.MatchDateToleranceDays
	p.PayoutApprovalThreshold = input.PayoutApprovalThreshold
}

func CreateMomoProvider(ctx context.Context, input *NewMomoProvider) (*MomoProvider, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, companyId, 0); err != nil {
		return nil, err
	}

	provider := MomoProvider{CompanyId: companyId, IsActive: utils.NewTrue()}
	input.apply(&provider)

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&provider).Error; err != nil {
			return err
		}
		return createHistory(tx, "CREATE", provider.ID, "momo_providers", nil, &provider,
			fmt.Sprintf("%s provider %q created", provider.Code, provider.Name))
	})
	if err != nil {
		return nil, err
	}
	return &provider, nil
}

func UpdateMomoProvider(ctx context.Context, id int, input *NewMomoProvider) (*MomoProvider, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, companyId, id); err != nil {
		return nil, err
	}
	provider, err := utils.FetchModel[MomoProvider](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	before := *provider
	input.apply(provider)

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(provider).Error; err != nil {
			return err
		}
		return createHistory(tx, "UPDATE", provider.ID, "momo_providers", &before, provider,
			fmt.Sprintf("%s provider %q updated", provider.Code, provider.Name))
	})
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// ToggleActiveMomoProvider is the only way to take a provider out of service.
func ToggleActiveMomoProvider(ctx context.Context, id int, isActive bool) (*MomoProvider, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	provider, err := utils.FetchModel[MomoProvider](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	actionType := "*INACTIVE*"
	if isActive {
		actionType = "*ACTIVE*"
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(provider).UpdateColumn("is_active", isActive).Error; err != nil {
			return err
		}
		return createHistory(tx, actionType, provider.ID, "momo_providers", nil, nil, "toggled momo provider")
	})
	if err != nil {
		return nil, err
	}
	provider.IsActive = &isActive
	return provider, nil
}

func GetMomoProvider(ctx context.Context, id int) (*MomoProvider, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[MomoProvider](ctx, companyId, id)
}

// GetMomoProvidersByIds is used by the provider dataloader.
func GetMomoProvidersByIds(ctx context.Context, ids []int) ([]*MomoProvider, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var results []*MomoProvider
	err = config.GetDB().WithContext(ctx).
		Where("company_id = ? AND id IN ?", companyId, utils.UniqueSlice(ids)).
		Find(&results).Error
	return results, err
}

func GetMomoProviders(ctx context.Context, code *ProviderCode, activeOnly bool) ([]*MomoProvider, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	dbCtx := config.GetDB().WithContext(ctx).Where("company_id = ?", companyId)
	if code != nil && *code != "" {
		dbCtx = dbCtx.Where("code = ?", *code)
	}
	if activeOnly {
		dbCtx = dbCtx.Where("is_active = ?", true)
	}
	var results []*MomoProvider
	if err := dbCtx.Order("code, environment").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetMomoProviderForWebhook resolves a provider by id without a tenant in ctx.
// Inbound webhooks are addressed by provider id only; the company comes from the row.
func GetMomoProviderForWebhook(ctx context.Context, id int) (*MomoProvider, error) {
	var provider MomoProvider
	err := config.GetDB().WithContext(appctx.WithoutTenantScope(ctx)).First(&provider, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &provider, nil
}

func (p *MomoProvider) Active() bool {
	return p.IsActive == nil || *p.IsActive
}

// CalculateFee returns fixed + amount*percentage/100, clamped to [FeeMin, FeeMax]
// (zero bounds are ignored), rounded to 2dp and never above amount.
func (p *MomoProvider) CalculateFee(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	fee := p.FeeFixed.Add(amount.Mul(p.FeePercentage).Div(decimal.NewFromInt(100)))
	if p.FeeMin.IsPositive() && fee.LessThan(p.FeeMin) {
		fee = p.FeeMin
	}
	if p.FeeMax.IsPositive() && fee.GreaterThan(p.FeeMax) {
		fee = p.FeeMax
	}
	fee = fee.Round(2)
	if fee.GreaterThan(amount) {
		fee = amount
	}
	return fee
}

// CheckAmountLimits validates a single transaction amount against the provider's bounds.
func (p *MomoProvider) CheckAmountLimits(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return NewValidationError("amount", "must have at most 2 decimal places")
	}
	if p.MinAmount.IsPositive() && amount.LessThan(p.MinAmount) {
		return NewValidationError("amount", "below provider minimum %s", p.MinAmount.StringFixed(2))
	}
	if p.MaxAmount.IsPositive() && amount.GreaterThan(p.MaxAmount) {
		return NewValidationError("amount", "above provider maximum %s", p.MaxAmount.StringFixed(2))
	}
	return nil
}

// RequiresApproval reports whether an outbound amount must be approved before it is sent.
func (p *MomoProvider) RequiresApproval(txnType TransactionType, amount decimal.Decimal) bool {
	if txnType.IsInbound() || !p.PayoutApprovalThreshold.IsPositive() {
		return false
	}
	return amount.GreaterThanOrEqual(p.PayoutApprovalThreshold)
}

// Settings resolves per-provider knobs, falling back to env defaults for zero values.
func (p *MomoProvider) Settings(d config.MomoDefaults) ProviderSettings {
	pick := func(v, def int) int {
		if v > 0 {
			return v
		}
		return def
	}
	tol := d.MatchAmountTolerance
	if p.MatchAmountTolerance.IsPositive() {
		tol = p.MatchAmountTolerance
	}
	return ProviderSettings{
		MaxRetryAttempts:       pick(p.MaxRetryAttempts, d.MaxRetryAttempts),
		RetryDelay:             time.Duration(pick(p.RetryDelayMinutes, d.RetryDelayMinutes)) * time.Minute,
		ProcessingTimeout:      time.Duration(pick(p.ProcessingTimeoutMinutes, d.ProcessingTimeoutMinutes)) * time.Minute,
		Expiry:                 time.Duration(pick(p.ExpiryMinutes, d.ExpiryMinutes)) * time.Minute,
		MatchAmountTolerance:   tol,
		MatchDateToleranceDays: pick(p.MatchDateToleranceDays, d.MatchDateToleranceDays),
	}
}
