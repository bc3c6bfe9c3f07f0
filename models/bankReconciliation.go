package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var AllowedReconciliationTransitions = map[ReconciliationStatus][]ReconciliationStatus{
	ReconciliationStatusDraft:      {ReconciliationStatusInProgress},
	ReconciliationStatusInProgress: {ReconciliationStatusCompleted},
	ReconciliationStatusCompleted:  {ReconciliationStatusApproved, ReconciliationStatusInProgress},
	ReconciliationStatusApproved:   {},
}

func CanTransitionReconciliation(from, to ReconciliationStatus) bool {
	for _, s := range AllowedReconciliationTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BankReconciliation compares a provider statement for a period with the book side.
type BankReconciliation struct {
	ID                      int                  `gorm:"primary_key" json:"id"`
	CompanyId               string               `gorm:"size:64;not null;index" json:"company_id"`
	ProviderId              int                  `gorm:"not null;index" json:"provider_id"`
	AccountId               int                  `gorm:"not null;default:0" json:"account_id"`
	PeriodStart             time.Time            `gorm:"type:date;not null" json:"period_start"`
	PeriodEnd               time.Time            `gorm:"type:date;not null" json:"period_end"`
	StatementOpeningBalance decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"statement_opening_balance"`
	StatementClosingBalance decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"statement_closing_balance"`
	BookOpeningBalance      decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"book_opening_balance"`
	BookClosingBalance      decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"book_closing_balance"`
	Difference              decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"difference"`
	MatchedCount            int                  `gorm:"not null;default:0" json:"matched_count"`
	UnmatchedBankCount      int                  `gorm:"not null;default:0" json:"unmatched_bank_count"`
	UnmatchedBookCount      int                  `gorm:"not null;default:0" json:"unmatched_book_count"`
	MatchedDifference       decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"matched_difference"`
	AmountTolerance         decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"amount_tolerance"`
	DateToleranceDays       int                  `gorm:"not null;default:0" json:"date_tolerance_days"`
	Status                  ReconciliationStatus `gorm:"size:20;not null;index" json:"status"`
	StatementFileKey        *string              `gorm:"size:255" json:"statement_file_key"`
	Notes                   string               `gorm:"type:text" json:"notes"`
	LastRunAt               *time.Time           `json:"last_run_at"`
	CompletedAt             *time.Time           `json:"completed_at"`
	CompletedBy             *int                 `json:"completed_by"`
	ApprovedBy              *int                 `json:"approved_by"`
	ApprovedByName          *string              `gorm:"size:100" json:"approved_by_name"`
	ApprovedAt              *time.Time           `json:"approved_at"`
	CreatedBy               int                  `gorm:"not null;default:0" json:"created_by"`
	CreatedAt               time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeSave keeps difference = statement closing - book closing.
func (r *BankReconciliation) BeforeSave(tx *gorm.DB) error {
	r.Difference = r.StatementClosingBalance.Sub(r.BookClosingBalance)
	return nil
}

// PeriodEndExclusive is the first instant after the period.
func (r *BankReconciliation) PeriodEndExclusive() time.Time {
	return utils.StartOfDay(r.PeriodEnd).AddDate(0, 0, 1)
}

// ReconciliationStatementLine is one imported line of a provider statement.
type ReconciliationStatementLine struct {
	ID                   int                 `gorm:"primary_key" json:"id"`
	CompanyId            string              `gorm:"size:64;not null;index" json:"company_id"`
	ReconciliationId     int                 `gorm:"not null;index:uniq_recon_line,unique,priority:1" json:"reconciliation_id"`
	LineNo               int                 `gorm:"not null;index:uniq_recon_line,unique,priority:2" json:"line_no"`
	TransactionDate      time.Time           `gorm:"not null" json:"transaction_date"`
	Reference            string              `gorm:"size:128;index" json:"reference"`
	Description          string              `gorm:"size:255" json:"description"`
	Amount               decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"amount"`
	Direction            EntryDirection      `gorm:"size:10;not null" json:"direction"`
	Balance              decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"balance"`
	IsMatched            bool                `gorm:"not null;default:false" json:"is_matched"`
	MatchedTransactionId *int                `gorm:"index" json:"matched_transaction_id"`
	SourceFile           string              `gorm:"size:255" json:"source_file"`
	CreatedAt            time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

// ReconciliationMatch pairs a book transaction with a statement line.
// A manual row with no statement line holds the transaction unmatched across re-runs.
type ReconciliationMatch struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	CompanyId          string          `gorm:"size:64;not null;index" json:"company_id"`
	ReconciliationId   int             `gorm:"not null;index:uniq_recon_match_txn,unique,priority:1;index:uniq_recon_match_line,unique,priority:1" json:"reconciliation_id"`
	TransactionId      int             `gorm:"not null;index:uniq_recon_match_txn,unique,priority:2" json:"transaction_id"`
	StatementLineId    *int            `gorm:"index:uniq_recon_match_line,unique,priority:2" json:"statement_line_id"`
	MatchType          MatchType       `gorm:"size:10;not null" json:"match_type"`
	Rule               MatchRule       `gorm:"size:20;not null" json:"rule"`
	AmountDifference   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"amount_difference"`
	DateDifferenceDays int             `gorm:"not null;default:0" json:"date_difference_days"`
	ActionId           *int            `json:"action_id"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (m *ReconciliationMatch) IsExclusion() bool {
	return m.StatementLineId == nil
}

// ReconciliationAction is the operator journal of a reconciliation.
type ReconciliationAction struct {
	ID               int                      `gorm:"primary_key" json:"id"`
	CompanyId        string                   `gorm:"size:64;not null;index" json:"company_id"`
	ReconciliationId int                      `gorm:"not null;index" json:"reconciliation_id"`
	ActionType       ReconciliationActionType `gorm:"size:30;not null" json:"action_type"`
	TransactionId    *int                     `json:"transaction_id"`
	StatementLineId  *int                     `json:"statement_line_id"`
	Reason           string                   `gorm:"type:text" json:"reason"`
	UserId           int                      `gorm:"not null;default:0" json:"user_id"`
	UserName         string                   `gorm:"size:100" json:"user_name"`
	CreatedAt        time.Time                `gorm:"autoCreateTime" json:"created_at"`
}

// RecordReconciliationAction appends to the journal inside tx.
func RecordReconciliationAction(tx *gorm.DB, reconciliationId int, actionType ReconciliationActionType, transactionId, lineId *int, reason string) (*ReconciliationAction, error) {
	ctx := tx.Statement.Context
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	userId, userName := utils.Actor(ctx)
	action := ReconciliationAction{
		CompanyId:        companyId,
		ReconciliationId: reconciliationId,
		ActionType:       actionType,
		TransactionId:    transactionId,
		StatementLineId:  lineId,
		Reason:           reason,
		UserId:           userId,
		UserName:         userName,
	}
	if err := tx.Create(&action).Error; err != nil {
		return nil, err
	}
	return &action, nil
}

type NewBankReconciliation struct {
	ProviderId              int             `json:"provider_id" validate:"required"`
	PeriodStart             time.Time       `json:"period_start" validate:"required"`
	PeriodEnd               time.Time       `json:"period_end" validate:"required"`
	StatementOpeningBalance decimal.Decimal `json:"statement_opening_balance"`
	StatementClosingBalance decimal.Decimal `json:"statement_closing_balance"`
	Notes                   string          `json:"notes"`
}

// CreateBankReconciliation opens a draft for provider over [start, end].
// Tolerances are frozen from the provider settings so re-runs stay deterministic.
func CreateBankReconciliation(ctx context.Context, provider *MomoProvider, input *NewBankReconciliation) (*BankReconciliation, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, NewValidationError("", "%v", utils.ProcessValidationErrors(err))
	}
	start := utils.StartOfDay(input.PeriodStart)
	end := utils.StartOfDay(input.PeriodEnd)
	if end.Before(start) {
		return nil, NewValidationError("period_end", "must not be before period_start")
	}
	if provider == nil || provider.CompanyId != companyId || provider.ID != input.ProviderId {
		return nil, NewValidationError("provider_id", "provider not found")
	}
	settings := provider.Settings(config.GetMomoDefaults())
	userId, _ := utils.Actor(ctx)

	recon := BankReconciliation{
		CompanyId:               companyId,
		ProviderId:              provider.ID,
		AccountId:               provider.CashAccountId,
		PeriodStart:             start,
		PeriodEnd:               end,
		StatementOpeningBalance: input.StatementOpeningBalance,
		StatementClosingBalance: input.StatementClosingBalance,
		AmountTolerance:         settings.MatchAmountTolerance,
		DateToleranceDays:       settings.MatchDateToleranceDays,
		Status:                  ReconciliationStatusDraft,
		Notes:                   input.Notes,
		CreatedBy:               userId,
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var overlapping int64
		if err := tx.Model(&BankReconciliation{}).
			Where("company_id = ? AND provider_id = ? AND status <> ? AND period_start <= ? AND period_end >= ?",
				companyId, provider.ID, ReconciliationStatusApproved, end, start).
			Count(&overlapping).Error; err != nil {
			return err
		}
		if overlapping > 0 {
			return NewValidationError("period_start", "an open reconciliation already covers this period")
		}
		if err := tx.Create(&recon).Error; err != nil {
			return err
		}
		_, err := RecordReconciliationAction(tx, recon.ID, ReconciliationActionStart, nil, nil, input.Notes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &recon, nil
}

func GetBankReconciliation(ctx context.Context, id int) (*BankReconciliation, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[BankReconciliation](ctx, companyId, id)
}

// LockBankReconciliation reloads the header FOR UPDATE inside tx.
func LockBankReconciliation(tx *gorm.DB, id int) (*BankReconciliation, error) {
	companyId, err := utils.RequireCompanyId(tx.Statement.Context)
	if err != nil {
		return nil, err
	}
	return utils.FetchModelTx[BankReconciliation](tx, companyId, id, true)
}

func ListBankReconciliations(ctx context.Context, providerId *int, status *ReconciliationStatus) ([]*BankReconciliation, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx).Where("company_id = ?", companyId)
	if providerId != nil {
		db = db.Where("provider_id = ?", *providerId)
	}
	if status != nil {
		db = db.Where("status = ?", *status)
	}
	var results []*BankReconciliation
	err = db.Order("period_start DESC, id DESC").Find(&results).Error
	return results, err
}

func GetStatementLines(ctx context.Context, reconciliationId int) ([]*ReconciliationStatementLine, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var lines []*ReconciliationStatementLine
	err = config.GetDB().WithContext(ctx).
		Where("company_id = ? AND reconciliation_id = ?", companyId, reconciliationId).
		Order("line_no ASC").Find(&lines).Error
	return lines, err
}

func GetReconciliationMatches(ctx context.Context, reconciliationId int) ([]*ReconciliationMatch, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var matches []*ReconciliationMatch
	err = config.GetDB().WithContext(ctx).
		Where("company_id = ? AND reconciliation_id = ?", companyId, reconciliationId).
		Order("id ASC").Find(&matches).Error
	return matches, err
}

func GetReconciliationActions(ctx context.Context, reconciliationId int) ([]*ReconciliationAction, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var actions []*ReconciliationAction
	err = config.GetDB().WithContext(ctx).
		Where("company_id = ? AND reconciliation_id = ?", companyId, reconciliationId).
		Order("id ASC").Find(&actions).Error
	return actions, err
}

// AppendStatementLines numbers lines after the existing ones and inserts them in batches.
func AppendStatementLines(tx *gorm.DB, recon *BankReconciliation, lines []*ReconciliationStatementLine) error {
	if len(lines) == 0 {
		return nil
	}
	var maxLine int
	if err := tx.Model(&ReconciliationStatementLine{}).
		Where("company_id = ? AND reconciliation_id = ?", recon.CompanyId, recon.ID).
		Select("COALESCE(MAX(line_no), 0)").Scan(&maxLine).Error; err != nil {
		return err
	}
	for i, l := range lines {
		l.CompanyId = recon.CompanyId
		l.ReconciliationId = recon.ID
		l.LineNo = maxLine + i + 1
	}
	return tx.CreateInBatches(lines, 200).Error
}

// LoadBookTransactions returns completed provider transactions finished inside the period
// that are not reconciled elsewhere, ordered by id.
func LoadBookTransactions(ctx context.Context, recon *BankReconciliation) ([]*MomoTransaction, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var txns []*MomoTransaction
	err = config.GetDB().WithContext(ctx).
		Where("company_id = ? AND provider_id = ? AND status = ?", companyId, recon.ProviderId, TransactionStatusCompleted).
		Where("completed_at >= ? AND completed_at < ?", recon.PeriodStart, recon.PeriodEndExclusive()).
		Where("(is_reconciled = ? OR reconciliation_id = ?)", false, recon.ID).
		Order("id ASC").
		Find(&txns).Error
	return txns, err
}

// CashBookBalances returns the provider cash account balance before and at the end of the period.
func CashBookBalances(ctx context.Context, recon *BankReconciliation) (decimal.Decimal, decimal.Decimal, error) {
	if recon.AccountId == 0 {
		return decimal.Zero, decimal.Zero, nil
	}
	opening, err := accountBalanceBefore(ctx, recon.CompanyId, recon.AccountId, recon.PeriodStart)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	closing, err := accountBalanceBefore(ctx, recon.CompanyId, recon.AccountId, recon.PeriodEndExclusive())
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return opening, closing, nil
}

// SaveReconciliationRun replaces auto matches with the given ones and refreshes line flags.
// Manual matches are left untouched.
func SaveReconciliationRun(tx *gorm.DB, recon *BankReconciliation, autoMatches []*ReconciliationMatch) error {
	if err := tx.Where("company_id = ? AND reconciliation_id = ? AND match_type = ?", recon.CompanyId, recon.ID, MatchTypeAuto).
		Delete(&ReconciliationMatch{}).Error; err != nil {
		return err
	}
	for _, m := range autoMatches {
		m.CompanyId = recon.CompanyId
		m.ReconciliationId = recon.ID
		m.MatchType = MatchTypeAuto
	}
	if len(autoMatches) > 0 {
		if err := tx.CreateInBatches(autoMatches, 200).Error; err != nil {
			return err
		}
	}
	return refreshStatementLineFlags(tx, recon)
}

// refreshStatementLineFlags recomputes is_matched from the current match rows.
func refreshStatementLineFlags(tx *gorm.DB, recon *BankReconciliation) error {
	if err := tx.Model(&ReconciliationStatementLine{}).
		Where("company_id = ? AND reconciliation_id = ?", recon.CompanyId, recon.ID).
		Updates(map[string]interface{}{"is_matched": false, "matched_transaction_id": nil}).Error; err != nil {
		return err
	}
	var matches []ReconciliationMatch
	if err := tx.Where("company_id = ? AND reconciliation_id = ? AND statement_line_id IS NOT NULL", recon.CompanyId, recon.ID).
		Find(&matches).Error; err != nil {
		return err
	}
	for _, m := range matches {
		if err := tx.Model(&ReconciliationStatementLine{}).
			Where("id = ? AND company_id = ?", *m.StatementLineId, recon.CompanyId).
			Updates(map[string]interface{}{"is_matched": true, "matched_transaction_id": m.TransactionId}).Error; err != nil {
			return err
		}
	}
	return nil
}

// SaveManualMatch replaces any match of the transaction or line with a manual one.
func SaveManualMatch(tx *gorm.DB, recon *BankReconciliation, match *ReconciliationMatch) error {
	q := tx.Where("company_id = ? AND reconciliation_id = ?", recon.CompanyId, recon.ID)
	if match.StatementLineId != nil {
		q = q.Where("transaction_id = ? OR statement_line_id = ?", match.TransactionId, *match.StatementLineId)
	} else {
		q = q.Where("transaction_id = ?", match.TransactionId)
	}
	if err := q.Delete(&ReconciliationMatch{}).Error; err != nil {
		return err
	}
	match.CompanyId = recon.CompanyId
	match.ReconciliationId = recon.ID
	match.MatchType = MatchTypeManual
	if err := tx.Create(match).Error; err != nil {
		return err
	}
	return refreshStatementLineFlags(tx, recon)
}

// UpdateReconciliationStatus moves the header with a status guard.
func UpdateReconciliationStatus(tx *gorm.DB, recon *BankReconciliation, to ReconciliationStatus, updates map[string]interface{}) error {
	if !CanTransitionReconciliation(recon.Status, to) {
		return NewValidationError("status", "cannot move reconciliation from %s to %s", recon.Status, to)
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	res := tx.Model(&BankReconciliation{}).
		Where("id = ? AND company_id = ? AND status = ?", recon.ID, recon.CompanyId, recon.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentTransition
	}
	return tx.First(recon, recon.ID).Error
}

// MarkTransactionsReconciled sets or clears the reconciliation flag on each transaction
// and appends an audit event.
func MarkTransactionsReconciled(tx *gorm.DB, recon *BankReconciliation, transactionIds []int, reconciled bool, at time.Time) error {
	if len(transactionIds) == 0 {
		return nil
	}
	updates := map[string]interface{}{
		"is_reconciled": reconciled,
		"version":       gorm.Expr("version + 1"),
	}
	eventType := TransactionEventReconciled
	if reconciled {
		updates["reconciled_at"] = &at
		updates["reconciliation_id"] = recon.ID
	} else {
		updates["reconciled_at"] = nil
		updates["reconciliation_id"] = nil
		eventType = TransactionEventUnreconciled
	}
	q := tx.Model(&MomoTransaction{}).Where("company_id = ? AND id IN ?", recon.CompanyId, transactionIds)
	if !reconciled {
		q = q.Where("reconciliation_id = ?", recon.ID)
	}
	if err := q.Updates(updates).Error; err != nil {
		return err
	}
	for _, id := range transactionIds {
		if err := AppendTransactionEvent(tx, id, TransactionEventSpec{
			EventType:  eventType,
			FromStatus: TransactionStatusCompleted,
			ToStatus:   TransactionStatusCompleted,
			Source:     EventSourceOperator,
			Payload:    map[string]any{"reconciliation_id": recon.ID},
		}); err != nil {
			return err
		}
	}
	return nil
}

// FindStatementLine loads a line of this reconciliation, locked for the caller's transaction.
func FindStatementLine(tx *gorm.DB, recon *BankReconciliation, lineId int) (*ReconciliationStatementLine, error) {
	var line ReconciliationStatementLine
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND company_id = ? AND reconciliation_id = ?", lineId, recon.CompanyId, recon.ID).
		Take(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}
