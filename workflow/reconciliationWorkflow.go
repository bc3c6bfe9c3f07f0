package workflow

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// ReconciliationWorkflow runs statement reconciliations: import, auto-match, manual
// overrides, completion and approval.
type ReconciliationWorkflow struct {
	Logger *logrus.Logger
	Now    func() time.Time
}

func NewReconciliationWorkflow(logger *logrus.Logger) *ReconciliationWorkflow {
	return &ReconciliationWorkflow{Logger: logger}
}

func (w *ReconciliationWorkflow) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *ReconciliationWorkflow) log(recon *models.BankReconciliation) *logrus.Entry {
	return w.Logger.WithFields(logrus.Fields{
		"field":             "ReconciliationWorkflow",
		"company_id":        recon.CompanyId,
		"reconciliation_id": recon.ID,
		"provider_id":       recon.ProviderId,
	})
}

// ReconciliationSummary is the operator view of a reconciliation.
type ReconciliationSummary struct {
	Reconciliation       *models.BankReconciliation            `json:"reconciliation"`
	StatementLineCount   int                                   `json:"statement_line_count"`
	BookTransactionCount int                                   `json:"book_transaction_count"`
	MatchedCount         int                                   `json:"matched_count"`
	ManualMatchCount     int                                   `json:"manual_match_count"`
	ExcludedCount        int                                   `json:"excluded_count"`
	StatementTotal       decimal.Decimal                       `json:"statement_total"`
	BookTotal            decimal.Decimal                       `json:"book_total"`
	MatchedDifference    decimal.Decimal                       `json:"matched_difference"`
	Matches              []*models.ReconciliationMatch         `json:"matches"`
	UnmatchedBank        []*models.ReconciliationStatementLine `json:"unmatched_bank"`
	UnmatchedBook        []*models.MomoTransaction             `json:"unmatched_book"`
}

// summarizeReconciliation derives counts and totals from the stored rows.
// Exclusions (manual rows without a line) leave their transaction unmatched.
func summarizeReconciliation(recon *models.BankReconciliation, lines []*models.ReconciliationStatementLine, matches []*models.ReconciliationMatch, book []*models.MomoTransaction) *ReconciliationSummary {
	s := &ReconciliationSummary{
		Reconciliation:       recon,
		StatementLineCount:   len(lines),
		BookTransactionCount: len(book),
		StatementTotal:       decimal.Zero,
		BookTotal:            decimal.Zero,
		MatchedDifference:    decimal.Zero,
		Matches:              matches,
		UnmatchedBank:        []*models.ReconciliationStatementLine{},
		UnmatchedBook:        []*models.MomoTransaction{},
	}
	lineDirection := make(map[int]models.EntryDirection, len(lines))
	for _, l := range lines {
		lineDirection[l.ID] = l.Direction
	}
	matchedLines := map[int]bool{}
	matchedTxns := map[int]bool{}
	for _, m := range matches {
		if m.IsExclusion() {
			s.ExcludedCount++
			continue
		}
		direction, ok := lineDirection[*m.StatementLineId]
		if !ok {
			continue
		}
		s.MatchedCount++
		if m.MatchType == models.MatchTypeManual {
			s.ManualMatchCount++
		}
		matchedLines[*m.StatementLineId] = true
		matchedTxns[m.TransactionId] = true
		s.MatchedDifference = s.MatchedDifference.Add(signed(m.AmountDifference, direction))
	}
	for _, l := range lines {
		s.StatementTotal = s.StatementTotal.Add(signed(l.Amount, l.Direction))
		if !matchedLines[l.ID] {
			s.UnmatchedBank = append(s.UnmatchedBank, l)
		}
	}
	for _, txn := range book {
		item := bookItemFromTransaction(txn)
		s.BookTotal = s.BookTotal.Add(signed(item.Amount, item.Direction))
		if !matchedTxns[txn.ID] {
			s.UnmatchedBook = append(s.UnmatchedBook, txn)
		}
	}
	return s
}

func (w *ReconciliationWorkflow) invalidateSummary(ctx context.Context, recon *models.BankReconciliation) {
	if err := utils.RemoveRedisItem[ReconciliationSummary](ctx, recon.CompanyId, recon.ID); err != nil {
		w.log(recon).WithError(err).Warn("failed to drop cached reconciliation summary")
	}
}

func loadLinesTx(tx *gorm.DB, recon *models.BankReconciliation) ([]*models.ReconciliationStatementLine, error) {
	var lines []*models.ReconciliationStatementLine
	err := tx.Where("company_id = ? AND reconciliation_id = ?", recon.CompanyId, recon.ID).
		Order("line_no ASC").Find(&lines).Error
	return lines, err
}

func loadMatchesTx(tx *gorm.DB, recon *models.BankReconciliation) ([]*models.ReconciliationMatch, error) {
	var matches []*models.ReconciliationMatch
	err := tx.Where("company_id = ? AND reconciliation_id = ?", recon.CompanyId, recon.ID).
		Order("id ASC").Find(&matches).Error
	return matches, err
}

// refreshHeader recomputes the stored totals of recon from its rows inside tx.
func (w *ReconciliationWorkflow) refreshHeader(ctx context.Context, tx *gorm.DB, recon *models.BankReconciliation, extra map[string]interface{}) error {
	lines, err := loadLinesTx(tx, recon)
	if err != nil {
		return err
	}
	matches, err := loadMatchesTx(tx, recon)
	if err != nil {
		return err
	}
	book, err := models.LoadBookTransactions(ctx, recon)
	if err != nil {
		return err
	}
	opening, closing, err := models.CashBookBalances(ctx, recon)
	if err != nil {
		return err
	}
	s := summarizeReconciliation(recon, lines, matches, book)
	updates := map[string]interface{}{
		"book_opening_balance": opening,
		"book_closing_balance": closing,
		"difference":           recon.StatementClosingBalance.Sub(closing),
		"matched_count":        s.MatchedCount,
		"unmatched_bank_count": len(s.UnmatchedBank),
		"unmatched_book_count": len(s.UnmatchedBook),
		"matched_difference":   s.MatchedDifference,
	}
	for k, v := range extra {
		updates[k] = v
	}
	if err := tx.Model(&models.BankReconciliation{}).
		Where("id = ? AND company_id = ?", recon.ID, recon.CompanyId).
		Updates(updates).Error; err != nil {
		return err
	}
	return tx.First(recon, recon.ID).Error
}

// withReconciliation runs fn inside a DB transaction holding the reconciliation lock
// and the header row locked for update.
func (w *ReconciliationWorkflow) withReconciliation(ctx context.Context, id int, fn func(tx *gorm.DB, recon *models.BankReconciliation) error) (*models.BankReconciliation, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var result *models.BankReconciliation
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireReconciliationLock(tx, companyId, id); err != nil {
			return err
		}
		defer ReleaseReconciliationLock(tx, companyId, id)
		recon, err := models.LockBankReconciliation(tx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, recon); err != nil {
			return err
		}
		result = recon
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.invalidateSummary(ctx, result)
	return result, nil
}

func requireStatus(recon *models.BankReconciliation, allowed ...models.ReconciliationStatus) error {
	for _, s := range allowed {
		if recon.Status == s {
			return nil
		}
	}
	return models.NewValidationError("status", "reconciliation is %s", recon.Status)
}

// Start opens a draft reconciliation for a provider period and records the book balances.
func (w *ReconciliationWorkflow) Start(ctx context.Context, input *models.NewBankReconciliation) (*models.BankReconciliation, error) {
	provider, err := models.GetMomoProvider(ctx, input.ProviderId)
	if err != nil {
		return nil, err
	}
	recon, err := models.CreateBankReconciliation(ctx, provider, input)
	if err != nil {
		return nil, err
	}
	recon, err = w.withReconciliation(ctx, recon.ID, func(tx *gorm.DB, recon *models.BankReconciliation) error {
		return w.refreshHeader(ctx, tx, recon, nil)
	})
	if err != nil {
		return nil, err
	}
	w.log(recon).Info("reconciliation started")
	return recon, nil
}

// ImportStatement appends the lines of a CSV/XLSX statement file and archives the raw file
// when object storage is configured. A draft moves to in_progress.
func (w *ReconciliationWorkflow) ImportStatement(ctx context.Context, id int, filename string, data []byte) (*models.BankReconciliation, int, error) {
	lines, err := ParseStatementFile(filename, data)
	if err != nil {
		return nil, 0, err
	}
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, 0, err
	}

	var fileKey *string
	if utils.GCSEnabled() {
		key := fmt.Sprintf("momo/statements/%s/%d/%s-%s", companyId, id, w.now().Format("20060102T150405"), filepath.Base(filename))
		if err := utils.UploadBytesToGCS(ctx, key, data, contentTypeFor(filename)); err != nil {
			return nil, 0, fmt.Errorf("archive statement: %w", err)
		}
		fileKey = &key
	}

	recon, err := w.withReconciliation(ctx, id, func(tx *gorm.DB, recon *models.BankReconciliation) error {
		if err := requireStatus(recon, models.ReconciliationStatusDraft, models.ReconciliationStatusInProgress); err != nil {
			return err
		}
		if err := models.AppendStatementLines(tx, recon, lines); err != nil {
			return err
		}
		if _, err := models.RecordReconciliationAction(tx, recon.ID, models.ReconciliationActionImport, nil, nil,
			fmt.Sprintf("%s: %d lines", filepath.Base(filename), len(lines))); err != nil {
			return err
		}
		extra := map[string]interface{}{}
		if fileKey != nil {
			extra["statement_file_key"] = *fileKey
		}
		if recon.Status == models.ReconciliationStatusDraft {
			if err := models.UpdateReconciliationStatus(tx, recon, models.ReconciliationStatusInProgress, nil); err != nil {
				return err
			}
		}
		return w.refreshHeader(ctx, tx, recon, extra)
	})
	if err != nil {
		return nil, 0, err
	}
	w.log(recon).WithField("lines", len(lines)).Info("statement imported")
	return recon, len(lines), nil
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	}
	return "application/octet-stream"
}

// Run re-matches the reconciliation. Manual matches and exclusions are kept, auto matches are
// replaced, so running twice gives the same result.
func (w *ReconciliationWorkflow) Run(ctx context.Context, id int) (*models.BankReconciliation, error) {
	ctx, span := tracer.Start(ctx, "ReconciliationWorkflow.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("reconciliation_id", id))

	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	release, err := obtainReconciliationRunLock(ctx, companyId, id)
	defer release()
	if err != nil {
		return nil, err
	}

	var result MatchResult
	recon, err := w.withReconciliation(ctx, id, func(tx *gorm.DB, recon *models.BankReconciliation) error {
		if recon.Status == models.ReconciliationStatusDraft {
			if err := models.UpdateReconciliationStatus(tx, recon, models.ReconciliationStatusInProgress, nil); err != nil {
				return err
			}
		}
		if err := requireStatus(recon, models.ReconciliationStatusInProgress); err != nil {
			return err
		}
		lines, err := loadLinesTx(tx, recon)
		if err != nil {
			return err
		}
		matches, err := loadMatchesTx(tx, recon)
		if err != nil {
			return err
		}
		book, err := models.LoadBookTransactions(ctx, recon)
		if err != nil {
			return err
		}

		pinnedTxns := map[int]bool{}
		pinnedLines := map[int]bool{}
		for _, m := range matches {
			if m.MatchType != models.MatchTypeManual {
				continue
			}
			pinnedTxns[m.TransactionId] = true
			if m.StatementLineId != nil {
				pinnedLines[*m.StatementLineId] = true
			}
		}
		in := MatchInput{AmountTolerance: recon.AmountTolerance, DateToleranceDays: recon.DateToleranceDays}
		for _, txn := range book {
			if !pinnedTxns[txn.ID] {
				in.Book = append(in.Book, bookItemFromTransaction(txn))
			}
		}
		for _, l := range lines {
			if !pinnedLines[l.ID] {
				in.Statement = append(in.Statement, statementItemFromLine(l))
			}
		}
		result = MatchStatement(in)

		auto := make([]*models.ReconciliationMatch, 0, len(result.Matched))
		for _, p := range result.Matched {
			lineId := p.StatementLineId
			auto = append(auto, &models.ReconciliationMatch{
				TransactionId:      p.TransactionId,
				StatementLineId:    &lineId,
				Rule:               p.Rule,
				AmountDifference:   p.AmountDifference,
				DateDifferenceDays: p.DateDifferenceDays,
			})
		}
		if err := models.SaveReconciliationRun(tx, recon, auto); err != nil {
			return err
		}
		if _, err := models.RecordReconciliationAction(tx, recon.ID, models.ReconciliationActionRun, nil, nil,
			fmt.Sprintf("auto matched %d, unmatched statement %d, unmatched book %d", len(result.Matched), len(result.UnmatchedBank), len(result.UnmatchedBook))); err != nil {
			return err
		}
		now := w.now()
		return w.refreshHeader(ctx, tx, recon, map[string]interface{}{"last_run_at": &now})
	})
	if err != nil {
		return nil, err
	}
	w.log(recon).WithFields(logrus.Fields{
		"matched":        recon.MatchedCount,
		"unmatched_bank": recon.UnmatchedBankCount,
		"unmatched_book": recon.UnmatchedBookCount,
	}).Info("reconciliation run finished")
	return recon, nil
}

// bookTransactionTx loads a completed transaction of the reconciled provider that is not
// reconciled elsewhere.
func bookTransactionTx(tx *gorm.DB, recon *models.BankReconciliation, transactionId int) (*models.MomoTransaction, error) {
	txn, err := utils.FetchModelTx[models.MomoTransaction](tx, recon.CompanyId, transactionId, true)
	if err != nil {
		return nil, err
	}
	if txn.ProviderId != recon.ProviderId {
		return nil, models.NewValidationError("transaction_id", "transaction belongs to another provider")
	}
	if txn.Status != models.TransactionStatusCompleted {
		return nil, models.NewValidationError("transaction_id", "only completed transactions can be reconciled")
	}
	if txn.IsReconciled && (txn.ReconciliationId == nil || *txn.ReconciliationId != recon.ID) {
		return nil, models.NewValidationError("transaction_id", "transaction is reconciled elsewhere")
	}
	return txn, nil
}

// ForceMatch pairs a transaction with a statement line regardless of the matching rules.
func (w *ReconciliationWorkflow) ForceMatch(ctx context.Context, id, transactionId, lineId int, reason string) (*models.BankReconciliation, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, models.NewValidationError("reason", "is required")
	}
	recon, err := w.withReconciliation(ctx, id, func(tx *gorm.DB, recon *models.BankReconciliation) error {
		if err := requireStatus(recon, models.ReconciliationStatusInProgress); err != nil {
			return err
		}
		line, err := models.FindStatementLine(tx, recon, lineId)
		if err != nil {
			return err
		}
		txn, err := bookTransactionTx(tx, recon, transactionId)
		if err != nil {
			return err
		}
		action, err := models.RecordReconciliationAction(tx, recon.ID, models.ReconciliationActionForceMatch, &transactionId, &lineId, reason)
		if err != nil {
			return err
		}
		item := bookItemFromTransaction(txn)
		if err := models.SaveManualMatch(tx, recon, &models.ReconciliationMatch{
			TransactionId:      txn.ID,
			StatementLineId:    &line.ID,
			Rule:               models.MatchRuleForceMatch,
			AmountDifference:   line.Amount.Sub(item.Amount),
			DateDifferenceDays: dayDiff(line.TransactionDate, item.Date),
			ActionId:           &action.ID,
		}); err != nil {
			return err
		}
		return w.refreshHeader(ctx, tx, recon, nil)
	})
	if err != nil {
		return nil, err
	}
	w.log(recon).WithFields(logrus.Fields{"transaction_id": transactionId, "statement_line_id": lineId}).Info("force matched")
	return recon, nil
}

// exclusionMatch pins a transaction to no statement line.
func exclusionMatch(transactionId, actionId int) *models.ReconciliationMatch {
	return &models.ReconciliationMatch{
		TransactionId:    transactionId,
		Rule:             models.MatchRuleForceUnmatch,
		AmountDifference: decimal.Zero,
		ActionId:         &actionId,
	}
}

// ForceUnmatch keeps a transaction unmatched across re-runs.
func (w *ReconciliationWorkflow) ForceUnmatch(ctx context.Context, id, transactionId int, reason string) (*models.BankReconciliation, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, models.NewValidationError("reason", "is required")
	}
	recon, err := w.withReconciliation(ctx, id, func(tx *gorm.DB, recon *models.BankReconciliation) error {
		if err := requireStatus(recon, models.ReconciliationStatusInProgress); err != nil {
			return err
		}
		txn, err := bookTransactionTx(tx, recon, transactionId)
		if err != nil {
			return err
		}
		action, err := models.RecordReconciliationAction(tx, recon.ID, models.ReconciliationActionForceUnmatch, &transactionId, nil, reason)
		if err != nil {
			return err
		}
		if err := models.SaveManualMatch(tx, recon, exclusionMatch(txn.ID, action.ID)); err != nil {
			return err
		}
		return w.refreshHeader(ctx, tx, recon, nil)
	})
	if err != nil {
		return nil, err
	}
	w.log(recon).WithField("transaction_id", transactionId).Info("force unmatched")
	return recon, nil
}

func matchedTransactionIds(matches []*models.ReconciliationMatch) []int {
	ids := make([]int, 0, len(matches))
	for _, m := range matches {
		if !m.IsExclusion() {
			ids = append(ids, m.TransactionId)
		}
	}
	return ids
}

// Complete closes an in-progress reconciliation and flags its matched transactions reconciled.
func (w *ReconciliationWorkflow) Complete(ctx context.Context, id int, note string) (*models.BankReconciliation, error) {
	recon, err := w.withReconciliation(ctx, id, func(tx *gorm.DB, recon *models.BankReconciliation) error {
		if err := requireStatus(recon, models.ReconciliationStatusInProgress); err != nil {
			return err
		}
		if recon.LastRunAt == nil {
			return models.NewValidationError("status", "run the reconciliation before completing it")
		}
		matches, err := loadMatchesTx(tx, recon)
		if err != nil {
			return err
		}
		now := w.now()
		if err := models.MarkTransactionsReconciled(tx, recon, matchedTransactionIds(matches), true, now); err != nil {
			return err
		}
		userId, _ := utils.Actor(ctx)
		if err := models.UpdateReconciliationStatus(tx, recon, models.ReconciliationStatusCompleted, map[string]interface{}{
			"completed_at": &now,
			"completed_by": userId,
		}); err != nil {
			return err
		}
		_, err = models.RecordReconciliationAction(tx, recon.ID, models.ReconciliationActionComplete, nil, nil, note)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.log(recon).Info("reconciliation completed")
	return recon, nil
}

// Approve signs off a completed reconciliation. The approver must hold the approver role
// and must not be the user who completed it.
func (w *ReconciliationWorkflow) Approve(ctx context.Context, id int, note string) (*models.BankReconciliation, error) {
	if !hasRole(ctx, models.UserRoleApprover, models.UserRoleAdmin) {
		return nil, models.ErrForbidden
	}
	userId, userName := utils.Actor(ctx)
	recon, err := w.withReconciliation(ctx, id, func(tx *gorm.DB, recon *models.BankReconciliation) error {
		if err := requireStatus(recon, models.ReconciliationStatusCompleted); err != nil {
			return err
		}
		if userId != 0 && recon.CompletedBy != nil && *recon.CompletedBy == userId {
			return models.NewValidationError("approved_by", "the user who completed a reconciliation cannot approve it")
		}
		now := w.now()
		if err := models.UpdateReconciliationStatus(tx, recon, models.ReconciliationStatusApproved, map[string]interface{}{
			"approved_by":      userId,
			"approved_by_name": userName,
			"approved_at":      &now,
		}); err != nil {
			return err
		}
		_, err := models.RecordReconciliationAction(tx, recon.ID, models.ReconciliationActionApprove, nil, nil, note)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.log(recon).Info("reconciliation approved")
	return recon, nil
}

// Reopen returns a completed, unapproved reconciliation to in_progress and clears the
// reconciled flag on its transactions.
func (w *ReconciliationWorkflow) Reopen(ctx context.Context, id int, reason string) (*models.BankReconciliation, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, models.NewValidationError("reason", "is required")
	}
	recon, err := w.withReconciliation(ctx, id, func(tx *gorm.DB, recon *models.BankReconciliation) error {
		if err := requireStatus(recon, models.ReconciliationStatusCompleted); err != nil {
			return err
		}
		matches, err := loadMatchesTx(tx, recon)
		if err != nil {
			return err
		}
		if err := models.MarkTransactionsReconciled(tx, recon, matchedTransactionIds(matches), false, w.now()); err != nil {
			return err
		}
		if err := models.UpdateReconciliationStatus(tx, recon, models.ReconciliationStatusInProgress, map[string]interface{}{
			"completed_at": nil,
			"completed_by": nil,
		}); err != nil {
			return err
		}
		_, err = models.RecordReconciliationAction(tx, recon.ID, models.ReconciliationActionReopen, nil, nil, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.log(recon).Info("reconciliation reopened")
	return recon, nil
}

// Summary returns the reconciliation with its unmatched items, served from Redis when cached.
func (w *ReconciliationWorkflow) Summary(ctx context.Context, id int) (*ReconciliationSummary, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	if cached, err := utils.RetrieveRedis[ReconciliationSummary](ctx, companyId, id); err == nil && cached != nil {
		return cached, nil
	}

	recon, err := models.GetBankReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := models.GetStatementLines(ctx, id)
	if err != nil {
		return nil, err
	}
	matches, err := models.GetReconciliationMatches(ctx, id)
	if err != nil {
		return nil, err
	}
	book, err := models.LoadBookTransactions(ctx, recon)
	if err != nil {
		return nil, err
	}
	summary := summarizeReconciliation(recon, lines, matches, book)
	if err := utils.StoreRedis(ctx, companyId, id, summary); err != nil {
		w.log(recon).WithError(err).Warn("failed to cache reconciliation summary")
	}
	return summary, nil
}

// exportBuffer renders the workbook of a reconciliation.
func (w *ReconciliationWorkflow) exportBuffer(ctx context.Context, id int) (*bytes.Buffer, *models.BankReconciliation, error) {
	summary, err := w.Summary(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	lines, err := models.GetStatementLines(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	actions, err := models.GetReconciliationActions(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	buf, err := buildReconciliationWorkbook(summary, lines, actions)
	if err != nil {
		return nil, nil, err
	}
	return buf, summary.Reconciliation, nil
}

// ExportExcel returns the XLSX export and a file name for it.
func (w *ReconciliationWorkflow) ExportExcel(ctx context.Context, id int) ([]byte, string, error) {
	buf, recon, err := w.exportBuffer(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), exportFileName(recon), nil
}

// ExportToGCS archives the XLSX export and returns a signed download URL.
func (w *ReconciliationWorkflow) ExportToGCS(ctx context.Context, id int) (*utils.SignedDownload, error) {
	if !utils.GCSEnabled() {
		return nil, models.NewValidationError("export", "object storage is not configured")
	}
	buf, recon, err := w.exportBuffer(ctx, id)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("momo/exports/%s/%d/%s", recon.CompanyId, recon.ID, exportFileName(recon))
	if err := utils.UploadBytesToGCS(ctx, key, buf.Bytes(), contentTypeFor(".xlsx")); err != nil {
		return nil, err
	}
	return utils.SignDownload(ctx, key, 15*time.Minute)
}

func exportFileName(recon *models.BankReconciliation) string {
	return fmt.Sprintf("reconciliation-%d-%s-%s.xlsx", recon.ID,
		recon.PeriodStart.Format("20060102"), recon.PeriodEnd.Format("20060102"))
}
