package workflow

import (
	"bytes"
	"testing"
	"time"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func intPtr(v int) *int { return &v }

func reconFixture() (*models.BankReconciliation, []*models.ReconciliationStatementLine, []*models.ReconciliationMatch, []*models.MomoTransaction) {
	recon := &models.BankReconciliation{
		ID:                      7,
		CompanyId:               "c1",
		ProviderId:              3,
		PeriodStart:             time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:               time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC),
		StatementClosingBalance: amt("148"),
		Status:                  models.ReconciliationStatusInProgress,
	}
	lines := []*models.ReconciliationStatementLine{
		{ID: 101, LineNo: 1, TransactionDate: day(1), Reference: "A", Amount: amt("98.10"), Direction: models.EntryDirectionCredit},
		{ID: 102, LineNo: 2, TransactionDate: day(2), Reference: "B", Amount: amt("50"), Direction: models.EntryDirectionDebit},
		{ID: 103, LineNo: 3, TransactionDate: day(3), Reference: "C", Amount: amt("100"), Direction: models.EntryDirectionCredit},
	}
	completed := day(1)
	book := []*models.MomoTransaction{
		{ID: 1, Type: models.TransactionTypePayment, Amount: amt("100"), NetAmount: amt("98"), Reference: "A", InitiatedAt: day(1), CompletedAt: &completed},
		{ID: 2, Type: models.TransactionTypePayout, Amount: amt("50"), NetAmount: amt("50"), Reference: "B", InitiatedAt: day(2)},
		{ID: 3, Type: models.TransactionTypePayment, Amount: amt("20"), NetAmount: amt("20"), Reference: "Z", InitiatedAt: day(4)},
	}
	matches := []*models.ReconciliationMatch{
		{ID: 1, TransactionId: 1, StatementLineId: intPtr(101), MatchType: models.MatchTypeAuto, Rule: models.MatchRuleReference, AmountDifference: amt("0.10")},
		{ID: 2, TransactionId: 2, StatementLineId: intPtr(102), MatchType: models.MatchTypeManual, Rule: models.MatchRuleForceMatch, AmountDifference: amt("0")},
		{ID: 3, TransactionId: 3, MatchType: models.MatchTypeManual, Rule: models.MatchRuleForceUnmatch, AmountDifference: amt("0")},
	}
	return recon, lines, matches, book
}

func TestSummarizeReconciliation(t *testing.T) {
	recon, lines, matches, book := reconFixture()
	s := summarizeReconciliation(recon, lines, matches, book)

	assert.Equal(t, 3, s.StatementLineCount)
	assert.Equal(t, 3, s.BookTransactionCount)
	assert.Equal(t, 2, s.MatchedCount)
	assert.Equal(t, 1, s.ManualMatchCount)
	assert.Equal(t, 1, s.ExcludedCount)

	require.Len(t, s.UnmatchedBank, 1)
	assert.Equal(t, 103, s.UnmatchedBank[0].ID)
	// The excluded transaction stays on the unmatched side.
	require.Len(t, s.UnmatchedBook, 1)
	assert.Equal(t, 3, s.UnmatchedBook[0].ID)

	assert.True(t, s.StatementTotal.Equal(amt("148.10")), s.StatementTotal.String())
	assert.True(t, s.BookTotal.Equal(amt("68")), s.BookTotal.String())
	assert.True(t, s.MatchedDifference.Equal(amt("0.10")), s.MatchedDifference.String())
}

func TestExclusionMatch(t *testing.T) {
	m := exclusionMatch(7, 42)
	assert.Equal(t, 7, m.TransactionId)
	assert.Equal(t, models.MatchRuleForceUnmatch, m.Rule)
	assert.True(t, m.IsExclusion())
	assert.Nil(t, m.StatementLineId)
	require.NotNil(t, m.ActionId)
	assert.Equal(t, 42, *m.ActionId)
	assert.True(t, m.AmountDifference.IsZero())
}

func TestSummarizeReconciliationIgnoresMatchesOfUnknownLines(t *testing.T) {
	recon, lines, _, book := reconFixture()
	matches := []*models.ReconciliationMatch{
		{ID: 9, TransactionId: 1, StatementLineId: intPtr(999), MatchType: models.MatchTypeAuto, AmountDifference: amt("5")},
	}
	s := summarizeReconciliation(recon, lines, matches, book)
	assert.Equal(t, 0, s.MatchedCount)
	assert.Len(t, s.UnmatchedBank, 3)
	assert.Len(t, s.UnmatchedBook, 3)
	assert.True(t, s.MatchedDifference.IsZero())
}

func TestSummarizeReconciliationEmpty(t *testing.T) {
	s := summarizeReconciliation(&models.BankReconciliation{ID: 1}, nil, nil, nil)
	assert.NotNil(t, s.UnmatchedBank)
	assert.NotNil(t, s.UnmatchedBook)
	assert.True(t, s.StatementTotal.IsZero())
	assert.True(t, s.BookTotal.IsZero())
}

func TestBuildReconciliationWorkbook(t *testing.T) {
	recon, lines, matches, book := reconFixture()
	s := summarizeReconciliation(recon, lines, matches, book)
	actions := []*models.ReconciliationAction{
		{ID: 1, ActionType: models.ReconciliationActionStart, UserName: "ops", CreatedAt: day(1)},
		{ID: 2, ActionType: models.ReconciliationActionForceMatch, TransactionId: intPtr(2), StatementLineId: intPtr(102), Reason: "fee netted", CreatedAt: day(2)},
	}

	buf, err := buildReconciliationWorkbook(s, lines, actions)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{exportSummarySheet, exportMatchedSheet, exportUnmatchedBankSheet, exportUnmatchedBookSheet, exportActionsSheet}, f.GetSheetList())

	matched, err := f.GetRows(exportMatchedSheet)
	require.NoError(t, err)
	assert.Len(t, matched, 3)
	assert.Equal(t, "101", matched[1][1])

	bank, err := f.GetRows(exportUnmatchedBankSheet)
	require.NoError(t, err)
	require.Len(t, bank, 2)
	assert.Equal(t, "C", bank[1][2])

	journal, err := f.GetRows(exportActionsSheet)
	require.NoError(t, err)
	require.Len(t, journal, 3)
	assert.Equal(t, "fee netted", journal[2][5])
}

func TestExportFileName(t *testing.T) {
	recon, _, _, _ := reconFixture()
	assert.Equal(t, "reconciliation-7-20240501-20240531.xlsx", exportFileName(recon))
}
