package workflow

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	exportSummarySheet       = "Summary"
	exportMatchedSheet       = "Matched"
	exportUnmatchedBankSheet = "Unmatched Statement"
	exportUnmatchedBookSheet = "Unmatched Book"
	exportActionsSheet       = "Actions"
)

func money(d decimal.Decimal) float64 {
	return d.Round(4).InexactFloat64()
}

func writeSheet(f *excelize.File, sheet string, headings []interface{}, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A1", &headings); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// buildReconciliationWorkbook writes the summary, matched pairs, both unmatched sides and the
// operator journal, one sheet each.
func buildReconciliationWorkbook(summary *ReconciliationSummary, lines []*models.ReconciliationStatementLine, actions []*models.ReconciliationAction) (*bytes.Buffer, error) {
	recon := summary.Reconciliation
	f := excelize.NewFile()
	defer f.Close()

	dateOf := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}
	if err := writeSheet(f, exportSummarySheet, []interface{}{"Field", "Value"}, [][]interface{}{
		{"Reconciliation", recon.ID},
		{"Provider", recon.ProviderId},
		{"Period start", recon.PeriodStart.Format("2006-01-02")},
		{"Period end", recon.PeriodEnd.Format("2006-01-02")},
		{"Status", string(recon.Status)},
		{"Statement opening balance", money(recon.StatementOpeningBalance)},
		{"Statement closing balance", money(recon.StatementClosingBalance)},
		{"Book opening balance", money(recon.BookOpeningBalance)},
		{"Book closing balance", money(recon.BookClosingBalance)},
		{"Difference", money(recon.Difference)},
		{"Statement lines", summary.StatementLineCount},
		{"Book transactions", summary.BookTransactionCount},
		{"Matched", summary.MatchedCount},
		{"Manual matches", summary.ManualMatchCount},
		{"Excluded", summary.ExcludedCount},
		{"Unmatched statement lines", len(summary.UnmatchedBank)},
		{"Unmatched book transactions", len(summary.UnmatchedBook)},
		{"Matched difference", money(summary.MatchedDifference)},
		{"Last run", dateOf(recon.LastRunAt)},
		{"Completed", dateOf(recon.CompletedAt)},
		{"Approved", dateOf(recon.ApprovedAt)},
		{"Approved by", utils.DereferencePtr(recon.ApprovedByName, "")},
	}); err != nil {
		return nil, err
	}

	lineById := make(map[int]*models.ReconciliationStatementLine, len(lines))
	for _, l := range lines {
		lineById[l.ID] = l
	}
	var matched [][]interface{}
	for _, m := range summary.Matches {
		if m.IsExclusion() {
			continue
		}
		row := []interface{}{m.TransactionId, *m.StatementLineId, string(m.MatchType), string(m.Rule), money(m.AmountDifference), m.DateDifferenceDays}
		if l, ok := lineById[*m.StatementLineId]; ok {
			row = append(row, l.Reference, l.TransactionDate.Format("2006-01-02"), money(l.Amount), string(l.Direction))
		}
		matched = append(matched, row)
	}
	if err := writeSheet(f, exportMatchedSheet,
		[]interface{}{"Transaction", "Statement line", "Type", "Rule", "Amount difference", "Date difference (days)", "Reference", "Date", "Amount", "Direction"},
		matched); err != nil {
		return nil, err
	}

	var bank [][]interface{}
	for _, l := range summary.UnmatchedBank {
		bank = append(bank, []interface{}{l.LineNo, l.TransactionDate.Format("2006-01-02"), l.Reference, l.Description, money(l.Amount), string(l.Direction)})
	}
	if err := writeSheet(f, exportUnmatchedBankSheet,
		[]interface{}{"Line", "Date", "Reference", "Description", "Amount", "Direction"}, bank); err != nil {
		return nil, err
	}

	var book [][]interface{}
	for _, txn := range summary.UnmatchedBook {
		item := bookItemFromTransaction(txn)
		book = append(book, []interface{}{txn.ID, txn.Reference, txn.ProviderRef(), string(txn.Type), item.Date.Format("2006-01-02"), money(item.Amount), string(item.Direction), txn.Msisdn})
	}
	if err := writeSheet(f, exportUnmatchedBookSheet,
		[]interface{}{"Transaction", "Reference", "Provider reference", "Type", "Date", "Amount", "Direction", "MSISDN"}, book); err != nil {
		return nil, err
	}

	var journal [][]interface{}
	for _, a := range actions {
		journal = append(journal, []interface{}{
			a.CreatedAt.UTC().Format(time.RFC3339), string(a.ActionType),
			optionalId(a.TransactionId), optionalId(a.StatementLineId), a.UserName, a.Reason,
		})
	}
	if err := writeSheet(f, exportActionsSheet,
		[]interface{}{"At", "Action", "Transaction", "Statement line", "User", "Reason"}, journal); err != nil {
		return nil, err
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	index, err := f.GetSheetIndex(exportSummarySheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	return f.WriteToBuffer()
}

func optionalId(id *int) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(*id)
}
