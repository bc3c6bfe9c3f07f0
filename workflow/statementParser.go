package workflow

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Header aliases accepted in statement files, compared lower-cased with spaces and
// dashes folded to underscores.
var statementColumns = map[string][]string{
	"date":        {"date", "transaction_date", "txn_date", "value_date", "posted_at", "timestamp"},
	"reference":   {"reference", "ref", "transaction_id", "txn_id", "external_id", "financial_transaction_id", "receipt_no"},
	"description": {"description", "details", "narration", "memo"},
	"amount":      {"amount", "value"},
	"direction":   {"direction", "type", "dr_cr", "cr_dr", "entry_type"},
	"credit":      {"credit", "credit_amount", "money_in", "in"},
	"debit":       {"debit", "debit_amount", "money_out", "out"},
	"balance":     {"balance", "running_balance", "closing_balance"},
}

var statementDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"01-02-06",
	"2-Jan-2006",
	"02 Jan 2006",
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_", "/", "_", ".", "").Replace(h)
	return strings.Trim(h, "_")
}

func parseStatementDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range statementDateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

func parseDirection(raw string) (models.EntryDirection, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cr", "credit", "c", "in", "deposit", "collection", "received":
		return models.EntryDirectionCredit, true
	case "dr", "debit", "d", "out", "withdrawal", "disbursement", "payout", "sent":
		return models.EntryDirectionDebit, true
	}
	return "", false
}

// ParseStatementFile reads a CSV or XLSX provider statement into unsaved statement lines.
// The first row is the header; blank rows are skipped.
func ParseStatementFile(filename string, data []byte) ([]*models.ReconciliationStatementLine, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		rows, err = readCsvRows(data)
	case ".xlsx":
		rows, err = readXlsxRows(data)
	default:
		return nil, models.NewValidationError("file", "unsupported statement format %q: use .csv or .xlsx", filepath.Ext(filename))
	}
	if err != nil {
		return nil, models.NewValidationError("file", "%v", err)
	}
	return parseStatementRows(filepath.Base(filename), rows)
}

func readCsvRows(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXlsxRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %v", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet: %v", err)
	}
	return rows, nil
}

func parseStatementRows(source string, rows [][]string) ([]*models.ReconciliationStatementLine, error) {
	if len(rows) < 2 {
		return nil, models.NewValidationError("file", "statement has no lines")
	}
	index := map[string]int{}
	for i, h := range rows[0] {
		name := normalizeHeader(h)
		for column, aliases := range statementColumns {
			for _, alias := range aliases {
				if name == alias {
					if _, seen := index[column]; !seen {
						index[column] = i
					}
				}
			}
		}
	}
	if _, ok := index["date"]; !ok {
		return nil, models.NewValidationError("file", "statement header has no date column")
	}
	_, hasAmount := index["amount"]
	_, hasCredit := index["credit"]
	_, hasDebit := index["debit"]
	if !hasAmount && !hasCredit && !hasDebit {
		return nil, models.NewValidationError("file", "statement header has no amount, credit or debit column")
	}

	cell := func(row []string, column string) string {
		i, ok := index[column]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	lines := make([]*models.ReconciliationStatementLine, 0, len(rows)-1)
	for n, row := range rows[1:] {
		rowNo := n + 2
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		date, err := parseStatementDate(cell(row, "date"))
		if err != nil {
			return nil, models.NewValidationError("file", "row %d: %v", rowNo, err)
		}
		amount, direction, err := rowAmount(cell(row, "amount"), cell(row, "credit"), cell(row, "debit"), cell(row, "direction"))
		if err != nil {
			return nil, models.NewValidationError("file", "row %d: %v", rowNo, err)
		}
		line := &models.ReconciliationStatementLine{
			TransactionDate: date,
			Reference:       cell(row, "reference"),
			Description:     truncate(cell(row, "description"), 255),
			Amount:          amount,
			Direction:       direction,
			SourceFile:      source,
		}
		if raw := cell(row, "balance"); raw != "" {
			balance, err := utils.ParseDecimal(raw)
			if err != nil {
				return nil, models.NewValidationError("file", "row %d: balance %q: %v", rowNo, raw, err)
			}
			line.Balance = decimal.NullDecimal{Decimal: balance, Valid: true}
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, models.NewValidationError("file", "statement has no lines")
	}
	return lines, nil
}

// rowAmount resolves a positive amount and its direction from either a signed amount column
// (with an optional direction column) or separate credit/debit columns.
func rowAmount(amountRaw, creditRaw, debitRaw, directionRaw string) (decimal.Decimal, models.EntryDirection, error) {
	if amountRaw != "" {
		amount, err := utils.ParseDecimal(amountRaw)
		if err != nil {
			return decimal.Zero, "", fmt.Errorf("amount %q: %v", amountRaw, err)
		}
		direction := models.EntryDirectionCredit
		if amount.IsNegative() {
			direction = models.EntryDirectionDebit
		}
		if directionRaw != "" {
			d, ok := parseDirection(directionRaw)
			if !ok {
				return decimal.Zero, "", fmt.Errorf("unknown direction %q", directionRaw)
			}
			direction = d
		}
		if amount.IsZero() {
			return decimal.Zero, "", fmt.Errorf("amount is zero")
		}
		return amount.Abs(), direction, nil
	}
	for _, side := range []struct {
		raw       string
		direction models.EntryDirection
	}{
		{creditRaw, models.EntryDirectionCredit},
		{debitRaw, models.EntryDirectionDebit},
	} {
		if side.raw == "" {
			continue
		}
		amount, err := utils.ParseDecimal(side.raw)
		if err != nil {
			return decimal.Zero, "", fmt.Errorf("%s %q: %v", side.direction, side.raw, err)
		}
		if !amount.IsZero() {
			return amount.Abs(), side.direction, nil
		}
	}
	return decimal.Zero, "", fmt.Errorf("no amount")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
