package workflow

import (
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/shopspring/decimal"
)

// BookItem is a completed transaction as it should appear on the provider statement.
type BookItem struct {
	ID                int
	Reference         string
	ProviderReference string
	Amount            decimal.Decimal
	Direction         models.EntryDirection
	Date              time.Time
}

// StatementItem is one imported statement line.
type StatementItem struct {
	ID        int
	Reference string
	Amount    decimal.Decimal
	Direction models.EntryDirection
	Date      time.Time
}

type MatchInput struct {
	Book              []BookItem
	Statement         []StatementItem
	AmountTolerance   decimal.Decimal
	DateToleranceDays int
}

type MatchPair struct {
	TransactionId      int
	StatementLineId    int
	Rule               models.MatchRule
	AmountDifference   decimal.Decimal
	DateDifferenceDays int
}

type MatchResult struct {
	Matched           []MatchPair
	UnmatchedBank     []int
	UnmatchedBook     []int
	BookTotal         decimal.Decimal
	StatementTotal    decimal.Decimal
	MatchedDifference decimal.Decimal
	Difference        decimal.Decimal
}

// bookItemFromTransaction places a transaction on the statement side: money in is a credit
// of the net amount, money out a debit of the gross amount.
func bookItemFromTransaction(txn *models.MomoTransaction) BookItem {
	item := BookItem{
		ID:                txn.ID,
		Reference:         txn.Reference,
		ProviderReference: txn.ProviderRef(),
		Amount:            txn.Amount,
		Direction:         models.EntryDirectionDebit,
		Date:              txn.InitiatedAt,
	}
	if txn.CompletedAt != nil {
		item.Date = *txn.CompletedAt
	}
	if txn.Type.IsInbound() {
		item.Amount = txn.NetAmount
		item.Direction = models.EntryDirectionCredit
	}
	return item
}

func statementItemFromLine(line *models.ReconciliationStatementLine) StatementItem {
	return StatementItem{
		ID:        line.ID,
		Reference: line.Reference,
		Amount:    line.Amount,
		Direction: line.Direction,
		Date:      line.TransactionDate,
	}
}

func signed(amount decimal.Decimal, direction models.EntryDirection) decimal.Decimal {
	if direction == models.EntryDirectionDebit {
		return amount.Neg()
	}
	return amount
}

// dayDiff is the absolute number of calendar days between a and b in UTC.
func dayDiff(a, b time.Time) int {
	da := time.Date(a.UTC().Year(), a.UTC().Month(), a.UTC().Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.UTC().Year(), b.UTC().Month(), b.UTC().Day(), 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

func referenceMatches(line StatementItem, book BookItem) bool {
	ref := strings.TrimSpace(line.Reference)
	if ref == "" {
		return false
	}
	if book.ProviderReference != "" && strings.EqualFold(ref, book.ProviderReference) {
		return true
	}
	return book.Reference != "" && strings.EqualFold(ref, book.Reference)
}

// MatchStatement pairs statement lines with book items. The result depends only on the input:
// lines are visited by (date, id), candidates are ranked by date distance then id.
// Pass 1 pairs on reference, pass 2 on amount and date within tolerance.
func MatchStatement(in MatchInput) MatchResult {
	lines := append([]StatementItem(nil), in.Statement...)
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].Date.Equal(lines[j].Date) {
			return lines[i].Date.Before(lines[j].Date)
		}
		return lines[i].ID < lines[j].ID
	})
	book := append([]BookItem(nil), in.Book...)
	sort.SliceStable(book, func(i, j int) bool { return book[i].ID < book[j].ID })

	tolerance := in.AmountTolerance.Abs()
	usedBook := make(map[int]bool, len(book))
	usedLine := make(map[int]bool, len(lines))
	result := MatchResult{
		BookTotal:         decimal.Zero,
		StatementTotal:    decimal.Zero,
		MatchedDifference: decimal.Zero,
	}

	eligible := func(line StatementItem, b BookItem) bool {
		if usedBook[b.ID] || b.Direction != line.Direction {
			return false
		}
		if line.Amount.Sub(b.Amount).Abs().GreaterThan(tolerance) {
			return false
		}
		return dayDiff(line.Date, b.Date) <= in.DateToleranceDays
	}

	pass := func(rule models.MatchRule, accept func(StatementItem, BookItem) bool) {
		for _, line := range lines {
			if usedLine[line.ID] {
				continue
			}
			best := -1
			bestDays := 0
			for i, b := range book {
				if !eligible(line, b) || !accept(line, b) {
					continue
				}
				days := dayDiff(line.Date, b.Date)
				// book is sorted by id, so the first at a given distance has the lowest id.
				if best == -1 || days < bestDays {
					best, bestDays = i, days
				}
			}
			if best == -1 {
				continue
			}
			b := book[best]
			usedBook[b.ID] = true
			usedLine[line.ID] = true
			diff := line.Amount.Sub(b.Amount)
			result.Matched = append(result.Matched, MatchPair{
				TransactionId:      b.ID,
				StatementLineId:    line.ID,
				Rule:               rule,
				AmountDifference:   diff,
				DateDifferenceDays: bestDays,
			})
			result.MatchedDifference = result.MatchedDifference.Add(signed(diff, line.Direction))
		}
	}
	pass(models.MatchRuleReference, referenceMatches)
	pass(models.MatchRuleAmountDate, func(StatementItem, BookItem) bool { return true })

	for _, line := range lines {
		result.StatementTotal = result.StatementTotal.Add(signed(line.Amount, line.Direction))
		if !usedLine[line.ID] {
			result.UnmatchedBank = append(result.UnmatchedBank, line.ID)
		}
	}
	for _, b := range book {
		result.BookTotal = result.BookTotal.Add(signed(b.Amount, b.Direction))
		if !usedBook[b.ID] {
			result.UnmatchedBook = append(result.UnmatchedBook, b.ID)
		}
	}
	result.Difference = result.StatementTotal.Sub(result.BookTotal)
	return result
}
