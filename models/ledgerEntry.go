package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrLedgerAccountsMissing = errors.New("momo provider has no ledger accounts configured")

// MomoLedgerEntry is one double-entry line posted for a completed transaction.
type MomoLedgerEntry struct {
	ID            int             `gorm:"primary_key" json:"id"`
	CompanyId     string          `gorm:"size:64;not null;index;index:idx_momo_ledger_account,priority:1" json:"company_id"`
	TransactionId int             `gorm:"not null;index:uniq_momo_ledger_line,unique,priority:1" json:"transaction_id"`
	LineNo        int             `gorm:"not null;index:uniq_momo_ledger_line,unique,priority:2" json:"line_no"`
	AccountId     int             `gorm:"not null;index:idx_momo_ledger_account,priority:2" json:"account_id"`
	Direction     EntryDirection  `gorm:"size:10;not null" json:"direction"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency      string          `gorm:"size:3;not null" json:"currency"`
	EntryDate     time.Time       `gorm:"not null;index:idx_momo_ledger_account,priority:3" json:"entry_date"`
	Description   string          `gorm:"size:255" json:"description"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// LedgerLine is an unposted debit or credit.
type LedgerLine struct {
	AccountId int
	Direction EntryDirection
	Amount    decimal.Decimal
}

// BuildLedgerLines returns the balanced posting for a completed transaction.
//
//	payment:          Dr cash net, Dr fee fee, Cr receivable amount
//	payout, transfer: Dr receivable net, Dr fee fee, Cr cash amount
//	refund:           Dr receivable amount, Cr cash amount
//
// Zero lines are omitted. Non-completed transactions post nothing.
func BuildLedgerLines(txn *MomoTransaction, provider *MomoProvider) ([]LedgerLine, error) {
	if txn.Status != TransactionStatusCompleted {
		return nil, nil
	}
	if provider.CashAccountId == 0 || provider.ReceivableAccountId == 0 {
		return nil, ErrLedgerAccountsMissing
	}
	if txn.FeeAmount.IsPositive() && provider.FeeAccountId == 0 {
		return nil, ErrLedgerAccountsMissing
	}
	var lines []LedgerLine
	add := func(account int, dir EntryDirection, amount decimal.Decimal) {
		if amount.IsPositive() {
			lines = append(lines, LedgerLine{AccountId: account, Direction: dir, Amount: amount})
		}
	}
	if txn.Type.IsInbound() {
		add(provider.CashAccountId, EntryDirectionDebit, txn.NetAmount)
		add(provider.FeeAccountId, EntryDirectionDebit, txn.FeeAmount)
		add(provider.ReceivableAccountId, EntryDirectionCredit, txn.Amount)
	} else {
		add(provider.ReceivableAccountId, EntryDirectionDebit, txn.NetAmount)
		add(provider.FeeAccountId, EntryDirectionDebit, txn.FeeAmount)
		add(provider.CashAccountId, EntryDirectionCredit, txn.Amount)
	}
	return lines, nil
}

// LedgerLinesBalanced reports whether debits equal credits.
func LedgerLinesBalanced(lines []LedgerLine) bool {
	total := decimal.Zero
	for _, l := range lines {
		if l.Direction == EntryDirectionDebit {
			total = total.Add(l.Amount)
		} else {
			total = total.Sub(l.Amount)
		}
	}
	return total.IsZero()
}

// PostMomoLedgerEntries writes the lines of txn inside tx. A transaction already posted is skipped.
func PostMomoLedgerEntries(tx *gorm.DB, txn *MomoTransaction, provider *MomoProvider) (bool, error) {
	lines, err := BuildLedgerLines(txn, provider)
	if err != nil || len(lines) == 0 {
		return false, err
	}
	if !LedgerLinesBalanced(lines) {
		return false, errors.New("unbalanced momo ledger posting")
	}
	var existing int64
	if err := tx.Model(&MomoLedgerEntry{}).
		Where("company_id = ? AND transaction_id = ?", txn.CompanyId, txn.ID).
		Count(&existing).Error; err != nil {
		return false, err
	}
	if existing > 0 {
		return false, nil
	}
	entryDate := txn.InitiatedAt
	if txn.CompletedAt != nil {
		entryDate = *txn.CompletedAt
	}
	entries := make([]MomoLedgerEntry, 0, len(lines))
	for i, l := range lines {
		entries = append(entries, MomoLedgerEntry{
			CompanyId:     txn.CompanyId,
			TransactionId: txn.ID,
			LineNo:        i + 1,
			AccountId:     l.AccountId,
			Direction:     l.Direction,
			Amount:        l.Amount,
			Currency:      txn.Currency,
			EntryDate:     entryDate,
			Description:   string(txn.Type) + " " + txn.Reference,
		})
	}
	if err := tx.Create(&entries).Error; err != nil {
		return false, err
	}
	return true, nil
}

func GetLedgerEntriesForTransaction(ctx context.Context, transactionId int) ([]*MomoLedgerEntry, error) {
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	var entries []*MomoLedgerEntry
	err = config.GetDB().WithContext(ctx).
		Where("company_id = ? AND transaction_id = ?", companyId, transactionId).
		Order("line_no ASC").Find(&entries).Error
	return entries, err
}

// accountBalanceBefore is sum(debit) - sum(credit) for entries dated before at.
func accountBalanceBefore(ctx context.Context, companyId string, accountId int, at time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := config.GetDB().WithContext(ctx).Model(&MomoLedgerEntry{}).
		Where("company_id = ? AND account_id = ? AND entry_date < ?", companyId, accountId, at).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0)", EntryDirectionDebit).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
