package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerProvider() *MomoProvider {
	return &MomoProvider{CashAccountId: 10, FeeAccountId: 20, ReceivableAccountId: 30}
}

func TestBuildLedgerLinesPayment(t *testing.T) {
	txn := &MomoTransaction{
		Type: TransactionTypePayment, Status: TransactionStatusCompleted,
		Amount: dec("100"), FeeAmount: dec("2"), NetAmount: dec("98"),
	}
	lines, err := BuildLedgerLines(txn, ledgerProvider())
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Equal(t, 10, lines[0].AccountId)
	assert.Equal(t, EntryDirectionDebit, lines[0].Direction)
	assert.True(t, dec("98").Equal(lines[0].Amount))
	assert.Equal(t, EntryDirectionDebit, lines[1].Direction)
	assert.Equal(t, 20, lines[1].AccountId)
	assert.Equal(t, EntryDirectionCredit, lines[2].Direction)
	assert.Equal(t, 30, lines[2].AccountId)
	assert.True(t, dec("100").Equal(lines[2].Amount))
	assert.True(t, LedgerLinesBalanced(lines))
}

func TestBuildLedgerLinesPayout(t *testing.T) {
	txn := &MomoTransaction{
		Type: TransactionTypePayout, Status: TransactionStatusCompleted,
		Amount: dec("500"), FeeAmount: dec("5"), NetAmount: dec("495"),
	}
	lines, err := BuildLedgerLines(txn, ledgerProvider())
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, 30, lines[0].AccountId)
	assert.Equal(t, EntryDirectionDebit, lines[0].Direction)
	assert.Equal(t, 10, lines[2].AccountId)
	assert.Equal(t, EntryDirectionCredit, lines[2].Direction)
	assert.True(t, dec("500").Equal(lines[2].Amount))
	assert.True(t, LedgerLinesBalanced(lines))
}

func TestBuildLedgerLinesRefundOmitsZeroFee(t *testing.T) {
	txn := &MomoTransaction{
		Type: TransactionTypeRefund, Status: TransactionStatusCompleted,
		Amount: dec("40"), NetAmount: dec("40"),
	}
	p := ledgerProvider()
	p.FeeAccountId = 0
	lines, err := BuildLedgerLines(txn, p)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, LedgerLinesBalanced(lines))
}

func TestBuildLedgerLinesSkipsUnfinished(t *testing.T) {
	txn := &MomoTransaction{Type: TransactionTypePayment, Status: TransactionStatusFailed, Amount: dec("1"), NetAmount: dec("1")}
	lines, err := BuildLedgerLines(txn, ledgerProvider())
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestBuildLedgerLinesRequiresAccounts(t *testing.T) {
	txn := &MomoTransaction{Type: TransactionTypePayment, Status: TransactionStatusCompleted, Amount: dec("1"), FeeAmount: dec("0.1"), NetAmount: dec("0.9")}
	_, err := BuildLedgerLines(txn, &MomoProvider{CashAccountId: 1, ReceivableAccountId: 2})
	assert.ErrorIs(t, err, ErrLedgerAccountsMissing)
	_, err = BuildLedgerLines(txn, &MomoProvider{})
	assert.ErrorIs(t, err, ErrLedgerAccountsMissing)
}

func TestReconciliationDifference(t *testing.T) {
	r := &BankReconciliation{StatementClosingBalance: dec("1050.25"), BookClosingBalance: dec("1000")}
	assert.NoError(t, r.BeforeSave(nil))
	assert.True(t, dec("50.25").Equal(r.Difference))

	r.BookClosingBalance = dec("1100")
	assert.NoError(t, r.BeforeSave(nil))
	assert.True(t, dec("-49.75").Equal(r.Difference))
}
