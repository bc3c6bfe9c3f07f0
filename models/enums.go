package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

type ProviderCode string

const (
	ProviderCodeMTN    ProviderCode = "MTN"
	ProviderCodeAirtel ProviderCode = "AIRTEL"
	ProviderCodeZamtel ProviderCode = "ZAMTEL"
)

func (p ProviderCode) IsValid() bool {
	switch p {
	case ProviderCodeMTN, ProviderCodeAirtel, ProviderCodeZamtel:
		return true
	}
	return false
}

func ParseProviderCode(s string) (ProviderCode, error) {
	p := ProviderCode(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid provider code %q", s)
	}
	return p, nil
}

type ProviderEnvironment string

const (
	ProviderEnvironmentSandbox    ProviderEnvironment = "sandbox"
	ProviderEnvironmentProduction ProviderEnvironment = "production"
)

// TransactionStatus is the closed set of MoMo transaction states.
// Allowed moves live in AllowedTransactionTransitions.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
	TransactionStatusExpired    TransactionStatus = "expired"
)

func (s TransactionStatus) IsValid() bool {
	_, ok := AllowedTransactionTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is permitted.
func (s TransactionStatus) IsTerminal() bool {
	next, ok := AllowedTransactionTransitions[s]
	return ok && len(next) == 0
}

// Scan rejects values outside the enum so a bad row never enters the state machine.
func (s *TransactionStatus) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return errors.New("transaction status must be a string")
	}
	st := TransactionStatus(raw)
	if !st.IsValid() {
		return fmt.Errorf("invalid transaction status %q", raw)
	}
	*s = st
	return nil
}

func (s TransactionStatus) Value() (driver.Value, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid transaction status %q", string(s))
	}
	return string(s), nil
}

type TransactionType string

const (
	TransactionTypePayment  TransactionType = "payment"
	TransactionTypePayout   TransactionType = "payout"
	TransactionTypeRefund   TransactionType = "refund"
	TransactionTypeTransfer TransactionType = "transfer"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypePayout, TransactionTypeRefund, TransactionTypeTransfer:
		return true
	}
	return false
}

// IsInbound is true when money flows from the customer wallet to the company.
func (t TransactionType) IsInbound() bool {
	return t == TransactionTypePayment
}

type WebhookStatus string

const (
	WebhookStatusReceived           WebhookStatus = "received"
	WebhookStatusProcessed          WebhookStatus = "processed"
	WebhookStatusFailed             WebhookStatus = "failed"
	WebhookStatusIgnored            WebhookStatus = "ignored"
	WebhookStatusPendingCorrelation WebhookStatus = "pending_correlation"
)

type ReconciliationStatus string

const (
	ReconciliationStatusDraft      ReconciliationStatus = "draft"
	ReconciliationStatusInProgress ReconciliationStatus = "in_progress"
	ReconciliationStatusCompleted  ReconciliationStatus = "completed"
	ReconciliationStatusApproved   ReconciliationStatus = "approved"
)

type MatchType string

const (
	MatchTypeAuto   MatchType = "auto"
	MatchTypeManual MatchType = "manual"
)

// MatchRule records which matcher pass produced a pairing.
type MatchRule string

const (
	MatchRuleReference    MatchRule = "reference"
	MatchRuleAmountDate   MatchRule = "amount_date"
	MatchRuleForceMatch   MatchRule = "force_match"
	MatchRuleForceUnmatch MatchRule = "force_unmatch"
)

type ReconciliationActionType string

const (
	ReconciliationActionStart        ReconciliationActionType = "start"
	ReconciliationActionImport       ReconciliationActionType = "import_statement"
	ReconciliationActionRun          ReconciliationActionType = "run"
	ReconciliationActionForceMatch   ReconciliationActionType = "force_match"
	ReconciliationActionForceUnmatch ReconciliationActionType = "force_unmatch"
	ReconciliationActionComplete     ReconciliationActionType = "complete"
	ReconciliationActionApprove      ReconciliationActionType = "approve"
	ReconciliationActionReopen       ReconciliationActionType = "reopen"
)

type EntryDirection string

const (
	EntryDirectionCredit EntryDirection = "credit"
	EntryDirectionDebit  EntryDirection = "debit"
)

// Operator roles carried in the bearer token.
const (
	UserRoleAdmin    = "admin"
	UserRoleOperator = "operator"
	UserRoleApprover = "approver"
)
