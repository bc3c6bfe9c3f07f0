package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConcurrentTransition = errors.New("transaction was modified concurrently")
	ErrProviderInactive     = errors.New("momo provider is inactive")
	ErrApprovalRequired     = errors.New("transaction requires approval")
	ErrForbidden            = errors.New("operation not permitted for this user")
)

// ValidationError is a malformed request, rejected before any state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// SignatureError is a webhook that failed verification. It is logged, never applied.
type SignatureError struct {
	ProviderId int
	Reason     string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("webhook signature rejected for provider %d: %s", e.ProviderId, e.Reason)
}

// DuplicateError is a webhook delivery that was already handled.
type DuplicateError struct {
	ProviderId int
	WebhookId  string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate webhook %s for provider %d", e.WebhookId, e.ProviderId)
}

// ProviderError is an upstream API failure. Only Retryable ones are retried automatically.
type ProviderError struct {
	Provider   ProviderCode
	Operation  string
	HTTPStatus int
	Code       string
	Message    string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.Provider, e.Operation)
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " (http %d)", e.HTTPStatus)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TerminalStateViolation is an attempted transition on a finished transaction.
type TerminalStateViolation struct {
	TransactionId int
	Current       TransactionStatus
	Attempted     TransactionStatus
}

func (e *TerminalStateViolation) Error() string {
	return fmt.Sprintf("transaction %d is %s; cannot move to %s", e.TransactionId, e.Current, e.Attempted)
}

// InvalidTransitionError is a move the transition table does not allow from a non-terminal state.
type InvalidTransitionError struct {
	TransactionId int
	From          TransactionStatus
	To            TransactionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transaction %d: transition %s -> %s is not allowed", e.TransactionId, e.From, e.To)
}

// IsRetryable reports whether err should be handed to the retry scheduler.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsTerminalStateViolation(err error) bool {
	var tv *TerminalStateViolation
	return errors.As(err, &tv)
}
