package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/providers"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("momo_backend/workflow")

// maxApplyAttempts bounds reload-and-retry after losing a compare-and-swap.
const maxApplyAttempts = 3

// AmountMismatchError is a provider report that disagrees with the transaction's amount or currency.
type AmountMismatchError struct {
	TransactionId    int
	ExpectedAmount   decimal.Decimal
	ReportedAmount   decimal.NullDecimal
	ExpectedCurrency string
	ReportedCurrency string
}

func (e *AmountMismatchError) Error() string {
	reported := "-"
	if e.ReportedAmount.Valid {
		reported = e.ReportedAmount.Decimal.String()
	}
	return fmt.Sprintf("transaction %d: provider reported %s %s, expected %s %s",
		e.TransactionId, reported, e.ReportedCurrency, e.ExpectedAmount.String(), e.ExpectedCurrency)
}

// StatusUpdate is a provider-reported status from a webhook, a poll or an initiation response.
type StatusUpdate struct {
	Status            models.TransactionStatus
	ProviderStatus    string
	ProviderReference string
	Amount            decimal.NullDecimal
	Currency          string
	Reason            string
	Payload           any
}

// checkReportedAmount rejects a completion whose reported amount or currency differs from the transaction.
func checkReportedAmount(txn *models.MomoTransaction, upd StatusUpdate) error {
	if upd.Status != models.TransactionStatusCompleted {
		return nil
	}
	mismatch := false
	if upd.Amount.Valid && !upd.Amount.Decimal.Equal(txn.Amount) {
		mismatch = true
	}
	if upd.Currency != "" && !strings.EqualFold(upd.Currency, txn.Currency) {
		mismatch = true
	}
	if !mismatch {
		return nil
	}
	return &AmountMismatchError{
		TransactionId:    txn.ID,
		ExpectedAmount:   txn.Amount,
		ReportedAmount:   upd.Amount,
		ExpectedCurrency: txn.Currency,
		ReportedCurrency: upd.Currency,
	}
}

func reloadTransaction(ctx context.Context, txn *models.MomoTransaction) error {
	fresh, err := models.GetMomoTransaction(ctx, txn.ID)
	if err != nil {
		return err
	}
	*txn = *fresh
	return nil
}

// ApplyProviderStatus drives txn toward the provider-reported status through the state machine.
// It returns true when the transaction moved. A pending transaction reported completed passes
// through processing. A completion with a mismatched amount flags the transaction for review
// and returns *AmountMismatchError.
func ApplyProviderStatus(ctx context.Context, provider *models.MomoProvider, txn *models.MomoTransaction, upd StatusUpdate, source models.EventSource, now time.Time) (bool, error) {
	if !upd.Status.IsValid() {
		return false, nil
	}
	if err := checkReportedAmount(txn, upd); err != nil {
		if flagErr := models.FlagTransactionForReview(ctx, txn, err.Error(), source); flagErr != nil {
			return false, flagErr
		}
		return false, err
	}
	settings := provider.Settings(config.GetMomoDefaults())

	moved := false
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		if txn.Status == upd.Status || upd.Status == models.TransactionStatusPending {
			return moved, nil
		}
		if txn.Status.IsTerminal() {
			return moved, &models.TerminalStateViolation{TransactionId: txn.ID, Current: txn.Status, Attempted: upd.Status}
		}
		req := models.TransitionRequest{
			To:                upd.Status,
			Source:            source,
			ProviderReference: upd.ProviderReference,
			ProviderStatus:    upd.ProviderStatus,
			At:                now,
			Payload:           upd.Payload,
		}
		if txn.Status == models.TransactionStatusPending && upd.Status == models.TransactionStatusCompleted {
			req.To = models.TransactionStatusProcessing
			req.Note = "implied by provider completion"
		}
		if req.To == models.TransactionStatusProcessing {
			next := now.Add(settings.ProcessingTimeout)
			req.NextRetryAt = &next
		}
		if req.To == models.TransactionStatusFailed || req.To == models.TransactionStatusCancelled {
			req.FailureReason = upd.Reason
		}
		err := models.TransitionTransaction(ctx, txn, req)
		if errors.Is(err, models.ErrConcurrentTransition) {
			if err := reloadTransaction(ctx, txn); err != nil {
				return moved, err
			}
			continue
		}
		if err != nil {
			return moved, err
		}
		moved = true
		if req.To != upd.Status {
			// Second hop of pending -> processing -> completed.
			attempt--
		}
	}
	return moved, models.ErrConcurrentTransition
}

// PaymentWorkflow initiates, approves, cancels and polls MoMo transactions.
type PaymentWorkflow struct {
	Registry *providers.Registry
	Webhooks *WebhookIngestor
	Logger   *logrus.Logger
	Now      func() time.Time
}

func NewPaymentWorkflow(registry *providers.Registry, logger *logrus.Logger) *PaymentWorkflow {
	w := &PaymentWorkflow{Registry: registry, Logger: logger}
	w.Webhooks = &WebhookIngestor{Registry: registry, Logger: logger}
	return w
}

func (w *PaymentWorkflow) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *PaymentWorkflow) log(txn *models.MomoTransaction) *logrus.Entry {
	return w.Logger.WithFields(logrus.Fields{
		"field":          "PaymentWorkflow",
		"company_id":     txn.CompanyId,
		"transaction_id": txn.ID,
		"provider_id":    txn.ProviderId,
		"reference":      txn.Reference,
	})
}

// Initiate validates and records a transaction, then submits it unless it awaits approval.
// A non-retryable provider rejection returns the failed transaction together with the *models.ProviderError.
func (w *PaymentWorkflow) Initiate(ctx context.Context, input *models.NewMomoTransaction) (*models.MomoTransaction, error) {
	ctx, span := tracer.Start(ctx, "PaymentWorkflow.Initiate")
	defer span.End()

	provider, err := models.GetMomoProvider(ctx, input.ProviderId)
	if err != nil {
		return nil, err
	}
	if !provider.Active() {
		return nil, models.ErrProviderInactive
	}
	if err := providers.CheckMsisdnProvider(input.Msisdn, provider); err != nil {
		return nil, err
	}
	txn, err := models.CreateMomoTransaction(ctx, provider, input, w.now())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("transaction_id", txn.ID), attribute.String("provider", string(provider.Code)))
	if txn.RequiresApproval {
		w.log(txn).Info("transaction awaits approval")
		return txn, nil
	}
	txn, err = w.send(ctx, provider, txn, models.EventSourceAPI)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return txn, err
}

// InitiateWithKey makes client retries of the same request safe: a key that already
// produced a transaction returns that transaction.
func (w *PaymentWorkflow) InitiateWithKey(ctx context.Context, key string, input *models.NewMomoTransaction) (*models.MomoTransaction, error) {
	if key == "" {
		return w.Initiate(ctx, input)
	}
	companyId, err := utils.RequireCompanyId(ctx)
	if err != nil {
		return nil, err
	}
	if input.Reference == "" {
		input.Reference = key
	}
	db := config.GetDB().WithContext(ctx)
	skip, err := BeginIdempotency(db, companyId, models.IdempotencyHandlerInitiateAPI, key)
	if err != nil {
		return nil, err
	}
	if skip {
		return models.GetMomoTransactionByReference(ctx, input.Reference)
	}
	txn, err := w.Initiate(ctx, input)
	if txn == nil && err != nil {
		_ = MarkIdempotencyFailed(db, companyId, models.IdempotencyHandlerInitiateAPI, key, err)
		return nil, err
	}
	if markErr := MarkIdempotencySucceeded(db, companyId, models.IdempotencyHandlerInitiateAPI, key); markErr != nil {
		w.log(txn).WithError(markErr).Warn("failed to mark initiate idempotency key")
	}
	return txn, err
}

// Approve stamps the approver and submits a payout that was held for approval.
func (w *PaymentWorkflow) Approve(ctx context.Context, id int) (*models.MomoTransaction, error) {
	if !hasRole(ctx, models.UserRoleApprover, models.UserRoleAdmin) {
		return nil, models.ErrForbidden
	}
	txn, err := models.GetMomoTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	provider, err := models.GetMomoProvider(ctx, txn.ProviderId)
	if err != nil {
		return nil, err
	}
	if !provider.Active() {
		return nil, models.ErrProviderInactive
	}
	if err := models.ApproveTransaction(ctx, txn, w.now()); err != nil {
		return nil, err
	}
	return w.send(ctx, provider, txn, models.EventSourceOperator)
}

// Cancel stops a transaction the provider has not accepted yet.
func (w *PaymentWorkflow) Cancel(ctx context.Context, id int, reason string) (*models.MomoTransaction, error) {
	txn, err := models.GetMomoTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status == models.TransactionStatusProcessing {
		return nil, models.NewValidationError("status", "transaction was already submitted to the provider")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by operator"
	}
	err = models.TransitionTransaction(ctx, txn, models.TransitionRequest{
		To:            models.TransactionStatusCancelled,
		Source:        models.EventSourceOperator,
		Note:          reason,
		FailureReason: reason,
		At:            w.now(),
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// CheckStatus polls the provider and applies the answer.
func (w *PaymentWorkflow) CheckStatus(ctx context.Context, id int) (*models.MomoTransaction, error) {
	ctx, span := tracer.Start(ctx, "PaymentWorkflow.CheckStatus")
	defer span.End()

	txn, err := models.GetMomoTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return txn, nil
	}
	provider, err := models.GetMomoProvider(ctx, txn.ProviderId)
	if err != nil {
		return nil, err
	}
	if _, err := w.poll(ctx, provider, txn, models.EventSourcePoll); err != nil {
		return txn, err
	}
	return txn, nil
}

// send submits txn to the provider. Retryable failures are scheduled, exhausted ones
// fail with needs_review, rejected ones fail and return the provider error.
func (w *PaymentWorkflow) send(ctx context.Context, provider *models.MomoProvider, txn *models.MomoTransaction, source models.EventSource) (*models.MomoTransaction, error) {
	gateway, err := w.Registry.Get(provider.Code)
	if err != nil {
		return txn, err
	}
	result, err := providers.Initiate(ctx, gateway, provider, providers.PaymentRequest{
		Reference:   txn.Reference,
		RequestId:   txn.ProviderRequestId,
		Type:        txn.Type,
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		Msisdn:      txn.Msisdn,
		Description: txn.Description,
	})
	now := w.now()
	if err != nil {
		return w.handleSendError(ctx, provider, txn, err, source, now)
	}

	status := result.Status
	if status == "" || status == models.TransactionStatusPending {
		status = models.TransactionStatusProcessing
	}
	_, err = ApplyProviderStatus(ctx, provider, txn, StatusUpdate{
		Status:            status,
		ProviderStatus:    result.ProviderStatus,
		ProviderReference: result.ProviderReference,
		Reason:            result.Reason,
		Payload:           map[string]any{"provider_reference": result.ProviderReference, "provider_status": result.ProviderStatus},
	}, source, now)
	if models.IsTerminalStateViolation(err) {
		// A webhook finished the transaction before the initiation response was recorded.
		err = reloadTransaction(ctx, txn)
	}
	if err != nil {
		return txn, err
	}
	w.log(txn).WithField("status", txn.Status).Info("transaction submitted to provider")

	if w.Webhooks != nil && !txn.Status.IsTerminal() {
		if _, replayErr := w.Webhooks.ReplayPending(ctx, provider, txn); replayErr != nil {
			w.log(txn).WithError(replayErr).Warn("replaying parked webhooks failed")
		}
	}
	return txn, nil
}

func (w *PaymentWorkflow) handleSendError(ctx context.Context, provider *models.MomoProvider, txn *models.MomoTransaction, sendErr error, source models.EventSource, now time.Time) (*models.MomoTransaction, error) {
	var providerErr *models.ProviderError
	if !errors.As(sendErr, &providerErr) {
		w.log(txn).WithError(sendErr).Error("initiation failed before reaching the provider")
		return txn, sendErr
	}
	settings := provider.Settings(config.GetMomoDefaults())

	if providerErr.Retryable {
		if txn.RetryCount >= settings.MaxRetryAttempts {
			return txn, w.giveUp(ctx, txn, sendErr.Error(), source, now)
		}
		next := now.Add(settings.RetryDelay)
		if err := models.ScheduleTransactionRetry(ctx, txn, next, sendErr.Error(), source); err != nil {
			return txn, err
		}
		w.log(txn).WithFields(logrus.Fields{"retry_count": txn.RetryCount, "next_retry_at": next}).
			Warn("provider unavailable, retry scheduled")
		return txn, nil
	}

	err := models.TransitionTransaction(ctx, txn, models.TransitionRequest{
		To:             models.TransactionStatusFailed,
		Source:         source,
		FailureReason:  sendErr.Error(),
		ProviderStatus: providerErr.Code,
		At:             now,
	})
	if err != nil && !models.IsTerminalStateViolation(err) {
		return txn, err
	}
	w.log(txn).WithError(sendErr).Warn("provider rejected transaction")
	return txn, sendErr
}

// giveUp fails a transaction whose retries are exhausted and surfaces it for review.
func (w *PaymentWorkflow) giveUp(ctx context.Context, txn *models.MomoTransaction, lastError string, source models.EventSource, now time.Time) error {
	reason := "retry attempts exhausted"
	if lastError != "" {
		reason += ": " + lastError
	}
	err := models.TransitionTransaction(ctx, txn, models.TransitionRequest{
		To:            models.TransactionStatusFailed,
		Source:        source,
		FailureReason: reason,
		NeedsReview:   true,
		ReviewReason:  "retry attempts exhausted",
		At:            now,
	})
	if err != nil {
		return err
	}
	w.log(txn).Warn(reason)
	return nil
}

// poll queries the provider, records the answer on the audit trail and applies it.
func (w *PaymentWorkflow) poll(ctx context.Context, provider *models.MomoProvider, txn *models.MomoTransaction, source models.EventSource) (*providers.StatusResult, error) {
	gateway, err := w.Registry.Get(provider.Code)
	if err != nil {
		return nil, err
	}
	result, err := gateway.QueryStatus(ctx, provider, txn.Type, txn.Reference, txn.ProviderRef())
	if err != nil {
		return nil, err
	}
	if err := models.RecordTransactionNote(ctx, txn.ID, models.TransactionEventSpec{
		EventType:  models.TransactionEventStatusPolled,
		FromStatus: txn.Status,
		ToStatus:   txn.Status,
		Source:     source,
		Note:       result.ProviderStatus,
		Payload:    map[string]any{"status": result.Status, "provider_reference": result.ProviderReference},
	}); err != nil {
		return nil, err
	}
	_, err = ApplyProviderStatus(ctx, provider, txn, StatusUpdate{
		Status:            result.Status,
		ProviderStatus:    result.ProviderStatus,
		ProviderReference: result.ProviderReference,
		Amount:            result.Amount,
		Currency:          result.Currency,
		Reason:            result.Reason,
	}, source, w.now())
	if models.IsTerminalStateViolation(err) {
		err = reloadTransaction(ctx, txn)
	}
	return result, err
}

// expire closes a pending transaction whose window passed without a provider acceptance.
func (w *PaymentWorkflow) expire(ctx context.Context, txn *models.MomoTransaction, source models.EventSource) error {
	err := models.TransitionTransaction(ctx, txn, models.TransitionRequest{
		To:            models.TransactionStatusExpired,
		Source:        source,
		FailureReason: "expired before the provider accepted it",
		At:            w.now(),
	})
	if err == nil {
		w.log(txn).Info("transaction expired")
	}
	return err
}

func hasRole(ctx context.Context, roles ...string) bool {
	role, ok := utils.GetUserRoleFromContext(ctx)
	if !ok {
		return false
	}
	for _, r := range roles {
		if strings.EqualFold(role, r) {
			return true
		}
	}
	return false
}
