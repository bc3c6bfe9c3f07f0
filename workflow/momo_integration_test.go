package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/providers"
	"github.com/mmdatafocus/momo_backend/providers/mocks"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/mmdatafocus/momo_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMomoCoreAgainstMySQL runs the database-backed behaviour against real MySQL and Redis
// containers. Each subtest works under its own company so rows never collide.
func TestMomoCoreAgainstMySQL(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "momo_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	logger := logrus.New()

	// A payment goes pending -> processing -> completed by webhook, the outbox record posts
	// balanced ledger lines once, and the audit chain verifies.
	t.Run("webhook completes and ledger posts once", func(t *testing.T) {
		ctx := companyContext("company-it")
		provider := createProvider(t, ctx, models.ProviderCodeMTN, 0)

		gw := webhookGateway(gomock.NewController(t), models.ProviderCodeMTN, map[string]*providers.WebhookEvent{
			"success": completedEvent("wh-1", "mtn-ref-1", 100),
		})
		gw.EXPECT().RequestToPay(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&providers.InitiateResult{ProviderReference: "mtn-ref-1", ProviderStatus: "PENDING", Status: models.TransactionStatusProcessing}, nil)
		payments := workflow.NewPaymentWorkflow(providers.NewRegistry(gw), logger)

		txn, err := payments.InitiateWithKey(ctx, "order-42", paymentInput(provider, 100, "0961234567"))
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusProcessing, txn.Status)
		assert.Equal(t, "order-42", txn.Reference)
		_, err = uuid.Parse(txn.ProviderRequestId)
		assert.NoError(t, err, "provider request id must be a UUID")

		// A client retry with the same key returns the same transaction without a provider call.
		again, err := payments.InitiateWithKey(ctx, "order-42", paymentInput(provider, 100, "0961234567"))
		require.NoError(t, err)
		assert.Equal(t, txn.ID, again.ID)

		res, err := payments.Webhooks.Ingest(context.Background(), provider.ID, []byte("success"), "sig")
		require.NoError(t, err)
		assert.Equal(t, models.WebhookStatusProcessed, res.Status)
		assert.False(t, res.Duplicate)

		dup, err := payments.Webhooks.Ingest(context.Background(), provider.ID, []byte("success"), "sig")
		require.NoError(t, err)
		assert.True(t, dup.Duplicate)

		done, err := models.GetMomoTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusCompleted, done.Status)

		statuses, err := models.GetOutboxStatuses(ctx, txn.ID)
		require.NoError(t, err)
		var recordId int
		for _, s := range statuses {
			if s.EventType == models.MomoEventTransactionCompleted {
				recordId = s.RecordId
			}
		}
		require.NotZero(t, recordId, "completed transition must write an outbox record")
		rec, err := models.GetMomoEventRecord(ctx, recordId)
		require.NoError(t, err)

		processor := workflow.NewEventProcessor(logger)
		msg := models.ConvertToMomoEventMessage(*rec)
		require.NoError(t, processor.Process(context.Background(), msg))
		require.NoError(t, processor.Process(context.Background(), msg))

		entries, err := models.GetLedgerEntriesForTransaction(ctx, txn.ID)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		debit, credit := decimal.Zero, decimal.Zero
		for _, e := range entries {
			if e.Direction == models.EntryDirectionDebit {
				debit = debit.Add(e.Amount)
			} else {
				credit = credit.Add(e.Amount)
			}
		}
		assert.True(t, debit.Equal(credit), "ledger must balance: debit %s credit %s", debit, credit)

		intact, brokenAt, err := models.VerifyTransactionAuditChain(ctx, txn.ID)
		require.NoError(t, err)
		assert.True(t, intact)
		assert.Zero(t, brokenAt)
	})

	t.Run("forged signature is stored unverified and leaves the transaction alone", func(t *testing.T) {
		ctx := companyContext("company-sig")
		provider := createProvider(t, ctx, models.ProviderCodeMTN, 0)

		gw := webhookGateway(gomock.NewController(t), models.ProviderCodeMTN, map[string]*providers.WebhookEvent{
			"forged-success": completedEvent("wh-forged", "sig-ref-1", 100),
		})
		gw.EXPECT().RequestToPay(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&providers.InitiateResult{ProviderReference: "sig-ref-1", ProviderStatus: "PENDING", Status: models.TransactionStatusProcessing}, nil)
		payments := workflow.NewPaymentWorkflow(providers.NewRegistry(gw), logger)

		txn, err := payments.Initiate(ctx, paymentInput(provider, 100, "0961234567"))
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusProcessing, txn.Status)

		res, err := payments.Webhooks.Ingest(context.Background(), provider.ID, []byte("forged-success"), forgedSignature)
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Equal(t, models.WebhookStatusFailed, res.Status)

		wh, err := models.GetMomoWebhook(ctx, res.WebhookId)
		require.NoError(t, err)
		assert.Equal(t, models.WebhookStatusFailed, wh.Status)
		assert.False(t, wh.SignatureVerified)
		assert.False(t, wh.Replayable)
		assert.Nil(t, wh.TransactionId)

		after, err := models.GetMomoTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusProcessing, after.Status)
		assert.Equal(t, txn.Version, after.Version)
	})

	t.Run("uncorrelated webhook parks until ReplayPending applies it", func(t *testing.T) {
		ctx := companyContext("company-park")
		provider := createProvider(t, ctx, models.ProviderCodeMTN, 0)

		gw := webhookGateway(gomock.NewController(t), models.ProviderCodeMTN, map[string]*providers.WebhookEvent{
			"early-success": completedEvent("wh-early", "late-ref", 100),
		})
		gw.EXPECT().RequestToPay(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&providers.InitiateResult{ProviderReference: "late-ref", ProviderStatus: "PENDING", Status: models.TransactionStatusProcessing}, nil)
		registry := providers.NewRegistry(gw)
		payments := workflow.NewPaymentWorkflow(registry, logger)

		res, err := payments.Webhooks.Ingest(context.Background(), provider.ID, []byte("early-success"), "sig")
		require.NoError(t, err)
		assert.Equal(t, models.WebhookStatusPendingCorrelation, res.Status)
		assert.Nil(t, res.TransactionId)

		// Submit without the send-time replay so the parked row is still waiting afterwards.
		submitter := workflow.NewPaymentWorkflow(registry, logger)
		submitter.Webhooks = nil
		txn, err := submitter.Initiate(ctx, paymentInput(provider, 100, "0961234567"))
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusProcessing, txn.Status)

		replayed, err := payments.Webhooks.ReplayPending(ctx, provider, txn)
		require.NoError(t, err)
		assert.Equal(t, 1, replayed)

		done, err := models.GetMomoTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusCompleted, done.Status)

		wh, err := models.GetMomoWebhook(ctx, res.WebhookId)
		require.NoError(t, err)
		assert.Equal(t, models.WebhookStatusProcessed, wh.Status)
		require.NotNil(t, wh.TransactionId)
		assert.Equal(t, txn.ID, *wh.TransactionId)
		assert.Equal(t, 1, wh.RetryCount)

		again, err := payments.Webhooks.ReplayPending(ctx, provider, done)
		require.NoError(t, err)
		assert.Zero(t, again, "an applied webhook is not replayed twice")
	})

	t.Run("transiently failed webhook is replayed and rejected ones are not", func(t *testing.T) {
		ctx := companyContext("company-transient")
		provider := createProvider(t, ctx, models.ProviderCodeMTN, 0)

		gw := webhookGateway(gomock.NewController(t), models.ProviderCodeMTN, map[string]*providers.WebhookEvent{
			"transient-success": completedEvent("wh-transient", "transient-ref", 100),
			"rejected-success":  completedEvent("wh-rejected", "transient-ref", 100),
		})
		gw.EXPECT().RequestToPay(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&providers.InitiateResult{ProviderReference: "transient-ref", ProviderStatus: "PENDING", Status: models.TransactionStatusProcessing}, nil)
		registry := providers.NewRegistry(gw)
		payments := workflow.NewPaymentWorkflow(registry, logger)
		submitter := workflow.NewPaymentWorkflow(registry, logger)
		submitter.Webhooks = nil

		txn, err := submitter.Initiate(ctx, paymentInput(provider, 100, "0961234567"))
		require.NoError(t, err)

		providerRef := "transient-ref"
		transient := storedFailedWebhook(provider, "wh-transient", "transient-success", &providerRef, true)
		require.NoError(t, models.CreateMomoWebhook(ctx, transient))
		rejected := storedFailedWebhook(provider, "wh-rejected", "rejected-success", &providerRef, false)
		require.NoError(t, models.CreateMomoWebhook(ctx, rejected))

		replayed, err := payments.Webhooks.ReplayPending(ctx, provider, txn)
		require.NoError(t, err)
		assert.Equal(t, 1, replayed)

		wh, err := models.GetMomoWebhook(ctx, transient.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WebhookStatusProcessed, wh.Status)
		assert.False(t, wh.Replayable)

		untouched, err := models.GetMomoWebhook(ctx, rejected.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WebhookStatusFailed, untouched.Status)
		assert.Zero(t, untouched.RetryCount)

		done, err := models.GetMomoTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusCompleted, done.Status)
	})

	t.Run("webhook for a terminal transaction is ignored with an audit note", func(t *testing.T) {
		ctx := companyContext("company-terminal")
		provider := createProvider(t, ctx, models.ProviderCodeMTN, 0)

		late := completedEvent("wh-late-failure", "term-ref", 100)
		late.ProviderStatus = "FAILED"
		late.Status = models.TransactionStatusFailed
		gw := webhookGateway(gomock.NewController(t), models.ProviderCodeMTN, map[string]*providers.WebhookEvent{
			"success": completedEvent("wh-term-ok", "term-ref", 100),
			"failure": late,
		})
		gw.EXPECT().RequestToPay(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&providers.InitiateResult{ProviderReference: "term-ref", ProviderStatus: "PENDING", Status: models.TransactionStatusProcessing}, nil)
		payments := workflow.NewPaymentWorkflow(providers.NewRegistry(gw), logger)

		txn, err := payments.Initiate(ctx, paymentInput(provider, 100, "0961234567"))
		require.NoError(t, err)
		_, err = payments.Webhooks.Ingest(context.Background(), provider.ID, []byte("success"), "sig")
		require.NoError(t, err)

		completed, err := models.GetMomoTransaction(ctx, txn.ID)
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusCompleted, completed.Status)

		res, err := payments.Webhooks.Ingest(context.Background(), provider.ID, []byte("failure"), "sig")
		require.NoError(t, err)
		assert.Equal(t, models.WebhookStatusIgnored, res.Status)
		require.NotNil(t, res.TransactionId)
		assert.Equal(t, txn.ID, *res.TransactionId)

		after, err := models.GetMomoTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusCompleted, after.Status)
		assert.Equal(t, completed.Version, after.Version)

		events, err := models.GetTransactionEvents(ctx, txn.ID)
		require.NoError(t, err)
		var note *models.MomoTransactionEvent
		for _, e := range events {
			if e.EventType == models.TransactionEventWebhookIgnored {
				note = e
			}
		}
		require.NotNil(t, note, "ignored webhook must leave an audit note")
		assert.Equal(t, models.TransactionStatusCompleted, note.FromStatus)
		assert.Equal(t, models.TransactionStatusCompleted, note.ToStatus)

		intact, _, err := models.VerifyTransactionAuditChain(ctx, txn.ID)
		require.NoError(t, err)
		assert.True(t, intact)
	})

	t.Run("amount mismatch fails the webhook and flags the transaction for review", func(t *testing.T) {
		ctx := companyContext("company-mismatch")
		provider := createProvider(t, ctx, models.ProviderCodeMTN, 0)

		gw := webhookGateway(gomock.NewController(t), models.ProviderCodeMTN, map[string]*providers.WebhookEvent{
			"short-paid": completedEvent("wh-short", "short-ref", 90),
		})
		gw.EXPECT().RequestToPay(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&providers.InitiateResult{ProviderReference: "short-ref", ProviderStatus: "PENDING", Status: models.TransactionStatusProcessing}, nil)
		payments := workflow.NewPaymentWorkflow(providers.NewRegistry(gw), logger)

		txn, err := payments.Initiate(ctx, paymentInput(provider, 100, "0961234567"))
		require.NoError(t, err)

		res, err := payments.Webhooks.Ingest(context.Background(), provider.ID, []byte("short-paid"), "sig")
		require.NoError(t, err)
		assert.Equal(t, models.WebhookStatusFailed, res.Status)

		wh, err := models.GetMomoWebhook(ctx, res.WebhookId)
		require.NoError(t, err)
		assert.True(t, wh.SignatureVerified)
		assert.False(t, wh.Replayable, "a mismatch is not retried")
		require.NotNil(t, wh.ErrorMessage)

		flagged, err := models.GetMomoTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusProcessing, flagged.Status)
		assert.True(t, flagged.NeedsReview)
	})

	t.Run("reconciliation re-run keeps manual rows and counts", func(t *testing.T) {
		ctx := companyContext("company-recon")
		provider := createProvider(t, ctx, models.ProviderCodeMTN, 0)

		gw := webhookGateway(gomock.NewController(t), models.ProviderCodeMTN, map[string]*providers.WebhookEvent{
			"done-R-1": completedEvent("wh-R-1", "rec-R-1", 100),
			"done-R-2": completedEvent("wh-R-2", "rec-R-2", 200),
			"done-R-3": completedEvent("wh-R-3", "rec-R-3", 300),
		})
		gw.EXPECT().RequestToPay(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ *models.MomoProvider, req providers.PaymentRequest) (*providers.InitiateResult, error) {
				return &providers.InitiateResult{ProviderReference: "rec-" + req.Reference, ProviderStatus: "PENDING", Status: models.TransactionStatusProcessing}, nil
			}).Times(3)
		payments := workflow.NewPaymentWorkflow(providers.NewRegistry(gw), logger)

		txnIds := map[string]int{}
		for ref, amount := range map[string]int64{"R-1": 100, "R-2": 200, "R-3": 300} {
			input := paymentInput(provider, amount, "0961234567")
			input.Reference = ref
			txn, err := payments.Initiate(ctx, input)
			require.NoError(t, err)
			_, err = payments.Webhooks.Ingest(context.Background(), provider.ID, []byte("done-"+ref), "sig")
			require.NoError(t, err)
			txnIds[ref] = txn.ID
		}

		today := time.Now().UTC()
		recons := workflow.NewReconciliationWorkflow(logger)
		recon, err := recons.Start(ctx, &models.NewBankReconciliation{
			ProviderId:  provider.ID,
			PeriodStart: today.AddDate(0, 0, -1),
			PeriodEnd:   today.AddDate(0, 0, 1),
		})
		require.NoError(t, err)

		day := today.Format("2006-01-02")
		statement := "date,reference,description,amount\n" +
			day + ",R-1,payment,100.00\n" +
			day + ",R-2,payment,200.00\n" +
			day + ",X-9,payment,300.00\n"
		_, n, err := recons.ImportStatement(ctx, recon.ID, "statement.csv", []byte(statement))
		require.NoError(t, err)
		require.Equal(t, 3, n)

		first, err := recons.Run(ctx, recon.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, first.MatchedCount)

		summary, err := recons.Summary(ctx, recon.ID)
		require.NoError(t, err)
		var lineX9 int
		for _, m := range summary.Matches {
			if m.TransactionId == txnIds["R-3"] && m.StatementLineId != nil {
				lineX9 = *m.StatementLineId
			}
		}
		require.NotZero(t, lineX9, "R-3 pairs with X-9 on amount and date")

		_, err = recons.ForceMatch(ctx, recon.ID, txnIds["R-2"], lineX9, "operator paired by receipt")
		require.NoError(t, err)
		_, err = recons.ForceUnmatch(ctx, recon.ID, txnIds["R-3"], "disputed with operator")
		require.NoError(t, err)

		second, err := recons.Run(ctx, recon.ID)
		require.NoError(t, err)
		third, err := recons.Run(ctx, recon.ID)
		require.NoError(t, err)

		assert.Equal(t, 2, second.MatchedCount)
		assert.Equal(t, 1, second.UnmatchedBankCount)
		assert.Equal(t, 1, second.UnmatchedBookCount)
		assert.Equal(t, second.MatchedCount, third.MatchedCount)
		assert.Equal(t, second.UnmatchedBankCount, third.UnmatchedBankCount)
		assert.Equal(t, second.UnmatchedBookCount, third.UnmatchedBookCount)

		final, err := recons.Summary(ctx, recon.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, final.ManualMatchCount)
		assert.Equal(t, 1, final.ExcludedCount)
		rules := map[int]models.MatchRule{}
		for _, m := range final.Matches {
			rules[m.TransactionId] = m.Rule
		}
		assert.Equal(t, models.MatchRuleReference, rules[txnIds["R-1"]])
		assert.Equal(t, models.MatchRuleForceMatch, rules[txnIds["R-2"]])
		assert.Equal(t, models.MatchRuleForceUnmatch, rules[txnIds["R-3"]])

		completed, err := recons.Complete(ctx, recon.ID, "period closed")
		require.NoError(t, err)
		assert.Equal(t, models.ReconciliationStatusCompleted, completed.Status)
		reconciled, err := models.GetMomoTransaction(ctx, txnIds["R-2"])
		require.NoError(t, err)
		assert.True(t, reconciled.IsReconciled)
		excluded, err := models.GetMomoTransaction(ctx, txnIds["R-3"])
		require.NoError(t, err)
		assert.False(t, excluded.IsReconciled)

		_, err = recons.Approve(ctx, recon.ID, "looks right")
		assert.ErrorIs(t, err, models.ErrForbidden)
		_, err = recons.Approve(utils.SetUserRoleInContext(ctx, models.UserRoleApprover), recon.ID, "own work")
		assert.Error(t, err, "the completing user cannot approve")

		approverCtx := utils.SetUserRoleInContext(utils.SetUserIdInContext(ctx, 2), models.UserRoleApprover)
		approved, err := recons.Approve(approverCtx, recon.ID, "checked")
		require.NoError(t, err)
		assert.Equal(t, models.ReconciliationStatusApproved, approved.Status)

		_, err = recons.Reopen(ctx, recon.ID, "late correction")
		assert.Error(t, err, "an approved reconciliation cannot be reopened")
	})

	// Runs last: the scheduler claims due rows across every company.
	t.Run("retries past max attempts end failed and are never claimed again", func(t *testing.T) {
		ctx := companyContext("company-retry")
		provider := createProvider(t, ctx, models.ProviderCodeZamtel, 2)

		gw := mocks.NewMockGateway(gomock.NewController(t))
		gw.EXPECT().Code().Return(models.ProviderCodeZamtel).AnyTimes()
		gw.EXPECT().RequestToPay(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, &models.ProviderError{Provider: models.ProviderCodeZamtel, Operation: "requestToPay", HTTPStatus: 503, Message: "unavailable", Retryable: true}).
			Times(3)
		payments := workflow.NewPaymentWorkflow(providers.NewRegistry(gw), logger)
		scheduler := workflow.NewRetryScheduler(config.GetDB(), payments, logger)

		txn, err := payments.Initiate(ctx, paymentInput(provider, 100, "0951234567"))
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusPending, txn.Status)

		for attempt := 0; attempt < 2; attempt++ {
			makeDue(t, ctx, txn.ID)
			claimed, err := scheduler.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, claimed, "attempt %d", attempt+1)
		}

		failed, err := models.GetMomoTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusFailed, failed.Status)
		assert.True(t, failed.NeedsReview)
		assert.Equal(t, 2, failed.RetryCount)

		makeDue(t, ctx, txn.ID)
		claimed, err := scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, claimed)

		after, err := models.GetMomoTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, failed.Version, after.Version)
		assert.Nil(t, after.LockedBy)
	})
}

const forgedSignature = "forged"

func companyContext(companyId string) context.Context {
	ctx := utils.SystemContext(context.Background(), companyId)
	ctx = utils.SetUserIdInContext(ctx, 1)
	return utils.SetUserNameInContext(ctx, "Test")
}

func createProvider(t *testing.T, ctx context.Context, code models.ProviderCode, maxRetries int) *models.MomoProvider {
	t.Helper()
	provider, err := models.CreateMomoProvider(ctx, &models.NewMomoProvider{
		Code:                code,
		Name:                string(code) + " Zambia",
		BaseURL:             "https://sandbox.example.com",
		Currency:            "ZMW",
		CountryCode:         "ZM",
		ApiUser:             "api-user",
		ApiKey:              "api-key",
		SubscriptionKey:     "sub-key",
		WebhookSecret:       "0123456789abcdef0123",
		CashAccountId:       10,
		FeeAccountId:        11,
		ReceivableAccountId: 12,
		MaxRetryAttempts:    maxRetries,
	})
	require.NoError(t, err)
	return provider
}

func paymentInput(provider *models.MomoProvider, amount int64, msisdn string) *models.NewMomoTransaction {
	return &models.NewMomoTransaction{
		ProviderId: provider.ID,
		Type:       models.TransactionTypePayment,
		Amount:     decimal.NewFromInt(amount),
		Msisdn:     msisdn,
	}
}

func completedEvent(webhookId, providerRef string, amount int64) *providers.WebhookEvent {
	return &providers.WebhookEvent{
		WebhookId:         webhookId,
		ProviderReference: providerRef,
		ProviderStatus:    "SUCCESSFUL",
		Status:            models.TransactionStatusCompleted,
		Amount:            decimal.NewNullDecimal(decimal.NewFromInt(amount)),
		Currency:          "ZMW",
	}
}

// webhookGateway parses a payload by looking it up in events and rejects forgedSignature.
func webhookGateway(ctrl *gomock.Controller, code models.ProviderCode, events map[string]*providers.WebhookEvent) *mocks.MockGateway {
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Code().Return(code).AnyTimes()
	gw.EXPECT().VerifySignature(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ *models.MomoProvider, _ []byte, signature string) error {
			if signature == forgedSignature {
				return errors.New("signature mismatch")
			}
			return nil
		}).AnyTimes()
	gw.EXPECT().ParseWebhook(gomock.Any()).
		DoAndReturn(func(payload []byte) (*providers.WebhookEvent, error) {
			event, ok := events[string(payload)]
			if !ok {
				return nil, fmt.Errorf("unknown payload %q", payload)
			}
			copied := *event
			return &copied, nil
		}).AnyTimes()
	return gw
}

func storedFailedWebhook(provider *models.MomoProvider, webhookId, payload string, providerRef *string, replayable bool) *models.MomoWebhook {
	msg := "stored for replay"
	return &models.MomoWebhook{
		ProviderId:        provider.ID,
		WebhookId:         webhookId,
		DedupeHash:        models.WebhookDedupeHash(provider.ID, webhookId),
		Payload:           payload,
		SignatureVerified: true,
		Status:            models.WebhookStatusFailed,
		Replayable:        replayable,
		ProviderReference: providerRef,
		ErrorMessage:      &msg,
		ReceivedAt:        time.Now().UTC(),
	}
}

// makeDue moves the next attempt of a transaction into the past.
func makeDue(t *testing.T, ctx context.Context, transactionId int) {
	t.Helper()
	companyId, err := utils.RequireCompanyId(ctx)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	err = config.GetDB().WithContext(ctx).Model(&models.MomoTransaction{}).
		Where("id = ? AND company_id = ?", transactionId, companyId).
		Update("next_retry_at", &past).Error
	require.NoError(t, err)
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("momo-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("momo-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=momo_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
