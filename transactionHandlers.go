package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/momo_backend/middlewares"
	"github.com/mmdatafocus/momo_backend/models"
)

// transactionView adds the provider name for list rendering.
type transactionView struct {
	*models.MomoTransaction
	ProviderName string `json:"provider_name"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type noteRequest struct {
	Note string `json:"note"`
}

func (s *apiServer) withProviderNames(c *gin.Context, txns []*models.MomoTransaction) []*transactionView {
	ids := make([]int, len(txns))
	for i, t := range txns {
		ids[i] = t.ProviderId
	}
	providers, errs := middlewares.GetProviders(c.Request.Context(), ids)
	views := make([]*transactionView, len(txns))
	for i, t := range txns {
		views[i] = &transactionView{MomoTransaction: t}
		if i < len(providers) && (len(errs) <= i || errs[i] == nil) && providers[i] != nil {
			views[i].ProviderName = providers[i].Name
		}
	}
	return views
}

// initiateTransaction opens a transaction. Idempotency-Key makes client retries safe.
func (s *apiServer) initiateTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewMomoTransaction
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
		key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		txn, err := s.payments.InitiateWithKey(c.Request.Context(), key, &input)
		if err != nil {
			if txn != nil {
				// Recorded but rejected by the provider: report the failed row with the error.
				c.JSON(statusForError(err), gin.H{"error": err.Error(), "transaction": txn})
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, txn)
	}
}

func (s *apiServer) listTransactions() gin.HandlerFunc {
	return func(c *gin.Context) {
		var f models.MomoTransactionFilter
		if err := c.ShouldBindQuery(&f); err != nil {
			badRequest(c, "invalid filter: "+err.Error())
			return
		}
		conn, err := models.ListMomoTransactions(c.Request.Context(), f)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"edges":    s.withProviderNames(c, conn.Edges),
			"pageInfo": conn.PageInfo,
		})
	}
}

func (s *apiServer) getTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		txn, err := models.GetMomoTransaction(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.withProviderNames(c, []*models.MomoTransaction{txn})[0])
	}
}

func (s *apiServer) approveTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		txn, err := s.payments.Approve(c.Request.Context(), id)
		if err != nil {
			if txn != nil {
				c.JSON(statusForError(err), gin.H{"error": err.Error(), "transaction": txn})
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, txn)
	}
}

func (s *apiServer) cancelTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req reasonRequest
		_ = c.ShouldBindJSON(&req)
		txn, err := s.payments.Cancel(c.Request.Context(), id, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, txn)
	}
}

// checkTransactionStatus polls the provider now instead of waiting for the scheduler.
func (s *apiServer) checkTransactionStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		txn, err := s.payments.CheckStatus(c.Request.Context(), id)
		if err != nil {
			if txn != nil {
				c.JSON(statusForError(err), gin.H{"error": err.Error(), "transaction": txn})
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, txn)
	}
}

func (s *apiServer) transactionEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		if _, err := models.GetMomoTransaction(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		events, err := models.GetTransactionEvents(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

func (s *apiServer) verifyTransactionAudit() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		if _, err := models.GetMomoTransaction(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		intact, brokenAt, err := models.VerifyTransactionAuditChain(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction_id": id, "intact": intact, "broken_at_sequence": brokenAt})
	}
}

func (s *apiServer) resolveTransactionReview() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req noteRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Note) == "" {
			badRequest(c, "note is required")
			return
		}
		txn, err := models.GetMomoTransaction(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		if !txn.NeedsReview {
			respondError(c, models.NewValidationError("needs_review", "transaction is not flagged for review"))
			return
		}
		if err := models.ResolveTransactionReview(c.Request.Context(), txn, req.Note); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, txn)
	}
}

func (s *apiServer) transactionLedger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		entries, err := models.GetLedgerEntriesForTransaction(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func (s *apiServer) transactionOutbox() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		statuses, err := models.GetOutboxStatuses(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, statuses)
	}
}

// replayTransactionOutbox re-queues every unfinished outbox record of the transaction.
func (s *apiServer) replayTransactionOutbox() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		statuses, err := models.ReprocessOutbox(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, statuses)
	}
}
