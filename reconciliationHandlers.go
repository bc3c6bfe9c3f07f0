package main

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/momo_backend/models"
)

const maxStatementUploadBytes = 10 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type reconciliationListQuery struct {
	ProviderId *int                         `form:"provider_id"`
	Status     *models.ReconciliationStatus `form:"status"`
}

type forceMatchRequest struct {
	TransactionId int    `json:"transaction_id" binding:"required"`
	LineId        int    `json:"line_id" binding:"required"`
	Reason        string `json:"reason"`
}

type forceUnmatchRequest struct {
	TransactionId int    `json:"transaction_id" binding:"required"`
	Reason        string `json:"reason"`
}

func (s *apiServer) listReconciliations() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q reconciliationListQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, "invalid filter: "+err.Error())
			return
		}
		recons, err := models.ListBankReconciliations(c.Request.Context(), q.ProviderId, q.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recons)
	}
}

func (s *apiServer) startReconciliation() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewBankReconciliation
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
		recon, err := s.recons.Start(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, recon)
	}
}

// importStatement accepts a multipart "file" field with a CSV or XLSX statement.
func (s *apiServer) importStatement() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "file is required")
			return
		}
		if fh.Size > maxStatementUploadBytes {
			badRequest(c, fmt.Sprintf("statement file exceeds %d bytes", maxStatementUploadBytes))
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxStatementUploadBytes+1))
		if err != nil {
			respondError(c, err)
			return
		}
		recon, imported, err := s.recons.ImportStatement(c.Request.Context(), id, filepath.Base(fh.Filename), data)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reconciliation": recon, "imported_lines": imported})
	}
}

func (s *apiServer) runReconciliation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		recon, err := s.recons.Run(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recon)
	}
}

func (s *apiServer) forceMatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req forceMatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "transaction_id and line_id are required")
			return
		}
		recon, err := s.recons.ForceMatch(c.Request.Context(), id, req.TransactionId, req.LineId, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recon)
	}
}

func (s *apiServer) forceUnmatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req forceUnmatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "transaction_id is required")
			return
		}
		recon, err := s.recons.ForceUnmatch(c.Request.Context(), id, req.TransactionId, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recon)
	}
}

func (s *apiServer) completeReconciliation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req noteRequest
		_ = c.ShouldBindJSON(&req)
		recon, err := s.recons.Complete(c.Request.Context(), id, req.Note)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recon)
	}
}

func (s *apiServer) approveReconciliation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req noteRequest
		_ = c.ShouldBindJSON(&req)
		recon, err := s.recons.Approve(c.Request.Context(), id, req.Note)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recon)
	}
}

func (s *apiServer) reopenReconciliation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req reasonRequest
		_ = c.ShouldBindJSON(&req)
		recon, err := s.recons.Reopen(c.Request.Context(), id, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recon)
	}
}

func (s *apiServer) reconciliationSummary() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		summary, err := s.recons.Summary(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func (s *apiServer) reconciliationActions() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		if _, err := models.GetBankReconciliation(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		actions, err := models.GetReconciliationActions(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, actions)
	}
}

func (s *apiServer) exportReconciliation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		data, filename, err := s.recons.ExportExcel(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
		c.Data(http.StatusOK, xlsxContentType, data)
	}
}

// exportReconciliationToGCS archives the workbook and returns a short-lived download link.
func (s *apiServer) exportReconciliationToGCS() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		signed, err := s.recons.ExportToGCS(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, signed)
	}
}
