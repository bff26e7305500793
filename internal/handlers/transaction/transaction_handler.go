// internal/handlers/transaction/transaction_handler.go
package transaction

import (
	"errors"
	"net/http"
	"strconv"

	"mikrobill-service/internal/domain/reconciliation"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/pkg/response"
	service "mikrobill-service/internal/service/reconciliation"

	"github.com/gin-gonic/gin"
)

type TransactionHandler struct {
	reconciliationService *service.Service
}

func NewTransactionHandler(reconciliationService *service.Service) *TransactionHandler {
	return &TransactionHandler{
		reconciliationService: reconciliationService,
	}
}

// IngestProvider accepts one confirmed mobile-money payment from the webhook
// collaborator.
func (h *TransactionHandler) IngestProvider(c *gin.Context) {
	var req reconciliation.IngestProviderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	txn, err := h.reconciliationService.IngestProvider(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, xerrors.ErrConflict) {
			// Redelivered webhook; the record already exists.
			response.Success(c, http.StatusOK, "transaction already ingested", nil)
			return
		}
		if errors.Is(err, xerrors.ErrInvalidAmount) || errors.Is(err, xerrors.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, "invalid transaction", err)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to ingest transaction", err)
		return
	}

	response.Success(c, http.StatusCreated, "provider transaction ingested", txn)
}

// IngestSystem accepts one internally created order record.
func (h *TransactionHandler) IngestSystem(c *gin.Context) {
	var req reconciliation.IngestSystemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	txn, err := h.reconciliationService.IngestSystem(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, xerrors.ErrConflict) {
			response.Success(c, http.StatusOK, "transaction already ingested", nil)
			return
		}
		if errors.Is(err, xerrors.ErrInvalidAmount) || errors.Is(err, xerrors.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, "invalid transaction", err)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to ingest transaction", err)
		return
	}

	response.Success(c, http.StatusCreated, "system transaction ingested", txn)
}

// List retrieves a merchant's transactions with optional source and state
// filters.
func (h *TransactionHandler) List(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("merchant_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid merchant ID", err)
		return
	}

	var filters reconciliation.ListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}

	txns, err := h.reconciliationService.ListTransactions(c.Request.Context(), merchantID, &filters)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list transactions", err)
		return
	}

	response.Success(c, http.StatusOK, "transactions retrieved", gin.H{
		"transactions": txns,
		"count":        len(txns),
	})
}
