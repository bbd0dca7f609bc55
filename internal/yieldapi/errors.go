package yieldapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorClass struct {
	target error
	status int
	code   string
}

var errorClasses = []errorClass{
	{ledger.ErrInsufficientFunds, http.StatusConflict, "insufficient_funds"},
	{ledger.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{ledger.ErrDanglingReference, http.StatusConflict, "dangling_reference"},
	{ledger.ErrPurchaseOwnershipDenied, http.StatusForbidden, "forbidden"},
	{ledger.ErrUnknownUser, http.StatusNotFound, "not_found"},
	{ledger.ErrUnknownPurchase, http.StatusNotFound, "not_found"},
	{ledger.ErrUnknownEarning, http.StatusNotFound, "not_found"},
	{ledger.ErrUnknownDeposit, http.StatusNotFound, "not_found"},
	{ledger.ErrUnknownWithdrawal, http.StatusNotFound, "not_found"},
	{ledger.ErrInvalidStoredValue, http.StatusInternalServerError, "ledger_error"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

var validationErrors = []error{
	ledger.ErrInvalidUserID,
	ledger.ErrInvalidPurchaseID,
	ledger.ErrInvalidEarningID,
	ledger.ErrInvalidDepositID,
	ledger.ErrInvalidWithdrawalID,
	ledger.ErrInvalidAmount,
	ledger.ErrInvalidPrice,
	ledger.ErrInvalidDailyRate,
	ledger.ErrInvalidDurationDays,
	ledger.ErrInvalidProductName,
	ledger.ErrInvalidCurrency,
	ledger.ErrInvalidUsername,
	ledger.ErrInvalidEmail,
	ledger.ErrInvalidMetadataJSON,
	ledger.ErrInvalidEarningStatus,
	ledger.ErrInvalidBatchSize,
}

// classifyError maps a service error to an HTTP status and a stable error code.
func classifyError(err error) (int, string) {
	for _, class := range errorClasses {
		if errors.Is(err, class.target) {
			return class.status, class.code
		}
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, "invalid_request"
		}
	}
	return http.StatusInternalServerError, "ledger_error"
}

func (handler *Handler) writeError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		handler.logger.Error("ledger request failed",
			zap.String("method", ctx.Request.Method),
			zap.String("route", ctx.FullPath()),
			zap.Error(err),
		)
		message = "internal error"
	}
	ctx.JSON(status, errorResponse(code, message))
}
