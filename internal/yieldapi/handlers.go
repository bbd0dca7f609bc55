package yieldapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the yield HTTP API over a ledger.Service.
type Handler struct {
	service *ledger.Service
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time
}

// NewHandler builds a Handler. now is only used to render purchase progress.
func NewHandler(service *ledger.Service, logger *zap.Logger, cfg Config, now func() time.Time) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Handler{service: service, logger: logger, cfg: cfg, now: now}
}

func (handler *Handler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *Handler) handleMe(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	user, err := handler.service.GetUser(requestCtx, sessionUserID(ctx))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}

func (handler *Handler) handleRequestDeposit(ctx *gin.Context) {
	request, ok := bindFundsRequest(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	deposit, err := handler.service.RequestDeposit(requestCtx, sessionUserID(ctx), request)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"deposit": newDepositResponse(deposit)})
}

func (handler *Handler) handleRequestWithdrawal(ctx *gin.Context) {
	request, ok := bindFundsRequest(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	withdrawal, err := handler.service.RequestWithdrawal(requestCtx, sessionUserID(ctx), request)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"withdrawal": newWithdrawalResponse(withdrawal)})
}

func bindFundsRequest(ctx *gin.Context) (ledger.FundsRequest, bool) {
	var payload fundsRequestPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with amount"))
		return ledger.FundsRequest{}, false
	}
	amount, err := ledger.ParseAmount(payload.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
		return ledger.FundsRequest{}, false
	}
	metadata, err := ledger.NewMetadataJSON(string(payload.Metadata))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
		return ledger.FundsRequest{}, false
	}
	return ledger.FundsRequest{Amount: amount, Currency: payload.Currency, Metadata: metadata}, true
}

func (handler *Handler) handleBuy(ctx *gin.Context) {
	var payload purchaseRequestPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with product_name, price, daily_rate and duration_days"))
		return
	}
	order, err := parsePurchaseOrder(payload)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	purchase, err := handler.service.Buy(requestCtx, sessionUserID(ctx), order)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"purchase": newPurchaseResponse(purchase, handler.now())})
}

func parsePurchaseOrder(payload purchaseRequestPayload) (ledger.PurchaseOrder, error) {
	price, err := ledger.ParsePrice(payload.Price)
	if err != nil {
		return ledger.PurchaseOrder{}, err
	}
	rate, err := ledger.ParseDailyRate(payload.DailyRate)
	if err != nil {
		return ledger.PurchaseOrder{}, err
	}
	days, err := ledger.NewDurationDays(payload.DurationDays)
	if err != nil {
		return ledger.PurchaseOrder{}, err
	}
	return ledger.PurchaseOrder{ProductName: payload.ProductName, Price: price, DailyRate: rate, DurationDays: days}, nil
}

func (handler *Handler) handleListPurchases(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	purchases, err := handler.service.ListPurchases(requestCtx, sessionUserID(ctx))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	now := handler.now()
	responses := make([]purchaseResponse, 0, len(purchases))
	for _, purchase := range purchases {
		responses = append(responses, newPurchaseResponse(purchase, now))
	}
	ctx.JSON(http.StatusOK, gin.H{"purchases": responses})
}

func (handler *Handler) handleGetPurchase(ctx *gin.Context) {
	purchaseID, err := ledger.NewPurchaseID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	userID := sessionUserID(ctx)
	purchase, err := handler.service.UserPurchase(requestCtx, userID, purchaseID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	earnings, err := handler.service.PurchaseEarnings(requestCtx, userID, purchaseID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"purchase": newPurchaseResponse(purchase, handler.now()),
		"earnings": newEarningResponses(earnings),
	})
}

func (handler *Handler) handleListEarnings(ctx *gin.Context) {
	query := ledger.EarningQuery{UserID: sessionUserID(ctx), Limit: earningsPageLimit}
	if rawStatus := ctx.Query("status"); rawStatus != "" {
		status, err := ledger.ParseEarningStatus(rawStatus)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		query.Status = &status
	}
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 1 || limit > earningsPageLimit {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "limit must be between 1 and "+strconv.Itoa(earningsPageLimit)))
			return
		}
		query.Limit = limit
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	earnings, err := handler.service.ListEarnings(requestCtx, query)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"earnings": newEarningResponses(earnings)})
}

func (handler *Handler) handleEarningsSummary(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	summary, err := handler.service.EarningsSummary(requestCtx, sessionUserID(ctx))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"summary": newSummaryResponse(summary)})
}

func (handler *Handler) handleCreditTotal(ctx *gin.Context) {
	var payload creditTotalPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with purchase_id"))
		return
	}
	purchaseID, err := ledger.NewPurchaseID(payload.PurchaseID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.CreditTotal(requestCtx, sessionUserID(ctx), purchaseID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"outcome":           string(result.Outcome),
		"purchase_id":       result.PurchaseID.String(),
		"max_total":         result.MaxTotal.String(),
		"accrued_total":     result.AccruedTotal.String(),
		"credited_amount":   result.CreditedAmount.String(),
		"credited_earnings": result.CreditedEarnings,
		"balance":           result.Balance.String(),
	})
}

func (handler *Handler) handleEnsureUser(ctx *gin.Context) {
	var payload userRequestPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with user_id"))
		return
	}
	userID, err := ledger.NewUserID(payload.UserID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	user, err := handler.service.EnsureUser(requestCtx, userID, ledger.UserProfile{Username: payload.Username, Email: payload.Email})
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}

// bindDecision accepts an empty body.
func bindDecision(ctx *gin.Context) (decisionPayload, bool) {
	var payload decisionPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return decisionPayload{}, false
	}
	return payload, true
}

func (handler *Handler) handleApproveDeposit(ctx *gin.Context) {
	handler.decideDeposit(ctx, func(requestCtx context.Context, depositID ledger.DepositID, payload decisionPayload) (ledger.Deposit, error) {
		return handler.service.ApproveDeposit(requestCtx, depositID, payload.Notes)
	})
}

func (handler *Handler) handleRejectDeposit(ctx *gin.Context) {
	handler.decideDeposit(ctx, func(requestCtx context.Context, depositID ledger.DepositID, payload decisionPayload) (ledger.Deposit, error) {
		return handler.service.RejectDeposit(requestCtx, depositID, payload.Reason)
	})
}

func (handler *Handler) decideDeposit(ctx *gin.Context, decide func(context.Context, ledger.DepositID, decisionPayload) (ledger.Deposit, error)) {
	depositID, err := ledger.NewDepositID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	payload, ok := bindDecision(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	deposit, err := decide(requestCtx, depositID, payload)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deposit": newDepositResponse(deposit)})
}

func (handler *Handler) handleApproveWithdrawal(ctx *gin.Context) {
	handler.decideWithdrawal(ctx, func(requestCtx context.Context, withdrawalID ledger.WithdrawalID, payload decisionPayload) (ledger.Withdrawal, error) {
		return handler.service.ApproveWithdrawal(requestCtx, withdrawalID, payload.Notes)
	})
}

func (handler *Handler) handleRejectWithdrawal(ctx *gin.Context) {
	handler.decideWithdrawal(ctx, func(requestCtx context.Context, withdrawalID ledger.WithdrawalID, payload decisionPayload) (ledger.Withdrawal, error) {
		return handler.service.RejectWithdrawal(requestCtx, withdrawalID, payload.Reason)
	})
}

func (handler *Handler) handleCompleteWithdrawal(ctx *gin.Context) {
	handler.decideWithdrawal(ctx, func(requestCtx context.Context, withdrawalID ledger.WithdrawalID, _ decisionPayload) (ledger.Withdrawal, error) {
		return handler.service.CompleteWithdrawal(requestCtx, withdrawalID)
	})
}

func (handler *Handler) decideWithdrawal(ctx *gin.Context, decide func(context.Context, ledger.WithdrawalID, decisionPayload) (ledger.Withdrawal, error)) {
	withdrawalID, err := ledger.NewWithdrawalID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	payload, ok := bindDecision(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	withdrawal, err := decide(requestCtx, withdrawalID, payload)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"withdrawal": newWithdrawalResponse(withdrawal)})
}

func (handler *Handler) handleCreditEarning(ctx *gin.Context) {
	earningID, err := ledger.NewEarningID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Credit(requestCtx, earningID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"outcome": string(result.Outcome),
		"earning": newEarningResponse(result.Earning),
		"balance": result.Balance.String(),
	})
}

func (handler *Handler) handleCancelEarning(ctx *gin.Context) {
	earningID, err := ledger.NewEarningID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Cancel(requestCtx, earningID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"outcome": string(result.Outcome),
		"earning": newEarningResponse(result.Earning),
		"balance": result.Balance.String(),
	})
}

func (handler *Handler) handleCancelPurchase(ctx *gin.Context) {
	purchaseID, err := ledger.NewPurchaseID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	purchase, err := handler.service.CancelPurchase(requestCtx, purchaseID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"purchase": newPurchaseResponse(purchase, handler.now())})
}

// handleRunSweep runs without the request timeout; a client disconnect interrupts the sweep between units.
func (handler *Handler) handleRunSweep(ctx *gin.Context) {
	request := ledger.SweepRequest{BatchSize: handler.cfg.SweepBatchSize}
	if rawBatchSize := ctx.Query("batch_size"); rawBatchSize != "" {
		batchSize, err := strconv.Atoi(rawBatchSize)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "batch_size must be an integer"))
			return
		}
		request.BatchSize = batchSize
	}
	if rawForce := ctx.Query("force"); rawForce != "" {
		force, err := strconv.ParseBool(rawForce)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "force must be a boolean"))
			return
		}
		request.Force = force
	}
	report, err := handler.service.RunSweep(ctx.Request.Context(), request)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"sweep": newSweepResponse(report)})
}

func (handler *Handler) handleEarningsStatus(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	report, err := handler.service.EarningsStatus(requestCtx)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": statusResponse{
		At:                report.At,
		ActivePurchases:   report.ActivePurchases,
		EligiblePurchases: report.EligiblePurchases,
		PendingEarnings:   report.PendingEarnings,
		ActiveEarnings:    report.ActiveEarnings,
	}})
}
