package yieldapi

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
)

type fundsRequestPayload struct {
	Amount   string          `json:"amount" binding:"required"`
	Currency string          `json:"currency"`
	Metadata json.RawMessage `json:"metadata"`
}

type purchaseRequestPayload struct {
	ProductName  string `json:"product_name" binding:"required"`
	Price        string `json:"price" binding:"required"`
	DailyRate    string `json:"daily_rate" binding:"required"`
	DurationDays int    `json:"duration_days" binding:"required"`
}

type creditTotalPayload struct {
	PurchaseID string `json:"purchase_id" binding:"required"`
}

type decisionPayload struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

type userRequestPayload struct {
	UserID   string `json:"user_id" binding:"required"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type userResponse struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Balance   string    `json:"balance"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserResponse(user ledger.User) userResponse {
	return userResponse{
		UserID:    user.ID.String(),
		Username:  user.Username,
		Email:     user.Email,
		Balance:   user.Balance.String(),
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}
}

type requestResponse struct {
	ID              string          `json:"id"`
	Reference       string          `json:"reference"`
	UserID          string          `json:"user_id"`
	Amount          string          `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Metadata        json.RawMessage `json:"metadata"`
	AdminNotes      string          `json:"admin_notes,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func newDepositResponse(deposit ledger.Deposit) requestResponse {
	return requestResponse{
		ID:              deposit.ID.String(),
		Reference:       deposit.Reference,
		UserID:          deposit.UserID.String(),
		Amount:          deposit.Amount.String(),
		Currency:        deposit.Currency,
		Status:          deposit.Status.String(),
		Metadata:        json.RawMessage(deposit.Metadata.String()),
		AdminNotes:      deposit.AdminNotes,
		RejectionReason: deposit.RejectionReason,
		ProcessedAt:     deposit.ProcessedAt,
		CreatedAt:       deposit.CreatedAt,
	}
}

func newWithdrawalResponse(withdrawal ledger.Withdrawal) requestResponse {
	return requestResponse{
		ID:              withdrawal.ID.String(),
		Reference:       withdrawal.Reference,
		UserID:          withdrawal.UserID.String(),
		Amount:          withdrawal.Amount.String(),
		Currency:        withdrawal.Currency,
		Status:          withdrawal.Status.String(),
		Metadata:        json.RawMessage(withdrawal.Metadata.String()),
		AdminNotes:      withdrawal.AdminNotes,
		RejectionReason: withdrawal.RejectionReason,
		ProcessedAt:     withdrawal.ProcessedAt,
		CreatedAt:       withdrawal.CreatedAt,
	}
}

type purchaseResponse struct {
	ID             string     `json:"id"`
	Reference      string     `json:"reference"`
	ProductName    string     `json:"product_name"`
	Price          string     `json:"price"`
	DailyRate      string     `json:"daily_rate"`
	DurationDays   int        `json:"duration_days"`
	Status         string     `json:"status"`
	PurchasedAt    time.Time  `json:"purchased_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastEarningAt  *time.Time `json:"last_earning_at,omitempty"`
	DailyAmount    string     `json:"daily_amount"`
	PotentialTotal string     `json:"potential_total"`
	DaysElapsed    int        `json:"days_elapsed"`
	DaysRemaining  int        `json:"days_remaining"`
}

func newPurchaseResponse(purchase ledger.Purchase, now time.Time) purchaseResponse {
	progress := purchase.Progress(now)
	return purchaseResponse{
		ID:             purchase.ID.String(),
		Reference:      purchase.Reference,
		ProductName:    purchase.ProductName,
		Price:          purchase.Price.String(),
		DailyRate:      purchase.DailyRate.String(),
		DurationDays:   purchase.DurationDays.Int(),
		Status:         purchase.Status.String(),
		PurchasedAt:    purchase.PurchasedAt,
		ExpiresAt:      purchase.ExpiresAt,
		LastEarningAt:  purchase.LastEarningAt,
		DailyAmount:    progress.DailyAmount.String(),
		PotentialTotal: progress.PotentialTotal.String(),
		DaysElapsed:    progress.DaysElapsed,
		DaysRemaining:  progress.DaysRemaining,
	}
}

type earningResponse struct {
	ID          string     `json:"id"`
	PurchaseID  string     `json:"purchase_id"`
	Amount      string     `json:"amount"`
	EarningDate time.Time  `json:"earning_date"`
	Status      string     `json:"status"`
	CreditedAt  *time.Time `json:"credited_at,omitempty"`
}

func newEarningResponse(earning ledger.Earning) earningResponse {
	return earningResponse{
		ID:          earning.ID.String(),
		PurchaseID:  earning.PurchaseID.String(),
		Amount:      earning.Amount.String(),
		EarningDate: earning.EarningDate,
		Status:      earning.Status.String(),
		CreditedAt:  earning.CreditedAt,
	}
}

func newEarningResponses(earnings []ledger.Earning) []earningResponse {
	responses := make([]earningResponse, 0, len(earnings))
	for _, earning := range earnings {
		responses = append(responses, newEarningResponse(earning))
	}
	return responses
}

type summaryResponse struct {
	Total          string `json:"total"`
	Credited       string `json:"credited"`
	Pending        string `json:"pending"`
	Active         string `json:"active"`
	Today          string `json:"today"`
	EarningsCount  int    `json:"earnings_count"`
	CreditedCount  int    `json:"credited_count"`
	PendingCount   int    `json:"pending_count"`
	ActiveCount    int    `json:"active_count"`
	CancelledCount int    `json:"cancelled_count"`
}

func newSummaryResponse(summary ledger.EarningsSummary) summaryResponse {
	return summaryResponse{
		Total:          summary.Total.String(),
		Credited:       summary.Credited.String(),
		Pending:        summary.Pending.String(),
		Active:         summary.Active.String(),
		Today:          summary.Today.String(),
		EarningsCount:  summary.EarningsCount,
		CreditedCount:  summary.CreditedCount,
		PendingCount:   summary.PendingCount,
		ActiveCount:    summary.ActiveCount,
		CancelledCount: summary.CancelledCount,
	}
}

type sweepFailureResponse struct {
	Phase     string `json:"phase"`
	SubjectID string `json:"subject_id"`
	Error     string `json:"error"`
}

type sweepResponse struct {
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        time.Time              `json:"finished_at"`
	BatchSize         int                    `json:"batch_size"`
	Force             bool                   `json:"force"`
	PurchasesScanned  int                    `json:"purchases_scanned"`
	EarningsCreated   int                    `json:"earnings_created"`
	EarningsCredited  int                    `json:"earnings_credited"`
	AmountCredited    string                 `json:"amount_credited"`
	PurchasesExpired  int                    `json:"purchases_expired"`
	PurchasesSkipped  int                    `json:"purchases_skipped"`
	DuplicateEarnings int                    `json:"duplicate_earnings"`
	Interrupted       bool                   `json:"interrupted"`
	Failures          []sweepFailureResponse `json:"failures"`
}

func newSweepResponse(report ledger.SweepReport) sweepResponse {
	failures := make([]sweepFailureResponse, 0, len(report.Failures))
	for _, failure := range report.Failures {
		failures = append(failures, sweepFailureResponse{
			Phase:     failure.Phase,
			SubjectID: failure.SubjectID,
			Error:     failure.Err.Error(),
		})
	}
	return sweepResponse{
		StartedAt:         report.StartedAt,
		FinishedAt:        report.FinishedAt,
		BatchSize:         report.BatchSize,
		Force:             report.Force,
		PurchasesScanned:  report.PurchasesScanned,
		EarningsCreated:   report.EarningsCreated,
		EarningsCredited:  report.EarningsCredited,
		AmountCredited:    report.AmountCredited.String(),
		PurchasesExpired:  report.PurchasesExpired,
		PurchasesSkipped:  report.PurchasesSkipped,
		DuplicateEarnings: report.DuplicateEarnings,
		Interrupted:       report.Interrupted,
		Failures:          failures,
	}
}

type statusResponse struct {
	At                time.Time `json:"at"`
	ActivePurchases   int64     `json:"active_purchases"`
	EligiblePurchases int64     `json:"eligible_purchases"`
	PendingEarnings   int64     `json:"pending_earnings"`
	ActiveEarnings    int64     `json:"active_earnings"`
}
