package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operation names reported to OperationLogger implementations.
const (
	OperationEnsureUser         = "ensure_user"
	OperationRequestDeposit     = "request_deposit"
	OperationApproveDeposit     = "approve_deposit"
	OperationRejectDeposit      = "reject_deposit"
	OperationRequestWithdrawal  = "request_withdrawal"
	OperationApproveWithdrawal  = "approve_withdrawal"
	OperationRejectWithdrawal   = "reject_withdrawal"
	OperationCompleteWithdrawal = "complete_withdrawal"
	OperationBuy                = "buy"
	OperationCancelPurchase     = "cancel_purchase"
	OperationAccrue             = "accrue"
	OperationExpire             = "expire"
	OperationCredit             = "credit"
	OperationCreditTotal        = "credit_total"
	OperationCancelEarning      = "cancel_earning"
)

// Operation statuses reported alongside operation names.
const (
	OperationStatusOK      = "ok"
	OperationStatusError   = "error"
	OperationStatusSkipped = "skipped"
)

const (
	// DefaultSweepBatchSize is used when a sweep request leaves BatchSize unset.
	DefaultSweepBatchSize = 100
	// MaxSweepBatchSize bounds a single sweep page.
	MaxSweepBatchSize = 1000
	// AccrualInterval is the minimum spacing between two accruals of one purchase.
	AccrualInterval = 24 * time.Hour

	MinDurationDays = 1
	MaxDurationDays = 365

	priceScale  = 2
	rateScale   = 4
	amountScale = 6

	maxCurrencyLength = 8
	defaultCurrency   = "USD"

	referencePrefixPurchase   = "PUR"
	referencePrefixDeposit    = "DEP"
	referencePrefixWithdrawal = "WTH"
	referenceTimeLayout       = "20060102150405"
	referenceSuffixLength     = 6

	storedTimePrecision  = time.Microsecond
	earningDatePrecision = time.Second
)

var maxDailyRate = decimal.New(5, -1)
