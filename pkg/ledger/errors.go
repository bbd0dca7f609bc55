package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrUnknownUser             = errors.New("unknown user")
	ErrUnknownPurchase         = errors.New("unknown purchase")
	ErrUnknownEarning          = errors.New("unknown earning")
	ErrUnknownDeposit          = errors.New("unknown deposit")
	ErrUnknownWithdrawal       = errors.New("unknown withdrawal")
	ErrUserExists              = errors.New("user already exists")
	ErrDuplicateEarning        = errors.New("duplicate earning")
	ErrStaleRecord             = errors.New("stale record")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrDanglingReference       = errors.New("dangling reference")
	ErrInvalidStoredValue      = errors.New("invalid stored value")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidPurchaseID       = errors.New("invalid purchase id")
	ErrInvalidEarningID        = errors.New("invalid earning id")
	ErrInvalidDepositID        = errors.New("invalid deposit id")
	ErrInvalidWithdrawalID     = errors.New("invalid withdrawal id")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidBalance          = errors.New("invalid balance")
	ErrInvalidPrice            = errors.New("invalid price")
	ErrInvalidDailyRate        = errors.New("invalid daily rate")
	ErrInvalidDurationDays     = errors.New("invalid duration days")
	ErrInvalidProductName      = errors.New("invalid product name")
	ErrInvalidCurrency         = errors.New("invalid currency")
	ErrInvalidUsername         = errors.New("invalid username")
	ErrInvalidEmail            = errors.New("invalid email")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidPurchaseStatus   = errors.New("invalid purchase status")
	ErrInvalidEarningStatus    = errors.New("invalid earning status")
	ErrInvalidRequestStatus    = errors.New("invalid request status")
	ErrInvalidCreditingPolicy  = errors.New("invalid crediting policy")
	ErrInvalidBatchSize        = errors.New("invalid batch size")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
	ErrPurchaseOwnershipDenied = errors.New("purchase belongs to another user")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// DanglingReferenceError reports a record whose owning user no longer exists.
// It matches ErrDanglingReference under errors.Is.
type DanglingReferenceError struct {
	Subject   string
	SubjectID string
	UserID    UserID
}

func (danglingError DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s %s references missing user %s", danglingError.Subject, danglingError.SubjectID, danglingError.UserID.String())
}

// Is reports whether target is ErrDanglingReference.
func (danglingError DanglingReferenceError) Is(target error) bool {
	return target == ErrDanglingReference
}

// InvalidStoredValue marks err as a corrupt persisted value. Store backends use it
// when a row cannot be mapped back into a domain type.
func InvalidStoredValue(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidStoredValue, err)
}
