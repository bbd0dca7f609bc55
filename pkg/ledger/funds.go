package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	subjectDeposit    = "deposit"
	subjectWithdrawal = "withdrawal"
)

// EnsureUser returns the user, creating it with a zero balance on first sight.
func (service *Service) EnsureUser(ctx context.Context, userID UserID, profile UserProfile) (User, error) {
	user, err := service.store.GetUser(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUnknownUser) {
		return User{}, err
	}
	username := strings.TrimSpace(profile.Username)
	if username == "" {
		username = userID.String()
	}
	email := strings.TrimSpace(profile.Email)
	if email != "" && !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: %q", ErrInvalidEmail, profile.Email)
	}
	now := service.now()
	user = User{
		ID:        userID,
		Username:  username,
		Email:     email,
		Balance:   ZeroBalance(),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	createError := service.store.CreateUser(ctx, user)
	if errors.Is(createError, ErrUserExists) {
		return service.store.GetUser(ctx, userID)
	}
	service.logOperation(ctx, OperationLog{Operation: OperationEnsureUser, UserID: userID, SubjectID: userID.String(), Error: createError})
	if createError != nil {
		return User{}, createError
	}
	return user, nil
}

// GetUser returns a user by id.
func (service *Service) GetUser(ctx context.Context, userID UserID) (User, error) {
	return service.store.GetUser(ctx, userID)
}

// Balance returns the spendable balance of a user.
func (service *Service) Balance(ctx context.Context, userID UserID) (Balance, error) {
	user, err := service.store.GetUser(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return user.Balance, nil
}

// RequestDeposit records a PENDING deposit awaiting administrator approval.
func (service *Service) RequestDeposit(ctx context.Context, userID UserID, request FundsRequest) (Deposit, error) {
	deposit, operationError := service.newDeposit(ctx, userID, request)
	if operationError == nil {
		operationError = service.store.CreateDeposit(ctx, deposit)
	}
	service.logOperation(ctx, OperationLog{
		Operation: OperationRequestDeposit,
		UserID:    userID,
		SubjectID: deposit.ID.String(),
		Amount:    request.Amount.Decimal(),
		Error:     operationError,
	})
	if operationError != nil {
		return Deposit{}, operationError
	}
	return deposit, nil
}

func (service *Service) newDeposit(ctx context.Context, userID UserID, request FundsRequest) (Deposit, error) {
	if _, err := NewAmount(request.Amount.Decimal()); err != nil {
		return Deposit{}, err
	}
	currency, err := normalizeCurrency(request.Currency)
	if err != nil {
		return Deposit{}, err
	}
	if _, err := service.store.GetUser(ctx, userID); err != nil {
		return Deposit{}, err
	}
	depositID, err := NewDepositID(service.newID())
	if err != nil {
		return Deposit{}, err
	}
	now := service.now()
	return Deposit{
		ID:        depositID,
		Reference: service.reference(referencePrefixDeposit, depositID.String(), now),
		UserID:    userID,
		Amount:    request.Amount,
		Currency:  currency,
		Status:    RequestStatusPending,
		Metadata:  request.Metadata,
		CreatedAt: now,
	}, nil
}

// ApproveDeposit credits the deposit amount to the owner and closes the deposit as COMPLETED.
func (service *Service) ApproveDeposit(ctx context.Context, depositID DepositID, adminNotes string) (Deposit, error) {
	now := service.now()
	var deposit Deposit
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		found, err := transactionStore.GetDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		user, err := lockOwner(ctx, transactionStore, found.UserID, subjectDeposit, depositID.String())
		if err != nil {
			return err
		}
		deposit, err = transactionStore.GetDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		if deposit.Status != RequestStatusPending {
			return fmt.Errorf("%w: deposit is %s", ErrInvalidTransition, deposit.Status)
		}
		if err := transactionStore.UpdateUserBalance(ctx, user.ID, user.Balance.Add(deposit.Amount), now); err != nil {
			return err
		}
		decision := RequestDecision{From: RequestStatusPending, To: RequestStatusCompleted, AdminNotes: adminNotes, ProcessedAt: now}
		if err := transactionStore.UpdateDepositStatus(ctx, depositID, decision); err != nil {
			return err
		}
		deposit.Status = RequestStatusCompleted
		deposit.AdminNotes = adminNotes
		deposit.ProcessedAt = &now
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: OperationApproveDeposit,
		UserID:    deposit.UserID,
		SubjectID: depositID.String(),
		Amount:    deposit.Amount.Decimal(),
		Error:     operationError,
	})
	if operationError != nil {
		return Deposit{}, operationError
	}
	service.publish(ctx, Event{Kind: EventDepositApproved, UserID: deposit.UserID, SubjectID: depositID.String(), Amount: deposit.Amount.Decimal(), OccurredAt: now})
	return deposit, nil
}

// RejectDeposit closes a PENDING deposit without touching the balance.
func (service *Service) RejectDeposit(ctx context.Context, depositID DepositID, reason string) (Deposit, error) {
	now := service.now()
	var deposit Deposit
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		deposit, err = transactionStore.GetDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		if !deposit.Status.canTransitionTo(RequestStatusRejected) {
			return fmt.Errorf("%w: deposit is %s", ErrInvalidTransition, deposit.Status)
		}
		decision := RequestDecision{From: deposit.Status, To: RequestStatusRejected, RejectionReason: reason, ProcessedAt: now}
		if err := transactionStore.UpdateDepositStatus(ctx, depositID, decision); err != nil {
			return err
		}
		deposit.Status = RequestStatusRejected
		deposit.RejectionReason = reason
		deposit.ProcessedAt = &now
		return nil
	})
	service.logOperation(ctx, OperationLog{Operation: OperationRejectDeposit, UserID: deposit.UserID, SubjectID: depositID.String(), Reason: reason, Error: operationError})
	if operationError != nil {
		return Deposit{}, operationError
	}
	service.publish(ctx, Event{Kind: EventDepositRejected, UserID: deposit.UserID, SubjectID: depositID.String(), Amount: deposit.Amount.Decimal(), OccurredAt: now})
	return deposit, nil
}

// RequestWithdrawal records a PENDING withdrawal. The balance is checked but
// only debited on approval.
func (service *Service) RequestWithdrawal(ctx context.Context, userID UserID, request FundsRequest) (Withdrawal, error) {
	withdrawal, operationError := service.newWithdrawal(ctx, userID, request)
	if operationError == nil {
		operationError = service.store.CreateWithdrawal(ctx, withdrawal)
	}
	service.logOperation(ctx, OperationLog{
		Operation: OperationRequestWithdrawal,
		UserID:    userID,
		SubjectID: withdrawal.ID.String(),
		Amount:    request.Amount.Decimal(),
		Error:     operationError,
	})
	if operationError != nil {
		return Withdrawal{}, operationError
	}
	service.publish(ctx, Event{Kind: EventWithdrawalRequested, UserID: userID, SubjectID: withdrawal.ID.String(), Amount: withdrawal.Amount.Decimal(), OccurredAt: withdrawal.CreatedAt})
	return withdrawal, nil
}

func (service *Service) newWithdrawal(ctx context.Context, userID UserID, request FundsRequest) (Withdrawal, error) {
	if _, err := NewAmount(request.Amount.Decimal()); err != nil {
		return Withdrawal{}, err
	}
	currency, err := normalizeCurrency(request.Currency)
	if err != nil {
		return Withdrawal{}, err
	}
	user, err := service.store.GetUser(ctx, userID)
	if err != nil {
		return Withdrawal{}, err
	}
	if !user.Balance.Covers(request.Amount) {
		return Withdrawal{}, ErrInsufficientFunds
	}
	withdrawalID, err := NewWithdrawalID(service.newID())
	if err != nil {
		return Withdrawal{}, err
	}
	now := service.now()
	return Withdrawal{
		ID:        withdrawalID,
		Reference: service.reference(referencePrefixWithdrawal, withdrawalID.String(), now),
		UserID:    userID,
		Amount:    request.Amount,
		Currency:  currency,
		Status:    RequestStatusPending,
		Metadata:  request.Metadata,
		CreatedAt: now,
	}, nil
}

// ApproveWithdrawal debits the owner and moves the withdrawal to APPROVED.
func (service *Service) ApproveWithdrawal(ctx context.Context, withdrawalID WithdrawalID, adminNotes string) (Withdrawal, error) {
	now := service.now()
	var withdrawal Withdrawal
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		found, err := transactionStore.GetWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		user, err := lockOwner(ctx, transactionStore, found.UserID, subjectWithdrawal, withdrawalID.String())
		if err != nil {
			return err
		}
		withdrawal, err = transactionStore.GetWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if withdrawal.Status != RequestStatusPending {
			return fmt.Errorf("%w: withdrawal is %s", ErrInvalidTransition, withdrawal.Status)
		}
		balance, err := user.Balance.Subtract(withdrawal.Amount)
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateUserBalance(ctx, user.ID, balance, now); err != nil {
			return err
		}
		decision := RequestDecision{From: RequestStatusPending, To: RequestStatusApproved, AdminNotes: adminNotes, ProcessedAt: now}
		if err := transactionStore.UpdateWithdrawalStatus(ctx, withdrawalID, decision); err != nil {
			return err
		}
		withdrawal.Status = RequestStatusApproved
		withdrawal.AdminNotes = adminNotes
		withdrawal.ProcessedAt = &now
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: OperationApproveWithdrawal,
		UserID:    withdrawal.UserID,
		SubjectID: withdrawalID.String(),
		Amount:    withdrawal.Amount.Decimal(),
		Error:     operationError,
	})
	if operationError != nil {
		return Withdrawal{}, operationError
	}
	service.publish(ctx, Event{Kind: EventWithdrawalApproved, UserID: withdrawal.UserID, SubjectID: withdrawalID.String(), Amount: withdrawal.Amount.Decimal(), OccurredAt: now})
	return withdrawal, nil
}

// RejectWithdrawal closes a PENDING withdrawal without touching the balance.
func (service *Service) RejectWithdrawal(ctx context.Context, withdrawalID WithdrawalID, reason string) (Withdrawal, error) {
	withdrawal, err := service.decideWithdrawal(ctx, withdrawalID, RequestStatusPending, RequestDecision{To: RequestStatusRejected, RejectionReason: reason})
	service.logOperation(ctx, OperationLog{Operation: OperationRejectWithdrawal, UserID: withdrawal.UserID, SubjectID: withdrawalID.String(), Reason: reason, Error: err})
	if err != nil {
		return Withdrawal{}, err
	}
	service.publish(ctx, Event{Kind: EventWithdrawalRejected, UserID: withdrawal.UserID, SubjectID: withdrawalID.String(), Amount: withdrawal.Amount.Decimal(), OccurredAt: *withdrawal.ProcessedAt})
	return withdrawal, nil
}

// CompleteWithdrawal marks an APPROVED withdrawal as paid out.
func (service *Service) CompleteWithdrawal(ctx context.Context, withdrawalID WithdrawalID) (Withdrawal, error) {
	withdrawal, err := service.decideWithdrawal(ctx, withdrawalID, RequestStatusApproved, RequestDecision{To: RequestStatusCompleted})
	service.logOperation(ctx, OperationLog{Operation: OperationCompleteWithdrawal, UserID: withdrawal.UserID, SubjectID: withdrawalID.String(), Error: err})
	if err != nil {
		return Withdrawal{}, err
	}
	service.publish(ctx, Event{Kind: EventWithdrawalCompleted, UserID: withdrawal.UserID, SubjectID: withdrawalID.String(), Amount: withdrawal.Amount.Decimal(), OccurredAt: *withdrawal.ProcessedAt})
	return withdrawal, nil
}

// decideWithdrawal applies a status change that does not move money.
func (service *Service) decideWithdrawal(ctx context.Context, withdrawalID WithdrawalID, required RequestStatus, decision RequestDecision) (Withdrawal, error) {
	now := service.now()
	var withdrawal Withdrawal
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		withdrawal, err = transactionStore.GetWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if withdrawal.Status != required || !withdrawal.Status.canTransitionTo(decision.To) {
			return fmt.Errorf("%w: withdrawal is %s", ErrInvalidTransition, withdrawal.Status)
		}
		decision.From = withdrawal.Status
		decision.AdminNotes = withdrawal.AdminNotes
		decision.ProcessedAt = now
		if err := transactionStore.UpdateWithdrawalStatus(ctx, withdrawalID, decision); err != nil {
			return err
		}
		withdrawal.Status = decision.To
		withdrawal.RejectionReason = decision.RejectionReason
		withdrawal.ProcessedAt = &now
		return nil
	})
	return withdrawal, err
}
