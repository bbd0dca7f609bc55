package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreditingPolicy decides how accrued earnings reach the user balance.
type CreditingPolicy string

const (
	// CreditingPolicyIncremental accrues PENDING earnings that sweeps credit one by one.
	CreditingPolicyIncremental CreditingPolicy = "incremental"
	// CreditingPolicyMaturity accrues ACTIVE earnings that CreditTotal pays out once the cap is reached.
	CreditingPolicyMaturity CreditingPolicy = "maturity"
)

// ParseCreditingPolicy rejects unknown policy names.
func ParseCreditingPolicy(raw string) (CreditingPolicy, error) {
	switch policy := CreditingPolicy(strings.ToLower(strings.TrimSpace(raw))); policy {
	case CreditingPolicyIncremental, CreditingPolicyMaturity:
		return policy, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCreditingPolicy, raw)
	}
}

func (policy CreditingPolicy) String() string {
	return string(policy)
}

func (policy CreditingPolicy) accrualStatus() EarningStatus {
	switch policy {
	case CreditingPolicyMaturity:
		return EarningStatusActive
	case CreditingPolicyIncremental:
		return EarningStatusPending
	default:
		return EarningStatusPending
	}
}

// Service contains the domain logic over a Store.
type Service struct {
	store         Store
	nowFn         func() time.Time
	newID         func() string
	logger        OperationLogger
	publisher     EventPublisher
	sweepObserver SweepObserver
	policy        CreditingPolicy
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:  store,
		nowFn:  now,
		newID:  uuid.NewString,
		policy: CreditingPolicyIncremental,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.newID == nil {
		return nil, fmt.Errorf("%w: id generator is nil", ErrInvalidServiceConfig)
	}
	if _, err := ParseCreditingPolicy(service.policy.String()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, err)
	}
	return service, nil
}

// CreditingPolicy returns the policy fixed at construction.
func (service *Service) CreditingPolicy() CreditingPolicy {
	return service.policy
}

// now returns the clock reading in UTC at the precision every backend round-trips.
func (service *Service) now() time.Time {
	return service.nowFn().UTC().Truncate(storedTimePrecision)
}

func (service *Service) reference(prefix string, id string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > referenceSuffixLength {
		suffix = suffix[:referenceSuffixLength]
	}
	return prefix + "-" + at.UTC().Format(referenceTimeLayout) + "-" + suffix
}

// lockOwner takes the user row lock, translating a missing owner into a DanglingReferenceError.
func lockOwner(ctx context.Context, transactionStore Store, userID UserID, subject string, subjectID string) (User, error) {
	user, err := transactionStore.LockUser(ctx, userID)
	if errors.Is(err, ErrUnknownUser) {
		return User{}, DanglingReferenceError{Subject: subject, SubjectID: subjectID, UserID: userID}
	}
	return user, err
}
