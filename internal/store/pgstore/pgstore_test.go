package pgstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/yield/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage    = "docker.io/postgres:16-alpine"
	postgresDatabase = "yield"
	postgresUser     = "postgres"
	postgresPassword = "example"
	truncateTables   = `truncate users, purchases, earnings, deposits, withdrawals`
)

var suiteEpoch = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

type PGStoreTestSuite struct {
	suite.Suite
	postgres testcontainers.Container
	pool     *pgxpool.Pool
	store    *pgstore.Store
}

func TestPGStoreSuite(test *testing.T) {
	if testing.Short() {
		test.Skip("Skipping integration test")
	}
	suite.Run(test, new(PGStoreTestSuite))
}

func (suite *PGStoreTestSuite) SetupSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	postgresContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage(postgresImage),
		tcpostgres.WithDatabase(postgresDatabase),
		tcpostgres.WithUsername(postgresUser),
		tcpostgres.WithPassword(postgresPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(suite.T(), err)
	suite.postgres = postgresContainer

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(suite.T(), err)
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), pgstore.ApplySchema(ctx, pool))
	suite.pool = pool
	suite.store = pgstore.New(pool)
}

func (suite *PGStoreTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if suite.pool != nil {
		suite.pool.Close()
	}
	if suite.postgres != nil {
		require.NoError(suite.T(), suite.postgres.Terminate(ctx))
	}
}

func (suite *PGStoreTestSuite) SetupTest() {
	_, err := suite.pool.Exec(context.Background(), truncateTables)
	require.NoError(suite.T(), err)
}

func (suite *PGStoreTestSuite) newService(now *time.Time) *ledger.Service {
	service, err := ledger.NewService(suite.store, func() time.Time { return *now })
	require.NoError(suite.T(), err)
	return service
}

func (suite *PGStoreTestSuite) fundedUser(service *ledger.Service, raw string, amount string) ledger.UserID {
	ctx := context.Background()
	userID, err := ledger.NewUserID(raw)
	require.NoError(suite.T(), err)
	_, err = service.EnsureUser(ctx, userID, ledger.UserProfile{})
	require.NoError(suite.T(), err)
	parsed, err := ledger.ParseAmount(amount)
	require.NoError(suite.T(), err)
	deposit, err := service.RequestDeposit(ctx, userID, ledger.FundsRequest{Amount: parsed})
	require.NoError(suite.T(), err)
	_, err = service.ApproveDeposit(ctx, deposit.ID, "")
	require.NoError(suite.T(), err)
	return userID
}

func (suite *PGStoreTestSuite) buy(service *ledger.Service, userID ledger.UserID, price string, rate string, days int) ledger.Purchase {
	parsedPrice, err := ledger.ParsePrice(price)
	require.NoError(suite.T(), err)
	parsedRate, err := ledger.ParseDailyRate(rate)
	require.NoError(suite.T(), err)
	parsedDays, err := ledger.NewDurationDays(days)
	require.NoError(suite.T(), err)
	purchase, err := service.Buy(context.Background(), userID, ledger.PurchaseOrder{
		ProductName:  "Growth Plan",
		Price:        parsedPrice,
		DailyRate:    parsedRate,
		DurationDays: parsedDays,
	})
	require.NoError(suite.T(), err)
	return purchase
}

func (suite *PGStoreTestSuite) TestFullTermPaysExactCap() {
	now := suiteEpoch
	service := suite.newService(&now)
	userID := suite.fundedUser(service, "user-1", "1000")
	purchase := suite.buy(service, userID, "1000", "0.10", 30)

	for day := 0; day <= 30; day++ {
		report, err := service.RunSweep(context.Background(), ledger.SweepRequest{BatchSize: 7})
		require.NoError(suite.T(), err)
		require.Empty(suite.T(), report.Failures)
		now = now.Add(24 * time.Hour)
	}

	balance, err := service.Balance(context.Background(), userID)
	require.NoError(suite.T(), err)
	require.True(suite.T(), balance.Decimal().Equal(decimal.NewFromInt(3000)), "balance %s", balance)
	earnings, err := service.PurchaseEarnings(context.Background(), userID, purchase.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), earnings, 30)
	stored, err := suite.store.GetPurchase(context.Background(), purchase.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), ledger.PurchaseStatusCompleted, stored.Status)
}

func (suite *PGStoreTestSuite) TestConcurrentAccrualCreatesOneEarning() {
	now := suiteEpoch
	service := suite.newService(&now)
	userID := suite.fundedUser(service, "user-1", "100")
	purchase := suite.buy(service, userID, "100", "0.05", 10)

	const workers = 8
	var waitGroup sync.WaitGroup
	outcomes := make([]ledger.AccrualOutcome, workers)
	failures := make([]error, workers)
	for index := 0; index < workers; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			outcomes[index], failures[index] = service.AccruePurchase(context.Background(), purchase.ID, false)
		}(index)
	}
	waitGroup.Wait()

	accrued := 0
	for index := 0; index < workers; index++ {
		require.NoError(suite.T(), failures[index])
		if outcomes[index].Decision == ledger.AccrualAccrue {
			accrued++
		}
	}
	require.Equal(suite.T(), 1, accrued)
	earnings, err := suite.store.ListEarningsByPurchase(context.Background(), purchase.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), earnings, 1)
}

func (suite *PGStoreTestSuite) TestConcurrentCreditAppliesOnce() {
	now := suiteEpoch
	service := suite.newService(&now)
	userID := suite.fundedUser(service, "user-1", "100")
	purchase := suite.buy(service, userID, "100", "0.05", 10)
	outcome, err := service.AccruePurchase(context.Background(), purchase.ID, false)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), outcome.Earning)

	const workers = 6
	var waitGroup sync.WaitGroup
	results := make([]ledger.CreditResult, workers)
	failures := make([]error, workers)
	for index := 0; index < workers; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			results[index], failures[index] = service.Credit(context.Background(), outcome.Earning.ID)
		}(index)
	}
	waitGroup.Wait()

	credited := 0
	for index := 0; index < workers; index++ {
		require.NoError(suite.T(), failures[index])
		if results[index].Outcome == ledger.CreditOutcomeCredited {
			credited++
		}
	}
	require.Equal(suite.T(), 1, credited)
	balance, err := service.Balance(context.Background(), userID)
	require.NoError(suite.T(), err)
	require.True(suite.T(), balance.Decimal().Equal(decimal.NewFromInt(5)), "balance %s", balance)
}

func (suite *PGStoreTestSuite) TestConcurrentBuysNeverOverdraw() {
	now := suiteEpoch
	service := suite.newService(&now)
	userID := suite.fundedUser(service, "user-1", "250")

	const workers = 5
	var waitGroup sync.WaitGroup
	failures := make([]error, workers)
	for index := 0; index < workers; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			parsedPrice, _ := ledger.ParsePrice("100")
			parsedRate, _ := ledger.ParseDailyRate("0.01")
			parsedDays, _ := ledger.NewDurationDays(5)
			_, failures[index] = service.Buy(context.Background(), userID, ledger.PurchaseOrder{
				ProductName:  fmt.Sprintf("Plan %d", index),
				Price:        parsedPrice,
				DailyRate:    parsedRate,
				DurationDays: parsedDays,
			})
		}(index)
	}
	waitGroup.Wait()

	succeeded := 0
	for _, err := range failures {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(suite.T(), err, ledger.ErrInsufficientFunds)
	}
	require.Equal(suite.T(), 2, succeeded)
	balance, err := service.Balance(context.Background(), userID)
	require.NoError(suite.T(), err)
	require.True(suite.T(), balance.Decimal().Equal(decimal.NewFromInt(50)), "balance %s", balance)
}

func (suite *PGStoreTestSuite) TestDuplicateEarningAndStaleAdvance() {
	now := suiteEpoch
	service := suite.newService(&now)
	userID := suite.fundedUser(service, "user-1", "100")
	purchase := suite.buy(service, userID, "100", "0.05", 10)
	earningID, err := ledger.NewEarningID("e-1")
	require.NoError(suite.T(), err)
	amount, err := ledger.ParseAmount("5")
	require.NoError(suite.T(), err)
	earning := ledger.Earning{
		ID:          earningID,
		UserID:      userID,
		PurchaseID:  purchase.ID,
		Amount:      amount,
		EarningDate: suiteEpoch,
		Status:      ledger.EarningStatusPending,
		CreatedAt:   suiteEpoch,
	}
	ctx := context.Background()
	require.NoError(suite.T(), suite.store.InsertEarning(ctx, earning))
	earning.ID, err = ledger.NewEarningID("e-2")
	require.NoError(suite.T(), err)
	require.ErrorIs(suite.T(), suite.store.InsertEarning(ctx, earning), ledger.ErrDuplicateEarning)

	stale := suiteEpoch.Add(-time.Hour)
	require.ErrorIs(suite.T(), suite.store.AdvanceLastEarningAt(ctx, purchase.ID, &stale, suiteEpoch), ledger.ErrStaleRecord)
	require.NoError(suite.T(), suite.store.AdvanceLastEarningAt(ctx, purchase.ID, nil, suiteEpoch.Add(123*time.Microsecond)))
}

func (suite *PGStoreTestSuite) TestMaturityCreditTotal() {
	now := suiteEpoch
	service, err := ledger.NewService(suite.store, func() time.Time { return now }, ledger.WithCreditingPolicy(ledger.CreditingPolicyMaturity))
	require.NoError(suite.T(), err)
	userID := suite.fundedUser(service, "user-1", "100")
	purchase := suite.buy(service, userID, "100", "0.10", 3)

	for day := 0; day < 3; day++ {
		_, err := service.RunSweep(context.Background(), ledger.SweepRequest{})
		require.NoError(suite.T(), err)
		now = now.Add(24 * time.Hour)
	}
	result, err := service.CreditTotal(context.Background(), userID, purchase.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), ledger.CreditTotalOutcomeCredited, result.Outcome)
	require.True(suite.T(), result.CreditedAmount.Equal(decimal.NewFromInt(30)), "credited %s", result.CreditedAmount)

	summary, err := service.EarningsSummary(context.Background(), userID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 3, summary.CreditedCount)
}
