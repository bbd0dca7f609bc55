package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User mirrors the users table.
type User struct {
	ID        string          `gorm:"type:varchar(64);primaryKey"`
	Username  string          `gorm:"type:varchar(150);not null"`
	Email     string          `gorm:"type:varchar(254);not null;default:''"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Active    bool            `gorm:"not null;default:true"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime:false"`
}

func (User) TableName() string { return "users" }

// Purchase mirrors the purchases table.
type Purchase struct {
	ID            string          `gorm:"type:varchar(64);primaryKey"`
	Reference     string          `gorm:"type:varchar(32);not null;uniqueIndex:uniq_purchase_reference"`
	UserID        string          `gorm:"type:varchar(64);not null;index:idx_purchases_user_created,priority:1"`
	ProductName   string          `gorm:"type:varchar(100);not null"`
	Price         decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	DailyRate     decimal.Decimal `gorm:"type:numeric(10,4);not null"`
	DurationDays  int             `gorm:"not null"`
	Status        string          `gorm:"type:varchar(16);not null;index:idx_purchases_status_id,priority:1"`
	PurchasedAt   time.Time       `gorm:"not null"`
	ExpiresAt     time.Time       `gorm:"not null"`
	LastEarningAt *time.Time
	CreatedAt     time.Time `gorm:"not null;autoCreateTime:false;index:idx_purchases_user_created,priority:2"`
}

func (Purchase) TableName() string { return "purchases" }

// Earning mirrors the earnings table. One row per purchase and earning date.
type Earning struct {
	ID          string          `gorm:"type:varchar(64);primaryKey"`
	UserID      string          `gorm:"type:varchar(64);not null;index:idx_earnings_user_date,priority:1"`
	PurchaseID  string          `gorm:"type:varchar(64);not null;uniqueIndex:uniq_earning_purchase_date,priority:1"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	EarningDate time.Time       `gorm:"not null;uniqueIndex:uniq_earning_purchase_date,priority:2;index:idx_earnings_user_date,priority:2"`
	Status      string          `gorm:"type:varchar(16);not null;index:idx_earnings_status_id,priority:1"`
	CreditedAt  *time.Time
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
	Notes       string    `gorm:"type:text;not null;default:''"`
}

func (Earning) TableName() string { return "earnings" }

// Deposit mirrors the deposits table.
type Deposit struct {
	ID              string          `gorm:"type:varchar(64);primaryKey"`
	Reference       string          `gorm:"type:varchar(32);not null;uniqueIndex:uniq_deposit_reference"`
	UserID          string          `gorm:"type:varchar(64);not null;index"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Currency        string          `gorm:"type:varchar(8);not null"`
	Status          string          `gorm:"type:varchar(16);not null;index"`
	Metadata        datatypes.JSON  `gorm:"type:jsonb;not null"`
	AdminNotes      string          `gorm:"type:text;not null;default:''"`
	RejectionReason string          `gorm:"type:text;not null;default:''"`
	ProcessedAt     *time.Time
	CreatedAt       time.Time `gorm:"not null;autoCreateTime:false"`
}

func (Deposit) TableName() string { return "deposits" }

// Withdrawal mirrors the withdrawals table.
type Withdrawal struct {
	ID              string          `gorm:"type:varchar(64);primaryKey"`
	Reference       string          `gorm:"type:varchar(32);not null;uniqueIndex:uniq_withdrawal_reference"`
	UserID          string          `gorm:"type:varchar(64);not null;index"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Currency        string          `gorm:"type:varchar(8);not null"`
	Status          string          `gorm:"type:varchar(16);not null;index"`
	Metadata        datatypes.JSON  `gorm:"type:jsonb;not null"`
	AdminNotes      string          `gorm:"type:text;not null;default:''"`
	RejectionReason string          `gorm:"type:text;not null;default:''"`
	ProcessedAt     *time.Time
	CreatedAt       time.Time `gorm:"not null;autoCreateTime:false"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

// AutoMigrate creates or updates every table the store uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Purchase{}, &Earning{}, &Deposit{}, &Withdrawal{})
}
