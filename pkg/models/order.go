package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the kind of order submitted by a client
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeSniper OrderType = "sniper"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusRouting   OrderStatus = "routing"
	StatusBuilding  OrderStatus = "building"
	StatusSubmitted OrderStatus = "submitted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFailed    OrderStatus = "failed"
)

// Venue identifies a liquidity venue an order can be routed to
type Venue string

const (
	// VenueRaydium is venue A
	VenueRaydium Venue = "raydium"
	// VenueMeteora is venue B
	VenueMeteora Venue = "meteora"
)

// Order represents a swap order and its execution outcome
type Order struct {
	ID            string              `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderType     OrderType           `json:"orderType" gorm:"type:varchar(20);not null;default:market"`
	Status        OrderStatus         `json:"status" gorm:"type:varchar(20);not null;index"`
	TokenIn       string              `json:"tokenIn" gorm:"type:varchar(100);not null"`
	TokenOut      string              `json:"tokenOut" gorm:"type:varchar(100);not null"`
	AmountIn      decimal.Decimal     `json:"amountIn" gorm:"type:decimal(20,8);not null"`
	Slippage      decimal.Decimal     `json:"slippage" gorm:"type:decimal(10,4);not null"`
	SelectedDex   *Venue              `json:"selectedDex,omitempty" gorm:"type:varchar(20)"`
	ExecutedPrice decimal.NullDecimal `json:"executedPrice,omitempty" gorm:"type:decimal(20,8)"`
	AmountOut     decimal.NullDecimal `json:"amountOut,omitempty" gorm:"type:decimal(20,8)"`
	TxHash        *string             `json:"txHash,omitempty" gorm:"type:varchar(100)"`
	FailureReason *string             `json:"failureReason,omitempty" gorm:"type:text"`
	RetryCount    int                 `json:"retryCount" gorm:"not null;default:0"`
	CreatedAt     time.Time           `json:"createdAt" gorm:"index"`
	UpdatedAt     time.Time           `json:"updatedAt"`
	ExecutedAt    *time.Time          `json:"executedAt,omitempty"`
}

// TableName overrides the gorm table name
func (Order) TableName() string {
	return "orders"
}

// HasExecution reports whether any execution field is set
func (o *Order) HasExecution() bool {
	return o.SelectedDex != nil || o.ExecutedPrice.Valid || o.AmountOut.Valid || o.TxHash != nil || o.ExecutedAt != nil
}

// OrderPatch holds the fields changed alongside a status transition.
// Nil fields are left untouched unless the matching Clear flag is set.
type OrderPatch struct {
	SelectedDex   *Venue
	ExecutedPrice *decimal.Decimal
	AmountOut     *decimal.Decimal
	TxHash        *string
	ExecutedAt    *time.Time
	FailureReason *string

	ClearExecution bool
	ClearFailure   bool
	IncrementRetry bool
}

// OrderStatistics summarizes persisted orders by status
type OrderStatistics struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Confirmed int64 `json:"confirmed"`
	Failed    int64 `json:"failed"`
}

// NullDecimal returns an unset optional decimal
func NullDecimal() decimal.NullDecimal {
	return decimal.NullDecimal{}
}

// NewNullDecimal returns a set optional decimal
func NewNullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
