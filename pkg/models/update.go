package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusUpdate is the event published to an order's subscriber on every transition
type StatusUpdate struct {
	OrderID       string           `json:"orderId"`
	Status        OrderStatus      `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Message       string           `json:"message,omitempty"`
	TxHash        string           `json:"txHash,omitempty"`
	ExecutedPrice *decimal.Decimal `json:"executedPrice,omitempty"`
	SelectedDex   Venue            `json:"selectedDex,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Quote is a venue's price offer for a swap
type Quote struct {
	Dex             Venue           `json:"dex"`
	Price           decimal.Decimal `json:"price"`
	Fee             decimal.Decimal `json:"fee"`
	EstimatedOutput decimal.Decimal `json:"estimatedOutput"`
}

// ExecutionResult is the receipt of a simulated swap
type ExecutionResult struct {
	TxHash        string          `json:"txHash"`
	ExecutedPrice decimal.Decimal `json:"executedPrice"`
	AmountOut     decimal.Decimal `json:"amountOut"`
	Dex           Venue           `json:"dex"`
}

// CreateOrderRequest is the client payload for a new order
type CreateOrderRequest struct {
	TokenIn   string           `json:"tokenIn" validate:"required,max=100"`
	TokenOut  string           `json:"tokenOut" validate:"required,max=100"`
	AmountIn  decimal.Decimal  `json:"amountIn" validate:"gt=0"`
	OrderType OrderType        `json:"orderType" validate:"omitempty,oneof=market limit sniper"`
	Slippage  *decimal.Decimal `json:"slippage,omitempty" validate:"omitempty,gte=0,lte=100"`
}
