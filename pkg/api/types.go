package api

import (
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/models"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	OrderID string `json:"orderId,omitempty"`
}

// SocketError is the frame sent before a websocket is closed for a bad order
type SocketError struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// SubmitOrderResponse acknowledges an accepted order
type SubmitOrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
}

// OrderResponse wraps a single order
type OrderResponse struct {
	Success bool          `json:"success"`
	Order   *models.Order `json:"order"`
}

// OrderListResponse wraps a page of orders
type OrderListResponse struct {
	Success bool           `json:"success"`
	Count   int            `json:"count"`
	Orders  []models.Order `json:"orders"`
}

// WebsocketStats reports live socket subscribers
type WebsocketStats struct {
	ActiveConnections int `json:"activeConnections"`
}

// StatsResponse combines order and queue statistics
type StatsResponse struct {
	Success    bool                   `json:"success"`
	Orders     models.OrderStatistics `json:"orders"`
	Queue      models.QueueMetrics    `json:"queue"`
	Websockets WebsocketStats         `json:"websockets"`
}

// HealthResponse reports service status
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}
