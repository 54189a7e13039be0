package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/speedrun-hq/swaprunner/pkg/executor"
	"github.com/speedrun-hq/swaprunner/pkg/models"
	"github.com/speedrun-hq/swaprunner/pkg/repository"
)

const maxBodySize = 1 << 16

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	var req models.CreateOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON order", err.Error())
		return
	}

	order, err := s.service.SubmitOrder(r.Context(), req)
	if err != nil {
		if errors.Is(err, executor.ErrValidation) {
			respondError(w, http.StatusBadRequest, "invalid order", err.Error())
			return
		}
		s.logger.Error("Failed to submit order: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to submit order", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, SubmitOrderResponse{
		Success: true,
		OrderID: order.ID,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	order, err := s.service.GetOrder(r.Context(), orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		respondJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "Order not found",
			OrderID: orderID,
		})
		return
	}
	if err != nil {
		s.logger.Error("Failed to load order %s: %v", orderID, err)
		respondError(w, http.StatusInternalServerError, "failed to load order", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, OrderResponse{Success: true, Order: order})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", repository.DefaultListLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid offset", err.Error())
		return
	}

	orders, err := s.service.ListOrders(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("Failed to list orders: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list orders", err.Error())
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	respondJSON(w, http.StatusOK, OrderListResponse{
		Success: true,
		Count:   len(orders),
		Orders:  orders,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.GetStatistics(r.Context())
	if err != nil {
		s.logger.Error("Failed to load statistics: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load statistics", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		Success: true,
		Orders:  stats,
		Queue:   s.service.GetQueueMetrics(),
		Websockets: WebsocketStats{
			ActiveConnections: s.service.Hub().Count(),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "connected"
	status := http.StatusOK
	if err := s.service.Repository().Ping(r.Context()); err != nil {
		database = "disconnected"
		status = http.StatusServiceUnavailable
	}

	health := "ok"
	if status != http.StatusOK {
		health = "degraded"
	}
	respondJSON(w, status, HealthResponse{
		Status:    health,
		Timestamp: time.Now().UTC(),
		Services: map[string]string{
			"database": database,
			"queue":    "running",
		},
	})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("must not be negative")
	}
	return v, nil
}
