package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/speedrun-hq/swaprunner/pkg/models"
	"github.com/speedrun-hq/swaprunner/pkg/notify"
	"github.com/speedrun-hq/swaprunner/pkg/repository"
)

// orderTimeout bounds creating and queueing an order received over a socket
const orderTimeout = 10 * time.Second

// handleExecuteSocket accepts orders over a websocket. Each inbound message is an order request;
// the socket then receives that order's status updates. A bad order closes the socket.
func (s *Server) handleExecuteSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Websocket upgrade failed: %v", err)
		return
	}

	sub := notify.NewWSSubscriber(conn, s.handleOrderMessage, s.logger)
	s.logger.Info("Websocket connection established from %s", sub.RemoteAddr())
}

func (s *Server) handleOrderMessage(sub *notify.WSSubscriber, message []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()

	orderID, err := s.acceptOrder(ctx, sub, message)
	if err != nil {
		s.logger.Error("Rejected order from %s: %v", sub.RemoteAddr(), err)
		if sendErr := sub.SendJSON(SocketError{Error: err.Error(), Timestamp: time.Now().UTC()}); sendErr != nil {
			s.logger.Debug("Failed to send error frame: %v", sendErr)
		}
		_ = sub.Close()
		return
	}
	s.logger.Info("Order %s added to queue", orderID)
}

func (s *Server) acceptOrder(ctx context.Context, sub *notify.WSSubscriber, message []byte) (string, error) {
	var req models.CreateOrderRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return "", errors.New("invalid JSON order: " + err.Error())
	}

	order, err := s.service.CreateOrder(ctx, req)
	if err != nil {
		return "", err
	}

	// subscribe before queueing so the socket sees every transition
	s.service.Hub().Subscribe(order.ID, sub)
	if err := s.service.Enqueue(ctx, order.ID); err != nil {
		s.service.Hub().Unsubscribe(order.ID)
		return "", err
	}
	return order.ID, nil
}

// handleOrderSocket streams updates of an existing order
func (s *Server) handleOrderSocket(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	if _, err := s.service.GetOrder(r.Context(), orderID); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "Order not found", OrderID: orderID})
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load order", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Websocket upgrade failed: %v", err)
		return
	}

	sub := notify.NewWSSubscriber(conn, nil, s.logger)
	s.service.Hub().Subscribe(orderID, sub)
}
