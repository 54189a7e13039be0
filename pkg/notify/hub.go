package notify

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/metrics"
	"github.com/speedrun-hq/swaprunner/pkg/models"
)

var (
	// ErrSubscriberClosed is returned by Send after the subscriber has been closed
	ErrSubscriberClosed = errors.New("subscriber closed")
	// ErrSubscriberFull is returned by Send when the update was dropped for a slow consumer
	ErrSubscriberFull = errors.New("subscriber buffer full")
)

// ConnectedMessage is sent to every new subscriber
const ConnectedMessage = "Connected. Waiting for order processing..."

// Subscriber receives status updates for one order.
// Implementations must be comparable (pointer types) and must never block in Send.
type Subscriber interface {
	Send(update models.StatusUpdate) error
	// Done is closed once the subscriber can no longer receive updates
	Done() <-chan struct{}
	Close() error
}

// Hub routes status updates to at most one subscriber per order.
// Delivery is best effort: updates for an order without a live subscriber are dropped.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]*registration
	logger   logger.Logger
	watching atomic.Int64
}

// registration pairs a subscriber with the stop channel of its watcher.
// stop is closed exactly once, when the registration leaves the map.
type registration struct {
	sub  Subscriber
	stop chan struct{}
}

// NewHub creates an empty hub
func NewHub(log logger.Logger) *Hub {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Hub{
		subs:   make(map[string]*registration),
		logger: log,
	}
}

// Subscribe registers sub as the subscriber for orderID, replacing any previous one
// without closing it, and sends it a connected event.
func (h *Hub) Subscribe(orderID string, sub Subscriber) {
	reg := &registration{sub: sub, stop: make(chan struct{})}

	h.mu.Lock()
	previous, replaced := h.subs[orderID]
	h.subs[orderID] = reg
	count := len(h.subs)
	h.mu.Unlock()

	if replaced {
		close(previous.stop)
	}

	metrics.Subscribers.Set(float64(count))
	if replaced {
		h.logger.Debug("Replaced subscriber for order %s", orderID)
	}
	h.logger.Info("Subscriber registered for order %s (total: %d)", orderID, count)

	h.deliver(orderID, sub, models.StatusUpdate{
		OrderID:   orderID,
		Status:    models.StatusPending,
		Timestamp: time.Now(),
		Message:   ConnectedMessage,
	})

	h.watching.Add(1)
	go h.watch(orderID, reg)
}

// watch deregisters reg when its subscriber reports done. It exits early once
// reg has been removed some other way.
func (h *Hub) watch(orderID string, reg *registration) {
	defer h.watching.Add(-1)
	select {
	case <-reg.sub.Done():
		if h.remove(orderID, reg.sub) {
			h.logger.Info("Subscriber for order %s disconnected", orderID)
		}
	case <-reg.stop:
	}
}

// remove deletes sub only if it is still the registered subscriber for orderID
func (h *Hub) remove(orderID string, sub Subscriber) bool {
	h.mu.Lock()
	current, ok := h.subs[orderID]
	removed := ok && current.sub == sub
	if removed {
		delete(h.subs, orderID)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if removed {
		close(current.stop)
		metrics.Subscribers.Set(float64(count))
	}
	return removed
}

// Publish delivers update to the subscriber of orderID, if any. It never fails.
func (h *Hub) Publish(orderID string, update models.StatusUpdate) {
	h.mu.RLock()
	reg, ok := h.subs[orderID]
	h.mu.RUnlock()

	if !ok {
		metrics.NotificationsDropped.WithLabelValues("no_subscriber").Inc()
		h.logger.Debug("No subscriber for order %s, dropping %s update", orderID, update.Status)
		return
	}
	h.deliver(orderID, reg.sub, update)
}

func (h *Hub) deliver(orderID string, sub Subscriber, update models.StatusUpdate) {
	select {
	case <-sub.Done():
		h.remove(orderID, sub)
		metrics.NotificationsDropped.WithLabelValues("closed").Inc()
		return
	default:
	}

	err := sub.Send(update)
	switch {
	case err == nil:
		metrics.NotificationsSent.WithLabelValues(string(update.Status)).Inc()
		h.logger.Debug("Sent %s update for order %s", update.Status, orderID)
	case errors.Is(err, ErrSubscriberFull):
		metrics.NotificationsDropped.WithLabelValues("full").Inc()
		h.logger.Notice("Subscriber for order %s is too slow, dropped %s update", orderID, update.Status)
	default:
		h.remove(orderID, sub)
		metrics.NotificationsDropped.WithLabelValues("error").Inc()
		h.logger.Error("Failed to send update for order %s: %v", orderID, err)
	}
}

// Unsubscribe removes the subscriber of orderID without closing it. Safe to call repeatedly.
func (h *Hub) Unsubscribe(orderID string) {
	h.mu.Lock()
	reg, ok := h.subs[orderID]
	delete(h.subs, orderID)
	count := len(h.subs)
	h.mu.Unlock()

	if ok {
		close(reg.stop)
		metrics.Subscribers.Set(float64(count))
		h.logger.Debug("Subscriber for order %s removed", orderID)
	}
}

// Count returns the number of registered subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// HasSubscriber reports whether orderID has a registered subscriber
func (h *Hub) HasSubscriber(orderID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[orderID]
	return ok
}

// CloseAll closes and removes every subscriber
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*registration)
	h.mu.Unlock()

	metrics.Subscribers.Set(0)
	for id, reg := range subs {
		close(reg.stop)
		if err := reg.sub.Close(); err != nil {
			h.logger.Error("Failed to close subscriber for order %s: %v", id, err)
		}
	}
}
