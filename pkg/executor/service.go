package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/swaprunner/pkg/config"
	"github.com/speedrun-hq/swaprunner/pkg/dex"
	"github.com/speedrun-hq/swaprunner/pkg/lifecycle"
	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/metrics"
	"github.com/speedrun-hq/swaprunner/pkg/models"
	"github.com/speedrun-hq/swaprunner/pkg/notify"
	"github.com/speedrun-hq/swaprunner/pkg/repository"
	"github.com/speedrun-hq/swaprunner/pkg/scheduler"
)

// DefaultSlippage is the slippage tolerance in percent used when a request omits it
var DefaultSlippage = decimal.NewFromInt(1)

// Service accepts swap orders and executes them through the scheduler
type Service struct {
	repo      repository.Repository
	router    *dex.Router
	hub       *notify.Hub
	machine   *lifecycle.Machine
	scheduler *scheduler.Scheduler
	validate  *validator.Validate
	logger    logger.Logger
}

// Option configures a Service
type Option func(*serviceOptions)

type serviceOptions struct {
	store scheduler.JobStore
}

// WithJobStore makes queued jobs durable in store
func WithJobStore(store scheduler.JobStore) Option {
	return func(o *serviceOptions) {
		o.store = store
	}
}

// NewService wires the order pipeline together
func NewService(cfg config.SchedulerConfig, repo repository.Repository, router *dex.Router, hub *notify.Hub, log logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		repo:     repo,
		router:   router,
		hub:      hub,
		machine:  lifecycle.NewMachine(repo, hub, log),
		validate: newValidator(),
		logger:   log,
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(log),
		scheduler.WithPermanentFailureHook(s.onPermanentFailure),
	}
	if o.store != nil {
		schedOpts = append(schedOpts, scheduler.WithStore(o.store))
	}
	s.scheduler = scheduler.New(cfg, s.ExecuteOrder, schedOpts...)
	return s
}

// Start launches the scheduler workers
func (s *Service) Start(ctx context.Context) error {
	return s.scheduler.Start(ctx)
}

// Wait blocks until in-flight orders have stopped after shutdown
func (s *Service) Wait() {
	s.scheduler.Wait()
}

// Hub returns the notification hub transports subscribe through
func (s *Service) Hub() *notify.Hub {
	return s.hub
}

// Scheduler returns the execution scheduler
func (s *Service) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// Repository returns the order repository
func (s *Service) Repository() repository.Repository {
	return s.repo
}

// CreateOrder validates req and persists it as a pending order
func (s *Service) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	if err := s.ValidateRequest(req); err != nil {
		return nil, err
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = models.OrderTypeMarket
	}
	slippage := DefaultSlippage
	if req.Slippage != nil {
		slippage = *req.Slippage
	}

	order := &models.Order{
		ID:        uuid.NewString(),
		OrderType: orderType,
		Status:    models.StatusPending,
		TokenIn:   strings.TrimSpace(req.TokenIn),
		TokenOut:  strings.TrimSpace(req.TokenOut),
		AmountIn:  req.AmountIn,
		Slippage:  slippage,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	metrics.OrdersCreated.Inc()
	s.logger.Info("Created order %s: %s %s -> %s (%s, slippage %s%%)",
		order.ID, order.AmountIn, order.TokenIn, order.TokenOut, order.OrderType, order.Slippage)
	return order, nil
}

// Enqueue schedules an existing order for execution
func (s *Service) Enqueue(ctx context.Context, orderID string) error {
	return s.scheduler.Enqueue(ctx, orderID)
}

// SubmitOrder creates an order and schedules it
func (s *Service) SubmitOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	order, err := s.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.scheduler.Enqueue(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("failed to queue order %s: %w", order.ID, err)
	}
	return order, nil
}

// GetOrder returns the stored order, or repository.ErrOrderNotFound
func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.repo.FindByID(ctx, id)
}

// ListOrders returns orders newest first
func (s *Service) ListOrders(ctx context.Context, limit, offset int) ([]models.Order, error) {
	return s.repo.List(ctx, limit, offset)
}

// GetStatistics counts orders by outcome
func (s *Service) GetStatistics(ctx context.Context) (models.OrderStatistics, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return models.OrderStatistics{}, fmt.Errorf("failed to count orders: %w", err)
	}

	var stats models.OrderStatistics
	for _, n := range counts {
		stats.Total += n
	}
	stats.Pending = counts[models.StatusPending]
	stats.Confirmed = counts[models.StatusConfirmed]
	stats.Failed = counts[models.StatusFailed]
	return stats, nil
}

// GetQueueMetrics returns the scheduler's queue counts
func (s *Service) GetQueueMetrics() models.QueueMetrics {
	return s.scheduler.Metrics()
}

func (s *Service) onPermanentFailure(job models.Job, err error) {
	s.logger.Notice("Order %s abandoned after %d attempts: %v", job.OrderID, min(job.Attempt, job.MaxAttempts), err)
}

func observeRun(venue models.Venue, status models.OrderStatus, started time.Time) {
	label := string(venue)
	if label == "" {
		label = "none"
	}
	metrics.OrdersProcessed.WithLabelValues(label, string(status)).Inc()
	metrics.OrderProcessingTime.WithLabelValues(string(status)).Observe(time.Since(started).Seconds())
}
