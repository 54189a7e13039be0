package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/config"
	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/metrics"
	"github.com/speedrun-hq/swaprunner/pkg/models"
)

var (
	// ErrDuplicateJob is returned when an order already has a live job
	ErrDuplicateJob = errors.New("job already queued for order")
	// ErrPermanentFailure wraps the last error of a job that ran out of attempts
	ErrPermanentFailure = errors.New("job failed permanently")
	// ErrClosed is returned by Enqueue once the scheduler has shut down
	ErrClosed = errors.New("scheduler closed")
	// ErrAlreadyStarted is returned by a second call to Start
	ErrAlreadyStarted = errors.New("scheduler already started")
)

const (
	// retryBuffer bounds jobs in flight between a worker and the retry handler
	retryBuffer = 256
	// sweepInterval is how often finished-job history is trimmed and gauges refreshed
	sweepInterval = time.Minute
)

// Handler executes one attempt of a job. A returned error schedules another attempt
// until the attempt ceiling is reached.
//
// A replayed job whose Attempt exceeds MaxAttempts was interrupted during its last
// attempt. The handler gets one call to settle it; any error abandons the job.
type Handler func(ctx context.Context, job models.Job) error

// PermanentFailureFunc is called once for every job that exhausts its attempts
type PermanentFailureFunc func(job models.Job, err error)

// Scheduler runs jobs on a fixed pool of workers under a global dispatch rate limit,
// retrying failures with exponential backoff.
type Scheduler struct {
	cfg         config.SchedulerConfig
	handler     Handler
	store       JobStore
	limiter     *SlidingWindow
	logger      logger.Logger
	onPermanent PermanentFailureFunc

	mu      sync.Mutex
	jobs    map[string]models.Job // live jobs by order id
	waiting []string
	delayed int
	active  int
	history *history
	started bool
	closed  bool

	wake        chan struct{}
	pendingJobs chan models.Job
	retryJobs   chan models.Job
	wg          sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithStore persists jobs in store instead of memory
func WithStore(store JobStore) Option {
	return func(s *Scheduler) {
		s.store = store
	}
}

// WithLogger sets the scheduler logger
func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) {
		s.logger = log
	}
}

// WithPermanentFailureHook registers fn to be told about abandoned jobs
func WithPermanentFailureHook(fn PermanentFailureFunc) Option {
	return func(s *Scheduler) {
		s.onPermanent = fn
	}
}

// New creates a scheduler. Zero or negative limits fall back to the service defaults.
func New(cfg config.SchedulerConfig, handler Handler, opts ...Option) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = config.DefaultMaxConcurrentOrders
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = config.DefaultRateLimitMax
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = config.DefaultRateLimitWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.DefaultMaxAttempts
	}
	if cfg.BackoffDelay < 0 {
		cfg.BackoffDelay = config.DefaultBackoffDelay
	}

	s := &Scheduler{
		cfg:         cfg,
		handler:     handler,
		store:       NewMemoryStore(),
		limiter:     NewSlidingWindow(cfg.RateLimitMax, cfg.RateLimitWindow),
		logger:      &logger.EmptyLogger{},
		jobs:        make(map[string]models.Job),
		history:     newHistory(cfg.History),
		wake:        make(chan struct{}, 1),
		pendingJobs: make(chan models.Job),
		retryJobs:   make(chan models.Job, retryBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue admits a job for orderID. Only one live job per order is allowed.
func (s *Scheduler) Enqueue(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	job := models.Job{
		OrderID:     orderID,
		Attempt:     1,
		MaxAttempts: s.cfg.MaxAttempts,
		EnqueuedAt:  now,
		NextAttempt: now,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, exists := s.jobs[orderID]; exists {
		s.mu.Unlock()
		metrics.DuplicateJobs.Inc()
		return fmt.Errorf("%w: %s", ErrDuplicateJob, orderID)
	}
	s.jobs[orderID] = job
	s.mu.Unlock()

	if err := s.store.Save(job); err != nil {
		s.mu.Lock()
		delete(s.jobs, orderID)
		s.mu.Unlock()
		return fmt.Errorf("failed to persist job for order %s: %w", orderID, err)
	}

	s.mu.Lock()
	s.waiting = append(s.waiting, orderID)
	s.updateGaugesLocked()
	s.mu.Unlock()
	s.signal()

	s.logger.Debug("Order %s queued", orderID)
	return nil
}

// Start recovers stored jobs and launches the dispatcher, retry handler and workers.
// They stop when ctx is cancelled; Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	delayed, err := s.recover()
	if err != nil {
		return err
	}

	s.logger.Info("Starting %d workers (rate limit %d per %v, %d attempts)",
		s.cfg.MaxConcurrent, s.cfg.RateLimitMax, s.cfg.RateLimitWindow, s.cfg.MaxAttempts)

	s.wg.Add(s.cfg.MaxConcurrent + 3)
	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		go s.worker(ctx, i)
	}
	go s.dispatcher(ctx)
	go s.retryHandler(ctx, delayed)
	go s.sweeper(ctx)
	return nil
}

// Wait blocks until every scheduler goroutine has exited
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// recover re-admits jobs left in the store by a previous process
func (s *Scheduler) recover() ([]models.Job, error) {
	stored, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load stored jobs: %w", err)
	}

	now := time.Now()
	var delayed []models.Job

	s.mu.Lock()
	for _, job := range stored {
		if _, exists := s.jobs[job.OrderID]; exists {
			continue
		}
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = s.cfg.MaxAttempts
		}
		s.jobs[job.OrderID] = job
		if job.NextAttempt.After(now) {
			delayed = append(delayed, job)
			s.delayed++
		} else {
			s.waiting = append(s.waiting, job.OrderID)
		}
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	if len(stored) > 0 {
		s.logger.Notice("Recovered %d stored jobs (%d delayed)", len(stored), len(delayed))
		s.signal()
	}
	return delayed, nil
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) peekWaiting() (models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiting) == 0 {
		return models.Job{}, false
	}
	return s.jobs[s.waiting[0]], true
}

// dispatcher hands waiting jobs to free workers, one rate-limit slot per dispatch
func (s *Scheduler) dispatcher(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	}()
	for {
		job, ok := s.peekWaiting()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		waited, err := s.limiter.Wait(ctx)
		if err != nil {
			return
		}
		if waited {
			metrics.RateLimited.Inc()
			s.logger.Debug("Dispatch of order %s was delayed by the rate limit", job.OrderID)
		}

		select {
		case <-ctx.Done():
			return
		case s.pendingJobs <- job:
			s.mu.Lock()
			s.waiting = s.waiting[1:]
			s.active++
			s.updateGaugesLocked()
			s.mu.Unlock()
		}
	}
}

// worker processes jobs from the dispatcher
func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	s.logger.Debug("Starting worker %d", id)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker %d shutting down", id)
			return
		case job := <-s.pendingJobs:
			s.process(ctx, id, job)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, workerID int, job models.Job) {
	s.logger.Info("Worker %d processing order %s (attempt %d/%d)", workerID, job.OrderID, job.Attempt, job.MaxAttempts)
	metrics.JobAttempts.Inc()
	s.spend(job)

	startTime := time.Now()
	err := s.runHandler(ctx, job)
	elapsed := time.Since(startTime)

	if err == nil {
		s.complete(job)
		s.logger.Info("Worker %d completed order %s in %v", workerID, job.OrderID, elapsed)
		return
	}

	if ctx.Err() != nil {
		// shutting down: the stored job is replayed on the next start
		s.release(job.OrderID)
		s.logger.Notice("Order %s interrupted by shutdown on attempt %d", job.OrderID, job.Attempt)
		return
	}

	job.LastError = err.Error()
	if job.Attempt >= job.MaxAttempts {
		s.abandon(job, err)
		return
	}

	backoff := CalculateBackoff(s.cfg.BackoffDelay, job.Attempt)
	job.Attempt++
	job.NextAttempt = time.Now().Add(backoff)
	if saveErr := s.store.Save(job); saveErr != nil {
		s.logger.Error("Failed to persist retry of order %s: %v", job.OrderID, saveErr)
	}

	metrics.JobRetries.Inc()
	s.logger.Error("Order %s failed on attempt %d/%d, retrying in %v: %v",
		job.OrderID, job.Attempt-1, job.MaxAttempts, backoff, err)
	s.delay(ctx, job)
}

// spend records in the store that job's attempt has been used, so a replay after a
// crash starts at the next attempt
func (s *Scheduler) spend(job models.Job) {
	next := job
	next.Attempt++
	next.NextAttempt = time.Now()
	next.LastError = fmt.Sprintf("attempt %d was interrupted", job.Attempt)
	if err := s.store.Save(next); err != nil {
		s.logger.Error("Failed to persist dispatch of order %s: %v", job.OrderID, err)
	}
}

// delay moves an active job to the retry handler
func (s *Scheduler) delay(ctx context.Context, job models.Job) {
	s.mu.Lock()
	s.jobs[job.OrderID] = job
	s.active--
	s.delayed++
	s.updateGaugesLocked()
	s.mu.Unlock()

	select {
	case s.retryJobs <- job:
	case <-ctx.Done():
		// the stored retry is replayed on the next start
		s.mu.Lock()
		delete(s.jobs, job.OrderID)
		s.delayed--
		s.updateGaugesLocked()
		s.mu.Unlock()
	}
}

func (s *Scheduler) runHandler(ctx context.Context, job models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, job)
}

// complete finishes a successful job
func (s *Scheduler) complete(job models.Job) {
	if err := s.store.Delete(job.OrderID); err != nil {
		s.logger.Error("Failed to delete finished job of order %s: %v", job.OrderID, err)
	}

	now := time.Now()
	s.mu.Lock()
	delete(s.jobs, job.OrderID)
	s.active--
	s.history.addCompleted(models.JobOutcome{
		OrderID:    job.OrderID,
		Attempts:   job.Attempt,
		FinishedAt: now,
	})
	s.updateGaugesLocked()
	s.mu.Unlock()
}

// abandon finishes a job that ran out of attempts
func (s *Scheduler) abandon(job models.Job, cause error) {
	if err := s.store.Delete(job.OrderID); err != nil {
		s.logger.Error("Failed to delete abandoned job of order %s: %v", job.OrderID, err)
	}

	attempts := job.Attempt
	if attempts > job.MaxAttempts {
		attempts = job.MaxAttempts
	}

	now := time.Now()
	s.mu.Lock()
	delete(s.jobs, job.OrderID)
	s.active--
	s.history.addFailed(models.JobOutcome{
		OrderID:    job.OrderID,
		Attempts:   attempts,
		Error:      cause.Error(),
		FinishedAt: now,
	})
	s.updateGaugesLocked()
	s.mu.Unlock()

	metrics.PermanentFailures.Inc()
	s.logger.Error("Order %s failed permanently after %d attempts: %v", job.OrderID, attempts, cause)
	if s.onPermanent != nil {
		s.onPermanent(job, fmt.Errorf("%w: %w", ErrPermanentFailure, cause))
	}
}

// release drops an active job from memory but keeps it in the store
func (s *Scheduler) release(orderID string) {
	s.mu.Lock()
	delete(s.jobs, orderID)
	s.active--
	s.updateGaugesLocked()
	s.mu.Unlock()
}

// retryHandler holds delayed jobs sorted by due time and moves them back to the waiting list
func (s *Scheduler) retryHandler(ctx context.Context, initial []models.Job) {
	defer s.wg.Done()

	retryQueue := append([]models.Job{}, initial...)
	sortByNextAttempt(retryQueue)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var due <-chan time.Time
		if len(retryQueue) > 0 {
			wait := time.Until(retryQueue[0].NextAttempt)
			if wait < 0 {
				wait = 0
			}
			metrics.NextRetryIn.Set(wait.Seconds())
			timer.Reset(wait)
			due = timer.C
		} else {
			metrics.NextRetryIn.Set(0)
		}

		select {
		case <-ctx.Done():
			return
		case job := <-s.retryJobs:
			retryQueue = append(retryQueue, job)
			sortByNextAttempt(retryQueue)
		case <-due:
			now := time.Now()
			n := 0
			for n < len(retryQueue) && !retryQueue[n].NextAttempt.After(now) {
				n++
			}
			ready := retryQueue[:n]
			retryQueue = append([]models.Job{}, retryQueue[n:]...)

			s.mu.Lock()
			for _, job := range ready {
				s.logger.Info("Retrying order %s (attempt %d/%d)", job.OrderID, job.Attempt, job.MaxAttempts)
				s.waiting = append(s.waiting, job.OrderID)
				s.delayed--
			}
			s.updateGaugesLocked()
			s.mu.Unlock()
			if n > 0 {
				s.signal()
			}
		}
		timer.Stop()
	}
}

// sweeper trims history that aged out while no job finished
func (s *Scheduler) sweeper(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.history.prune(time.Now())
			s.updateGaugesLocked()
			s.mu.Unlock()
		}
	}
}

func sortByNextAttempt(jobs []models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].NextAttempt.Before(jobs[j].NextAttempt)
	})
}

func (s *Scheduler) updateGaugesLocked() {
	metrics.QueueWaiting.Set(float64(len(s.waiting)))
	metrics.QueueDelayed.Set(float64(s.delayed))
	metrics.QueueActive.Set(float64(s.active))
}

// Metrics returns the current queue counts
func (s *Scheduler) Metrics() models.QueueMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.prune(time.Now())
	m := models.QueueMetrics{
		Waiting:   len(s.waiting),
		Delayed:   s.delayed,
		Active:    s.active,
		Completed: len(s.history.completed),
		Failed:    len(s.history.failed),
	}
	m.Total = m.Waiting + m.Delayed + m.Active + m.Completed + m.Failed
	return m
}

// History returns the retained finished jobs, oldest first
func (s *Scheduler) History() (completed, failed []models.JobOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.prune(time.Now())
	completed = append([]models.JobOutcome{}, s.history.completed...)
	failed = append([]models.JobOutcome{}, s.history.failed...)
	return completed, failed
}

// RateLimitRemaining returns the dispatches left in the current window
func (s *Scheduler) RateLimitRemaining() int {
	return s.limiter.Remaining()
}
