package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/config"
	"github.com/speedrun-hq/swaprunner/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		MaxConcurrent:   10,
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
		MaxAttempts:     3,
		BackoffDelay:    10 * time.Millisecond,
		History: config.HistoryConfig{
			CompletedCount: 100,
			CompletedAge:   24 * time.Hour,
			FailedCount:    200,
			FailedAge:      7 * 24 * time.Hour,
		},
	}
}

func isLive(s *Scheduler, orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[orderID]
	return ok
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{"first attempt", time.Second, 1, time.Second},
		{"second attempt", time.Second, 2, 2 * time.Second},
		{"third attempt", time.Second, 3, 4 * time.Second},
		{"zero attempt", time.Second, 0, time.Second},
		{"zero base", 0, 3, 0},
		{"capped", time.Minute, 20, MaxBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculateBackoff(tt.base, tt.attempt))
		})
	}
}

func TestSlidingWindow(t *testing.T) {
	t.Run("allows up to the limit", func(t *testing.T) {
		sw := NewSlidingWindow(3, time.Minute)
		assert.True(t, sw.Take())
		assert.True(t, sw.Take())
		assert.True(t, sw.Take())
		assert.False(t, sw.Take())
		assert.Equal(t, 0, sw.Remaining())
	})

	t.Run("slots free up after the window", func(t *testing.T) {
		sw := NewSlidingWindow(1, 50*time.Millisecond)
		require.True(t, sw.Take())
		assert.False(t, sw.Take())
		time.Sleep(80 * time.Millisecond)
		assert.True(t, sw.Take())
	})

	t.Run("wait blocks until a slot frees", func(t *testing.T) {
		sw := NewSlidingWindow(1, 50*time.Millisecond)
		require.True(t, sw.Take())

		start := time.Now()
		waited, err := sw.Wait(context.Background())
		require.NoError(t, err)
		assert.True(t, waited)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("wait honours cancellation", func(t *testing.T) {
		sw := NewSlidingWindow(1, time.Hour)
		require.True(t, sw.Take())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := sw.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestHistoryTrim(t *testing.T) {
	now := time.Now()
	h := newHistory(config.HistoryConfig{
		CompletedCount: 3,
		CompletedAge:   time.Hour,
		FailedCount:    2,
		FailedAge:      time.Hour,
	})

	for i := 0; i < 5; i++ {
		h.addCompleted(models.JobOutcome{OrderID: fmt.Sprintf("c%d", i), FinishedAt: now})
		h.addFailed(models.JobOutcome{OrderID: fmt.Sprintf("f%d", i), FinishedAt: now})
	}
	require.Len(t, h.completed, 3)
	require.Len(t, h.failed, 2)
	assert.Equal(t, "c2", h.completed[0].OrderID)
	assert.Equal(t, "f4", h.failed[1].OrderID)

	h.prune(now.Add(2 * time.Hour))
	assert.Empty(t, h.completed)
	assert.Empty(t, h.failed)
}

func TestSchedulerRunsJob(t *testing.T) {
	done := make(chan models.Job, 1)
	s := New(testConfig(), func(ctx context.Context, job models.Job) error {
		done <- job
		return nil
	})
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(context.Background(), "order-1"))

	select {
	case job := <-done:
		assert.Equal(t, "order-1", job.OrderID)
		assert.Equal(t, 1, job.Attempt)
		assert.Equal(t, 3, job.MaxAttempts)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}

	assert.Eventually(t, func() bool {
		return s.Metrics().Completed == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, isLive(s, "order-1"))
}

func TestSchedulerRejectsDuplicates(t *testing.T) {
	release := make(chan struct{})
	s := New(testConfig(), func(ctx context.Context, job models.Job) error {
		<-release
		return nil
	})
	startScheduler(t, s)
	defer close(release)

	require.NoError(t, s.Enqueue(context.Background(), "order-1"))
	err := s.Enqueue(context.Background(), "order-1")
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestSchedulerConcurrencyLimit(t *testing.T) {
	var running, peak int32
	var wg sync.WaitGroup
	wg.Add(50)

	s := New(testConfig(), func(ctx context.Context, job models.Job) error {
		defer wg.Done()
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})
	startScheduler(t, s)

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Enqueue(context.Background(), fmt.Sprintf("order-%d", i)))
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not finish")
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(10))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestSchedulerRetriesWithBackoff(t *testing.T) {
	var mu sync.Mutex
	var attempts []models.Job
	var times []time.Time

	s := New(testConfig(), func(ctx context.Context, job models.Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, job)
		times = append(times, time.Now())
		if job.Attempt < 3 {
			return errors.New("venue unavailable")
		}
		return nil
	})
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(context.Background(), "order-1"))

	assert.Eventually(t, func() bool {
		return s.Metrics().Completed == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 3)
	assert.Equal(t, 1, attempts[0].Attempt)
	assert.Equal(t, 2, attempts[1].Attempt)
	assert.Equal(t, 3, attempts[2].Attempt)
	assert.Equal(t, "venue unavailable", attempts[1].LastError)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 10*time.Millisecond)
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 20*time.Millisecond)

	completed, failed := s.History()
	require.Len(t, completed, 1)
	assert.Equal(t, 3, completed[0].Attempts)
	assert.Empty(t, failed)
}

func TestSchedulerPermanentFailure(t *testing.T) {
	var calls int32
	hooked := make(chan error, 1)

	s := New(testConfig(), func(ctx context.Context, job models.Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}, WithPermanentFailureHook(func(job models.Job, err error) {
		hooked <- err
	}))
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(context.Background(), "order-1"))

	select {
	case err := <-hooked:
		assert.ErrorIs(t, err, ErrPermanentFailure)
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(2 * time.Second):
		t.Fatal("permanent failure hook was not called")
	}

	// no fourth attempt
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	m := s.Metrics()
	assert.Equal(t, 1, m.Failed)
	assert.Equal(t, 0, m.Active)
	assert.Equal(t, 0, m.Delayed)

	_, failed := s.History()
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Error)

	// a finished order can be queued again
	assert.NoError(t, s.Enqueue(context.Background(), "order-1"))
}

func TestSchedulerRecoversPanics(t *testing.T) {
	var calls int32
	s := New(testConfig(), func(ctx context.Context, job models.Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("unexpected")
		}
		return nil
	})
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(context.Background(), "order-1"))
	assert.Eventually(t, func() bool {
		return s.Metrics().Completed == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSchedulerRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitMax = 2
	cfg.RateLimitWindow = time.Hour

	var calls int32
	s := New(cfg, func(ctx context.Context, job models.Job) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	startScheduler(t, s)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Enqueue(context.Background(), fmt.Sprintf("order-%d", i)))
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, s.Metrics().Waiting)
	assert.Equal(t, 0, s.RateLimitRemaining())
}

func TestSchedulerReplaysStoredJobs(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.Save(models.Job{OrderID: "a", Attempt: 1, MaxAttempts: 3, EnqueuedAt: now, NextAttempt: now}))
	require.NoError(t, store.Save(models.Job{OrderID: "b", Attempt: 2, MaxAttempts: 3, EnqueuedAt: now, NextAttempt: now.Add(30 * time.Millisecond)}))

	var mu sync.Mutex
	seen := map[string]int{}
	s := New(testConfig(), func(ctx context.Context, job models.Job) error {
		mu.Lock()
		seen[job.OrderID] = job.Attempt
		mu.Unlock()
		return nil
	}, WithStore(store))
	startScheduler(t, s)

	assert.Eventually(t, func() bool {
		return s.Metrics().Completed == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, seen)
	mu.Unlock()

	left, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSchedulerEnqueueAfterShutdown(t *testing.T) {
	s := New(testConfig(), func(ctx context.Context, job models.Job) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)

	cancel()
	s.Wait()

	assert.ErrorIs(t, s.Enqueue(context.Background(), "late"), ErrClosed)
}

func TestSchedulerCountsInterruptedAttempts(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.Save(models.Job{OrderID: "order-1", Attempt: 1, MaxAttempts: 3, EnqueuedAt: now, NextAttempt: now}))

	// every process lifetime dies while the job is running
	var seen []int
	for i := 0; i < 3; i++ {
		started := make(chan models.Job, 1)
		s := New(testConfig(), func(ctx context.Context, job models.Job) error {
			started <- job
			<-ctx.Done()
			return ctx.Err()
		}, WithStore(store))

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, s.Start(ctx))
		select {
		case job := <-started:
			seen = append(seen, job.Attempt)
		case <-time.After(2 * time.Second):
			cancel()
			t.Fatalf("job was not replayed in lifetime %d", i+1)
		}
		cancel()
		s.Wait()
	}
	assert.Equal(t, []int{1, 2, 3}, seen)

	left, err := store.Load()
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, 4, left[0].Attempt)

	var calls int32
	hooked := make(chan models.Job, 1)
	s := New(testConfig(), func(ctx context.Context, job models.Job) error {
		atomic.AddInt32(&calls, 1)
		if job.Attempt > job.MaxAttempts {
			return errors.New("no attempts left")
		}
		return nil
	}, WithStore(store), WithPermanentFailureHook(func(job models.Job, err error) {
		hooked <- job
	}))
	startScheduler(t, s)

	select {
	case job := <-hooked:
		assert.Equal(t, 4, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("exhausted job was not abandoned")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, failed := s.History()
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)

	left, err = store.Load()
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSchedulerDelayDuringShutdown(t *testing.T) {
	s := New(testConfig(), func(context.Context, models.Job) error { return nil })
	// no retry handler is receiving
	s.retryJobs = make(chan models.Job)

	job := models.Job{OrderID: "order-1", Attempt: 2, MaxAttempts: 3}
	s.mu.Lock()
	s.jobs[job.OrderID] = job
	s.active = 1
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.delay(ctx, job)

	m := s.Metrics()
	assert.Equal(t, 0, m.Active)
	assert.Equal(t, 0, m.Delayed)
	assert.False(t, isLive(s, "order-1"))
}
