package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swaprunner_orders_created_total",
		Help: "The total number of orders accepted",
	})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprunner_order_transitions_total",
		Help: "The total number of persisted order status transitions",
	}, []string{"status"})

	OrdersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprunner_orders_processed_total",
		Help: "The total number of pipeline runs by venue and outcome",
	}, []string{"venue", "status"})

	OrderProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swaprunner_order_processing_seconds",
		Help:    "Time taken to run the order pipeline",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
	}, []string{"status"})

	QuoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swaprunner_venue_quote_seconds",
		Help:    "Time taken to obtain a quote from a venue",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
	}, []string{"venue"})

	BestVenueSelected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprunner_best_venue_selected_total",
		Help: "Number of times a venue offered the best quote",
	}, []string{"venue"})

	VenueErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprunner_venue_errors_total",
		Help: "Total number of venue errors by operation",
	}, []string{"venue", "operation"})

	JobAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swaprunner_job_attempts_total",
		Help: "The total number of job dispatches, retries included",
	})

	JobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swaprunner_job_retries_total",
		Help: "The total number of jobs scheduled for another attempt",
	})

	// PermanentFailures counts jobs abandoned after the attempt ceiling
	PermanentFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swaprunner_permanent_failures_total",
		Help: "Number of orders that reached maximum attempts",
	})

	DuplicateJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swaprunner_duplicate_jobs_total",
		Help: "Number of enqueue calls rejected because the order already had a live job",
	})

	QueueWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swaprunner_queue_waiting",
		Help: "The number of jobs waiting for a worker",
	})

	QueueDelayed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swaprunner_queue_delayed",
		Help: "The number of jobs waiting for their retry backoff to elapse",
	})

	QueueActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swaprunner_queue_active",
		Help: "The number of jobs currently executing",
	})

	NextRetryIn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swaprunner_next_retry_seconds",
		Help: "Seconds until the next scheduled retry",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swaprunner_rate_limited_total",
		Help: "Number of dispatches delayed by the rate limiter",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swaprunner_subscribers",
		Help: "The number of registered order subscribers",
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprunner_notifications_sent_total",
		Help: "Status updates handed to a subscriber",
	}, []string{"status"})

	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprunner_notifications_dropped_total",
		Help: "Status updates dropped by reason",
	}, []string{"reason"})
)
