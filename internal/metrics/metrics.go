package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	bidsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_bids_accepted_total",
		Help: "Bids accepted into the ledger.",
	})

	bidsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_rejected_total",
			Help: "Bids rejected, by reason.",
		},
		[]string{"reason"},
	)

	bidConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_bid_conflicts_total",
		Help: "Ledger append conflicts that forced a re-validation.",
	})

	extensions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_extensions_total",
		Help: "Anti-snipe end time extensions.",
	})

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_transitions_total",
			Help: "Auction state transitions, by target status.",
		},
		[]string{"to"},
	)

	settlementAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_settlement_attempts_total",
			Help: "Settlement hand-off attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	schedulerQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auction_scheduler_queue_size",
		Help: "Wake-ups currently queued by the scheduler.",
	})

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			bidsAccepted, bidsRejected, bidConflicts, extensions, transitions,
			settlementAttempts, schedulerQueue,
			httpInFlight, httpRequestsTotal, httpRequestDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func BidAccepted() { bidsAccepted.Inc() }
func BidRejected(reason string) { bidsRejected.WithLabelValues(reason).Inc() }
func BidConflict() { bidConflicts.Inc() }
func Extension() { extensions.Inc() }
func Transition(to string) { transitions.WithLabelValues(to).Inc() }
func SettlementAttempt(ok bool) { settlementAttempts.WithLabelValues(outcome(ok)).Inc() }
func SchedulerQueueSize(n int) { schedulerQueue.Set(float64(n)) }
func RequestStarted() { httpInFlight.Inc() }

// RequestFinished records one completed HTTP request. path should be the
// route template so label cardinality stays bounded.
func RequestFinished(method, path string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	httpRequestDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
	httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	httpInFlight.Dec()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
