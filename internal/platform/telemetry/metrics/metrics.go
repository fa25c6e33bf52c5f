package metrics

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

const namespace = "ledgerlink"

// Cache outcomes.
const (
	CacheHit        = "hit"
	CacheMiss       = "miss"
	CacheShared     = "shared"
	CacheRefresh    = "refresh"
	CacheDiscarded  = "discarded"
	CacheInvalidate = "invalidate"
)

// Metrics holds the client's Prometheus collectors.
type Metrics struct {
	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	cache       *prometheus.CounterVec
	mutations   *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote calls issued, by service, method and result code.",
		}, []string{"service", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Remote call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Query cache events by outcome.",
		}, []string{"outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Mutations by name and outcome.",
		}, []string{"name", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"state"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.calls, m.latency, m.cache, m.mutations, m.transitions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// UnaryClientInterceptor records count and latency for each outbound call.
func (m *Metrics) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		m.ObserveCall(method, time.Since(start), err)
		return err
	}
}

// ObserveCall records one remote call made to fullMethod ("/service/method").
func (m *Metrics) ObserveCall(fullMethod string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	service, method := SplitMethod(fullMethod)
	code := "OK"
	if err != nil {
		code = string(apperrors.CodeOf(apperrors.FromStatus(err)))
	}
	m.calls.WithLabelValues(service, method, code).Inc()
	m.latency.WithLabelValues(service, method).Observe(elapsed.Seconds())
}

// CacheEvent counts one cache outcome.
func (m *Metrics) CacheEvent(outcome string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(outcome).Inc()
}

// MutationOutcome counts one finished mutation. outcome is "ok" or an error code.
func (m *Metrics) MutationOutcome(name, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(name, outcome).Inc()
}

// SessionTransition counts a move into state.
func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// SplitMethod splits a full gRPC method name into service and method.
func SplitMethod(fullMethod string) (string, string) {
	trimmed := strings.TrimPrefix(fullMethod, "/")
	service, method, ok := strings.Cut(trimmed, "/")
	if !ok {
		return "unknown", trimmed
	}
	return service, method
}
