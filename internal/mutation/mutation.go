// Package mutation coordinates remote writes with the query cache.
//
// A mutation optionally applies optimistic values, issues the remote call,
// and then either invalidates the affected key prefixes (success) or
// restores the optimistic keys to their prior state (failure). Invalidation
// never happens before the remote call has succeeded.
package mutation

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	platformotel "github.com/louisbranch/ledgerlink/internal/platform/otel"
	"github.com/louisbranch/ledgerlink/internal/platform/retry"
	"github.com/louisbranch/ledgerlink/internal/platform/telemetry/metrics"
	"github.com/louisbranch/ledgerlink/internal/querycache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/louisbranch/ledgerlink/internal/mutation"

// Update is one optimistic cache write.
type Update struct {
	Key   querycache.Key
	Value any
}

// Mutation describes one remote write.
type Mutation[T any] struct {
	// Name labels logs, spans and metrics.
	Name string
	Call func(ctx context.Context) (T, error)
	// Optimistic values are written before the call and rolled back if it
	// fails.
	Optimistic []Update
	// Invalidate lists the key prefixes to drop after success.
	Invalidate []querycache.Key
	// InvalidateResult adds prefixes that depend on the call's result.
	InvalidateResult func(T) []querycache.Key
}

// Options configures a Coordinator.
type Options struct {
	Retry   retry.Policy
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

// Coordinator applies mutations against one cache.
type Coordinator struct {
	cache   *querycache.Cache
	retry   retry.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a coordinator writing to cache.
func New(cache *querycache.Cache, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = platformotel.Tracer(tracerName)
	}
	return &Coordinator{
		cache:   cache,
		retry:   opts.Retry,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
	}
}

// Mutate runs m. Retryable failures are re-issued under the coordinator's
// policy; any other failure rolls back the optimistic writes and is returned
// unchanged.
func Mutate[T any](ctx context.Context, co *Coordinator, m Mutation[T]) (T, error) {
	var zero T
	if m.Call == nil {
		return zero, apperrors.Newf(apperrors.CodeValidation, "mutation %q has no call", m.Name)
	}
	id := uuid.NewString()
	ctx, span := co.tracer.Start(ctx, "mutation "+m.Name, trace.WithAttributes(
		attribute.String("ledgerlink.mutation.name", m.Name),
		attribute.String("ledgerlink.mutation.id", id),
	))
	defer span.End()
	log := co.logger.With("mutation", m.Name, "mutation_id", id)

	snapshots := make([]querycache.Snapshot, 0, len(m.Optimistic))
	for _, u := range m.Optimistic {
		snapshots = append(snapshots, co.cache.Write(u.Key, u.Value))
	}

	v, err := retry.Do(ctx, co.retry, m.Call, func(attempt int, err error, _ time.Duration) {
		log.Warn("retrying mutation", "attempt", attempt, "error", err)
		span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
	})
	if err != nil {
		for _, snap := range slices.Backward(snapshots) {
			co.cache.Rollback(snap)
		}
		code := apperrors.CodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		co.metrics.MutationOutcome(m.Name, string(code))
		log.Warn("mutation failed", "code", code, "rolled_back", len(snapshots), "error", err)
		return zero, err
	}

	prefixes := m.Invalidate
	if m.InvalidateResult != nil {
		prefixes = append(slices.Clone(prefixes), m.InvalidateResult(v)...)
	}
	for _, prefix := range prefixes {
		co.cache.Invalidate(prefix)
	}
	co.metrics.MutationOutcome(m.Name, "ok")
	log.Info("mutation applied", "invalidated", len(prefixes))
	return v, nil
}
