// Package instrument decorates a store.Store with logging, metrics and tracing.
package instrument

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/venomous-maker/mongo-eloquent/Engine/Store"
)

const (
	namespace = "eloquent"
	subsystem = "store"

	tracerName = "github.com/venomous-maker/mongo-eloquent"
)

// Metrics holds the collectors shared by every instrumented store on a registry.
type Metrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	documents  *prometheus.CounterVec
}

// NewMetrics registers the store collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Store operations by collection and operation.",
		}, []string{"collection", "operation"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Failed store operations by collection and operation.",
		}, []string{"collection", "operation"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection", "operation"}),
		documents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "documents_total",
			Help:      "Documents returned or affected by store operations.",
		}, []string{"collection", "operation"}),
	}
}

// Store wraps another store.Store.
type Store struct {
	next    store.Store
	metrics *Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

var _ store.Store = (*Store)(nil)

// Wrap returns next decorated with m. A nil logger is replaced by zap.NewNop.
func Wrap(next store.Store, m *Metrics, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		next:    next,
		metrics: m,
		logger:  logger.Named("store"),
		tracer:  otel.Tracer(tracerName),
	}
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() store.Store { return s.next }

// observe starts a span and returns the callback that records the outcome.
func (s *Store) observe(ctx context.Context, collection, op string) (context.Context, func(n int64, err error)) {
	ctx, span := s.tracer.Start(ctx, "store."+op, trace.WithAttributes(
		attribute.String("db.system", "mongodb"),
		attribute.String("db.collection.name", collection),
		attribute.String("db.operation.name", op),
	))
	start := time.Now()

	return ctx, func(n int64, err error) {
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.operations.WithLabelValues(collection, op).Inc()
			s.metrics.duration.WithLabelValues(collection, op).Observe(elapsed.Seconds())
			if err != nil {
				s.metrics.errors.WithLabelValues(collection, op).Inc()
			} else if n > 0 {
				s.metrics.documents.WithLabelValues(collection, op).Add(float64(n))
			}
		}

		span.SetAttributes(attribute.Int64("db.documents", n))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Warn("store operation failed",
				zap.String("collection", collection),
				zap.String("operation", op),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
		} else {
			s.logger.Debug("store operation",
				zap.String("collection", collection),
				zap.String("operation", op),
				zap.Int64("documents", n),
				zap.Duration("elapsed", elapsed))
		}
		span.End()
	}
}

func (s *Store) Aggregate(ctx context.Context, collection string, pipeline []bson.M) ([]bson.M, error) {
	ctx, done := s.observe(ctx, collection, "aggregate")
	docs, err := s.next.Aggregate(ctx, collection, pipeline)
	done(int64(len(docs)), err)
	return docs, err
}

func (s *Store) InsertOne(ctx context.Context, collection string, doc bson.M) (interface{}, error) {
	ctx, done := s.observe(ctx, collection, "insert_one")
	id, err := s.next.InsertOne(ctx, collection, doc)
	done(1, err)
	return id, err
}

func (s *Store) InsertMany(ctx context.Context, collection string, docs []bson.M) ([]interface{}, error) {
	ctx, done := s.observe(ctx, collection, "insert_many")
	ids, err := s.next.InsertMany(ctx, collection, docs)
	done(int64(len(ids)), err)
	return ids, err
}

func (s *Store) FindOneAndUpdate(ctx context.Context, collection string, filter, update bson.M) (bson.M, error) {
	ctx, done := s.observe(ctx, collection, "find_one_and_update")
	doc, err := s.next.FindOneAndUpdate(ctx, collection, filter, update)
	var n int64
	if doc != nil {
		n = 1
	}
	done(n, err)
	return doc, err
}

func (s *Store) UpdateMany(ctx context.Context, collection string, filter, update bson.M) (int64, error) {
	ctx, done := s.observe(ctx, collection, "update_many")
	n, err := s.next.UpdateMany(ctx, collection, filter, update)
	done(n, err)
	return n, err
}

func (s *Store) DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error) {
	ctx, done := s.observe(ctx, collection, "delete_many")
	n, err := s.next.DeleteMany(ctx, collection, filter)
	done(n, err)
	return n, err
}
