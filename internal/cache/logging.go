package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gridprompt/internal/metrics"
	"gridprompt/pkg/logging"
)

// LoggingStore wraps a Store with logging + metrics so every durable-tier
// round trip shows up in structured logs and Prometheus.
type LoggingStore struct {
	inner Store
}

// NewLoggingStore returns a store that logs and records metrics.
func NewLoggingStore(inner Store) Store {
	return &LoggingStore{inner: inner}
}

func (s *LoggingStore) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, ok, err := s.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.StoreOpsTotal.WithLabelValues("get", result).Inc()

	fields := []zap.Field{
		zap.String("store_key", key),
		zap.String("store_result", result),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Warn("store_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("store_get", fields...)
	}

	return value, ok, err
}

func (s *LoggingStore) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := s.inner.Set(ctx, key, value)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreOpsTotal.WithLabelValues("set", result).Inc()

	fields := []zap.Field{
		zap.String("store_key", key),
		zap.Int("value_bytes", len(value)),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Warn("store_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("store_set", fields...)
	}

	return err
}

func (s *LoggingStore) Remove(ctx context.Context, key string) error {
	err := s.inner.Remove(ctx, key)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreOpsTotal.WithLabelValues("remove", result).Inc()

	if err != nil {
		logging.L(ctx).Warn("store_remove",
			zap.String("store_key", key), zap.Error(err))
	}
	return err
}
