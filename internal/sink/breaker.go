package sink

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"logon-forwarder/internal/metrics"
	"logon-forwarder/internal/models"
)

type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
}

// Breaker stops calling a sink that keeps failing. While open, Emit fails
// fast with gobreaker.ErrOpenState.
type Breaker struct {
	next   Sink
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger *zap.Logger
}

func NewBreaker(next Sink, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		next:   next,
		logger: logger.Named("sink.breaker"),
	}

	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SinkBreakerState.WithLabelValues(name).Set(float64(to))
			b.logger.Warn("Sink breaker state changed",
				zap.String("sink", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	metrics.SinkBreakerState.WithLabelValues(next.Name()).Set(float64(gobreaker.StateClosed))

	return b
}

func (b *Breaker) Name() string { return b.next.Name() }

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Emit(ctx context.Context, rec models.Record) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Emit(ctx, rec)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.SinkEmitsTotal.WithLabelValues(b.Name(), "rejected").Inc()
		return err
	}
	metrics.RecordSinkEmit(b.Name(), err)
	return err
}

func (b *Breaker) Close() error { return b.next.Close() }
