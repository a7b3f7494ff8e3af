package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"logon-forwarder/internal/metrics"
	"logon-forwarder/internal/models"
)

const (
	DefaultQueueSize    = 1024
	DefaultDrainTimeout = 10 * time.Second
	emitTimeout         = 15 * time.Second
)

type AsyncConfig struct {
	QueueSize    int
	Workers      int
	DrainTimeout time.Duration
}

// Async decouples callers from a sink with a bounded queue. Emit never
// blocks: when the queue is full the record is dropped, counted and logged.
type Async struct {
	next   Sink
	queue  chan models.Record
	drain  time.Duration
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	closeMu sync.Once
	err     error
}

func NewAsync(next Sink, cfg AsyncConfig, logger *zap.Logger) *Async {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		next:   next,
		queue:  make(chan models.Record, cfg.QueueSize),
		drain:  cfg.DrainTimeout,
		logger: logger.Named("sink.async").With(zap.String("sink", next.Name())),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

func (a *Async) Name() string { return a.next.Name() }

// Emit enqueues rec. It returns ErrQueueFull or ErrClosed when the record
// was dropped.
func (a *Async) Emit(_ context.Context, rec models.Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		metrics.SinkQueueDropped.WithLabelValues(a.Name()).Inc()
		return ErrClosed
	}

	select {
	case a.queue <- rec:
		metrics.SinkQueueDepth.WithLabelValues(a.Name()).Set(float64(len(a.queue)))
		return nil
	default:
		metrics.SinkQueueDropped.WithLabelValues(a.Name()).Inc()
		a.logger.Warn("Sink queue full, record dropped", zap.Int("capacity", cap(a.queue)))
		return ErrQueueFull
	}
}

func (a *Async) worker() {
	defer a.wg.Done()

	for rec := range a.queue {
		metrics.SinkQueueDepth.WithLabelValues(a.Name()).Set(float64(len(a.queue)))
		if a.ctx.Err() != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(a.ctx, emitTimeout)
		err := a.next.Emit(ctx, rec)
		cancel()

		if err != nil {
			a.logger.Error("Failed to emit record", zap.Error(err))
		}
	}
}

// Len returns the number of queued records.
func (a *Async) Len() int { return len(a.queue) }

// Close stops accepting records, drains the queue for up to the drain
// timeout, then closes the wrapped sink. Records still queued after the
// deadline are discarded.
func (a *Async) Close() error {
	a.closeMu.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(a.drain):
			left := len(a.queue)
			a.cancel()
			<-done
			metrics.SinkQueueDropped.WithLabelValues(a.Name()).Add(float64(left))
			a.err = fmt.Errorf("sink %s: drain timed out with %d records queued", a.Name(), left)
			a.logger.Warn("Sink drain timed out", zap.Int("discarded", left))
		}
		a.cancel()

		if err := a.next.Close(); err != nil && a.err == nil {
			a.err = err
		}
	})
	return a.err
}
