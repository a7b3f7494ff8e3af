// Package watcher subscribes to the security audit log and forwards
// genuine interactive logons to a sink.
//
// Records arrive from the source on its own goroutines and are handed to a
// fixed pool of workers. A record id always maps to the same worker, so two
// deliveries of one id are processed one after the other and the dedup
// check-then-insert cannot race with itself.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"logon-forwarder/internal/bucketing"
	"logon-forwarder/internal/dedup"
	"logon-forwarder/internal/eventsource"
	"logon-forwarder/internal/metrics"
	"logon-forwarder/internal/models"
	"logon-forwarder/internal/sink"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Heartbeat is armed while the watcher runs.
type Heartbeat interface {
	Start()
	Stop()
	NextFire() time.Time
}

type Options struct {
	Source eventsource.Source
	Query  eventsource.Query
	Cache  dedup.Cache
	Sink   sink.Sink
	App    models.AppInfo
	// Retention bounds how old a record may be and still be handled. It
	// should match the dedup cache retention.
	Retention time.Duration
	Workers   int
	QueueSize int
	Clock     func() time.Time
	Logger    *zap.Logger
}

type Watcher struct {
	source    eventsource.Source
	query     eventsource.Query
	cache     dedup.Cache
	sink      sink.Sink
	app       models.AppInfo
	retention time.Duration
	workers   int
	queueSize int
	now       func() time.Time
	logger    *zap.Logger
	buckets   *bucketing.Manager

	counters counters
	state    atomic.Int32

	hbMu      sync.RWMutex
	heartbeat Heartbeat

	// mu serializes Start and Stop.
	mu        sync.Mutex
	startedAt atomic.Pointer[time.Time]
	sub       eventsource.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// deliverMu guards queues against close while a delivery is sending.
	deliverMu sync.RWMutex
	accepting bool
	runCtx    context.Context
	queues    []chan *eventsource.RawRecord
}

func New(opts Options) *Watcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Retention <= 0 {
		opts.Retention = dedup.DefaultRetention
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Watcher{
		source:    opts.Source,
		query:     opts.Query,
		cache:     opts.Cache,
		sink:      opts.Sink,
		app:       opts.App,
		retention: opts.Retention,
		workers:   opts.Workers,
		queueSize: opts.QueueSize,
		now:       opts.Clock,
		logger:    opts.Logger.Named("watcher"),
		buckets:   bucketing.NewManager(opts.Workers),
	}
}

// SetHeartbeat attaches the heartbeat armed by Start. Call before Start.
func (w *Watcher) SetHeartbeat(h Heartbeat) {
	w.hbMu.Lock()
	defer w.hbMu.Unlock()
	w.heartbeat = h
}

func (w *Watcher) currentHeartbeat() Heartbeat {
	w.hbMu.RLock()
	defer w.hbMu.RUnlock()
	return w.heartbeat
}

func (w *Watcher) State() State {
	return State(w.state.Load())
}

func (w *Watcher) setState(s State) {
	w.state.Store(int32(s))
	metrics.WatcherState.Set(float64(s))
}

// StartedAt returns when the current run began, or the zero time if the
// watcher never started.
func (w *Watcher) StartedAt() time.Time {
	if t := w.startedAt.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Start subscribes to the source and begins processing. On subscription
// failure the watcher stays stopped and the error wraps ErrSourceUnavailable.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyRunning
	}
	metrics.WatcherState.Set(float64(StateStarting))

	started := w.now()
	w.startedAt.Store(&started)

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.startWorkers(runCtx)

	sub, err := w.source.Subscribe(ctx, w.query, w.deliver)
	if err != nil {
		cancel()
		w.stopWorkers()
		w.setState(StateStopped)
		w.logger.Error("Failed to subscribe to audit log",
			zap.String("log_name", w.query.LogName),
			zap.Uint32("event_id", w.query.EventID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	w.sub = sub

	if hb := w.currentHeartbeat(); hb != nil {
		hb.Start()
	}
	w.setState(StateRunning)

	w.logger.Info("Watcher started",
		zap.String("log_name", w.query.LogName),
		zap.Uint32("event_id", w.query.EventID),
		zap.String("keywords", fmt.Sprintf("%#x", w.query.Keywords)),
		zap.Int("workers", w.workers),
		zap.Duration("retention", w.retention),
	)
	return nil
}

// Stop closes the subscription, disarms the heartbeat and waits for the
// record in progress on each worker. Queued records are dropped. It does
// nothing unless the watcher is running.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}
	metrics.WatcherState.Set(float64(StateStopping))

	w.cancel()

	var err error
	if w.sub != nil {
		if err = w.sub.Close(); err != nil {
			w.logger.Warn("Failed to close audit log subscription", zap.Error(err))
		}
		w.sub = nil
	}
	if hb := w.currentHeartbeat(); hb != nil {
		hb.Stop()
	}

	w.stopWorkers()
	w.setState(StateStopped)

	s := w.snapshot()
	w.logger.Info("Watcher stopped",
		zap.Int64("accepted", s.Accepted),
		zap.Int64("non_interactive", s.NonInteractive),
		zap.Int64("malformed", s.Malformed),
		zap.Int64("stale", s.Stale),
		zap.Int64("duplicate", s.Duplicate),
		zap.Int64("failed", s.Failed),
	)
	return err
}

func (w *Watcher) startWorkers(ctx context.Context) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.queues = make([]chan *eventsource.RawRecord, w.workers)
	for i := range w.queues {
		q := make(chan *eventsource.RawRecord, w.queueSize)
		w.queues[i] = q
		w.wg.Add(1)
		go w.work(ctx, q)
	}
	w.runCtx = ctx
	w.accepting = true
}

// stopWorkers closes the queues once no delivery is sending and waits for
// the workers to exit.
func (w *Watcher) stopWorkers() {
	w.deliverMu.Lock()
	w.accepting = false
	for _, q := range w.queues {
		close(q)
	}
	w.queues = nil
	w.deliverMu.Unlock()

	w.wg.Wait()
	metrics.WatcherQueueDepth.Set(0)
}

// deliver is the subscription handler. It blocks while the record's worker
// queue is full and drops the record once Stop has begun.
func (w *Watcher) deliver(rec *eventsource.RawRecord) {
	w.deliverMu.RLock()
	defer w.deliverMu.RUnlock()

	if !w.accepting {
		return
	}

	idx := 0
	if rec != nil {
		idx = w.buckets.BucketFor(rec.RecordID)
	}

	select {
	case w.queues[idx] <- rec:
		metrics.WatcherQueueDepth.Inc()
	case <-w.runCtx.Done():
	}
}

// work handles records until its queue is closed. Records still queued
// once the run is cancelled are dropped.
func (w *Watcher) work(ctx context.Context, q <-chan *eventsource.RawRecord) {
	defer w.wg.Done()

	for rec := range q {
		metrics.WatcherQueueDepth.Dec()
		if ctx.Err() != nil {
			continue
		}
		w.HandleRecord(context.Background(), rec)
	}
}

// Stats returns the current counters together with cache and lifecycle state.
func (w *Watcher) Stats(ctx context.Context) models.Stats {
	s := w.snapshot()

	if n, err := w.cache.Len(ctx); err != nil {
		w.logger.Warn("Failed to read dedup cache size", zap.Error(err))
	} else {
		s.CacheEntries = n
	}

	if hb := w.currentHeartbeat(); hb != nil && w.State() == StateRunning {
		s.NextHeartbeat = hb.NextFire()
	}
	return s
}

func (w *Watcher) snapshot() models.Stats {
	return models.Stats{
		State:          w.State().String(),
		StartedAt:      w.StartedAt(),
		Accepted:       w.counters.accepted.Load(),
		NonInteractive: w.counters.nonInteractive.Load(),
		Malformed:      w.counters.malformed.Load(),
		Stale:          w.counters.stale.Load(),
		Duplicate:      w.counters.duplicate.Load(),
		Failed:         w.counters.failed.Load(),
		CachePolicy:    w.cache.Policy().String(),
	}
}
