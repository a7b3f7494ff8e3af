// Package heartbeat periodically reports the forwarder's counters to the
// sink, so a silent forwarder can be told apart from a quiet machine.
package heartbeat

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"logon-forwarder/internal/metrics"
	"logon-forwarder/internal/models"
	"logon-forwarder/internal/sink"
)

const (
	DefaultInterval = time.Minute
	DefaultJitter   = 5 * time.Second
	emitTimeout     = 10 * time.Second
)

const MessageTemplate = "[{AppName}] Heartbeat: {ItemCount} cached ids, {AcceptedCount} accepted, " +
	"{NonInteractiveCount} non-interactive, {StaleCount} stale, {MalformedCount} malformed. " +
	"Next heartbeat at {NextHeartbeat}"

type StatsSource interface {
	Stats(ctx context.Context) models.Stats
}

type Options struct {
	// Interval between heartbeats after the first. Zero or negative disables
	// the reporter.
	Interval time.Duration
	// Jitter bounds the random delay before the first heartbeat.
	Jitter time.Duration
	App    models.AppInfo
	Clock  func() time.Time
	// RandN returns a value in [0, n). Defaults to math/rand.
	RandN  func(n int64) int64
	Logger *zap.Logger
}

// Reporter emits heartbeat records while armed. Start and Stop may be
// called repeatedly; the watcher arms it on every run.
type Reporter struct {
	stats    StatsSource
	sink     sink.Sink
	interval time.Duration
	jitter   time.Duration
	app      models.AppInfo
	now      func() time.Time
	randN    func(n int64) int64
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	next atomic.Int64
}

func New(stats StatsSource, s sink.Sink, opts Options) *Reporter {
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.RandN == nil {
		opts.RandN = rand.Int63n
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Reporter{
		stats:    stats,
		sink:     s,
		interval: opts.Interval,
		jitter:   opts.Jitter,
		app:      opts.App,
		now:      opts.Clock,
		randN:    opts.RandN,
		logger:   opts.Logger.Named("heartbeat"),
	}
}

func (r *Reporter) Enabled() bool {
	return r.interval > 0
}

// Start arms the reporter. It does nothing when disabled or already armed.
func (r *Reporter) Start() {
	if !r.Enabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	first := time.Duration(0)
	if r.jitter > 0 {
		first = time.Duration(r.randN(int64(r.jitter)))
	}
	r.setNext(r.now().Add(first))

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, first, r.done)

	r.logger.Info("Heartbeat armed",
		zap.Duration("first_in", first),
		zap.Duration("interval", r.interval),
	)
}

// Stop disarms the reporter and waits for an in-flight heartbeat.
func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.next.Store(0)
	r.logger.Info("Heartbeat disarmed")
}

// NextFire returns when the next heartbeat is due, or the zero time when
// the reporter is not armed.
func (r *Reporter) NextFire() time.Time {
	n := r.next.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (r *Reporter) setNext(t time.Time) {
	r.next.Store(t.UnixNano())
}

func (r *Reporter) loop(ctx context.Context, first time.Duration, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.setNext(r.now().Add(r.interval))
			r.Beat(ctx)
			timer.Reset(r.interval)
		}
	}
}

// Beat emits one heartbeat now.
func (r *Reporter) Beat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()

	rec := r.Record(r.stats.Stats(ctx))
	if err := r.sink.Emit(ctx, rec); err != nil {
		r.logger.Warn("Failed to emit heartbeat", zap.Error(err))
		return
	}
	metrics.HeartbeatsTotal.Inc()
}

// Record builds the heartbeat record for a stats snapshot.
func (r *Reporter) Record(s models.Stats) models.Record {
	next := r.NextFire()

	return models.Record{
		Timestamp:       r.now(),
		Level:           models.LevelInformation,
		MessageTemplate: MessageTemplate,
		Properties: []models.Property{
			{Name: "AppName", Value: r.app.Name},
			{Name: "MachineName", Value: r.app.MachineName},
			{Name: "ItemCount", Value: s.CacheEntries},
			{Name: "AcceptedCount", Value: s.Accepted},
			{Name: "NonInteractiveCount", Value: s.NonInteractive},
			{Name: "StaleCount", Value: s.Stale},
			{Name: "MalformedCount", Value: s.Malformed},
			{Name: "DuplicateCount", Value: s.Duplicate},
			{Name: "FailedCount", Value: s.Failed},
			{Name: "NextHeartbeat", Value: next},
			{Name: "InstanceId", Value: r.app.InstanceID},
		},
	}
}
