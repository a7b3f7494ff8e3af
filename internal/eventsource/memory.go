package eventsource

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemorySource is an in-process Source fed through Publish. It backs local
// replay and tests.
type MemorySource struct {
	mu   sync.RWMutex
	subs map[*memorySubscription]struct{}

	// FailSubscribe, when set, is returned by the next Subscribe calls.
	FailSubscribe error
}

type memorySubscription struct {
	src     *MemorySource
	query   Query
	handler Handler
	once    sync.Once
}

func NewMemorySource() *MemorySource {
	return &MemorySource{subs: make(map[*memorySubscription]struct{})}
}

func (m *MemorySource) Subscribe(_ context.Context, q Query, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSubscribe != nil {
		return nil, m.FailSubscribe
	}

	sub := &memorySubscription{src: m, query: q, handler: h}
	m.subs[sub] = struct{}{}
	return sub, nil
}

// Publish delivers rec synchronously to every subscription whose query it matches.
// It returns the number of subscriptions that received it.
func (m *MemorySource) Publish(rec *RawRecord) int {
	m.mu.RLock()
	targets := make([]*memorySubscription, 0, len(m.subs))
	for sub := range m.subs {
		if sub.query.Matches(rec) {
			targets = append(targets, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		sub.handler(rec)
	}
	return len(targets)
}

// Subscribers returns the number of open subscriptions.
func (m *MemorySource) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.src.mu.Lock()
		delete(s.src.subs, s)
		s.src.mu.Unlock()
	})
	return nil
}

// Replay publishes one JSON record per line of r until EOF or ctx is done.
// Blank lines are skipped; undecodable lines are published as nil records.
// It returns the number of lines published.
func (m *MemorySource) Replay(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := DecodeRecord(line)
		if err != nil {
			rec = nil
		}
		m.Publish(rec)
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("failed to read replay input: %w", err)
	}
	return n, nil
}
