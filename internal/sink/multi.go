package sink

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"logon-forwarder/internal/models"
)

// Multi fans one record out to every sink concurrently. A failing sink does
// not stop the others; all errors are returned joined.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Sinks() []Sink { return m.sinks }

func (m *Multi) Emit(ctx context.Context, rec models.Record) error {
	if len(m.sinks) == 1 {
		return m.sinks[0].Emit(ctx, rec)
	}

	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, s := range m.sinks {
		i, s := i, s
		g.Go(func() error {
			errs[i] = s.Emit(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Close closes every sink concurrently.
func (m *Multi) Close() error {
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, s := range m.sinks {
		i, s := i, s
		g.Go(func() error {
			errs[i] = s.Close()
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
