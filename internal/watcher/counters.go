package watcher

import (
	"sync/atomic"

	"logon-forwarder/internal/metrics"
)

type counters struct {
	accepted       atomic.Int64
	nonInteractive atomic.Int64
	malformed      atomic.Int64
	stale          atomic.Int64
	duplicate      atomic.Int64
	failed         atomic.Int64
}

func (c *counters) record(o Outcome) {
	switch o {
	case OutcomeAccepted:
		c.accepted.Add(1)
	case OutcomeNonInteractive:
		c.nonInteractive.Add(1)
	case OutcomeMalformed:
		c.malformed.Add(1)
	case OutcomeStale:
		c.stale.Add(1)
	case OutcomeDuplicate:
		c.duplicate.Add(1)
	default:
		c.failed.Add(1)
	}
	metrics.RecordOutcome(o.String())
}
