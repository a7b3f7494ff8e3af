package watcher

import "errors"

var (
	ErrAlreadyRunning    = errors.New("watcher: already running")
	ErrSourceUnavailable = errors.New("watcher: audit source unavailable")
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Outcome is what happened to one delivered record.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeNonInteractive
	OutcomeMalformed
	OutcomeStale
	OutcomeDuplicate
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeNonInteractive:
		return "non_interactive"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeStale:
		return "stale"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}
