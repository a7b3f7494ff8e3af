package models

import "time"

// Stats is a point-in-time view of the watcher's counters.
type Stats struct {
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	Accepted       int64     `json:"accepted"`
	NonInteractive int64     `json:"non_interactive"`
	Malformed      int64     `json:"malformed"`
	Stale          int64     `json:"stale"`
	Duplicate      int64     `json:"duplicate"`
	Failed         int64     `json:"failed"`
	CacheEntries   int       `json:"cache_entries"`
	CachePolicy    string    `json:"cache_policy"`
	NextHeartbeat  time.Time `json:"next_heartbeat,omitempty"`
}
