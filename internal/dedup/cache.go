// Package dedup remembers which audit record ids were already examined.
//
// An id inserted into a Cache stays visible for at least the retention
// window measured from its most recent effective insert, and is removed
// some time after it expires. Two expiry policies exist and a cache runs
// exactly one of them:
//
//   - PolicyAbsolute: the window is fixed at the first insert. Re-inserting
//     a live id does not extend it. This is the default; memory growth is
//     bounded by the record rate times the retention regardless of how often
//     a source redelivers.
//   - PolicySliding: every insert restarts the window.
//
// Contains checks expiry itself, so callers never observe an expired id even
// when the sweeper has not run yet.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Policy int

const (
	PolicyAbsolute Policy = iota
	PolicySliding
)

var (
	ErrUnknownPolicy = errors.New("dedup: unknown expiry policy")
	ErrClosed        = errors.New("dedup: cache closed")
)

func (p Policy) String() string {
	switch p {
	case PolicyAbsolute:
		return "absolute"
	case PolicySliding:
		return "sliding"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts "absolute" or "sliding" in any case. Empty means absolute.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "absolute":
		return PolicyAbsolute, nil
	case "sliding":
		return PolicySliding, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Cache is a time-bounded set of record ids.
type Cache interface {
	// Insert records id as seen now, following the cache's policy.
	Insert(ctx context.Context, id uint64) error
	// Contains reports whether id is present and not expired.
	Contains(ctx context.Context, id uint64) (bool, error)
	// Len returns the number of ids currently held, which may include
	// expired ids not yet swept.
	Len(ctx context.Context) (int, error)
	Policy() Policy
	Close() error
}
