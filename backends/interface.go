// Package backends defines the storage-backend contract (§6) that the
// engine's decision protocol is built against. Concrete backends — the
// always-resident in-memory store (§4.E) and the pluggable Redis/Postgres/
// composite variants — live in subpackages and implement CounterStorage.
package backends

import (
	"github.com/nsavage/ratelimitcore/counter"
	"github.com/nsavage/ratelimitcore/limit"
)

// Authorization is the outcome of a decision: either Ok, or Limited naming
// the first counter that failed (empty string if that limit was unnamed).
type Authorization struct {
	Limited bool
	Name    string
}

// Ok is the always-allowed Authorization value.
var Ok = Authorization{}

// Limiting constructs a Limited authorization naming the offending limit.
func Limiting(name string) Authorization {
	return Authorization{Limited: true, Name: name}
}

// CounterStorage is the capability set every storage backend — in-memory,
// disk, Redis, or a distributed/composite variant — must implement (§6).
// Reads never mutate; on error the caller sees the error and no side
// effects.
type CounterStorage interface {
	// IsWithinLimits reports whether c could absorb delta without
	// exceeding its maximum. Never mutates.
	IsWithinLimits(c *counter.Counter, delta uint64) (bool, error)

	// AddCounter registers a limit's window(s) with the store, creating a
	// simple counter's storage slot eagerly or indexing a qualified
	// limit's windows for lazy instantiation.
	AddCounter(l *limit.Limit) error

	// UpdateCounter unconditionally applies delta to c's window. Bypasses
	// the check — see the engine facade's UpdateCounters doc.
	UpdateCounter(c *counter.Counter, delta uint64) error

	// CheckAndUpdate is the all-or-nothing decision protocol (§4.E): every
	// counter in the batch increments, or none do. When loadCounters is
	// true, every counter is evaluated and Remaining is populated on each
	// one for the caller even when the batch is refused; the Redis and
	// Postgres backends also populate ExpiresIn, the in-memory one does not.
	CheckAndUpdate(counters []*counter.Counter, delta uint64, loadCounters bool) (Authorization, error)

	// GetCounters returns a live snapshot of every non-expired counter
	// belonging to limits, across both simple and qualified storage.
	GetCounters(limits []*limit.Limit) ([]counter.Counter, error)

	// DeleteCounters removes all counter storage for limits.
	DeleteCounters(limits []*limit.Limit) error

	// Clear empties the entire store.
	Clear() error
}

// Pinger is optionally implemented by backends with an external dependency
// (Redis, Postgres) so backends/health can probe liveness.
type Pinger interface {
	Ping() error
}
