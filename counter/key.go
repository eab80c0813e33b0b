package counter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nsavage/ratelimitcore/utils/builderpool"
)

// wireSentinel is the stable prefix the counter-key wire format (§6) opens
// with, so disk/Redis backends can recognize keys written by this version
// of the engine.
const wireSentinel = "rlc1"

// QualifiedKey is the canonical, ordered identity of a qualified counter:
// the limit's key plus its variable bindings, ordered by variable name so
// equality and hashing are deterministic regardless of map iteration order
// (§3 "Qualified-counter key").
func (c *Counter) QualifiedKey() string {
	return EncodeQualifiedKey(c.limit.Key(), c.window, c.bindings)
}

// EncodeQualifiedKey builds the deterministic wire-format string for a
// (limit key, window, bindings) triple. The same triple always produces the
// same bytes, independent of map iteration order — the requirement imposed
// by §6's "Counter key wire format" for interoperability across storage
// backends.
func EncodeQualifiedKey(limitKey string, window time.Duration, bindings map[string]string) string {
	names := make([]string, 0, len(bindings))
	for k := range bindings {
		names = append(names, k)
	}
	sort.Strings(names)

	b := builderpool.Get()
	defer builderpool.Put(b)
	b.WriteString(wireSentinel)
	b.WriteByte('|')
	b.WriteString(limitKey)
	b.WriteByte('|')
	b.WriteString(window.String())
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(bindings[name])
	}
	return b.String()
}

// EncodeSimpleKey builds the deterministic wire-format string for a simple
// (no-bindings) counter key, with the window in whole seconds. The Redis and
// Postgres backends key every counter, simple or qualified, with
// EncodeQualifiedKey instead, and DecodeKey does not parse this form.
func EncodeSimpleKey(limitKey string, windowSeconds uint64) string {
	b := builderpool.Get()
	defer builderpool.Put(b)
	b.WriteString(wireSentinel)
	b.WriteByte('|')
	b.WriteString(limitKey)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(windowSeconds, 10))
	return b.String()
}

// LimitIndexKey builds the deterministic key of the Redis set that indexes
// every counter key belonging to a limit, used by DeleteCounters.
func LimitIndexKey(limitKey string) string {
	return fmt.Sprintf("%s|limit|%s", wireSentinel, limitKey)
}

// DecodeKey reverses EncodeQualifiedKey, recovering the limit key, window,
// and variable bindings a Redis-style counter key was built from. Backends
// that index counters by key (rather than keeping the Counter struct
// around) use this to reconstruct counters for GetCounters.
func DecodeKey(key string) (limitKey string, window time.Duration, bindings map[string]string, ok bool) {
	parts := strings.Split(key, "|")
	if len(parts) < 3 || parts[0] != wireSentinel {
		return "", 0, nil, false
	}
	// The limit key may itself contain '|' (anonymous keys do), so the window
	// is the last part that parses as a duration; binding parts contain '='
	// and never parse as one.
	windowIdx := -1
	for i := len(parts) - 1; i >= 2; i-- {
		if w, err := time.ParseDuration(parts[i]); err == nil {
			window, windowIdx = w, i
			break
		}
	}
	if windowIdx < 0 {
		return "", 0, nil, false
	}
	bindings = make(map[string]string, len(parts)-windowIdx-1)
	for _, pair := range parts[windowIdx+1:] {
		name, val, found := strings.Cut(pair, "=")
		if !found {
			return "", 0, nil, false
		}
		bindings[name] = val
	}
	return strings.Join(parts[1:windowIdx], "|"), window, bindings, true
}
