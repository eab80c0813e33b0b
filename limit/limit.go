// Package limit implements the predicate and window model that binds a
// Limit to the requests it should count: conditions, qualifying variables,
// and the canonical key a Limit is referenced by (§3-4.C of the spec this
// module implements).
package limit

import (
	"fmt"
	"sort"
	"strings"
)

// Limit is an immutable rate-limiting policy. Equality is structural except
// that a set ID, when present, is the identity (see Key).
type Limit struct {
	namespace  string
	maxValue   uint64
	seconds    uint64
	conditions []Condition
	variables  []string
	id         *string
	name       *string
}

// New validates and constructs a Limit. Window must be at least one second
// and every condition string must parse under the fixed grammar; either
// failure rejects the limit outright (it is never partially applied).
func New(namespace string, maxValue uint64, seconds uint64, conditions []string, variables []string, opts ...Option) (*Limit, error) {
	if namespace == "" {
		return nil, fmt.Errorf("limit: namespace cannot be empty")
	}
	if seconds < 1 {
		return nil, fmt.Errorf("limit: window must be at least 1 second, got %d", seconds)
	}

	parsed := make([]Condition, 0, len(conditions))
	for _, raw := range conditions {
		c, err := ParseCondition(raw)
		if err != nil {
			return nil, fmt.Errorf("limit: %w", err)
		}
		parsed = append(parsed, c)
	}

	vars := append([]string(nil), variables...)

	l := &Limit{
		namespace:  namespace,
		maxValue:   maxValue,
		seconds:    seconds,
		conditions: parsed,
		variables:  vars,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Option customizes a Limit at construction time.
type Option func(*Limit)

// WithID sets the limit's identity. Two limits with the same ID are the
// same limit regardless of namespace/conditions/variables (§3).
func WithID(id string) Option {
	return func(l *Limit) { l.id = &id }
}

// WithName attaches a human-readable name surfaced as Authorization.Name.
func WithName(name string) Option {
	return func(l *Limit) { l.name = &name }
}

func (l *Limit) Namespace() string      { return l.namespace }
func (l *Limit) MaxValue() uint64       { return l.maxValue }
func (l *Limit) Seconds() uint64        { return l.seconds }
func (l *Limit) Conditions() []Condition {
	return append([]Condition(nil), l.conditions...)
}
func (l *Limit) Variables() []string {
	return append([]string(nil), l.variables...)
}
func (l *Limit) ID() string {
	if l.id == nil {
		return ""
	}
	return *l.id
}
func (l *Limit) HasID() bool { return l.id != nil }
func (l *Limit) Name() string {
	if l.name == nil {
		return ""
	}
	return *l.name
}
func (l *Limit) HasName() bool { return l.name != nil }

// Qualified reports whether this limit has one or more variables.
func (l *Limit) Qualified() bool { return len(l.variables) > 0 }

// Applies reports whether every condition holds and every declared variable
// is present in values. A missing qualifying variable means the engine must
// not count this request toward a qualified limit.
func (l *Limit) Applies(values map[string]string) bool {
	for _, v := range l.variables {
		if _, ok := values[v]; !ok {
			return false
		}
	}
	for _, c := range l.conditions {
		if !c.Applies(values) {
			return false
		}
	}
	return true
}

// Equal implements the structural-except-identity equality from §3: if
// either limit has an ID set, equality is by ID; otherwise it is by the
// full anonymous tuple.
func (l *Limit) Equal(other *Limit) bool {
	if other == nil {
		return false
	}
	if l.id != nil || other.id != nil {
		return l.id != nil && other.id != nil && *l.id == *other.id
	}
	return l.Key() == other.Key()
}

// Key returns the canonical, comparable identity of this limit, used both
// as a map key for the simple-counter store and for "applies to" matching
// against counter keys already in storage.
func (l *Limit) Key() string {
	if l.id != nil {
		return "id:" + *l.id
	}
	conds := make([]string, len(l.conditions))
	for i, c := range l.conditions {
		conds[i] = c.String()
	}
	sort.Strings(conds)
	vars := append([]string(nil), l.variables...)
	sort.Strings(vars)
	var b strings.Builder
	b.WriteString("anon:")
	b.WriteString(l.namespace)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d", l.seconds)
	b.WriteByte('|')
	b.WriteString(strings.Join(conds, ","))
	b.WriteByte('|')
	b.WriteString(strings.Join(vars, ","))
	return b.String()
}

// AppliesToKey reports whether this limit matches a previously derived key
// string (§3: "A Limit applies to a key iff the key matches by id, or by
// the full anonymous tuple"). Used when invalidating counters by limit
// identity without holding the original *Limit.
func (l *Limit) AppliesToKey(key string) bool {
	return l.Key() == key
}
