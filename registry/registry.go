// Package registry implements the namespace → limit-set mapping (§4.F,
// component F) the engine facade drives its decisions from.
package registry

import (
	"sync"

	"github.com/nsavage/ratelimitcore/backends"
	"github.com/nsavage/ratelimitcore/limit"
)

// Registry holds every known limit, grouped by namespace, and keeps a
// CounterStorage's counter slots in sync with limit lifecycle events.
type Registry struct {
	mu      sync.RWMutex
	byNS    map[string]map[string]*limit.Limit // namespace -> limit.Key() -> limit
	storage backends.CounterStorage
}

// New builds a Registry backed by storage. Every AddLimit/DeleteLimit call
// is mirrored into storage so counter slots never outlive their limit.
func New(storage backends.CounterStorage) *Registry {
	return &Registry{
		byNS:    make(map[string]map[string]*limit.Limit),
		storage: storage,
	}
}

// AddLimit inserts l into its namespace and registers its counter slot.
// Reports whether l was newly added (false if an equal limit, by Key, was
// already present).
func (r *Registry) AddLimit(l *limit.Limit) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.storage.AddCounter(l); err != nil {
		return false, err
	}

	set, ok := r.byNS[l.Namespace()]
	if !ok {
		set = make(map[string]*limit.Limit)
		r.byNS[l.Namespace()] = set
	}
	_, existed := set[l.Key()]
	set[l.Key()] = l
	return !existed, nil
}

// UpdateLimit replaces an existing limit (matched by Key) with update if its
// MaxValue or Name differ. Reports whether a replacement happened. Never
// resets the limit's counters.
func (r *Registry) UpdateLimit(update *limit.Limit) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byNS[update.Namespace()]
	if !ok {
		return false
	}
	existing, ok := set[update.Key()]
	if !ok {
		return false
	}
	if existing.MaxValue() == update.MaxValue() && existing.Name() == update.Name() {
		return false
	}
	set[update.Key()] = update
	return true
}

// DeleteLimit removes l from its namespace and deletes its counter storage.
// An empty namespace is dropped.
func (r *Registry) DeleteLimit(l *limit.Limit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := l
	set, ok := r.byNS[l.Namespace()]
	if ok {
		if existing, ok2 := set[l.Key()]; ok2 {
			target = existing
		}
	}

	if err := r.storage.DeleteCounters([]*limit.Limit{target}); err != nil {
		return err
	}

	if ok {
		delete(set, l.Key())
		if len(set) == 0 {
			delete(r.byNS, l.Namespace())
		}
	}
	return nil
}

// DeleteLimits removes every limit in namespace and deletes their counter
// storage.
func (r *Registry) DeleteLimits(namespace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byNS[namespace]
	if !ok {
		return nil
	}
	delete(r.byNS, namespace)

	all := make([]*limit.Limit, 0, len(set))
	for _, l := range set {
		all = append(all, l)
	}
	return r.storage.DeleteCounters(all)
}

// GetLimits returns a snapshot of the limits currently registered under
// namespace.
func (r *Registry) GetLimits(namespace string) []*limit.Limit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byNS[namespace]
	out := make([]*limit.Limit, 0, len(set))
	for _, l := range set {
		out = append(out, l)
	}
	return out
}

// GetNamespaces returns a snapshot of every namespace holding at least one
// limit.
func (r *Registry) GetNamespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byNS))
	for ns := range r.byNS {
		out = append(out, ns)
	}
	return out
}

// Clear drops every known limit and empties the backing storage.
func (r *Registry) Clear() error {
	r.mu.Lock()
	r.byNS = make(map[string]map[string]*limit.Limit)
	r.mu.Unlock()
	return r.storage.Clear()
}
