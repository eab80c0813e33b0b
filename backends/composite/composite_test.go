package composite

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsavage/ratelimitcore/backends"
	"github.com/nsavage/ratelimitcore/backends/health"
	"github.com/nsavage/ratelimitcore/backends/memory"
	"github.com/nsavage/ratelimitcore/counter"
	"github.com/nsavage/ratelimitcore/limit"
)

// flakyStorage wraps a memory.Store and fails every IsWithinLimits call
// while armed, so tests can drive the breaker without real backend outages.
type flakyStorage struct {
	*memory.Store
	mu    sync.Mutex
	armed bool
}

func (f *flakyStorage) IsWithinLimits(c *counter.Counter, delta uint64) (bool, error) {
	f.mu.Lock()
	armed := f.armed
	f.mu.Unlock()
	if armed {
		return false, errors.New("simulated primary outage")
	}
	return f.Store.IsWithinLimits(c, delta)
}

func (f *flakyStorage) setArmed(armed bool) {
	f.mu.Lock()
	f.armed = armed
	f.mu.Unlock()
}

func newFlaky() *flakyStorage { return &flakyStorage{Store: memory.New(0)} }

func newTestLimit(t *testing.T) *limit.Limit {
	t.Helper()
	l, err := limit.New("api", 5, 60, nil, nil)
	require.NoError(t, err)
	return l
}

func TestStore_RoutesToSecondaryWhenBreakerOpens(t *testing.T) {
	primary := newFlaky()
	secondary := memory.New(0)
	l := newTestLimit(t)
	require.NoError(t, primary.AddCounter(l))
	require.NoError(t, secondary.AddCounter(l))

	s, err := New(Config{
		Primary:        primary,
		Secondary:      secondary,
		CircuitBreaker: BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour},
		HealthChecker:  health.Config{Interval: 0},
	})
	require.NoError(t, err)
	defer s.Close()

	c := counter.New(l, 60*time.Second, map[string]string{})

	primary.setArmed(true)
	_, err = s.IsWithinLimits(&c, 1)
	assert.Error(t, err)
	_, err = s.IsWithinLimits(&c, 1)
	assert.NoError(t, err, "second failure trips the breaker and the call must fail over to secondary")

	assert.Equal(t, "open", s.GetCircuitBreakerState())
	assert.Equal(t, "IsWithinLimits", s.LastFailoverOp(), "breaker should remember which operation tripped it")

	within, err := s.IsWithinLimits(&c, 1)
	require.NoError(t, err)
	assert.True(t, within)
}

func TestStore_AddCounterMirrorsToBothBackends(t *testing.T) {
	primary := memory.New(0)
	secondary := memory.New(0)
	s, err := New(Config{
		Primary:       primary,
		Secondary:     secondary,
		HealthChecker: health.Config{Interval: 0},
	})
	require.NoError(t, err)
	defer s.Close()

	l := newTestLimit(t)
	require.NoError(t, s.AddCounter(l))

	c := counter.New(l, 60*time.Second, map[string]string{})
	_, err = primary.IsWithinLimits(&c, 0)
	require.NoError(t, err)
	_, err = secondary.IsWithinLimits(&c, 0)
	require.NoError(t, err)
}

func TestNew_RequiresBothBackends(t *testing.T) {
	_, err := New(Config{Primary: memory.New(0)})
	assert.Error(t, err)

	_, err = New(Config{Secondary: memory.New(0)})
	assert.Error(t, err)
}

var _ backends.CounterStorage = (*flakyStorage)(nil)
