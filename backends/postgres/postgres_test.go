package postgres

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nsavage/ratelimitcore/counter"
	"github.com/nsavage/ratelimitcore/limit"
)

// setupBackend connects to a real Postgres instance when TEST_POSTGRES_DSN
// is set; otherwise it skips, since these tests exercise row-locking
// transaction semantics a fake can't faithfully stand in for.
func setupBackend(t *testing.T) *Backend {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping postgres backend tests")
	}

	b, err := New(Config{ConnString: dsn, MaxConns: 5, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, b.Clear())
		b.Close()
	})
	return b
}

func newLimit(t *testing.T, max, seconds uint64, vars []string) *limit.Limit {
	t.Helper()
	l, err := limit.New("api", max, seconds, nil, vars)
	require.NoError(t, err)
	return l
}

func TestBackend_SimpleCounterExhaustion(t *testing.T) {
	b := setupBackend(t)
	l := newLimit(t, 2, 60, nil)
	c := counter.New(l, 60*time.Second, nil)

	within, err := b.IsWithinLimits(&c, 1)
	require.NoError(t, err)
	require.True(t, within)

	require.NoError(t, b.UpdateCounter(&c, 1))
	require.NoError(t, b.UpdateCounter(&c, 1))

	within, err = b.IsWithinLimits(&c, 1)
	require.NoError(t, err)
	require.False(t, within)
}

func TestBackend_CheckAndUpdate_BatchIsAllOrNothing(t *testing.T) {
	b := setupBackend(t)
	loose := newLimit(t, 10, 60, nil)
	tight := newLimit(t, 1, 60, nil)

	cLoose := counter.New(loose, 60*time.Second, nil)
	cTight := counter.New(tight, 60*time.Second, nil)
	require.NoError(t, b.UpdateCounter(&cTight, 1))

	auth, err := b.CheckAndUpdate([]*counter.Counter{&cLoose, &cTight}, 1, false)
	require.NoError(t, err)
	require.True(t, auth.Limited)

	within, err := b.IsWithinLimits(&cLoose, 10)
	require.NoError(t, err)
	require.True(t, within, "the refused batch must not have applied the loose counter's delta")
}

func TestBackend_WindowResetsAfterExpiry(t *testing.T) {
	b := setupBackend(t)
	l := newLimit(t, 1, 1, nil)
	c := counter.New(l, time.Second, nil)

	require.NoError(t, b.UpdateCounter(&c, 1))
	within, err := b.IsWithinLimits(&c, 1)
	require.NoError(t, err)
	require.False(t, within)

	time.Sleep(1200 * time.Millisecond)

	within, err = b.IsWithinLimits(&c, 1)
	require.NoError(t, err)
	require.True(t, within)
}

func TestBackend_GetCountersAndDeleteCounters(t *testing.T) {
	b := setupBackend(t)
	l := newLimit(t, 5, 60, []string{"user_id"})
	c := counter.New(l, 60*time.Second, map[string]string{"user_id": "alice"})
	require.NoError(t, b.UpdateCounter(&c, 3))

	got, err := b.GetCounters([]*limit.Limit{l})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(2), got[0].Remaining())

	require.NoError(t, b.DeleteCounters([]*limit.Limit{l}))

	got, err = b.GetCounters([]*limit.Limit{l})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestBackend_Ping(t *testing.T) {
	b := setupBackend(t)
	require.NoError(t, b.Ping())
}
