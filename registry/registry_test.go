package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsavage/ratelimitcore/backends/memory"
	"github.com/nsavage/ratelimitcore/limit"
)

func newTestLimit(t *testing.T, ns string, max uint64, opts ...limit.Option) *limit.Limit {
	t.Helper()
	l, err := limit.New(ns, max, 60, nil, nil, opts...)
	require.NoError(t, err)
	return l
}

func TestAddLimit_DedupesByKey(t *testing.T) {
	r := New(memory.New(0))
	l1 := newTestLimit(t, "api", 10)
	l2 := newTestLimit(t, "api", 10)

	added, err := r.AddLimit(l1)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = r.AddLimit(l2)
	require.NoError(t, err)
	assert.False(t, added, "an equal limit must not be added twice")

	assert.Len(t, r.GetLimits("api"), 1)
}

func TestUpdateLimit_OnlyWhenMaxOrNameDiffer(t *testing.T) {
	r := New(memory.New(0))
	l, err := limit.New("api", 10, 60, nil, nil, limit.WithID("fixed"))
	require.NoError(t, err)
	_, err = r.AddLimit(l)
	require.NoError(t, err)

	same, err := limit.New("api", 10, 60, nil, nil, limit.WithID("fixed"))
	require.NoError(t, err)
	assert.False(t, r.UpdateLimit(same))

	changed, err := limit.New("api", 20, 60, nil, nil, limit.WithID("fixed"))
	require.NoError(t, err)
	assert.True(t, r.UpdateLimit(changed))

	got := r.GetLimits("api")
	require.Len(t, got, 1)
	assert.Equal(t, uint64(20), got[0].MaxValue())
}

func TestDeleteLimit_DropsEmptyNamespace(t *testing.T) {
	r := New(memory.New(0))
	l := newTestLimit(t, "api", 10)
	_, err := r.AddLimit(l)
	require.NoError(t, err)

	require.NoError(t, r.DeleteLimit(l))
	assert.Empty(t, r.GetLimits("api"))
	assert.NotContains(t, r.GetNamespaces(), "api")
}

func TestDeleteLimits_RemovesWholeNamespace(t *testing.T) {
	r := New(memory.New(0))
	a := newTestLimit(t, "api", 10, limit.WithID("a"))
	b := newTestLimit(t, "api", 20, limit.WithID("b"))
	_, err := r.AddLimit(a)
	require.NoError(t, err)
	_, err = r.AddLimit(b)
	require.NoError(t, err)

	require.NoError(t, r.DeleteLimits("api"))
	assert.Empty(t, r.GetLimits("api"))
}

func TestGetNamespaces(t *testing.T) {
	r := New(memory.New(0))
	_, err := r.AddLimit(newTestLimit(t, "api", 10))
	require.NoError(t, err)
	_, err = r.AddLimit(newTestLimit(t, "admin", 10))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"api", "admin"}, r.GetNamespaces())
}
