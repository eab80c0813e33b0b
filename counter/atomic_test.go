package counter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAtomicExpiringValue_ZeroValueReadsZero(t *testing.T) {
	var a AtomicExpiringValue
	now := time.Now()
	assert.Equal(t, uint64(0), a.ValueAt(now))
	assert.Equal(t, time.Duration(0), a.TTL(now))
}

func TestAtomicExpiringValue_UpdateAccumulatesWithinWindow(t *testing.T) {
	var a AtomicExpiringValue
	now := time.Now()

	got := a.Update(3, time.Minute, now)
	assert.Equal(t, uint64(3), got)

	got = a.Update(2, time.Minute, now.Add(time.Second))
	assert.Equal(t, uint64(5), got, "a second update before expiry must accumulate, not reset the epoch")
	assert.Equal(t, uint64(5), a.ValueAt(now.Add(time.Second)))
}

func TestAtomicExpiringValue_UpdateResetsOnExpiredEpoch(t *testing.T) {
	var a AtomicExpiringValue
	now := time.Now()
	a.Update(10, time.Minute, now)

	later := now.Add(2 * time.Minute)
	got := a.Update(1, time.Minute, later)
	assert.Equal(t, uint64(1), got, "an update past expiry must start a fresh epoch instead of accumulating")
	assert.Equal(t, uint64(1), a.ValueAt(later))
}

func TestAtomicExpiringValue_ValueAtExpiredReadsZero(t *testing.T) {
	var a AtomicExpiringValue
	now := time.Now()
	a.Update(10, time.Minute, now)
	assert.Equal(t, uint64(0), a.ValueAt(now.Add(2*time.Minute)))
}

func TestNewAtomicExpiringValue_SeedsGivenState(t *testing.T) {
	expiry := time.Now().Add(time.Minute)
	a := NewAtomicExpiringValue(7, expiry)
	assert.Equal(t, uint64(7), a.ValueAt(expiry.Add(-time.Second)))
	assert.Equal(t, uint64(0), a.ValueAt(expiry.Add(time.Second)))
}

func TestAtomicExpiringValue_TTLFlooredAtZero(t *testing.T) {
	var a AtomicExpiringValue
	now := time.Now()
	a.Update(1, time.Minute, now)
	assert.Equal(t, time.Duration(0), a.TTL(now.Add(2*time.Minute)))
}

func TestAtomicExpiringValue_TryReturn(t *testing.T) {
	var a AtomicExpiringValue
	now := time.Now()
	a.Update(5, time.Minute, now)
	epoch := a.Expiry()

	ok := a.TryReturn(epoch, 2)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), a.ValueAt(now))
}

func TestAtomicExpiringValue_TryReturnClampsAtZero(t *testing.T) {
	var a AtomicExpiringValue
	now := time.Now()
	a.Update(2, time.Minute, now)
	epoch := a.Expiry()

	ok := a.TryReturn(epoch, 10)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), a.ValueAt(now))
}

func TestAtomicExpiringValue_TryReturnFailsAfterEpochRollover(t *testing.T) {
	var a AtomicExpiringValue
	now := time.Now()
	a.Update(5, time.Minute, now)
	staleEpoch := a.Expiry()

	a.Update(1, time.Minute, now.Add(2*time.Minute))

	ok := a.TryReturn(staleEpoch, 1)
	assert.False(t, ok, "a return against a rolled-over epoch must be rejected, not applied to the new one")
	assert.Equal(t, uint64(1), a.ValueAt(now.Add(2*time.Minute)))
}

func TestAtomicExpiringValue_Expiry(t *testing.T) {
	var a AtomicExpiringValue
	now := time.Now()
	a.Update(1, time.Minute, now)
	assert.WithinDuration(t, now.Add(time.Minute), a.Expiry(), time.Second)
}
