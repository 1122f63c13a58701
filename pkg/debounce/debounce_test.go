package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	clock := NewFakeClock()
	var calls int
	d := New(100*time.Millisecond, clock, func() { calls++ })

	d.Trigger()
	clock.Advance(50 * time.Millisecond)
	d.Trigger()
	clock.Advance(50 * time.Millisecond)
	d.Trigger()

	assert.Equal(t, 0, calls)
	clock.Advance(99 * time.Millisecond)
	assert.Equal(t, 0, calls)
	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, calls)

	clock.Advance(time.Second)
	assert.Equal(t, 1, calls)
}

func TestDebouncer_FlushAndStop(t *testing.T) {
	clock := NewFakeClock()
	var calls int
	d := New(100*time.Millisecond, clock, func() { calls++ })

	d.Flush()
	assert.Equal(t, 0, calls, "flush without pending call is a no-op")

	d.Trigger()
	assert.True(t, d.Pending())
	d.Flush()
	assert.Equal(t, 1, calls)
	assert.False(t, d.Pending())

	d.Trigger()
	d.Stop()
	clock.Advance(time.Second)
	assert.Equal(t, 1, calls)
}

func TestGroup_KeysAreIndependent(t *testing.T) {
	clock := NewFakeClock()
	g := NewGroup(300*time.Millisecond, clock)

	var fired []string
	g.Trigger("name", func() { fired = append(fired, "name") })
	clock.Advance(200 * time.Millisecond)

	// Typing in email must not push back the pending name call.
	g.Trigger("email", func() { fired = append(fired, "email") })
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, []string{"name"}, fired)
	assert.True(t, g.Pending("email"))

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, []string{"name", "email"}, fired)
}

func TestGroup_LatestCallbackWins(t *testing.T) {
	clock := NewFakeClock()
	g := NewGroup(300*time.Millisecond, clock)

	var got string
	g.Trigger("name", func() { got = "first" })
	g.Trigger("name", func() { got = "second" })
	clock.Advance(300 * time.Millisecond)

	assert.Equal(t, "second", got)
}

func TestDebouncer_RealClock(t *testing.T) {
	var calls atomic.Int32
	d := New(10*time.Millisecond, nil, func() { calls.Add(1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
