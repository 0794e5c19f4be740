package timer_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/minefield/internal/pkg/timer"
)

const (
	waitFor = 2 * time.Second
	polling = 5 * time.Millisecond
)

type recorder struct {
	mu      sync.Mutex
	ticks   []int
	expired atomic.Int32
	alive   atomic.Bool
}

func newRecorder() *recorder {
	r := &recorder{}
	r.alive.Store(true)

	return r
}

func (r *recorder) tick(_ uint64, left int) bool {
	r.mu.Lock()
	r.ticks = append(r.ticks, left)
	r.mu.Unlock()

	return r.alive.Load()
}

func (r *recorder) expire(uint64) {
	r.expired.Add(1)
}

func (r *recorder) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ticks) == 0 {
		return -1
	}

	return r.ticks[len(r.ticks)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.ticks)
}

func TestCountdownExpiresOnce(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	timers := timer.New(clock)
	rec := newRecorder()

	token := timers.Arm("m1", 3, rec.tick, rec.expire)
	require.NotZero(t, token)
	assert.True(t, timers.Active("m1"))

	for _, want := range []int{2, 1, 0} {
		clock.Advance(time.Second)
		assert.Eventually(t, func() bool { return rec.last() == want }, waitFor, polling)
	}

	assert.Eventually(t, func() bool { return rec.expired.Load() == 1 }, waitFor, polling)
	assert.False(t, timers.Active("m1"))

	clock.Advance(time.Second)
	assert.Never(t, func() bool { return rec.expired.Load() > 1 }, 50*time.Millisecond, polling)
}

func TestArmSupersedesPreviousCountdown(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	timers := timer.New(clock)
	first := newRecorder()
	second := newRecorder()

	firstToken := timers.Arm("m1", 1, first.tick, first.expire)
	secondToken := timers.Arm("m1", 2, second.tick, second.expire)

	assert.NotEqual(t, firstToken, secondToken)
	assert.Equal(t, 1, timers.Len())

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return second.last() == 1 }, waitFor, polling)

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return second.expired.Load() == 1 }, waitFor, polling)

	assert.Zero(t, first.expired.Load())
	assert.Equal(t, 0, timers.Len())
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	timers := timer.New(clock)
	rec := newRecorder()

	timers.Arm("m1", 1, rec.tick, rec.expire)
	timers.Cancel("m1")
	timers.Cancel("m1")
	timers.Cancel("unknown")

	assert.False(t, timers.Active("m1"))

	clock.Advance(time.Second)
	assert.Never(t, func() bool { return rec.expired.Load() > 0 }, 50*time.Millisecond, polling)
}

func TestCountdownStopsWhenTargetIsGone(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	timers := timer.New(clock)
	rec := newRecorder()
	rec.alive.Store(false)

	timers.Arm("m1", 2, rec.tick, rec.expire)

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return !timers.Active("m1") }, waitFor, polling)

	clock.Advance(time.Second)
	assert.Never(t, func() bool { return rec.expired.Load() > 0 || rec.count() > 1 }, 50*time.Millisecond, polling)
}

func TestExpireMayRearm(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	timers := timer.New(clock)
	rec := newRecorder()
	rearmed := make(chan uint64, 1)

	timers.Arm("m1", 1, rec.tick, func(uint64) {
		rearmed <- timers.Arm("m1", 5, rec.tick, rec.expire)
	})

	clock.Advance(time.Second)

	select {
	case token := <-rearmed:
		assert.NotZero(t, token)
	case <-time.After(waitFor):
		t.Fatal("expire callback did not run")
	}

	assert.True(t, timers.Active("m1"))
	require.NoError(t, timers.Shutdown())
	assert.False(t, timers.Active("m1"))
}
