package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock, threshold, trials int) *Breaker {
	return New(Config{
		FailureThreshold: threshold,
		OpenDuration:     10 * time.Second,
		HalfOpenTrials:   trials,
		Now:              clock.Now,
	})
}

func call(t *testing.T, b *Breaker, outcome Outcome) {
	t.Helper()
	p, err := b.Allow()
	require.NoError(t, err)
	p.Done(outcome)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 3, 1)

	call(t, b, Failure)
	call(t, b, Failure)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Snapshot().ConsecutiveFailures)

	call(t, b, Failure)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, clock.Now(), b.Snapshot().OpenedAt)

	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 3, 1)

	call(t, b, Failure)
	call(t, b, Failure)
	call(t, b, Success)
	call(t, b, Failure)
	call(t, b, Failure)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_IgnoredOutcomeLeavesCounters(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 2, 1)

	call(t, b, Failure)
	call(t, b, Ignored)
	assert.Equal(t, 1, b.Snapshot().ConsecutiveFailures)
	call(t, b, Failure)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenTrialCloses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, 1)

	call(t, b, Failure)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(9 * time.Second)
	_, err := b.Allow()
	require.ErrorIs(t, err, ErrOpen)

	clock.Advance(time.Second)
	p, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, p.Trial())
	assert.Equal(t, StateHalfOpen, b.State())

	p.Done(Success)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_HalfOpenFailureReopensAndResetsTimer(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, 1)

	call(t, b, Failure)
	clock.Advance(10 * time.Second)

	p, err := b.Allow()
	require.NoError(t, err)
	p.Done(Failure)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, clock.Now(), b.Snapshot().OpenedAt)

	clock.Advance(5 * time.Second)
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen)

	clock.Advance(5 * time.Second)
	p, err = b.Allow()
	require.NoError(t, err)
	assert.True(t, p.Trial())
}

func TestBreaker_MultipleTrialsRequired(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, 2)

	call(t, b, Failure)
	clock.Advance(10 * time.Second)

	call(t, b, Success)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.Equal(t, 1, b.Snapshot().TrialSuccesses)

	call(t, b, Success)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IgnoredTrialReleasesSlot(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, 1)

	call(t, b, Failure)
	clock.Advance(10 * time.Second)

	p, err := b.Allow()
	require.NoError(t, err)
	p.Done(Ignored)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Snapshot().TrialInFlight)

	p, err = b.Allow()
	require.NoError(t, err)
	assert.True(t, p.Trial())
}

func TestBreaker_OnlyOneConcurrentTrial(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, 1)

	call(t, b, Failure)
	clock.Advance(10 * time.Second)

	const callers = 50
	var (
		wg       sync.WaitGroup
		granted  atomic.Int32
		rejected atomic.Int32
		start    = make(chan struct{})
		permits  = make(chan *Permit, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			p, err := b.Allow()
			if err != nil {
				rejected.Add(1)
				return
			}
			granted.Add(1)
			permits <- p
		}()
	}
	close(start)
	wg.Wait()
	close(permits)

	assert.Equal(t, int32(1), granted.Load())
	assert.Equal(t, int32(callers-1), rejected.Load())

	for p := range permits {
		p.Done(Success)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_StalePermitIgnored(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, 1)

	slow, err := b.Allow()
	require.NoError(t, err)

	call(t, b, Failure)
	require.Equal(t, StateOpen, b.State())

	// A success from before the transition must not close the breaker.
	slow.Done(Success)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_DoneIsIdempotent(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 2, 1)

	p, err := b.Allow()
	require.NoError(t, err)
	p.Done(Failure)
	p.Done(Failure)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var (
		mu          sync.Mutex
		transitions []string
	)
	b := New(Config{
		FailureThreshold: 1,
		OpenDuration:     time.Second,
		Now:              clock.Now,
		OnStateChange: func(from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	call(t, b, Failure)
	clock.Advance(time.Second)
	call(t, b, Success)

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestNew_AppliesDefaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, 5, b.cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, b.cfg.OpenDuration)
	assert.Equal(t, 1, b.cfg.HalfOpenTrials)
	assert.NotNil(t, b.cfg.Now)
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}
