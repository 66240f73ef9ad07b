// Package breaker implements a three-state circuit breaker (CLOSED, OPEN,
// HALF_OPEN) driven solely by the outcomes its callers report.
//
// A caller asks for a Permit before invoking the protected dependency and
// reports the outcome through Permit.Done. While OPEN no permits are issued.
// Once the open duration has elapsed the next caller moves the breaker to
// HALF_OPEN and receives the single trial permit; concurrent callers are
// rejected as if the breaker were still OPEN until that trial resolves.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when no call may be made.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the conventional upper-case name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Outcome classifies the result of a protected call.
type Outcome int

const (
	// Success means the dependency answered.
	Success Outcome = iota
	// Failure means the dependency failed, timed out or was unreachable.
	Failure
	// Ignored means the call says nothing about the dependency's health
	// (e.g. the caller gave up). Counters are left alone.
	Ignored
)

// Config holds breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures in CLOSED that
	// opens the breaker.
	FailureThreshold int

	// OpenDuration is how long the breaker stays OPEN before allowing a trial.
	OpenDuration time.Duration

	// HalfOpenTrials is the number of consecutive successful trial calls needed
	// to close the breaker again. Trials run one at a time.
	HalfOpenTrials int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
		HalfOpenTrials:   1,
		Now:              time.Now,
	}
}

// Snapshot is a consistent view of the breaker's counters.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	TrialSuccesses      int
	TrialInFlight       bool
	OpenedAt            time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu             sync.Mutex
	state          State
	generation     uint64 // bumped on every transition; stale permits are ignored
	failures       int
	trialSuccesses int
	trialInFlight  bool
	openedAt       time.Time
}

// New creates a breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	defaults := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = defaults.OpenDuration
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = defaults.HalfOpenTrials
	}
	if cfg.Now == nil {
		cfg.Now = defaults.Now
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Permit authorises exactly one protected call.
type Permit struct {
	b          *Breaker
	generation uint64
	trial      bool
	done       bool
}

// Trial reports whether the permit is the HALF_OPEN trial.
func (p *Permit) Trial() bool {
	return p.trial
}

// Allow returns a permit for one call, or ErrOpen.
func (b *Breaker) Allow() (*Permit, error) {
	b.mu.Lock()
	var changes []change

	if b.state == StateOpen && !b.cfg.Now().Before(b.openedAt.Add(b.cfg.OpenDuration)) {
		changes = append(changes, b.transitionLocked(StateHalfOpen))
	}

	var (
		permit *Permit
		err    error
	)
	switch b.state {
	case StateClosed:
		permit = &Permit{b: b, generation: b.generation}
	case StateHalfOpen:
		if b.trialInFlight {
			err = ErrOpen
			break
		}
		b.trialInFlight = true
		permit = &Permit{b: b, generation: b.generation, trial: true}
	default:
		err = ErrOpen
	}
	b.mu.Unlock()

	b.notify(changes)
	return permit, err
}

// Done records the outcome of the call the permit was issued for.
// Calling Done more than once has no further effect.
func (p *Permit) Done(outcome Outcome) {
	if p == nil || p.done {
		return
	}
	p.done = true
	p.b.record(p, outcome)
}

func (b *Breaker) record(p *Permit, outcome Outcome) {
	b.mu.Lock()
	var changes []change

	if p.generation != b.generation {
		// The breaker moved on while the call was in flight.
		b.mu.Unlock()
		return
	}

	switch b.state {
	case StateClosed:
		switch outcome {
		case Success:
			b.failures = 0
		case Failure:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				changes = append(changes, b.transitionLocked(StateOpen))
			}
		}
	case StateHalfOpen:
		if p.trial {
			b.trialInFlight = false
			switch outcome {
			case Success:
				b.trialSuccesses++
				if b.trialSuccesses >= b.cfg.HalfOpenTrials {
					changes = append(changes, b.transitionLocked(StateClosed))
				}
			case Failure:
				changes = append(changes, b.transitionLocked(StateOpen))
			}
		}
	}
	b.mu.Unlock()

	b.notify(changes)
}

// State returns the current state. An OPEN breaker whose open duration has
// elapsed is still reported as OPEN until the next Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		TrialSuccesses:      b.trialSuccesses,
		TrialInFlight:       b.trialInFlight,
		OpenedAt:            b.openedAt,
	}
}

type change struct {
	from, to State
}

// transitionLocked moves to the given state and resets the counters that
// belong to it. b.mu must be held.
func (b *Breaker) transitionLocked(to State) change {
	from := b.state
	b.state = to
	b.generation++
	b.trialInFlight = false
	b.trialSuccesses = 0
	switch to {
	case StateClosed:
		b.failures = 0
		b.openedAt = time.Time{}
	case StateOpen:
		b.openedAt = b.cfg.Now()
	case StateHalfOpen:
		b.failures = 0
	}
	return change{from: from, to: to}
}

func (b *Breaker) notify(changes []change) {
	if b.cfg.OnStateChange == nil {
		return
	}
	for _, c := range changes {
		b.cfg.OnStateChange(c.from, c.to)
	}
}
