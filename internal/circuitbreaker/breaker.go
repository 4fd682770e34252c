package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the endpoint while the breaker
// is open, or while a half-open trial call is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// Transition describes one state change. Failures is the consecutive
// failure streak at the moment of the change.
type Transition struct {
	From     State
	To       State
	Failures int
	At       time.Time
}

// Config configures a Breaker. Zero values pick the defaults noted below.
type Config struct {
	// FailureThreshold consecutive failures open the breaker (default 5).
	FailureThreshold int
	// SuccessThreshold half-open successes close it again (default 2).
	SuccessThreshold int
	// Cooldown is how long an open breaker rejects calls (default 30s).
	Cooldown time.Duration
	// OnTransition runs under the breaker lock; keep it cheap.
	OnTransition func(Transition)
	Now          func() time.Time
}

// Breaker guards calls to the chain endpoint. Block polling and weight
// submission share one breaker, so both stop hammering a dead node together.
// While half-open, exactly one trial call is let through at a time.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trialBusy bool
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn if the breaker admits the call and records the outcome.
// Errors for which ignore returns true (caller cancellation) pass through
// without counting either way.
func (b *Breaker) Execute(fn func() error, ignore func(error) bool) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	callErr := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trialBusy = false
	}
	switch {
	case callErr == nil:
		b.onSuccessLocked()
	case ignore != nil && ignore(callErr):
	default:
		b.onFailureLocked()
	}
	return callErr
}

// admit reports whether the call is the half-open trial.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooledLocked()
	switch b.state {
	case StateOpen:
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if b.trialBusy {
			return false, ErrCircuitOpen
		}
		b.trialBusy = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) onSuccessLocked() {
	b.failures = 0
	if b.state != StateHalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.cfg.SuccessThreshold {
		b.moveLocked(StateClosed)
	}
}

func (b *Breaker) onFailureLocked() {
	b.failures++
	b.successes = 0
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.cfg.Now()
		b.moveLocked(StateOpen)
	}
}

// cooledLocked moves an open breaker to half-open once the cooldown passed.
func (b *Breaker) cooledLocked() {
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.moveLocked(StateHalfOpen)
	}
}

func (b *Breaker) moveLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successes = 0
	b.trialBusy = false
	failures := b.failures
	if to == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(Transition{From: from, To: to, Failures: failures, At: b.cfg.Now()})
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooledLocked()
	return b.state
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
