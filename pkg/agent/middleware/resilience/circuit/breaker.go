// Package circuit stops calling a provider that keeps failing and lets a
// single trial request through once the cool-down has passed.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"phasedoc/pkg/logx"
)

// State is the breaker position.
type State int

// Breaker positions.
const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config is the `circuit` section of the project config.
type Config struct {
	// FailureThreshold is the number of consecutive provider failures that
	// open the breaker. Zero turns the breaker off.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// SuccessThreshold is the number of successful trials needed to close it again.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	// Timeout is the cool-down before a trial request is admitted.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig is used when the project config has no circuit section.
//
//nolint:gochecknoglobals // default config
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 3,
	Timeout:          30 * time.Second,
}

// Error is returned instead of calling the provider while the breaker rejects.
type Error struct {
	State      State
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker is %s (retry after %s)", e.State, e.RetryAfter.Round(time.Millisecond))
}

// Outcome is what a finished call tells the breaker.
type Outcome int

// Call outcomes.
const (
	// Success counts toward closing.
	Success Outcome = iota
	// Failure counts toward opening.
	Failure
	// Ignored says nothing about provider health but still ends a trial.
	Ignored
)

// Breaker tracks consecutive provider failures for one factory.
//
//nolint:govet // field grouping
type Breaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	trials   int
	openedAt time.Time
	inTrial  bool
}

// New returns a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Admit returns nil when a call may proceed and *Error otherwise. Every
// admitted call must be followed by exactly one Record.
func (b *Breaker) Admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		wait := b.cfg.Timeout - b.now().Sub(b.openedAt)
		if wait > 0 {
			return &Error{State: Open, RetryAfter: wait}
		}
		b.state = HalfOpen
		b.trials = 0
		logx.Infof("circuit breaker half-open: admitting trial request")
	}

	// Half-open runs one trial at a time.
	if b.inTrial {
		return &Error{State: HalfOpen}
	}
	b.inTrial = true
	return nil
}

// Record reports the outcome of an admitted call.
func (b *Breaker) Record(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.inTrial = false
	}
	switch o {
	case Success:
		b.failures = 0
		if b.state == HalfOpen {
			b.trials++
			if b.trials >= b.cfg.SuccessThreshold {
				b.state = Closed
				logx.Infof("circuit breaker closed after %d successful trials", b.trials)
			}
		}
	case Failure:
		b.failures++
		switch {
		case b.state == HalfOpen:
			b.trip()
			logx.Warnf("circuit breaker re-opened: trial request failed")
		case b.state == Closed && b.failures >= b.cfg.FailureThreshold:
			b.trip()
			logx.Warnf("circuit breaker opened after %d consecutive failures", b.failures)
		}
	case Ignored:
	}
}

// State returns the current position without advancing the cool-down.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.trials = 0
}
