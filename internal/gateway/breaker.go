package gateway

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeAbandoned releases an admission without judging the provider,
	// e.g. when the caller cancelled.
	outcomeAbandoned
)

// ticket identifies an admitted call. Outcomes are only applied to the
// breaker generation that admitted them, so a slow call admitted while closed
// cannot close a breaker that has since opened.
type ticket struct {
	generation uint64
	trial      bool
	bypass     bool
}

// BreakerSettings configures a Breaker. A zero Threshold disables it.
type BreakerSettings struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration
}

// Breaker is a consecutive-failure circuit breaker with a single-trial
// half-open state. All mutation happens under mu.
type Breaker struct {
	mu       sync.Mutex
	settings BreakerSettings
	now      func() time.Time
	onChange func(from, to State)

	state         State
	generation    uint64
	failures      int
	windowStart   time.Time
	openedAt      time.Time
	trialInFlight bool
}

// NewBreaker constructs a closed breaker.
func NewBreaker(settings BreakerSettings, now func() time.Time, onChange func(from, to State)) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{settings: settings, now: now, onChange: onChange, state: StateClosed}
}

func (b *Breaker) enabled() bool {
	return b != nil && b.settings.Threshold > 0
}

// State reports the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	if !b.enabled() {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.settings.Cooldown)) {
		return StateHalfOpen
	}
	return b.state
}

// Failures reports the consecutive failure count in the current window.
func (b *Breaker) Failures() int {
	if !b.enabled() {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// allow admits or rejects a call.
func (b *Breaker) allow() (ticket, bool) {
	if !b.enabled() {
		return ticket{bypass: true}, true
	}
	b.mu.Lock()
	var changed []transition
	defer func() {
		b.mu.Unlock()
		b.notify(changed)
	}()

	switch b.state {
	case StateClosed:
		return ticket{generation: b.generation}, true
	case StateOpen:
		if b.now().Before(b.openedAt.Add(b.settings.Cooldown)) {
			return ticket{}, false
		}
		changed = append(changed, b.transitionLocked(StateHalfOpen))
		b.trialInFlight = true
		return ticket{generation: b.generation, trial: true}, true
	default:
		if b.trialInFlight {
			return ticket{}, false
		}
		b.trialInFlight = true
		return ticket{generation: b.generation, trial: true}, true
	}
}

// record applies the outcome of an admitted call.
func (b *Breaker) record(t ticket, result outcome) {
	if t.bypass || !b.enabled() {
		return
	}
	b.mu.Lock()
	var changed []transition
	defer func() {
		b.mu.Unlock()
		b.notify(changed)
	}()

	if t.generation != b.generation {
		return
	}

	if t.trial {
		b.trialInFlight = false
		switch result {
		case outcomeSuccess:
			b.failures = 0
			changed = append(changed, b.transitionLocked(StateClosed))
		case outcomeFailure:
			b.openedAt = b.now()
			changed = append(changed, b.transitionLocked(StateOpen))
		}
		return
	}

	switch result {
	case outcomeSuccess:
		b.failures = 0
	case outcomeFailure:
		now := b.now()
		if b.failures == 0 || (b.settings.Window > 0 && now.Sub(b.windowStart) > b.settings.Window) {
			b.failures = 0
			b.windowStart = now
		}
		b.failures++
		if b.failures >= b.settings.Threshold {
			b.openedAt = now
			changed = append(changed, b.transitionLocked(StateOpen))
		}
	}
}

type transition struct {
	from, to State
}

func (b *Breaker) transitionLocked(to State) transition {
	from := b.state
	b.state = to
	b.generation++
	return transition{from: from, to: to}
}

func (b *Breaker) notify(changes []transition) {
	if b.onChange == nil {
		return
	}
	for _, change := range changes {
		if change.from != change.to {
			b.onChange(change.from, change.to)
		}
	}
}
