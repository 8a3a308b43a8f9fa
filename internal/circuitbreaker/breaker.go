// Package circuitbreaker stops calling the platform while it is failing.
// After enough consecutive failures the breaker opens and calls fail fast;
// once the cooldown has passed a few probe calls decide whether to close it.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"mealgate/webclient/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ErrOpen is returned by Allow while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

type Config struct {
	// FailureThreshold consecutive failures open the breaker. Zero disables it.
	FailureThreshold int
	// SuccessThreshold consecutive probe successes close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 30 * time.Second}
}

type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int // in-flight half-open calls
	openedAt  time.Time
}

func New(name string, config Config) *Breaker {
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	b := &Breaker{name: name, config: config, now: time.Now}
	metrics.PlatformCircuitState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Allow reports whether a call may proceed. probe is true for half-open
// calls; the caller must pass it back to Done.
func (b *Breaker) Allow() (probe bool, err error) {
	if b.config.FailureThreshold <= 0 {
		return false, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		wait := b.config.Cooldown - b.now().Sub(b.openedAt)
		if wait > 0 {
			return false, fmt.Errorf("%w for %s (retry in %v)", ErrOpen, b.name, wait.Round(time.Second))
		}
		b.transitionTo(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.config.SuccessThreshold {
			return false, fmt.Errorf("%w for %s: probe limit reached", ErrOpen, b.name)
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// Done records the outcome of a call Allow let through.
func (b *Breaker) Done(probe bool, failed bool) {
	if b.config.FailureThreshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe && b.probes > 0 {
		b.probes--
	}

	if failed {
		switch b.state {
		case StateClosed:
			b.failures++
			if b.failures >= b.config.FailureThreshold {
				log.Error().Str("backend", b.name).Int("failures", b.failures).Msg("circuit breaker opened")
				b.open()
			}
		case StateHalfOpen:
			log.Warn().Str("backend", b.name).Msg("circuit breaker reopened after probe failure")
			b.open()
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
			log.Info().Str("backend", b.name).Msg("circuit breaker recovered")
		}
	}
}

// caller holds mu
func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transitionTo(StateOpen)
}

// caller holds mu
func (b *Breaker) transitionTo(next State) {
	prev := b.state
	b.state = next
	b.failures = 0
	b.successes = 0
	if next != StateHalfOpen {
		b.probes = 0
	}
	metrics.PlatformCircuitState.WithLabelValues(b.name).Set(float64(next))
	metrics.PlatformCircuitTransitions.WithLabelValues(b.name, prev.String(), next.String()).Inc()
	log.Info().
		Str("backend", b.name).
		Str("old_state", prev.String()).
		Str("new_state", next.String()).
		Msg("circuit breaker state transition")
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
	b.failures = 0
}
