package publish

import (
	"sync"
	"time"

	"github.com/rendis/statecascade/pkg/schema"
)

// CircuitState is the state of a per-target circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures target circuit breakers.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long an open circuit rejects requests before probing.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
}

// BreakerStats is a snapshot of one target's breaker.
type BreakerStats struct {
	Target              string `json:"target"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

type breaker struct {
	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// Breakers tracks one circuit per target store so a failing target does not
// keep consuming pool slots.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakers creates a breaker set.
func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBreakerConfig().Threshold
	}
	return &Breakers{breakers: make(map[string]*breaker), config: cfg, now: time.Now}
}

// Allow returns nil when a publish to target may proceed, or CIRCUIT_OPEN.
// After the cooldown a single probe is let through.
func (b *Breakers) Allow(target string) error {
	br := b.get(target)
	br.mu.Lock()
	defer br.mu.Unlock()

	switch br.state {
	case CircuitOpen:
		if b.now().Sub(br.openedAt) < b.config.Cooldown {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"publishing to %q suspended after %d consecutive failures", target, br.failures).
				WithDetails(map[string]any{
					"target":             target,
					"cooldown_remaining": (b.config.Cooldown - b.now().Sub(br.openedAt)).String(),
				})
		}
		br.state = CircuitHalfOpen
		br.probing = true
		return nil
	case CircuitHalfOpen:
		if br.probing {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen, "publishing to %q is probing", target)
		}
		br.probing = true
	}
	return nil
}

// Success closes the target's circuit.
func (b *Breakers) Success(target string) {
	br := b.get(target)
	br.mu.Lock()
	defer br.mu.Unlock()
	br.state = CircuitClosed
	br.failures = 0
	br.probing = false
}

// Failure records a failed publish and returns the resulting state.
func (b *Breakers) Failure(target string) CircuitState {
	br := b.get(target)
	br.mu.Lock()
	defer br.mu.Unlock()

	br.failures++
	br.probing = false
	if br.state == CircuitHalfOpen || br.failures >= b.config.Threshold {
		br.state = CircuitOpen
		br.openedAt = b.now()
	}
	return br.state
}

// State returns the target's current state.
func (b *Breakers) State(target string) CircuitState {
	br := b.get(target)
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.state == CircuitOpen && b.now().Sub(br.openedAt) >= b.config.Cooldown {
		return CircuitHalfOpen
	}
	return br.state
}

// Stats returns a snapshot for every target seen so far.
func (b *Breakers) Stats() []BreakerStats {
	b.mu.Lock()
	targets := make([]string, 0, len(b.breakers))
	for t := range b.breakers {
		targets = append(targets, t)
	}
	b.mu.Unlock()

	stats := make([]BreakerStats, 0, len(targets))
	for _, t := range targets {
		br := b.get(t)
		br.mu.Lock()
		failures := br.failures
		br.mu.Unlock()
		stats = append(stats, BreakerStats{Target: t, State: b.State(t).String(), ConsecutiveFailures: failures})
	}
	return stats
}

func (b *Breakers) get(target string) *breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	br, ok := b.breakers[target]
	if !ok {
		br = &breaker{}
		b.breakers[target] = br
	}
	return br
}
