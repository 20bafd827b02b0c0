package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rendis/playbook/pkg/schema"
)

// BreakerState is the state of a skill's circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected
	BreakerHalfOpen                     // probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transport failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is let through.
	Cooldown time.Duration
	// HalfOpenMax is the number of probes allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// Breaker wraps the invoker of a mounted skill. Only transport errors
// (a non-nil error from the inner invoker) count as failures; a capability
// that reports success=false is a healthy server giving a domain answer.
// While open, calls fail fast with a failed Result and never reach inner.
type Breaker struct {
	skill string
	inner Invoker
	cfg   BreakerConfig
	now   func() time.Time

	mu               sync.Mutex
	state            BreakerState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
}

// NewBreaker guards inner, which serves skill.
func NewBreaker(skill string, inner Invoker, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	return &Breaker{skill: skill, inner: inner, cfg: cfg, now: time.Now}
}

// Invoke implements Invoker.
func (b *Breaker) Invoke(ctx context.Context, skill, action string, params map[string]any) (Result, error) {
	if err := b.allow(); err != nil {
		return Result{Error: err.Error()}, nil
	}

	res, err := b.inner.Invoke(ctx, skill, action, params)
	if err != nil {
		if ctx.Err() == nil {
			b.recordFailure()
		}
		return Result{Error: fmt.Sprintf("skill %s: %v", skill, err)}, nil
	}
	b.recordSuccess()
	return res, nil
}

// State returns the current state, moving open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		b.state = BreakerHalfOpen
		b.halfOpenAttempts = 0
	}
	return b.state
}

// Stats returns diagnostic information about the breaker.
func (b *Breaker) Stats() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]any{
		"skill":                b.skill,
		"state":                b.state.String(),
		"consecutive_failures": b.failures,
		"failure_threshold":    b.cfg.FailureThreshold,
		"cooldown":             b.cfg.Cooldown.String(),
	}
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			b.halfOpenAttempts = 1 // this call is the first probe
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeUnavailable,
			"skill %q unavailable: %d consecutive failures", b.skill, b.failures).
			WithDetails(map[string]any{
				"skill":              b.skill,
				"state":              b.state.String(),
				"cooldown_remaining": (b.cfg.Cooldown - b.now().Sub(b.lastFailure)).String(),
			})

	case BreakerHalfOpen:
		if b.halfOpenAttempts >= b.cfg.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeUnavailable,
				"skill %q unavailable: recovery probe in flight", b.skill)
		}
		b.halfOpenAttempts++
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenAttempts = 0
	b.state = BreakerClosed
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
	}
}
