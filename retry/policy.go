package retry

import (
	"time"

	"github.com/goliatone/go-marketauth/core"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 10 * time.Second
)

// Policy drives the invoker's backoff schedule. Delay is pure: same attempt
// in, same base delay out. Jitter is applied by the invoker, not here, so the
// schedule stays testable.
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  defaultMaxAttempts,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
	}
}

// FromConfig builds a policy from per-marketplace retry tuning, falling back
// to defaults for any unset field.
func FromConfig(cfg core.RetryConfig) Policy {
	policy := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelayMS > 0 {
		policy.InitialDelay = cfg.InitialDelay()
	}
	if cfg.MaxDelayMS > 0 {
		policy.MaxDelay = cfg.MaxDelay()
	}
	if cfg.AttemptTimeoutMS > 0 {
		policy.AttemptTimeout = cfg.AttemptTimeout()
	}
	return policy
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

// Delay returns the base delay before the given retry. Attempt 1 is the first
// retry after the initial failure. Doubling is capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.InitialDelay
	if initial <= 0 {
		initial = defaultInitialDelay
	}
	max := p.MaxDelay
	if max <= 0 {
		max = defaultMaxDelay
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
