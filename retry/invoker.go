package retry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-marketauth/core"
)

// Outcome reports how an invocation ended, successful or not.
type Outcome struct {
	Attempts int
	Elapsed  time.Duration
}

// RetryEvent describes one scheduled retry, passed to the OnRetry hook before
// the invoker sleeps.
type RetryEvent struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

// Invoker runs an operation under a retry policy with full-jitter exponential
// backoff. Sleeps are interruptible: context cancellation during a backoff
// window returns immediately with the context error.
type Invoker struct {
	Policy  Policy
	Logger  core.Logger
	OnRetry func(event RetryEvent)

	// Rand returns a float in [0, 1) used for jitter. Nil uses math/rand.
	Rand func() float64
	// Sleep is the backoff wait. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, delay time.Duration) error
}

func NewInvoker(policy Policy, logger core.Logger) *Invoker {
	return &Invoker{Policy: policy, Logger: glog.Ensure(logger)}
}

// Execute runs op until it succeeds, exhausts the attempt budget, fails
// fatally, or the context ends. The returned Outcome always carries the
// attempt count and elapsed time, error or not.
func (i *Invoker) Execute(ctx context.Context, label string, op func(context.Context) error) (Outcome, error) {
	if i == nil {
		return Outcome{}, fmt.Errorf("retry: invoker is nil")
	}
	if op == nil {
		return Outcome{}, fmt.Errorf("retry: operation is required")
	}

	start := time.Now()
	maxAttempts := i.Policy.maxAttempts()
	var (
		attempts int
		lastErr  error
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Attempts: attempts, Elapsed: time.Since(start)}, err
		}

		err := i.runAttempt(ctx, op)
		attempts = attempt
		if err == nil {
			return Outcome{Attempts: attempts, Elapsed: time.Since(start)}, nil
		}
		lastErr = err

		verdict := Classify(err)
		if !verdict.Retryable || attempt == maxAttempts {
			break
		}

		delay := i.jitter(i.Policy.Delay(attempt))
		if verdict.MinDelay > delay {
			delay = verdict.MinDelay
		}
		i.logRetry(label, attempt, delay, err)
		if i.OnRetry != nil {
			i.OnRetry(RetryEvent{Attempt: attempt, Delay: delay, Err: err})
		}
		if waitErr := i.sleep(ctx, delay); waitErr != nil {
			return Outcome{Attempts: attempts, Elapsed: time.Since(start)}, waitErr
		}
	}

	return Outcome{Attempts: attempts, Elapsed: time.Since(start)}, core.MapError(lastErr)
}

func (i *Invoker) runAttempt(ctx context.Context, op func(context.Context) error) error {
	if i.Policy.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, i.Policy.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

// jitter applies full jitter: uniform in [delay/2, delay]. Keeping half the
// base delay preserves the backoff shape while spreading thundering herds.
func (i *Invoker) jitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	random := i.Rand
	if random == nil {
		random = rand.Float64
	}
	half := delay / 2
	return half + time.Duration(random()*float64(delay-half))
}

func (i *Invoker) sleep(ctx context.Context, delay time.Duration) error {
	if i.Sleep != nil {
		return i.Sleep(ctx, delay)
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (i *Invoker) logRetry(label string, attempt int, delay time.Duration, err error) {
	if i.Logger == nil {
		return
	}
	i.Logger.Warn("retrying after failure",
		"operation", label,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
		"error", err.Error(),
	)
}

// Executor adapts the invoker to the refresh coordinator's resilience hook.
type Executor struct {
	invoker  *Invoker
	policies map[string]Policy
}

var _ core.RefreshExecutor = (*Executor)(nil)

// NewExecutor builds a refresh executor using each marketplace's configured
// retry tuning. Marketplaces without tuning get the default policy.
func NewExecutor(cfg core.Config, logger core.Logger) *Executor {
	policies := make(map[string]Policy, len(cfg.Marketplaces))
	for id, marketplace := range cfg.Marketplaces {
		policies[id] = FromConfig(marketplace.Retry)
	}
	return &Executor{
		invoker:  NewInvoker(DefaultPolicy(), logger),
		policies: policies,
	}
}

func (e *Executor) Execute(ctx context.Context, marketplaceID string, op func(context.Context) error) error {
	if e == nil || e.invoker == nil {
		return fmt.Errorf("retry: executor is not configured")
	}
	marketplaceID = strings.TrimSpace(strings.ToLower(marketplaceID))
	invoker := *e.invoker
	if policy, ok := e.policies[marketplaceID]; ok {
		invoker.Policy = policy
	}
	_, err := invoker.Execute(ctx, marketplaceID, op)
	return err
}
