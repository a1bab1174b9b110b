package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"ivg/internal/faults"
	"ivg/internal/logging"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultMaxRetries     = 2
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 8 * time.Second
)

// Gateway applies timeout, retry and circuit breaking to a Provider.
type Gateway struct {
	provider Provider
	logger   *slog.Logger
	breaker  *Breaker

	timeout        time.Duration
	maxRetries     int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	sleeper        func(time.Duration)
	jitter         func() float64
	now            func() time.Time
	breakerConfig  BreakerSettings
	onStateChange  func(provider string, from, to State)
}

// Option customizes the gateway.
type Option func(*Gateway)

// WithTimeout overrides the default per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// WithMaxRetries overrides how many times a retryable failure is retried.
func WithMaxRetries(retries int) Option {
	return func(g *Gateway) {
		if retries >= 0 {
			g.maxRetries = retries
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(g *Gateway) {
		g.retryBaseDelay = baseDelay
		g.retryMaxDelay = maxDelay
	}
}

// WithBreaker configures the circuit breaker.
func WithBreaker(settings BreakerSettings) Option {
	return func(g *Gateway) {
		g.breakerConfig = settings
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(g *Gateway) {
		g.sleeper = sleeper
	}
}

// WithJitter overrides the random source used for backoff jitter. The
// function must return values in [0, 1).
func WithJitter(jitter func() float64) Option {
	return func(g *Gateway) {
		if jitter != nil {
			g.jitter = jitter
		}
	}
}

// WithClock overrides the breaker clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithStateChangeHook is invoked after every breaker transition.
func WithStateChangeHook(fn func(provider string, from, to State)) Option {
	return func(g *Gateway) {
		g.onStateChange = fn
	}
}

// New wraps provider with the configured resilience policy.
func New(provider Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:       provider,
		timeout:        defaultTimeout,
		maxRetries:     defaultMaxRetries,
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
		jitter:         rand.Float64,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.NewComponentLogger(g.logger, "gateway").With(logging.String(logging.FieldProvider, g.ProviderName()))
	g.breaker = NewBreaker(g.breakerConfig, g.now, g.handleTransition)
	return g
}

// ProviderName returns the wrapped provider's name.
func (g *Gateway) ProviderName() string {
	if g == nil || g.provider == nil {
		return "none"
	}
	return g.provider.Name()
}

// State reports the breaker state.
func (g *Gateway) State() State {
	if g == nil {
		return StateClosed
	}
	return g.breaker.State()
}

// Invoke edits image with the provider. A non-positive timeout uses the
// configured default. Retryable failures are retried with backoff until the
// budget is spent; the result is then a provider_transient failure.
func (g *Gateway) Invoke(ctx context.Context, image []byte, prompt string, style *StyleContext, timeout time.Duration) ([]byte, error) {
	return g.Edit(ctx, Request{Image: image, Prompt: prompt, Style: style}, timeout)
}

// Edit is Invoke with a prepared request.
func (g *Gateway) Edit(ctx context.Context, req Request, timeout time.Duration) ([]byte, error) {
	if g == nil || g.provider == nil {
		return nil, faults.ProviderPermanent("no image provider configured", nil)
	}
	if timeout <= 0 {
		timeout = g.timeout
	}
	attempts := g.maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		t, ok := g.breaker.allow()
		if !ok {
			if lastErr == nil {
				g.logger.Warn("provider call rejected",
					logging.String(logging.FieldEventType, "breaker_rejected"),
					logging.String(logging.FieldErrorHint, "provider is failing; wait for the breaker cooldown"),
				)
				return nil, faults.BreakerOpen(g.ProviderName())
			}
			return nil, faults.ProviderTransient(
				fmt.Sprintf("provider %s: retries stopped after %d attempts, circuit breaker opened", g.ProviderName(), attempt-1),
				lastErr,
			)
		}

		started := g.now()
		out, err := g.attempt(ctx, req, timeout)
		if err == nil {
			g.breaker.record(t, outcomeSuccess)
			g.logger.Debug("provider call succeeded",
				logging.Int(logging.FieldAttempt, attempt),
				logging.Duration("elapsed", g.now().Sub(started)),
				logging.Int("bytes", len(out)),
			)
			return out, nil
		}

		if ctx.Err() != nil {
			g.breaker.record(t, outcomeAbandoned)
			return nil, faults.New(faults.KindInterrupted, "provider call cancelled", ctx.Err())
		}

		kind, retryAfter := classify(err)
		if !kind.Retryable() {
			// The provider answered, so it counts as healthy for the breaker.
			g.breaker.record(t, outcomeSuccess)
			if kind == faults.KindProviderPermanent {
				return nil, faults.ProviderPermanent(fmt.Sprintf("provider %s rejected the request", g.ProviderName()), err)
			}
			return nil, err
		}

		g.breaker.record(t, outcomeFailure)
		lastErr = faults.New(kind, fmt.Sprintf("attempt %d/%d", attempt, attempts), err)
		if attempt == attempts {
			break
		}

		delay := g.backoffDelay(attempt)
		if retryAfter > 0 {
			delay = g.capDelay(retryAfter)
		}
		g.logger.Warn("provider call failed; retrying",
			logging.String(logging.FieldEventType, "provider_retry"),
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := g.sleep(ctx, delay); err != nil {
			return nil, faults.New(faults.KindInterrupted, "retry wait cancelled", err)
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return nil, faults.ProviderTransient(
		fmt.Sprintf("provider %s failed after %d attempts", g.ProviderName(), attempts),
		lastErr,
	)
}

type attemptResult struct {
	out []byte
	err error
}

// attempt runs one provider call bounded by timeout, even if the provider
// ignores its context.
func (g *Gateway) attempt(ctx context.Context, req Request, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		out, err := g.provider.Edit(attemptCtx, req)
		done <- attemptResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, faults.ProviderTimeout(fmt.Sprintf("provider call exceeded %s", timeout), res.err)
			}
			return nil, res.err
		}
		if len(res.out) == 0 {
			return nil, ErrEmptyResult
		}
		return res.out, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.ProviderTimeout(fmt.Sprintf("provider call exceeded %s", timeout), attemptCtx.Err())
	}
}

// backoffDelay returns the jittered wait after the given 1-based attempt:
// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
func (g *Gateway) backoffDelay(attempt int) time.Duration {
	base := g.retryBaseDelay
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if g.retryMaxDelay > 0 && delay > g.retryMaxDelay/2 {
			delay = g.retryMaxDelay
			break
		}
		delay *= 2
	}
	delay = g.capDelay(delay)
	factor := 0.75 + 0.5*g.jitter()
	return time.Duration(float64(delay) * factor)
}

func (g *Gateway) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if g.retryMaxDelay > 0 && delay > g.retryMaxDelay {
		return g.retryMaxDelay
	}
	return delay
}

func (g *Gateway) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if g.sleeper != nil {
		g.sleeper(delay)
		return ctx.Err()
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

func (g *Gateway) handleTransition(from, to State) {
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	g.logger.Log(context.Background(), level, "circuit breaker transition",
		logging.String(logging.FieldEventType, "breaker_"+string(to)),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
	)
	if g.onStateChange != nil {
		g.onStateChange(g.ProviderName(), from, to)
	}
}
