package repositories

import (
	"context"
	"errors"
	"slices"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	"depthcap/pkg/circuitbreaker"
	"depthcap/pkg/retry"

	"go.uber.org/zap"
)

// GuardedSpoolJournal retries journal calls briefly and stops calling a
// journal that keeps failing, so a Redis outage costs each spool or upload
// one fast error instead of a dial timeout per frame.
type GuardedSpoolJournal struct {
	journal ports.SpoolJournal
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
	logger  *zap.SugaredLogger
}

func DefaultJournalRetry() retry.Config {
	return retry.Config{
		Enabled:            true,
		MaxAttempts:        2,
		InitialDelay:       20 * time.Millisecond,
		MaxDelay:           200 * time.Millisecond,
		Multiplier:         2,
		Jitter:             true,
		NonRetryableErrors: []error{context.Canceled},
	}
}

func DefaultJournalBreaker() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:    5,
		SuccessThreshold:    1,
		Timeout:             15 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

func NewGuardedSpoolJournal(
	journal ports.SpoolJournal,
	retryCfg retry.Config,
	cbCfg circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *GuardedSpoolJournal {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	retryCfg.NonRetryableErrors = append(slices.Clone(retryCfg.NonRetryableErrors), circuitbreaker.ErrOpen)

	g := &GuardedSpoolJournal{
		journal: journal,
		breaker: circuitbreaker.New(cbCfg),
		retry:   retryCfg,
		logger:  logger,
	}
	g.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		if to == circuitbreaker.StateOpen {
			logger.Warnw("spool journal unavailable, short-circuiting calls",
				"from", from.String(),
				"to", to.String(),
				"cool_down", cbCfg.Timeout,
			)
			return
		}
		logger.Infow("spool journal breaker state changed", "from", from.String(), "to", to.String())
	})
	return g
}

func (g *GuardedSpoolJournal) Add(ctx context.Context, serial string, entry domain.SpoolEntry) error {
	return retry.Retry(ctx, g.retry, func() error {
		return g.breaker.Execute(func() error {
			return g.journal.Add(ctx, serial, entry)
		})
	})
}

func (g *GuardedSpoolJournal) Remove(ctx context.Context, serial string, entry domain.SpoolEntry) error {
	return retry.Retry(ctx, g.retry, func() error {
		return g.breaker.Execute(func() error {
			return g.journal.Remove(ctx, serial, entry)
		})
	})
}

func (g *GuardedSpoolJournal) Pending(ctx context.Context, serial string) ([]domain.SpoolEntry, error) {
	return retry.RetryWithResult(ctx, g.retry, func() ([]domain.SpoolEntry, error) {
		return circuitbreaker.Do(g.breaker, func() ([]domain.SpoolEntry, error) {
			return g.journal.Pending(ctx, serial)
		})
	})
}

// HealthCheck reports an open breaker as unhealthy without probing the
// backend; otherwise it asks the wrapped journal directly.
func (g *GuardedSpoolJournal) HealthCheck(ctx context.Context) error {
	if g.breaker.State() == circuitbreaker.StateOpen {
		stats := g.breaker.Stats()
		return errors.Join(circuitbreaker.ErrOpen, errors.New("open since "+stats.Changed.Format(time.RFC3339)))
	}
	return g.journal.HealthCheck(ctx)
}

// BreakerState exposes the breaker state for status reporting
func (g *GuardedSpoolJournal) BreakerState() circuitbreaker.State {
	return g.breaker.State()
}
