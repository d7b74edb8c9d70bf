package scanner

import (
	"context"
	"time"

	"kcl-antivirus/internal/config"
)

// RetryPolicy bounds analysis polling. Attempt n (0-based) waits BaseDelay*(n+1) first.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
}

func PolicyFromConfig(rc config.RetryConfig) RetryPolicy {
	return RetryPolicy{Attempts: rc.Attempts, BaseDelay: rc.BaseDelay, Sleep: SleepContext}
}

// NoDelay returns p with all waits removed
func (p RetryPolicy) NoDelay() RetryPolicy {
	p.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return p
}

func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt+1)
}

func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	return sleep(ctx, p.Delay(attempt))
}

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
