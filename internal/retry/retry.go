// Package retry содержит повторный вызов операций с backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff стратегия роста задержки
type Backoff int

const (
	// Linear задержка после k-й неудачи равна InitialDelay*k
	Linear Backoff = iota
	// Exponential задержка равна InitialDelay*Multiplier^(k-1)
	Exponential
)

// Config представляет конфигурацию retry механизма
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Backoff      Backoff
	Multiplier   float64
	// Jitter добавляет к задержке случайное значение из [0, Jitter)
	Jitter time.Duration
}

// Delay возвращает задержку после attempt-й неудачной попытки (с 1)
func (c Config) Delay(attempt int) time.Duration {
	var d time.Duration
	switch c.Backoff {
	case Exponential:
		mult := c.Multiplier
		if mult <= 0 {
			mult = 2
		}
		d = time.Duration(float64(c.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	default:
		d = c.InitialDelay * time.Duration(attempt)
	}
	if c.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(c.Jitter)))
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неповторяемую
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка как неповторяемая
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do выполняет fn до MaxAttempts раз. attempt передается с 1.
func Do(ctx context.Context, logger *zap.Logger, cfg Config, fn func(ctx context.Context, attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				logger.Debug("Function succeeded after retry",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", cfg.MaxAttempts))
			}
			return nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}

		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		logger.Debug("Function failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
