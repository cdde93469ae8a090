// Package retry единая политика повторов для сетевых вызовов: ограниченная
// экспоненциальная задержка и фиксированный бюджет попыток.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy параметры повторов.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Default политика, если в конфиге ничего не задано.
var Default = Policy{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second}

// Permanent помечает ошибку как не подлежащую повтору.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do выполняет op, повторяя её после ошибок, пока не исчерпан бюджет попыток.
// Ошибка, обёрнутая Permanent, возвращается сразу без обёртки.
// onRetry вызывается перед каждой паузой, может быть nil.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, onRetry func(err error, wait time.Duration)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	var last error
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		last = op(ctx)
		return last
	}, b, onRetry)
	if err == nil {
		return nil
	}
	// при отмене контекста отдаём последнюю ошибку операции, если она была
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if last != nil && !errors.Is(last, err) {
			return errors.Join(err, last)
		}
	}
	return err
}
