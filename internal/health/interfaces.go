package health

import "context"

// Pinger проверяет доступность зависимости
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc адаптер функции к Pinger
type PingFunc func(ctx context.Context) error

// Ping реализует Pinger
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}
