// Package middleware содержит обертки обработчика ответов на опросы.
package middleware

import (
	"codequiz/internal/pollanswer"
)

// Middleware оборачивает обработчик
type Middleware func(next pollanswer.Handler) pollanswer.Handler

// Chain применяет middleware так, что первый в списке выполняется первым
func Chain(h pollanswer.Handler, mws ...Middleware) pollanswer.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
