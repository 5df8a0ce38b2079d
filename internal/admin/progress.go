package admin

import (
	"fmt"
	"io"
	"sync"
	"time"

	"codequiz/internal/model"
)

// Коды завершения CLI
const (
	ExitOK        = 0
	ExitPartial   = 1
	ExitConfig    = 2
	ExitTransport = 3
)

// ExitCode сводит ошибки действия к коду завершения. Нехватка конфигурации
// важнее недоступности Telegram или хранилища, та важнее частичного успеха.
func ExitCode(failed bool, errs ...error) int {
	config, transport := false, false
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed = true
		switch {
		case model.IsKind(err, model.KindConfigurationMissing):
			config = true
		case model.IsTransport(err), model.IsKind(err, model.KindTelegramRateLimited):
			transport = true
		}
	}
	switch {
	case config:
		return ExitConfig
	case transport:
		return ExitTransport
	case failed:
		return ExitPartial
	default:
		return ExitOK
	}
}

// Printer выводит журнал прогресса построчно. Безопасен для вызова из
// фоновых рассылок.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	counts  map[model.Severity]int
	stamped bool
}

// NewPrinter создает принтер. stamped добавляет время к каждой строке.
func NewPrinter(w io.Writer, stamped bool) *Printer {
	return &Printer{w: w, counts: make(map[model.Severity]int), stamped: stamped}
}

// Report реализует model.ProgressSink
func (p *Printer) Report(e model.ProgressEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[e.Severity]++
	if p.stamped {
		_, _ = fmt.Fprintf(p.w, "%s %s\n", e.Time.Format(time.TimeOnly), e.String())
		return
	}
	_, _ = fmt.Fprintln(p.w, e.String())
}

// Count возвращает число строк с уровнем
func (p *Printer) Count(s model.Severity) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[s]
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
