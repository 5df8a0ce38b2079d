// Package scheduler публикует неопубликованные группы переводов по расписанию.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"codequiz/internal/worker"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// GroupSource выдает самые старые неопубликованные группы
type GroupSource interface {
	ListUnpublishedGroups(ctx context.Context, limit int, retryAfter time.Duration) ([]uuid.UUID, error)
}

// Submitter ставит пакет в пул воркеров
type Submitter interface {
	Submit(job worker.Job) error
}

// PublishFunc публикует группы одним пакетом
type PublishFunc func(ctx context.Context, groups []uuid.UUID) error

// Scheduler запускает публикацию по cron-выражению. Следующий запуск
// пропускается, пока предыдущий пакет еще в работе.
type Scheduler struct {
	spec       string
	batch      int
	retryAfter time.Duration
	groups     GroupSource
	pool       Submitter
	publish    PublishFunc
	cron       *cron.Cron
	logger     *zap.Logger

	mu       sync.RWMutex
	running  bool
	inflight atomic.Bool
	lastRun  time.Time
	lastErr  error
}

// New создает планировщик. Пустой spec недопустим: без расписания
// планировщик не создается.
func New(spec string, batch int, groups GroupSource, pool Submitter, publish PublishFunc, logger *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		return nil, fmt.Errorf("cron expression is empty")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid PUBLISH_CRON %q: %w", spec, err)
	}
	if batch <= 0 {
		batch = 1
	}
	return &Scheduler{
		spec:    spec,
		batch:   batch,
		groups:  groups,
		pool:    pool,
		publish: publish,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		logger:  logger,
	}, nil
}

// SetRetryAfter включает повтор задач с ошибкой старше d. Задачи, упавшие
// на хранилище или Telegram, иначе ждут ручного запуска.
func (s *Scheduler) SetRetryAfter(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryAfter = d
}

// Start регистрирует задание и запускает cron
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if _, err := s.cron.AddFunc(s.spec, func() {
		if err := s.Trigger(context.Background()); err != nil {
			s.logger.Error("Scheduled publication failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to add publication job: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", zap.String("cron", s.spec), zap.Int("batch", s.batch))
	return nil
}

// Stop останавливает cron и ждет запущенных callback-ов
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Trigger выбирает группы и ставит пакет в пул. Возвращает nil, если
// публиковать нечего или предыдущий пакет еще выполняется.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.inflight.CompareAndSwap(false, true) {
		s.logger.Info("Previous scheduled batch still running, skipping")
		return nil
	}

	s.mu.RLock()
	retryAfter := s.retryAfter
	s.mu.RUnlock()

	groups, err := s.groups.ListUnpublishedGroups(ctx, s.batch, retryAfter)
	if err != nil {
		s.inflight.Store(false)
		s.record(err)
		return fmt.Errorf("failed to list unpublished groups: %w", err)
	}
	if len(groups) == 0 {
		s.inflight.Store(false)
		s.logger.Debug("Nothing to publish")
		s.record(nil)
		return nil
	}

	job := worker.Job{
		ID:   uuid.New(),
		Name: "cron",
		Run: func(ctx context.Context) error {
			defer s.inflight.Store(false)
			err := s.publish(ctx, groups)
			s.record(err)
			return err
		},
	}
	if err := s.pool.Submit(job); err != nil {
		s.inflight.Store(false)
		s.record(err)
		return fmt.Errorf("failed to submit scheduled batch: %w", err)
	}
	s.logger.Info("Scheduled batch submitted", zap.String("job_id", job.ID.String()), zap.Int("groups", len(groups)))
	return nil
}

func (s *Scheduler) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Now().UTC()
	s.lastErr = err
}

// GetStatus возвращает состояние для health-эндпоинта
func (s *Scheduler) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := map[string]interface{}{
		"running":  s.running,
		"cron":     s.spec,
		"batch":    s.batch,
		"inflight": s.inflight.Load(),
	}
	if entries := s.cron.Entries(); len(entries) > 0 {
		status["next_run"] = entries[0].Next
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun
	}
	if s.lastErr != nil {
		status["last_error"] = s.lastErr.Error()
	}
	return status
}
