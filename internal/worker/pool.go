// Package worker реализует пул воркеров для пакетов публикации.
// Пакеты выполняются параллельно, внутри пакета задачи идут последовательно.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ошибки пула
var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Job один пакет работы
type Job struct {
	ID uuid.UUID
	// Name источник пакета: "admin", "cron" и т.п.
	Name string
	Run  func(ctx context.Context) error
}

// Metrics метрики пула
type Metrics struct {
	Workers        int           `json:"workers"`
	ProcessedJobs  int64         `json:"processed_jobs"`
	FailedJobs     int64         `json:"failed_jobs"`
	DroppedJobs    int64         `json:"dropped_jobs"`
	Running        int           `json:"running"`
	QueueSize      int           `json:"queue_size"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Pool пул воркеров
type Pool struct {
	workers  int
	jobQueue chan Job
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.Logger

	mu       sync.RWMutex
	stopped  bool
	metrics  Metrics
	stopOnce sync.Once
}

// NewPool создает пул. workers <= 0 заменяется на 4.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:  workers,
		jobQueue: make(chan Job, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		metrics:  Metrics{Workers: workers},
	}
}

// Start запускает воркеры
func (p *Pool) Start() {
	p.logger.Info("Starting worker pool", zap.Int("workers", p.workers))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop перестает принимать пакеты и отменяет контекст: пакеты в работе
// останавливаются перед следующей задачей, пакеты из очереди отбрасываются.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool")
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		p.cancel()
		close(p.jobQueue)
	})
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// Submit ставит пакет в очередь, не блокируясь
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	select {
	case p.jobQueue <- job:
		p.metrics.QueueSize = len(p.jobQueue)
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for job := range p.jobQueue {
		if p.ctx.Err() != nil {
			p.mu.Lock()
			p.metrics.DroppedJobs++
			p.mu.Unlock()
			p.logger.Warn("Job dropped on shutdown",
				zap.String("job_id", job.ID.String()),
				zap.String("job", job.Name))
			continue
		}
		p.process(job, id)
	}
	p.logger.Debug("Worker stopping", zap.Int("worker_id", id))
}

func (p *Pool) process(job Job, workerID int) {
	start := time.Now()
	p.mu.Lock()
	p.metrics.Running++
	p.metrics.QueueSize = len(p.jobQueue)
	p.mu.Unlock()

	log := p.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("job", job.Name))
	log.Debug("Processing job")

	err := p.run(job)

	p.mu.Lock()
	p.metrics.Running--
	if err != nil {
		p.metrics.FailedJobs++
	} else {
		p.metrics.ProcessedJobs++
	}
	p.metrics.ProcessingTime += time.Since(start)
	p.mu.Unlock()

	if err != nil {
		log.Error("Job processing failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	log.Info("Job processed", zap.Duration("duration", time.Since(start)))
}

// run выполняет пакет, превращая панику в ошибку
func (p *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(p.ctx)
}

// GetMetrics возвращает снимок метрик
func (p *Pool) GetMetrics() Metrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

// IsRunning сообщает, принимает ли пул пакеты
func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.stopped
}
