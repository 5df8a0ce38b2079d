package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codequiz/internal/admin"
	"codequiz/internal/config"
	"codequiz/internal/external/telegram"
	"codequiz/internal/health"
	"codequiz/internal/middleware"
	"codequiz/internal/model"
	"codequiz/internal/pollanswer"
	"codequiz/internal/publisher"
	"codequiz/internal/scheduler"
	"codequiz/internal/storage"
	"codequiz/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// receiverRestartDelay пауза перед повторным запуском long polling
const receiverRestartDelay = 10 * time.Second

// Service демон публикации: планировщик, пул воркеров, прием ответов на
// опросы и health check сервер
type Service struct {
	config *config.Config
	logger *zap.Logger

	db        *storage.Postgres
	admin     *admin.Service
	fanout    *publisher.Fanout
	pool      *worker.Pool
	scheduler *scheduler.Scheduler
	queue     pollanswer.Queue
	receiver  *telegram.Receiver
	consumers []*pollanswer.Consumer
	health    *health.Server
}

// CreateService собирает демон со всеми зависимостями
func (f *ComponentFactory) CreateService(ctx context.Context) (*Service, error) {
	if err := f.CreateAppDataDirectory(); err != nil {
		return nil, err
	}

	db, err := f.CreateDatabase(ctx)
	if err != nil {
		return nil, err
	}
	s := &Service{config: f.config, logger: f.logger, db: db}
	if err := f.assemble(ctx, s); err != nil {
		_ = db.Close()
		return nil, err
	}
	f.logger.Info("Service created successfully with all dependencies")
	return s, nil
}

func (f *ComponentFactory) assemble(ctx context.Context, s *Service) error {
	repos := s.db.Repositories()
	links := f.CreateLinkResolver(repos)

	c, err := f.createPublishing(ctx, repos, links)
	if err != nil {
		return err
	}
	s.fanout = c.fanout
	s.admin = admin.New(admin.Deps{
		Repos:      repos,
		Publisher:  c.publisher,
		Dispatcher: c.fanout,
		Cleaner:    c.cleanup,
		Links:      links,
	}, f.logger)

	s.pool = worker.NewPool(f.config.Publication.Workers, f.config.Publication.QueueSize, f.logger)
	if f.config.Publication.Cron != "" {
		s.scheduler, err = scheduler.New(f.config.Publication.Cron, f.config.Publication.CronBatch,
			repos.Tasks, s.pool, s.publishScheduled, f.logger)
		if err != nil {
			return model.NewError(model.KindConfigurationMissing, "scheduler", err)
		}
		s.scheduler.SetRetryAfter(f.config.Publication.RetryAfter)
	} else {
		f.logger.Info("PUBLISH_CRON is empty, scheduled publication is disabled")
	}

	index, err := pollanswer.NewIndex(repos.Polls, f.config.PollAnswers.CacheSize)
	if err != nil {
		return fmt.Errorf("failed to create poll index: %w", err)
	}
	aggregator := pollanswer.NewAggregator(index, repos, pollanswer.NewDirectSender(c.tg), f.logger)

	s.queue, err = f.CreatePollQueue(ctx)
	if err != nil {
		return err
	}

	// с общей очередью Redis процесс обрабатывает только свой шард,
	// а getUpdates читает один процесс: шард 0
	shards := []int{f.config.PollAnswers.Shard}
	if f.config.PollAnswers.RedisURL == "" {
		shards = shards[:0]
		for i := 0; i < s.queue.Shards(); i++ {
			shards = append(shards, i)
		}
	}
	handle := middleware.Chain(aggregator.Handle, middleware.Recovery(f.logger), middleware.Logging(f.logger))
	for _, shard := range shards {
		s.consumers = append(s.consumers, pollanswer.NewConsumer(s.queue, shard, handle, f.logger))
	}
	if f.config.PollAnswers.RedisURL == "" || f.config.PollAnswers.Shard == 0 {
		s.receiver = telegram.NewReceiver(c.tg.Bot(), f.logger)
	}

	s.health = f.CreateHealthServer(s.db)
	if s.health != nil {
		if p, ok := s.queue.(health.Pinger); ok {
			s.health.AddCheck("redis", p)
		}
		s.health.AddStatus("worker_pool", func() any { return s.pool.GetMetrics() })
		s.health.AddStatus("poll_consumers", func() any { return s.consumerStats() })
		if s.scheduler != nil {
			s.health.AddStatus("scheduler", func() any { return s.scheduler.GetStatus() })
		}
	}
	return nil
}

// publishScheduled публикует группы, выбранные планировщиком
func (s *Service) publishScheduled(ctx context.Context, groups []uuid.UUID) error {
	res, err := s.admin.PublishGroups(ctx, groups, admin.PublishOptions{}, LogProgress(s.logger))
	if err != nil {
		return err
	}
	if code := res.ExitCode(); code != admin.ExitOK {
		return fmt.Errorf("scheduled publication finished with exit code %d", code)
	}
	return nil
}

func (s *Service) consumerStats() map[string]int64 {
	out := make(map[string]int64, len(s.consumers))
	for i, c := range s.consumers {
		out[fmt.Sprintf("consumer_%d", i)] = c.Processed()
	}
	return out
}

// Run запускает компоненты и блокируется до отмены ctx или отказа одного из них
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("Starting service")

	s.pool.Start()
	if s.scheduler != nil {
		if err := s.scheduler.Start(); err != nil {
			s.pool.Stop()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.health != nil {
		g.Go(s.health.Start)
	}
	if s.receiver != nil {
		g.Go(func() error { return s.receive(gctx) })
	}
	for _, c := range s.consumers {
		g.Go(func() error { return c.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	s.logger.Info("Service started successfully",
		zap.Int("poll_consumers", len(s.consumers)),
		zap.Bool("receiver", s.receiver != nil),
		zap.Bool("scheduler", s.scheduler != nil))

	err := g.Wait()
	if cerr := s.db.Close(); cerr != nil {
		s.logger.Error("Failed to close database", zap.Error(cerr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("Service stopped")
	return nil
}

// receive перезапускает long polling до отмены ctx
func (s *Service) receive(ctx context.Context) error {
	for {
		err := s.receiver.Run(ctx, s.queue.Publish)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("Poll answer receiver stopped, restarting", zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(receiverRestartDelay):
		}
	}
}

// shutdown останавливает компоненты в обратном порядке
func (s *Service) shutdown() {
	s.logger.Info("Stopping service")
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.pool.Stop()
	s.fanout.Wait()
	if err := s.queue.Close(); err != nil {
		s.logger.Error("Failed to close poll queue", zap.Error(err))
	}
	if s.health != nil {
		if err := s.health.Stop(); err != nil {
			s.logger.Error("Failed to stop health server", zap.Error(err))
		}
	}
}

// LogProgress пишет журнал прогресса в лог
func LogProgress(logger *zap.Logger) model.ProgressSink {
	return model.ProgressFunc(func(e model.ProgressEntry) {
		fields := []zap.Field{zap.String("step", e.Step)}
		if e.TaskID != 0 {
			fields = append(fields, zap.Int64("task_id", e.TaskID))
		}
		if e.Language != "" {
			fields = append(fields, zap.String("language", e.Language))
		}
		switch e.Severity {
		case model.SeverityError:
			logger.Error(e.Message, fields...)
		case model.SeverityWarning:
			logger.Warn(e.Message, fields...)
		default:
			logger.Info(e.Message, fields...)
		}
	})
}
