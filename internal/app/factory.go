// Package app содержит фабрику компонентов приложения.
package app

import (
	"context"
	"fmt"
	"os"

	"codequiz/internal/admin"
	"codequiz/internal/cleanup"
	"codequiz/internal/config"
	"codequiz/internal/external/objectstore"
	"codequiz/internal/external/telegram"
	"codequiz/internal/external/video"
	"codequiz/internal/health"
	"codequiz/internal/linkresolver"
	"codequiz/internal/model"
	"codequiz/internal/pollanswer"
	"codequiz/internal/publisher"
	"codequiz/internal/render"
	"codequiz/internal/storage"
	"codequiz/internal/webhook"

	"go.uber.org/zap"
)

// fanoutConcurrency число одновременных языковых рассылок с видео
const fanoutConcurrency = 2

// ComponentFactory создает компоненты приложения
type ComponentFactory struct {
	config *config.Config
	logger *zap.Logger
}

// NewComponentFactory создает новую фабрику компонентов
func NewComponentFactory(config *config.Config, logger *zap.Logger) *ComponentFactory {
	if logger == nil {
		panic("Logger cannot be nil")
	}
	if config == nil {
		logger.Fatal("Config cannot be nil")
	}

	return &ComponentFactory{
		config: config,
		logger: logger,
	}
}

// CreateAppDataDirectory создает директорию данных приложения
func (f *ComponentFactory) CreateAppDataDirectory() error {
	dataDir := f.config.AppDataDir
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		f.logger.Error("Failed to create app data directory", zap.String("dir", dataDir), zap.Error(err))
		return fmt.Errorf("failed to create app data directory: %w", err)
	}
	return nil
}

// CreateDatabase создает подключение к базе данных
func (f *ComponentFactory) CreateDatabase(ctx context.Context) (*storage.Postgres, error) {
	if f.config.DatabaseURL == "" {
		return nil, model.Errorf(model.KindConfigurationMissing, "database", "DATABASE_URL is required")
	}

	db, err := storage.NewPostgres(ctx, f.config.DatabaseURL, storage.DefaultConnectOptions, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if f.config.EnsureSchema {
		if err := db.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		f.logger.Info("Database schema ensured")
	}
	return db, nil
}

// CreateTelegramClient создает клиент Telegram
func (f *ComponentFactory) CreateTelegramClient() (*telegram.Client, error) {
	client, err := telegram.NewClient(telegram.Config{
		Token:         f.config.Telegram.BotToken,
		APIEndpoint:   f.config.Telegram.APIEndpoint,
		MediaTimeout:  f.config.Telegram.MediaTimeout,
		ButtonTimeout: f.config.Telegram.ButtonTimeout,
		RateLimit:     f.config.Telegram.RateLimit,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return client, nil
}

// Objects операции хранилища, нужные публикации, рассылке и удалению
type Objects interface {
	publisher.ImageStore
	publisher.VideoStore
	cleanup.ObjectDeleter
}

// CreateObjectStore создает клиент хранилища. Без OBJECT_STORE_BUCKET
// возвращается заглушка, отвечающая ConfigurationMissing на каждую операцию.
func (f *ComponentFactory) CreateObjectStore(ctx context.Context) (Objects, error) {
	if !f.config.ObjectStoreEnabled() {
		f.logger.Warn("Object store is not configured, image upload and deletion are disabled")
		return unconfiguredStore{}, nil
	}
	cfg := f.config.ObjectStore
	client, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:     cfg.Endpoint,
		Bucket:       cfg.Bucket,
		AccessKey:    cfg.AccessKey,
		Secret:       cfg.Secret,
		PublicDomain: cfg.PublicDomain,
		Region:       cfg.Region,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return client, nil
}

// CreateRenderer создает рендер картинок кода
func (f *ComponentFactory) CreateRenderer() (*render.Renderer, error) {
	r, err := render.New(render.Options{
		Style:    f.config.Render.Style,
		LogoPath: f.config.Render.LogoPath,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	return r, nil
}

// CreateLinkResolver создает резолвер ссылок "подробнее"
func (f *ComponentFactory) CreateLinkResolver(repos *model.Repositories) *linkresolver.Resolver {
	return linkresolver.New(repos.Links, f.config.SupportedLanguages, f.config.DefaultLanguage, f.logger)
}

// CreateFanout создает рассылку вебхуков. Без VIDEO_SERVICE_URL языковые
// вебхуки получают задачи сразу, без видео.
func (f *ComponentFactory) CreateFanout(repos *model.Repositories, store publisher.VideoStore) *publisher.Fanout {
	dispatcher := webhook.NewDispatcher(webhook.Config{
		Timeout:        f.config.Webhook.Timeout,
		Retries:        f.config.Webhook.Retries,
		RetryBaseDelay: f.config.Webhook.RetryBaseDelay,
		PauseMin:       f.config.Webhook.PauseMin,
		PauseMax:       f.config.Webhook.PauseMax,
	}, f.logger)
	hooks := webhook.NewService(repos.Webhooks, repos.Links, dispatcher, f.logger)

	if f.config.VideoServiceURL == "" {
		f.logger.Info("Video service is not configured, language webhooks are sent without video")
		return publisher.NewFanout(repos.Tasks, hooks, nil, store, fanoutConcurrency, f.logger)
	}
	videos := video.NewClient(video.Config{
		BaseURL: f.config.VideoServiceURL,
		Timeout: f.config.VideoTimeout,
	}, f.logger)
	return publisher.NewFanout(repos.Tasks, hooks, videos, store, fanoutConcurrency, f.logger)
}

// AdminOptions определяет, какие внешние сервисы нужны команде
type AdminOptions struct {
	// Publishing собирает Telegram, хранилище и рендер: нужны для публикации,
	// удаления и картинок при импорте
	Publishing bool
}

// Admin сервис администратора с ресурсами, которые нужно закрыть
type Admin struct {
	*admin.Service
	DB     *storage.Postgres
	Fanout *publisher.Fanout
}

// Close ждет фоновых рассылок и закрывает базу
func (a *Admin) Close() error {
	if a.Fanout != nil {
		a.Fanout.Wait()
	}
	return a.DB.Close()
}

// CreateAdmin собирает сервис администратора. Без Publishing доступны
// сброс ошибки, проверка ссылок, импорт без картинок, статистика и вебхуки.
func (f *ComponentFactory) CreateAdmin(ctx context.Context, opts AdminOptions) (*Admin, error) {
	db, err := f.CreateDatabase(ctx)
	if err != nil {
		return nil, err
	}
	repos := db.Repositories()
	links := f.CreateLinkResolver(repos)
	deps := admin.Deps{Repos: repos, Links: links}

	if !opts.Publishing {
		return &Admin{Service: admin.New(deps, f.logger), DB: db}, nil
	}

	c, err := f.createPublishing(ctx, repos, links)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	deps.Publisher = c.publisher
	deps.Dispatcher = c.fanout
	deps.Cleaner = c.cleanup
	return &Admin{Service: admin.New(deps, f.logger), DB: db, Fanout: c.fanout}, nil
}

// publishing компоненты, общие для CLI и демона
type publishing struct {
	tg        *telegram.Client
	objects   Objects
	publisher *publisher.Publisher
	fanout    *publisher.Fanout
	cleanup   *cleanup.Service
}

func (f *ComponentFactory) createPublishing(ctx context.Context, repos *model.Repositories, links *linkresolver.Resolver) (*publishing, error) {
	tg, err := f.CreateTelegramClient()
	if err != nil {
		return nil, err
	}
	objects, err := f.CreateObjectStore(ctx)
	if err != nil {
		return nil, err
	}
	renderer, err := f.CreateRenderer()
	if err != nil {
		return nil, err
	}

	pub := publisher.New(repos, tg, objects, renderer, links, publisher.Config{
		PauseMin:   f.config.Publication.PauseMin,
		PauseMax:   f.config.Publication.PauseMax,
		ClaimLease: f.config.Publication.ClaimLease,
	}, f.logger)
	window := cleanup.Window{Before: f.config.Publication.DeleteBefore, After: f.config.Publication.DeleteAfter}

	return &publishing{
		tg:        tg,
		objects:   objects,
		publisher: pub,
		fanout:    f.CreateFanout(repos, objects),
		cleanup:   cleanup.New(repos.Tasks, repos.Groups, objects, tg, window, f.logger),
	}, nil
}

// CreatePollQueue создает очередь ответов: Redis при заданном REDIS_URL, иначе память процесса
func (f *ComponentFactory) CreatePollQueue(ctx context.Context) (pollanswer.Queue, error) {
	shards := f.config.PollAnswers.Shards
	if f.config.PollAnswers.RedisURL == "" {
		return pollanswer.NewMemoryQueue(shards, 256), nil
	}
	q, err := pollanswer.NewRedisQueue(ctx, pollanswer.RedisConfig{
		URL:    f.config.PollAnswers.RedisURL,
		Shards: shards,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis poll queue: %w", err)
	}
	return q, nil
}

// CreateHealthServer создает сервер health check
func (f *ComponentFactory) CreateHealthServer(db health.Pinger) *health.Server {
	if !f.config.HealthCheckEnabled {
		f.logger.Info("Health check server is disabled")
		return nil
	}
	server := health.NewServer(f.config.HealthPort, db, f.logger)
	f.logger.Info("Health check server created", zap.String("port", f.config.HealthPort))
	return server
}

// unconfiguredStore заменяет хранилище, когда бакет не задан
type unconfiguredStore struct{}

func (unconfiguredStore) PutImage(context.Context, []byte, string) (string, error) {
	return "", model.Errorf(model.KindConfigurationMissing, "put image", "OBJECT_STORE_BUCKET is not configured")
}

func (unconfiguredStore) PutVideo(context.Context, string, string) (string, error) {
	return "", model.Errorf(model.KindConfigurationMissing, "put video", "OBJECT_STORE_BUCKET is not configured")
}

func (unconfiguredStore) Delete(context.Context, string) (bool, error) {
	return false, model.Errorf(model.KindConfigurationMissing, "delete object", "OBJECT_STORE_BUCKET is not configured")
}
