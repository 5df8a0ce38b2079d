// Package main запускает демон публикации задач.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"codequiz/internal/app"
	"codequiz/internal/config"
	"codequiz/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log := logger.New(logger.Options{Console: true})
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Инициализация логгера
	log := logger.New(logger.Options{Level: cfg.LogLevel, Path: cfg.LogPath, DataDir: cfg.AppDataDir})
	defer func() { _ = log.Sync() }()

	// Обработка сигналов
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Создание сервиса через фабрику
	service, err := app.NewComponentFactory(cfg, log).CreateService(ctx)
	if err != nil {
		log.Fatal("Failed to create service", zap.Error(err))
	}

	if err := service.Run(ctx); err != nil {
		log.Error("Service stopped with error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Service stopped successfully")
}
