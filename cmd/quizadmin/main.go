// Package main содержит CLI администратора: публикация, удаление, сброс
// ошибки, проверка ссылок, импорт, перенос статистики и вебхуки.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"codequiz/internal/app"
	"codequiz/internal/config"
	"codequiz/internal/model"
	"codequiz/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	c := &cli{
		open:   openAdmin,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	code := c.run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// openAdmin загружает конфигурацию и собирает сервис администратора
func openAdmin(ctx context.Context, opts app.AdminOptions) (adminService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, model.NewError(model.KindConfigurationMissing, "config", err)
	}

	log := logger.New(logger.Options{
		Level:    cfg.LogLevel,
		Path:     cfg.LogPath,
		DataDir:  cfg.AppDataDir,
		FileOnly: true,
	})

	svc, err := app.NewComponentFactory(cfg, log).CreateAdmin(ctx, opts)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	closeFn := func() {
		if err := svc.Close(); err != nil {
			log.Error("Failed to close admin service", zap.Error(err))
		}
		_ = log.Sync()
	}
	return svc, closeFn, nil
}
