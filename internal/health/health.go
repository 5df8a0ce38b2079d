// Package health содержит health check сервер.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Server представляет health check сервер
type Server struct {
	server  *http.Server
	db      Pinger
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.RWMutex
	checks   map[string]Pinger
	statuses map[string]func() any
}

// NewServer создает health check сервер. db проверяется в /health и /ready.
func NewServer(port string, db Pinger, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		db:       db,
		timeout:  3 * time.Second,
		logger:   logger,
		checks:   make(map[string]Pinger),
		statuses: make(map[string]func() any),
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)

	return s
}

// AddCheck добавляет проверку зависимости (Redis, Telegram и т.п.)
func (s *Server) AddCheck(name string, p Pinger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = p
}

// AddStatus добавляет раздел в ответ /health: метрики пула, состояние планировщика
func (s *Server) AddStatus(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[name] = fn
}

// Handler возвращает обработчик маршрутов
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start запускает health check сервер
func (s *Server) Start() error {
	s.logger.Info("Starting health check server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop останавливает health check сервер
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping health check server")
	return s.server.Shutdown(ctx)
}

type response struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Checks     map[string]string `json:"checks,omitempty"`
	Components map[string]any    `json:"components,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// healthHandler обрабатывает запросы /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	body := response{Status: "healthy", Timestamp: time.Now().Format(time.RFC3339)}
	code := http.StatusOK

	checks, failed := s.runChecks(r.Context())
	body.Checks = checks
	if failed {
		body.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	s.mu.RLock()
	if len(s.statuses) > 0 {
		body.Components = make(map[string]any, len(s.statuses))
		for name, fn := range s.statuses {
			body.Components[name] = fn()
		}
	}
	s.mu.RUnlock()

	writeJSON(w, code, body)
}

// readyHandler обрабатывает запросы /ready
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	body := response{Status: "ready", Timestamp: time.Now().Format(time.RFC3339)}
	code := http.StatusOK

	if err := s.checkDatabase(r.Context()); err != nil {
		body.Status = "not ready"
		code = http.StatusServiceUnavailable
		s.logger.Error("Readiness check failed", zap.Error(err))
	}
	writeJSON(w, code, body)
}

// liveHandler обрабатывает запросы /live
func (s *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "alive", Timestamp: time.Now().Format(time.RFC3339)})
}

// runChecks выполняет проверку базы и зарегистрированных зависимостей
func (s *Server) runChecks(ctx context.Context) (map[string]string, bool) {
	results := map[string]string{"database": "ok"}
	failed := false

	if err := s.checkDatabase(ctx); err != nil {
		results["database"] = err.Error()
		failed = true
		s.logger.Error("Health check failed", zap.String("check", "database"), zap.Error(err))
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		s.mu.RLock()
		p := s.checks[name]
		s.mu.RUnlock()

		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := p.Ping(cctx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			failed = true
			s.logger.Error("Health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		results[name] = "ok"
	}
	return results, failed
}

// checkDatabase проверяет подключение к базе данных
func (s *Server) checkDatabase(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database is not initialized")
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.Ping(cctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
