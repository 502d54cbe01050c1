// Пакет server — HTTP-сервер CipherDrive с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arturkryukov/cipherdrive/internal/api/handlers"
	"github.com/arturkryukov/cipherdrive/internal/api/middleware"
	"github.com/arturkryukov/cipherdrive/internal/config"
	"github.com/arturkryukov/cipherdrive/internal/domain/model"
)

// Handlers — набор обработчиков, монтируемых на роутер.
type Handlers struct {
	Auth        *handlers.AuthHandler
	Files       *handlers.FilesHandler
	Shares      *handlers.SharesHandler
	Maintenance *handlers.MaintenanceHandler
	Health      *handlers.HealthHandler
}

// Server — HTTP-сервер CipherDrive.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, auth *middleware.Authenticator) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Публичные endpoints — без аутентификации.
	// Health и metrics проверяются Kubernetes напрямую.
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Post("/api/v1/auth/login", h.Auth.Login)
	router.Get("/api/v1/shares/public/{token}", h.Shares.PublicInfo)
	router.Get("/api/v1/shares/public/{token}/download", h.Shares.PublicDownload)

	// Аутентифицированные endpoints
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware())

		r.Get("/api/v1/files/quota", h.Files.Quota)
		r.Get("/api/v1/files/browse", h.Files.Browse)
		r.Post("/api/v1/files/upload", h.Files.Upload)
		r.Get("/api/v1/files/download", h.Files.Download)
		r.Delete("/api/v1/files", h.Files.Delete)
		r.Post("/api/v1/files/folders", h.Files.CreateFolder)

		r.Post("/api/v1/shares", h.Shares.Create)
		r.Get("/api/v1/shares", h.Shares.List)
		r.Get("/api/v1/shares/stats", h.Shares.Stats)
		r.Delete("/api/v1/shares/{share_id}", h.Shares.Disable)

		// Операции обслуживания — только для администраторов
		r.Group(func(ar chi.Router) {
			ar.Use(middleware.RequireRole(model.RoleAdmin))
			ar.Post("/api/v1/maintenance/reconcile", h.Maintenance.Reconcile)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled()),
		)

		var err error
		if s.cfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
