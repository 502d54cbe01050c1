// Точка входа CipherDrive — сервиса файлового хранилища с квотами
// и публичными ссылками.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/arturkryukov/cipherdrive/internal/api/handlers"
	"github.com/arturkryukov/cipherdrive/internal/api/middleware"
	"github.com/arturkryukov/cipherdrive/internal/auth"
	"github.com/arturkryukov/cipherdrive/internal/config"
	"github.com/arturkryukov/cipherdrive/internal/database"
	"github.com/arturkryukov/cipherdrive/internal/repository"
	"github.com/arturkryukov/cipherdrive/internal/server"
	"github.com/arturkryukov/cipherdrive/internal/service"
	"github.com/arturkryukov/cipherdrive/internal/storage/filestore"
	"github.com/arturkryukov/cipherdrive/internal/storage/pathres"
	"github.com/arturkryukov/cipherdrive/internal/storage/provision"
	"github.com/arturkryukov/cipherdrive/internal/storage/txlog"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("CipherDrive запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("users_root", cfg.UsersRoot),
		slog.Int("shared_roots", len(cfg.SharedRoots)),
	)

	// --- Инициализация компонентов ---

	// 1. Структура директорий: корень песочниц и общие read-only корни
	provisioner := provision.New(cfg.UsersRoot, cfg.SharedRoots, logger)
	if err := provisioner.Bootstrap(); err != nil {
		logger.Error("Ошибка подготовки директорий", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. PostgreSQL: миграции и пул соединений
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграции БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к БД", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 3. Репозитории
	users := repository.NewUserRepository(pool)
	quotas := repository.NewQuotaRepository(pool)
	entries := repository.NewEntryRepository(pool)
	shares := repository.NewShareRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 4. Резолвер виртуальных путей и файловое хранилище
	resolver, err := pathres.New(cfg.UsersRoot, cfg.SharedRoots)
	if err != nil {
		logger.Error("Ошибка инициализации резолвера путей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	store := filestore.New()

	// 5. Журнал мутаций и восстановление после сбоя
	txLog, err := txlog.New(cfg.TxLogDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации журнала мутаций", slog.String("error", err.Error()))
		os.Exit(1)
	}
	recovered, err := recoverPending(ctx, txLog, users, resolver, store, logger)
	if err != nil {
		logger.Error("Ошибка восстановления журнала мутаций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Сервисы
	auditSvc := service.NewAuditService(auditRepo, logger)
	ledgerSvc := service.NewLedgerService(quotas, cfg.DefaultQuotaBytes, logger)
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	identitySvc := service.NewIdentityService(users, ledgerSvc, provisioner, issuer, auditSvc, logger)
	storageSvc := service.NewStorageService(cfg, resolver, store, txLog, entries, ledgerSvc, txRunner, auditSvc, logger)
	shareSvc := service.NewShareService(shares, resolver, store, auditSvc, logger)

	// Стартовый администратор (только на пустой таблице пользователей)
	if err := identitySvc.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminUser, cfg.BootstrapAdminPassword); err != nil {
		logger.Error("Ошибка создания стартового администратора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Фоновые процессы

	// 7.1 Сверка квот с диском
	reconcileSvc := service.NewReconcileService(users, quotas, entries, store, resolver, cfg.ReconcileInterval, logger)
	reconcileSvc.Start(ctx)

	// После отката незавершённых мутаций used_bytes мог разойтись с диском —
	// не ждём планового тика
	if recovered > 0 {
		go func() {
			if _, rErr := reconcileSvc.RunOnce(ctx); rErr != nil {
				logger.Error("Ошибка внеплановой сверки после восстановления",
					slog.String("error", rErr.Error()),
				)
			}
		}()
	}

	// 7.2 GC — истечение ссылок и очистка журнала мутаций
	gcSvc := service.NewGCService(shares, txLog, cfg.ShareGCInterval, logger)
	gcSvc.Start(ctx)

	// 8. Handlers и middleware
	authenticator := middleware.NewAuthenticator(issuer, users, cfg.UserCacheSize, cfg.UserCacheTTL, logger)

	h := server.Handlers{
		Auth:        handlers.NewAuthHandler(identitySvc, cfg.JWTTTL),
		Files:       handlers.NewFilesHandler(storageSvc, ledgerSvc),
		Shares:      handlers.NewSharesHandler(shareSvc),
		Maintenance: handlers.NewMaintenanceHandler(reconcileSvc),
		Health:      handlers.NewHealthHandler(cfg.UsersRoot, cfg.TxLogDir, database.NewReadinessChecker(pool)),
	}

	// 9. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h, authenticator)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	gcSvc.Stop()
	reconcileSvc.Stop()
	auditSvc.Close()

	logger.Info("CipherDrive остановлен")
}

// recoverPending откатывает незавершённые мутации журнала и возвращает
// их количество. Для прерванных загрузок удаляется осиротевший физический
// файл; расхождения used_bytes исправляет сверка квот.
func recoverPending(
	ctx context.Context,
	txLog *txlog.Log,
	users repository.UserRepository,
	resolver *pathres.Resolver,
	store *filestore.FileStore,
	logger *slog.Logger,
) (int, error) {
	pending, err := txLog.RecoverPending()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	logger.Warn("Обнаружены незавершённые мутации, откатываем",
		slog.Int("count", len(pending)),
	)

	for _, entry := range pending {
		if entry.Operation == txlog.OpUpload {
			removeOrphan(ctx, entry, users, resolver, store, logger)
		}

		if rbErr := txLog.Rollback(entry.TransactionID); rbErr != nil {
			logger.Error("Ошибка отката мутации",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
			continue
		}
		logger.Info("Мутация откачена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("path", entry.Path),
		)
	}

	return len(pending), nil
}

// removeOrphan удаляет физический файл прерванной загрузки, если он
// успел появиться на диске. Отсутствие файла или владельца не ошибка.
func removeOrphan(
	ctx context.Context,
	entry *txlog.Entry,
	users repository.UserRepository,
	resolver *pathres.Resolver,
	store *filestore.FileStore,
	logger *slog.Logger,
) {
	u, err := users.GetByID(ctx, entry.OwnerID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Error("Ошибка поиска владельца прерванной загрузки",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	absPath, err := resolver.Resolve(u, entry.Path)
	if err != nil {
		return
	}

	if err := store.Remove(absPath); err != nil {
		logger.Error("Ошибка удаления осиротевшего файла",
			slog.String("tx_id", entry.TransactionID),
			slog.String("path", entry.Path),
			slog.String("error", err.Error()),
		)
		return
	}

	logger.Info("Осиротевший файл прерванной загрузки удалён",
		slog.String("tx_id", entry.TransactionID),
		slog.String("path", entry.Path),
	)
}
