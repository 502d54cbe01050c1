// reconcile.go — сервис фоновой сверки леджера квот с диском.
//
// Для каждого пользователя с песочницей сравниваются:
//   - фактический размер песочницы на диске (ground truth)
//   - суммарный размер файлов в индексе метаданных
//   - учтённый used_bytes в леджере квот
//
// Расхождения возникают после сбоев между физической операцией и
// транзакцией БД: осиротевшие файлы, недоудалённые поддеревья,
// потерянные декременты. Сверка приводит used_bytes к размеру на диске.
//
// Запускается как горутина с периодическим тикером (CD_RECONCILE_INTERVAL).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/repository"
	"github.com/arturkryukov/cipherdrive/internal/storage/filestore"
	"github.com/arturkryukov/cipherdrive/internal/storage/pathres"
)

// Prometheus метрики сверки квот
var (
	// reconcileRunsTotal — количество запусков сверки.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cd_reconcile_runs_total",
		Help: "Общее количество запусков сверки квот",
	})

	// reconcileDriftsTotal — количество обнаруженных расхождений по типу.
	reconcileDriftsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cd_reconcile_drifts_total",
		Help: "Общее количество расхождений, обнаруженных сверкой",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения сверки.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cd_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки квот в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// Типы расхождений для метрики reconcileDriftsTotal.
const (
	driftLedger    = "ledger"     // used_bytes не совпадает с диском
	driftIndex     = "index"      // индекс метаданных не совпадает с диском
	driftNoSandbox = "no_sandbox" // песочница пользователя отсутствует на диске
)

// ReconcileResult — итог одного цикла сверки.
type ReconcileResult struct {
	StartedAt    time.Time
	CompletedAt  time.Time
	UsersChecked int
	DriftsFound  int
	// BytesCorrected — суммарная абсолютная величина правок used_bytes
	BytesCorrected int64
}

// ReconcileService — сервис фоновой сверки леджера квот.
type ReconcileService struct {
	users    repository.UserRepository
	quotas   repository.QuotaRepository
	entries  repository.EntryRepository
	store    *filestore.FileStore
	resolver *pathres.Resolver
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки квот.
func NewReconcileService(
	users repository.UserRepository,
	quotas repository.QuotaRepository,
	entries repository.EntryRepository,
	store *filestore.FileStore,
	resolver *pathres.Resolver,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		users:    users,
		quotas:   quotas,
		entries:  entries,
		store:    store,
		resolver: resolver,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("сверка квот запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновой процесс сверки.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("сверка квот остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rs.RunOnce(ctx); err != nil &&
				!errors.Is(err, ErrReconcileInProgress) {
				rs.logger.Error("ошибка цикла сверки", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один цикл сверки. Потокобезопасен:
// при уже идущей сверке возвращает ErrReconcileInProgress.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("сверка уже выполняется, пропуск")
		return nil, ErrReconcileInProgress
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	result := &ReconcileResult{StartedAt: time.Now().UTC()}
	rs.logger.Info("сверка квот начата")

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		users, err := rs.users.List(ctx, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("ошибка перечисления пользователей: %w", err)
		}
		for _, u := range users {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rs.reconcileUser(ctx, u, result)
		}
		if len(users) < pageSize {
			break
		}
	}

	result.CompletedAt = time.Now().UTC()
	duration := result.CompletedAt.Sub(result.StartedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())

	rs.logger.Info("сверка квот завершена",
		slog.Int("users_checked", result.UsersChecked),
		slog.Int("drifts", result.DriftsFound),
		slog.Int64("bytes_corrected", result.BytesCorrected),
		slog.Duration("duration", duration),
	)
	return result, nil
}

// reconcileUser сверяет одного пользователя: диск против индекса
// и леджера. used_bytes приводится к фактическому размеру на диске.
func (rs *ReconcileService) reconcileUser(ctx context.Context, u *model.User, result *ReconcileResult) {
	root, ok := rs.resolver.SandboxRoot(u)
	if !ok {
		// download_only — песочницы нет, сверять нечего
		return
	}
	result.UsersChecked++

	diskUsage, err := rs.store.TreeSize(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			rs.logger.Warn("песочница отсутствует на диске",
				slog.String("user", u.Username),
				slog.String("root", root),
			)
			reconcileDriftsTotal.WithLabelValues(driftNoSandbox).Inc()
			result.DriftsFound++
			diskUsage = 0
		} else {
			rs.logger.Error("ошибка обхода песочницы",
				slog.String("user", u.Username),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	indexUsage, err := rs.entries.OwnerUsage(ctx, u.ID)
	if err != nil {
		rs.logger.Error("ошибка подсчёта индекса",
			slog.String("user", u.Username),
			slog.String("error", err.Error()),
		)
		return
	}
	if indexUsage != diskUsage {
		rs.logger.Warn("индекс метаданных расходится с диском",
			slog.String("user", u.Username),
			slog.Int64("index_bytes", indexUsage),
			slog.Int64("disk_bytes", diskUsage),
		)
		reconcileDriftsTotal.WithLabelValues(driftIndex).Inc()
		result.DriftsFound++
	}

	quota, err := rs.quotas.Get(ctx, u.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Квота появится при первом обращении пользователя
			return
		}
		rs.logger.Error("ошибка чтения квоты",
			slog.String("user", u.Username),
			slog.String("error", err.Error()),
		)
		return
	}

	if quota.UsedBytes == diskUsage {
		return
	}

	delta := diskUsage - quota.UsedBytes
	if err := rs.quotas.SetUsage(ctx, u.ID, diskUsage); err != nil {
		rs.logger.Error("ошибка коррекции used_bytes",
			slog.String("user", u.Username),
			slog.String("error", err.Error()),
		)
		return
	}

	reconcileDriftsTotal.WithLabelValues(driftLedger).Inc()
	result.DriftsFound++
	if delta < 0 {
		delta = -delta
	}
	result.BytesCorrected += delta

	rs.logger.Warn("used_bytes скорректирован",
		slog.String("user", u.Username),
		slog.Int64("ledger_bytes", quota.UsedBytes),
		slog.Int64("disk_bytes", diskUsage),
	)
}
