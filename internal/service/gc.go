// gc.go — сервис фоновой зачистки (Garbage Collection).
//
// GC выполняет две задачи:
//  1. Переводит в expired активные ссылки с истёкшим сроком действия
//     (одним bulk UPDATE; ссылки с исчерпанным лимитом скачиваний
//     истекают атомарно в момент последнего скачивания)
//  2. Удаляет завершённые записи журнала транзакций
//
// Запускается как горутина с периодическим тикером (CD_SHARE_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/cipherdrive/internal/repository"
	"github.com/arturkryukov/cipherdrive/internal/storage/txlog"
)

// Prometheus метрики GC
var (
	// gcRunsTotal — количество запусков GC.
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cd_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	// gcSharesExpiredTotal — количество ссылок, переведённых в expired.
	gcSharesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cd_gc_shares_expired_total",
		Help: "Общее количество ссылок, переведённых GC в expired",
	})

	// gcTxCleanedTotal — количество удалённых записей журнала транзакций.
	gcTxCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cd_gc_tx_cleaned_total",
		Help: "Общее количество зачищенных записей журнала транзакций",
	})

	// gcDurationSeconds — длительность выполнения GC.
	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cd_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// GCResult — результат одного запуска GC.
type GCResult struct {
	// ExpiredShares — количество ссылок, переведённых в expired
	ExpiredShares int64
	// CleanedTx — количество удалённых записей журнала транзакций
	CleanedTx int
	// Errors — количество ошибок при обработке
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// GCService — сервис фоновой зачистки.
type GCService struct {
	shares   repository.ShareRepository
	txLog    *txlog.Log
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex // защита от параллельного запуска RunOnce
	running bool
	cancel  context.CancelFunc
}

// NewGCService создаёт сервис GC.
func NewGCService(
	shares repository.ShareRepository,
	txLog *txlog.Log,
	interval time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		shares:   shares,
		txLog:    txLog,
		interval: interval,
		logger:   logger.With(slog.String("component", "gc")),
	}
}

// Start запускает фоновую горутину GC с периодическим тикером.
// Вызывается один раз при старте приложения.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.running = true

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
	)
}

// Stop останавливает фоновый процесс GC.
func (gc *GCService) Stop() {
	if gc.cancel != nil {
		gc.cancel()
	}
	gc.running = false
	gc.logger.Info("GC остановлен")
}

// run — основной цикл фоновой горутины.
func (gc *GCService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	gc.RunOnce(ctx)

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл зачистки. Потокобезопасен.
func (gc *GCService) RunOnce(ctx context.Context) *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	result := &GCResult{}

	expired, err := gc.shares.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		gc.logger.Error("ошибка перевода ссылок в expired",
			slog.String("error", err.Error()),
		)
		result.Errors++
	} else {
		result.ExpiredShares = expired
		gcSharesExpiredTotal.Add(float64(expired))
	}

	cleaned, err := gc.txLog.CleanFinished()
	if err != nil {
		gc.logger.Error("ошибка зачистки журнала транзакций",
			slog.String("error", err.Error()),
		)
		result.Errors++
	} else {
		result.CleanedTx = cleaned
		gcTxCleanedTotal.Add(float64(cleaned))
	}

	result.Duration = time.Since(start)
	gcRunsTotal.Inc()
	gcDurationSeconds.Observe(result.Duration.Seconds())

	if result.ExpiredShares > 0 || result.CleanedTx > 0 {
		gc.logger.Info("GC завершён",
			slog.Int64("expired_shares", result.ExpiredShares),
			slog.Int("cleaned_tx", result.CleanedTx),
			slog.Duration("duration", result.Duration),
		)
	}
	return result
}
