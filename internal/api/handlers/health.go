// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/arturkryukov/cipherdrive/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// DatabaseReadinessChecker — интерфейс для проверки доступности БД.
type DatabaseReadinessChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// usersRoot — корень пользовательских песочниц (для проверки FS)
	usersRoot string
	// txLogDir — директория журнала мутаций
	txLogDir string
	// db — проверка доступности PostgreSQL
	db DatabaseReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(usersRoot, txLogDir string, db DatabaseReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version:   config.Version,
		usersRoot: usersRoot,
		txLogDir:  txLogDir,
		db:        db,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "cipherdrive",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: PostgreSQL, корень песочниц, директорию журнала мутаций.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	// Проверка БД
	dbCheck := map[string]any{"status": "ok"}
	if h.db != nil {
		status, message := h.db.CheckReady()
		dbCheck["status"] = status
		if message != "" {
			dbCheck["message"] = message
		}
		if status != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	// Проверка корня песочниц
	fsCheck := h.checkWritable(h.usersRoot, "Корень песочниц недоступен для записи")
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Проверка журнала мутаций
	txCheck := h.checkWritable(h.txLogDir, "Директория журнала мутаций недоступна для записи")
	if txCheck["status"] != "ok" {
		if overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "cipherdrive",
		"checks": map[string]any{
			"database":   dbCheck,
			"filesystem": fsCheck,
			"txlog":      txCheck,
		},
	})
}

// checkWritable проверяет доступность директории на запись.
func (h *HealthHandler) checkWritable(dir, failMessage string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": failMessage + ": " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
