package handlers

import (
	"net/http"

	"github.com/arturkryukov/cipherdrive/internal/api/errors"
	"github.com/arturkryukov/cipherdrive/internal/service"
)

// MaintenanceHandler — обработчик административных операций обслуживания.
type MaintenanceHandler struct {
	reconcile *service.ReconcileService
}

// NewMaintenanceHandler создаёт обработчик операций обслуживания.
func NewMaintenanceHandler(reconcile *service.ReconcileService) *MaintenanceHandler {
	return &MaintenanceHandler{reconcile: reconcile}
}

// Reconcile обрабатывает POST /api/v1/maintenance/reconcile.
// Запускает внеплановую сверку квот с диском. Доступно только администраторам.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconcile.RunOnce(r.Context())
	if err != nil {
		errors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"started_at":      result.StartedAt,
		"completed_at":    result.CompletedAt,
		"users_checked":   result.UsersChecked,
		"drifts_found":    result.DriftsFound,
		"bytes_corrected": result.BytesCorrected,
	})
}
