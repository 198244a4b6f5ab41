// maintenance.go — обработчик POST /api/v1/maintenance/reconcile.
// Делегирует сверку в ReconcileService.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/gophotostore/internal/api/errors"
	"github.com/bigkaa/gophotostore/internal/service"
)

// ReconcileRunner — интерфейс для запуска сверки.
// Позволяет тестировать handler без полного ReconcileService.
type ReconcileRunner interface {
	// RunOnce выполняет один цикл сверки.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.ReconcileReport, bool)
	// IsInProgress возвращает true, если сверка выполняется.
	IsInProgress() bool
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner) *MaintenanceHandler {
	return &MaintenanceHandler{reconciler: reconciler}
}

// Reconcile обрабатывает POST /api/v1/maintenance/reconcile.
// Запускает синхронный цикл сверки и возвращает отчёт.
// Если сверка уже выполняется — 409.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, inProgress := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(report)
}
