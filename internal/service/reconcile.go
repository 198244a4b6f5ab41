// reconcile.go — сервис фоновой сверки хранилища.
//
// Reconciliation сравнивает:
//   - payload в хранилище с sidecar-документами метаданных
//   - sidecar-документы с payload
//   - размеры payload с заявленными в метаданных
//   - содержимое индекса с sidecar-документами
//
// Обнаруживает проблемы:
//   - orphan_payload: payload без документа метаданных
//   - missing_payload: документ метаданных без payload
//   - size_mismatch: размер payload не совпадает с метаданными
//   - corrupt_metadata: документ метаданных не парсится
//
// Сверка только констатирует расхождения: физическую очистку
// выполняет janitor. После сверки индекс пересобирается из хранилища.
//
// Запускается как горутина с периодическим тикером (PS_RECONCILE_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gophotostore/internal/domain/model"
	"github.com/bigkaa/gophotostore/internal/storage/blob"
	"github.com/bigkaa/gophotostore/internal/storage/index"
	"github.com/bigkaa/gophotostore/internal/storage/metastore"
)

// Типы проблем, обнаруживаемых сверкой.
const (
	IssueOrphanPayload   = "orphan_payload"
	IssueMissingPayload  = "missing_payload"
	IssueSizeMismatch    = "size_mismatch"
	IssueCorruptMetadata = "corrupt_metadata"
)

// Prometheus метрики reconciliation
var (
	// reconcileRunsTotal — количество запусков reconciliation.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ps_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных reconciliation",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения reconciliation.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ps_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ReconcileIssue — одно расхождение, найденное сверкой.
type ReconcileIssue struct {
	Type       string `json:"type"`
	StorageKey string `json:"storage_key"`
	Detail     string `json:"detail,omitempty"`
}

// ReconcileReport — результат одного запуска сверки.
type ReconcileReport struct {
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at"`
	PhotosChecked int              `json:"photos_checked"`
	Issues        []ReconcileIssue `json:"issues"`
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	backend  blob.Backend
	meta     MetadataStore
	idx      *index.Index
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // сверка в процессе выполнения
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис reconciliation.
func NewReconcileService(
	backend blob.Backend,
	meta MetadataStore,
	idx *index.Index,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		backend:  backend,
		meta:     meta,
		idx:      idx,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину reconciliation с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Reconciliation запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновый процесс reconciliation.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Reconciliation остановлена")
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
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Потокобезопасен: если сверка уже выполняется, возвращает nil, true.
//
// Возвращает:
//   - *ReconcileReport — результат сверки
//   - bool — true если сверка уже выполнялась (skipped)
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Reconciliation уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := time.Now().UTC()
	rs.logger.Info("Reconciliation начата")

	issues, checked := rs.reconcile(ctx)

	// Пересобираем индекс из хранилища
	if err := rs.idx.BuildFromStore(ctx, rs.meta); err != nil {
		rs.logger.Error("Ошибка пересборки индекса",
			slog.String("error", err.Error()),
		)
	}

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range issues {
		reconcileIssuesTotal.WithLabelValues(issue.Type).Inc()
	}

	rs.logger.Info("Reconciliation завершена",
		slog.Int("photos_checked", checked),
		slog.Int("issues", len(issues)),
		slog.Duration("duration", duration),
	)

	return &ReconcileReport{
		StartedAt:     startedAt,
		CompletedAt:   completedAt,
		PhotosChecked: checked,
		Issues:        issues,
	}, false
}

// reconcile выполняет сверку хранилища.
// Возвращает найденные расхождения и количество проверенных фотографий.
func (rs *ReconcileService) reconcile(ctx context.Context) ([]ReconcileIssue, int) {
	var issues []ReconcileIssue

	keys, err := rs.backend.ListKeys(ctx)
	if err != nil {
		rs.logger.Error("Ошибка листинга хранилища",
			slog.String("error", err.Error()),
		)
		return issues, 0
	}

	payloads := make(map[string]bool)
	metaDocs := make(map[string]bool)
	for _, key := range keys {
		if model.IsMetaKey(key) {
			metaDocs[model.PayloadKey(key)] = true
		} else {
			payloads[key] = true
		}
	}

	// 1. Payload без документа метаданных (orphan_payload)
	for key := range payloads {
		if !metaDocs[key] {
			issues = append(issues, ReconcileIssue{
				Type:       IssueOrphanPayload,
				StorageKey: key,
			})
			rs.logger.Warn("Payload без метаданных",
				slog.String("storage_key", key),
			)
		}
	}

	checked := 0
	for key := range metaDocs {
		select {
		case <-ctx.Done():
			return issues, checked
		default:
		}
		checked++

		// 2. Документ метаданных без payload (missing_payload)
		if !payloads[key] {
			issues = append(issues, ReconcileIssue{
				Type:       IssueMissingPayload,
				StorageKey: key,
			})
			rs.logger.Warn("Метаданные без payload",
				slog.String("storage_key", key),
			)
			continue
		}

		// 3. Читаем документ и сверяем размер payload
		rec, err := rs.meta.Load(ctx, key)
		if err != nil {
			if errors.Is(err, metastore.ErrCorrupt) {
				issues = append(issues, ReconcileIssue{
					Type:       IssueCorruptMetadata,
					StorageKey: key,
					Detail:     err.Error(),
				})
				rs.logger.Warn("Повреждённый документ метаданных",
					slog.String("storage_key", key),
				)
			}
			continue
		}

		size, err := backendSize(ctx, rs.backend, key)
		if err != nil {
			continue
		}
		if size != rec.SizeBytes {
			issues = append(issues, ReconcileIssue{
				Type:       IssueSizeMismatch,
				StorageKey: key,
				Detail:     "размер payload не совпадает с метаданными",
			})
			rs.logger.Warn("Расхождение размера payload",
				slog.String("storage_key", key),
				slog.Int64("meta_size", rec.SizeBytes),
				slog.Int64("actual_size", size),
			)
		}
	}

	return issues, checked
}

// sizer — опциональная возможность бэкенда отдавать размер объекта.
type sizer interface {
	Size(ctx context.Context, key string) (int64, error)
}

// backendSize возвращает размер payload, если бэкенд это умеет.
func backendSize(ctx context.Context, backend blob.Backend, key string) (int64, error) {
	s, ok := backend.(sizer)
	if !ok {
		return 0, errors.New("бэкенд не отдаёт размер объекта")
	}
	return s.Size(ctx, key)
}
