// janitor.go — сервис фоновой очистки осиротевших объектов.
//
// Janitor выполняет три задачи:
//  1. Удаляет payload без sidecar-документа метаданных (обрыв загрузки
//     между записью payload и записью метаданных)
//  2. Удаляет sidecar-документы без payload (обрыв удаления)
//  3. Чистит завершённые записи журнала намерений
//
// Ключи с pending-транзакциями в журнале пропускаются: это идущие
// прямо сейчас загрузки, а не сироты.
//
// Запускается как горутина с периодическим тикером (PS_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gophotostore/internal/domain/model"
	"github.com/bigkaa/gophotostore/internal/storage/blob"
	"github.com/bigkaa/gophotostore/internal/storage/journal"
)

// Prometheus метрики janitor
var (
	// janitorRunsTotal — количество запусков janitor.
	janitorRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ps_janitor_runs_total",
		Help: "Общее количество запусков janitor",
	})

	// janitorRemovedTotal — количество удалённых объектов по типу.
	janitorRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ps_janitor_removed_total",
		Help: "Общее количество осиротевших объектов, удалённых janitor-ом",
	}, []string{"kind"})

	// janitorDurationSeconds — длительность выполнения janitor.
	janitorDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ps_janitor_duration_seconds",
		Help:    "Длительность выполнения janitor в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// JanitorResult — результат одного запуска janitor.
type JanitorResult struct {
	// OrphanPayloads — количество удалённых payload без метаданных
	OrphanPayloads int
	// OrphanMetadata — количество удалённых sidecar-документов без payload
	OrphanMetadata int
	// JournalCleaned — количество удалённых завершённых записей журнала
	JournalCleaned int
	// Errors — количество ошибок при обработке объектов
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// JanitorService — сервис фоновой очистки осиротевших объектов.
type JanitorService struct {
	backend  blob.Backend
	meta     MetadataStore
	idx      PhotoIndex
	jrn      *journal.Journal
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewJanitorService создаёт сервис janitor.
func NewJanitorService(
	backend blob.Backend,
	meta MetadataStore,
	idx PhotoIndex,
	jrn *journal.Journal,
	interval time.Duration,
	logger *slog.Logger,
) *JanitorService {
	return &JanitorService{
		backend:  backend,
		meta:     meta,
		idx:      idx,
		jrn:      jrn,
		interval: interval,
		logger:   logger.With(slog.String("component", "janitor")),
	}
}

// Start запускает фоновую горутину janitor с периодическим тикером.
// Вызывается один раз при старте приложения.
func (j *JanitorService) Start(ctx context.Context) {
	jCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	go j.run(jCtx)

	j.logger.Info("Janitor запущен",
		slog.String("interval", j.interval.String()),
	)
}

// Stop останавливает фоновый процесс janitor.
func (j *JanitorService) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.logger.Info("Janitor остановлен")
}

// run — основной цикл фоновой горутины.
func (j *JanitorService) run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход очистки. Потокобезопасен:
// параллельные вызовы сериализуются мьютексом.
func (j *JanitorService) RunOnce(ctx context.Context) JanitorResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	janitorRunsTotal.Inc()

	var result JanitorResult

	// Ключи с незавершёнными транзакциями трогать нельзя
	pending, err := j.jrn.PendingKeys()
	if err != nil {
		j.logger.Error("Не удалось прочитать pending-транзакции, проход пропущен",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}

	keys, err := j.backend.ListKeys(ctx)
	if err != nil {
		j.logger.Error("Не удалось получить листинг хранилища, проход пропущен",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}

	// Множество всех ключей для быстрой проверки пар payload/sidecar
	keySet := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		keySet[key] = struct{}{}
	}

	for _, key := range keys {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(start)
			return result
		default:
		}

		if model.IsMetaKey(key) {
			payloadKey := model.PayloadKey(key)
			if _, inFlight := pending[payloadKey]; inFlight {
				continue
			}
			// Sidecar без payload — сирота
			if _, ok := keySet[payloadKey]; !ok {
				if err := j.backend.Delete(ctx, key); err != nil {
					j.logger.Error("Не удалось удалить осиротевший документ метаданных",
						slog.String("key", key),
						slog.String("error", err.Error()),
					)
					result.Errors++
					continue
				}
				j.idx.Remove(payloadKey)
				result.OrphanMetadata++
				janitorRemovedTotal.WithLabelValues("metadata").Inc()
				j.logger.Info("Удалён осиротевший документ метаданных",
					slog.String("key", key),
				)
			}
			continue
		}

		if _, inFlight := pending[key]; inFlight {
			continue
		}
		// Payload без sidecar — сирота
		if _, ok := keySet[model.MetaKey(key)]; !ok {
			if err := j.backend.Delete(ctx, key); err != nil {
				j.logger.Error("Не удалось удалить осиротевший payload",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				result.Errors++
				continue
			}
			result.OrphanPayloads++
			janitorRemovedTotal.WithLabelValues("payload").Inc()
			j.logger.Info("Удалён осиротевший payload",
				slog.String("key", key),
			)
		}
	}

	// Чистим завершённые записи журнала
	cleaned, err := j.jrn.CleanCompleted()
	if err != nil {
		j.logger.Error("Ошибка очистки журнала",
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
	result.JournalCleaned = cleaned

	result.Duration = time.Since(start)
	janitorDurationSeconds.Observe(result.Duration.Seconds())

	if result.OrphanPayloads > 0 || result.OrphanMetadata > 0 || result.Errors > 0 {
		j.logger.Info("Janitor завершил проход",
			slog.Int("orphan_payloads", result.OrphanPayloads),
			slog.Int("orphan_metadata", result.OrphanMetadata),
			slog.Int("journal_cleaned", result.JournalCleaned),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}

	return result
}
