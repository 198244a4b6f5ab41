// Точка входа Photo Store — сервиса загрузки и хранения фотографий.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bigkaa/gophotostore/internal/api/handlers"
	"github.com/bigkaa/gophotostore/internal/api/middleware"
	"github.com/bigkaa/gophotostore/internal/config"
	"github.com/bigkaa/gophotostore/internal/server"
	"github.com/bigkaa/gophotostore/internal/service"
	"github.com/bigkaa/gophotostore/internal/storage/blob"
	"github.com/bigkaa/gophotostore/internal/storage/index"
	"github.com/bigkaa/gophotostore/internal/storage/journal"
	"github.com/bigkaa/gophotostore/internal/storage/metastore"
	"github.com/bigkaa/gophotostore/internal/validate"
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
	logger.Info("Photo Store запускается",
		slog.String("instance_id", cfg.InstanceID),
		slog.String("version", config.Version),
		slog.String("backend", cfg.Backend),
		slog.Int("port", cfg.Port),
	)

	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. Журнал намерений
	jrn, err := journal.New(cfg.JournalDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации журнала", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Бэкенд хранения
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		logger.Error("Ошибка инициализации бэкенда хранения",
			slog.String("backend", cfg.Backend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Бэкенд хранения инициализирован", slog.String("backend", cfg.Backend))

	// 3. Хранилище метаданных (sidecar-документы через тот же бэкенд)
	meta := metastore.New(backend, logger)

	// 4. Восстановление незавершённых транзакций до приёма трафика
	recoverySvc := service.NewRecoveryService(backend, meta, jrn, logger)
	committed, rolledBack, err := recoverySvc.Run(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления журнала", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if committed > 0 || rolledBack > 0 {
		logger.Warn("Обнаружены незавершённые транзакции",
			slog.Int("committed", committed),
			slog.Int("rolled_back", rolledBack),
		)
	}

	// 5. In-memory индекс метаданных
	idx := index.New(logger)
	if err := idx.BuildFromStore(ctx, meta); err != nil {
		logger.Error("Ошибка построения индекса", slog.String("error", err.Error()))
		os.Exit(1)
	}
	updatePhotoMetrics(idx)

	// 6. Сервисы
	validator := validate.New(cfg.MaxFileSize, cfg.AllowedTypes)
	uploadSvc := service.NewUploadService(validator, backend, meta, idx, jrn, cfg.SpoolDir, logger)
	deleteSvc := service.NewDeleteService(backend, meta, idx, jrn, logger)
	downloadSvc := service.NewDownloadService(backend, idx, logger)
	gallerySvc := service.NewGalleryService(backend, idx, logger)

	// 7. Фоновые процессы

	// 7.1 Janitor — очистка осиротевших файлов
	janitorSvc := service.NewJanitorService(backend, meta, idx, jrn, cfg.JanitorInterval, logger)
	janitorSvc.Start(ctx)

	// 7.2 Reconciliation — сверка индекса с хранилищем
	reconcileSvc := service.NewReconcileService(backend, meta, idx, cfg.ReconcileInterval, logger)
	reconcileSvc.Start(ctx)

	// 7.3 topologymetrics — мониторинг S3 endpoint (только s3 backend)
	var dephealthSvc *service.DephealthService
	if cfg.Backend == config.BackendS3 {
		depURL := s3HealthURL(cfg)
		var dhErr error
		dephealthSvc, dhErr = service.NewDephealthService(
			cfg.InstanceID,
			cfg.DephealthGroup,
			cfg.DephealthDepName,
			depURL,
			cfg.DephealthCheckInterval,
			cfg.DephealthTLSSkipVerify,
			logger,
		)
		if dhErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dhErr.Error()),
			)
			dephealthSvc = nil
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
			dephealthSvc = nil
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("dep_url", depURL),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 8. Handlers
	h := server.Handlers{
		Photos:      handlers.NewPhotosHandler(uploadSvc, downloadSvc, deleteSvc, gallerySvc, cfg.MaxFileSize),
		Health:      handlers.NewHealthHandler(cfg.DataDir, cfg.JournalDir, idx),
		Maintenance: handlers.NewMaintenanceHandler(reconcileSvc),
	}

	// 9. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h)

	if err := srv.Run(func() {
		logger.Info("Остановка фоновых процессов...")
		janitorSvc.Stop()
		reconcileSvc.Stop()
		if dephealthSvc != nil {
			dephealthSvc.Stop()
		}
	}); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Photo Store остановлен")
}

// newBackend создаёт бэкенд хранения согласно конфигурации.
func newBackend(ctx context.Context, cfg *config.Config) (blob.Backend, error) {
	switch cfg.Backend {
	case config.BackendS3:
		var creds *credentials.Credentials
		if cfg.S3Auth == config.S3AuthIAM {
			creds = credentials.NewIAM("")
		} else {
			creds = credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, "")
		}
		return blob.NewS3(ctx, blob.S3Options{
			Endpoint:   cfg.S3Endpoint,
			Bucket:     cfg.S3Bucket,
			UseSSL:     cfg.S3UseSSL,
			PublicBase: cfg.S3PublicBase,
			Creds:      creds,
		})
	default:
		return blob.NewLocal(cfg.DataDir)
	}
}

// s3HealthURL строит URL S3 endpoint для проверки topologymetrics.
func s3HealthURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.S3UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/minio/health/live", scheme, cfg.S3Endpoint)
}

// updatePhotoMetrics заполняет Prometheus метрики из индекса при старте.
func updatePhotoMetrics(idx *index.Index) {
	records, total := idx.List(0, 0)
	var bytes int64
	for _, rec := range records {
		bytes += rec.SizeBytes
	}
	middleware.PhotosTotal.Set(float64(total))
	middleware.StorageBytes.Set(float64(bytes))
}
