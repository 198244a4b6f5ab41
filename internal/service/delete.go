// delete.go — сервис удаления фотографий.
// Порядок удаления фиксирован: сначала sidecar-документ метаданных,
// затем payload. После удаления метаданных фотография исчезает из
// галереи, даже если payload ещё не удалён — осиротевший payload
// дочистит recovery при следующем старте.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apierrors "github.com/bigkaa/gophotostore/internal/api/errors"
	"github.com/bigkaa/gophotostore/internal/api/middleware"
	"github.com/bigkaa/gophotostore/internal/storage/blob"
	"github.com/bigkaa/gophotostore/internal/storage/journal"
	"github.com/bigkaa/gophotostore/internal/storage/metastore"
)

// DeleteError — ошибка удаления с HTTP-кодом.
type DeleteError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DeleteError) Unwrap() error {
	return e.Err
}

// DeleteService — сервис удаления фотографий.
type DeleteService struct {
	backend blob.Backend
	meta    MetadataStore
	idx     PhotoIndex
	jrn     *journal.Journal
	logger  *slog.Logger
}

// NewDeleteService создаёт сервис удаления.
func NewDeleteService(
	backend blob.Backend,
	meta MetadataStore,
	idx PhotoIndex,
	jrn *journal.Journal,
	logger *slog.Logger,
) *DeleteService {
	return &DeleteService{
		backend: backend,
		meta:    meta,
		idx:     idx,
		jrn:     jrn,
		logger:  logger.With(slog.String("component", "delete_service")),
	}
}

// Delete удаляет фотографию: метаданные → payload → индекс.
//
// Повторное удаление того же ключа возвращает NOT_FOUND: для API
// удаление не идемпотентно, хотя операции хранилища идемпотентны.
// Частичное удаление (метаданные удалены, payload остался) не
// скрывается: журнал остаётся pending, janitor такие ключи пропускает,
// payload дочистит восстановление при следующем старте.
func (s *DeleteService) Delete(ctx context.Context, storageKey string) *DeleteError {
	if !blob.ValidKey(storageKey) {
		return &DeleteError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Некорректный ключ фотографии",
		}
	}

	// Фотография существует, пока существуют её метаданные
	rec, err := s.meta.Load(ctx, storageKey)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return &DeleteError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Фотография %s не найдена", storageKey),
				Err:        err,
			}
		}
		if errors.Is(err, metastore.ErrCorrupt) {
			// Битые метаданные не блокируют удаление payload
			s.logger.Warn("Удаление фотографии с повреждёнными метаданными",
				slog.String("storage_key", storageKey),
			)
			rec = nil
		} else {
			s.logger.Error("Ошибка чтения метаданных при удалении",
				slog.String("storage_key", storageKey),
				slog.String("error", err.Error()),
			)
			return &DeleteError{
				StatusCode: 500,
				Code:       apierrors.CodeInternalError,
				Message:    "Ошибка чтения метаданных",
				Err:        err,
			}
		}
	}

	jrnEntry, err := s.jrn.Start(journal.OpPhotoDelete, storageKey)
	if err != nil {
		s.logger.Error("Ошибка создания записи журнала", slog.String("error", err.Error()))
		return &DeleteError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при создании транзакции",
			Err:        err,
		}
	}

	// 1. Метаданные: после этого фотография исчезает из галереи
	if err := s.meta.Delete(ctx, storageKey); err != nil {
		if rbErr := s.jrn.Rollback(jrnEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката журнала", slog.String("error", rbErr.Error()))
		}
		s.logger.Error("Ошибка удаления метаданных",
			slog.String("storage_key", storageKey),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("delete", "error").Inc()
		return &DeleteError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка удаления метаданных",
			Err:        err,
		}
	}

	// Индекс обновляем сразу после удаления метаданных
	s.idx.Remove(storageKey)

	// 2. Payload
	if err := s.backend.Delete(ctx, storageKey); err != nil {
		// Частичное удаление: метаданных уже нет, payload остался.
		// Журнал остаётся pending; janitor pending-ключи не трогает,
		// осиротевший payload дочистит recovery при следующем старте.
		s.logger.Error("Payload не удалён, осиротевший объект будет дочищен при рестарте",
			slog.String("storage_key", storageKey),
			slog.String("tx_id", jrnEntry.TransactionID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("delete", "partial").Inc()
		return &DeleteError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Фотография удалена из галереи, но файл не удалён из хранилища",
			Err:        err,
		}
	}

	if err := s.jrn.Commit(jrnEntry.TransactionID); err != nil {
		s.logger.Error("Ошибка коммита журнала (данные удалены)",
			slog.String("tx_id", jrnEntry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()
	middleware.PhotosTotal.Set(float64(s.idx.Count()))
	if rec != nil {
		middleware.StorageBytes.Sub(float64(rec.SizeBytes))
	}

	s.logger.Info("Фотография удалена",
		slog.String("storage_key", storageKey),
	)

	return nil
}
