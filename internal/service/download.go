// download.go — сервис отдачи payload фотографий.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/gophotostore/internal/api/errors"
	"github.com/bigkaa/gophotostore/internal/api/middleware"
	"github.com/bigkaa/gophotostore/internal/storage/blob"
)

// DownloadService — сервис отдачи payload фотографий.
type DownloadService struct {
	backend blob.Backend
	idx     PhotoIndex
	logger  *slog.Logger
}

// NewDownloadService создаёт сервис отдачи фотографий.
func NewDownloadService(backend blob.Backend, idx PhotoIndex, logger *slog.Logger) *DownloadService {
	return &DownloadService{
		backend: backend,
		idx:     idx,
		logger:  logger.With(slog.String("component", "download_service")),
	}
}

// DownloadError — ошибка отдачи с HTTP-кодом.
type DownloadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Serve отдаёт payload фотографии клиенту.
// Если бэкенд возвращает io.ReadSeeker (локальный файл или S3-объект),
// используется http.ServeContent: Range requests (206 Partial Content),
// If-None-Match (304 через ETag). Иначе — прямое копирование потока.
func (s *DownloadService) Serve(w http.ResponseWriter, r *http.Request, storageKey string) *DownloadError {
	if !blob.ValidKey(storageKey) {
		return &DownloadError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Некорректный ключ фотографии",
		}
	}

	// 1. Метаданные из индекса
	rec := s.idx.Get(storageKey)
	if rec == nil {
		return &DownloadError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Фотография %s не найдена", storageKey),
		}
	}

	// 2. Открываем payload
	rc, err := s.backend.Get(r.Context(), storageKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			// Метаданные есть, payload пропал: сообщаем явно,
			// сверка пометит расхождение
			s.logger.Error("Payload отсутствует при существующих метаданных",
				slog.String("storage_key", storageKey),
			)
			return &DownloadError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Файл фотографии %s более недоступен", storageKey),
			}
		}
		s.logger.Error("Ошибка чтения payload",
			slog.String("storage_key", storageKey),
			slog.String("error", err.Error()),
		)
		return &DownloadError{
			StatusCode: 503,
			Code:       apierrors.CodeStorageUnavailable,
			Message:    "Хранилище недоступно",
		}
	}
	defer rc.Close()

	// 3. Заголовки
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", rec.OriginalFilename))
	w.Header().Set("ETag", fmt.Sprintf("%q", rec.Checksum))

	// 4. Отдача. http.ServeContent автоматически обрабатывает:
	//    - Range requests (206 Partial Content)
	//    - If-None-Match (304 Not Modified через ETag)
	//    - Content-Length
	if seeker, ok := rc.(io.ReadSeeker); ok {
		w.Header().Set("Accept-Ranges", "bytes")
		http.ServeContent(w, r, rec.OriginalFilename, rec.CreatedAt, seeker)
	} else {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", rec.SizeBytes))
		if _, err := io.Copy(w, rc); err != nil {
			// Заголовки уже отправлены, остаётся залогировать
			s.logger.Error("Ошибка передачи payload клиенту",
				slog.String("storage_key", storageKey),
				slog.String("error", err.Error()),
			)
		}
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()

	s.logger.Debug("Фотография отдана",
		slog.String("storage_key", storageKey),
		slog.String("filename", rec.OriginalFilename),
		slog.Int64("size", rec.SizeBytes),
	)

	return nil
}
