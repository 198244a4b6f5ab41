// gallery.go — сборка галереи: пагинированный список фотографий
// из индекса с проверкой доступности payload.
package service

import (
	"context"
	"fmt"
	"log/slog"

	apierrors "github.com/bigkaa/gophotostore/internal/api/errors"
	"github.com/bigkaa/gophotostore/internal/domain/model"
	"github.com/bigkaa/gophotostore/internal/storage/blob"
)

// Пагинация галереи по умолчанию.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// GalleryItem — элемент галереи: метаданные фотографии плюс
// вычисляемые поля доступности и ссылки на payload.
type GalleryItem struct {
	model.PhotoRecord

	// Available — payload существует в хранилище.
	// Фотография с метаданными, но без payload остаётся в списке
	// с available=false, а не исчезает молча.
	Available bool `json:"available"`

	// FetchRef — ссылка для получения payload через API.
	FetchRef string `json:"fetch_ref"`
}

// GalleryPage — страница галереи.
type GalleryPage struct {
	Items    []GalleryItem `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Total    int           `json:"total"`
}

// GalleryError — ошибка сборки галереи с HTTP-кодом.
type GalleryError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GalleryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// GalleryService — сервис сборки галереи.
type GalleryService struct {
	backend blob.Backend
	idx     PhotoIndex
	logger  *slog.Logger
}

// NewGalleryService создаёт сервис галереи.
func NewGalleryService(backend blob.Backend, idx PhotoIndex, logger *slog.Logger) *GalleryService {
	return &GalleryService{
		backend: backend,
		idx:     idx,
		logger:  logger.With(slog.String("component", "gallery_service")),
	}
}

// List возвращает страницу галереи: новые фотографии первыми.
// page считается с 1; pageSize ограничен MaxPageSize.
// Payload не читается: доступность определяется через Exists.
func (s *GalleryService) List(ctx context.Context, page, pageSize int) (*GalleryPage, *GalleryError) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	records, total := s.idx.List(pageSize, (page-1)*pageSize)

	items := make([]GalleryItem, 0, len(records))
	for _, rec := range records {
		available, err := s.backend.Exists(ctx, rec.StorageKey)
		if err != nil {
			// Недоступность бэкенда не ломает галерею целиком
			s.logger.Warn("Не удалось проверить доступность payload",
				slog.String("storage_key", rec.StorageKey),
				slog.String("error", err.Error()),
			)
			available = false
		}
		if !available {
			s.logger.Warn("Фотография без payload в галерее",
				slog.String("storage_key", rec.StorageKey),
			)
		}

		items = append(items, GalleryItem{
			PhotoRecord: *rec,
			Available:   available,
			FetchRef:    fmt.Sprintf("/api/v1/photos/%s/image", rec.StorageKey),
		})
	}

	return &GalleryPage{
		Items:    items,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}

// Get возвращает один элемент галереи по ключу.
func (s *GalleryService) Get(ctx context.Context, storageKey string) (*GalleryItem, *GalleryError) {
	if !blob.ValidKey(storageKey) {
		return nil, &GalleryError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Некорректный ключ фотографии",
		}
	}

	rec := s.idx.Get(storageKey)
	if rec == nil {
		return nil, &GalleryError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Фотография %s не найдена", storageKey),
		}
	}

	available, err := s.backend.Exists(ctx, storageKey)
	if err != nil {
		s.logger.Warn("Не удалось проверить доступность payload",
			slog.String("storage_key", storageKey),
			slog.String("error", err.Error()),
		)
		available = false
	}

	return &GalleryItem{
		PhotoRecord: *rec,
		Available:   available,
		FetchRef:    fmt.Sprintf("/api/v1/photos/%s/image", storageKey),
	}, nil
}
