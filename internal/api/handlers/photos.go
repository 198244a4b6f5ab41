// photos.go — HTTP handlers операций с фотографиями.
// Upload, список галереи, метаданные, payload, удаление.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/gophotostore/internal/api/errors"
	"github.com/bigkaa/gophotostore/internal/service"
)

// PhotosHandler — обработчик endpoints фотографий.
type PhotosHandler struct {
	uploadSvc   *service.UploadService
	downloadSvc *service.DownloadService
	deleteSvc   *service.DeleteService
	gallerySvc  *service.GalleryService
	maxFileSize int64
}

// NewPhotosHandler создаёт обработчик endpoints фотографий.
func NewPhotosHandler(
	uploadSvc *service.UploadService,
	downloadSvc *service.DownloadService,
	deleteSvc *service.DeleteService,
	gallerySvc *service.GalleryService,
	maxFileSize int64,
) *PhotosHandler {
	return &PhotosHandler{
		uploadSvc:   uploadSvc,
		downloadSvc: downloadSvc,
		deleteSvc:   deleteSvc,
		gallerySvc:  gallerySvc,
		maxFileSize: maxFileSize,
	}
}

// Upload обрабатывает POST /api/v1/photos.
// Multipart form: file (обязательно), album и description (опционально).
func (h *PhotosHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Ранний отказ по Content-Length: не читаем заведомо большой запрос
	if r.ContentLength > h.maxFileSize+(1<<20) {
		errors.FileTooLarge(w, fmt.Sprintf("Размер запроса превышает максимум %d байт", h.maxFileSize))
		return
	}

	// Multipart читается потоково: в память попадают только поля формы
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	result, uploadErr := h.uploadSvc.Upload(r.Context(), service.UploadParams{
		Reader:           file,
		OriginalFilename: header.Filename,
		ContentType:      contentType,
		Album:            r.FormValue("album"),
		Description:      r.FormValue("description"),
	})
	if uploadErr != nil {
		errors.WriteError(w, uploadErr.StatusCode, uploadErr.Code, uploadErr.Message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(result.Record)
}

// List обрабатывает GET /api/v1/photos.
// Пагинация: page (с 1), page_size.
func (h *PhotosHandler) List(w http.ResponseWriter, r *http.Request) {
	page := 1
	pageSize := service.DefaultPageSize

	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errors.ValidationError(w, "Параметр 'page' должен быть целым числом >= 1")
			return
		}
		page = n
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > service.MaxPageSize {
			errors.ValidationError(w, fmt.Sprintf("Параметр 'page_size' должен быть в диапазоне 1..%d", service.MaxPageSize))
			return
		}
		pageSize = n
	}

	result, galleryErr := h.gallerySvc.List(r.Context(), page, pageSize)
	if galleryErr != nil {
		errors.WriteError(w, galleryErr.StatusCode, galleryErr.Code, galleryErr.Message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// Get обрабатывает GET /api/v1/photos/{key}.
// Возвращает метаданные одной фотографии.
func (h *PhotosHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	item, galleryErr := h.gallerySvc.Get(r.Context(), key)
	if galleryErr != nil {
		errors.WriteError(w, galleryErr.StatusCode, galleryErr.Code, galleryErr.Message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(item)
}

// Image обрабатывает GET /api/v1/photos/{key}/image.
// Отдаёт payload фотографии. Поддерживает Range requests (206)
// и ETag (If-None-Match → 304).
func (h *PhotosHandler) Image(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if downloadErr := h.downloadSvc.Serve(w, r, key); downloadErr != nil {
		errors.WriteError(w, downloadErr.StatusCode, downloadErr.Code, downloadErr.Message)
	}
}

// Delete обрабатывает DELETE /api/v1/photos/{key}.
// Возвращает 204 при успехе, 404 для несуществующего ключа.
func (h *PhotosHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if deleteErr := h.deleteSvc.Delete(r.Context(), key); deleteErr != nil {
		errors.WriteError(w, deleteErr.StatusCode, deleteErr.Code, deleteErr.Message)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
