// Пакет service — бизнес-логика Photo Store.
// upload.go — оркестратор загрузки фотографий: валидация → генерация
// ключа → запись payload → запись метаданных → индекс. Каждый шаг
// отражается в журнале намерений; при ошибке выполняется компенсация
// уже применённых шагов в обратном порядке.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	apierrors "github.com/bigkaa/gophotostore/internal/api/errors"
	"github.com/bigkaa/gophotostore/internal/api/middleware"
	"github.com/bigkaa/gophotostore/internal/domain/model"
	"github.com/bigkaa/gophotostore/internal/domain/stage"
	"github.com/bigkaa/gophotostore/internal/naming"
	"github.com/bigkaa/gophotostore/internal/storage/blob"
	"github.com/bigkaa/gophotostore/internal/storage/journal"
	"github.com/bigkaa/gophotostore/internal/validate"
)

// MetadataStore — хранилище sidecar-документов метаданных.
// Реализуется metastore.Store; интерфейс нужен для подмены в тестах.
type MetadataStore interface {
	Save(ctx context.Context, rec *model.PhotoRecord) error
	Load(ctx context.Context, storageKey string) (*model.PhotoRecord, error)
	Exists(ctx context.Context, storageKey string) (bool, error)
	Delete(ctx context.Context, storageKey string) error
	List(ctx context.Context) ([]*model.PhotoRecord, error)
}

// PhotoIndex — in-memory индекс метаданных.
// Реализуется index.Index.
type PhotoIndex interface {
	Add(rec *model.PhotoRecord)
	Remove(storageKey string) bool
	Get(storageKey string) *model.PhotoRecord
	List(limit, offset int) ([]*model.PhotoRecord, int)
	Count() int
	IsReady() bool
}

// UploadParams — параметры загрузки фотографии.
type UploadParams struct {
	// Reader — поток данных файла (multipart part)
	Reader io.Reader
	// OriginalFilename — оригинальное имя файла (пользовательский ввод)
	OriginalFilename string
	// ContentType — заявленный MIME-тип
	ContentType string
	// Album — альбом (опционально)
	Album string
	// Description — описание (опционально)
	Description string
}

// UploadResult — результат загрузки фотографии.
type UploadResult struct {
	Record *model.PhotoRecord
}

// UploadError — ошибка загрузки: стадия, на которой произошёл сбой,
// HTTP-код и машиночитаемый код для ответа API.
type UploadError struct {
	Stage      stage.Stage
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s (стадия %s): %s", e.Code, e.Stage, e.Message)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// UploadService — оркестратор загрузки фотографий.
type UploadService struct {
	validator *validate.Validator
	backend   blob.Backend
	meta      MetadataStore
	idx       PhotoIndex
	jrn       *journal.Journal
	spoolDir  string
	logger    *slog.Logger
	// now подменяется в тестах для детерминированных ключей
	now func() time.Time
}

// NewUploadService создаёт оркестратор загрузки.
func NewUploadService(
	validator *validate.Validator,
	backend blob.Backend,
	meta MetadataStore,
	idx PhotoIndex,
	jrn *journal.Journal,
	spoolDir string,
	logger *slog.Logger,
) *UploadService {
	if spoolDir == "" {
		spoolDir = os.TempDir()
	}
	return &UploadService{
		validator: validator,
		backend:   backend,
		meta:      meta,
		idx:       idx,
		jrn:       jrn,
		spoolDir:  spoolDir,
		logger:    logger.With(slog.String("component", "upload_service")),
		now:       time.Now,
	}
}

// Upload загружает фотографию в хранилище.
//
// Поток:
//  1. Spool во временный файл + SHA-256 (размер становится известен точно)
//  2. Валидация: пустой файл → размер → MIME-тип → расширение → magic bytes
//  3. Генерация уникального storage_key
//  4. Journal Start (pending)
//  5. backend.Put payload
//  6. metastore.Save sidecar-документ
//  7. index.Add
//  8. Journal Commit
//
// При ошибке после шага 5 — компенсация в обратном порядке:
// удаление sidecar-документа, удаление payload, Journal Rollback.
// До шага 5 хранилище не изменяется.
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadResult, *UploadError) {
	tracker := stage.NewTracker()

	// 1. Spool: считаем размер и checksum до любых операций с хранилищем
	spool, size, checksum, err := s.spoolPayload(params.Reader)
	if err != nil {
		return nil, s.fail(tracker, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка приёма файла",
			Err:        err,
		})
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	// 2. Валидация (без побочных эффектов)
	if err := s.validator.Check(params.ContentType, params.OriginalFilename, size); err != nil {
		return nil, s.fail(tracker, validationError(err))
	}
	head := make([]byte, 512)
	n, _ := spool.ReadAt(head, 0)
	if err := s.validator.CheckHead(head[:n]); err != nil {
		return nil, s.fail(tracker, validationError(err))
	}
	if err := tracker.Advance(stage.StageValidated); err != nil {
		return nil, s.internalErr(tracker, err)
	}

	// Дальше тип используется только в канонической форме: без параметров
	// (charset и т.д.) и в нижнем регистре, как его сравнивала валидация.
	contentType := validate.NormalizeContentType(params.ContentType)

	// 3. Генерация уникального ключа
	storageKey, err := naming.DeriveKey(params.OriginalFilename, s.now().UTC(), func(key string) (bool, error) {
		return s.backend.Exists(ctx, key)
	})
	if err != nil {
		if errors.Is(err, naming.ErrExhausted) {
			return nil, s.fail(tracker, &UploadError{
				StatusCode: 503,
				Code:       apierrors.CodeStorageUnavailable,
				Message:    "Не удалось сгенерировать уникальный ключ",
				Err:        err,
			})
		}
		return nil, s.internalErr(tracker, err)
	}
	if err := tracker.Advance(stage.StageKeyAssigned); err != nil {
		return nil, s.internalErr(tracker, err)
	}

	// 4. Журнал намерений: запись до изменения хранилища
	jrnEntry, err := s.jrn.Start(journal.OpPhotoCreate, storageKey)
	if err != nil {
		s.logger.Error("Ошибка создания записи журнала", slog.String("error", err.Error()))
		return nil, s.fail(tracker, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при создании транзакции",
			Err:        err,
		})
	}

	// Компенсация: откат уже применённых шагов в обратном порядке
	payloadStored := false
	metadataStored := false
	compensate := func() {
		if metadataStored {
			if delErr := s.meta.Delete(ctx, storageKey); delErr != nil {
				s.logger.Error("Компенсация: не удалось удалить метаданные",
					slog.String("storage_key", storageKey),
					slog.String("error", delErr.Error()),
				)
			}
		}
		if payloadStored {
			if delErr := s.backend.Delete(ctx, storageKey); delErr != nil {
				s.logger.Error("Компенсация: не удалось удалить payload",
					slog.String("storage_key", storageKey),
					slog.String("error", delErr.Error()),
				)
			}
		}
		if rbErr := s.jrn.Rollback(jrnEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката журнала",
				slog.String("tx_id", jrnEntry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	// 5. Запись payload
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		compensate()
		return nil, s.internalErr(tracker, err)
	}
	if err := s.backend.Put(ctx, storageKey, spool, size, contentType); err != nil {
		compensate()
		s.logger.Error("Ошибка записи payload",
			slog.String("storage_key", storageKey),
			slog.String("error", err.Error()),
		)
		return nil, s.fail(tracker, storageError("Ошибка записи файла в хранилище", err))
	}
	payloadStored = true
	if err := tracker.Advance(stage.StagePayloadStored); err != nil {
		compensate()
		return nil, s.internalErr(tracker, err)
	}

	// 6. Запись sidecar-документа метаданных
	rec := &model.PhotoRecord{
		StorageKey:       storageKey,
		OriginalFilename: params.OriginalFilename,
		ContentType:      contentType,
		SizeBytes:        size,
		Checksum:         checksum,
		Album:            params.Album,
		Description:      params.Description,
		CreatedAt:        s.now().UTC(),
		StorageLocation:  s.backend.Location(storageKey),
	}
	if err := s.meta.Save(ctx, rec); err != nil {
		compensate()
		s.logger.Error("Ошибка записи метаданных",
			slog.String("storage_key", storageKey),
			slog.String("error", err.Error()),
		)
		return nil, s.fail(tracker, storageError("Ошибка записи метаданных", err))
	}
	metadataStored = true
	if err := tracker.Advance(stage.StageMetadataStored); err != nil {
		compensate()
		return nil, s.internalErr(tracker, err)
	}

	// 7. Добавляем в индекс
	s.idx.Add(rec)

	// 8. Journal Commit
	if err := s.jrn.Commit(jrnEntry.TransactionID); err != nil {
		// Данные уже записаны, коммит журнала — best effort
		s.logger.Error("Ошибка коммита журнала (данные сохранены)",
			slog.String("tx_id", jrnEntry.TransactionID),
			slog.String("storage_key", storageKey),
			slog.String("error", err.Error()),
		)
	}
	if err := tracker.Advance(stage.StageComplete); err != nil {
		return nil, s.internalErr(tracker, err)
	}

	// 9. Обновляем метрики
	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.PhotosTotal.Set(float64(s.idx.Count()))
	middleware.StorageBytes.Add(float64(size))

	s.logger.Info("Фотография загружена",
		slog.String("storage_key", storageKey),
		slog.String("filename", params.OriginalFilename),
		slog.Int64("size", size),
		slog.String("checksum", checksum),
		slog.String("album", params.Album),
	)

	return &UploadResult{Record: rec}, nil
}

// spoolPayload копирует поток во временный файл, параллельно считая
// SHA-256. Лимит чтения — максимальный размер + 1 байт: лишний байт
// означает превышение лимита и ловится валидацией по размеру.
func (s *UploadService) spoolPayload(r io.Reader) (*os.File, int64, string, error) {
	spool, err := os.CreateTemp(s.spoolDir, "upload-*.spool")
	if err != nil {
		return nil, 0, "", fmt.Errorf("ошибка создания spool-файла: %w", err)
	}

	hasher := sha256.New()
	limited := io.LimitReader(r, s.validator.MaxFileSize()+1)
	size, err := io.Copy(io.MultiWriter(spool, hasher), limited)
	if err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return nil, 0, "", fmt.Errorf("ошибка чтения потока: %w", err)
	}

	return spool, size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// fail переводит tracker в failed и возвращает ошибку с заполненной стадией.
func (s *UploadService) fail(tracker *stage.Tracker, ue *UploadError) *UploadError {
	failedAt, err := tracker.Fail()
	if err != nil {
		failedAt = tracker.Current()
	}
	ue.Stage = failedAt
	middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
	return ue
}

// internalErr — обёртка для непредвиденных внутренних ошибок.
func (s *UploadService) internalErr(tracker *stage.Tracker, err error) *UploadError {
	s.logger.Error("Внутренняя ошибка загрузки", slog.String("error", err.Error()))
	return s.fail(tracker, &UploadError{
		StatusCode: 500,
		Code:       apierrors.CodeInternalError,
		Message:    "Внутренняя ошибка",
		Err:        err,
	})
}

// validationError переводит ошибку валидации в UploadError с HTTP-кодом.
func validationError(err error) *UploadError {
	var ve *validate.Error
	if !errors.As(err, &ve) {
		return &UploadError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    err.Error(),
			Err:        err,
		}
	}

	ue := &UploadError{Message: ve.Message, Err: err}
	switch ve.Reason {
	case validate.ReasonEmpty:
		ue.StatusCode = 400
		ue.Code = apierrors.CodeEmptyFile
	case validate.ReasonTooLarge:
		ue.StatusCode = 413
		ue.Code = apierrors.CodeFileTooLarge
	case validate.ReasonUnsupportedType:
		ue.StatusCode = 415
		ue.Code = apierrors.CodeUnsupportedType
	default:
		ue.StatusCode = 400
		ue.Code = apierrors.CodeValidationError
	}
	return ue
}

// storageError переводит ошибку бэкенда в UploadError с HTTP-кодом.
func storageError(message string, err error) *UploadError {
	statusCode := 500
	code := apierrors.CodeInternalError
	if errors.Is(err, blob.ErrUnavailable) || errors.Is(err, blob.ErrPermissionDenied) {
		statusCode = 503
		code = apierrors.CodeStorageUnavailable
	}
	return &UploadError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Err:        err,
	}
}
