package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	apierrors "github.com/bigkaa/gophotostore/internal/api/errors"
	"github.com/bigkaa/gophotostore/internal/domain/model"
	"github.com/bigkaa/gophotostore/internal/domain/stage"
	"github.com/bigkaa/gophotostore/internal/storage/blob"
	"github.com/bigkaa/gophotostore/internal/storage/index"
	"github.com/bigkaa/gophotostore/internal/storage/journal"
	"github.com/bigkaa/gophotostore/internal/storage/metastore"
	"github.com/bigkaa/gophotostore/internal/validate"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// jpegPayload возвращает минимальный валидный JPEG-поток заданного размера.
func jpegPayload(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'})
	return data
}

// uploadEnv — окружение для тестов загрузки: реальные бэкенд,
// metastore, индекс и журнал на t.TempDir().
type uploadEnv struct {
	backend *blob.Local
	meta    *metastore.Store
	idx     *index.Index
	jrn     *journal.Journal
	svc     *UploadService
}

func newUploadEnv(t *testing.T, meta MetadataStore) *uploadEnv {
	t.Helper()

	backend, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}
	logger := testLogger()
	realMeta := metastore.New(backend, logger)
	if meta == nil {
		meta = realMeta
	}
	idx := index.New(logger)
	jrn, err := journal.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("ошибка создания журнала: %v", err)
	}

	validator := validate.New(10<<20, nil) // лимит 10 МиБ для тестов
	svc := NewUploadService(validator, backend, meta, idx, jrn, t.TempDir(), logger)

	return &uploadEnv{
		backend: backend,
		meta:    realMeta,
		idx:     idx,
		jrn:     jrn,
		svc:     svc,
	}
}

// failingMetaStore — MetadataStore, у которого Save всегда падает.
// Остальные операции делегируются реальному хранилищу.
type failingMetaStore struct {
	*metastore.Store
}

func (f *failingMetaStore) Save(ctx context.Context, rec *model.PhotoRecord) error {
	return errors.New("диск переполнен")
}

// TestUpload_Success проверяет полный успешный путь загрузки:
// payload в хранилище, sidecar-документ, индекс, журнал закоммичен.
func TestUpload_Success(t *testing.T) {
	env := newUploadEnv(t, nil)
	ctx := context.Background()

	payload := jpegPayload(2 << 20) // 2 МиБ
	result, ue := env.svc.Upload(ctx, UploadParams{
		Reader:           bytes.NewReader(payload),
		OriginalFilename: "beach photo.jpg",
		ContentType:      "image/jpeg",
		Album:            "vacation",
		Description:      "закат",
	})
	if ue != nil {
		t.Fatalf("ошибка загрузки: %v", ue)
	}

	rec := result.Record
	if rec.StorageKey == "" {
		t.Fatal("storage_key не должен быть пустым")
	}
	if rec.SizeBytes != int64(len(payload)) {
		t.Errorf("size: ожидалось %d, получено %d", len(payload), rec.SizeBytes)
	}
	if rec.Album != "vacation" {
		t.Errorf("album: ожидалось vacation, получено %s", rec.Album)
	}
	if rec.Checksum == "" {
		t.Error("checksum не должен быть пустым")
	}

	// Payload в хранилище
	rc, err := env.backend.Get(ctx, rec.StorageKey)
	if err != nil {
		t.Fatalf("payload не найден: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(data, payload) {
		t.Error("payload не совпадает с загруженным")
	}

	// Sidecar-документ читается
	loaded, err := env.meta.Load(ctx, rec.StorageKey)
	if err != nil {
		t.Fatalf("метаданные не найдены: %v", err)
	}
	if loaded.OriginalFilename != "beach photo.jpg" {
		t.Errorf("original_filename: получено %s", loaded.OriginalFilename)
	}

	// Индекс обновлён
	if env.idx.Get(rec.StorageKey) == nil {
		t.Error("запись должна быть в индексе")
	}

	// Журнал без pending транзакций
	pending, err := env.jrn.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка журнала: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ожидалось 0 pending транзакций, получено %d", len(pending))
	}
}

// TestUpload_ContentTypeNormalized проверяет, что в метаданных и
// хранилище тип сохраняется в канонической форме: без параметров
// и в нижнем регистре, независимо от того, как его заявил клиент.
func TestUpload_ContentTypeNormalized(t *testing.T) {
	env := newUploadEnv(t, nil)
	ctx := context.Background()

	result, ue := env.svc.Upload(ctx, UploadParams{
		Reader:           bytes.NewReader(jpegPayload(1024)),
		OriginalFilename: "photo.jpg",
		ContentType:      "IMAGE/JPEG; charset=utf-8",
	})
	if ue != nil {
		t.Fatalf("ошибка загрузки: %v", ue)
	}

	if result.Record.ContentType != "image/jpeg" {
		t.Errorf("content_type: ожидалось image/jpeg, получено %q", result.Record.ContentType)
	}

	// Sidecar-документ тоже хранит каноническую форму
	loaded, err := env.meta.Load(ctx, result.Record.StorageKey)
	if err != nil {
		t.Fatalf("метаданные не найдены: %v", err)
	}
	if loaded.ContentType != "image/jpeg" {
		t.Errorf("content_type в метаданных: ожидалось image/jpeg, получено %q", loaded.ContentType)
	}
}

// TestUpload_Empty проверяет отказ для пустого файла:
// различимая причина и никаких записей в хранилище.
func TestUpload_Empty(t *testing.T) {
	env := newUploadEnv(t, nil)
	ctx := context.Background()

	_, ue := env.svc.Upload(ctx, UploadParams{
		Reader:           bytes.NewReader(nil),
		OriginalFilename: "empty.jpg",
		ContentType:      "image/jpeg",
	})
	if ue == nil {
		t.Fatal("ожидалась ошибка загрузки")
	}
	if ue.Code != apierrors.CodeEmptyFile {
		t.Errorf("ожидался код EMPTY_FILE, получен %s", ue.Code)
	}
	if ue.StatusCode != 400 {
		t.Errorf("ожидался статус 400, получен %d", ue.StatusCode)
	}

	// Хранилище не тронуто
	keys, err := env.backend.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ошибка листинга: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("хранилище должно быть пустым, ключи: %v", keys)
	}
}

// TestUpload_TooLarge проверяет отказ по размеру.
func TestUpload_TooLarge(t *testing.T) {
	env := newUploadEnv(t, nil)
	ctx := context.Background()

	// 11 МиБ при лимите 10 МиБ
	payload := make([]byte, 11<<20)
	copy(payload, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})

	_, ue := env.svc.Upload(ctx, UploadParams{
		Reader:           bytes.NewReader(payload),
		OriginalFilename: "huge.png",
		ContentType:      "image/png",
	})
	if ue == nil {
		t.Fatal("ожидалась ошибка загрузки")
	}
	if ue.Code != apierrors.CodeFileTooLarge {
		t.Errorf("ожидался код FILE_TOO_LARGE, получен %s", ue.Code)
	}
	if ue.StatusCode != 413 {
		t.Errorf("ожидался статус 413, получен %d", ue.StatusCode)
	}

	keys, _ := env.backend.ListKeys(ctx)
	if len(keys) != 0 {
		t.Errorf("хранилище должно быть пустым, ключи: %v", keys)
	}
}

// TestUpload_UnsupportedType проверяет отказ по MIME-типу.
func TestUpload_UnsupportedType(t *testing.T) {
	env := newUploadEnv(t, nil)

	_, ue := env.svc.Upload(context.Background(), UploadParams{
		Reader:           strings.NewReader("<svg></svg>"),
		OriginalFilename: "vector.svg",
		ContentType:      "image/svg+xml",
	})
	if ue == nil {
		t.Fatal("ожидалась ошибка загрузки")
	}
	if ue.Code != apierrors.CodeUnsupportedType {
		t.Errorf("ожидался код UNSUPPORTED_TYPE, получен %s", ue.Code)
	}
	if ue.StatusCode != 415 {
		t.Errorf("ожидался статус 415, получен %d", ue.StatusCode)
	}
}

// TestUpload_MetadataFailure_Compensation проверяет компенсацию:
// при ошибке записи метаданных payload удаляется, журнал откатывается,
// индекс и галерея остаются без следов загрузки.
func TestUpload_MetadataFailure_Compensation(t *testing.T) {
	backend, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}
	logger := testLogger()
	realMeta := metastore.New(backend, logger)
	idx := index.New(logger)
	jrn, err := journal.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("ошибка создания журнала: %v", err)
	}

	svc := NewUploadService(
		validate.New(10<<20, nil),
		backend,
		&failingMetaStore{Store: realMeta},
		idx,
		jrn,
		t.TempDir(),
		logger,
	)
	ctx := context.Background()

	_, ue := svc.Upload(ctx, UploadParams{
		Reader:           bytes.NewReader(jpegPayload(1024)),
		OriginalFilename: "doomed.jpg",
		ContentType:      "image/jpeg",
	})
	if ue == nil {
		t.Fatal("ожидалась ошибка загрузки")
	}
	if ue.Stage != stage.StagePayloadStored {
		t.Errorf("ожидалась стадия сбоя payload_stored, получена %s", ue.Stage)
	}

	// Payload удалён компенсацией
	keys, err := backend.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ошибка листинга: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("компенсация должна удалить payload, ключи: %v", keys)
	}

	// Индекс пуст
	if idx.Count() != 0 {
		t.Errorf("индекс должен быть пустым, записей: %d", idx.Count())
	}

	// Журнал откачен, pending нет
	pending, err := jrn.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка журнала: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ожидалось 0 pending транзакций, получено %d", len(pending))
	}
}

// TestUpload_UniqueKeys проверяет, что повторная загрузка того же
// имени файла порождает другой storage_key (оба payload сохраняются).
func TestUpload_UniqueKeys(t *testing.T) {
	env := newUploadEnv(t, nil)
	ctx := context.Background()

	r1, ue := env.svc.Upload(ctx, UploadParams{
		Reader:           bytes.NewReader(jpegPayload(512)),
		OriginalFilename: "same.jpg",
		ContentType:      "image/jpeg",
	})
	if ue != nil {
		t.Fatalf("первая загрузка: %v", ue)
	}
	r2, ue := env.svc.Upload(ctx, UploadParams{
		Reader:           bytes.NewReader(jpegPayload(512)),
		OriginalFilename: "same.jpg",
		ContentType:      "image/jpeg",
	})
	if ue != nil {
		t.Fatalf("вторая загрузка: %v", ue)
	}

	if r1.Record.StorageKey == r2.Record.StorageKey {
		t.Errorf("ключи должны различаться: %s", r1.Record.StorageKey)
	}
	if env.idx.Count() != 2 {
		t.Errorf("ожидалось 2 записи в индексе, получено %d", env.idx.Count())
	}
}
