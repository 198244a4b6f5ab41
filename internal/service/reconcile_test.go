package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bigkaa/gophotostore/internal/domain/model"
	"github.com/bigkaa/gophotostore/internal/storage/blob"
	"github.com/bigkaa/gophotostore/internal/storage/index"
	"github.com/bigkaa/gophotostore/internal/storage/metastore"
)

// reconcileEnv — окружение для тестов сверки.
type reconcileEnv struct {
	backend *blob.Local
	meta    *metastore.Store
	idx     *index.Index
	svc     *ReconcileService
}

func newReconcileEnv(t *testing.T) *reconcileEnv {
	t.Helper()

	backend, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}
	logger := testLogger()
	meta := metastore.New(backend, logger)
	idx := index.New(logger)

	return &reconcileEnv{
		backend: backend,
		meta:    meta,
		idx:     idx,
		svc:     NewReconcileService(backend, meta, idx, time.Minute, logger),
	}
}

func (env *reconcileEnv) putPayload(t *testing.T, key string, size int) {
	t.Helper()
	payload := jpegPayload(size)
	if err := env.backend.Put(context.Background(), key, bytes.NewReader(payload), int64(len(payload)), "image/jpeg"); err != nil {
		t.Fatalf("ошибка put %s: %v", key, err)
	}
}

func (env *reconcileEnv) putMeta(t *testing.T, key string, size int64) {
	t.Helper()
	rec := &model.PhotoRecord{
		StorageKey:       key,
		OriginalFilename: key,
		ContentType:      "image/jpeg",
		SizeBytes:        size,
		Checksum:         "abc",
		CreatedAt:        time.Now().UTC(),
	}
	if err := env.meta.Save(context.Background(), rec); err != nil {
		t.Fatalf("ошибка save %s: %v", key, err)
	}
}

// issueTypes собирает типы найденных проблем.
func issueTypes(report *ReconcileReport) map[string]int {
	types := make(map[string]int)
	for _, issue := range report.Issues {
		types[issue.Type]++
	}
	return types
}

// TestReconcile_Clean проверяет отсутствие ложных срабатываний.
func TestReconcile_Clean(t *testing.T) {
	env := newReconcileEnv(t)
	env.putPayload(t, "ok.jpg", 64)
	env.putMeta(t, "ok.jpg", 64)

	report, skipped := env.svc.RunOnce(context.Background())
	if skipped {
		t.Fatal("сверка не должна быть пропущена")
	}
	if len(report.Issues) != 0 {
		t.Errorf("ожидалось 0 проблем, получено %v", report.Issues)
	}
	if report.PhotosChecked != 1 {
		t.Errorf("ожидалась 1 проверенная фотография, получено %d", report.PhotosChecked)
	}
}

// TestReconcile_FindsIssues проверяет обнаружение всех типов расхождений.
func TestReconcile_FindsIssues(t *testing.T) {
	env := newReconcileEnv(t)

	env.putPayload(t, "orphan.jpg", 64)        // payload без метаданных
	env.putMeta(t, "missing.jpg", 64)          // метаданные без payload
	env.putPayload(t, "shrunk.jpg", 32)        // размер не совпадает
	env.putMeta(t, "shrunk.jpg", 64)

	report, skipped := env.svc.RunOnce(context.Background())
	if skipped {
		t.Fatal("сверка не должна быть пропущена")
	}

	types := issueTypes(report)
	if types[IssueOrphanPayload] != 1 {
		t.Errorf("ожидался 1 orphan_payload, получено %d", types[IssueOrphanPayload])
	}
	if types[IssueMissingPayload] != 1 {
		t.Errorf("ожидался 1 missing_payload, получено %d", types[IssueMissingPayload])
	}
	if types[IssueSizeMismatch] != 1 {
		t.Errorf("ожидался 1 size_mismatch, получено %d", types[IssueSizeMismatch])
	}
}

// TestReconcile_RebuildsIndex проверяет пересборку индекса после сверки.
func TestReconcile_RebuildsIndex(t *testing.T) {
	env := newReconcileEnv(t)

	env.putPayload(t, "a.jpg", 64)
	env.putMeta(t, "a.jpg", 64)

	// Индекс пуст до сверки
	if env.idx.Count() != 0 {
		t.Fatal("индекс должен быть пустым")
	}

	if _, skipped := env.svc.RunOnce(context.Background()); skipped {
		t.Fatal("сверка не должна быть пропущена")
	}

	if env.idx.Count() != 1 {
		t.Errorf("после сверки в индексе должна быть 1 запись, получено %d", env.idx.Count())
	}
	if !env.idx.IsReady() {
		t.Error("индекс должен быть ready после пересборки")
	}
}
