// Пакет index — потокобезопасный in-memory индекс метаданных фотографий.
//
// Индекс строится при старте из sidecar-документов (BuildFromStore)
// и обновляется синхронно при операциях записи (Add, Remove).
// Обеспечивает быструю пагинацию галереи и подсчёт
// без обращения к хранилищу.
//
// Не персистентный: при рестарте пересобирается из *.meta.json.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bigkaa/gophotostore/internal/domain/model"
)

// Lister читает все документы метаданных из хранилища.
// Реализуется metastore.Store.
type Lister interface {
	List(ctx context.Context) ([]*model.PhotoRecord, error)
}

// Index — потокобезопасный in-memory индекс метаданных.
// Использует sync.RWMutex для конкурентного чтения и
// эксклюзивной записи.
type Index struct {
	mu     sync.RWMutex
	photos map[string]*model.PhotoRecord // storage_key → record
	ready  bool                          // индекс построен и готов
	logger *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите BuildFromStore.
func New(logger *slog.Logger) *Index {
	return &Index{
		photos: make(map[string]*model.PhotoRecord),
		logger: logger.With(slog.String("component", "index")),
	}
}

// BuildFromStore строит индекс из sidecar-документов хранилища.
// Вызывается при старте сервера. Заменяет текущее содержимое индекса.
// После успешного построения индекс помечается как ready.
func (idx *Index) BuildFromStore(ctx context.Context, store Lister) error {
	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("ошибка чтения метаданных: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.photos = make(map[string]*model.PhotoRecord, len(records))
	for _, rec := range records {
		idx.photos[rec.StorageKey] = rec
	}

	idx.ready = true

	idx.logger.Info("Индекс метаданных построен",
		slog.Int("photos", len(idx.photos)),
	)

	return nil
}

// IsReady возвращает true, если индекс построен и готов к использованию.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Add добавляет метаданные фотографии в индекс.
// Если запись с таким ключом уже существует, она будет перезаписана.
func (idx *Index) Add(rec *model.PhotoRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Создаём копию, чтобы избежать data race при внешних изменениях
	copied := *rec
	idx.photos[rec.StorageKey] = &copied
}

// Remove удаляет фотографию из индекса по storage_key.
// Возвращает true, если запись была найдена и удалена.
func (idx *Index) Remove(storageKey string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.photos[storageKey]; !ok {
		return false
	}
	delete(idx.photos, storageKey)
	return true
}

// Get возвращает метаданные фотографии по storage_key.
// Возвращает nil, если запись не найдена.
func (idx *Index) Get(storageKey string) *model.PhotoRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rec, ok := idx.photos[storageKey]
	if !ok {
		return nil
	}

	// Возвращаем копию для потокобезопасности
	copied := *rec
	return &copied
}

// List возвращает пагинированный список метаданных.
// Параметры:
//   - limit: максимальное количество элементов (0 = все)
//   - offset: смещение от начала списка
//
// Возвращает срез метаданных и общее количество фотографий.
// Фотографии отсортированы по дате загрузки (новые первые),
// при равной дате — по storage_key для стабильного порядка.
func (idx *Index) List(limit, offset int) ([]*model.PhotoRecord, int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	all := make([]*model.PhotoRecord, 0, len(idx.photos))
	for _, rec := range idx.photos {
		copied := *rec
		all = append(all, &copied)
	}

	// Новые первые; при равной дате порядок стабилен по ключу
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].StorageKey < all[j].StorageKey
	})

	total := len(all)

	if offset >= total {
		return nil, total
	}

	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	return all[offset:end], total
}

// Count возвращает общее количество фотографий в индексе.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.photos)
}
