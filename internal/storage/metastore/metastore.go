// Пакет metastore — хранилище метаданных фотографий.
// Каждая фотография имеет сопутствующий sidecar-документ
// {storage_key}.meta.json, который является единственным источником
// истины для метаданных. Документы хранятся через тот же blob.Backend,
// что и payload: на локальном диске это файл рядом с фотографией,
// в S3 — объект в том же bucket.
package metastore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bigkaa/gophotostore/internal/domain/model"
	"github.com/bigkaa/gophotostore/internal/storage/blob"
)

// maxMetaSize — максимальный допустимый размер sidecar-документа (4 КБ).
// Ограничение гарантирует атомарность записи на локальном диске.
const maxMetaSize = 4096

var (
	// ErrNotFound — метаданные для данного ключа отсутствуют.
	ErrNotFound = errors.New("метаданные не найдены")
	// ErrCorrupt — sidecar-документ существует, но не парсится.
	ErrCorrupt = errors.New("документ метаданных повреждён")
	// ErrTooLarge — сериализованный документ превышает лимит.
	ErrTooLarge = errors.New("документ метаданных превышает максимальный размер")
)

// Store — хранилище sidecar-документов метаданных поверх blob.Backend.
type Store struct {
	backend blob.Backend
	logger  *slog.Logger
}

// New создаёт хранилище метаданных.
func New(backend blob.Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
	}
}

// Save записывает метаданные как sidecar-документ {storage_key}.meta.json.
// Запись перезаписывает существующий документ целиком.
func (s *Store) Save(ctx context.Context, rec *model.PhotoRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	// Проверка размера для гарантии атомарности
	if len(data) > maxMetaSize {
		return fmt.Errorf("%w: %d байт (максимум %d)", ErrTooLarge, len(data), maxMetaSize)
	}

	metaKey := model.MetaKey(rec.StorageKey)
	if err := s.backend.Put(ctx, metaKey, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("ошибка записи документа %s: %w", metaKey, err)
	}

	return nil
}

// Load читает и парсит sidecar-документ метаданных.
// Возвращает ErrNotFound, если документ отсутствует,
// и ErrCorrupt, если он существует, но не является валидным JSON.
func (s *Store) Load(ctx context.Context, storageKey string) (*model.PhotoRecord, error) {
	metaKey := model.MetaKey(storageKey)

	rc, err := s.backend.Get(ctx, metaKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storageKey)
		}
		return nil, fmt.Errorf("ошибка чтения документа %s: %w", metaKey, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxMetaSize+1))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения документа %s: %w", metaKey, err)
	}
	if len(data) > maxMetaSize {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, storageKey)
	}

	var rec model.PhotoRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, storageKey, err)
	}

	// Ключ внутри документа обязан совпадать с ключом на диске
	if rec.StorageKey != storageKey {
		return nil, fmt.Errorf("%w: %s: storage_key внутри документа не совпадает (%s)",
			ErrCorrupt, storageKey, rec.StorageKey)
	}

	return &rec, nil
}

// Exists проверяет наличие sidecar-документа.
func (s *Store) Exists(ctx context.Context, storageKey string) (bool, error) {
	return s.backend.Exists(ctx, model.MetaKey(storageKey))
}

// Delete удаляет sidecar-документ метаданных.
// Идемпотентна: отсутствие документа не является ошибкой.
func (s *Store) Delete(ctx context.Context, storageKey string) error {
	metaKey := model.MetaKey(storageKey)
	if err := s.backend.Delete(ctx, metaKey); err != nil {
		return fmt.Errorf("ошибка удаления документа %s: %w", metaKey, err)
	}
	return nil
}

// List читает все sidecar-документы хранилища.
// Повреждённые документы пропускаются с записью в лог —
// одна битая запись не должна ломать всю галерею.
func (s *Store) List(ctx context.Context) ([]*model.PhotoRecord, error) {
	keys, err := s.backend.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка листинга хранилища: %w", err)
	}

	records := make([]*model.PhotoRecord, 0, len(keys)/2)
	for _, key := range keys {
		if !model.IsMetaKey(key) {
			continue
		}

		rec, err := s.Load(ctx, model.PayloadKey(key))
		if err != nil {
			if errors.Is(err, ErrCorrupt) {
				s.logger.Warn("повреждённый документ метаданных пропущен",
					"key", key, "error", err)
				continue
			}
			if errors.Is(err, ErrNotFound) {
				// Документ удалён между листингом и чтением
				continue
			}
			return nil, err
		}

		records = append(records, rec)
	}

	return records, nil
}
