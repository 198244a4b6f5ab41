// Пакет model — доменные модели Photo Store.
// PhotoRecord — единая структура метаданных фотографии, используется
// как in-memory представление и как формат sidecar-документа
// {storage_key}.meta.json в хранилище.
package model

import (
	"time"
)

// MetaSuffix — суффикс ключа sidecar-документа метаданных.
const MetaSuffix = ".meta.json"

// PhotoRecord — метаданные одной загруженной фотографии.
// Соответствует содержимому {storage_key}.meta.json.
// Payload и метаданные связаны общим StorageKey.
type PhotoRecord struct {
	// StorageKey — уникальный ключ фотографии в хранилище.
	// Формат: {timestamp}_{sanitized_name}_{uuid8}.{ext}
	// Неизменяем после создания.
	StorageKey string `json:"storage_key"`

	// OriginalFilename — оригинальное имя файла при загрузке
	// (пользовательский ввод, не доверять)
	OriginalFilename string `json:"original_filename"`

	// ContentType — MIME-тип, прошедший проверку allow-list
	ContentType string `json:"content_type"`

	// SizeBytes — размер payload в байтах
	SizeBytes int64 `json:"size_bytes"`

	// Checksum — SHA-256 хэш содержимого payload
	Checksum string `json:"checksum"`

	// Album — альбом фотографии (опционально)
	Album string `json:"album,omitempty"`

	// Description — описание фотографии (опционально)
	Description string `json:"description,omitempty"`

	// CreatedAt — дата и время загрузки (UTC), не мутируется
	CreatedAt time.Time `json:"created_at"`

	// StorageLocation — непрозрачная ссылка на payload
	// (путь на диске или URL объекта), разрешается бэкендом
	StorageLocation string `json:"storage_location"`
}

// MetaKey возвращает ключ sidecar-документа метаданных для данного payload.
// Пример: "20260829120000_beach_a1b2c3d4.jpg" → "20260829120000_beach_a1b2c3d4.jpg.meta.json"
func MetaKey(storageKey string) string {
	return storageKey + MetaSuffix
}

// IsMetaKey проверяет, является ли ключ sidecar-документом метаданных.
func IsMetaKey(key string) bool {
	return len(key) > len(MetaSuffix) && key[len(key)-len(MetaSuffix):] == MetaSuffix
}

// PayloadKey возвращает ключ payload из ключа sidecar-документа.
func PayloadKey(metaKey string) string {
	if !IsMetaKey(metaKey) {
		return metaKey
	}
	return metaKey[:len(metaKey)-len(MetaSuffix)]
}
