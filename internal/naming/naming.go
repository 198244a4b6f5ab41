// Пакет naming — генерация уникальных storage key для фотографий.
//
// Формат ключа: {timestamp}_{sanitized_name}_{uuid8}.{ext}
// Пример: 20260829120000_beachphoto_a1b2c3d4.jpg
//
// Сортируемый timestamp-префикс + короткий UUID делают коллизию
// статистически ничтожной; авторитетный механизм уникальности —
// ограниченный retry-цикл с probe существования ключа в бэкенде.
package naming

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrExhausted — все попытки генерации уникального ключа исчерпаны.
var ErrExhausted = errors.New("исчерпаны попытки генерации уникального ключа")

// maxAttempts — максимальное число попыток при обнаруженной коллизии.
const maxAttempts = 5

// maxBaseLen — максимальная длина очищенного имени в ключе.
const maxBaseLen = 50

// ExistsFunc — probe существования ключа в бэкенде.
type ExistsFunc func(key string) (bool, error)

// DeriveKey генерирует уникальный storage key из оригинального имени
// файла и времени загрузки. exists — probe бэкенда: при обнаруженной
// коллизии генерация повторяется с новым дисамбигуатором, не более
// maxAttempts раз, затем возвращается ErrExhausted.
//
// Детерминирована с точностью до дисамбигуатора: ключ всегда содержит
// сортируемый UTC timestamp и очищенное имя без разделителей путей,
// пробелов и управляющих символов.
func DeriveKey(originalFilename string, now time.Time, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		key := composeKey(originalFilename, now)

		found, err := exists(key)
		if err != nil {
			return "", fmt.Errorf("probe ключа %s: %w", key, err)
		}
		if !found {
			return key, nil
		}
	}

	return "", ErrExhausted
}

// composeKey формирует один кандидат ключа.
func composeKey(originalFilename string, now time.Time) string {
	// filepath.Base отбрасывает компоненты пути из пользовательского имени
	base := filepath.Base(originalFilename)
	ext := strings.ToLower(filepath.Ext(base))
	name := sanitize(strings.TrimSuffix(base, ext))

	name = truncateRunes(name, maxBaseLen)

	ts := now.UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	if ext != "" {
		return fmt.Sprintf("%s_%s_%s%s", ts, name, uid, ext)
	}
	return fmt.Sprintf("%s_%s_%s", ts, name, uid)
}

// truncateRunes обрезает строку до maxBytes байт по границе руны.
// Обрезка посреди многобайтовой руны (кириллица) дала бы ключ
// с некорректным UTF-8, который не переживает JSON-сериализацию
// sidecar-документа.
func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	n := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		n = i
	}
	return s[:n]
}

// sanitize убирает небезопасные символы из имени файла.
// Оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "photo"
	}
	return result.String()
}
