// Пакет blob — capability-интерфейс бэкенда хранения payload.
//
// Две реализации: локальная файловая система (Local) и S3-совместимое
// объектное хранилище (S3, minio-go). Выбор реализации — явная
// конфигурация при старте, без runtime-инспекции типов.
//
// Единая таксономия ошибок независимо от варианта:
// ErrNotFound, ErrPermissionDenied, ErrUnavailable (transient,
// допускает retry), ErrCorrupt.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Таксономия ошибок бэкенда. Конкретные реализации оборачивают
// низкоуровневые ошибки через fmt.Errorf("...: %w", Err...).
var (
	// ErrNotFound — ключ отсутствует в хранилище
	ErrNotFound = errors.New("ключ не найден в хранилище")
	// ErrPermissionDenied — недостаточно прав для операции
	ErrPermissionDenied = errors.New("доступ к хранилищу запрещён")
	// ErrUnavailable — хранилище временно недоступно (допускает retry)
	ErrUnavailable = errors.New("хранилище временно недоступно")
	// ErrCorrupt — payload нечитаем или повреждён
	ErrCorrupt = errors.New("данные повреждены")
	// ErrInvalidKey — ключ содержит разделители путей или '..'
	ErrInvalidKey = errors.New("недопустимый ключ хранилища")
)

// Backend — capability-интерфейс хранения бинарных payload.
// Реализации обязаны быть потокобезопасными: несколько загрузок
// выполняются независимо без общего mutable-состояния.
type Backend interface {
	// Put долговечно записывает данные из r под ключом key.
	// size — точный размер данных в байтах.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get открывает payload для чтения. Вызывающий код обязан
	// закрыть ReadCloser. Отсутствующий ключ → ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists проверяет существование ключа.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete удаляет payload. Идемпотентен: удаление
	// отсутствующего ключа не является ошибкой.
	Delete(ctx context.Context, key string) error

	// ListKeys возвращает все ключи бэкенда, включая sidecar-документы.
	// Порядок определяется бэкендом и не несёт смысла.
	ListKeys(ctx context.Context) ([]string, error)

	// Location возвращает непрозрачную разрешаемую ссылку на payload:
	// путь на диске или URL объекта. Не читает payload.
	Location(key string) string
}

// ValidKey проверяет безопасность ключа: без разделителей путей,
// без '..' и управляющих символов. Защита от traversal через
// пользовательский ввод в URL.
func ValidKey(key string) bool {
	if key == "" || len(key) > 512 {
		return false
	}
	if strings.ContainsAny(key, "/\\") {
		return false
	}
	if strings.Contains(key, "..") {
		return false
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
