// local.go — бэкенд хранения на локальной файловой системе.
// Паттерн записи: temp файл → fsync → atomic rename, чтобы
// конкурентный читатель никогда не увидел частично записанный файл.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local — бэкенд хранения payload на локальном диске.
// Все ключи — имена файлов внутри dataDir (без вложенных директорий).
type Local struct {
	// dataDir — корневая директория хранения (PS_DATA_DIR)
	dataDir string
}

// NewLocal создаёт локальный бэкенд. Проверяет и создаёт директорию
// если она не существует.
func NewLocal(dataDir string) (*Local, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &Local{dataDir: dataDir}, nil
}

// DataDir возвращает путь к директории данных.
func (l *Local) DataDir() string {
	return l.dataDir
}

// Put атомарно записывает данные под ключом key.
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if !ValidKey(key) {
		return fmt.Errorf("put %q: %w", key, ErrInvalidKey)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := filepath.Join(l.dataDir, key)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", mapFSError(err))
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", mapFSError(err))
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", mapFSError(err))
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", mapFSError(err))
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", mapFSError(err))
	}

	return nil
}

// Get открывает payload для чтения. Возвращает *os.File как
// io.ReadCloser (поддерживает Seek для http.ServeContent).
func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("get %q: %w", key, ErrInvalidKey)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(l.dataDir, key))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия %s: %w", key, mapFSError(err))
	}
	return f, nil
}

// Exists проверяет существование ключа на диске.
func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	if !ValidKey(key) {
		return false, fmt.Errorf("exists %q: %w", key, ErrInvalidKey)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(filepath.Join(l.dataDir, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка stat %s: %w", key, mapFSError(err))
}

// Delete удаляет payload с диска.
// Идемпотентен: возвращает nil если файл уже не существует.
func (l *Local) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("delete %q: %w", key, ErrInvalidKey)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(l.dataDir, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления %s: %w", key, mapFSError(err))
	}
	return nil
}

// ListKeys возвращает все ключи в dataDir.
// Temp файлы незавершённых записей (.tmp) и поддиректории пропускаются.
func (l *Local) ListKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(l.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования %s: %w", l.dataDir, mapFSError(err))
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".tmp" {
			continue
		}
		keys = append(keys, name)
	}
	return keys, nil
}

// Location возвращает абсолютный путь payload на диске.
func (l *Local) Location(key string) string {
	return filepath.Join(l.dataDir, key)
}

// Size возвращает размер payload на диске.
// Используется reconciliation для проверки целостности.
func (l *Local) Size(ctx context.Context, key string) (int64, error) {
	if !ValidKey(key) {
		return 0, fmt.Errorf("size %q: %w", key, ErrInvalidKey)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(filepath.Join(l.dataDir, key))
	if err != nil {
		return 0, fmt.Errorf("ошибка stat %s: %w", key, mapFSError(err))
	}
	return info.Size(), nil
}

// mapFSError приводит ошибки ОС к таксономии пакета.
func mapFSError(err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
}

// Проверка соответствия интерфейсу на этапе компиляции
var _ Backend = (*Local)(nil)
