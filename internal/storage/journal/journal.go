package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal — файловый журнал намерений.
// Сначала создаётся запись со статусом pending, затем выполняется
// операция с хранилищем, затем запись коммитится или откатывается.
// При рестарте pending записи восстанавливаются для дочистки.
type Journal struct {
	// dir — директория хранения файлов журнала (PS_JOURNAL_DIR)
	dir string
	// mu — мьютекс для потокобезопасности
	mu sync.Mutex
	// logger — логгер
	logger *slog.Logger
}

// New создаёт новый журнал. Проверяет и создаёт директорию
// если она не существует. Возвращает ошибку при проблемах с FS.
func New(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	// Проверяем доступность на запись через temp файл
	testFile := filepath.Join(dir, ".journal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &Journal{
		dir:    dir,
		logger: logger.With(slog.String("component", "journal")),
	}, nil
}

// Start создаёт новую запись журнала со статусом pending.
// Возвращает Entry с уникальным TransactionID (UUID v4).
// Запись сохраняется атомарно: temp файл → fsync → rename.
func (j *Journal) Start(op OperationType, storageKey string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		StorageKey:    storageKey,
		StartedAt:     time.Now().UTC(),
	}

	if err := j.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	j.logger.Debug("Транзакция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(entry.Operation)),
		slog.String("storage_key", entry.StorageKey),
	)

	return entry, nil
}

// Commit помечает транзакцию как успешно завершённую.
func (j *Journal) Commit(txID string) error {
	return j.finish(txID, StatusCommitted)
}

// Rollback помечает транзакцию как отменённую после компенсации.
func (j *Journal) Rollback(txID string) error {
	return j.finish(txID, StatusRolledBack)
}

// finish переводит pending транзакцию в терминальный статус.
func (j *Journal) finish(txID string, status TransactionStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", txID, err)
	}

	if entry.Status != StatusPending {
		return fmt.Errorf("запись журнала %s имеет статус %s, ожидается %s", txID, entry.Status, StatusPending)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := j.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", txID, err)
	}

	j.logger.Debug("Транзакция завершена",
		slog.String("tx_id", txID),
		slog.String("status", string(status)),
		slog.String("storage_key", entry.StorageKey),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)

	return nil
}

// RecoverPending находит и возвращает все записи со статусом pending.
// Вызывается при старте сервера для обработки незавершённых транзакций.
func (j *Journal) RecoverPending() ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*.journal.json"))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	var pending []*Entry
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".journal.json")
		entry, err := j.readEntry(txID)
		if err != nil {
			j.logger.Warn("Не удалось прочитать запись журнала при восстановлении",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		if entry.Status == StatusPending {
			pending = append(pending, entry)
			j.logger.Warn("Обнаружена незавершённая транзакция",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("storage_key", entry.StorageKey),
				slog.Time("started_at", entry.StartedAt),
			)
		}
	}

	return pending, nil
}

// PendingKeys возвращает множество storage_key с незавершёнными
// транзакциями. Janitor пропускает такие ключи, чтобы не удалить
// payload идущей прямо сейчас загрузки.
func (j *Journal) PendingKeys() (map[string]struct{}, error) {
	pending, err := j.RecoverPending()
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(pending))
	for _, entry := range pending {
		keys[entry.StorageKey] = struct{}{}
	}
	return keys, nil
}

// Get читает запись журнала по идентификатору транзакции.
func (j *Journal) Get(txID string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.readEntry(txID)
}

// CleanCompleted удаляет все завершённые (committed/rolled_back) записи.
// Вызывается janitor-ом для очистки директории журнала.
func (j *Journal) CleanCompleted() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*.journal.json"))
	if err != nil {
		return 0, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	cleaned := 0
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".journal.json")
		entry, err := j.readEntry(txID)
		if err != nil {
			continue
		}

		if entry.Status == StatusCommitted || entry.Status == StatusRolledBack {
			if err := os.Remove(path); err != nil {
				j.logger.Warn("Не удалось удалить завершённую запись журнала",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			cleaned++
		}
	}

	if cleaned > 0 {
		j.logger.Info("Очистка журнала завершена",
			slog.Int("cleaned", cleaned),
		)
	}

	return cleaned, nil
}

// writeEntry атомарно записывает запись журнала на диск.
// Паттерн: temp файл → fsync → atomic rename.
func (j *Journal) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(j.dir, journalFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readEntry читает запись журнала из файла.
func (j *Journal) readEntry(txID string) (*Entry, error) {
	path := filepath.Join(j.dir, journalFileName(txID))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}

	return &entry, nil
}

// Dir возвращает путь к директории журнала.
func (j *Journal) Dir() string {
	return j.dir
}
