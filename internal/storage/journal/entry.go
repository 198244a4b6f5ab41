// Пакет journal — файловый журнал намерений (intent journal)
// для операций загрузки и удаления фотографий.
// Каждая транзакция — отдельный файл {tx_id}.journal.json в PS_JOURNAL_DIR.
// Запись создаётся до изменения хранилища, коммитится после успеха
// и откатывается после компенсации. При рестарте pending записи
// восстанавливаются и дочищаются.
package journal

import (
	"time"
)

// OperationType — тип операции, записываемой в журнал.
type OperationType string

const (
	// OpPhotoCreate — загрузка новой фотографии
	OpPhotoCreate OperationType = "photo_create"
	// OpPhotoDelete — удаление фотографии
	OpPhotoDelete OperationType = "photo_delete"
)

// TransactionStatus — статус транзакции журнала.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция отменена после компенсации
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала. Хранится как JSON-файл {tx_id}.journal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// StorageKey — ключ фотографии, над которой выполняется операция
	StorageKey string `json:"storage_key"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// journalFileName возвращает имя файла журнала для данной транзакции.
func journalFileName(txID string) string {
	return txID + ".journal.json"
}
