// recovery.go — восстановление после незавершённых транзакций.
// Выполняется один раз при старте, до открытия HTTP-порта.
//
// Правила:
//   - photo_create pending: если документ метаданных читается —
//     загрузка фактически завершилась, транзакция коммитится.
//     Иначе payload и возможный sidecar удаляются, транзакция
//     откатывается.
//   - photo_delete pending: удаление доводится до конца —
//     метаданные и payload удаляются (идемпотентно), транзакция
//     коммитится.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bigkaa/gophotostore/internal/storage/blob"
	"github.com/bigkaa/gophotostore/internal/storage/journal"
	"github.com/bigkaa/gophotostore/internal/storage/metastore"
)

// RecoveryService — восстановление незавершённых транзакций при старте.
type RecoveryService struct {
	backend blob.Backend
	meta    MetadataStore
	jrn     *journal.Journal
	logger  *slog.Logger
}

// NewRecoveryService создаёт сервис восстановления.
func NewRecoveryService(
	backend blob.Backend,
	meta MetadataStore,
	jrn *journal.Journal,
	logger *slog.Logger,
) *RecoveryService {
	return &RecoveryService{
		backend: backend,
		meta:    meta,
		jrn:     jrn,
		logger:  logger.With(slog.String("component", "recovery")),
	}
}

// Run обрабатывает все pending транзакции журнала.
// Возвращает количество завершённых и откаченных транзакций.
func (r *RecoveryService) Run(ctx context.Context) (committed, rolledBack int, err error) {
	pending, err := r.jrn.RecoverPending()
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range pending {
		switch entry.Operation {
		case journal.OpPhotoCreate:
			if r.recoverCreate(ctx, entry) {
				committed++
			} else {
				rolledBack++
			}
		case journal.OpPhotoDelete:
			r.recoverDelete(ctx, entry)
			committed++
		default:
			r.logger.Warn("Неизвестная операция в журнале",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
			)
		}
	}

	if len(pending) > 0 {
		r.logger.Info("Восстановление завершено",
			slog.Int("pending", len(pending)),
			slog.Int("committed", committed),
			slog.Int("rolled_back", rolledBack),
		)
	}

	return committed, rolledBack, nil
}

// recoverCreate доводит до конца оборванную загрузку.
// Возвращает true, если транзакция закоммичена.
func (r *RecoveryService) recoverCreate(ctx context.Context, entry *journal.Entry) bool {
	key := entry.StorageKey

	_, err := r.meta.Load(ctx, key)
	if err == nil {
		// Метаданные записаны — загрузка фактически завершилась
		if cErr := r.jrn.Commit(entry.TransactionID); cErr != nil {
			r.logger.Error("Ошибка коммита при восстановлении",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", cErr.Error()),
			)
		}
		r.logger.Info("Оборванная загрузка завершена",
			slog.String("storage_key", key),
		)
		return true
	}

	if !errors.Is(err, metastore.ErrNotFound) {
		r.logger.Warn("Метаданные не читаются, загрузка откатывается",
			slog.String("storage_key", key),
			slog.String("error", err.Error()),
		)
	}

	// Метаданных нет — убираем следы оборванной загрузки
	if dErr := r.meta.Delete(ctx, key); dErr != nil {
		r.logger.Error("Ошибка удаления sidecar при восстановлении",
			slog.String("storage_key", key),
			slog.String("error", dErr.Error()),
		)
	}
	if dErr := r.backend.Delete(ctx, key); dErr != nil {
		r.logger.Error("Ошибка удаления payload при восстановлении",
			slog.String("storage_key", key),
			slog.String("error", dErr.Error()),
		)
	}
	if rbErr := r.jrn.Rollback(entry.TransactionID); rbErr != nil {
		r.logger.Error("Ошибка отката при восстановлении",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", rbErr.Error()),
		)
	}

	r.logger.Info("Оборванная загрузка откачена",
		slog.String("storage_key", key),
	)
	return false
}

// recoverDelete доводит до конца оборванное удаление.
func (r *RecoveryService) recoverDelete(ctx context.Context, entry *journal.Entry) {
	key := entry.StorageKey

	if dErr := r.meta.Delete(ctx, key); dErr != nil {
		r.logger.Error("Ошибка удаления метаданных при восстановлении",
			slog.String("storage_key", key),
			slog.String("error", dErr.Error()),
		)
	}
	if dErr := r.backend.Delete(ctx, key); dErr != nil {
		r.logger.Error("Ошибка удаления payload при восстановлении",
			slog.String("storage_key", key),
			slog.String("error", dErr.Error()),
		)
	}
	if cErr := r.jrn.Commit(entry.TransactionID); cErr != nil {
		r.logger.Error("Ошибка коммита при восстановлении",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", cErr.Error()),
		)
	}

	r.logger.Info("Оборванное удаление завершено",
		slog.String("storage_key", key),
	)
}
