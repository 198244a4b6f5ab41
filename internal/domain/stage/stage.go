// Пакет stage — конечный автомат этапов загрузки фотографии.
//
// Жизненный цикл одной загрузки:
//
//	received → validated → key_assigned → payload_stored → metadata_stored → complete
//
// Из любого нетерминального этапа возможен переход в failed.
// Tracker — состояние одной загрузки, передаётся явно внутри запроса
// и никогда не является process-wide состоянием.
package stage

import (
	"fmt"
	"time"
)

// Stage — этап обработки загрузки.
type Stage string

const (
	// StageReceived — запрос принят, обработка не начата
	StageReceived Stage = "received"
	// StageValidated — файл прошёл проверку типа и размера
	StageValidated Stage = "validated"
	// StageKeyAssigned — сгенерирован уникальный storage key
	StageKeyAssigned Stage = "key_assigned"
	// StagePayloadStored — payload записан в бэкенд
	StagePayloadStored Stage = "payload_stored"
	// StageMetadataStored — sidecar-документ метаданных записан
	StageMetadataStored Stage = "metadata_stored"
	// StageComplete — загрузка успешно завершена (терминальный)
	StageComplete Stage = "complete"
	// StageFailed — загрузка прервана ошибкой (терминальный)
	StageFailed Stage = "failed"
)

// validNext — матрица допустимых переходов.
// Ключ — текущий этап, значение — единственный допустимый следующий
// этап успешного пути. Переход в failed допустим из любого
// нетерминального этапа и проверяется отдельно.
var validNext = map[Stage]Stage{
	StageReceived:       StageValidated,
	StageValidated:      StageKeyAssigned,
	StageKeyAssigned:    StagePayloadStored,
	StagePayloadStored:  StageMetadataStored,
	StageMetadataStored: StageComplete,
}

// Transition — запись о переходе между этапами.
type Transition struct {
	From      Stage     `json:"from"`
	To        Stage     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker — состояние одной загрузки. Не потокобезопасен:
// каждая загрузка владеет собственным экземпляром.
type Tracker struct {
	current Stage
	history []Transition
}

// NewTracker создаёт tracker в начальном этапе received.
func NewTracker() *Tracker {
	return &Tracker{current: StageReceived}
}

// Current возвращает текущий этап.
func (t *Tracker) Current() Stage {
	return t.current
}

// Advance переводит загрузку на следующий этап успешного пути.
// Возвращает ошибку при недопустимом переходе.
func (t *Tracker) Advance(to Stage) error {
	next, ok := validNext[t.current]
	if !ok {
		return fmt.Errorf("этап %s терминальный, переход в %s невозможен", t.current, to)
	}
	if next != to {
		return fmt.Errorf("недопустимый переход %s → %s, ожидается %s", t.current, to, next)
	}

	t.history = append(t.history, Transition{
		From:      t.current,
		To:        to,
		Timestamp: time.Now().UTC(),
	})
	t.current = to
	return nil
}

// Fail переводит загрузку в терминальный этап failed.
// Допустимо из любого нетерминального этапа.
// Возвращает этап, на котором произошёл сбой.
func (t *Tracker) Fail() (Stage, error) {
	if t.IsTerminal() {
		return t.current, fmt.Errorf("этап %s терминальный, переход в failed невозможен", t.current)
	}

	failedAt := t.current
	t.history = append(t.history, Transition{
		From:      t.current,
		To:        StageFailed,
		Timestamp: time.Now().UTC(),
	})
	t.current = StageFailed
	return failedAt, nil
}

// IsTerminal возвращает true для этапов complete и failed.
func (t *Tracker) IsTerminal() bool {
	return t.current == StageComplete || t.current == StageFailed
}

// History возвращает копию истории переходов.
func (t *Tracker) History() []Transition {
	result := make([]Transition, len(t.history))
	copy(result, t.history)
	return result
}
