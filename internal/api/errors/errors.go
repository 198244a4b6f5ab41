// Пакет errors — конструкторы стандартных ошибок Photo Store.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeUnsupportedType     = "UNSUPPORTED_TYPE"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeEmptyFile           = "EMPTY_FILE"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidRange        = "INVALID_RANGE"
	CodeStorageUnavailable  = "STORAGE_UNAVAILABLE"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeReconcileInProgress = "RECONCILE_IN_PROGRESS"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// UnsupportedType — 415 тип файла вне allow-list.
func UnsupportedType(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnsupportedMediaType, CodeUnsupportedType, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// EmptyFile — 400 пустой файл.
func EmptyFile(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeEmptyFile, message)
}

// NotFound — 404 фотография не найдена.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// InvalidRange — 416 некорректный Range header.
func InvalidRange(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestedRangeNotSatisfiable, CodeInvalidRange, message)
}

// StorageUnavailable — 503 бэкенд хранилища недоступен.
func StorageUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeStorageUnavailable, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}
