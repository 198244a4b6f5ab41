// Пакет validate — проверка входящих загрузок до любых операций с хранилищем.
// Проверяет заявленный MIME-тип, расширение и размер против политики.
// Без побочных эффектов: безопасно вызывать спекулятивно.
package validate

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// Reason — машиночитаемая причина отказа валидации.
type Reason string

const (
	// ReasonUnsupportedType — MIME-тип или расширение вне allow-list
	ReasonUnsupportedType Reason = "unsupported_type"
	// ReasonTooLarge — размер превышает максимум
	ReasonTooLarge Reason = "too_large"
	// ReasonEmpty — пустой файл
	ReasonEmpty Reason = "empty"
)

// Error — ошибка валидации с различимой причиной.
// Никогда не возвращается как generic failure.
type Error struct {
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// DefaultMaxFileSize — максимальный размер файла по умолчанию (100 МиБ).
const DefaultMaxFileSize int64 = 100 << 20

// DefaultAllowedTypes — allow-list MIME-типов по умолчанию.
var DefaultAllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/tiff",
}

// extsByType — допустимые расширения для каждого MIME-типа.
var extsByType = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
	"image/gif":  {".gif"},
	"image/webp": {".webp"},
	"image/bmp":  {".bmp"},
	"image/tiff": {".tif", ".tiff"},
}

// Validator — политика приёма загрузок.
type Validator struct {
	maxFileSize  int64
	allowedTypes map[string]bool
	allowedExts  map[string]bool
	// anyExtTypes — типы из allow-list, для которых расширения неизвестны
	// ни встроенной таблице, ни системной базе MIME. Для таких типов
	// проверка расширения пропускается, иначе тип был бы разрешён
	// только на словах: любой файл с расширением отклонялся бы.
	anyExtTypes map[string]bool
}

// New создаёт Validator с заданным максимальным размером и allow-list
// MIME-типов. Нулевые аргументы заменяются значениями по умолчанию.
func New(maxFileSize int64, allowedTypes []string) *Validator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedTypes
	}

	types := make(map[string]bool, len(allowedTypes))
	exts := make(map[string]bool)
	anyExt := make(map[string]bool)
	for _, t := range allowedTypes {
		t = NormalizeContentType(t)
		types[t] = true

		known := extsByType[t]
		if len(known) == 0 {
			// Тип вне встроенной таблицы (например image/avif):
			// спрашиваем системную базу MIME.
			known, _ = mime.ExtensionsByType(t)
		}
		if len(known) == 0 {
			anyExt[t] = true
			continue
		}
		for _, ext := range known {
			exts[strings.ToLower(ext)] = true
		}
	}

	return &Validator{
		maxFileSize:  maxFileSize,
		allowedTypes: types,
		allowedExts:  exts,
		anyExtTypes:  anyExt,
	}
}

// MaxFileSize возвращает действующий максимальный размер файла.
func (v *Validator) MaxFileSize() int64 {
	return v.maxFileSize
}

// Check валидирует заявленный MIME-тип, имя файла и размер.
// Возвращает *Error с различимой причиной или nil.
// Порядок проверок: пустой файл → размер → тип → расширение.
func (v *Validator) Check(contentType, originalFilename string, size int64) error {
	if size == 0 {
		return &Error{
			Reason:  ReasonEmpty,
			Message: "пустой файл не допускается",
		}
	}
	if size < 0 || size > v.maxFileSize {
		return &Error{
			Reason:  ReasonTooLarge,
			Message: fmt.Sprintf("размер файла %d байт превышает максимум %d байт", size, v.maxFileSize),
		}
	}

	ct := NormalizeContentType(contentType)
	if !v.allowedTypes[ct] {
		return &Error{
			Reason:  ReasonUnsupportedType,
			Message: fmt.Sprintf("тип %q не допускается, разрешены: %s", ct, strings.Join(v.sortedTypes(), ", ")),
		}
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(originalFilename)))
	if ext != "" && !v.allowedExts[ext] && !v.anyExtTypes[ct] {
		return &Error{
			Reason:  ReasonUnsupportedType,
			Message: fmt.Sprintf("расширение %q не соответствует разрешённым типам", ext),
		}
	}

	return nil
}

// CheckHead дополнительно проверяет первые байты payload: определённый
// по содержимому тип должен быть изображением. Вызывается с первыми
// 512 байтами файла; пустой head пропускает проверку.
func (v *Validator) CheckHead(head []byte) error {
	if len(head) == 0 {
		return nil
	}

	sniffed := NormalizeContentType(http.DetectContentType(head))
	if !strings.HasPrefix(sniffed, "image/") {
		return &Error{
			Reason:  ReasonUnsupportedType,
			Message: fmt.Sprintf("содержимое файла определено как %q, ожидается изображение", sniffed),
		}
	}
	return nil
}

// sortedTypes возвращает allow-list для сообщений об ошибках.
func (v *Validator) sortedTypes() []string {
	result := make([]string, 0, len(v.allowedTypes))
	for _, t := range DefaultAllowedTypes {
		if v.allowedTypes[t] {
			result = append(result, t)
		}
	}
	// Типы вне списка по умолчанию добавляем в конец
	for t := range v.allowedTypes {
		known := false
		for _, d := range DefaultAllowedTypes {
			if t == d {
				known = true
				break
			}
		}
		if !known {
			result = append(result, t)
		}
	}
	return result
}

// NormalizeContentType приводит MIME-тип к нижнему регистру
// и отбрасывает параметры (charset и т.д.). В метаданных и хранилище
// тип сохраняется именно в этой форме.
func NormalizeContentType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
