package naming

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

// neverExists — probe, считающий любой ключ свободным.
func neverExists(string) (bool, error) {
	return false, nil
}

// TestDeriveKey_Format проверяет формат сгенерированного ключа.
func TestDeriveKey_Format(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	key, err := DeriveKey("beach photo.jpg", now, neverExists)
	if err != nil {
		t.Fatalf("ошибка генерации ключа: %v", err)
	}

	if !strings.HasPrefix(key, "20260829120000_") {
		t.Errorf("ключ должен начинаться с сортируемого timestamp: %s", key)
	}
	if !strings.HasSuffix(key, ".jpg") {
		t.Errorf("ключ должен сохранять расширение: %s", key)
	}
	if strings.Contains(key, " ") {
		t.Errorf("ключ не должен содержать пробелов: %s", key)
	}
	if strings.ContainsAny(key, "/\\") {
		t.Errorf("ключ не должен содержать разделителей путей: %s", key)
	}
	if !strings.Contains(key, "beachphoto") {
		t.Errorf("ключ должен содержать очищенное имя: %s", key)
	}
}

// TestDeriveKey_PathTraversal проверяет очистку компонентов пути
// из пользовательского имени.
func TestDeriveKey_PathTraversal(t *testing.T) {
	now := time.Now()

	tests := []string{
		"../../etc/passwd",
		"/etc/shadow",
		"dir/sub/photo.png",
		"..\\windows\\evil.png",
	}

	for _, name := range tests {
		key, err := DeriveKey(name, now, neverExists)
		if err != nil {
			t.Fatalf("DeriveKey(%q): %v", name, err)
		}
		if strings.ContainsAny(key, "/\\") {
			t.Errorf("DeriveKey(%q): ключ содержит разделитель путей: %s", name, key)
		}
		if strings.Contains(key, "..") {
			t.Errorf("DeriveKey(%q): ключ содержит '..': %s", name, key)
		}
	}
}

// TestDeriveKey_Uniqueness проверяет уникальность последовательных ключей.
func TestDeriveKey_Uniqueness(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		key, err := DeriveKey("same-name.jpg", now, neverExists)
		if err != nil {
			t.Fatalf("ошибка генерации: %v", err)
		}
		if seen[key] {
			t.Fatalf("дубликат ключа: %s", key)
		}
		seen[key] = true
	}
}

// TestDeriveKey_CollisionRetry проверяет retry при обнаруженной коллизии.
func TestDeriveKey_CollisionRetry(t *testing.T) {
	now := time.Now()

	// Первые два probe сообщают о коллизии, третий — о свободном ключе
	calls := 0
	exists := func(string) (bool, error) {
		calls++
		return calls <= 2, nil
	}

	key, err := DeriveKey("photo.jpg", now, exists)
	if err != nil {
		t.Fatalf("ожидался успех после retry: %v", err)
	}
	if key == "" {
		t.Error("ключ не должен быть пустым")
	}
	if calls != 3 {
		t.Errorf("ожидалось 3 вызова probe, получено %d", calls)
	}
}

// TestDeriveKey_Exhausted проверяет ErrExhausted при постоянных коллизиях.
func TestDeriveKey_Exhausted(t *testing.T) {
	alwaysExists := func(string) (bool, error) {
		return true, nil
	}

	_, err := DeriveKey("photo.jpg", time.Now(), alwaysExists)
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("ожидалась ErrExhausted, получено %v", err)
	}
}

// TestDeriveKey_ProbeError проверяет проброс ошибки probe.
func TestDeriveKey_ProbeError(t *testing.T) {
	probeErr := errors.New("бэкенд недоступен")
	failing := func(string) (bool, error) {
		return false, probeErr
	}

	_, err := DeriveKey("photo.jpg", time.Now(), failing)
	if !errors.Is(err, probeErr) {
		t.Errorf("ожидался проброс ошибки probe, получено %v", err)
	}
}

// TestSanitize проверяет очистку строк для ключа.
func TestSanitize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"hello world", "helloworld"},
		{"test-file_01", "test-file_01"},
		{"file@#$%", "file"},
		{"", "photo"}, // пустая строка → "photo"
		{"тест", "тест"},
		{"a\x00b\x1fc", "abc"},
	}

	for _, tt := range tests {
		result := sanitize(tt.input)
		if result != tt.expected {
			t.Errorf("sanitize(%q): ожидалось %q, получено %q", tt.input, tt.expected, result)
		}
	}
}

// TestComposeKey_LongName проверяет ограничение длины имени в ключе.
func TestComposeKey_LongName(t *testing.T) {
	long := strings.Repeat("a", 200) + ".jpg"
	key := composeKey(long, time.Now())

	// timestamp(14) + "_" + name(<=50) + "_" + uuid8 + ".jpg"
	if len(key) > 14+1+maxBaseLen+1+8+4 {
		t.Errorf("ключ слишком длинный (%d): %s", len(key), key)
	}
}

// TestComposeKey_LongCyrillicName проверяет обрезку длинного имени
// по границе руны: кириллическая руна занимает два байта, и обрезка
// посреди руны дала бы ключ с некорректным UTF-8.
func TestComposeKey_LongCyrillicName(t *testing.T) {
	tests := []string{
		// Руна "п" пересекает 50-й байт: "a"(1) + 25×"п"(50) = 51 байт
		"a" + strings.Repeat("п", 25) + ".jpg",
		strings.Repeat("п", 100) + ".jpg",
		strings.Repeat("ф", 24) + "abc" + ".png",
	}

	for _, name := range tests {
		key := composeKey(name, time.Now())

		if !utf8.ValidString(key) {
			t.Errorf("composeKey(%q): ключ содержит некорректный UTF-8: %q", name, key)
		}
		if len(key) > 14+1+maxBaseLen+1+8+4 {
			t.Errorf("composeKey(%q): ключ слишком длинный (%d)", name, len(key))
		}
	}
}

// TestTruncateRunes проверяет обрезку строки по границе руны.
func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		input    string
		maxBytes int
		expected string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"пример", 12, "пример"},
		{"пример", 5, "пр"},   // 5-й байт посреди руны "и"
		{"пример", 6, "при"},  // ровно три руны
		{"aпп", 2, "a"},       // руна "п" не помещается целиком
		{"", 5, ""},
	}

	for _, tt := range tests {
		result := truncateRunes(tt.input, tt.maxBytes)
		if result != tt.expected {
			t.Errorf("truncateRunes(%q, %d): ожидалось %q, получено %q",
				tt.input, tt.maxBytes, tt.expected, result)
		}
		if !utf8.ValidString(result) {
			t.Errorf("truncateRunes(%q, %d): некорректный UTF-8: %q",
				tt.input, tt.maxBytes, result)
		}
	}
}
