package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// TestNewLocal_CreatesDirectory проверяет создание директории данных.
func TestNewLocal_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	l, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}

	if l.DataDir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, l.DataDir())
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("директория не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("путь не является директорией")
	}
}

// TestPutGet проверяет round-trip записи и чтения payload.
func TestPutGet(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}
	ctx := context.Background()

	content := []byte("JPEG payload для проверки round-trip")
	if err := l.Put(ctx, "photo.jpg", bytes.NewReader(content), int64(len(content)), "image/jpeg"); err != nil {
		t.Fatalf("ошибка put: %v", err)
	}

	rc, err := l.Get(ctx, "photo.jpg")
	if err != nil {
		t.Fatalf("ошибка get: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("прочитанные данные не совпадают с записанными")
	}
}

// TestPut_NoTmpFile проверяет, что temp файл удалён после записи.
func TestPut_NoTmpFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}

	if err := l.Put(context.Background(), "a.jpg", bytes.NewReader([]byte("data")), 4, "image/jpeg"); err != nil {
		t.Fatalf("ошибка put: %v", err)
	}

	tmpPath := filepath.Join(dir, "a.jpg.tmp")
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Error("временный файл не должен существовать")
	}
}

// TestPut_InvalidKey проверяет отказ для небезопасных ключей.
func TestPut_InvalidKey(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}
	ctx := context.Background()

	keys := []string{
		"../escape.jpg",
		"dir/photo.jpg",
		"a\\b.jpg",
		"",
		"bad\x00key.jpg",
	}

	for _, key := range keys {
		err := l.Put(ctx, key, bytes.NewReader([]byte("x")), 1, "image/jpeg")
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q): ожидалась ErrInvalidKey, получено %v", key, err)
		}
	}
}

// TestGet_NotFound проверяет таксономию для отсутствующего ключа.
func TestGet_NotFound(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}

	_, err = l.Get(context.Background(), "nonexistent.jpg")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestExists проверяет определение существования ключа.
func TestExists(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}
	ctx := context.Background()

	found, err := l.Exists(ctx, "no-file.jpg")
	if err != nil {
		t.Fatalf("ошибка exists: %v", err)
	}
	if found {
		t.Error("ключ не должен существовать")
	}

	if err := l.Put(ctx, "exists.jpg", bytes.NewReader([]byte("x")), 1, "image/jpeg"); err != nil {
		t.Fatalf("ошибка put: %v", err)
	}

	found, err = l.Exists(ctx, "exists.jpg")
	if err != nil {
		t.Fatalf("ошибка exists: %v", err)
	}
	if !found {
		t.Error("ключ должен существовать")
	}
}

// TestDelete_Idempotent проверяет идемпотентность удаления:
// повторное удаление того же ключа не является ошибкой.
func TestDelete_Idempotent(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}
	ctx := context.Background()

	if err := l.Put(ctx, "del.jpg", bytes.NewReader([]byte("x")), 1, "image/jpeg"); err != nil {
		t.Fatalf("ошибка put: %v", err)
	}

	if err := l.Delete(ctx, "del.jpg"); err != nil {
		t.Fatalf("первое удаление: %v", err)
	}
	if err := l.Delete(ctx, "del.jpg"); err != nil {
		t.Errorf("повторное удаление должно быть успешным: %v", err)
	}

	found, _ := l.Exists(ctx, "del.jpg")
	if found {
		t.Error("ключ должен быть удалён")
	}
}

// TestListKeys проверяет листинг ключей без temp файлов.
func TestListKeys(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"a.jpg", "b.png", "c.jpg.meta.json"} {
		if err := l.Put(ctx, key, bytes.NewReader([]byte("x")), 1, ""); err != nil {
			t.Fatalf("ошибка put %s: %v", key, err)
		}
	}

	// Незавершённая запись не должна попадать в листинг
	if err := os.WriteFile(filepath.Join(dir, "partial.jpg.tmp"), []byte("x"), 0o640); err != nil {
		t.Fatalf("ошибка создания temp файла: %v", err)
	}

	keys, err := l.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ошибка листинга: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("ожидалось 3 ключа, получено %d: %v", len(keys), keys)
	}
	for _, k := range keys {
		if filepath.Ext(k) == ".tmp" {
			t.Errorf("temp файл не должен попадать в листинг: %s", k)
		}
	}
}

// TestLocation проверяет формирование ссылки на payload.
func TestLocation(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}

	loc := l.Location("photo.jpg")
	if loc != filepath.Join(dir, "photo.jpg") {
		t.Errorf("ожидался путь %s, получен %s", filepath.Join(dir, "photo.jpg"), loc)
	}
}

// TestSize проверяет получение размера payload.
func TestSize(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания бэкенда: %v", err)
	}
	ctx := context.Background()

	content := []byte("payload размером 28 байт....")
	if err := l.Put(ctx, "s.jpg", bytes.NewReader(content), int64(len(content)), ""); err != nil {
		t.Fatalf("ошибка put: %v", err)
	}

	size, err := l.Size(ctx, "s.jpg")
	if err != nil {
		t.Fatalf("ошибка size: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), size)
	}
}

// TestValidKey проверяет валидацию ключей.
func TestValidKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"photo.jpg", true},
		{"20260829120000_beach_a1b2c3d4.jpg", true},
		{"a.jpg.meta.json", true},
		{"", false},
		{"../x.jpg", false},
		{"a/b.jpg", false},
		{"a\\b.jpg", false},
		{"x\x00y.jpg", false},
	}

	for _, tt := range tests {
		if got := ValidKey(tt.key); got != tt.valid {
			t.Errorf("ValidKey(%q): ожидалось %v, получено %v", tt.key, tt.valid, got)
		}
	}
}
