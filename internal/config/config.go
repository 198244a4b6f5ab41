// Пакет config — загрузка и валидация конфигурации Photo Store
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Типы бэкендов хранения.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Способы аутентификации S3.
const (
	S3AuthStatic = "static"
	S3AuthIAM    = "iam"
)

// Config содержит все параметры конфигурации Photo Store.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Уникальный идентификатор экземпляра (например, "photostore-01")
	InstanceID string
	// Тип бэкенда хранения: local или s3
	Backend string
	// Путь к директории хранения файлов (local backend)
	DataDir string
	// Путь к директории журнала намерений
	JournalDir string
	// Путь к директории временных файлов загрузки
	SpoolDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Allow-list MIME-типов (пустой список — значения по умолчанию)
	AllowedTypes []string
	// Интервал запуска janitor (очистка осиротевших файлов)
	JanitorInterval time.Duration
	// Интервал автоматической сверки
	ReconcileInterval time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Endpoint S3-совместимого хранилища (host:port)
	S3Endpoint string
	// Имя bucket
	S3Bucket string
	// Использовать TLS при подключении к S3
	S3UseSSL bool
	// Способ аутентификации: static или iam
	S3Auth string
	// Access key (только static)
	S3AccessKey string
	// Secret key (только static)
	S3SecretKey string
	// Базовый публичный URL для ссылок на объекты (опционально)
	S3PublicBase string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (PS_DEPHEALTH_GROUP)
	DephealthGroup string
	// Имя зависимости (целевого сервиса) в метриках topologymetrics
	DephealthDepName string
	// Не проверять TLS-сертификат endpoint-а при проверке зависимостей
	// (dev-среды с self-signed сертификатами)
	DephealthTLSSkipVerify bool
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Перед чтением окружения подхватывает .env файл, если он существует.
func Load() (*Config, error) {
	// .env — только для локальной разработки, отсутствие файла не ошибка
	_ = godotenv.Load()

	cfg := &Config{}

	// PS_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("PS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("PS_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("PS_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// PS_INSTANCE_ID — идентификатор экземпляра (по умолчанию hostname)
	cfg.InstanceID = getEnvDefault("PS_INSTANCE_ID", "")
	if cfg.InstanceID == "" {
		hostname, herr := os.Hostname()
		if herr != nil {
			hostname = "photostore"
		}
		cfg.InstanceID = hostname
	}

	// PS_BACKEND — тип бэкенда (по умолчанию local)
	cfg.Backend = getEnvDefault("PS_BACKEND", BackendLocal)
	if cfg.Backend != BackendLocal && cfg.Backend != BackendS3 {
		return nil, fmt.Errorf("PS_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.Backend)
	}

	// PS_DATA_DIR — обязательный для local backend
	cfg.DataDir = getEnvDefault("PS_DATA_DIR", "")
	if cfg.Backend == BackendLocal && cfg.DataDir == "" {
		return nil, fmt.Errorf("PS_DATA_DIR: обязательная переменная окружения не задана для PS_BACKEND=local")
	}

	// PS_JOURNAL_DIR — обязательный
	cfg.JournalDir, err = getEnvRequired("PS_JOURNAL_DIR")
	if err != nil {
		return nil, err
	}

	// PS_SPOOL_DIR — директория временных файлов (по умолчанию системная)
	cfg.SpoolDir = getEnvDefault("PS_SPOOL_DIR", os.TempDir())

	// PS_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 100 MiB)
	maxFileSize, err := getEnvInt64("PS_MAX_FILE_SIZE", 104857600)
	if err != nil {
		return nil, fmt.Errorf("PS_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("PS_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// PS_ALLOWED_TYPES — список MIME-типов через запятую
	// (пустое значение — allow-list по умолчанию в пакете validate)
	if raw := getEnvDefault("PS_ALLOWED_TYPES", ""); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				cfg.AllowedTypes = append(cfg.AllowedTypes, t)
			}
		}
	}

	// PS_GC_INTERVAL — интервал janitor (по умолчанию 1h)
	cfg.JanitorInterval, err = getEnvDuration("PS_GC_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PS_GC_INTERVAL: %w", err)
	}

	// PS_RECONCILE_INTERVAL — интервал сверки (по умолчанию 6h)
	cfg.ReconcileInterval, err = getEnvDuration("PS_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PS_RECONCILE_INTERVAL: %w", err)
	}

	// PS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("PS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// PS_TLS_CERT / PS_TLS_KEY — опциональны, но только парой
	cfg.TLSCert = getEnvDefault("PS_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("PS_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("PS_TLS_CERT и PS_TLS_KEY должны быть заданы вместе")
	}

	// PS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PS_LOG_LEVEL: %w", err)
	}

	// PS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Параметры S3 (только для PS_BACKEND=s3) ---
	if cfg.Backend == BackendS3 {
		cfg.S3Endpoint, err = getEnvRequired("PS_S3_ENDPOINT")
		if err != nil {
			return nil, err
		}

		cfg.S3Bucket, err = getEnvRequired("PS_S3_BUCKET")
		if err != nil {
			return nil, err
		}

		cfg.S3UseSSL, err = getEnvBool("PS_S3_USE_SSL", true)
		if err != nil {
			return nil, fmt.Errorf("PS_S3_USE_SSL: %w", err)
		}

		// PS_S3_AUTH — static (ключи) или iam (managed identity)
		cfg.S3Auth = getEnvDefault("PS_S3_AUTH", S3AuthStatic)
		if cfg.S3Auth != S3AuthStatic && cfg.S3Auth != S3AuthIAM {
			return nil, fmt.Errorf("PS_S3_AUTH: недопустимое значение %q, допустимые: static, iam", cfg.S3Auth)
		}

		if cfg.S3Auth == S3AuthStatic {
			cfg.S3AccessKey, err = getEnvRequired("PS_S3_ACCESS_KEY")
			if err != nil {
				return nil, err
			}
			cfg.S3SecretKey, err = getEnvRequired("PS_S3_SECRET_KEY")
			if err != nil {
				return nil, err
			}
		}

		cfg.S3PublicBase = getEnvDefault("PS_S3_PUBLIC_BASE", "")
	}

	// PS_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("PS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// PS_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("PS_DEPHEALTH_GROUP", "photostore")

	// PS_DEPHEALTH_DEP_NAME — имя зависимости в метриках topologymetrics
	cfg.DephealthDepName = getEnvDefault("PS_DEPHEALTH_DEP_NAME", "s3-endpoint")

	// PS_DEPHEALTH_TLS_SKIP_VERIFY — отключение проверки TLS-сертификата
	// (по умолчанию сертификат проверяется)
	cfg.DephealthTLSSkipVerify, err = getEnvBool("PS_DEPHEALTH_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("PS_DEPHEALTH_TLS_SKIP_VERIFY: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
