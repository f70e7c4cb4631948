// Пакет config — загрузка и валидация конфигурации Directory Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Directory Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8009)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Meilisearch ---

	// URL Meilisearch (например, http://meilisearch:7700)
	MeiliURL string
	// API-ключ Meilisearch (может быть пустым для dev-среды)
	MeiliAPIKey string
	// Имя индекса сайтов
	MeiliIndexName string

	// --- Поиск ---

	// Размер страницы при постраничном сканировании индекса
	SearchScanPageSize int
	// TTL кэша определения категорий
	CategoryCacheTTL time.Duration
	// Максимальный размер кэша определения категорий
	CategoryCacheSize int

	// --- Реиндексация ---

	// Количество параллельных воркеров реиндексации при bulk-операциях
	ReindexConcurrency int
	// Размер батча при полной реиндексации
	ReindexBatchSize int

	// --- Мониторинг зависимостей ---

	// Имя группы topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- HTTP-сервер ---

	// Таймаут чтения HTTP-запроса
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-ответа
	HTTPWriteTimeout time.Duration
	// Таймаут бездействия keep-alive соединения
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DM_PORT — порт HTTP-сервера (по умолчанию 8002)
	cfg.Port, err = getEnvInt("DM_PORT", 8002)
	if err != nil {
		return nil, fmt.Errorf("DM_PORT: %w", err)
	}
	if cfg.Port < 8000 || cfg.Port > 8009 {
		return nil, fmt.Errorf("DM_PORT: значение %d вне допустимого диапазона 8000-8009", cfg.Port)
	}

	// DM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DM_LOG_LEVEL: %w", err)
	}

	// DM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// DM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("DM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// DM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("DM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DM_DB_PORT: %w", err)
	}

	// DM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("DM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// DM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("DM_DB_USER")
	if err != nil {
		return nil, err
	}

	// DM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("DM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// DM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("DM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Meilisearch ---

	// DM_MEILI_URL — обязательный
	cfg.MeiliURL, err = getEnvRequired("DM_MEILI_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.MeiliURL = strings.TrimRight(cfg.MeiliURL, "/")

	// DM_MEILI_API_KEY — API-ключ (опционально, dev-среда работает без ключа)
	cfg.MeiliAPIKey = getEnvDefault("DM_MEILI_API_KEY", "")

	// DM_MEILI_INDEX — имя индекса (по умолчанию sites)
	cfg.MeiliIndexName = getEnvDefault("DM_MEILI_INDEX", "sites")

	// --- Поиск ---

	// DM_SEARCH_SCAN_PAGE_SIZE — размер страницы сканирования (по умолчанию 1000)
	cfg.SearchScanPageSize, err = getEnvInt("DM_SEARCH_SCAN_PAGE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("DM_SEARCH_SCAN_PAGE_SIZE: %w", err)
	}
	if cfg.SearchScanPageSize < 1 || cfg.SearchScanPageSize > 5000 {
		return nil, fmt.Errorf("DM_SEARCH_SCAN_PAGE_SIZE: значение %d вне допустимого диапазона 1-5000", cfg.SearchScanPageSize)
	}

	// DM_CATEGORY_CACHE_TTL — TTL кэша категорий (по умолчанию 5m)
	cfg.CategoryCacheTTL, err = getEnvDuration("DM_CATEGORY_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DM_CATEGORY_CACHE_TTL: %w", err)
	}

	// DM_CATEGORY_CACHE_SIZE — размер кэша категорий (по умолчанию 1000)
	cfg.CategoryCacheSize, err = getEnvInt("DM_CATEGORY_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("DM_CATEGORY_CACHE_SIZE: %w", err)
	}

	// --- Реиндексация ---

	// DM_REINDEX_CONCURRENCY — параллелизм bulk-реиндексации (по умолчанию 4)
	cfg.ReindexConcurrency, err = getEnvInt("DM_REINDEX_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("DM_REINDEX_CONCURRENCY: %w", err)
	}
	if cfg.ReindexConcurrency < 1 || cfg.ReindexConcurrency > 32 {
		return nil, fmt.Errorf("DM_REINDEX_CONCURRENCY: значение %d вне допустимого диапазона 1-32", cfg.ReindexConcurrency)
	}

	// DM_REINDEX_BATCH_SIZE — размер батча полной реиндексации (по умолчанию 500)
	cfg.ReindexBatchSize, err = getEnvInt("DM_REINDEX_BATCH_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("DM_REINDEX_BATCH_SIZE: %w", err)
	}
	if cfg.ReindexBatchSize < 1 || cfg.ReindexBatchSize > 10000 {
		return nil, fmt.Errorf("DM_REINDEX_BATCH_SIZE: значение %d вне допустимого диапазона 1-10000", cfg.ReindexBatchSize)
	}

	// --- Мониторинг зависимостей ---

	// DM_DEPHEALTH_GROUP — имя группы (по умолчанию sitedir)
	cfg.DephealthGroup = getEnvDefault("DM_DEPHEALTH_GROUP", "sitedir")

	// DM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("DM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- HTTP-сервер ---

	// DM_HTTP_READ_TIMEOUT — таймаут чтения запроса (по умолчанию 30s)
	cfg.HTTPReadTimeout, err = getEnvDuration("DM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_HTTP_READ_TIMEOUT: %w", err)
	}

	// DM_HTTP_WRITE_TIMEOUT — таймаут записи ответа (по умолчанию 60s)
	cfg.HTTPWriteTimeout, err = getEnvDuration("DM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// DM_HTTP_IDLE_TIMEOUT — таймаут keep-alive соединений (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("DM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	// DM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("DM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL
// (для topologymetrics — источник лейблов, не для подключения).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
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

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
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
