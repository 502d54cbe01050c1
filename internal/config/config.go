// Пакет config — загрузка и валидация конфигурации CipherDrive
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

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корневая директория пользовательских песочниц (/<root>/<username>)
	UsersRoot string
	// Разрешённые корни для роли download_only (абсолютные пути через запятую)
	SharedRoots []string
	// Путь к директории журнала мутаций
	TxLogDir string
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Квота по умолчанию для новых пользователей в байтах
	DefaultQuotaBytes int64
	// Интервал автоматической сверки квот
	ReconcileInterval time.Duration
	// Интервал перевода истёкших публичных ссылок в expired
	ShareGCInterval time.Duration

	// Параметры подключения к PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Секрет подписи JWT (HS256)
	JWTSecret string
	// Время жизни access-токена
	JWTTTL time.Duration

	// Размер и TTL кэша принципалов в auth middleware
	UserCacheSize int
	UserCacheTTL  time.Duration

	// Учётные данные стартового администратора (опционально;
	// создаётся при первом запуске, если пользователей ещё нет)
	BootstrapAdminUser     string
	BootstrapAdminPassword string

	// Путь к TLS сертификату (опционально; пусто = HTTP без TLS)
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера.
	// Должен быть меньше K8s terminationGracePeriodSeconds (по умолчанию 30s).
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// CD_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("CD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("CD_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CD_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// CD_USERS_ROOT — обязательный, корень пользовательских песочниц
	cfg.UsersRoot, err = getEnvRequired("CD_USERS_ROOT")
	if err != nil {
		return nil, err
	}

	// CD_SHARED_ROOTS — разрешённые корни для download_only (опционально).
	// Абсолютные пути через запятую, например "/data/movies,/data/tv".
	for _, p := range strings.Split(getEnvDefault("CD_SHARED_ROOTS", ""), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("CD_SHARED_ROOTS: путь %q должен быть абсолютным", p)
		}
		cfg.SharedRoots = append(cfg.SharedRoots, p)
	}

	// CD_TXLOG_DIR — обязательный
	cfg.TxLogDir, err = getEnvRequired("CD_TXLOG_DIR")
	if err != nil {
		return nil, err
	}

	// CD_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GiB)
	cfg.MaxFileSize, err = getEnvInt64("CD_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("CD_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("CD_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// CD_DEFAULT_QUOTA_BYTES — квота по умолчанию (по умолчанию 5 GiB, -1 = безлимит)
	cfg.DefaultQuotaBytes, err = getEnvInt64("CD_DEFAULT_QUOTA_BYTES", 5*1024*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("CD_DEFAULT_QUOTA_BYTES: %w", err)
	}
	if cfg.DefaultQuotaBytes < -1 || cfg.DefaultQuotaBytes == 0 {
		return nil, fmt.Errorf("CD_DEFAULT_QUOTA_BYTES: допустимы положительные значения или -1 (безлимит), получено %d", cfg.DefaultQuotaBytes)
	}

	// CD_RECONCILE_INTERVAL — интервал сверки квот (по умолчанию 6h)
	cfg.ReconcileInterval, err = getEnvDuration("CD_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CD_RECONCILE_INTERVAL: %w", err)
	}

	// CD_SHARE_GC_INTERVAL — интервал обхода истёкших ссылок (по умолчанию 15m)
	cfg.ShareGCInterval, err = getEnvDuration("CD_SHARE_GC_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CD_SHARE_GC_INTERVAL: %w", err)
	}

	// Параметры PostgreSQL
	cfg.DBHost, err = getEnvRequired("CD_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("CD_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CD_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("CD_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("CD_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("CD_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("CD_DB_SSL_MODE", "disable")

	// CD_JWT_SECRET — обязательный, секрет подписи HS256
	cfg.JWTSecret, err = getEnvRequired("CD_JWT_SECRET")
	if err != nil {
		return nil, err
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("CD_JWT_SECRET: длина секрета должна быть не менее 32 символов")
	}

	// CD_JWT_TTL — время жизни access-токена (по умолчанию 24h)
	cfg.JWTTTL, err = getEnvDuration("CD_JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CD_JWT_TTL: %w", err)
	}

	// CD_USER_CACHE_SIZE — размер LRU-кэша принципалов (по умолчанию 1024)
	cfg.UserCacheSize, err = getEnvInt("CD_USER_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("CD_USER_CACHE_SIZE: %w", err)
	}
	if cfg.UserCacheSize <= 0 {
		return nil, fmt.Errorf("CD_USER_CACHE_SIZE: значение должно быть положительным")
	}

	// CD_USER_CACHE_TTL — TTL записей кэша принципалов (по умолчанию 30s)
	cfg.UserCacheTTL, err = getEnvDuration("CD_USER_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CD_USER_CACHE_TTL: %w", err)
	}

	// CD_BOOTSTRAP_ADMIN_USER / CD_BOOTSTRAP_ADMIN_PASSWORD —
	// стартовый администратор, создаётся только на пустой таблице users
	cfg.BootstrapAdminUser = getEnvDefault("CD_BOOTSTRAP_ADMIN_USER", "")
	cfg.BootstrapAdminPassword = getEnvDefault("CD_BOOTSTRAP_ADMIN_PASSWORD", "")
	if (cfg.BootstrapAdminUser == "") != (cfg.BootstrapAdminPassword == "") {
		return nil, fmt.Errorf("CD_BOOTSTRAP_ADMIN_USER и CD_BOOTSTRAP_ADMIN_PASSWORD должны быть заданы вместе")
	}

	// CD_TLS_CERT / CD_TLS_KEY — опциональны, но либо оба, либо ни одного
	cfg.TLSCert = getEnvDefault("CD_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("CD_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("CD_TLS_CERT и CD_TLS_KEY должны быть заданы вместе")
	}

	// CD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CD_LOG_LEVEL: %w", err)
	}

	// CD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// CD_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("CD_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CD_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN собирает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// TLSEnabled возвращает true, если сервер должен слушать с TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
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
