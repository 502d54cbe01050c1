package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// setEnvVars устанавливает переменные окружения для теста и возвращает
// функцию очистки. Всегда вызывать defer cleanup().
func setEnvVars(t *testing.T, vars map[string]string) func() {
	t.Helper()

	// Сохраняем оригинальные значения
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for k := range vars {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
	}

	// Устанавливаем новые
	for k, v := range vars {
		os.Setenv(k, v)
	}

	return func() {
		for k := range vars {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// clearAllCDEnvVars очищает все переменные окружения CD_* для чистого теста.
func clearAllCDEnvVars(t *testing.T) func() {
	t.Helper()
	keys := []string{
		"CD_PORT", "CD_USERS_ROOT", "CD_SHARED_ROOTS", "CD_TXLOG_DIR",
		"CD_MAX_FILE_SIZE", "CD_DEFAULT_QUOTA_BYTES",
		"CD_RECONCILE_INTERVAL", "CD_SHARE_GC_INTERVAL",
		"CD_DB_HOST", "CD_DB_PORT", "CD_DB_NAME", "CD_DB_USER",
		"CD_DB_PASSWORD", "CD_DB_SSL_MODE",
		"CD_JWT_SECRET", "CD_JWT_TTL",
		"CD_USER_CACHE_SIZE", "CD_USER_CACHE_TTL",
		"CD_TLS_CERT", "CD_TLS_KEY",
		"CD_LOG_LEVEL", "CD_LOG_FORMAT", "CD_SHUTDOWN_TIMEOUT",
	}
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// requiredEnvVars возвращает минимальный набор обязательных переменных.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"CD_USERS_ROOT":  "/srv/cipherdrive/users",
		"CD_TXLOG_DIR":   "/srv/cipherdrive/txlog",
		"CD_DB_HOST":     "localhost",
		"CD_DB_NAME":     "cipherdrive",
		"CD_DB_USER":     "cipherdrive",
		"CD_DB_PASSWORD": "secret",
		"CD_JWT_SECRET":  "0123456789abcdef0123456789abcdef",
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cleanup := clearAllCDEnvVars(t)
	defer cleanup()

	cleanupVars := setEnvVars(t, requiredEnvVars())
	defer cleanupVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	// Проверяем значения по умолчанию
	if cfg.Port != 8080 {
		t.Errorf("Port: ожидалось 8080, получено %d", cfg.Port)
	}
	if len(cfg.SharedRoots) != 0 {
		t.Errorf("SharedRoots: ожидался пустой список, получено %v", cfg.SharedRoots)
	}
	if cfg.MaxFileSize != 1073741824 {
		t.Errorf("MaxFileSize: ожидалось 1073741824, получено %d", cfg.MaxFileSize)
	}
	if cfg.DefaultQuotaBytes != 5*1024*1024*1024 {
		t.Errorf("DefaultQuotaBytes: ожидалось 5 GiB, получено %d", cfg.DefaultQuotaBytes)
	}
	if cfg.ReconcileInterval != 6*time.Hour {
		t.Errorf("ReconcileInterval: ожидалось 6h, получено %v", cfg.ReconcileInterval)
	}
	if cfg.ShareGCInterval != 15*time.Minute {
		t.Errorf("ShareGCInterval: ожидалось 15m, получено %v", cfg.ShareGCInterval)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort: ожидалось 5432, получено %d", cfg.DBPort)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode: ожидалось 'disable', получено %q", cfg.DBSSLMode)
	}
	if cfg.JWTTTL != 24*time.Hour {
		t.Errorf("JWTTTL: ожидалось 24h, получено %v", cfg.JWTTTL)
	}
	if cfg.UserCacheSize != 1024 {
		t.Errorf("UserCacheSize: ожидалось 1024, получено %d", cfg.UserCacheSize)
	}
	if cfg.UserCacheTTL != 30*time.Second {
		t.Errorf("UserCacheTTL: ожидалось 30s, получено %v", cfg.UserCacheTTL)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: ожидалось INFO, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: ожидалось 'json', получено %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 5s, получено %v", cfg.ShutdownTimeout)
	}
	if cfg.TLSEnabled() {
		t.Error("TLSEnabled: ожидалось false без сертификатов")
	}
}

func TestLoad_AllCustomValues(t *testing.T) {
	cleanup := clearAllCDEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["CD_PORT"] = "9090"
	vars["CD_SHARED_ROOTS"] = "/data/movies, /data/tv"
	vars["CD_MAX_FILE_SIZE"] = "536870912"
	vars["CD_DEFAULT_QUOTA_BYTES"] = "-1"
	vars["CD_RECONCILE_INTERVAL"] = "12h"
	vars["CD_SHARE_GC_INTERVAL"] = "5m"
	vars["CD_DB_PORT"] = "5433"
	vars["CD_DB_SSL_MODE"] = "require"
	vars["CD_JWT_TTL"] = "1h"
	vars["CD_USER_CACHE_SIZE"] = "256"
	vars["CD_USER_CACHE_TTL"] = "10s"
	vars["CD_TLS_CERT"] = "/tmp/tls.crt"
	vars["CD_TLS_KEY"] = "/tmp/tls.key"
	vars["CD_LOG_LEVEL"] = "debug"
	vars["CD_LOG_FORMAT"] = "text"
	vars["CD_SHUTDOWN_TIMEOUT"] = "10s"

	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port: ожидалось 9090, получено %d", cfg.Port)
	}
	if len(cfg.SharedRoots) != 2 || cfg.SharedRoots[0] != "/data/movies" || cfg.SharedRoots[1] != "/data/tv" {
		t.Errorf("SharedRoots: ожидалось [/data/movies /data/tv], получено %v", cfg.SharedRoots)
	}
	if cfg.MaxFileSize != 536870912 {
		t.Errorf("MaxFileSize: ожидалось 536870912, получено %d", cfg.MaxFileSize)
	}
	if cfg.DefaultQuotaBytes != -1 {
		t.Errorf("DefaultQuotaBytes: ожидалось -1, получено %d", cfg.DefaultQuotaBytes)
	}
	if cfg.ReconcileInterval != 12*time.Hour {
		t.Errorf("ReconcileInterval: ожидалось 12h, получено %v", cfg.ReconcileInterval)
	}
	if cfg.ShareGCInterval != 5*time.Minute {
		t.Errorf("ShareGCInterval: ожидалось 5m, получено %v", cfg.ShareGCInterval)
	}
	if cfg.DBPort != 5433 {
		t.Errorf("DBPort: ожидалось 5433, получено %d", cfg.DBPort)
	}
	if cfg.JWTTTL != time.Hour {
		t.Errorf("JWTTTL: ожидалось 1h, получено %v", cfg.JWTTTL)
	}
	if cfg.UserCacheSize != 256 {
		t.Errorf("UserCacheSize: ожидалось 256, получено %d", cfg.UserCacheSize)
	}
	if cfg.UserCacheTTL != 10*time.Second {
		t.Errorf("UserCacheTTL: ожидалось 10s, получено %v", cfg.UserCacheTTL)
	}
	if !cfg.TLSEnabled() {
		t.Error("TLSEnabled: ожидалось true")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel: ожидалось DEBUG, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat: ожидалось 'text', получено %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 10s, получено %v", cfg.ShutdownTimeout)
	}
}

func TestLoad_MissingRequiredVars(t *testing.T) {
	requiredKeys := []string{
		"CD_USERS_ROOT", "CD_TXLOG_DIR",
		"CD_DB_HOST", "CD_DB_NAME", "CD_DB_USER", "CD_DB_PASSWORD",
		"CD_JWT_SECRET",
	}

	for _, missing := range requiredKeys {
		t.Run(missing, func(t *testing.T) {
			cleanup := clearAllCDEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			delete(vars, missing)
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"ноль", "0"},
		{"выше диапазона", "70000"},
		{"не число", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := clearAllCDEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["CD_PORT"] = tt.value
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для CD_PORT=%s", tt.value)
			}
		})
	}
}

func TestLoad_InvalidMaxFileSize(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"не число", "abc"},
		{"нулевое", "0"},
		{"отрицательное", "-100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := clearAllCDEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["CD_MAX_FILE_SIZE"] = tt.value
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для CD_MAX_FILE_SIZE=%s", tt.value)
			}
		})
	}
}

func TestLoad_InvalidDefaultQuota(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"нулевое", "0"},
		{"меньше -1", "-2"},
		{"не число", "много"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := clearAllCDEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["CD_DEFAULT_QUOTA_BYTES"] = tt.value
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для CD_DEFAULT_QUOTA_BYTES=%s", tt.value)
			}
		})
	}
}

func TestLoad_RelativeSharedRoot(t *testing.T) {
	cleanup := clearAllCDEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["CD_SHARED_ROOTS"] = "data/movies"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка для относительного пути в CD_SHARED_ROOTS")
	}
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	cleanup := clearAllCDEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["CD_JWT_SECRET"] = "short"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка для короткого CD_JWT_SECRET")
	}
}

func TestLoad_TLSCertWithoutKey(t *testing.T) {
	cleanup := clearAllCDEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["CD_TLS_CERT"] = "/tmp/tls.crt"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка: CD_TLS_CERT без CD_TLS_KEY")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	durationVars := []string{
		"CD_RECONCILE_INTERVAL", "CD_SHARE_GC_INTERVAL",
		"CD_JWT_TTL", "CD_USER_CACHE_TTL", "CD_SHUTDOWN_TIMEOUT",
	}

	for _, varName := range durationVars {
		t.Run(varName, func(t *testing.T) {
			cleanup := clearAllCDEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars[varName] = "not-a-duration"
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для невалидного %s", varName)
			}
		})
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	cleanup := clearAllCDEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["CD_LOG_LEVEL"] = "invalid"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка для невалидного CD_LOG_LEVEL")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	cleanup := clearAllCDEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["CD_LOG_FORMAT"] = "yaml"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка для невалидного CD_LOG_FORMAT")
	}
}

func TestLoad_ValidLogLevels(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cleanup := clearAllCDEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["CD_LOG_LEVEL"] = tt.input
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			cfg, err := Load()
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if cfg.LogLevel != tt.expected {
				t.Errorf("LogLevel: ожидалось %v, получено %v", tt.expected, cfg.LogLevel)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.local",
		DBPort:     5432,
		DBName:     "cipherdrive",
		DBUser:     "cd",
		DBPassword: "pw",
		DBSSLMode:  "disable",
	}
	want := "postgres://cd:pw@db.local:5432/cipherdrive?sslmode=disable"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN: ожидалось %q, получено %q", want, got)
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
	}{
		{"json", "json"},
		{"text", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel:  slog.LevelInfo,
				LogFormat: tt.format,
			}
			logger := SetupLogger(cfg)
			if logger == nil {
				t.Fatal("SetupLogger вернул nil")
			}
		})
	}
}
