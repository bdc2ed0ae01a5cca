package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/convsession/internal/logger"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
// Файл ищется в текущем каталоге и до четырёх уровней выше; уже заданные
// переменные окружения не перезаписываются.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				logger.Errorf("config: ошибка чтения %s: %v", path, err)
			}
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// Config содержит настройки сессии, бэкенда и локального моста.
// Приоритет: переменные окружения > YAML > значения по умолчанию.
type Config struct {
	// Бэкенд сообщений
	APIBaseURL     string        `yaml:"api_base_url"`
	APIPrefix      string        `yaml:"api_prefix"`
	APIToken       string        `yaml:"api_token"`
	UserID         string        `yaml:"user_id"`
	RequestTimeout time.Duration `yaml:"-"`
	StreamURL      string        `yaml:"stream_url"`

	// Опрос
	PollInterval         time.Duration `yaml:"-"`
	PollFailureThreshold int           `yaml:"poll_failure_threshold"`
	RefreshRatePerSec    float64       `yaml:"refresh_rate_per_sec"`
	RefreshBurst         int           `yaml:"refresh_burst"`

	// Хранилище сессии. При пустом RedisURL хранение в памяти.
	RedisURL string `yaml:"redis_url"`

	// Локальный мост
	BridgeAddr         string  `yaml:"bridge_addr"`
	BridgeRateLimit    float64 `yaml:"bridge_rate_limit"`
	BridgeRateBurst    int     `yaml:"bridge_rate_burst"`
	CORSAllowedOrigins string  `yaml:"cors_allowed_origins"`

	// Dev-бэкенд (services/devbackend и флаг -dev)
	DevBackendAddr string `yaml:"dev_backend_addr"`

	LogLevel string `yaml:"log_level"`
}

// yamlConfig: промежуточная структура для парсинга YAML (таймауты в секундах).
type yamlConfig struct {
	APIBaseURL           string  `yaml:"api_base_url"`
	APIPrefix            string  `yaml:"api_prefix"`
	APIToken             string  `yaml:"api_token"`
	UserID               string  `yaml:"user_id"`
	RequestTimeoutSec    int     `yaml:"request_timeout_sec"`
	StreamURL            string  `yaml:"stream_url"`
	PollIntervalSec      int     `yaml:"poll_interval_sec"`
	PollFailureThreshold int     `yaml:"poll_failure_threshold"`
	RefreshRatePerSec    float64 `yaml:"refresh_rate_per_sec"`
	RefreshBurst         int     `yaml:"refresh_burst"`
	RedisURL             string  `yaml:"redis_url"`
	BridgeAddr           string  `yaml:"bridge_addr"`
	BridgeRateLimit      float64 `yaml:"bridge_rate_limit"`
	BridgeRateBurst      int     `yaml:"bridge_rate_burst"`
	CORSAllowedOrigins   string  `yaml:"cors_allowed_origins"`
	DevBackendAddr       string  `yaml:"dev_backend_addr"`
	LogLevel             string  `yaml:"log_level"`
}

func defaults() yamlConfig {
	return yamlConfig{
		APIBaseURL:           "http://localhost:8091",
		RequestTimeoutSec:    10,
		PollIntervalSec:      10,
		PollFailureThreshold: 3,
		RefreshRatePerSec:    1,
		RefreshBurst:         3,
		BridgeAddr:           ":8090",
		BridgeRateLimit:      50,
		BridgeRateBurst:      100,
		CORSAllowedOrigins:   "*",
		DevBackendAddr:       ":8091",
		LogLevel:             "info",
	}
}

// Load загружает конфигурацию: .env (вне production), затем YAML
// (CONFIG_PATH → config/session.yaml), затем переменные окружения.
func Load() *Config {
	loadEnv()
	yc := defaults()

	for _, path := range []string{os.Getenv("CONFIG_PATH"), "config/session.yaml"} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	cfg := &Config{
		APIBaseURL:           envStr("API_BASE_URL", yc.APIBaseURL),
		APIPrefix:            envStr("API_PREFIX", yc.APIPrefix),
		APIToken:             envStr("API_TOKEN", yc.APIToken),
		UserID:               envStr("USER_ID", yc.UserID),
		RequestTimeout:       time.Duration(envInt("REQUEST_TIMEOUT_SEC", yc.RequestTimeoutSec)) * time.Second,
		StreamURL:            envStr("STREAM_URL", yc.StreamURL),
		PollInterval:         time.Duration(envInt("POLL_INTERVAL_SEC", yc.PollIntervalSec)) * time.Second,
		PollFailureThreshold: envInt("POLL_FAILURE_THRESHOLD", yc.PollFailureThreshold),
		RefreshRatePerSec:    envFloat("REFRESH_RATE_PER_SEC", yc.RefreshRatePerSec),
		RefreshBurst:         envInt("REFRESH_BURST", yc.RefreshBurst),
		RedisURL:             envStr("REDIS_URL", yc.RedisURL),
		BridgeAddr:           envStr("BRIDGE_ADDR", yc.BridgeAddr),
		BridgeRateLimit:      envFloat("BRIDGE_RATE_LIMIT", yc.BridgeRateLimit),
		BridgeRateBurst:      envInt("BRIDGE_RATE_BURST", yc.BridgeRateBurst),
		CORSAllowedOrigins:   envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		DevBackendAddr:       envStr("DEV_BACKEND_ADDR", yc.DevBackendAddr),
		LogLevel:             envStr("LOG_LEVEL", yc.LogLevel),
	}
	cfg.normalize()

	if os.Getenv("APP_ENV") == "production" && cfg.CORSAllowedOrigins == "*" {
		logger.Errorf("config: в production задайте CORS_ALLOWED_ORIGINS (явный список origins, не *)")
	}
	return cfg
}

// normalize подставляет значения по умолчанию вместо нулевых и отрицательных.
func (c *Config) normalize() {
	d := defaults()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = time.Duration(d.RequestTimeoutSec) * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Duration(d.PollIntervalSec) * time.Second
	}
	if c.PollFailureThreshold <= 0 {
		c.PollFailureThreshold = d.PollFailureThreshold
	}
	if c.RefreshRatePerSec <= 0 {
		c.RefreshRatePerSec = d.RefreshRatePerSec
	}
	if c.RefreshBurst <= 0 {
		c.RefreshBurst = d.RefreshBurst
	}
	c.APIBaseURL = strings.TrimSuffix(c.APIBaseURL, "/")
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
