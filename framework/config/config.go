package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the central typed configuration struct.
type Config struct {
	App       AppConfig
	Container ContainerConfig
	Log       LogConfig
}

type AppConfig struct {
	Name  string
	Env   string // local | production | testing
	Debug bool
	URL   string
	Port  string
}

// ContainerConfig controls where and how the compiled container is cached.
type ContainerConfig struct {
	CacheDir string
	// Definitions is the directory of YAML definition files.
	Definitions string
	SplitBytes  int
	LockTimeout time.Duration
	// Watch rebuilds the container when a definition file changes.
	Watch bool
}

type LogConfig struct {
	Level string // debug | info | warn | error
}

// Load reads .env (if present) and populates a Config from environment variables.
// Call once at bootstrap: cfg := config.Load()
func Load(envFiles ...string) *Config {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)

	debug := envBool("APP_DEBUG", true)
	level := "info"
	if debug {
		level = "debug"
	}
	return &Config{
		App: AppConfig{
			Name:  env("APP_NAME", "App"),
			Env:   env("APP_ENV", "local"),
			Debug: debug,
			URL:   env("APP_URL", "http://localhost"),
			Port:  env("APP_PORT", "8000"),
		},
		Container: ContainerConfig{
			CacheDir:    env("CONTAINER_CACHE_DIR", "var/cache"),
			Definitions: env("CONTAINER_DEFINITIONS", "config/services"),
			SplitBytes:  GetInt("CONTAINER_SPLIT_BYTES", 0),
			LockTimeout: GetDuration("CONTAINER_LOCK_TIMEOUT", 10*time.Second),
			Watch:       envBool("CONTAINER_WATCH", false),
		},
		Log: LogConfig{
			Level: env("LOG_LEVEL", level),
		},
	}
}

// Get returns a raw env value, falling back to defaultVal.
func Get(key, defaultVal string) string {
	return env(key, defaultVal)
}

// GetInt returns an int env value.
func GetInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// GetBool returns a bool env value.
func GetBool(key string, defaultVal bool) bool {
	return envBool(key, defaultVal)
}

// GetDuration returns a duration env value such as "5s".
func GetDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// ── helpers ─────────────────────────────────────────────────────────────────

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
