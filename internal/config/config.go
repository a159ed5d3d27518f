package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries all runtime settings. It is built once in main and passed
// explicitly to the components that need it; there is no package-level state.
type Config struct {
	Addr          string
	DatabaseURL   string
	Environment   string
	ProjectName   string
	APIPrefix     string
	MigrationsDir string
	SeedsDir      string
	MaxBodyBytes  int64
}

// Load reads an optional .env file and then the environment, falling back to
// development defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:          getEnv("ACCESSDESK_ADDR", ":8080"),
		DatabaseURL:   getEnv("ACCESSDESK_PG_DSN", ""),
		Environment:   getEnv("ACCESSDESK_ENV", "development"),
		ProjectName:   getEnv("ACCESSDESK_PROJECT_NAME", "Accessdesk User & Role Administration"),
		APIPrefix:     getEnv("ACCESSDESK_API_PREFIX", "/api/v1"),
		MigrationsDir: getEnv("ACCESSDESK_MIGRATIONS_DIR", "ops/migrations/sql"),
		SeedsDir:      getEnv("ACCESSDESK_SEEDS_DIR", "ops/migrations/seeds"),
		MaxBodyBytes:  getEnvInt64("ACCESSDESK_MAX_BODY_BYTES", 1<<20),
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}
