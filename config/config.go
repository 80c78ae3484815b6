package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"
)

// Config holds application configuration.
type Config struct {
	DBPath   string
	LogLevel string
	Env      string

	Admin      AdminConfig
	BcryptCost int
}

// AdminConfig is the account created on first start.
type AdminConfig struct {
	Username string
	Email    string
	Password string
}

// Development reports whether LIBRARY_ENV=development.
func (c *Config) Development() bool { return strings.EqualFold(c.Env, "development") }

// Load reads an optional .env file (or the given files) and then the process
// environment. A missing default .env is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env: %w", err)
		}
	}

	return &Config{
		DBPath:   getEnv("LIBRARY_DB", "library.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("LIBRARY_ENV", "production"),
		Admin: AdminConfig{
			Username: getEnv("ADMIN_USERNAME", "admin"),
			Email:    getEnv("ADMIN_EMAIL", "admin@library.com"),
			Password: getEnv("ADMIN_PASSWORD", "admin123"),
		},
		BcryptCost: getEnvAsInt("BCRYPT_COST", bcrypt.DefaultCost),
	}, nil
}

// NewLogger builds a console logger at level. Development mode adds caller
// and stack details.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
