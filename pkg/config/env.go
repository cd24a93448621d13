// Package config reads settings from the process environment, optionally
// overlaid from .env files.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvFiles returns the files LoadEnv overlays, in order: .env, then the file
// named by ENV_FILE.
func EnvFiles() []string {
	files := []string{".env"}
	if extra := strings.TrimSpace(os.Getenv("ENV_FILE")); extra != "" && extra != ".env" {
		files = append(files, extra)
	}
	return files
}

// LoadEnv overlays every existing file from EnvFiles onto the environment.
// Later files win. Missing files are skipped.
func LoadEnv(logger *logrus.Logger) {
	var loaded []string
	for _, file := range EnvFiles() {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).WithField("file", file).Warn("Failed to load env file")
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger == nil {
		return
	}
	if len(loaded) == 0 {
		logger.Debug("No env files loaded, using process environment")
		return
	}
	logger.WithField("files", strings.Join(loaded, ",")).Debug("Loaded env files")
}

// lookup parses key with parse, falling back to def when the variable is
// unset, empty or malformed.
func lookup[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Ignoring malformed environment variable")
		return def
	}
	return v
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	return lookup(key, defaultValue, strconv.Atoi)
}

func GetEnvBool(key string, defaultValue bool) bool {
	return lookup(key, defaultValue, strconv.ParseBool)
}

// GetEnvDuration accepts Go duration strings such as "24h" or "90s".
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return lookup(key, defaultValue, time.ParseDuration)
}

// GetEnvList splits a comma separated variable and drops empty items.
func GetEnvList(key string, defaultValue []string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// GetLogLevel maps LOG_LEVEL to a logrus level, info by default.
func GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
