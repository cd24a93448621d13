// Package logging builds the logrus loggers used across the bot.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/pkg/config"
)

type (
	Logger = *logrus.Logger
	Fields = logrus.Fields
)

// NewLoggerWithService returns a logger writing to stderr at LOG_LEVEL. Output
// is JSON unless LOG_FORMAT=text. Every entry carries service unless the
// caller sets that field itself.
func NewLoggerWithService(service string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(config.GetLogLevel())
	logger.SetFormatter(formatter(config.GetEnv("LOG_FORMAT", "json")))
	logger.AddHook(serviceHook(service))
	return logger
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{FullTimestamp: true}
	}
	return &logrus.JSONFormatter{}
}

type serviceHook string

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, set := entry.Data["service"]; !set {
		entry.Data["service"] = string(h)
	}
	return nil
}

// NewDiscardLogger drops everything it is given.
func NewDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
