// ABOUTME: This file provides slog-based JSON logging configuration
// ABOUTME: Standardizes level parsing and service metadata across components
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls logger construction.
type Config struct {
	Level       string `env:"LOG_LEVEL" default:"info"`
	ServiceName string `env:"SERVICE_NAME" default:"news-collector"`
}

// LoadConfigFromEnv loads logger configuration from environment variables.
func LoadConfigFromEnv() *Config {
	return &Config{
		Level:       getEnvOrDefault("LOG_LEVEL", "info"),
		ServiceName: getEnvOrDefault("SERVICE_NAME", "news-collector"),
	}
}

// New creates a JSON slog.Logger writing to stdout.
func New(config *Config) *slog.Logger {
	return NewWithWriter(os.Stdout, config.ServiceName, config.Level)
}

// NewWithWriter creates a JSON slog.Logger with an explicit output writer.
func NewWithWriter(output io.Writer, serviceName, level string) *slog.Logger {
	options := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					return slog.Attr{Key: "level", Value: slog.StringValue(strings.ToLower(lvl.String()))}
				}
			}
			return a
		},
	}

	handler := slog.NewJSONHandler(output, options)

	return slog.New(handler).With("service", serviceName)
}

// ParseLevel maps a level string to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
