package app

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging настраивает уровень и формат глобального логгера.
func ConfigureLogging(cfg Config) error {
	level, err := log.ParseLevel(strings.TrimSpace(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("POS_LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("POS_LOG_FORMAT: unsupported format %q", cfg.LogFormat)
	}
	return nil
}
