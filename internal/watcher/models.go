package watcher

import (
	"log/slog"
	"time"
)

// Reloader перечитывает файл конфигурации и применяет то, что можно применить на ходу
type Reloader interface {
	Reload(path string) error
}

// Config содержит настройки для ConfigWatcher
type Config struct {
	DebounceDuration time.Duration
	BufferSize       int
	IgnorePatterns   []string
	Logger           *slog.Logger
}
