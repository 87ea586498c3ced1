package watcher

import (
	"log/slog"

	"trafficrc/internal/config"
)

// LevelReloader применяет на ходу только log_level; сетевые параметры требуют перезапуска
type LevelReloader struct {
	Level *slog.LevelVar
	Log   *slog.Logger
	// Load - nil означает config.Load
	Load func(path string) (*config.Config, error)
}

func (r *LevelReloader) Reload(path string) error {
	load := r.Load
	if load == nil {
		load = config.Load
	}

	cfg, err := load(path)
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	if prev := r.Level.Level(); prev != level {
		r.Level.Set(level)
		if r.Log != nil {
			r.Log.Info("log level changed",
				slog.String("from", prev.String()),
				slog.String("to", level.String()),
			)
		}
	}
	return nil
}
