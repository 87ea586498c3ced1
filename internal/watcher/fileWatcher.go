package watcher

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"trafficrc/internal/util/logger/sl"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher следит за одним файлом конфигурации и вызывает Reloader после серии изменений
type ConfigWatcher struct {
	watcher   *fsnotify.Watcher
	reloader  Reloader
	target    string
	errors    chan error
	config    Config
	log       *slog.Logger
	debouncer *Debouncer
	metrics   *WatcherMetrics
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
}

// NewConfigWatcher начинает следить за path. Наблюдается каталог файла:
// при сохранении через rename сам файл заменяется новым.
func NewConfigWatcher(path string, r Reloader, config Config) (*ConfigWatcher, error) {
	if config.DebounceDuration == 0 {
		config.DebounceDuration = DefaultDebounceDuration
	}
	if config.BufferSize == 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.IgnorePatterns == nil {
		config.IgnorePatterns = IgnoredPatterns
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if info, err := os.Stat(target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	} else if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, target)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(target), err)
	}

	cw := &ConfigWatcher{
		watcher:   watcher,
		reloader:  r,
		target:    target,
		errors:    make(chan error, config.BufferSize),
		config:    config,
		log:       config.Logger.With(slog.String("component", "config_watcher")),
		debouncer: NewDebouncer(config.DebounceDuration),
		metrics:   NewWatcherMetrics(),
		stopChan:  make(chan struct{}),
	}

	cw.wg.Add(1)
	go cw.run()

	return cw, nil
}

func (cw *ConfigWatcher) run() {
	defer cw.wg.Done()

	for {
		select {
		case <-cw.stopChan:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if cw.shouldProcessEvent(event) {
				cw.processEvent(event)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.handleError(err)
		}
	}
}

func (cw *ConfigWatcher) shouldProcessEvent(event fsnotify.Event) bool {
	if event.Op&WatchedEvents == 0 {
		return false
	}

	for _, pattern := range cw.config.IgnorePatterns {
		if strings.Contains(event.Name, pattern) {
			return false
		}
	}

	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return name == cw.target
}

func (cw *ConfigWatcher) processEvent(event fsnotify.Event) {
	cw.metrics.RecordEvent()

	cw.debouncer.Debounce(cw.target, func() {
		op := "watcher.ConfigWatcher.reload"
		log := cw.log.With(slog.String("op", op))

		if err := cw.reloader.Reload(cw.target); err != nil {
			log.Warn("config reload failed", slog.String("path", cw.target), sl.Err(err))
			cw.handleError(fmt.Errorf("failed to reload %s: %w", cw.target, err))
			return
		}
		cw.metrics.RecordReload()
		log.Debug("config reloaded", slog.String("path", cw.target), slog.String("event", event.Op.String()))
	})
}

func (cw *ConfigWatcher) handleError(err error) {
	cw.metrics.RecordError()

	select {
	case cw.errors <- err:
	default:
		cw.log.Warn("error buffer full, dropping error", sl.Err(err))
	}
}

// Close останавливает наблюдение; повторный вызов возвращает ErrWatcherClosed
func (cw *ConfigWatcher) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.closed {
		return ErrWatcherClosed
	}
	cw.closed = true

	close(cw.stopChan)
	cw.wg.Wait()
	cw.debouncer.Stop()

	if err := cw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (cw *ConfigWatcher) Errors() <-chan error {
	return cw.errors
}

func (cw *ConfigWatcher) Metrics() *WatcherMetrics {
	return cw.metrics
}
