package watcher

import (
	"sync/atomic"
	"time"
)

type WatcherMetrics struct {
	eventsProcessed int64
	reloads         int64
	errors          int64
	lastEventNano   int64
}

func NewWatcherMetrics() *WatcherMetrics {
	return &WatcherMetrics{}
}

func (m *WatcherMetrics) RecordEvent() {
	atomic.AddInt64(&m.eventsProcessed, 1)
	atomic.StoreInt64(&m.lastEventNano, time.Now().UnixNano())
}

func (m *WatcherMetrics) RecordReload() {
	atomic.AddInt64(&m.reloads, 1)
}

func (m *WatcherMetrics) RecordError() {
	atomic.AddInt64(&m.errors, 1)
}

func (m *WatcherMetrics) GetStats() map[string]interface{} {
	var last time.Time
	if ns := atomic.LoadInt64(&m.lastEventNano); ns != 0 {
		last = time.Unix(0, ns)
	}
	return map[string]interface{}{
		"events_processed": atomic.LoadInt64(&m.eventsProcessed),
		"reloads":          atomic.LoadInt64(&m.reloads),
		"errors":           atomic.LoadInt64(&m.errors),
		"last_event_time":  last,
	}
}
