package services

import (
	"sync"

	"crypto_alert_backend/models"
)

// DefaultAlertFeedSize is the number of fired alerts kept for the REST feed
const DefaultAlertFeedSize = 100

// AlertFeed keeps the most recent fired alerts in a ring buffer
type AlertFeed struct {
	mu    sync.RWMutex
	buf   []models.TargetReached
	next  int
	full  bool
	total uint64
}

// NewAlertFeed creates a feed holding up to size alerts
func NewAlertFeed(size int) *AlertFeed {
	if size <= 0 {
		size = DefaultAlertFeedSize
	}
	return &AlertFeed{buf: make([]models.TargetReached, size)}
}

// OnTargetReached implements TargetListener
func (f *AlertFeed) OnTargetReached(event models.TargetReached) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf[f.next] = event
	f.next = (f.next + 1) % len(f.buf)
	if f.next == 0 {
		f.full = true
	}
	f.total++
}

// Recent returns up to limit alerts, newest first. limit <= 0 means all.
func (f *AlertFeed) Recent(limit int) []models.TargetReached {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.next
	if f.full {
		n = len(f.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	result := make([]models.TargetReached, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (f.next - 1 - i + len(f.buf)) % len(f.buf)
		result = append(result, f.buf[idx])
	}
	return result
}

// Total returns the number of alerts observed since start
func (f *AlertFeed) Total() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.total
}
