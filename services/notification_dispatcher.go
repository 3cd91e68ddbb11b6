package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher defaults
const (
	DefaultNotifyWorkers   = 4
	DefaultNotifyQueueSize = 256
	DefaultDeliveryTimeout = 30 * time.Second
)

// Notification is one queued message for a NotificationSink
type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

// DispatcherStats counts dispatcher outcomes
type DispatcherStats struct {
	Queued    uint64 `json:"queued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// NotificationDispatcher accepts notifications without blocking and
// delivers them from a fixed pool of workers.
type NotificationDispatcher struct {
	sink    NotificationSink
	workers int
	timeout time.Duration
	logger  zerolog.Logger

	queue chan Notification
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	queued    atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewNotificationDispatcher creates a dispatcher in front of sink
func NewNotificationDispatcher(sink NotificationSink, workers, queueSize int, logger zerolog.Logger) *NotificationDispatcher {
	if workers <= 0 {
		workers = DefaultNotifyWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultNotifyQueueSize
	}
	return &NotificationDispatcher{
		sink:    sink,
		workers: workers,
		timeout: DefaultDeliveryTimeout,
		logger:  logger,
		queue:   make(chan Notification, queueSize),
	}
}

// Start launches the worker pool
func (d *NotificationDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(ctx, id)
		}(i)
	}
}

// Dispatch queues a notification. It never blocks; when the queue is full
// the notification is dropped and logged.
func (d *NotificationDispatcher) Dispatch(n Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return false
	}

	select {
	case d.queue <- n:
		d.queued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn().
			Str("recipient", n.Recipient).
			Str("subject", n.Subject).
			Msg("notification queue full, dropping")
		return false
	}
}

// Stop closes the queue and waits for queued notifications to be delivered
func (d *NotificationDispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// Stats returns dispatcher counters
func (d *NotificationDispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Queued:    d.queued.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

func (d *NotificationDispatcher) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, id, n)
		}
	}
}

func (d *NotificationDispatcher) deliver(ctx context.Context, id int, n Notification) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sink.Send(ctx, n.Recipient, n.Subject, n.Body); err != nil {
		d.failed.Add(1)
		d.logger.Error().
			Err(err).
			Int("worker", id).
			Str("recipient", n.Recipient).
			Msg("notification delivery failed")
		return
	}
	d.delivered.Add(1)
}
