package services

import (
	"context"
	"sync"
	"time"

	"crypto_alert_backend/models"
)

// fakeSource is a PriceSource with per-currency quotes and failures
type fakeSource struct {
	mu     sync.Mutex
	calls  map[string]int
	quotes map[string][]models.CoinQuote
	errs   map[string]error
	gate   chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:  make(map[string]int),
		quotes: make(map[string][]models.CoinQuote),
		errs:   make(map[string]error),
	}
}

func (f *fakeSource) set(currency string, quotes ...models.CoinQuote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[currency] = quotes
	delete(f.errs, currency)
}

func (f *fakeSource) fail(currency string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[currency] = err
}

// block makes every fetch wait until the returned release func is called
func (f *fakeSource) block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fakeSource) Calls(currency string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[currency]
}

func (f *fakeSource) FetchMarkets(ctx context.Context, currency string) ([]models.CoinQuote, error) {
	f.mu.Lock()
	f.calls[currency]++
	quotes := append([]models.CoinQuote(nil), f.quotes[currency]...)
	err := f.errs[currency]
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, &UpstreamError{Currency: currency, Err: err}
	}
	return quotes, nil
}

func quote(id string, price float64) models.CoinQuote {
	return models.CoinQuote{ID: id, Symbol: id, Name: id, CurrentPrice: price}
}

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type pushed struct {
	id  string
	msg models.WebSocketMessage
}

// recordingPusher keeps every pushed message
type recordingPusher struct {
	mu     sync.Mutex
	pushes []pushed
}

func (p *recordingPusher) Push(id string, msg models.WebSocketMessage) {
	p.mu.Lock()
	p.pushes = append(p.pushes, pushed{id: id, msg: msg})
	p.mu.Unlock()
}

func (p *recordingPusher) PushMany(ids []string, msg models.WebSocketMessage) {
	for _, id := range ids {
		p.Push(id, msg)
	}
}

func (p *recordingPusher) ofType(msgType string) []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result []pushed
	for _, push := range p.pushes {
		if push.msg.Type == msgType {
			result = append(result, push)
		}
	}
	return result
}

func (p *recordingPusher) to(id string) []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result []pushed
	for _, push := range p.pushes {
		if push.id == id {
			result = append(result, push)
		}
	}
	return result
}

// recordingQueue is a NotificationQueue that keeps what it receives
type recordingQueue struct {
	mu            sync.Mutex
	notifications []Notification
}

func (q *recordingQueue) Dispatch(n Notification) bool {
	q.mu.Lock()
	q.notifications = append(q.notifications, n)
	q.mu.Unlock()
	return true
}

func (q *recordingQueue) all() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Notification(nil), q.notifications...)
}

// recordingSink is a NotificationSink that keeps what it receives
type recordingSink struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (s *recordingSink) Send(_ context.Context, recipient, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, Notification{Recipient: recipient, Subject: subject, Body: body})
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// waitFor polls cond until it holds or the timeout passes
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
