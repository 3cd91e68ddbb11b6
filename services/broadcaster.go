package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crypto_alert_backend/models"

	"github.com/rs/zerolog"
)

// Pusher delivers outbound messages to connected subscribers. Pushes to
// unknown or disconnected subscribers are dropped silently.
type Pusher interface {
	Push(connectionID string, msg models.WebSocketMessage)
	PushMany(connectionIDs []string, msg models.WebSocketMessage)
}

// NopPusher discards every message
type NopPusher struct{}

// Push implements Pusher
func (NopPusher) Push(string, models.WebSocketMessage) {}

// PushMany implements Pusher
func (NopPusher) PushMany([]string, models.WebSocketMessage) {}

// CycleState is the phase of one currency's refresh cycle
type CycleState string

// Cycle states
const (
	StateIdle       CycleState = "idle"
	StateFetching   CycleState = "fetching"
	StateEvaluating CycleState = "evaluating"
	StatePushing    CycleState = "pushing"
)

// CycleReport summarizes one currency's pass of a tick
type CycleReport struct {
	Currency    string        `json:"currency"`
	Coins       int           `json:"coins"`
	AlertsFired int           `json:"alerts_fired"`
	Pushed      int           `json:"pushed"`
	Duration    time.Duration `json:"duration"`
}

// Broadcaster runs the refresh → evaluate → push cycle
type Broadcaster struct {
	cache    *PriceCache
	engine   *AlertEngine
	registry *SubscriberRegistry
	pusher   Pusher
	logger   zerolog.Logger

	mu     sync.RWMutex
	states map[string]CycleState
	ticks  uint64
}

// NewBroadcaster creates a new broadcaster
func NewBroadcaster(cache *PriceCache, engine *AlertEngine, registry *SubscriberRegistry, pusher Pusher, logger zerolog.Logger) *Broadcaster {
	if pusher == nil {
		pusher = NopPusher{}
	}
	return &Broadcaster{
		cache:    cache,
		engine:   engine,
		registry: registry,
		pusher:   pusher,
		logger:   logger,
		states:   make(map[string]CycleState),
	}
}

// Tick refreshes, evaluates and pushes every active currency. Currencies
// run independently, so a slow upstream stalls only its own currency.
func (b *Broadcaster) Tick(ctx context.Context) []CycleReport {
	currencies := b.registry.ActiveCurrencies()

	b.mu.Lock()
	b.ticks++
	b.mu.Unlock()

	if len(currencies) == 0 {
		return nil
	}

	reports := make([]CycleReport, len(currencies))
	var wg sync.WaitGroup
	for i, currency := range currencies {
		wg.Add(1)
		go func(i int, currency string) {
			defer wg.Done()
			reports[i] = b.cycle(ctx, currency)
		}(i, currency)
	}
	wg.Wait()

	b.logger.Debug().
		Strs("currencies", currencies).
		Int("subscribers", b.registry.Len()).
		Msg("tick completed")
	return reports
}

// cycle always returns to idle, whatever happens upstream
func (b *Broadcaster) cycle(ctx context.Context, currency string) (report CycleReport) {
	start := time.Now()
	report.Currency = currency

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("currency", currency).
				Str("panic", fmt.Sprint(r)).
				Msg("refresh cycle panicked")
		}
		b.setState(currency, StateIdle)
		report.Duration = time.Since(start)
	}()

	b.setState(currency, StateFetching)
	snapshot := b.cache.Refresh(ctx, currency)
	report.Coins = snapshot.Len()

	b.setState(currency, StateEvaluating)
	report.AlertsFired = len(b.engine.Evaluate(snapshot))

	b.setState(currency, StatePushing)
	ids := b.registry.SubscribersOf(currency)
	if len(ids) > 0 {
		b.pusher.PushMany(ids, models.PriceUpdateMessage(snapshot))
	}
	report.Pushed = len(ids)

	return report
}

// OnConnect pushes the current snapshot of the subscriber's currency at
// once, without waiting for the next tick.
func (b *Broadcaster) OnConnect(ctx context.Context, connectionID string) {
	currency, ok := b.registry.Currency(connectionID)
	if !ok {
		return
	}
	b.pushSnapshot(ctx, connectionID, currency)
}

// OnCurrencyChange switches the subscriber's currency and pushes a
// snapshot of the new currency at once.
func (b *Broadcaster) OnCurrencyChange(ctx context.Context, connectionID, currency string) error {
	currency = models.NormalizeCurrency(currency)
	if !models.IsValidCurrency(currency) {
		return NewValidationError("currency", currency, "unsupported currency code")
	}
	if !b.registry.SetCurrency(connectionID, currency) {
		return nil
	}

	b.logger.Debug().
		Str("connection_id", connectionID).
		Str("currency", currency).
		Msg("subscriber currency changed")
	b.pushSnapshot(ctx, connectionID, currency)
	return nil
}

func (b *Broadcaster) pushSnapshot(ctx context.Context, connectionID, currency string) {
	snapshot := b.cache.Refresh(ctx, currency)
	b.pusher.Push(connectionID, models.PriceUpdateMessage(snapshot))
}

// States returns the last known cycle state per currency
func (b *Broadcaster) States() map[string]CycleState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	states := make(map[string]CycleState, len(b.states))
	for currency, state := range b.states {
		states[currency] = state
	}
	return states
}

// TickCount returns the number of ticks run so far
func (b *Broadcaster) TickCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ticks
}

func (b *Broadcaster) setState(currency string, state CycleState) {
	b.mu.Lock()
	b.states[currency] = state
	b.mu.Unlock()
}
