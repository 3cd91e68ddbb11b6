package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto_alert_backend/models"

	"github.com/rs/zerolog"
)

type broadcastFixture struct {
	src         *fakeSource
	cache       *PriceCache
	clock       *fakeClock
	registry    *SubscriberRegistry
	pusher      *recordingPusher
	queue       *recordingQueue
	broadcaster *Broadcaster
}

func newBroadcastFixture() *broadcastFixture {
	f := &broadcastFixture{
		src:      newFakeSource(),
		registry: NewSubscriberRegistry("usd"),
		pusher:   &recordingPusher{},
		queue:    &recordingQueue{},
	}
	f.cache, f.clock = newTestCache(f.src, time.Minute)
	engine := NewAlertEngine(f.registry, f.queue, f.pusher, "alerts@example.com", zerolog.Nop())
	f.broadcaster = NewBroadcaster(f.cache, engine, f.registry, f.pusher, zerolog.Nop())
	return f
}

func TestBroadcaster_TickPushesEachCurrencyToItsSubscribers(t *testing.T) {
	f := newBroadcastFixture()
	f.src.set("usd", quote("bitcoin", 50000))
	f.src.set("eur", quote("bitcoin", 46000))

	a := f.registry.Connect()
	b := f.registry.Connect()
	f.registry.SetCurrency(b, "eur")

	reports := f.broadcaster.Tick(context.Background())
	if len(reports) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(reports))
	}

	toA := f.pusher.to(a)
	if len(toA) != 1 || toA[0].msg.Type != models.EventPriceUpdate || toA[0].msg.Currency != "usd" {
		t.Fatalf("unexpected pushes to a: %+v", toA)
	}
	toB := f.pusher.to(b)
	if len(toB) != 1 || toB[0].msg.Currency != "eur" {
		t.Fatalf("unexpected pushes to b: %+v", toB)
	}

	for currency, state := range f.broadcaster.States() {
		if state != StateIdle {
			t.Fatalf("currency %s left in state %s", currency, state)
		}
	}
	if f.broadcaster.TickCount() != 1 {
		t.Fatalf("expected tick count 1, got %d", f.broadcaster.TickCount())
	}
}

func TestBroadcaster_IdleTickFetchesNothing(t *testing.T) {
	f := newBroadcastFixture()

	if reports := f.broadcaster.Tick(context.Background()); len(reports) != 0 {
		t.Fatalf("expected no cycles without subscribers, got %d", len(reports))
	}
	if f.src.Calls("usd") != 0 {
		t.Fatal("no fetch expected without subscribers")
	}
}

func TestBroadcaster_DisconnectBeforeTick(t *testing.T) {
	f := newBroadcastFixture()
	f.src.set("usd", quote("bitcoin", 50000))

	id := f.registry.Connect()
	f.registry.AddRule(id, "bitcoin", 40000)
	f.registry.Disconnect(id)

	f.broadcaster.Tick(context.Background())

	if got := f.pusher.to(id); len(got) != 0 {
		t.Fatalf("disconnected subscriber received %d pushes", len(got))
	}
	if len(f.queue.all()) != 0 {
		t.Fatal("rules of a disconnected subscriber must not fire")
	}
}

func TestBroadcaster_FiresAlertAndPushes(t *testing.T) {
	f := newBroadcastFixture()
	f.src.set("usd", quote("bitcoin", 50000))

	id := f.registry.Connect()
	f.registry.AddRule(id, "bitcoin", 40000)

	reports := f.broadcaster.Tick(context.Background())
	if len(reports) != 1 || reports[0].AlertsFired != 1 || reports[0].Pushed != 1 {
		t.Fatalf("unexpected reports %+v", reports)
	}

	// Within the TTL the second tick reuses the snapshot and fires nothing new
	f.broadcaster.Tick(context.Background())
	if len(f.queue.all()) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.queue.all()))
	}
	if f.src.Calls("usd") != 1 {
		t.Fatalf("expected 1 upstream call, got %d", f.src.Calls("usd"))
	}
}

func TestBroadcaster_CycleCompletesOnUpstreamFailure(t *testing.T) {
	f := newBroadcastFixture()
	f.src.fail("usd", errors.New("HTTP 500"))

	id := f.registry.Connect()
	reports := f.broadcaster.Tick(context.Background())

	if len(reports) != 1 || reports[0].Coins != 0 {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if state := f.broadcaster.States()["usd"]; state != StateIdle {
		t.Fatalf("expected idle after failure, got %s", state)
	}

	pushes := f.pusher.to(id)
	if len(pushes) != 1 {
		t.Fatalf("expected an empty price_update, got %d pushes", len(pushes))
	}
	quotes, ok := pushes[0].msg.Data.([]models.CoinQuote)
	if !ok || len(quotes) != 0 {
		t.Fatalf("expected empty quote list, got %#v", pushes[0].msg.Data)
	}
}

func TestBroadcaster_OnConnectAndCurrencyChange(t *testing.T) {
	f := newBroadcastFixture()
	f.src.set("usd", quote("bitcoin", 50000))
	f.src.set("gbp", quote("bitcoin", 39000))

	id := f.registry.Connect()
	f.broadcaster.OnConnect(context.Background(), id)
	if pushes := f.pusher.to(id); len(pushes) != 1 || pushes[0].msg.Currency != "usd" {
		t.Fatalf("expected usd snapshot on connect, got %+v", pushes)
	}

	if err := f.broadcaster.OnCurrencyChange(context.Background(), id, "GBP"); err != nil {
		t.Fatalf("OnCurrencyChange: %v", err)
	}
	pushes := f.pusher.to(id)
	if len(pushes) != 2 || pushes[1].msg.Currency != "gbp" {
		t.Fatalf("expected gbp snapshot after change, got %+v", pushes)
	}
	if currency, _ := f.registry.Currency(id); currency != "gbp" {
		t.Fatalf("expected gbp, got %s", currency)
	}

	err := f.broadcaster.OnCurrencyChange(context.Background(), id, "not a currency")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if currency, _ := f.registry.Currency(id); currency != "gbp" {
		t.Fatal("invalid currency must not change the subscriber")
	}
}

type panickingSource struct{}

func (panickingSource) FetchMarkets(context.Context, string) ([]models.CoinQuote, error) {
	panic("boom")
}

func TestBroadcaster_RecoversFromPanic(t *testing.T) {
	registry := NewSubscriberRegistry("usd")
	cache := NewPriceCache(panickingSource{}, time.Minute, zerolog.Nop())
	engine := NewAlertEngine(registry, nil, nil, "", zerolog.Nop())
	b := NewBroadcaster(cache, engine, registry, nil, zerolog.Nop())

	registry.Connect()
	b.Tick(context.Background())

	if state := b.States()["usd"]; state != StateIdle {
		t.Fatalf("expected idle after panic, got %s", state)
	}
}
