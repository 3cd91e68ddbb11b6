package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crypto_alert_backend/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type wsFrame struct {
	Type     string          `json:"type"`
	Currency string          `json:"currency"`
	Data     json.RawMessage `json:"data"`
}

type hubFixture struct {
	src         *fakeSource
	registry    *SubscriberRegistry
	service     *RealtimePriceService
	broadcaster *Broadcaster
	server      *httptest.Server
}

func newHubFixture(t *testing.T, maxClients int) *hubFixture {
	t.Helper()

	f := &hubFixture{
		src:      newFakeSource(),
		registry: NewSubscriberRegistry("usd"),
	}
	f.src.set("usd", quote("bitcoin", 50000), quote("ethereum", 3000))
	f.src.set("eur", quote("bitcoin", 46000))

	cache, _ := newTestCache(f.src, time.Minute)
	f.service = NewRealtimePriceService(f.registry, maxClients, zerolog.Nop())
	engine := NewAlertEngine(f.registry, nil, f.service, "", zerolog.Nop())
	f.broadcaster = NewBroadcaster(cache, engine, f.registry, f.service, zerolog.Nop())
	f.service.SetHandler(f.broadcaster)

	f.server = httptest.NewServer(http.HandlerFunc(f.service.HandleWebSocket))
	t.Cleanup(func() {
		f.service.Shutdown()
		f.server.Close()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func mustDial(t *testing.T, f *hubFixture) *websocket.Conn {
	t.Helper()
	conn, _, err := f.dial(t, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	return frame
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(models.InboundMessage{Type: msgType, Data: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRealtime_SnapshotOnConnect(t *testing.T) {
	f := newHubFixture(t, 10)
	conn := mustDial(t, f)

	frame := readFrame(t, conn)
	if frame.Type != models.EventPriceUpdate || frame.Currency != "usd" {
		t.Fatalf("unexpected first frame %+v", frame)
	}
	var quotes []models.CoinQuote
	if err := json.Unmarshal(frame.Data, &quotes); err != nil || len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d (%v)", len(quotes), err)
	}
	if f.service.GetClientCount() != 1 || f.registry.Len() != 1 {
		t.Fatal("expected one registered client")
	}
}

func TestRealtime_ClientEvents(t *testing.T) {
	f := newHubFixture(t, 10)
	conn := mustDial(t, f)
	readFrame(t, conn)

	send(t, conn, models.EventAddTarget, models.AddTargetRequest{CoinID: "bitcoin", TargetPrice: 60000})
	frame := readFrame(t, conn)
	if frame.Type != models.EventAlertAdded {
		t.Fatalf("expected alert_added, got %+v", frame)
	}
	var added models.AlertAdded
	json.Unmarshal(frame.Data, &added)
	if added.Message != "Alert added for bitcoin at 60000 USD" || added.Alert.ID == "" || added.Alert.Currency != "usd" {
		t.Fatalf("unexpected ack %+v", added)
	}

	send(t, conn, models.EventGetTarget, nil)
	frame = readFrame(t, conn)
	var rules []models.AlertRule
	json.Unmarshal(frame.Data, &rules)
	if frame.Type != models.EventAlerts || len(rules) != 1 || rules[0].ID != added.Alert.ID {
		t.Fatalf("unexpected alerts frame %+v", frame)
	}

	send(t, conn, models.EventRemoveAlert, added.Alert.ID)
	send(t, conn, models.EventGetTarget, nil)
	frame = readFrame(t, conn)
	json.Unmarshal(frame.Data, &rules)
	if len(rules) != 0 {
		t.Fatalf("expected no rules after remove, got %d", len(rules))
	}

	send(t, conn, models.EventAddTarget, models.AddTargetRequest{CoinID: "bitcoin", TargetPrice: -1})
	if frame := readFrame(t, conn); frame.Type != models.EventError {
		t.Fatalf("expected error for invalid target, got %+v", frame)
	}

	send(t, conn, "subscribe_everything", nil)
	if frame := readFrame(t, conn); frame.Type != models.EventError {
		t.Fatalf("expected error for unknown event, got %+v", frame)
	}
}

func TestRealtime_ChangeCurrency(t *testing.T) {
	f := newHubFixture(t, 10)
	conn := mustDial(t, f)
	readFrame(t, conn)

	send(t, conn, models.EventChangeCurrency, "EUR")
	frame := readFrame(t, conn)
	if frame.Type != models.EventPriceUpdate || frame.Currency != "eur" {
		t.Fatalf("expected eur snapshot, got %+v", frame)
	}

	send(t, conn, models.EventChangeCurrency, "euro-dollars")
	if frame := readFrame(t, conn); frame.Type != models.EventError {
		t.Fatalf("expected error for invalid currency, got %+v", frame)
	}
}

func TestRealtime_TickDeliversAlertAndPrices(t *testing.T) {
	f := newHubFixture(t, 10)
	conn := mustDial(t, f)
	readFrame(t, conn)

	send(t, conn, models.EventAddTarget, models.AddTargetRequest{CoinID: "bitcoin", TargetPrice: 45000})
	readFrame(t, conn)

	f.broadcaster.Tick(context.Background())

	reached := readFrame(t, conn)
	if reached.Type != models.EventTargetReached {
		t.Fatalf("expected target_reached, got %+v", reached)
	}
	var event models.TargetReached
	json.Unmarshal(reached.Data, &event)
	if event.CoinID != "bitcoin" || event.CurrentPrice != 50000 || event.TargetPrice != 45000 {
		t.Fatalf("unexpected event %+v", event)
	}
	if update := readFrame(t, conn); update.Type != models.EventPriceUpdate {
		t.Fatalf("expected price_update after alert, got %+v", update)
	}
}

func TestRealtime_DisconnectReleasesSubscriber(t *testing.T) {
	f := newHubFixture(t, 10)
	conn, _, err := f.dial(t, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readFrame(t, conn)
	conn.Close()

	if !waitFor(2*time.Second, func() bool { return f.service.GetClientCount() == 0 && f.registry.Len() == 0 }) {
		t.Fatalf("expected cleanup, clients=%d subscribers=%d", f.service.GetClientCount(), f.registry.Len())
	}

	// Pushing to a gone subscriber is a no-op
	f.service.Push("gone", models.NewMessage(models.EventAlerts, nil))
}

func TestRealtime_RejectsOverCapacity(t *testing.T) {
	f := newHubFixture(t, 1)
	mustDial(t, f)

	_, resp, err := f.dial(t, "")
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 handshake failure, got %v", err)
	}
}

func TestRealtime_TokenIdentity(t *testing.T) {
	f := newHubFixture(t, 10)
	f.service.SetTokenParser(func(token string) (Identity, error) {
		if token != "good" {
			return Identity{}, errors.New("bad token")
		}
		return Identity{UserID: "user-1", Email: "user@example.com"}, nil
	})

	_, resp, err := f.dial(t, "?token=bad")
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an invalid token, got %v", err)
	}

	conn, _, err := f.dial(t, "?token=good")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readFrame(t, conn)

	var infos []SubscriberInfo
	f.registry.ForEachSubscriber(func(info SubscriberInfo) { infos = append(infos, info) })
	if len(infos) != 1 || infos[0].UserID != "user-1" || infos[0].Email != "user@example.com" {
		t.Fatalf("unexpected identity %+v", infos)
	}
}

func TestRealtime_ShutdownClosesClients(t *testing.T) {
	f := newHubFixture(t, 10)
	conn := mustDial(t, f)
	readFrame(t, conn)

	f.service.Shutdown()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
	if f.registry.Len() != 0 || f.service.GetClientCount() != 0 {
		t.Fatal("expected every subscriber released")
	}
}
