package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"crypto_alert_backend/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AlertSubject is the subject line of every target notification
const AlertSubject = "Target Price Reached"

// NotificationQueue accepts notifications for asynchronous delivery
type NotificationQueue interface {
	Dispatch(n Notification) bool
}

// TargetListener observes fired alerts
type TargetListener interface {
	OnTargetReached(event models.TargetReached)
}

// TargetListenerFunc adapts a function to TargetListener
type TargetListenerFunc func(event models.TargetReached)

// OnTargetReached implements TargetListener
func (f TargetListenerFunc) OnTargetReached(event models.TargetReached) {
	f(event)
}

// AlertEngine matches snapshots against every subscriber's pending rules
type AlertEngine struct {
	registry         *SubscriberRegistry
	queue            NotificationQueue
	pusher           Pusher
	defaultRecipient string
	logger           zerolog.Logger
	now              func() time.Time

	mu        sync.RWMutex
	listeners []TargetListener
}

// NewAlertEngine creates a new alert engine. defaultRecipient receives the
// mail of subscribers without an account email.
func NewAlertEngine(registry *SubscriberRegistry, queue NotificationQueue, pusher Pusher, defaultRecipient string, logger zerolog.Logger) *AlertEngine {
	if pusher == nil {
		pusher = NopPusher{}
	}
	return &AlertEngine{
		registry:         registry,
		queue:            queue,
		pusher:           pusher,
		defaultRecipient: defaultRecipient,
		logger:           logger,
		now:              time.Now,
	}
}

// AddListener registers an observer of fired alerts
func (e *AlertEngine) AddListener(listener TargetListener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, listener)
	e.mu.Unlock()
}

// Evaluate fires every pending rule priced in the snapshot's currency whose
// coin trades at or above its target. Each rule fires at most once, even
// when Evaluate runs concurrently.
func (e *AlertEngine) Evaluate(snapshot *models.PriceSnapshot) []models.TargetReached {
	if snapshot.IsEmpty() {
		return nil
	}

	var fired []models.TargetReached
	e.registry.ForEachSubscriber(func(info SubscriberInfo) {
		for _, rule := range e.registry.PendingRules(info.ID) {
			if rule.Currency != snapshot.Currency {
				continue
			}
			quote, ok := snapshot.Find(rule.CoinID)
			if !ok || !reached(quote.CurrentPrice, rule.TargetPrice) {
				continue
			}
			// Lost the race to another pass, or the rule was removed
			if !e.registry.MarkNotified(info.ID, rule.ID) {
				continue
			}

			event := e.fire(info, rule, quote)
			fired = append(fired, event)
		}
	})
	return fired
}

func (e *AlertEngine) fire(info SubscriberInfo, rule models.AlertRule, quote models.CoinQuote) models.TargetReached {
	userID := info.UserID
	if userID == "" {
		userID = info.ID
	}
	event := models.TargetReached{
		UserID:       userID,
		ConnectionID: info.ID,
		RuleID:       rule.ID,
		CoinID:       rule.CoinID,
		TargetPrice:  rule.TargetPrice,
		CurrentPrice: quote.CurrentPrice,
		Currency:     rule.Currency,
		ReachedAt:    e.now(),
	}

	e.logger.Info().
		Str("connection_id", info.ID).
		Str("rule_id", rule.ID).
		Str("coin_id", rule.CoinID).
		Float64("target_price", rule.TargetPrice).
		Float64("current_price", quote.CurrentPrice).
		Str("currency", rule.Currency).
		Msg("alert target reached")

	// Sinks that need an address reject an empty recipient themselves
	recipient := info.Email
	if recipient == "" {
		recipient = e.defaultRecipient
	}
	if e.queue != nil {
		e.queue.Dispatch(Notification{
			Recipient: recipient,
			Subject:   AlertSubject,
			Body:      RenderAlertMessage(event),
		})
	}

	e.pusher.Push(info.ID, models.NewMessage(models.EventTargetReached, event))

	e.mu.RLock()
	listeners := make([]TargetListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, listener := range listeners {
		listener.OnTargetReached(event)
	}

	return event
}

func reached(current, target float64) bool {
	return current >= target
}

// RenderAlertMessage renders the notification body of a fired alert
func RenderAlertMessage(event models.TargetReached) string {
	currency := strings.ToUpper(event.Currency)
	return fmt.Sprintf(
		"The price of %s has reached your target of %s %s. Current price: %s %s",
		event.CoinID,
		decimal.NewFromFloat(event.TargetPrice).String(), currency,
		decimal.NewFromFloat(event.CurrentPrice).String(), currency,
	)
}
