package services

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"crypto_alert_backend/models"

	"github.com/google/uuid"
)

// subscriber is the registry-owned record of one live connection
type subscriber struct {
	id string

	mu       sync.Mutex
	currency string
	userID   string
	email    string
	rules    []*models.AlertRule
	removed  bool
}

// SubscriberInfo is a point-in-time copy of a subscriber's attributes
type SubscriberInfo struct {
	ID       string
	Currency string
	UserID   string
	Email    string
}

// SubscriberRegistry owns every connected subscriber and its alert rules.
// Subscribers are keyed by an opaque connection id that is independent of
// the transport handle used to reach them.
type SubscriberRegistry struct {
	mu              sync.RWMutex
	subscribers     map[string]*subscriber
	order           []string
	defaultCurrency string
	now             func() time.Time
}

// NewSubscriberRegistry creates an empty registry
func NewSubscriberRegistry(defaultCurrency string) *SubscriberRegistry {
	defaultCurrency = models.NormalizeCurrency(defaultCurrency)
	if defaultCurrency == "" {
		defaultCurrency = models.DefaultCurrency
	}
	return &SubscriberRegistry{
		subscribers:     make(map[string]*subscriber),
		defaultCurrency: defaultCurrency,
		now:             time.Now,
	}
}

// DefaultCurrency returns the currency assigned on connect
func (r *SubscriberRegistry) DefaultCurrency() string {
	return r.defaultCurrency
}

// Connect registers a new subscriber and returns its connection id
func (r *SubscriberRegistry) Connect() string {
	sub := &subscriber{
		id:       uuid.NewString(),
		currency: r.defaultCurrency,
	}

	r.mu.Lock()
	r.subscribers[sub.id] = sub
	r.order = append(r.order, sub.id)
	r.mu.Unlock()

	return sub.id
}

// Disconnect removes a subscriber and all its rules. Unknown ids are ignored.
func (r *SubscriberRegistry) Disconnect(id string) {
	r.mu.Lock()
	sub, ok := r.subscribers[id]
	if ok {
		delete(r.subscribers, id)
		for i, sid := range r.order {
			if sid == id {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	// Passes that already hold the record will skip it from now on
	sub.mu.Lock()
	sub.removed = true
	sub.rules = nil
	sub.mu.Unlock()
}

// SetCurrency changes the display currency of a subscriber
func (r *SubscriberRegistry) SetCurrency(id, currency string) bool {
	sub := r.get(id)
	if sub == nil {
		return false
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.removed {
		return false
	}
	sub.currency = models.NormalizeCurrency(currency)
	return true
}

// Currency returns the display currency of a subscriber
func (r *SubscriberRegistry) Currency(id string) (string, bool) {
	sub := r.get(id)
	if sub == nil {
		return "", false
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.removed {
		return "", false
	}
	return sub.currency, true
}

// SetIdentity tags a subscriber with the authenticated account behind it
func (r *SubscriberRegistry) SetIdentity(id, userID, email string) bool {
	sub := r.get(id)
	if sub == nil {
		return false
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.removed {
		return false
	}
	sub.userID = userID
	sub.email = email
	return true
}

// Info returns a copy of a subscriber's attributes
func (r *SubscriberRegistry) Info(id string) (SubscriberInfo, bool) {
	sub := r.get(id)
	if sub == nil {
		return SubscriberInfo{}, false
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.removed {
		return SubscriberInfo{}, false
	}
	return sub.info(), true
}

// AddRule registers an alert rule priced in the subscriber's current
// currency and returns its id.
func (r *SubscriberRegistry) AddRule(id, coinID string, targetPrice float64) (string, error) {
	return r.AddRuleIn(id, coinID, targetPrice, "")
}

// AddRuleIn registers an alert rule priced in currency. An empty currency
// means the subscriber's current display currency.
func (r *SubscriberRegistry) AddRuleIn(id, coinID string, targetPrice float64, currency string) (string, error) {
	coinID = strings.TrimSpace(coinID)
	if coinID == "" {
		return "", NewValidationError("coinId", coinID, "coin id is required")
	}
	if math.IsNaN(targetPrice) || math.IsInf(targetPrice, 0) || targetPrice <= 0 {
		return "", NewValidationError("targetPrice", targetPrice, "target price must be a positive number")
	}
	currency = models.NormalizeCurrency(currency)
	if currency != "" && !models.IsValidCurrency(currency) {
		return "", NewValidationError("currency", currency, "unsupported currency code")
	}

	sub := r.get(id)
	if sub == nil {
		return "", ErrUnknownSubscriber
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.removed {
		return "", ErrUnknownSubscriber
	}

	if currency == "" {
		currency = sub.currency
	}
	rule := &models.AlertRule{
		ID:          uuid.NewString(),
		CoinID:      coinID,
		TargetPrice: targetPrice,
		Currency:    currency,
		CreatedAt:   r.now(),
	}
	sub.rules = append(sub.rules, rule)
	return rule.ID, nil
}

// RemoveRule deletes a rule by id. Unknown subscribers or rules are ignored.
func (r *SubscriberRegistry) RemoveRule(id, ruleID string) {
	sub := r.get(id)
	if sub == nil {
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	for i, rule := range sub.rules {
		if rule.ID == ruleID {
			sub.rules = append(sub.rules[:i:i], sub.rules[i+1:]...)
			return
		}
	}
}

// Rule returns a copy of one rule
func (r *SubscriberRegistry) Rule(id, ruleID string) (models.AlertRule, bool) {
	sub := r.get(id)
	if sub == nil {
		return models.AlertRule{}, false
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	for _, rule := range sub.rules {
		if rule.ID == ruleID {
			return *rule, true
		}
	}
	return models.AlertRule{}, false
}

// ListRules returns copies of a subscriber's rules in creation order
func (r *SubscriberRegistry) ListRules(id string) []models.AlertRule {
	return r.rules(id, false)
}

// PendingRules returns copies of the rules that have not fired yet.
// The copy is taken under the subscriber lock, so it never reflects a
// partially applied add or remove.
func (r *SubscriberRegistry) PendingRules(id string) []models.AlertRule {
	return r.rules(id, true)
}

// MarkNotified flips a rule from pending to notified. It returns true only
// for the single caller that performed the transition.
func (r *SubscriberRegistry) MarkNotified(id, ruleID string) bool {
	sub := r.get(id)
	if sub == nil {
		return false
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.removed {
		return false
	}

	for _, rule := range sub.rules {
		if rule.ID == ruleID {
			if rule.Notified {
				return false
			}
			rule.Notified = true
			return true
		}
	}
	return false
}

// ForEachSubscriber calls fn for every subscriber registered when the pass
// started. Subscribers disconnected during the pass are skipped. No registry
// lock is held while fn runs, so fn may call back into the registry.
func (r *SubscriberRegistry) ForEachSubscriber(fn func(SubscriberInfo)) {
	for _, sub := range r.snapshot() {
		sub.mu.Lock()
		if sub.removed {
			sub.mu.Unlock()
			continue
		}
		info := sub.info()
		sub.mu.Unlock()

		fn(info)
	}
}

// SubscribersOf returns the ids of subscribers displaying currency
func (r *SubscriberRegistry) SubscribersOf(currency string) []string {
	currency = models.NormalizeCurrency(currency)

	var ids []string
	r.ForEachSubscriber(func(info SubscriberInfo) {
		if info.Currency == currency {
			ids = append(ids, info.ID)
		}
	})
	return ids
}

// ActiveCurrencies returns, sorted, every currency that is displayed by a
// subscriber or that prices a pending rule.
func (r *SubscriberRegistry) ActiveCurrencies() []string {
	seen := make(map[string]struct{})
	for _, sub := range r.snapshot() {
		sub.mu.Lock()
		if !sub.removed {
			seen[sub.currency] = struct{}{}
			for _, rule := range sub.rules {
				if !rule.Notified {
					seen[rule.Currency] = struct{}{}
				}
			}
		}
		sub.mu.Unlock()
	}

	currencies := make([]string, 0, len(seen))
	for currency := range seen {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)
	return currencies
}

// Len returns the number of connected subscribers
func (r *SubscriberRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// RuleCount returns the number of rules across all subscribers
func (r *SubscriberRegistry) RuleCount() (total, pending int) {
	for _, sub := range r.snapshot() {
		sub.mu.Lock()
		total += len(sub.rules)
		for _, rule := range sub.rules {
			if !rule.Notified {
				pending++
			}
		}
		sub.mu.Unlock()
	}
	return total, pending
}

// Close releases every subscriber entry
func (r *SubscriberRegistry) Close() {
	r.mu.Lock()
	subs := r.subscribers
	r.subscribers = make(map[string]*subscriber)
	r.order = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.removed = true
		sub.rules = nil
		sub.mu.Unlock()
	}
}

func (r *SubscriberRegistry) get(id string) *subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subscribers[id]
}

// snapshot copies the subscriber list in connection order
func (r *SubscriberRegistry) snapshot() []*subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]*subscriber, 0, len(r.order))
	for _, id := range r.order {
		if sub, ok := r.subscribers[id]; ok {
			subs = append(subs, sub)
		}
	}
	return subs
}

func (r *SubscriberRegistry) rules(id string, pendingOnly bool) []models.AlertRule {
	sub := r.get(id)
	if sub == nil {
		return []models.AlertRule{}
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	result := make([]models.AlertRule, 0, len(sub.rules))
	for _, rule := range sub.rules {
		if pendingOnly && rule.Notified {
			continue
		}
		result = append(result, *rule)
	}
	return result
}

// info must be called with sub.mu held
func (s *subscriber) info() SubscriberInfo {
	return SubscriberInfo{
		ID:       s.id,
		Currency: s.currency,
		UserID:   s.userID,
		Email:    s.email,
	}
}
