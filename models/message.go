package models

import (
	"encoding/json"
	"time"
)

// Websocket event types
const (
	EventChangeCurrency = "change_currency"
	EventAddTarget      = "add_target"
	EventRemoveAlert    = "remove_alert"
	EventGetTarget      = "get_target"

	EventPriceUpdate   = "price_update"
	EventAlertAdded    = "alert_added"
	EventAlerts        = "alerts"
	EventTargetReached = "target_reached"
	EventError         = "error"
)

// WebSocketMessage is the envelope of every outbound websocket frame
type WebSocketMessage struct {
	Type     string      `json:"type"`
	Currency string      `json:"currency,omitempty"`
	Data     interface{} `json:"data"`
	Time     string      `json:"time"`
}

// NewMessage stamps an outbound message with the current time
func NewMessage(msgType string, data interface{}) WebSocketMessage {
	return WebSocketMessage{
		Type: msgType,
		Data: data,
		Time: time.Now().UTC().Format(time.RFC3339),
	}
}

// PriceUpdateMessage wraps a snapshot as a price_update event
func PriceUpdateMessage(snapshot *PriceSnapshot) WebSocketMessage {
	msg := NewMessage(EventPriceUpdate, []CoinQuote{})
	if snapshot != nil {
		msg.Currency = snapshot.Currency
		msg.Data = snapshot.Quotes
	}
	return msg
}

// ErrorMessage builds an error event for the calling client
func ErrorMessage(message string) WebSocketMessage {
	return NewMessage(EventError, map[string]string{"message": message})
}

// InboundMessage is a client request received over the websocket
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
