package models

import "time"

// AlertRule is a one-shot price target owned by a connected subscriber
type AlertRule struct {
	ID          string    `json:"id"`
	CoinID      string    `json:"coinId"`
	TargetPrice float64   `json:"targetPrice"`
	Currency    string    `json:"currency"`
	Notified    bool      `json:"notified"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AddTargetRequest is the payload of the add_target event
type AddTargetRequest struct {
	CoinID      string  `json:"coinId"`
	TargetPrice float64 `json:"targetPrice"`
	Currency    string  `json:"currency,omitempty"`
}

// TargetReached is emitted once per rule when its target is crossed
type TargetReached struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	RuleID       string    `json:"ruleId"`
	CoinID       string    `json:"coinId"`
	TargetPrice  float64   `json:"targetPrice"`
	CurrentPrice float64   `json:"currentPrice"`
	Currency     string    `json:"currency"`
	ReachedAt    time.Time `json:"reachedAt"`
}

// AlertAdded is the acknowledgement of add_target
type AlertAdded struct {
	Message string    `json:"message"`
	Alert   AlertRule `json:"alert"`
}
