package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"crypto_alert_backend/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Constants for service configuration
const (
	DefaultMaxWebSocketClients = 1000
	WebSocketWriteTimeout      = 10 * time.Second
	WebSocketPongTimeout       = 60 * time.Second
	WebSocketPingInterval      = 30 * time.Second
	WebSocketReadLimit         = 4096
	ClientSendBufferSize       = 64
)

// ConnectionHandler reacts to subscriber lifecycle and currency requests
type ConnectionHandler interface {
	OnConnect(ctx context.Context, connectionID string)
	OnCurrencyChange(ctx context.Context, connectionID, currency string) error
}

// Identity is the account behind an authenticated websocket connection
type Identity struct {
	UserID string
	Email  string
}

// TokenParser resolves a bearer token into an identity
type TokenParser func(token string) (Identity, error)

// Client is the transport handle of one websocket connection
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// close must only be called once the client left the clients map
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// RealtimePriceService is the websocket front of the subscriber registry.
// It maps connection ids to transport handles and implements Pusher.
type RealtimePriceService struct {
	registry    *SubscriberRegistry
	handler     ConnectionHandler
	tokenParser TokenParser
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
	maxClients  int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// NewRealtimePriceService creates the websocket service
func NewRealtimePriceService(registry *SubscriberRegistry, maxClients int, logger zerolog.Logger) *RealtimePriceService {
	if maxClients <= 0 {
		maxClients = DefaultMaxWebSocketClients
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RealtimePriceService{
		registry:   registry,
		logger:     logger,
		maxClients: maxClients,
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetHandler sets the handler of connect and currency events
func (s *RealtimePriceService) SetHandler(handler ConnectionHandler) {
	s.handler = handler
}

// SetTokenParser enables ?token= authentication of websocket connections
func (s *RealtimePriceService) SetTokenParser(parser TokenParser) {
	s.tokenParser = parser
}

// HandleWebSocket upgrades the request and serves the connection until it closes
func (s *RealtimePriceService) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Check if at capacity before upgrading
	s.mu.RLock()
	rejected := s.closed || len(s.clients) >= s.maxClients
	s.mu.RUnlock()
	if rejected {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	var identity *Identity
	if token := r.URL.Query().Get("token"); token != "" && s.tokenParser != nil {
		id, err := s.tokenParser(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		identity = &id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connectionID := s.registry.Connect()
	if identity != nil {
		s.registry.SetIdentity(connectionID, identity.UserID, identity.Email)
	}

	client := &Client{
		id:   connectionID,
		conn: conn,
		send: make(chan []byte, ClientSendBufferSize),
	}
	if !s.register(client) {
		s.registry.Disconnect(connectionID)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	go s.writePump(client)

	if s.handler != nil {
		s.handler.OnConnect(ctx, connectionID)
	}
	s.readPump(ctx, client)
}

// Push implements Pusher
func (s *RealtimePriceService) Push(connectionID string, msg models.WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal message")
		return
	}

	s.mu.RLock()
	client, ok := s.clients[connectionID]
	full := ok && !trySend(client, data)
	s.mu.RUnlock()

	if full {
		s.dropSlowClient(client)
	}
}

// PushMany implements Pusher, marshaling the message once
func (s *RealtimePriceService) PushMany(connectionIDs []string, msg models.WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal message")
		return
	}

	var slow []*Client
	s.mu.RLock()
	for _, id := range connectionIDs {
		client, ok := s.clients[id]
		if !ok {
			continue
		}
		if !trySend(client, data) {
			slow = append(slow, client)
		}
	}
	s.mu.RUnlock()

	for _, client := range slow {
		s.dropSlowClient(client)
	}
}

func trySend(client *Client, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

// dropSlowClient disconnects a client whose buffer is full
func (s *RealtimePriceService) dropSlowClient(client *Client) {
	s.logger.Warn().Str("connection_id", client.id).Msg("client send buffer full, disconnecting")
	s.unregister(client)
}

func (s *RealtimePriceService) register(client *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.clients) >= s.maxClients {
		return false
	}
	s.clients[client.id] = client
	s.logger.Info().
		Str("connection_id", client.id).
		Int("clients", len(s.clients)).
		Msg("websocket client connected")
	return true
}

func (s *RealtimePriceService) unregister(client *Client) {
	s.mu.Lock()
	current, ok := s.clients[client.id]
	if ok && current == client {
		delete(s.clients, client.id)
	}
	count := len(s.clients)
	s.mu.Unlock()

	client.close()
	s.registry.Disconnect(client.id)

	if ok {
		s.logger.Info().
			Str("connection_id", client.id).
			Int("clients", count).
			Msg("websocket client disconnected")
	}
}

// writePump writes messages to the WebSocket connection
func (s *RealtimePriceService) writePump(c *Client) {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client events until the connection fails
func (s *RealtimePriceService) readPump(ctx context.Context, c *Client) {
	defer func() {
		s.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(WebSocketReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("connection_id", c.id).Msg("websocket read error")
			}
			return
		}

		var msg models.InboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.Push(c.id, models.ErrorMessage("malformed message"))
			continue
		}
		s.handleMessage(ctx, c.id, msg)
	}
}

// handleMessage dispatches one inbound client event
func (s *RealtimePriceService) handleMessage(ctx context.Context, connectionID string, msg models.InboundMessage) {
	switch msg.Type {
	case models.EventChangeCurrency:
		var currency string
		if err := json.Unmarshal(msg.Data, &currency); err != nil {
			s.Push(connectionID, models.ErrorMessage("currency must be a string"))
			return
		}
		if s.handler == nil {
			s.registry.SetCurrency(connectionID, currency)
			return
		}
		if err := s.handler.OnCurrencyChange(ctx, connectionID, currency); err != nil {
			s.Push(connectionID, models.ErrorMessage(err.Error()))
		}

	case models.EventAddTarget:
		var req models.AddTargetRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.Push(connectionID, models.ErrorMessage("invalid add_target payload"))
			return
		}
		s.addTarget(connectionID, req)

	case models.EventRemoveAlert:
		var ruleID string
		if err := json.Unmarshal(msg.Data, &ruleID); err != nil {
			s.Push(connectionID, models.ErrorMessage("alert id must be a string"))
			return
		}
		s.registry.RemoveRule(connectionID, ruleID)
		s.logger.Debug().Str("connection_id", connectionID).Str("rule_id", ruleID).Msg("alert removed")

	case models.EventGetTarget, "get_targets":
		s.Push(connectionID, models.NewMessage(models.EventAlerts, s.registry.ListRules(connectionID)))

	default:
		s.Push(connectionID, models.ErrorMessage(fmt.Sprintf("unknown event %q", msg.Type)))
	}
}

func (s *RealtimePriceService) addTarget(connectionID string, req models.AddTargetRequest) {
	ruleID, err := s.registry.AddRuleIn(connectionID, req.CoinID, req.TargetPrice, req.Currency)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			s.Push(connectionID, models.ErrorMessage(err.Error()))
		}
		return
	}

	rule, ok := s.registry.Rule(connectionID, ruleID)
	if !ok {
		return
	}

	message := fmt.Sprintf("Alert added for %s at %s %s",
		rule.CoinID, decimal.NewFromFloat(rule.TargetPrice).String(), strings.ToUpper(rule.Currency))
	s.logger.Info().
		Str("connection_id", connectionID).
		Str("rule_id", rule.ID).
		Str("coin_id", rule.CoinID).
		Float64("target_price", rule.TargetPrice).
		Str("currency", rule.Currency).
		Msg("alert added")

	s.Push(connectionID, models.NewMessage(models.EventAlertAdded, models.AlertAdded{
		Message: message,
		Alert:   rule,
	}))
}

// GetClientCount returns the number of connected clients
func (s *RealtimePriceService) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// GetStatus returns service status info
func (s *RealtimePriceService) GetStatus() map[string]interface{} {
	total, pending := s.registry.RuleCount()
	return map[string]interface{}{
		"client_count":      s.GetClientCount(),
		"max_clients":       s.maxClients,
		"active_currencies": s.registry.ActiveCurrencies(),
		"rules":             total,
		"pending_rules":     pending,
	}
}

// Shutdown closes every connection and releases their registry entries
func (s *RealtimePriceService) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := s.clients
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	s.cancel()
	for _, client := range clients {
		client.close()
		s.registry.Disconnect(client.id)
	}

	s.logger.Info().Int("clients", len(clients)).Msg("realtime price service shutdown complete")
}
