package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crypto_alert_backend/models"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB defaults
const (
	DefaultMongoDBName   = "crypto_alerts"
	MongoUsersCollection = "users"
	mongoOpTimeout       = 10 * time.Second
)

// MongoDBClient stores accounts in MongoDB. Targets are embedded in the
// user document.
type MongoDBClient struct {
	uri    string
	dbName string
	logger zerolog.Logger

	mu          sync.RWMutex
	client      *mongo.Client
	database    *mongo.Database
	isConnected bool
	lastError   string
}

// NewMongoDBClient creates a client for uri. Call Connect before use.
func NewMongoDBClient(uri, dbName string, logger zerolog.Logger) *MongoDBClient {
	if dbName == "" {
		dbName = DefaultMongoDBName
	}
	return &MongoDBClient{
		uri:    uri,
		dbName: dbName,
		logger: logger,
	}
}

// Connect establishes the connection and ensures indexes
func (m *MongoDBClient) Connect(ctx context.Context) error {
	if m.uri == "" {
		m.setError("MONGODB_URI not set")
		return ErrStoreUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(m.uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		m.setError(fmt.Sprintf("failed to connect: %v", err))
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		m.setError(fmt.Sprintf("failed to ping: %v", err))
		client.Disconnect(ctx)
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	m.mu.Lock()
	m.client = client
	m.database = client.Database(m.dbName)
	m.isConnected = true
	m.lastError = ""
	m.mu.Unlock()

	if err := m.createIndexes(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to create MongoDB indexes")
	}

	m.logger.Info().Str("database", m.dbName).Msg("MongoDB connected")
	return nil
}

// IsConfigured returns whether MongoDB is connected
func (m *MongoDBClient) IsConfigured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isConnected
}

// GetConnectionStatus returns connection details for status reporting
func (m *MongoDBClient) GetConnectionStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := map[string]interface{}{
		"uri_set":   m.uri != "",
		"connected": m.isConnected,
		"database":  m.dbName,
	}
	if m.lastError != "" {
		status["error"] = m.lastError
	}
	return status
}

func (m *MongoDBClient) setError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
}

func (m *MongoDBClient) users() (*mongo.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.isConnected {
		return nil, ErrStoreUnavailable
	}
	return m.database.Collection(MongoUsersCollection), nil
}

func (m *MongoDBClient) createIndexes(ctx context.Context) error {
	users, err := m.users()
	if err != nil {
		return err
	}
	_, err = users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// CreateUser inserts a new user. The email must be unused.
func (m *MongoDBClient) CreateUser(ctx context.Context, user *models.User) error {
	users, err := m.users()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	prepareUser(user, time.Now())
	if _, err := users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail loads a user by email
func (m *MongoDBClient) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

// FindUserByID loads a user by id
func (m *MongoDBClient) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *MongoDBClient) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	users, err := m.users()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var user models.User
	if err := users.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	for i := range user.Targets {
		user.Targets[i].UserID = user.ID
	}
	return &user, nil
}

// TouchLogin records a successful login
func (m *MongoDBClient) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return m.updateOne(ctx, id, bson.M{"$set": bson.M{"last_login_at": at, "updated_at": at}})
}

// AddTarget pushes a target onto the user's document
func (m *MongoDBClient) AddTarget(ctx context.Context, userID string, target *models.Target) error {
	prepareTarget(userID, target, time.Now())
	return m.updateOne(ctx, userID, bson.M{
		"$push": bson.M{"targets": target},
		"$set":  bson.M{"updated_at": target.CreatedAt},
	})
}

func (m *MongoDBClient) updateOne(ctx context.Context, id string, update bson.M) error {
	users, err := m.users()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	result, err := users.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListTargets returns the user's saved targets, oldest first
func (m *MongoDBClient) ListTargets(ctx context.Context, userID string) ([]models.Target, error) {
	user, err := m.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Targets == nil {
		return []models.Target{}, nil
	}
	return user.Targets, nil
}

// Ping checks the MongoDB connection
func (m *MongoDBClient) Ping(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return ErrStoreUnavailable
	}
	return client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (m *MongoDBClient) Close() error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.isConnected = false
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.Disconnect(ctx)
}
