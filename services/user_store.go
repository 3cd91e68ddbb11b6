package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crypto_alert_backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserStore persists accounts and their saved targets
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
	AddTarget(ctx context.Context, userID string, target *models.Target) error
	ListTargets(ctx context.Context, userID string) ([]models.Target, error)
	Ping(ctx context.Context) error
	Close() error
}

// prepareUser fills ids and timestamps before a user is stored
func prepareUser(user *models.User, now time.Time) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Targets == nil {
		user.Targets = []models.Target{}
	}
}

// prepareTarget fills ids, defaults and timestamps before a target is stored
func prepareTarget(userID string, target *models.Target, now time.Time) {
	if target.ID == "" {
		target.ID = uuid.NewString()
	}
	target.UserID = userID
	target.Currency = models.NormalizeCurrency(target.Currency)
	if target.Currency == "" {
		target.Currency = models.DefaultCurrency
	}
	target.CreatedAt = now
}

// GormUserStore stores accounts in PostgreSQL or SQLite through gorm
type GormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore creates a store on db and migrates its tables
func NewGormUserStore(db *gorm.DB) (*GormUserStore, error) {
	if err := models.MigrateUserModels(db); err != nil {
		return nil, fmt.Errorf("failed to migrate user models: %w", err)
	}
	return &GormUserStore{db: db}, nil
}

// CreateUser inserts a new user. The email must be unused.
func (s *GormUserStore) CreateUser(ctx context.Context, user *models.User) error {
	prepareUser(user, time.Now())

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if count > 0 {
		return ErrEmailExists
	}

	if err := s.db.WithContext(ctx).Omit("Targets").Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail loads a user by email
func (s *GormUserStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.first(ctx, "email = ?", email)
}

// FindUserByID loads a user by id, targets included
func (s *GormUserStore) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormUserStore) first(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Targets", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where(query, arg).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// TouchLogin records a successful login
func (s *GormUserStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_login_at": at, "updated_at": at})
	if result.Error != nil {
		return fmt.Errorf("failed to update last login: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AddTarget saves a target on the user's account
func (s *GormUserStore) AddTarget(ctx context.Context, userID string, target *models.Target) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if count == 0 {
		return ErrUserNotFound
	}

	prepareTarget(userID, target, time.Now())
	if err := s.db.WithContext(ctx).Create(target).Error; err != nil {
		return fmt.Errorf("failed to save target: %w", err)
	}
	return nil
}

// ListTargets returns the user's saved targets, oldest first
func (s *GormUserStore) ListTargets(ctx context.Context, userID string) ([]models.Target, error) {
	user, err := s.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Targets == nil {
		return []models.Target{}, nil
	}
	return user.Targets, nil
}

// Ping checks the database connection
func (s *GormUserStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *GormUserStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	_ UserStore = (*GormUserStore)(nil)
	_ UserStore = (*MongoDBClient)(nil)
)
