package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is a registered account. The same struct is stored in MongoDB
// (targets embedded) and in SQL (targets in their own table).
type User struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	Username     string     `gorm:"not null" bson:"username" json:"username"`
	Email        string     `gorm:"uniqueIndex;not null" bson:"email" json:"email"`
	PasswordHash string     `gorm:"not null" bson:"password" json:"-"`
	Targets      []Target   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" bson:"targets" json:"targets,omitempty"`
	LastLoginAt  *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
}

// Target is a long-lived price target saved on a user's account
type Target struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" bson:"id" json:"id"`
	UserID      string    `gorm:"index;type:varchar(36)" bson:"-" json:"-"`
	CoinID      string    `gorm:"not null" bson:"coin_id" json:"coinId"`
	TargetPrice float64   `gorm:"not null" bson:"target_price" json:"targetPrice"`
	Currency    string    `gorm:"default:'usd'" bson:"currency" json:"currency"`
	CreatedAt   time.Time `bson:"created_at" json:"createdAt"`
}

// SetPassword hashes and sets the password for the user
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies the provided password against the stored hash
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// MigrateUserModels runs database migrations for user-related models
func MigrateUserModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Target{},
	)
}
