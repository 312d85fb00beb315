package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription links a user to a billing plan. One row per user; free-tier
// rows are created lazily on first access.
type Subscription struct {
	ID                   uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID               uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	Plan                 string    `gorm:"size:50;not null;default:free"`
	Status               string    `gorm:"size:50;not null;default:active"`
	StripeCustomerID     string    `gorm:"size:255;index"`
	StripeSubscriptionID string    `gorm:"size:255;index"`
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            gorm.DeletedAt `gorm:"index"`
}
