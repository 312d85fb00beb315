package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounter tracks AI turns consumed per user per billing period.
// The (user_id, period_start) pair is unique; Used is only ever mutated via
// a single conditional UPDATE so concurrent turns cannot double-charge.
type UsageCounter struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID      uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_usage_user_period;not null"`
	PeriodStart time.Time `gorm:"uniqueIndex:idx_usage_user_period;not null"`
	Used        int       `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
