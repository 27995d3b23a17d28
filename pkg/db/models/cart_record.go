package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	"github.com/angelmondragon/cartpulse-backend/pkg/types"
)

// CartRecord is one shopping session's snapshot keyed by its cart token.
type CartRecord struct {
	ID                int64               `gorm:"column:id;primaryKey;autoIncrement"`
	CartToken         string              `gorm:"column:cart_token;size:32;not null;uniqueIndex:idx_cart_records_cart_token"`
	RestoreKey        string              `gorm:"column:restore_key;size:64;not null"`
	UserID            *string             `gorm:"column:user_id;size:64"`
	OrderID           *string             `gorm:"column:order_id;size:64"`
	Email             *string             `gorm:"column:email;size:255;index:idx_cart_records_email"`
	CartItems         types.CartLineItems `gorm:"column:cart_items;not null"`
	Currency          enums.Currency      `gorm:"column:currency;size:3;not null;default:'USD'"`
	Subtotal          decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null;default:0"`
	Total             decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null;default:0"`
	Status            enums.CartStatus    `gorm:"column:status;size:20;not null;default:'active';index:idx_cart_records_status"`
	LastActivityAt    *time.Time          `gorm:"column:last_activity_at"`
	AbandonedAt       *time.Time          `gorm:"column:abandoned_at;index:idx_cart_records_abandoned_at"`
	RecoveredAt       *time.Time          `gorm:"column:recovered_at"`
	LastEmailStep     int                 `gorm:"column:last_email_step;not null;default:0"`
	LastEmailSentAt   *time.Time          `gorm:"column:last_email_sent_at"`
	EmailFailureCount int                 `gorm:"column:email_failure_count;not null;default:0"`
	Version           int64               `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time           `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// EmailAddress returns the stored email or an empty string.
func (c CartRecord) EmailAddress() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}
