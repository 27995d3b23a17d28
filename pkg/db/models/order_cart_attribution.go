package models

import "time"

// OrderCartAttribution tags a completed order with the cart token it came from.
type OrderCartAttribution struct {
	OrderID   string    `gorm:"column:order_id;primaryKey;size:64"`
	CartToken string    `gorm:"column:cart_token;size:32;not null;index:idx_order_cart_attributions_cart_token"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}
