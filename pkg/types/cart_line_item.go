package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// CartLineItem is one entry of a cart snapshot.
type CartLineItem struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Name      string          `json:"name" validate:"required,max=255"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal returns quantity * unit price.
func (c CartLineItem) LineTotal() decimal.Decimal {
	return c.UnitPrice.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// CartLineItems is persisted as a JSON document.
type CartLineItems []CartLineItem

// Subtotal sums every line total.
func (c CartLineItems) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// Quantity returns the total unit count across lines.
func (c CartLineItems) Quantity() int {
	total := 0
	for _, item := range c {
		total += item.Quantity
	}
	return total
}

// Value implements driver.Valuer.
func (c CartLineItems) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *CartLineItems) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = CartLineItems{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported cart_items type %T", src)
	}
	if len(raw) == 0 {
		*c = CartLineItems{}
		return nil
	}
	var items CartLineItems
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("decode cart_items: %w", err)
	}
	*c = items
	return nil
}

// GormDataType implements schema.GormDataTypeInterface.
func (CartLineItems) GormDataType() string {
	return "json"
}

// GormDBDataType picks jsonb on Postgres and text elsewhere.
func (CartLineItems) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}
