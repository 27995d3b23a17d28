package cart

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartpulse-backend/pkg/db/models"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
)

// Stats is the reporting aggregate over every stored cart.
type Stats struct {
	ActiveCount      int64           `json:"active_count"`
	AbandonedCount   int64           `json:"abandoned_count"`
	RecoveredCount   int64           `json:"recovered_count"`
	ExpiredCount     int64           `json:"expired_count"`
	RecoveredRevenue decimal.Decimal `json:"recovered_revenue"`
}

// RecoveryRate is recovered / (recovered + abandoned + expired), or zero when nothing qualified.
func (s Stats) RecoveryRate() decimal.Decimal {
	denominator := s.RecoveredCount + s.AbandonedCount + s.ExpiredCount
	if denominator == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(s.RecoveredCount).
		Div(decimal.NewFromInt(denominator)).
		Round(4)
}

// DisplayStatus projects a stored record onto its reporting label. A recovered
// cart that carries an order id reads as order_created; nothing writes this back.
func DisplayStatus(record models.CartRecord) enums.CartDisplayStatus {
	switch record.Status {
	case enums.CartStatusRecovered:
		if record.OrderID != nil && *record.OrderID != "" {
			return enums.CartDisplayOrderCreated
		}
		return enums.CartDisplayRecovered
	case enums.CartStatusAbandoned:
		return enums.CartDisplayAbandoned
	case enums.CartStatusExpired:
		return enums.CartDisplayExpired
	default:
		return enums.CartDisplayActive
	}
}
