package admin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartpulse-backend/api/responses"
	"github.com/angelmondragon/cartpulse-backend/api/validators"
	"github.com/angelmondragon/cartpulse-backend/internal/cart"
	"github.com/angelmondragon/cartpulse-backend/pkg/db/models"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/pagination"
	"github.com/angelmondragon/cartpulse-backend/pkg/types"
)

// Reporter is the read side of the cart store.
type Reporter interface {
	ListRecent(ctx context.Context, params pagination.Params) (*cart.RecentPage, error)
	Stats(ctx context.Context) (cart.Stats, error)
}

type cartSummary struct {
	ID             int64                   `json:"id"`
	Email          *string                 `json:"email,omitempty"`
	UserID         *string                 `json:"user_id,omitempty"`
	OrderID        *string                 `json:"order_id,omitempty"`
	Items          types.CartLineItems     `json:"items"`
	ItemCount      int                     `json:"item_count"`
	Currency       enums.Currency          `json:"currency"`
	Total          decimal.Decimal         `json:"total"`
	Status         enums.CartStatus        `json:"status"`
	DisplayStatus  enums.CartDisplayStatus `json:"display_status"`
	LastEmailStep  int                     `json:"last_email_step"`
	LastActivityAt *time.Time              `json:"last_activity_at,omitempty"`
	AbandonedAt    *time.Time              `json:"abandoned_at,omitempty"`
	RecoveredAt    *time.Time              `json:"recovered_at,omitempty"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

type cartListResponse struct {
	Items      []cartSummary `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type statsResponse struct {
	ActiveCount      int64           `json:"active_count"`
	AbandonedCount   int64           `json:"abandoned_count"`
	RecoveredCount   int64           `json:"recovered_count"`
	ExpiredCount     int64           `json:"expired_count"`
	RecoveredRevenue decimal.Decimal `json:"recovered_revenue"`
	RecoveryRate     decimal.Decimal `json:"recovery_rate"`
}

func newCartSummary(record models.CartRecord) cartSummary {
	return cartSummary{
		ID:             record.ID,
		Email:          record.Email,
		UserID:         record.UserID,
		OrderID:        record.OrderID,
		Items:          record.CartItems,
		ItemCount:      record.CartItems.Quantity(),
		Currency:       record.Currency,
		Total:          record.Total,
		Status:         record.Status,
		DisplayStatus:  cart.DisplayStatus(record),
		LastEmailStep:  record.LastEmailStep,
		LastActivityAt: record.LastActivityAt,
		AbandonedAt:    record.AbandonedAt,
		RecoveredAt:    record.RecoveredAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

// ListCarts returns the most recently updated carts, newest first.
func ListCarts(svc Reporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListRecent(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := cartListResponse{Items: make([]cartSummary, 0, len(page.Items)), NextCursor: page.Cursor}
		for _, record := range page.Items {
			out.Items = append(out.Items, newCartSummary(record))
		}
		responses.WriteSuccess(w, out)
	}
}

// CartStats returns the reporting aggregate.
func CartStats(svc Reporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, statsResponse{
			ActiveCount:      stats.ActiveCount,
			AbandonedCount:   stats.AbandonedCount,
			RecoveredCount:   stats.RecoveredCount,
			ExpiredCount:     stats.ExpiredCount,
			RecoveredRevenue: stats.RecoveredRevenue.Round(2),
			RecoveryRate:     stats.RecoveryRate(),
		})
	}
}
