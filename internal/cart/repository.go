package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/cartpulse-backend/internal/repo"
	"github.com/angelmondragon/cartpulse-backend/pkg/db"
	"github.com/angelmondragon/cartpulse-backend/pkg/db/models"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	"github.com/angelmondragon/cartpulse-backend/pkg/pagination"
	"github.com/angelmondragon/cartpulse-backend/pkg/types"
)

const maxUpsertAttempts = 3

// ErrConcurrentUpdate is returned when an upsert keeps losing the version race.
var ErrConcurrentUpdate = errors.New("cart record modified concurrently")

// ErrClosedRecord is returned when a snapshot targets a recovered or expired record.
var ErrClosedRecord = errors.New("cart record is closed")

// Columns a transition may stamp with the run time.
const (
	StampAbandonedAt = "abandoned_at"
	StampRecoveredAt = "recovered_at"
)

var stampColumns = map[string]struct{}{
	StampAbandonedAt: {},
	StampRecoveredAt: {},
}

// UpsertInput is the snapshot written for a cart token.
type UpsertInput struct {
	Token        string
	RestoreKey   string
	UserID       *string
	Email        *string
	AccountEmail *string
	Items        types.CartLineItems
	Currency     enums.Currency
	Subtotal     decimal.Decimal
	Total        decimal.Decimal
}

// Transition describes one bulk status change keyed on inactivity.
type Transition struct {
	From           []enums.CartStatus
	To             enums.CartStatus
	InactiveBefore time.Time
	Stamp          string
}

// CandidateQuery selects abandoned carts due for a recovery email step.
type CandidateQuery struct {
	Step            int
	AbandonedBefore time.Time
	MaxFailures     int
	Limit           int
}

// Repository persists cart records.
type Repository struct {
	repo.Base
}

// NewRepository binds the repository to the provided GORM handle.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(conn)}
}

// EnsureSchema creates the cart tables when they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	return r.EnsureTables(ctx, &models.CartRecord{}, &models.OrderCartAttribution{})
}

// FindByToken returns gorm.ErrRecordNotFound when no record exists.
func (r *Repository) FindByToken(ctx context.Context, token string) (*models.CartRecord, error) {
	var record models.CartRecord
	if err := r.DB(ctx).Where("cart_token = ?", token).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert inserts a fresh active record or refreshes the snapshot of an existing one.
// Updates are compare-and-swap on version; a lost race re-reads and retries.
// Recovered and expired records are never overwritten.
func (r *Repository) Upsert(ctx context.Context, in UpsertInput, now time.Time) (*models.CartRecord, error) {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		existing, err := r.FindByToken(ctx, in.Token)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record := newRecord(in, now)
			if err := r.DB(ctx).Create(record).Error; err != nil {
				if db.IsUniqueViolation(err, "") {
					continue
				}
				return nil, err
			}
			return record, nil
		}
		if err != nil {
			return nil, err
		}
		if existing.Status.IsTerminal() {
			return nil, ErrClosedRecord
		}

		res := r.DB(ctx).
			Model(&models.CartRecord{}).
			Where("id = ? AND version = ?", existing.ID, existing.Version).
			Updates(snapshotUpdates(existing, in, now))
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return r.FindByToken(ctx, in.Token)
		}
	}
	return nil, ErrConcurrentUpdate
}

func newRecord(in UpsertInput, now time.Time) *models.CartRecord {
	return &models.CartRecord{
		CartToken:      in.Token,
		RestoreKey:     in.RestoreKey,
		UserID:         in.UserID,
		Email:          resolveEmail(in.Email, nil, in.AccountEmail),
		CartItems:      in.Items,
		Currency:       in.Currency,
		Subtotal:       in.Subtotal,
		Total:          in.Total,
		Status:         enums.CartStatusActive,
		LastActivityAt: &now,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func snapshotUpdates(existing *models.CartRecord, in UpsertInput, now time.Time) map[string]any {
	updates := map[string]any{
		"cart_items":       in.Items,
		"currency":         in.Currency,
		"subtotal":         in.Subtotal,
		"total":            in.Total,
		"email":            resolveEmail(in.Email, existing.Email, in.AccountEmail),
		"last_activity_at": now,
		"updated_at":       now,
		"version":          gorm.Expr("version + 1"),
	}
	if in.UserID != nil {
		updates["user_id"] = *in.UserID
	}
	// Fresh activity pulls an abandoned cart back; the email watermark stays so
	// a later abandonment continues the sequence instead of restarting it.
	if existing.Status == enums.CartStatusAbandoned {
		updates["status"] = enums.CartStatusActive
		updates["abandoned_at"] = nil
	}
	return updates
}

// SetEmail stores a checkout email on an open record. It reports false when no
// active or abandoned record matched.
func (r *Repository) SetEmail(ctx context.Context, token, email string, now time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.CartRecord{}).
		Where("cart_token = ? AND status IN ?", token, statusStrings(recoverableStatuses)).
		Updates(map[string]any{
			"email":      email,
			"updated_at": now,
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// BulkTransition moves every row in t.From whose last activity predates the cutoff.
// Rows outside t.From are never touched, so recovered carts cannot be reverted.
func (r *Repository) BulkTransition(ctx context.Context, t Transition, now time.Time) (int64, error) {
	if len(t.From) == 0 {
		return 0, fmt.Errorf("transition to %s requires source statuses", t.To)
	}
	if !t.To.IsValid() {
		return 0, fmt.Errorf("invalid target status %q", t.To)
	}
	updates := map[string]any{
		"status":     t.To,
		"updated_at": now,
		"version":    gorm.Expr("version + 1"),
	}
	if t.Stamp != "" {
		if _, ok := stampColumns[t.Stamp]; !ok {
			return 0, fmt.Errorf("unsupported stamp column %q", t.Stamp)
		}
		updates[t.Stamp] = now
	}

	res := r.DB(ctx).
		Model(&models.CartRecord{}).
		Where("status IN ?", statusStrings(t.From)).
		Where("last_activity_at IS NOT NULL AND last_activity_at < ?", t.InactiveBefore).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// MarkRecovered transitions an active or abandoned record to recovered.
func (r *Repository) MarkRecovered(ctx context.Context, token, orderID string, now time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.CartRecord{}).
		Where("cart_token = ? AND status IN ?", token, statusStrings(recoverableStatuses)).
		Updates(map[string]any{
			"status":       enums.CartStatusRecovered,
			"recovered_at": now,
			"order_id":     orderID,
			"updated_at":   now,
			"version":      gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindEmailCandidates lists abandoned carts with an email that have not received q.Step yet.
func (r *Repository) FindEmailCandidates(ctx context.Context, q CandidateQuery) ([]models.CartRecord, error) {
	query := r.DB(ctx).
		Where("status = ?", enums.CartStatusAbandoned).
		Where("abandoned_at IS NOT NULL AND abandoned_at <= ?", q.AbandonedBefore).
		Where("last_email_step < ?", q.Step).
		Where("email IS NOT NULL AND email <> ''")
	if q.MaxFailures > 0 {
		query = query.Where("email_failure_count < ?", q.MaxFailures)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var records []models.CartRecord
	if err := query.Order("abandoned_at ASC").Order("id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// AdvanceEmailStep raises the watermark to step on an abandoned record. It
// never lowers it and leaves carts recovered mid-run untouched.
func (r *Repository) AdvanceEmailStep(ctx context.Context, id int64, step int, now time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.CartRecord{}).
		Where("id = ? AND status = ? AND last_email_step < ?", id, enums.CartStatusAbandoned, step).
		Updates(map[string]any{
			"last_email_step":     step,
			"last_email_sent_at":  now,
			"email_failure_count": 0,
			"updated_at":          now,
			"version":             gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RecordEmailFailure bumps the consecutive send failure counter.
func (r *Repository) RecordEmailFailure(ctx context.Context, id int64, now time.Time) error {
	return r.DB(ctx).
		Model(&models.CartRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"email_failure_count": gorm.Expr("email_failure_count + 1"),
			"updated_at":          now,
			"version":             gorm.Expr("version + 1"),
		}).Error
}

// ListRecent returns records ordered by most recent update.
func (r *Repository) ListRecent(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.CartRecord, error) {
	query := r.DB(ctx).Order("updated_at DESC").Order("id DESC").Limit(limit)
	if cursor != nil {
		query = query.Where("(updated_at < ?) OR (updated_at = ? AND id < ?)", cursor.UpdatedAt, cursor.UpdatedAt, cursor.ID)
	}
	var records []models.CartRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Stats aggregates record counts per status and recovered revenue.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Status  string
		Count   int64
		Revenue decimal.Decimal
	}
	err := r.DB(ctx).
		Model(&models.CartRecord{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(total), 0) AS revenue").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{RecoveredRevenue: decimal.Zero}
	for _, row := range rows {
		switch enums.CartStatus(row.Status) {
		case enums.CartStatusActive:
			stats.ActiveCount = row.Count
		case enums.CartStatusAbandoned:
			stats.AbandonedCount = row.Count
		case enums.CartStatusRecovered:
			stats.RecoveredCount = row.Count
			stats.RecoveredRevenue = row.Revenue
		case enums.CartStatusExpired:
			stats.ExpiredCount = row.Count
		}
	}
	return stats, nil
}

// OrderAttributionRepository records which cart token produced an order.
type OrderAttributionRepository struct {
	repo.Base
}

// NewOrderAttributionRepository binds the repository to the provided GORM handle.
func NewOrderAttributionRepository(conn *gorm.DB) *OrderAttributionRepository {
	return &OrderAttributionRepository{Base: repo.NewBase(conn)}
}

// TagOrder stores the attribution once; repeated calls for the same order are ignored.
func (r *OrderAttributionRepository) TagOrder(ctx context.Context, orderID, cartToken string, now time.Time) error {
	row := models.OrderCartAttribution{OrderID: orderID, CartToken: cartToken, CreatedAt: now}
	return r.DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(&row).Error
}

// CartTokenForOrder returns the attributed cart token, if any.
func (r *OrderAttributionRepository) CartTokenForOrder(ctx context.Context, orderID string) (string, error) {
	var row models.OrderCartAttribution
	if err := r.DB(ctx).Where("order_id = ?", orderID).First(&row).Error; err != nil {
		return "", err
	}
	return row.CartToken, nil
}

var recoverableStatuses = []enums.CartStatus{enums.CartStatusActive, enums.CartStatusAbandoned}

func statusStrings(statuses []enums.CartStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
