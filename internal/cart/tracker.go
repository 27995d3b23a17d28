package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartpulse-backend/internal/settings"
	"github.com/angelmondragon/cartpulse-backend/pkg/auth"
	"github.com/angelmondragon/cartpulse-backend/pkg/config"
	"github.com/angelmondragon/cartpulse-backend/pkg/db/models"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartpulse-backend/pkg/errors"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/metrics"
	"github.com/angelmondragon/cartpulse-backend/pkg/security"
	"github.com/angelmondragon/cartpulse-backend/pkg/types"
)

const defaultFormTokenTTL = time.Hour

var emailValidator = validator.New()

// SettingsReader supplies the current recovery settings.
type SettingsReader interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// OrderAnnotator tags a completed order with its originating cart token.
type OrderAnnotator interface {
	TagOrder(ctx context.Context, orderID, cartToken string, now time.Time) error
}

type trackerStore interface {
	FindByToken(ctx context.Context, token string) (*models.CartRecord, error)
	Upsert(ctx context.Context, in UpsertInput, now time.Time) (*models.CartRecord, error)
	SetEmail(ctx context.Context, token, email string, now time.Time) (bool, error)
	MarkRecovered(ctx context.Context, token, orderID string, now time.Time) (bool, error)
}

// CartChange is the storefront snapshot sent on add-to-cart and cart updates.
type CartChange struct {
	Items    types.CartLineItems `json:"items" validate:"dive"`
	Currency string              `json:"currency" validate:"omitempty,len=3"`
	Total    *decimal.Decimal    `json:"total,omitempty"`
	Email    *string             `json:"email,omitempty" validate:"omitempty,email,max=254"`
}

// CheckoutForm is the billing email captured from the checkout page.
type CheckoutForm struct {
	Email     string `json:"email" validate:"required,max=254"`
	FormToken string `json:"form_token" validate:"required"`
}

// TrackOutcome describes what OnCartChanged did.
type TrackOutcome string

const (
	OutcomeTracked          TrackOutcome = "tracked"
	OutcomeSkippedAdmin     TrackOutcome = "skipped_admin"
	OutcomeSkippedEmpty     TrackOutcome = "skipped_empty"
	OutcomeSkippedDuplicate TrackOutcome = "skipped_duplicate"
)

// TrackResult is returned by OnCartChanged.
type TrackResult struct {
	Outcome TrackOutcome       `json:"outcome"`
	Record  *models.CartRecord `json:"-"`
}

// OrderResult is returned by OnOrderCompleted.
type OrderResult struct {
	Recovered bool   `json:"recovered"`
	Token     string `json:"-"`
}

// RestoreResult carries the record to restore and where to send the shopper.
type RestoreResult struct {
	Record   *models.CartRecord
	Redirect enums.RestoreRedirect
}

// FormToken is an anti-forgery token for the checkout email capture.
type FormToken struct {
	Token     string    `json:"form_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TrackerParams wires the tracker.
type TrackerParams struct {
	Store         trackerStore
	Settings      SettingsReader
	Orders        OrderAnnotator
	JWT           config.JWTConfig
	RestoreSecret string
	FormTokenTTL  time.Duration
	Metrics       *metrics.RecoveryMetrics
	Logger        *logger.Logger
	Now           func() time.Time
}

// Tracker turns storefront events into cart record writes.
type Tracker struct {
	store         trackerStore
	settings      SettingsReader
	orders        OrderAnnotator
	jwt           config.JWTConfig
	restoreSecret string
	formTokenTTL  time.Duration
	metrics       *metrics.RecoveryMetrics
	logg          *logger.Logger
	now           func() time.Time
}

// NewTracker validates dependencies.
func NewTracker(params TrackerParams) (*Tracker, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings reader required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(params.RestoreSecret) == "" {
		return nil, fmt.Errorf("restore secret required")
	}
	ttl := params.FormTokenTTL
	if ttl <= 0 {
		ttl = defaultFormTokenTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:         params.Store,
		settings:      params.Settings,
		orders:        params.Orders,
		jwt:           params.JWT,
		restoreSecret: params.RestoreSecret,
		formTokenTTL:  ttl,
		metrics:       params.Metrics,
		logg:          params.Logger,
		now:           now,
	}, nil
}

func (t *Tracker) clock() time.Time {
	return t.now().UTC()
}

// OnCartChanged snapshots the cart at most once per request.
func (t *Tracker) OnCartChanged(ctx context.Context, change CartChange) (TrackResult, error) {
	state := StateFromContext(ctx)
	if state == nil {
		state = &RequestState{}
	}
	if state.IsAdmin {
		return TrackResult{Outcome: OutcomeSkippedAdmin}, nil
	}
	if len(change.Items) == 0 {
		return TrackResult{Outcome: OutcomeSkippedEmpty}, nil
	}
	if !state.claimTracking() {
		return TrackResult{Outcome: OutcomeSkippedDuplicate}, nil
	}

	currency := enums.CurrencyUSD
	if change.Currency != "" {
		parsed, err := enums.ParseCurrency(change.Currency)
		if err != nil {
			return TrackResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
		}
		currency = parsed
	}

	subtotal := change.Items.Subtotal()
	total := subtotal
	if change.Total != nil {
		if change.Total.IsNegative() {
			return TrackResult{}, pkgerrors.New(pkgerrors.CodeValidation, "total must not be negative")
		}
		total = change.Total.Round(2)
	}

	snapshot := func(token string) UpsertInput {
		return UpsertInput{
			Token:        token,
			RestoreKey:   security.RestoreKey(token, t.restoreSecret),
			UserID:       state.UserID,
			Email:        normalizeEmail(change.Email),
			AccountEmail: normalizeEmail(state.AccountEmail),
			Items:        change.Items,
			Currency:     currency,
			Subtotal:     subtotal,
			Total:        total,
		}
	}

	token := state.EnsureToken()
	record, err := t.store.Upsert(t.logg.WithCartToken(ctx, token), snapshot(token), t.clock())
	if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		// the cookie still points at a recovered or expired cart; start a new one
		t.logg.Info(t.logg.WithCartToken(ctx, token), "cart closed, rotating token")
		token = state.RotateToken()
		record, err = t.store.Upsert(t.logg.WithCartToken(ctx, token), snapshot(token), t.clock())
	}
	ctx = t.logg.WithCartToken(ctx, token)
	if err != nil {
		t.logg.Error(ctx, "cart snapshot failed", err)
		return TrackResult{}, err
	}

	t.metrics.IncTracked()
	return TrackResult{Outcome: OutcomeTracked, Record: record}, nil
}

// IssueFormToken returns a checkout anti-forgery token bound to the request's cart token.
func (t *Tracker) IssueFormToken(ctx context.Context) (FormToken, error) {
	state := StateFromContext(ctx)
	if state == nil {
		return FormToken{}, pkgerrors.New(pkgerrors.CodeValidation, "cart session required")
	}
	now := t.clock()
	token, err := auth.MintCheckoutFormToken(t.jwt, t.formTokenTTL, now, state.EnsureToken())
	if err != nil {
		return FormToken{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint form token")
	}
	return FormToken{Token: token, ExpiresAt: now.Add(t.formTokenTTL)}, nil
}

// OnCheckoutEmailEntered stores the billing email on the current cart. Unknown
// carts and malformed emails are ignored; a bad form token is rejected.
func (t *Tracker) OnCheckoutEmailEntered(ctx context.Context, form CheckoutForm) error {
	state := StateFromContext(ctx)
	if state == nil || state.CurrentToken() == "" {
		return nil
	}
	token := state.CurrentToken()
	ctx = t.logg.WithCartToken(ctx, token)

	if _, err := auth.ParseCheckoutFormToken(t.jwt, form.FormToken, token); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "invalid checkout form token")
	}

	email := normalizeEmail(&form.Email)
	if email == nil {
		t.logg.Info(ctx, "ignoring invalid checkout email")
		return nil
	}

	ok, err := t.store.SetEmail(ctx, token, *email, t.clock())
	if err != nil {
		return err
	}
	if !ok {
		t.logg.Info(ctx, "checkout email for untracked cart")
	}
	return nil
}

// OnOrderCompleted marks the request's cart as recovered and tags the order.
func (t *Tracker) OnOrderCompleted(ctx context.Context, orderID string) (OrderResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	state := StateFromContext(ctx)
	if state == nil || state.CurrentToken() == "" {
		return OrderResult{}, nil
	}
	token := state.CurrentToken()
	ctx = t.logg.WithOrderID(t.logg.WithCartToken(ctx, token), orderID)

	if _, err := t.store.FindByToken(ctx, token); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return OrderResult{Token: token}, nil
		}
		return OrderResult{}, err
	}

	now := t.clock()
	recovered, err := t.store.MarkRecovered(ctx, token, orderID, now)
	if err != nil {
		return OrderResult{}, err
	}
	if recovered {
		t.metrics.AddTransitions(string(enums.CartStatusRecovered), 1)
		t.logg.Info(ctx, "cart recovered")
	}

	if t.orders != nil {
		if err := t.orders.TagOrder(ctx, orderID, token, now); err != nil {
			t.logg.Warn(t.logg.WithField(ctx, "error", err.Error()), "order attribution failed")
		}
	}
	return OrderResult{Recovered: recovered, Token: token}, nil
}

// Restore validates a recovery link and returns the cart it points at.
func (t *Tracker) Restore(ctx context.Context, token, key string) (*RestoreResult, error) {
	if !security.IsCartToken(token) || !security.VerifyRestoreKey(token, key, t.restoreSecret) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "invalid restore link")
	}
	record, err := t.store.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if record.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart can no longer be restored")
	}

	redirect := enums.RestoreRedirectCheckout
	current, err := t.settings.Get(ctx)
	if err != nil {
		t.logg.Warn(t.logg.WithField(ctx, "error", err.Error()), "settings unavailable, restoring to checkout")
	} else {
		redirect = current.RestoreRedirect
	}
	return &RestoreResult{Record: record, Redirect: redirect}, nil
}

// resolveEmail picks explicit, then stored, then account email.
func resolveEmail(explicit, stored, account *string) *string {
	for _, candidate := range []*string{explicit, stored, account} {
		if candidate != nil && strings.TrimSpace(*candidate) != "" {
			value := strings.TrimSpace(*candidate)
			return &value
		}
	}
	return nil
}

func normalizeEmail(value *string) *string {
	if value == nil {
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(*value))
	if email == "" || emailValidator.Var(email, "email,max=254") != nil {
		return nil
	}
	return &email
}
