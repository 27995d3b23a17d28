package storefront

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/cartpulse-backend/api/middleware"
	"github.com/angelmondragon/cartpulse-backend/api/responses"
	"github.com/angelmondragon/cartpulse-backend/api/validators"
	"github.com/angelmondragon/cartpulse-backend/internal/cart"
	"github.com/angelmondragon/cartpulse-backend/pkg/config"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartpulse-backend/pkg/errors"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
)

const maxOrderIDLen = 64

// Tracker is the storefront event surface of the cart tracker.
type Tracker interface {
	OnCartChanged(ctx context.Context, change cart.CartChange) (cart.TrackResult, error)
	IssueFormToken(ctx context.Context) (cart.FormToken, error)
	OnCheckoutEmailEntered(ctx context.Context, form cart.CheckoutForm) error
	OnOrderCompleted(ctx context.Context, orderID string) (cart.OrderResult, error)
	Restore(ctx context.Context, token, key string) (*cart.RestoreResult, error)
}

type trackResponse struct {
	Outcome cart.TrackOutcome `json:"outcome"`
}

type orderResponse struct {
	Recovered bool `json:"recovered"`
}

// CartChanged records the cart snapshot sent on add-to-cart and cart updates.
func CartChanged(svc Tracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload cart.CartChange
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.OnCartChanged(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Outcome == cart.OutcomeTracked {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, trackResponse{Outcome: result.Outcome})
	}
}

// CheckoutFormToken issues the anti-forgery token the checkout page echoes back.
func CheckoutFormToken(svc Tracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := svc.IssueFormToken(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccess(w, token)
	}
}

// CheckoutEmail captures the billing email typed on the checkout page.
func CheckoutEmail(svc Tracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload cart.CheckoutForm
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.OnCheckoutEmailEntered(r.Context(), payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// OrderCompleted attributes the order to the current cart and drops the cookie
// so the shopper's next cart starts a fresh record.
func OrderCompleted(svc Tracker, cfg config.StorefrontConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := validators.SanitizeString(chi.URLParam(r, "orderId"), 0)
		if orderID == "" || len(orderID) > maxOrderIDLen {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id").
				WithDetails(map[string]any{"field": "orderId", "max": maxOrderIDLen}))
			return
		}

		result, err := svc.OnOrderCompleted(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result.Token != "" {
			middleware.ClearCartCookie(w, cfg)
		}
		responses.WriteSuccess(w, orderResponse{Recovered: result.Recovered})
	}
}

// Restore follows a recovery email link: it re-attaches the cart cookie and
// sends the shopper to checkout or the cart page.
func Restore(svc Tracker, cfg config.StorefrontConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		token := validators.SanitizeString(query.Get("token"), 64)
		key := validators.SanitizeString(query.Get("key"), 128)

		result, err := svc.Restore(r.Context(), token, key)
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			// closed carts land on an empty cart page; the cookie is left alone
			target, joinErr := redirectTarget(cfg, enums.RestoreRedirectCart)
			if joinErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, joinErr, "build redirect"))
				return
			}
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := redirectTarget(cfg, result.Redirect)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build redirect"))
			return
		}

		middleware.SetCartCookie(w, cfg, result.Record.CartToken)
		w.Header().Set("Cache-Control", "no-store")
		if logg != nil {
			ctx := logg.WithFields(logg.WithCartToken(r.Context(), result.Record.CartToken), map[string]any{
				"redirect": string(result.Redirect),
				"status":   string(result.Record.Status),
			})
			logg.Info(ctx, "cart restored")
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func redirectTarget(cfg config.StorefrontConfig, redirect enums.RestoreRedirect) (string, error) {
	path := cfg.CheckoutPath
	if redirect == enums.RestoreRedirectCart {
		path = cfg.CartPath
	}
	return url.JoinPath(cfg.ShopBaseURL, path)
}
