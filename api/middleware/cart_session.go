package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/angelmondragon/cartpulse-backend/internal/cart"
	pkgAuth "github.com/angelmondragon/cartpulse-backend/pkg/auth"
	"github.com/angelmondragon/cartpulse-backend/pkg/config"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/security"
)

// Identity headers set by the storefront for signed-in customers.
const (
	customerIDHeader    = "X-Customer-Id"
	customerEmailHeader = "X-Customer-Email"
)

// CartSession builds the per-request tracking state from the cart cookie and
// writes the cookie back when a handler minted a new token.
func CartSession(cfg config.StorefrontConfig, jwtCfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := &cart.RequestState{
				UserID:       headerValue(r, customerIDHeader),
				AccountEmail: headerValue(r, customerEmailHeader),
				IsAdmin:      isAdminRequest(r, jwtCfg),
			}
			if c, err := r.Cookie(cfg.CookieName); err == nil && security.IsCartToken(c.Value) {
				state.Token = c.Value
			}

			ctx := cart.WithRequestState(r.Context(), state)
			if logg != nil && state.Token != "" {
				ctx = logg.WithCartToken(ctx, state.Token)
			}

			cw := &cookieWriter{ResponseWriter: w, cfg: cfg, state: state}
			next.ServeHTTP(cw, r.WithContext(ctx))
		})
	}
}

// SetCartCookie writes the tracking cookie for token.
func SetCartCookie(w http.ResponseWriter, cfg config.StorefrontConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   int(cfg.CookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCartCookie expires the tracking cookie so the next cart starts fresh.
func ClearCartCookie(w http.ResponseWriter, cfg config.StorefrontConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// cookieWriter emits Set-Cookie for a freshly minted token just before the
// response headers go out.
type cookieWriter struct {
	http.ResponseWriter
	cfg   config.StorefrontConfig
	state *cart.RequestState
	once  sync.Once
}

func (c *cookieWriter) flushCookie() {
	c.once.Do(func() {
		if c.state.Minted() {
			SetCartCookie(c.ResponseWriter, c.cfg, c.state.CurrentToken())
		}
	})
}

func (c *cookieWriter) WriteHeader(status int) {
	c.flushCookie()
	c.ResponseWriter.WriteHeader(status)
}

func (c *cookieWriter) Write(b []byte) (int, error) {
	c.flushCookie()
	return c.ResponseWriter.Write(b)
}

func headerValue(r *http.Request, name string) *string {
	value := strings.TrimSpace(r.Header.Get(name))
	if value == "" {
		return nil
	}
	return &value
}

func isAdminRequest(r *http.Request, jwtCfg config.JWTConfig) bool {
	token := bearerToken(r)
	if token == "" || jwtCfg.Secret == "" {
		return false
	}
	claims, err := pkgAuth.ParseAdminToken(jwtCfg, token)
	if err != nil {
		return false
	}
	return claims.Role == enums.OperatorRoleAdmin
}
