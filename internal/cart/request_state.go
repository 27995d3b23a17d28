package cart

import (
	"context"
	"sync"

	"github.com/angelmondragon/cartpulse-backend/pkg/security"
)

type requestStateKey struct{}

// RequestState is the per-request tracking context populated from the cart cookie.
type RequestState struct {
	Token        string
	UserID       *string
	AccountEmail *string
	IsAdmin      bool

	mu      sync.Mutex
	tracked bool
	minted  bool
}

// WithRequestState attaches state to ctx.
func WithRequestState(ctx context.Context, state *RequestState) context.Context {
	return context.WithValue(ctx, requestStateKey{}, state)
}

// StateFromContext returns the request state, or nil outside a storefront request.
func StateFromContext(ctx context.Context) *RequestState {
	if ctx == nil {
		return nil
	}
	state, _ := ctx.Value(requestStateKey{}).(*RequestState)
	return state
}

// claimTracking reports true only for the first caller in a request.
func (s *RequestState) claimTracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracked {
		return false
	}
	s.tracked = true
	return true
}

// EnsureToken returns the cart token, minting one when the request had none.
func (s *RequestState) EnsureToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Token == "" {
		s.Token = security.NewCartToken()
		s.minted = true
	}
	return s.Token
}

// RotateToken replaces the token with a freshly minted one, which must be set as a cookie.
func (s *RequestState) RotateToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Token = security.NewCartToken()
	s.minted = true
	return s.Token
}

// CurrentToken returns the cart token known to this request.
func (s *RequestState) CurrentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Token
}

// Minted reports whether a new token was created during this request and must be set as a cookie.
func (s *RequestState) Minted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minted
}

// Tracked reports whether a cart change was already recorded for this request.
func (s *RequestState) Tracked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracked
}
