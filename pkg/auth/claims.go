package auth

import (
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// checkoutFormAudience separates form tokens from admin access tokens signed with the same key.
const checkoutFormAudience = "checkout-form"

// AdminTokenPayload captures the data available when minting an operator JWT.
type AdminTokenPayload struct {
	Subject string
	Role    enums.OperatorRole
	JTI     string
}

// AdminTokenClaims represents the typed JWT issued to operators.
type AdminTokenClaims struct {
	Role enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}

// CheckoutFormClaims binds an anti-forgery token to a single cart token.
type CheckoutFormClaims struct {
	CartToken string `json:"cart_token"`
	jwt.RegisteredClaims
}
