package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/cartpulse-backend/api/responses"
	"github.com/angelmondragon/cartpulse-backend/api/validators"
	pkgAuth "github.com/angelmondragon/cartpulse-backend/pkg/auth"
	"github.com/angelmondragon/cartpulse-backend/pkg/config"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartpulse-backend/pkg/errors"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/security"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type operatorCredential struct {
	email string
	hash  string
	role  enums.OperatorRole
}

func operatorCredentials(cfg config.AdminConfig) []operatorCredential {
	var creds []operatorCredential
	if cfg.Email != "" && cfg.PasswordHash != "" {
		creds = append(creds, operatorCredential{strings.ToLower(strings.TrimSpace(cfg.Email)), cfg.PasswordHash, enums.OperatorRoleAdmin})
	}
	if cfg.ViewerEmail != "" && cfg.ViewerPasswordHash != "" {
		creds = append(creds, operatorCredential{strings.ToLower(strings.TrimSpace(cfg.ViewerEmail)), cfg.ViewerPasswordHash, enums.OperatorRoleViewer})
	}
	return creds
}

// Login exchanges a configured operator credential for a bearer token carrying
// that operator's role.
func Login(cfg *config.Config, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload loginRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		creds := operatorCredentials(cfg.Admin)
		if len(creds) == 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin login disabled"))
			return
		}

		email := strings.ToLower(strings.TrimSpace(payload.Email))
		// unknown emails still pay for one hash check
		match, known := creds[0], false
		for _, cred := range creds {
			if cred.email == email {
				match, known = cred, true
				break
			}
		}
		ok, err := security.VerifyPassword(payload.Password, match.hash)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password"))
			return
		}
		if !ok || !known {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials"))
			return
		}

		now := time.Now().UTC()
		token, err := pkgAuth.MintAdminToken(cfg.JWT, now, pkgAuth.AdminTokenPayload{
			Subject: email,
			Role:    match.role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint token"))
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(r.Context(), map[string]any{"operator_id": email, "role": string(match.role)}), "operator login")
		}
		responses.WriteSuccess(w, loginResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresAt:   now.Add(time.Duration(cfg.JWT.ExpirationMinutes) * time.Minute),
		})
	}
}
