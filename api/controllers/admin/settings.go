package admin

import (
	"context"
	"net/http"

	"github.com/angelmondragon/cartpulse-backend/api/responses"
	"github.com/angelmondragon/cartpulse-backend/api/validators"
	"github.com/angelmondragon/cartpulse-backend/internal/settings"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
)

// SettingsService reads and writes the recovery settings.
type SettingsService interface {
	Get(ctx context.Context) (settings.Settings, error)
	Save(ctx context.Context, in settings.Input) (settings.Settings, error)
}

// GetSettings returns the stored recovery settings, or the defaults when none were saved.
func GetSettings(svc SettingsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, err := svc.Get(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, current)
	}
}

// PutSettings applies a partial update. Out-of-range values are clamped, not rejected.
func PutSettings(svc SettingsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload settings.Input
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		saved, err := svc.Save(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(r.Context(), map[string]any{
				"abandon_minutes": saved.AbandonMinutes,
				"retention_days":  saved.RetentionDays,
				"enable_emails":   saved.EnableEmails,
			}), "recovery settings saved")
		}
		responses.WriteSuccess(w, saved)
	}
}
