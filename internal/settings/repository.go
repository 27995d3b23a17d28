package settings

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/cartpulse-backend/internal/repo"
	"github.com/angelmondragon/cartpulse-backend/pkg/db/models"
)

// Repository persists the single settings row.
type Repository struct {
	repo.Base
}

// NewRepository binds the repository to the provided GORM handle.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(conn)}
}

// EnsureSchema creates the settings table when it is missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	return r.EnsureTables(ctx, &models.RecoverySettings{})
}

// Load returns (nil, nil) when nothing has been saved yet.
func (r *Repository) Load(ctx context.Context) (*Settings, error) {
	var row models.RecoverySettings
	err := r.DB(ctx).Where("id = ?", models.RecoverySettingsID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s := fromModel(row)
	return &s, nil
}

// Save upserts the settings row.
func (r *Repository) Save(ctx context.Context, s Settings, now time.Time) error {
	row := toModel(s, now)
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

func fromModel(row models.RecoverySettings) Settings {
	return Settings{
		AbandonMinutes: row.AbandonMinutes,
		RetentionDays:  row.RetentionDays,
		EnableEmails:   row.EnableEmails,
		EmailSteps: EmailSteps{
			Step1Hours: row.EmailStep1Hours,
			Step2Hours: row.EmailStep2Hours,
			Step3Hours: row.EmailStep3Hours,
		},
		RestoreRedirect: row.RestoreRedirect,
	}
}

func toModel(s Settings, now time.Time) models.RecoverySettings {
	return models.RecoverySettings{
		ID:              models.RecoverySettingsID,
		AbandonMinutes:  s.AbandonMinutes,
		RetentionDays:   s.RetentionDays,
		EnableEmails:    s.EnableEmails,
		EmailStep1Hours: s.EmailSteps.Step1Hours,
		EmailStep2Hours: s.EmailSteps.Step2Hours,
		EmailStep3Hours: s.EmailSteps.Step3Hours,
		RestoreRedirect: s.RestoreRedirect,
		UpdatedAt:       now,
	}
}
