package models

import (
	"time"

	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
)

// RecoverySettingsID is the primary key of the only settings row.
const RecoverySettingsID = 1

// RecoverySettings persists the operator-tunable recovery thresholds.
type RecoverySettings struct {
	ID              int                   `gorm:"column:id;primaryKey;autoIncrement:false"`
	AbandonMinutes  int                   `gorm:"column:abandon_minutes;not null"`
	RetentionDays   int                   `gorm:"column:retention_days;not null"`
	EnableEmails    bool                  `gorm:"column:enable_emails;not null"`
	EmailStep1Hours int                   `gorm:"column:email_step_1_hours;not null"`
	EmailStep2Hours int                   `gorm:"column:email_step_2_hours;not null"`
	EmailStep3Hours int                   `gorm:"column:email_step_3_hours;not null"`
	RestoreRedirect enums.RestoreRedirect `gorm:"column:restore_redirect;size:20;not null"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (RecoverySettings) TableName() string {
	return "recovery_settings"
}
