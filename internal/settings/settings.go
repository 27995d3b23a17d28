package settings

import (
	"time"

	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
)

// StepCount is the number of recovery emails in a sequence.
const StepCount = 3

// Bounds enforced on every write. The maxima keep every window well inside
// time.Duration range.
const (
	MinAbandonMinutes = 5
	MinRetentionDays  = 1
	MinStepHours      = 1

	MaxAbandonMinutes = 525600
	MaxRetentionDays  = 3650
	MaxStepHours      = 8760
)

// Settings is the operator-tunable recovery configuration.
type Settings struct {
	AbandonMinutes  int                   `json:"abandon_minutes"`
	RetentionDays   int                   `json:"retention_days"`
	EnableEmails    bool                  `json:"enable_emails"`
	EmailSteps      EmailSteps            `json:"email_steps"`
	RestoreRedirect enums.RestoreRedirect `json:"restore_redirect"`
}

// EmailSteps holds hours after abandonment for each step, keyed "1".."3" on the wire.
type EmailSteps struct {
	Step1Hours int `json:"1"`
	Step2Hours int `json:"2"`
	Step3Hours int `json:"3"`
}

// Hours returns the delay for step (1-based), or zero for an unknown step.
func (e EmailSteps) Hours(step int) int {
	switch step {
	case 1:
		return e.Step1Hours
	case 2:
		return e.Step2Hours
	case 3:
		return e.Step3Hours
	default:
		return 0
	}
}

// Defaults mirrors a freshly installed store.
func Defaults() Settings {
	return Settings{
		AbandonMinutes:  60,
		RetentionDays:   30,
		EnableEmails:    true,
		EmailSteps:      EmailSteps{Step1Hours: 1, Step2Hours: 24, Step3Hours: 72},
		RestoreRedirect: enums.RestoreRedirectCheckout,
	}
}

// AbandonAfter is the inactivity window before a cart counts as abandoned.
func (s Settings) AbandonAfter() time.Duration {
	return time.Duration(s.AbandonMinutes) * time.Minute
}

// RetainFor is the inactivity window before a cart expires.
func (s Settings) RetainFor() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// StepDelay is the time after abandonment at which step becomes due.
func (s Settings) StepDelay(step int) time.Duration {
	return time.Duration(s.EmailSteps.Hours(step)) * time.Hour
}

// Input is a partial update; nil fields keep the current value.
type Input struct {
	AbandonMinutes  *int    `json:"abandon_minutes"`
	RetentionDays   *int    `json:"retention_days"`
	EnableEmails    *bool   `json:"enable_emails"`
	EmailStep1Hours *int    `json:"email_step_1"`
	EmailStep2Hours *int    `json:"email_step_2"`
	EmailStep3Hours *int    `json:"email_step_3"`
	RestoreRedirect *string `json:"restore_redirect" validate:"omitempty,max=32"`
}

// Apply overlays the provided fields on current and clamps the result.
func (in Input) Apply(current Settings) Settings {
	next := current
	if in.AbandonMinutes != nil {
		next.AbandonMinutes = *in.AbandonMinutes
	}
	if in.RetentionDays != nil {
		next.RetentionDays = *in.RetentionDays
	}
	if in.EnableEmails != nil {
		next.EnableEmails = *in.EnableEmails
	}
	if in.EmailStep1Hours != nil {
		next.EmailSteps.Step1Hours = *in.EmailStep1Hours
	}
	if in.EmailStep2Hours != nil {
		next.EmailSteps.Step2Hours = *in.EmailStep2Hours
	}
	if in.EmailStep3Hours != nil {
		next.EmailSteps.Step3Hours = *in.EmailStep3Hours
	}
	if in.RestoreRedirect != nil {
		next.RestoreRedirect = enums.RestoreRedirect(*in.RestoreRedirect)
	}
	return Clamp(next)
}

// Clamp moves out-of-range values to the nearest valid one. Each step is
// pushed to at least one hour after the previous step; step 1 and 2 are capped
// low enough that the later steps still fit under MaxStepHours.
func Clamp(s Settings) Settings {
	s.AbandonMinutes = between(s.AbandonMinutes, MinAbandonMinutes, MaxAbandonMinutes)
	s.RetentionDays = between(s.RetentionDays, MinRetentionDays, MaxRetentionDays)
	s.EmailSteps.Step1Hours = between(s.EmailSteps.Step1Hours, MinStepHours, MaxStepHours-2)
	s.EmailSteps.Step2Hours = between(s.EmailSteps.Step2Hours, s.EmailSteps.Step1Hours+1, MaxStepHours-1)
	s.EmailSteps.Step3Hours = between(s.EmailSteps.Step3Hours, s.EmailSteps.Step2Hours+1, MaxStepHours)
	if !s.RestoreRedirect.IsValid() {
		s.RestoreRedirect = enums.RestoreRedirectCheckout
	}
	return s
}

func between(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
