package settings

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/angelmondragon/cartpulse-backend/pkg/errors"
)

type repository interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context) (*Settings, error)
	Save(ctx context.Context, s Settings, now time.Time) error
}

// Service reads and writes the recovery settings.
type Service struct {
	repo repository
	now  func() time.Time
}

// NewService wires the settings store.
func NewService(repo repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("settings repository required")
	}
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema creates the settings table when missing.
func (s *Service) EnsureSchema(ctx context.Context) error {
	if err := s.repo.EnsureSchema(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ensure settings schema")
	}
	return nil
}

// Get returns the stored settings, or the defaults when none were saved.
// Stored values are clamped on the way out as well.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	stored, err := s.repo.Load(ctx)
	if err != nil {
		return Settings{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load settings")
	}
	if stored == nil {
		return Defaults(), nil
	}
	return Clamp(*stored), nil
}

// Save merges in onto the current settings, clamps, persists, and returns the stored value.
func (s *Service) Save(ctx context.Context, in Input) (Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := in.Apply(current)
	if err := s.repo.Save(ctx, next, s.now()); err != nil {
		return Settings{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save settings")
	}
	return next, nil
}
