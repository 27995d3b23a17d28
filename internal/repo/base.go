package repo

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Base provides a shared foundation for domain repositories.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// EnsureTables probes for each model's table and creates the ones that are missing.
// Existing tables are left untouched; schema changes go through goose migrations.
func (b Base) EnsureTables(ctx context.Context, models ...any) error {
	migrator := b.DB(ctx).Migrator()
	for _, model := range models {
		if migrator.HasTable(model) {
			continue
		}
		if err := migrator.CreateTable(model); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}
