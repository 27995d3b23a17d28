package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/cartpulse-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestCartRecordsMigrationContainsIndexes(t *testing.T) {
	content := readMigration(t, "create_cart_records")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS cart_records",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_cart_records_cart_token ON cart_records (cart_token)",
		"CREATE INDEX IF NOT EXISTS idx_cart_records_status ON cart_records (status)",
		"CREATE INDEX IF NOT EXISTS idx_cart_records_email ON cart_records (email)",
		"CREATE INDEX IF NOT EXISTS idx_cart_records_abandoned_at ON cart_records (abandoned_at)",
		"CHECK (status IN ('active', 'abandoned', 'recovered', 'expired'))",
		"DROP TABLE IF EXISTS cart_records",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestRecoverySettingsMigrationIsSingleton(t *testing.T) {
	content := readMigration(t, "create_recovery_settings")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS recovery_settings",
		"CHECK (id = 1)",
		"CHECK (restore_redirect IN ('checkout', 'cart'))",
		"DROP TABLE IF EXISTS recovery_settings",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Cart Notes!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_cart_notes.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected error for name that sanitizes to empty")
	}
}
