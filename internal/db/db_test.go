package db_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/db"
)

// TestWALMode verifies that Open enables WAL journal mode for sqlite files.
func TestWALMode(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "wal_test.db")

	gdb, err := db.Open("sqlite", dsn, zerolog.Nop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	var mode string
	gdb.Raw("PRAGMA journal_mode").Scan(&mode)
	if mode != "wal" {
		t.Errorf("expected journal_mode=wal, got %q", mode)
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	dsn := filepath.Join(dir, "agent.db")

	if _, err := db.Open("sqlite", dsn, zerolog.Nop()); err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := db.Open("oracle", "x", zerolog.Nop()); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestSQLiteDSN(t *testing.T) {
	cases := map[string]string{
		"agent.db":                  "agent.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on",
		":memory:":                  ":memory:",
		"agent.db?_foreign_keys=on": "agent.db?_foreign_keys=on",
	}
	for in, want := range cases {
		if got := db.SQLiteDSN(in); got != want {
			t.Errorf("SQLiteDSN(%q): want %q, got %q", in, want, got)
		}
	}
}
