package database

import (
	"context"
	"path/filepath"
	"testing"

	"kgload/internal/bootstrap/config"
)

func TestWithPragmas(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{dsn: ":memory:", want: ":memory:"},
		{dsn: "file::memory:?mode=memory&cache=shared", want: "file::memory:?mode=memory&cache=shared"},
		{dsn: "ledger.sqlite?_pragma=busy_timeout(100)", want: "ledger.sqlite?_pragma=busy_timeout(100)"},
		{dsn: ".kgload/ledger.sqlite", want: ".kgload/ledger.sqlite?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"},
		{dsn: "ledger.sqlite?cache=shared", want: "ledger.sqlite?cache=shared&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"},
	}
	for _, tt := range tests {
		if got := withPragmas(tt.dsn); got != tt.want {
			t.Fatalf("withPragmas(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "ledger.sqlite")
	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("DB() error = %v", err)
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.DatabaseConfig{Driver: "postgres", DSN: "x"}, false); err == nil {
		t.Fatalf("Open() expected error for unsupported driver")
	}
}
