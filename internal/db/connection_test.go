package db

import "testing"

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	want := "host=localhost port=5432 user=postgres password=postgres dbname=driftetl sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestConfigMigrationURL(t *testing.T) {
	cfg := Config{Host: "db", Port: 6543, User: "etl", Password: "p@ss word", DBName: "drift", SSLMode: "require"}
	want := "pgx5://etl:p%40ss%20word@db:6543/drift?sslmode=require"
	if got := cfg.MigrationURL(); got != want {
		t.Fatalf("unexpected migration url %q", got)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 || len(entries)%2 != 0 {
		t.Fatalf("expected paired up/down migrations, got %d files", len(entries))
	}
}
