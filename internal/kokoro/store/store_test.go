package store

import (
	"path/filepath"
	"testing"
)

func TestNew_InMemoryAppliesMigrations(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"namespaces", "contents", "contents_fts", "processed_markers", "matrix_sync_state"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	migrations, err := listMigrations()
	if err != nil {
		t.Fatalf("listMigrations: %v", err)
	}
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if want := migrations[len(migrations)-1].version; v != want {
		t.Errorf("schema version: got %d, want %d", v, want)
	}
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kokoro.db")

	s1, err := New(path)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := s1.DB().Exec(
		"INSERT INTO namespaces (id, metadata, created_at, updated_at) VALUES ('n1', '{}', 'now', 'now')",
	); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s1.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	defer s2.Close()

	var count int
	if err := s2.DB().QueryRow("SELECT COUNT(*) FROM namespaces").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected data to survive reopen, got %d rows", count)
	}

	var applied int
	if err := s2.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	migrations, _ := listMigrations()
	if applied != len(migrations) {
		t.Errorf("migrations applied twice? got %d rows, want %d", applied, len(migrations))
	}
}

func TestListMigrations_Ordered(t *testing.T) {
	ms, err := listMigrations()
	if err != nil {
		t.Fatalf("listMigrations: %v", err)
	}
	for i := 1; i < len(ms); i++ {
		if ms[i-1].version >= ms[i].version {
			t.Errorf("migrations out of order: %d before %d", ms[i-1].version, ms[i].version)
		}
	}
}
