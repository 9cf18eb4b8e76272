package database

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Path:        filepath.Join(t.TempDir(), "shqlink.db"),
		WALMode:     true,
		BusyTimeout: 5,
	}
}

func TestOpenCreatesDirectoryAndFile(t *testing.T) {
	cfg := Config{
		Path:        filepath.Join(t.TempDir(), "nested", "deeper", "shqlink.db"),
		BusyTimeout: 5,
	}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck

	if db.Path() != cfg.Path {
		t.Errorf("Path() = %q, want %q", db.Path(), cfg.Path)
	}

	// The parent directories must exist even though none did before.
	if _, err := os.Stat(filepath.Dir(cfg.Path)); err != nil {
		t.Errorf("database directory not created: %v", err)
	}
}

func TestOpenRestrictsFileMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}

	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck

	// Force the file into existence, then re-assert the mode the way a
	// restart would.
	if _, err := db.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := os.Chmod(db.Path(), filePerm); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}

	info, err := os.Stat(db.Path())
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if mode := info.Mode().Perm(); mode != filePerm {
		t.Errorf("file mode = %o, want %o", mode, filePerm)
	}
}

func TestWALModeEnabled(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck

	var on int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if on != 1 {
		t.Error("foreign_keys pragma is off")
	}
}

func TestHealthCheck(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheckAfterClose(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close = nil, want error")
	}
}

func TestCloseNilHandle(t *testing.T) {
	db := &DB{}
	if err := db.Close(); err != nil {
		t.Errorf("Close() on empty DB = %v, want nil", err)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
		omit []string
	}{
		{
			name: "wal enabled",
			cfg:  Config{Path: "/data/shqlink.db", WALMode: true, BusyTimeout: 5},
			want: []string{"file:/data/shqlink.db?", "_busy_timeout=5000", "_journal_mode=WAL", "_synchronous=NORMAL", "_foreign_keys=on"},
		},
		{
			name: "wal disabled",
			cfg:  Config{Path: "/data/shqlink.db", BusyTimeout: 2},
			want: []string{"_busy_timeout=2000", "_foreign_keys=on"},
			omit: []string{"_journal_mode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dsn(tt.cfg)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("dsn() = %q, missing %q", got, w)
				}
			}
			for _, o := range tt.omit {
				if strings.Contains(got, o) {
					t.Errorf("dsn() = %q, should not contain %q", got, o)
				}
			}
		})
	}
}

// TestSingleWriterSerialization exercises the one-connection pool with the
// kind of concurrent history writes the registry produces.
func TestSingleWriterSerialization(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck

	if _, err := db.Exec(`
		CREATE TABLE state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			state TEXT NOT NULL,
			source TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		)
	`); err != nil {
		t.Fatalf("creating table: %v", err)
	}

	const writers, rows = 4, 25
	errc := make(chan error, writers)
	for w := 0; w < writers; w++ {
		go func() {
			for i := 0; i < rows; i++ {
				_, err := db.Exec(
					"INSERT INTO state_history (device_id, state, source, recorded_at) VALUES (?, ?, ?, ?)",
					"door-1", `{"state":"open"}`, "broadcast", "2026-08-29T12:00:00Z",
				)
				if err != nil {
					errc <- err
					return
				}
			}
			errc <- nil
		}()
	}
	for w := 0; w < writers; w++ {
		if err := <-errc; err != nil {
			t.Fatalf("concurrent insert: %v", err)
		}
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM state_history").Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != writers*rows {
		t.Errorf("count = %d, want %d", count, writers*rows)
	}
}
