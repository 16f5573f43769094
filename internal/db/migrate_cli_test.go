package db

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func migrateCmd(t *testing.T, path, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := RunMigrateCommand(args, path, strings.NewReader(input), &out)
	return out.String(), err
}

func dbVersion(t *testing.T, path string) (uint, bool) {
	t.Helper()
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()
	version, dirty, err := db.MigrateVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	return version, dirty
}

func TestMigrateCommandLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	latest, err := LatestMigrationVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("LatestMigrationVersion: %v", err)
	}

	out, err := migrateCmd(t, path, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Current version: 0\n") || !strings.Contains(out, "pending") {
		t.Errorf("fresh status output:\n%s", out)
	}

	if out, err = migrateCmd(t, path, "", "up"); err != nil {
		t.Fatalf("up: %v", err)
	}
	if v, _ := dbVersion(t, path); v != latest {
		t.Errorf("after up version = %d, want %d", v, latest)
	}
	if !strings.Contains(out, "All migrations applied") {
		t.Errorf("up output:\n%s", out)
	}

	out, _ = migrateCmd(t, path, "", "status")
	if !strings.Contains(out, "up to date") {
		t.Errorf("status after up:\n%s", out)
	}

	if _, err := migrateCmd(t, path, "", "down"); err != nil {
		t.Fatalf("down: %v", err)
	}
	if v, _ := dbVersion(t, path); v != latest-1 {
		t.Errorf("after down version = %d, want %d", v, latest-1)
	}

	if _, err := migrateCmd(t, path, "", "version", "1"); err != nil {
		t.Fatalf("version 1: %v", err)
	}
	if v, _ := dbVersion(t, path); v != 1 {
		t.Errorf("after version 1 = %d", v)
	}
}

func TestMigrateCommandForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "force.db")
	if _, err := migrateCmd(t, path, "", "up"); err != nil {
		t.Fatalf("up: %v", err)
	}

	out, err := migrateCmd(t, path, "n\n", "force", "1")
	if err != nil {
		t.Fatalf("force aborted: %v", err)
	}
	if !strings.Contains(out, "Aborted") {
		t.Errorf("expected abort, got:\n%s", out)
	}
	if v, _ := dbVersion(t, path); v == 1 {
		t.Error("declined force changed the version")
	}

	if _, err := migrateCmd(t, path, "y\n", "force", "1"); err != nil {
		t.Fatalf("force: %v", err)
	}
	if v, dirty := dbVersion(t, path); v != 1 || dirty {
		t.Errorf("forced version = %d dirty=%v, want 1 clean", v, dirty)
	}
}

func TestMigrateCommandUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no action", nil, ""},
		{"unknown action", []string{"sideways"}, "Unknown migrate action: sideways"},
		{"version without number", []string{"version"}, ""},
		{"force without number", []string{"force"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := migrateCmd(t, path, "", tt.args...)
			if !errors.Is(err, ErrMigrateUsage) {
				t.Errorf("error = %v, want ErrMigrateUsage", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}

	if _, err := migrateCmd(t, path, "", "version", "two"); err == nil || errors.Is(err, ErrMigrateUsage) {
		t.Errorf("bad version number error = %v", err)
	}

	out, err := migrateCmd(t, path, "", "help")
	if err != nil {
		t.Errorf("help: %v", err)
	}
	if !strings.Contains(out, "pedflow [-db-path <path>] migrate") {
		t.Errorf("help output:\n%s", out)
	}
}
