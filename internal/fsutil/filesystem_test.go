package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystemRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run", "out")
	var osfs OSFileSystem

	if err := osfs.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := filepath.Join(dir, "missions.txt")
	f, err := osfs.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte("POINT(1 2),wander,[]\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := osfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "POINT(1 2),wander,[]\n" {
		t.Errorf("ReadFile = %q", data)
	}
}

func TestMemoryFileSystemWriteOnClose(t *testing.T) {
	m := NewMemoryFileSystem()

	w, err := m.Create("out/./missions.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("first")); err != nil {
		t.Fatal(err)
	}

	data, err := m.ReadFile("out/missions.txt")
	if err != nil {
		t.Fatalf("ReadFile before Close: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("ReadFile before Close = %q, want truncated file", data)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	data, err = m.ReadFile("out/missions.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "first" {
		t.Errorf("ReadFile = %q, want first", data)
	}

	// Callers cannot mutate stored data through the returned slice.
	data[0] = 'X'
	again, _ := m.ReadFile("out/missions.txt")
	if string(again) != "first" {
		t.Errorf("stored data changed to %q", again)
	}
}

func TestMemoryFileSystemMissingFile(t *testing.T) {
	m := NewMemoryFileSystem()
	_, err := m.ReadFile("nope.txt")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile error = %v, want fs.ErrNotExist", err)
	}
}

func TestMemoryFileSystemDirsAndNames(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("data/runs", 0o755); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{"data/runs", "data", "."} {
		if !m.IsDir(dir) {
			t.Errorf("IsDir(%q) = false", dir)
		}
	}
	if m.IsDir("other") {
		t.Error("IsDir(other) = true")
	}

	for _, name := range []string{"b.txt", "a.txt"} {
		w, _ := m.Create(name)
		w.Close()
	}
	names := m.Names()
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Errorf("Names() = %v", names)
	}
}

func TestFileSystemInterface(t *testing.T) {
	var _ FileSystem = OSFileSystem{}
	var _ FileSystem = NewMemoryFileSystem()
}
