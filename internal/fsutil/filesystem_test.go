package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystemRoundtrip(t *testing.T) {
	var fs OSFileSystem
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "data.bin")

	if fs.Exists(path) {
		t.Fatal("file should not exist yet")
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := fs.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}
	if !fs.Exists(path) || !fs.Exists(filepath.Dir(path)) {
		t.Fatal("file and parent dir should exist")
	}
}

func TestMemoryFileSystemRoundtrip(t *testing.T) {
	fs := NewMemoryFileSystem()
	path := "/sds/2023/AU/CMSA/BHZ.D/AU.CMSA..BHZ.D.2023.152"

	if _, err := fs.ReadFile(path); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := fs.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Fatalf("unexpected contents %v", got)
	}
	if !fs.Exists("/sds/2023/AU") {
		t.Fatal("intermediate dir should exist")
	}
}

func TestMemoryFileSystemCopiesData(t *testing.T) {
	fs := NewMemoryFileSystem()
	src := []byte{1, 2, 3}
	if err := fs.WriteFile("/f", src, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	src[0] = 99

	got, err := fs.ReadFile("/f")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got[0] != 1 {
		t.Fatal("stored data must not alias the caller's slice")
	}
	got[1] = 99
	again, _ := fs.ReadFile("/f")
	if again[1] != 2 {
		t.Fatal("returned data must not alias the store")
	}
}
