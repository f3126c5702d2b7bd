package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPendingFilesOrderAndFilter(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.up.sql", "001_a.up.sql", "001_a.down.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("-- sql"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.up.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := pendingFiles(dir)
	if err != nil {
		t.Fatalf("pendingFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "001_a.up.sql" || files[1] != "002_b.up.sql" {
		t.Errorf("unexpected files: %v", files)
	}
}

func TestShippedMigrationsAreReadable(t *testing.T) {
	files, err := pendingFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("pendingFiles: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected at least one shipped migration")
	}
}
