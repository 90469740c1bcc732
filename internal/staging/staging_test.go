package staging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDir(t *testing.T) {
	got := Dir("downloads", "42")
	want := filepath.Join("downloads", "42", "media")
	if got != want {
		t.Fatalf("Dir: got %q, want %q", got, want)
	}
}

func TestClear_MissingDir_NoError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nope")
	if err := Clear(dir); err != nil {
		t.Fatalf("Clear on missing dir: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("Clear must not create the directory")
	}
}

func TestClear_TwiceIsNoop(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Clear(dir); err != nil {
		t.Fatalf("first Clear: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %d entries", len(entries))
	}

	if err := Clear(dir); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("dir itself must survive: %v", err)
	}
}

func TestClear_RemovesSymlinksAndEmptyDirs(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "target.txt")
	if err := os.WriteFile(target, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := Clear(dir); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %d entries", len(entries))
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatal("symlink target must not be removed")
	}
}

func TestClear_NonEmptySubdir_Fails(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "x.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Clear(dir); err == nil {
		t.Fatal("expected error for non-empty sub-directory")
	}
}

func TestPrepare_CreatesAndClears(t *testing.T) {
	root := t.TempDir()

	dir, err := Prepare(root, "7")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if dir != Dir(root, "7") {
		t.Fatalf("Prepare returned %q", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, "old.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Prepare(root, "7"); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("leftover files leaked into next request: %d", len(entries))
	}
}
