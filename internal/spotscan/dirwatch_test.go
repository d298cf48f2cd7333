package spotscan

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDirWatchWakesOnWrite(t *testing.T) {
	dir := t.TempDir()
	lockfile := filepath.Join(dir, "build.lock")

	dw := Watch([]string{lockfile}, nil)
	defer dw.Close()

	if err := os.WriteFile(filepath.Join(dir, "F.0"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write spot file: %v", err)
	}

	select {
	case <-dw.Wake():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for directory wakeup")
	}
}

func TestDirWatchDedupsSharedDirectories(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.lock")
	b := filepath.Join(dir, "b.lock")

	dw := Watch([]string{a, b}, nil)
	defer dw.Close()

	if len(dw.watchers) != 1 {
		t.Fatalf("expected one watcher for a shared directory, got %d", len(dw.watchers))
	}
}

func TestDirWatchNilSafe(t *testing.T) {
	var dw *DirWatch
	if ch := dw.Wake(); ch != nil {
		t.Fatalf("expected nil channel from nil *DirWatch, got %v", ch)
	}
	dw.Close()
}

func TestDirWatchUnwatchableDirectoryDegradesSilently(t *testing.T) {
	dw := Watch([]string{filepath.Join(string(os.PathSeparator), "does-not-exist-goldilock", "x.lock")}, nil)
	defer dw.Close()

	select {
	case <-dw.Wake():
		t.Fatal("did not expect a wakeup from an unwatchable directory")
	case <-time.After(50 * time.Millisecond):
	}
}
