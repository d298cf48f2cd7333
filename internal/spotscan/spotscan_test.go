package spotscan_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tipi-build/goldilock/internal/clock"
	"github.com/tipi-build/goldilock/internal/spotfile"
	"github.com/tipi-build/goldilock/internal/spotscan"
)

func writeSpot(t *testing.T, path string, rec spotfile.Record) {
	t.Helper()
	data, err := spotfile.EncodeBytes(rec)
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}
	if err := os.WriteFile(path, data, 0o666); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestScanIncludesFreshSpots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	base := time.Unix(1700000000, 0).UTC()
	mc := clock.NewManual(base)

	writeSpot(t, lockfile+".1", spotfile.New("tok-1", base))
	writeSpot(t, lockfile+".2", spotfile.New("tok-2", base))

	s := spotscan.New(spotscan.Config{Lifetime: 60 * time.Second, Clock: mc})
	views, err := s.Scan(lockfile)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d: %+v", len(views), views)
	}
	view, ok := spotscan.LowestFirst(views)
	if !ok || view.SpotIndex != 1 || view.Token != "tok-1" {
		t.Fatalf("unexpected lowest view: %+v", view)
	}
	if spotscan.MaxIndex(views) != 2 {
		t.Fatalf("expected max index 2, got %d", spotscan.MaxIndex(views))
	}
}

func TestScanCleansUpExpiredSpots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	base := time.Unix(1700000000, 0).UTC()
	mc := clock.NewManual(base)

	stalePath := lockfile + ".1"
	freshPath := lockfile + ".2"
	writeSpot(t, stalePath, spotfile.New("stale", base))
	mc.Advance(61 * time.Second)
	writeSpot(t, freshPath, spotfile.New("fresh", mc.Now()))

	s := spotscan.New(spotscan.Config{Lifetime: 60 * time.Second, Clock: mc})
	views, err := s.Scan(lockfile)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view after cleanup, got %d: %+v", len(views), views)
	}
	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Fatalf("expected stale spot to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Fatalf("expected fresh spot to remain: %v", err)
	}
}

func TestScanCleansUpCorruptSpots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	corruptPath := lockfile + ".1"
	if err := os.WriteFile(corruptPath, []byte("not valid yaml: [["), 0o666); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := spotscan.New(spotscan.Config{Clock: clock.NewManual(time.Unix(0, 0))})
	views, err := s.Scan(lockfile)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no views, got %+v", views)
	}
	if _, err := os.Stat(corruptPath); !os.IsNotExist(err) {
		t.Fatalf("expected corrupt spot to be removed, stat err=%v", err)
	}
}

func TestScanIgnoresUnrelatedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	base := time.Unix(1700000000, 0).UTC()

	writeSpot(t, lockfile+".1", spotfile.New("tok", base))
	writeSpot(t, lockfile+".1.bak", spotfile.New("tok", base))
	if err := os.WriteFile(filepath.Join(dir, "other.lock.1"), []byte("irrelevant"), 0o666); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "foo.lock.subdir"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	s := spotscan.New(spotscan.Config{Clock: clock.NewManual(base)})
	views, err := s.Scan(lockfile)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected exactly 1 matching view, got %d: %+v", len(views), views)
	}
}

func TestScanSkipsSpotDeletedBetweenListAndRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	base := time.Unix(1700000000, 0).UTC()
	path := lockfile + ".1"
	writeSpot(t, path, spotfile.New("tok", base))
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	s := spotscan.New(spotscan.Config{Clock: clock.NewManual(base)})
	views, err := s.Scan(lockfile)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no views, got %+v", views)
	}
}

func TestScanErrorsWhenDirectoryMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	missing := filepath.Join(dir, "gone", "foo.lock")
	s := spotscan.New(spotscan.Config{})
	if _, err := s.Scan(missing); err == nil {
		t.Fatal("expected error when lockfile directory does not exist")
	}
}
