package reservation_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tipi-build/goldilock/internal/clock"
	"github.com/tipi-build/goldilock/internal/reservation"
	"github.com/tipi-build/goldilock/internal/spotfile"
)

func newReservation(t *testing.T, ctx context.Context, lockfile string, mc *clock.Manual) *reservation.Reservation {
	t.Helper()
	r, err := reservation.New(ctx, lockfile, reservation.Config{Clock: mc})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNewClaimsSpotZeroWhenEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	mc := clock.NewManual(time.Unix(1700000000, 0))

	r := newReservation(t, context.Background(), lockfile, mc)
	if r.SpotPath() != lockfile+".0" {
		t.Fatalf("expected spot .0, got %s", r.SpotPath())
	}
	if _, err := os.Stat(r.SpotPath()); err != nil {
		t.Fatalf("expected spot file to exist: %v", err)
	}
}

func TestNewClaimsNextIndexAfterExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	mc := clock.NewManual(time.Unix(1700000000, 0))

	data, err := spotfile.EncodeBytes(spotfile.New("other", mc.Now()))
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}
	if err := os.WriteFile(lockfile+".0", data, 0o666); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := newReservation(t, context.Background(), lockfile, mc)
	if r.SpotPath() != lockfile+".1" {
		t.Fatalf("expected spot .1, got %s", r.SpotPath())
	}
}

func TestIsFirstReflectsLowestSpot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	mc := clock.NewManual(time.Unix(1700000000, 0))

	first := newReservation(t, context.Background(), lockfile, mc)
	second := newReservation(t, context.Background(), lockfile, mc)

	ok, err := first.IsFirst()
	if err != nil || !ok {
		t.Fatalf("expected first reservation to report first-in-line, ok=%v err=%v", ok, err)
	}
	ok, err = second.IsFirst()
	if err != nil || ok {
		t.Fatalf("expected second reservation to report not-first, ok=%v err=%v", ok, err)
	}
}

func TestReleaseRemovesSpotAndIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	mc := clock.NewManual(time.Unix(1700000000, 0))

	r := newReservation(t, context.Background(), lockfile, mc)
	path := r.SpotPath()

	r.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected spot removed, stat err=%v", err)
	}
	r.Release() // idempotent
}

func TestRefreshExtendsValidity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	mc := clock.NewManual(time.Unix(1700000000, 0))

	r := newReservation(t, context.Background(), lockfile, mc)
	mc.Advance(30 * time.Second)
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	data, err := os.ReadFile(r.SpotPath())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	rec, err := spotfile.DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if rec.Time() != mc.Now() {
		t.Fatalf("expected refreshed timestamp %v, got %v", mc.Now(), rec.Time())
	}
}

func TestRefreshFailsWhenSpotFileGone(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	mc := clock.NewManual(time.Unix(1700000000, 0))

	r := newReservation(t, context.Background(), lockfile, mc)
	if err := os.Remove(r.SpotPath()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Refresh(); err == nil {
		t.Fatal("expected Refresh to fail once spot file is gone")
	}
}

func TestReacquireMovesToBackOfLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockfile := filepath.Join(dir, "foo.lock")
	mc := clock.NewManual(time.Unix(1700000000, 0))

	r := newReservation(t, context.Background(), lockfile, mc)
	oldPath := r.SpotPath()
	other := newReservation(t, context.Background(), lockfile, mc)
	defer other.Release()

	if err := r.Reacquire(context.Background()); err != nil {
		t.Fatalf("Reacquire: %v", err)
	}
	if r.SpotPath() != lockfile+".2" {
		t.Fatalf("expected spot .2 behind the other waiter's .1, got %s", r.SpotPath())
	}
	if r.SpotPath() == oldPath {
		t.Fatalf("expected a new spot path after reacquire, still %s", oldPath)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected old spot removed, stat err=%v", err)
	}
}

func TestNewRespectsCancellation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	missing := filepath.Join(dir, "gone", "foo.lock")
	mc := clock.NewManual(time.Unix(1700000000, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := reservation.New(ctx, missing, reservation.Config{Clock: mc, RetryDelay: time.Millisecond}); err == nil {
		t.Fatal("expected New to fail fast on a pre-cancelled context")
	}
}
