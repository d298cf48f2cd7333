package pathutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tipi-build/goldilock/internal/pathutil"
)

func TestExpandUserAndEnvExpandsEnvVar(t *testing.T) {
	t.Setenv("GOLDILOCK_TEST_DIR", "/srv/locks")
	got, err := pathutil.ExpandUserAndEnv("$GOLDILOCK_TEST_DIR/a.lock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "/srv/locks/a.lock"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestExpandUserAndEnvExpandsBareTilde(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}
	got, err := pathutil.ExpandUserAndEnv("~")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != home {
		t.Fatalf("expected %q, got %q", home, got)
	}
}

func TestExpandUserAndEnvExpandsTildeSlash(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}
	got, err := pathutil.ExpandUserAndEnv("~/locks/a.lock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join(home, "locks", "a.lock"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestExpandUserAndEnvLeavesOtherUserTildeAlone(t *testing.T) {
	t.Parallel()

	got, err := pathutil.ExpandUserAndEnv("~otheruser/a.lock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "~otheruser/a.lock"; got != want {
		t.Fatalf("expected %q left untouched, got %q", want, got)
	}
}

func TestExpandUserAndEnvEmptyInput(t *testing.T) {
	t.Parallel()

	got, err := pathutil.ExpandUserAndEnv("   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}
