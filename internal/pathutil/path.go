// Package pathutil expands the shell shorthand goldilock accepts in
// lockfile paths on the command line and in config files, so a user can
// write "~/locks/$PROJECT.lock" instead of spelling out an absolute path.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandUserAndEnv expands environment variable references (os.ExpandEnv:
// $HOME, ${HOME}) and a leading "~" or "~/"/"~\" component against the
// current user's home directory. The result is returned as-is otherwise,
// relative or not; callers decide whether to further resolve it.
func ExpandUserAndEnv(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}

	p = os.ExpandEnv(p)
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	return expandHome(p)
}

func expandHome(p string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if p == "~" {
		return home, nil
	}
	if sep := p[1]; sep == '/' || sep == '\\' {
		return filepath.Join(home, p[2:]), nil
	}
	// "~someuser/..." is left untouched: resolving another account's home
	// directory isn't something os.UserHomeDir can answer.
	return p, nil
}
