// Package svcfields tags log lines emitted by the connection guard with a
// dot-delimited subsystem path, kept separate from internal/loggingutil so
// the guard (lifted wholesale from a networked service) keeps its own field
// naming rather than being rewired onto a different helper's conventions.
package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the structured-log field every subsystem tag is stored
// under.
const SubsystemKey = pslog.TrustedString("sys")

// Subsystem joins non-empty, trimmed parts into a dot-delimited path, e.g.
// Subsystem("control", "connguard") -> "control.connguard".
func Subsystem(parts ...string) string {
	var kept []string
	for _, part := range parts {
		if trimmed := strings.Trim(part, ". "); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, ".")
}

// WithSubsystem returns logger annotated with subsystem under SubsystemKey.
// A nil logger becomes a no-op logger first; a blank subsystem is a no-op.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if subsystem = strings.Trim(subsystem, ". "); subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}
