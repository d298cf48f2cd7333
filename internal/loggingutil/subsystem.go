package loggingutil

import (
	"fmt"
	"strings"

	"pkt.systems/pslog"
)

// subsystemKey is the structured-log field every subsystem tag rides under.
const subsystemKey = pslog.TrustedString("sys")

// taggedLogger wraps a base pslog.Logger, stamping subsystemKey plus any
// accumulated keyvals onto every entry it writes.
type taggedLogger struct {
	base      pslog.Logger
	subsystem string
	keyvals   []any
}

// Subsystem joins non-empty, trimmed parts into a dot-delimited path, e.g.
// Subsystem("lock", "coordinator") -> "lock.coordinator".
func Subsystem(parts ...string) string {
	var kept []string
	for _, part := range parts {
		if trimmed := strings.Trim(part, ". "); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, ".")
}

// WithSubsystem returns a logger that stamps subsystem onto every entry it
// writes. If logger is already tagged, subsystem replaces its existing tag
// while its accumulated keyvals are preserved; a blank subsystem leaves
// logger (or NoopLogger, if logger is nil) untouched.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if subsystem = strings.Trim(subsystem, ". "); subsystem == "" {
		return EnsureLogger(logger)
	}
	if existing, ok := logger.(*taggedLogger); ok {
		return &taggedLogger{
			base:      existing.base,
			subsystem: subsystem,
			keyvals:   cloneKeyvals(existing.keyvals),
		}
	}
	return &taggedLogger{base: EnsureLogger(logger), subsystem: subsystem}
}

func cloneKeyvals(src []any) []any {
	if len(src) == 0 {
		return nil
	}
	dst := make([]any, len(src))
	copy(dst, src)
	return dst
}

func (l *taggedLogger) Trace(msg string, keyvals ...any) { l.base.Trace(msg, l.fields(keyvals)...) }
func (l *taggedLogger) Debug(msg string, keyvals ...any) { l.base.Debug(msg, l.fields(keyvals)...) }
func (l *taggedLogger) Info(msg string, keyvals ...any)  { l.base.Info(msg, l.fields(keyvals)...) }
func (l *taggedLogger) Warn(msg string, keyvals ...any)  { l.base.Warn(msg, l.fields(keyvals)...) }
func (l *taggedLogger) Error(msg string, keyvals ...any) { l.base.Error(msg, l.fields(keyvals)...) }
func (l *taggedLogger) Fatal(msg string, keyvals ...any) { l.base.Fatal(msg, l.fields(keyvals)...) }
func (l *taggedLogger) Panic(msg string, keyvals ...any) { l.base.Panic(msg, l.fields(keyvals)...) }

func (l *taggedLogger) Log(level pslog.Level, msg string, keyvals ...any) {
	l.base.Log(level, msg, l.fields(keyvals)...)
}

// With folds keyvals into the logger's accumulated fields. A "sys"/subsystem
// pair among keyvals overrides the current subsystem tag instead of being
// appended as an ordinary field, so a caller can re-tag without losing
// context gathered so far.
func (l *taggedLogger) With(keyvals ...any) pslog.Logger {
	subsystem, rest := extractSubsystemOverride(l.subsystem, keyvals)
	return &taggedLogger{
		base:      l.base,
		subsystem: subsystem,
		keyvals:   append(cloneKeyvals(l.keyvals), rest...),
	}
}

func extractSubsystemOverride(current string, keyvals []any) (subsystem string, rest []any) {
	subsystem = current
	rest = make([]any, 0, len(keyvals))
	for i := 0; i < len(keyvals); i++ {
		key := keyvals[i]
		if name, ok := keyName(key); ok && name == "sys" && i+1 < len(keyvals) {
			subsystem = fmt.Sprint(keyvals[i+1])
			i++
			continue
		}
		rest = append(rest, key)
	}
	return subsystem, rest
}

func (l *taggedLogger) WithLogLevel() pslog.Logger {
	return &taggedLogger{base: l.base.WithLogLevel(), subsystem: l.subsystem, keyvals: cloneKeyvals(l.keyvals)}
}

func (l *taggedLogger) LogLevel(level pslog.Level) pslog.Logger {
	return &taggedLogger{base: l.base.LogLevel(level), subsystem: l.subsystem, keyvals: cloneKeyvals(l.keyvals)}
}

func (l *taggedLogger) LogLevelFromEnv(key string) pslog.Logger {
	return &taggedLogger{base: l.base.LogLevelFromEnv(key), subsystem: l.subsystem, keyvals: cloneKeyvals(l.keyvals)}
}

func (l *taggedLogger) fields(extra []any) []any {
	out := make([]any, 0, 2+len(l.keyvals)+len(extra))
	out = append(out, subsystemKey, l.subsystem)
	out = append(out, l.keyvals...)
	out = append(out, extra...)
	return out
}

func keyName(key any) (string, bool) {
	switch v := key.(type) {
	case string:
		return v, true
	case pslog.TrustedString:
		return string(v), true
	default:
		return "", false
	}
}
