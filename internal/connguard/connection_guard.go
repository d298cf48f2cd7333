// Package connguard protects goldilock's optional metrics listener from
// scan/abuse traffic. It is lifted from the teacher's lock-API listener
// guard and repurposed here for a much smaller attack surface: a
// Prometheus scrape endpoint has no authentication of its own, so a
// connection whose TLS handshake fails or that never sends a byte is
// treated as suspicious the same way a malformed RPC would be against the
// teacher's API. A TLS handshake that merely runs out of time is dropped
// without counting toward a block.
package connguard

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tipi-build/goldilock/internal/svcfields"
	"pkt.systems/pslog"
)

// ConnectionGuardConfig tunes how aggressively the guard reacts to
// suspicious connections before a listener's caller ever sees them.
type ConnectionGuardConfig struct {
	// Enabled toggles guard enforcement.
	Enabled bool
	// FailureThreshold is the number of suspicious events in FailureWindow
	// before a remote is blocked outright.
	FailureThreshold int
	// FailureWindow is the sliding window failures are counted over.
	FailureWindow time.Duration
	// BlockDuration is how long a blocked remote stays blocked.
	BlockDuration time.Duration
	// ProbeTimeout bounds how long the guard waits for a TLS handshake or
	// the connection's first byte. A plain connection that times out counts
	// as a failure; a TLS handshake that times out is dropped but not counted.
	ProbeTimeout time.Duration
}

type connectionEvent struct {
	failures     []time.Time
	blockedUntil time.Time
}

// ConnectionGuard tracks per-remote suspicious-connection history and can
// wrap a net.Listener to enforce it.
type ConnectionGuard struct {
	cfg    ConnectionGuardConfig
	logger pslog.Logger
	mu     sync.Mutex
	now    func() time.Time
	events map[string]*connectionEvent
}

// NewConnectionGuard builds a guard from cfg. A non-positive FailureWindow
// becomes 1s and a non-positive BlockDuration becomes 5m; a negative
// FailureThreshold or ProbeTimeout becomes 0. A FailureThreshold of 0
// disables blocking.
func NewConnectionGuard(cfg ConnectionGuardConfig, logger pslog.Logger) *ConnectionGuard {
	cfg = withDefaults(cfg)
	return &ConnectionGuard{
		cfg:    cfg,
		logger: svcfields.WithSubsystem(loggingOrNoop(logger), "control.connguard"),
		now:    time.Now,
		events: make(map[string]*connectionEvent),
	}
}

func withDefaults(cfg ConnectionGuardConfig) ConnectionGuardConfig {
	if cfg.FailureThreshold < 0 {
		cfg.FailureThreshold = 0
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = time.Second
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 5 * time.Minute
	}
	if cfg.ProbeTimeout < 0 {
		cfg.ProbeTimeout = 0
	}
	return cfg
}

func loggingOrNoop(logger pslog.Logger) pslog.Logger {
	if logger != nil {
		return logger
	}
	return pslog.NoopLogger()
}

// WrapListener wraps ln so every Accept is screened by the guard. A nil
// listener, a disabled guard, or a nil guard all pass ln through unchanged.
func (g *ConnectionGuard) WrapListener(ln net.Listener, tlsConfig *tls.Config) net.Listener {
	if g == nil || !g.cfg.Enabled || ln == nil {
		return ln
	}
	return &guardedListener{Listener: ln, guard: g, tlsConfig: tlsConfig}
}

// classifyFailure records one suspicious event for remote and reports
// whether remote is now blocked: either it was already blocked, or this
// event brought its failures within FailureWindow up to FailureThreshold.
func (g *ConnectionGuard) classifyFailure(remote string, reason string) bool {
	if g == nil || g.cfg.FailureThreshold <= 0 {
		return false
	}
	remote = normalizeRemoteAddr(remote)
	if remote == "" {
		return false
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.events[remote]
	if state == nil {
		state = &connectionEvent{}
		g.events[remote] = state
	}
	if state.blockedUntil.After(now) {
		return true
	}
	state.blockedUntil = time.Time{}
	state.failures = trimExpired(state.failures, now.Add(-g.cfg.FailureWindow))
	state.failures = append(state.failures, now)

	if len(state.failures) < g.cfg.FailureThreshold {
		g.logger.Warn("goldilock.connguard.suspicious",
			"remote", remote,
			"reason", reason,
			"count", len(state.failures),
			"threshold", g.cfg.FailureThreshold)
		return false
	}

	state.blockedUntil = now.Add(g.cfg.BlockDuration)
	state.failures = nil
	g.logger.Warn("goldilock.connguard.engaged",
		"remote", remote,
		"threshold", g.cfg.FailureThreshold,
		"window", g.cfg.FailureWindow,
		"duration", g.cfg.BlockDuration,
		"reason", reason)
	g.logger.Warn("goldilock.connguard.blocked",
		"remote", remote,
		"threshold", g.cfg.FailureThreshold,
		"window", g.cfg.FailureWindow,
		"duration", g.cfg.BlockDuration,
		"reason", reason)
	return true
}

// trimExpired drops leading failure timestamps older than cutoff, returning
// the remaining slice without mutating the caller's backing array.
func trimExpired(failures []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(failures) && failures[i].Before(cutoff) {
		i++
	}
	return failures[i:]
}

func (g *ConnectionGuard) isBlocked(remote string) bool {
	if g == nil || !g.cfg.Enabled {
		return false
	}
	remote = normalizeRemoteAddr(remote)
	if remote == "" {
		return false
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.events[remote]
	if state == nil || state.blockedUntil.IsZero() {
		return false
	}
	if state.blockedUntil.After(now) {
		return true
	}
	state.blockedUntil = time.Time{}
	g.logger.Warn("goldilock.connguard.disengaged", "remote", remote)
	if len(state.failures) == 0 {
		delete(g.events, remote)
	}
	return false
}

// normalizeRemoteAddr strips the port from a host:port remote address,
// falling back to the raw string when it isn't one.
func normalizeRemoteAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		return host
	}
	return raw
}

type guardedListener struct {
	net.Listener
	guard     *ConnectionGuard
	tlsConfig *tls.Config
}

// Accept screens every incoming connection before handing it to the caller,
// silently retrying past anything the guard rejects.
func (l *guardedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		accepted, rejected, wrapErr := l.wrapConnection(conn)
		if !rejected && wrapErr == nil {
			return accepted, nil
		}
		if accepted != nil {
			_ = accepted.Close()
		}
	}
}

func (l *guardedListener) wrapConnection(conn net.Conn) (net.Conn, bool, error) {
	if l.guard == nil || conn == nil {
		return conn, false, nil
	}
	remote := remoteAddress(conn)
	if l.guard.isBlocked(remote) {
		l.guard.logger.Warn("goldilock.connguard.rejected", "remote", remote, "reason", "blocked")
		return nil, true, errors.New("connection blocked")
	}
	if l.tlsConfig != nil {
		return l.wrapTLSConnection(conn, remote)
	}
	return l.wrapPlainConnection(conn, remote)
}

func remoteAddress(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	remote := conn.RemoteAddr()
	if remote == nil {
		return ""
	}
	return remote.String()
}

func (l *guardedListener) wrapTLSConnection(conn net.Conn, remote string) (net.Conn, bool, error) {
	tlsConn := tls.Server(conn, l.tlsConfig)
	if l.guard.cfg.ProbeTimeout > 0 {
		if err := tlsConn.SetReadDeadline(l.guard.now().Add(l.guard.cfg.ProbeTimeout)); err != nil {
			l.guard.logger.Warn("goldilock.connguard.deadline", "remote", remote, "error", err)
		}
	}
	err := tlsConn.Handshake()
	_ = tlsConn.SetReadDeadline(time.Time{})
	if err == nil {
		return tlsConn, false, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return tlsConn, true, err
	}
	_ = l.guard.classifyFailure(remote, "tls_handshake")
	return tlsConn, true, err
}

func (l *guardedListener) wrapPlainConnection(conn net.Conn, remote string) (net.Conn, bool, error) {
	if l.guard.cfg.ProbeTimeout <= 0 {
		return conn, false, nil
	}
	if err := conn.SetReadDeadline(l.guard.now().Add(l.guard.cfg.ProbeTimeout)); err != nil {
		l.guard.logger.Warn("goldilock.connguard.deadline", "remote", remote, "error", err)
		return conn, false, nil
	}
	buffer := make([]byte, 1)
	n, err := conn.Read(buffer)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		l.guard.classifyFailure(remote, "zero_connect")
		return conn, true, err
	}
	if n == 0 {
		l.guard.classifyFailure(remote, "zero_connect")
		return conn, true, io.EOF
	}
	return &prefixedConn{Conn: conn, prefix: buffer[:n]}, false, nil
}

// prefixedConn replays a byte already consumed while probing a connection
// before handing the rest of the stream through to its embedded Conn.
type prefixedConn struct {
	net.Conn
	prefix []byte
	used   int
}

func (c *prefixedConn) Read(p []byte) (int, error) {
	if c.used >= len(c.prefix) {
		return c.Conn.Read(p)
	}
	n := copy(p, c.prefix[c.used:])
	c.used += n
	if n == len(p) {
		return n, nil
	}
	more, err := c.Conn.Read(p[n:])
	return n + more, err
}
