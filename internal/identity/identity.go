// Package identity generates the random tokens that bind a Reservation to
// its on-disk Spot Record.
package identity

import "github.com/google/uuid"

// New returns a cryptographically random 128-bit token (UUIDv4), rendered as
// lowercase hyphenated hex text. Unlike a time-ordered identifier, a v4 UUID
// carries no sequencing information, which matters here: callers racing for
// the same spot index must not be able to infer arrival order from the
// token itself.
func New() string {
	return uuid.New().String()
}
