// Package correlation produces the run identifier goldilock stamps on every
// log line belonging to one acquisition attempt, so the "survey / hold /
// stall" cycle for a single lock request can be grepped together out of an
// otherwise interleaved multi-process log stream.
package correlation

import "github.com/rs/xid"

// Generate returns a new sortable, globally-unique identifier, one per
// acquisition attempt.
func Generate() string {
	return xid.New().String()
}
