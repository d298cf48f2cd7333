// Package spotfile implements the on-disk Spot Record: the reservation file
// one waiter writes per lockfile it wants to queue on. A record carries
// exactly two logical fields — a timestamp and a token — serialized as a
// small versioned YAML document so a shared directory stays readable by
// binaries of different goldilock versions at once.
package spotfile

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	yamlv2 "gopkg.in/yaml.v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// CurrentSchema is the schema version written by this build. Decode accepts
// CurrentSchema and every schema below it, so a directory shared between an
// old and a new goldilock binary stays readable by both.
const CurrentSchema = 2

// Record is the decoded contents of a Spot Record file.
type Record struct {
	Schema    int    `yaml:"schema"`
	Timestamp int64  `yaml:"timestamp"`
	Token     string `yaml:"token"`
}

// legacyRecord is the schema-1 layout: same two fields, no schema tag, kept
// so a directory written by a pre-schema binary still decodes.
type legacyRecord struct {
	Timestamp int64  `yaml:"timestamp"`
	Token     string `yaml:"token"`
}

// New builds a Record for token stamped at ts.
func New(token string, ts time.Time) Record {
	return Record{Schema: CurrentSchema, Timestamp: ts.Unix(), Token: token}
}

// Time returns the record's timestamp as a time.Time in UTC.
func (r Record) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// Expired reports whether the record is older than lifetime as of now.
func (r Record) Expired(now time.Time, lifetime time.Duration) bool {
	return now.Sub(r.Time()) > lifetime
}

// Encode writes rec to w using the current schema.
func Encode(w io.Writer, rec Record) error {
	rec.Schema = CurrentSchema
	enc := yamlv3.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("spotfile: encode: %w", err)
	}
	return nil
}

// EncodeBytes is a convenience wrapper around Encode.
func EncodeBytes(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a Spot Record. It first tries the current schema via
// yaml.v3; a document without a schema field that still carries a token and
// timestamp is accepted there as schema 1. Only when that parse fails or
// leaves token or timestamp empty does it fall back to the legacy schema-1
// layout via yaml.v2, so old and new binaries can read each other's spots
// in the same directory.
func Decode(r io.Reader) (Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Record{}, fmt.Errorf("spotfile: read: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes is the byte-slice counterpart to Decode.
func DecodeBytes(data []byte) (Record, error) {
	var rec Record
	if err := yamlv3.Unmarshal(data, &rec); err == nil && rec.Token != "" && rec.Timestamp != 0 {
		if rec.Schema <= 0 {
			rec.Schema = 1
		}
		return rec, nil
	}

	var legacy legacyRecord
	if err := yamlv2.Unmarshal(data, &legacy); err != nil {
		return Record{}, fmt.Errorf("spotfile: decode: %w", err)
	}
	if legacy.Token == "" || legacy.Timestamp == 0 {
		return Record{}, fmt.Errorf("spotfile: decode: missing token or timestamp")
	}
	return Record{Schema: 1, Timestamp: legacy.Timestamp, Token: legacy.Token}, nil
}

// NamePattern returns a regexp matching spot filenames for the given
// lockfile basename: "<name>.<non-empty decimal integer>", anchored at the
// end so "<name>.5.bak" does not match.
func NamePattern(lockfileName string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(lockfileName) + `\.([0-9]+)$`)
}

// ParseIndex extracts the spot index from filename if it matches the spot
// grammar for lockfileName, e.g. ParseIndex("foo.lock", "foo.lock.3") == (3, true).
func ParseIndex(lockfileName, filename string) (int, bool) {
	m := NamePattern(lockfileName).FindStringSubmatch(filename)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// FileName builds the spot filename for lockfileName at spot index n.
func FileName(lockfileName string, n int) string {
	return lockfileName + "." + strconv.Itoa(n)
}
