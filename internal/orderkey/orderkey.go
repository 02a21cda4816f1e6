// Package orderkey encodes (created_at, id) pairs into sort keys whose
// lexicographic order matches the pair's natural order.
package orderkey

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// width is the number of digits used for the nanosecond timestamp.
// Large enough for any non-negative int64.
const width = 20

// ErrMalformed is returned when a key cannot be decoded.
var ErrMalformed = errors.New("reflink: malformed order key")

// Encode returns the sort key for a document created at t with the given id.
// Keys compare first by timestamp, then by id.
// Timestamps before the Unix epoch are clamped to the epoch; stores refuse
// such documents on Put, so clamping only affects externally written items.
func Encode(t time.Time, id string) string {
	ns := t.UTC().UnixNano()
	if ns < 0 {
		ns = 0
	}
	return fmt.Sprintf("%0*d#%s", width, ns, id)
}

// Decode splits a sort key back into its timestamp and id.
func Decode(key string) (time.Time, string, error) {
	if len(key) < width+1 || key[width] != '#' {
		return time.Time{}, "", ErrMalformed
	}
	ns, err := strconv.ParseInt(key[:width], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return time.Unix(0, ns).UTC(), key[width+1:], nil
}

