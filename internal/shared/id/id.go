// Package id generates the identifiers the kernel stamps on a boot:
// every log line and metrics scrape of one run can be correlated by its
// boot ID.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// BootID identifies one run of the machine.
type BootID string

// NewBootID generates a fresh boot identifier.
func NewBootID() BootID {
	return BootID(uuid.NewString())
}

// String returns the full identifier.
func (b BootID) String() string { return string(b) }

// Short returns the leading segment of the identifier, compact enough
// for log fields.
func (b BootID) Short() string {
	s := string(b)
	if i := strings.IndexByte(s, '-'); i >= 0 {
		return s[:i]
	}
	return s
}
