package dispatch

import (
	"strings"
	"time"
)

// Record is one dispatched-call entry from the upstream dataset.
// ID is stable across polls and is the only field used for de-duplication;
// CallType and Flags drive filtering, everything else is display-only.
type Record struct {
	ID           string
	CallType     string
	Flags        []string
	ReceivedAt   time.Time
	ReceivedRaw  string
	Intersection string
	Neighborhood string
	Agency       string
	Priority     string
	Sensitive    bool
}

// HasFlag reports whether the record carries the given tag,
// compared case-insensitively.
func (r Record) HasFlag(flag string) bool {
	if flag == "" {
		return false
	}
	for _, f := range r.Flags {
		if strings.EqualFold(strings.TrimSpace(f), flag) {
			return true
		}
	}
	return false
}
