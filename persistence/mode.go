package persistence

import (
	"strings"

	"github.com/pkg/errors"
)

// AccessMode controls whether a Storage accepts writes and refreshes.
type AccessMode int

const (
	ReadWrite AccessMode = iota
	// ReadOnly serves cached objects as loaded and rejects Save and Erase.
	ReadOnly
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read_only"
	case ReadWrite:
		return "read_write"
	}
	return "unknown"
}

// ParseAccessMode accepts "read_only" and "read_write". Empty means
// read_write.
func ParseAccessMode(s string) (AccessMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "read_write", "readwrite", "rw":
		return ReadWrite, nil
	case "read_only", "readonly", "ro":
		return ReadOnly, nil
	}
	return ReadWrite, errors.Errorf("unknown access mode %q", s)
}
