// Package events publishes committed transactions and fans them out to
// change listeners.
package events

import (
	"slices"
	"strings"
	"time"
)

const (
	// DefaultStream is the stream change events are published to.
	DefaultStream = "BOXBASE"
	// DefaultSubjectPrefix prefixes the per-base subjects.
	DefaultSubjectPrefix = "boxbase.changes"
)

// ChangeEvent describes one committed transaction.
type ChangeEvent struct {
	Base        string           `json:"base"`
	Transaction uint64           `json:"transaction"`
	Revisions   map[string]int64 `json:"revisions"`
	Deleted     []string         `json:"deleted,omitempty"`
	// Timestamp is the commit time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewChangeEvent creates a ChangeEvent stamped with the current time.
func NewChangeEvent(base string, txID uint64, revisions map[string]int64, deleted []string) *ChangeEvent {
	return &ChangeEvent{
		Base:        base,
		Transaction: txID,
		Revisions:   revisions,
		Deleted:     deleted,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// IsDeleted reports whether the transaction deleted id.
func (e *ChangeEvent) IsDeleted(id string) bool {
	return slices.Contains(e.Deleted, id)
}

// SubjectToken maps a base name to a single subject token. Base names may
// contain dots, which separate subject tokens.
func SubjectToken(base string) string {
	return strings.ReplaceAll(base, ".", "_")
}
