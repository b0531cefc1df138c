// Package ledger persists the last committed revision of a base in a single
// fixed-size record.
package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/boxbase/boxbase/pkg/model"
)

const (
	// FileName is the ledger file inside a base directory.
	FileName = "boxbase.meta"
	// RecordSize is the size of every record written. It is large enough
	// that a rewrite completes as one disk operation.
	RecordSize = 2048
	// FormatVersion is the only record layout understood.
	FormatVersion int32 = 1

	headerSize = 4 + 8
)

// Ledger reads and rewrites the revision record of one base directory.
type Ledger struct {
	path string

	mu  sync.Mutex
	buf []byte
}

// Open returns the ledger for dir. The file is not touched until Read or Write.
func Open(dir string) *Ledger {
	return &Ledger{
		path: filepath.Join(dir, FileName),
		buf:  make([]byte, RecordSize),
	}
}

func (l *Ledger) Path() string {
	return l.path
}

// Read returns the persisted revision, or 0 when no record exists yet.
func (l *Ledger) Read() (int64, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &model.StorageError{Op: "read ledger", Err: err}
	}

	if len(data) < headerSize {
		return 0, &model.RecoveryError{Path: l.path, Err: fmt.Errorf("truncated record: %d bytes", len(data))}
	}
	version := int32(binary.BigEndian.Uint32(data[0:4]))
	if version != FormatVersion {
		return 0, &model.RecoveryError{Path: l.path, Err: fmt.Errorf("unknown format version %d", version)}
	}
	rev := int64(binary.BigEndian.Uint64(data[4:12]))
	if rev < 0 {
		return 0, &model.RecoveryError{Path: l.path, Err: fmt.Errorf("negative revision %d", rev)}
	}
	return rev, nil
}

// Write replaces the record with rev. The full padded record is written to a
// temporary file and renamed over the old one.
func (l *Ledger) Write(rev int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.buf)
	binary.BigEndian.PutUint32(l.buf[0:4], uint32(FormatVersion))
	binary.BigEndian.PutUint64(l.buf[4:12], uint64(rev))

	if err := atomic.WriteFile(l.path, bytes.NewReader(l.buf)); err != nil {
		return &model.StorageError{Op: "write ledger", Err: err}
	}
	return nil
}
