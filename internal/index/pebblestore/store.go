// Package pebblestore implements the document index on top of PebbleDB.
package pebblestore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/zeebo/blake3"

	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/internal/index/internal/encoding"
)

const (
	checksumSize = 32
	docHeader    = checksumSize + 8
)

var errChecksum = errors.New("document checksum mismatch")

// Config configures a Store.
type Config struct {
	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64 `yaml:"block_cache_size"`

	// Analyzer splits text fields. Defaults to the standard analyzer.
	Analyzer index.Analyzer `yaml:"-"`

	// Logger for store operations.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BlockCacheSize: 8 * 1024 * 1024, // 8MB per base
	}
}

// Store is the index of one base directory.
type Store struct {
	db       DB
	path     string
	analyzer index.Analyzer
	logger   *slog.Logger

	mu     sync.Mutex
	writer *writer
	closed bool
}

var _ index.Index = (*Store)(nil)

// Open opens or creates the index stored in path.
func Open(path string, cfg Config) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	cacheSize := cfg.BlockCacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultConfig().BlockCacheSize
	}
	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	dbOpts := &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{FilterPolicy: bloom.FilterPolicy(10)},
		},
	}

	db, err := pebble.Open(path, dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	return newStore(&PebbleDB{db: db}, path, cfg), nil
}

func newStore(db DB, path string, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	analyzer := cfg.Analyzer
	if analyzer == nil {
		analyzer = index.NewStandardAnalyzer()
	}
	return &Store{
		db:       db,
		path:     path,
		analyzer: analyzer,
		logger:   logger.With("component", "index-store", "path", path),
	}
}

// NewWriter opens the single writer of the store.
func (s *Store) NewWriter() (index.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, index.ErrClosed
	}
	if s.writer != nil {
		return nil, index.ErrWriterOpen
	}
	s.writer = &writer{store: s, batch: s.db.NewIndexedBatch()}
	return s.writer, nil
}

// OpenSnapshot returns a read view of the committed state.
func (s *Store) OpenSnapshot() (index.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, index.ErrClosed
	}
	return &snapshot{store: s, snap: s.db.NewSnapshot()}, nil
}

// Close closes the database. Writers and snapshots must be closed first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.writer != nil {
		s.logger.Warn("Closing store with an open writer")
		w := s.writer
		w.mu.Lock()
		_ = w.closeBatch()
		w.mu.Unlock()
		s.writer = nil
	}
	return s.db.Close()
}

func (s *Store) releaseWriter(w *writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == w {
		s.writer = nil
	}
}

func encodeDocValue(rec *index.Record) []byte {
	buf := make([]byte, docHeader, docHeader+len(rec.Body))
	binary.BigEndian.PutUint64(buf[checksumSize:docHeader], uint64(rec.Revision))
	buf = append(buf, rec.Body...)
	sum := blake3.Sum256(buf[checksumSize:])
	copy(buf[:checksumSize], sum[:])
	return buf
}

func decodeDocValue(id string, value []byte) (*index.StoredDocument, error) {
	if len(value) < docHeader {
		return nil, fmt.Errorf("document %s: %w", id, encoding.ErrInvalidKey)
	}
	sum := blake3.Sum256(value[checksumSize:])
	if !bytes.Equal(sum[:], value[:checksumSize]) {
		return nil, fmt.Errorf("document %s: %w", id, errChecksum)
	}
	body := make([]byte, len(value)-docHeader)
	copy(body, value[docHeader:])
	return &index.StoredDocument{
		ID:       id,
		Revision: int64(binary.BigEndian.Uint64(value[checksumSize:docHeader])),
		Body:     body,
	}, nil
}
