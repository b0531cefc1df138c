package pebblestore

import (
	"io"

	"github.com/cockroachdb/pebble"
)

// Reader is the read side shared by the database, snapshots and indexed
// batches.
type Reader interface {
	// Get gets the value for the given key. It returns pebble.ErrNotFound if
	// the key is absent.
	//
	// The returned slice will remain valid until the returned Closer is
	// closed. On success, the caller MUST call closer.Close() or a memory
	// leak will occur.
	Get(key []byte) (value []byte, closer io.Closer, err error)

	// NewIter returns an iterator that is unpositioned (Iterator.Valid() will
	// return false). The iterator can be positioned via a call to SeekGE or
	// First.
	NewIter(o *pebble.IterOptions) (Iterator, error)
}

type DB interface {
	Reader

	// NewIndexedBatch returns a batch whose reads observe its own writes.
	NewIndexedBatch() Batch

	// NewSnapshot returns a point-in-time view of the database.
	NewSnapshot() Snapshot

	// Close closes the database.
	Close() error
}

type Iterator interface {
	First() bool
	SeekGE(key []byte) bool
	Valid() bool
	// Key returns the key at the current position. The caller must not modify
	// the contents of the returned slice.
	Key() []byte
	Value() []byte
	Next() bool
	Error() error
	Close() error
}

type Batch interface {
	Reader

	// Set adds a Set operation to the batch.
	Set(key, value []byte, opt *pebble.WriteOptions) error

	// Delete adds a Delete operation to the batch. Deletes are blind and
	// succeed even if the given key does not exist.
	Delete(key []byte, opt *pebble.WriteOptions) error

	// Commit applies the operations in the batch to the database.
	Commit(o *pebble.WriteOptions) error

	// Close releases the batch. An uncommitted batch is discarded.
	Close() error
}

type Snapshot interface {
	Reader
	Close() error
}

// PebbleDB wraps a pebble.DB to implement the DB interface.
type PebbleDB struct {
	db *pebble.DB
}

func (p *PebbleDB) Get(key []byte) ([]byte, io.Closer, error) {
	return p.db.Get(key)
}

func (p *PebbleDB) NewIter(o *pebble.IterOptions) (Iterator, error) {
	return wrapIter(p.db.NewIter(o))
}

func (p *PebbleDB) NewIndexedBatch() Batch {
	return &pebbleBatch{b: p.db.NewIndexedBatch()}
}

func (p *PebbleDB) NewSnapshot() Snapshot {
	return &pebbleSnapshot{s: p.db.NewSnapshot()}
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (p *pebbleBatch) Get(key []byte) ([]byte, io.Closer, error) {
	return p.b.Get(key)
}

func (p *pebbleBatch) NewIter(o *pebble.IterOptions) (Iterator, error) {
	return wrapIter(p.b.NewIter(o))
}

func (p *pebbleBatch) Set(key, value []byte, o *pebble.WriteOptions) error {
	return p.b.Set(key, value, o)
}

func (p *pebbleBatch) Delete(key []byte, o *pebble.WriteOptions) error {
	return p.b.Delete(key, o)
}

func (p *pebbleBatch) Commit(o *pebble.WriteOptions) error {
	return p.b.Commit(o)
}

func (p *pebbleBatch) Close() error {
	return p.b.Close()
}

type pebbleSnapshot struct {
	s *pebble.Snapshot
}

func (p *pebbleSnapshot) Get(key []byte) ([]byte, io.Closer, error) {
	return p.s.Get(key)
}

func (p *pebbleSnapshot) NewIter(o *pebble.IterOptions) (Iterator, error) {
	return wrapIter(p.s.NewIter(o))
}

func (p *pebbleSnapshot) Close() error {
	return p.s.Close()
}

// wrapIter avoids handing out a non-nil interface holding a nil iterator.
func wrapIter(it *pebble.Iterator, err error) (Iterator, error) {
	if err != nil {
		return nil, err
	}
	return it, nil
}
