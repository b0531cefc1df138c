// Package index defines the capabilities the write pipeline and the query
// layer need from a per-base full-text index.
package index

import (
	"bytes"
	"errors"

	"github.com/boxbase/boxbase/pkg/model"
)

var (
	// ErrWriterOpen is returned when a second writer is requested while one is open.
	ErrWriterOpen = errors.New("index writer already open")
	// ErrClosed is returned by operations on a closed index, writer or snapshot.
	ErrClosed = errors.New("index closed")
)

// Index is a searchable document index for one base.
type Index interface {
	// NewWriter opens the single writer of the index.
	NewWriter() (Writer, error)
	// OpenSnapshot returns a consistent read view of committed documents.
	// The caller owns the snapshot and must close it.
	OpenSnapshot() (Snapshot, error)
	Close() error
}

// Writer stages mutations until Commit. Methods may be called concurrently.
type Writer interface {
	AddDocument(rec *Record) error
	// UpdateDocument replaces every document stored under id with rec.
	UpdateDocument(id string, rec *Record) error
	DeleteDocuments(id string) error
	// Commit makes staged mutations durable and visible to new snapshots.
	Commit() error
	// Rollback discards staged mutations.
	Rollback() error
	Close() error
}

// Snapshot is a point-in-time reader.
type Snapshot interface {
	// LookupID returns the documents stored under id, normally zero or one.
	LookupID(id string) ([]*StoredDocument, error)
	// Search returns the documents matching q ordered by id, skipping offset
	// and returning at most limit of them. A negative limit returns all.
	Search(q Query, offset, limit int) (*Hits, error)
	Count(q Query) (int, error)
	// LastRevision returns the highest revision committed to the index.
	LastRevision() (int64, error)
	Close() error
}

// FieldType selects how a field value is indexed.
type FieldType int

const (
	// FieldText is analyzed into tokens and also kept whole for prefix matching.
	FieldText FieldType = iota
	// FieldKeyword is indexed as a single exact term.
	FieldKeyword
	FieldInt
	FieldFloat
)

// Field is one indexed value of a record.
type Field struct {
	Name  string
	Type  FieldType
	Text  string
	Int   int64
	Float float64
}

// Record is a document prepared for the index: its identity, the stored
// JSON body and the indexed fields.
type Record struct {
	ID       string
	Revision int64
	Body     []byte
	Fields   []Field
}

// StoredDocument is a document as read back from a snapshot.
type StoredDocument struct {
	ID       string
	Revision int64
	Body     []byte
}

// Document decodes the stored body.
func (d *StoredDocument) Document() (model.Document, error) {
	return model.Decode(bytes.NewReader(d.Body))
}

// Hits is a page of search results.
type Hits struct {
	Total     int
	Documents []*StoredDocument
}
