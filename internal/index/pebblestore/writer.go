package pebblestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/internal/index/internal/encoding"
	"github.com/boxbase/boxbase/pkg/model"
)

// writer stages mutations in an indexed batch so that replacements can read
// the postings written earlier in the same transaction.
type writer struct {
	store *Store

	mu      sync.Mutex
	batch   Batch
	lastRev int64
	closed  bool
}

func (w *writer) AddDocument(rec *index.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return index.ErrClosed
	}
	return w.add(rec)
}

func (w *writer) UpdateDocument(id string, rec *index.Record) error {
	if rec.ID != id {
		return fmt.Errorf("update %s: record id %q does not match", id, rec.ID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return index.ErrClosed
	}
	if err := w.remove(id); err != nil {
		return err
	}
	return w.add(rec)
}

func (w *writer) DeleteDocuments(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return index.ErrClosed
	}
	return w.remove(id)
}

func (w *writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return index.ErrClosed
	}

	if w.lastRev > 0 {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(w.lastRev))
		if err := w.batch.Set(encoding.LastRevisionKey(), buf[:], nil); err != nil {
			return err
		}
	}
	if err := w.batch.Commit(pebble.Sync); err != nil {
		return err
	}
	return w.reset()
}

func (w *writer) Rollback() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return index.ErrClosed
	}
	return w.reset()
}

func (w *writer) Close() error {
	w.mu.Lock()
	err := w.closeBatch()
	w.mu.Unlock()

	w.store.releaseWriter(w)
	return err
}

// reset discards the current batch and starts a new one.
func (w *writer) reset() error {
	err := w.batch.Close()
	w.batch = w.store.db.NewIndexedBatch()
	w.lastRev = 0
	return err
}

func (w *writer) closeBatch() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.batch.Close()
}

func (w *writer) add(rec *index.Record) error {
	if !model.CheckID(rec.ID) {
		return fmt.Errorf("invalid document id %q", rec.ID)
	}

	postings := w.postings(rec)
	var list []byte
	for _, key := range postings {
		if err := w.batch.Set(key, nil, nil); err != nil {
			return err
		}
		list = encoding.AppendKeyList(list, key)
	}
	if err := w.batch.Set(encoding.FieldsKey(rec.ID), list, nil); err != nil {
		return err
	}
	if err := w.batch.Set(encoding.DocKey(rec.ID), encodeDocValue(rec), nil); err != nil {
		return err
	}
	if rec.Revision > w.lastRev {
		w.lastRev = rec.Revision
	}
	return nil
}

func (w *writer) remove(id string) error {
	fieldsKey := encoding.FieldsKey(id)
	value, closer, err := w.batch.Get(fieldsKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return w.batch.Delete(encoding.DocKey(id), nil)
	}
	if err != nil {
		return err
	}
	keys, err := encoding.DecodeKeyList(value)
	closer.Close()
	if err != nil {
		return fmt.Errorf("postings of %s: %w", id, err)
	}

	for _, key := range keys {
		if err := w.batch.Delete(key, nil); err != nil {
			return err
		}
	}
	if err := w.batch.Delete(fieldsKey, nil); err != nil {
		return err
	}
	return w.batch.Delete(encoding.DocKey(id), nil)
}

// postings returns the deduplicated posting keys of rec.
func (w *writer) postings(rec *index.Record) [][]byte {
	seen := make(map[string]struct{})
	var keys [][]byte
	push := func(key []byte) {
		if _, ok := seen[string(key)]; ok {
			return
		}
		seen[string(key)] = struct{}{}
		keys = append(keys, key)
	}

	push(encoding.TermKey(model.FieldID, rec.ID, rec.ID))
	push(encoding.RawKey(model.FieldID, rec.ID, rec.ID))
	push(encoding.IntKey(model.FieldRev, rec.Revision, rec.ID))

	for _, f := range rec.Fields {
		switch f.Type {
		case index.FieldText:
			for _, tok := range w.store.analyzer.Tokens(f.Text) {
				push(encoding.TermKey(f.Name, tok, rec.ID))
			}
			push(encoding.RawKey(f.Name, w.store.analyzer.Normalize(f.Text), rec.ID))
		case index.FieldKeyword:
			push(encoding.TermKey(f.Name, f.Text, rec.ID))
		case index.FieldInt:
			push(encoding.IntKey(f.Name, f.Int, rec.ID))
		case index.FieldFloat:
			push(encoding.FloatKey(f.Name, f.Float, rec.ID))
		}
	}
	return keys
}
