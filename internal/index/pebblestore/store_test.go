package pebblestore

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/internal/index/internal/encoding"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "base"), Config{BlockCacheSize: 1 << 20})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string, rev int64, fields ...index.Field) *index.Record {
	body, _ := json.Marshal(map[string]any{"_id": id, "_rev": rev})
	return &index.Record{ID: id, Revision: rev, Body: body, Fields: fields}
}

func text(name, value string) index.Field {
	return index.Field{Name: name, Type: index.FieldText, Text: value}
}

func commitRecords(t *testing.T, s *Store, recs ...*index.Record) {
	t.Helper()
	w, err := s.NewWriter()
	require.NoError(t, err)
	defer w.Close()
	for _, rec := range recs {
		require.NoError(t, w.AddDocument(rec))
	}
	require.NoError(t, w.Commit())
}

func search(t *testing.T, s *Store, q index.Query) []string {
	t.Helper()
	snap, err := s.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	hits, err := snap.Search(q, 0, -1)
	require.NoError(t, err)
	ids := make([]string, 0, len(hits.Documents))
	for _, d := range hits.Documents {
		ids = append(ids, d.ID)
	}
	return ids
}

func TestStore_AddLookupCommit(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)

	w, err := s.NewWriter()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocument(record("a", 1, text("name", "John Doe"))))

	// Uncommitted writes are invisible.
	snap, err := s.OpenSnapshot()
	require.NoError(t, err)
	docs, err := snap.LookupID("a")
	require.NoError(t, err)
	assert.Empty(t, docs)
	require.NoError(t, snap.Close())

	require.NoError(t, w.Commit())

	snap, err = s.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	docs, err = snap.LookupID("a")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(1), docs[0].Revision)

	doc, err := docs[0].Document()
	require.NoError(t, err)
	assert.Equal(t, "a", doc.ID())

	last, err := snap.LastRevision()
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestStore_SingleWriter(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)

	w, err := s.NewWriter()
	require.NoError(t, err)

	_, err = s.NewWriter()
	assert.ErrorIs(t, err, index.ErrWriterOpen)

	require.NoError(t, w.Close())
	w2, err := s.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	assert.ErrorIs(t, w.AddDocument(record("a", 1)), index.ErrClosed)
}

func TestStore_Rollback(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	commitRecords(t, s, record("keep", 1, text("name", "kept")))

	w, err := s.NewWriter()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocument(record("gone", 2, text("name", "gone"))))
	require.NoError(t, w.DeleteDocuments("keep"))
	require.NoError(t, w.Rollback())

	// The writer stays usable after a rollback.
	require.NoError(t, w.Commit())

	assert.Equal(t, []string{"keep"}, search(t, s, index.MatchAllQuery{}))

	snap, err := s.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()
	last, err := snap.LastRevision()
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestStore_UpdateReplacesPostings(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	commitRecords(t, s, record("a", 1, text("name", "John Doe"), index.Field{Name: "age", Type: index.FieldInt, Int: 30}))

	w, err := s.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.UpdateDocument("a", record("a", 2, text("name", "Jane Roe"))))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	assert.Empty(t, search(t, s, index.TermQuery{Field: "name", Term: "john"}))
	assert.Empty(t, search(t, s, index.IntRangeQuery{Field: "age", Min: 30, Max: 30}))
	assert.Equal(t, []string{"a"}, search(t, s, index.TermQuery{Field: "name", Term: "jane"}))

	err = func() error {
		w, err := s.NewWriter()
		require.NoError(t, err)
		defer w.Close()
		return w.UpdateDocument("a", record("b", 3))
	}()
	assert.Error(t, err)
}

func TestStore_UpdateAndDeleteInSameBatch(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)

	w, err := s.NewWriter()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocument(record("a", 1, text("name", "first"))))
	require.NoError(t, w.UpdateDocument("a", record("a", 2, text("name", "second"))))
	require.NoError(t, w.AddDocument(record("b", 3, text("name", "first"))))
	require.NoError(t, w.DeleteDocuments("b"))
	require.NoError(t, w.DeleteDocuments("never-existed"))
	require.NoError(t, w.Commit())

	assert.Empty(t, search(t, s, index.TermQuery{Field: "name", Term: "first"}))
	assert.Equal(t, []string{"a"}, search(t, s, index.TermQuery{Field: "name", Term: "second"}))
	assert.Equal(t, []string{"a"}, search(t, s, index.MatchAllQuery{}))
}

func TestStore_Queries(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	commitRecords(t, s,
		record("a", 1, text("name", "John Doe"), index.Field{Name: "age", Type: index.FieldInt, Int: 30},
			index.Field{Name: "active", Type: index.FieldKeyword, Text: "true"}),
		record("b", 2, text("name", "Johanna Smith"), index.Field{Name: "age", Type: index.FieldInt, Int: -4},
			index.Field{Name: "score", Type: index.FieldFloat, Float: 2.5}),
		record("c", 3, text("name", "Mary Doe"), index.Field{Name: "age", Type: index.FieldInt, Int: 31},
			index.Field{Name: "active", Type: index.FieldKeyword, Text: "false"}),
	)

	tests := []struct {
		name string
		q    index.Query
		want []string
	}{
		{"term", index.TermQuery{Field: "name", Term: "doe"}, []string{"a", "c"}},
		{"term miss", index.TermQuery{Field: "name", Term: "jo"}, []string{}},
		{"prefix on whole value", index.PrefixQuery{Field: "name", Prefix: "jo"}, []string{"a", "b"}},
		{"prefix not on inner token", index.PrefixQuery{Field: "name", Prefix: "doe"}, []string{}},
		{"int exact", index.IntRangeQuery{Field: "age", Min: 30, Max: 30}, []string{"a"}},
		{"int negative", index.IntRangeQuery{Field: "age", Min: -10, Max: 0}, []string{"b"}},
		{"int range", index.IntRangeQuery{Field: "age", Min: 0, Max: 100}, []string{"a", "c"}},
		{"int empty range", index.IntRangeQuery{Field: "age", Min: 5, Max: 1}, []string{}},
		{"float exact", index.FloatRangeQuery{Field: "score", Min: 2.5, Max: 2.5}, []string{"b"}},
		{"float does not match int", index.FloatRangeQuery{Field: "age", Min: 30, Max: 30}, []string{}},
		{"keyword", index.TermQuery{Field: "active", Term: "true"}, []string{"a"}},
		{"id", index.TermQuery{Field: "_id", Term: "c"}, []string{"c"}},
		{"revision", index.IntRangeQuery{Field: "_rev", Min: 2, Max: 3}, []string{"b", "c"}},
		{"match all", index.MatchAllQuery{}, []string{"a", "b", "c"}},
		{"match none", index.MatchNoneQuery{}, []string{}},
		{"empty boolean", index.BooleanQuery{}, []string{}},
		{"must and must not", index.BooleanQuery{Clauses: []index.Clause{
			{Query: index.TermQuery{Field: "name", Term: "doe"}, Occur: index.Must},
			{Query: index.TermQuery{Field: "active", Term: "false"}, Occur: index.MustNot},
		}}, []string{"a"}},
		{"should union", index.BooleanQuery{Clauses: []index.Clause{
			{Query: index.TermQuery{Field: "name", Term: "mary"}, Occur: index.Should},
			{Query: index.TermQuery{Field: "name", Term: "smith"}, Occur: index.Should},
		}}, []string{"b", "c"}},
		{"should ignored next to must", index.BooleanQuery{Clauses: []index.Clause{
			{Query: index.TermQuery{Field: "name", Term: "mary"}, Occur: index.Should},
			{Query: index.TermQuery{Field: "name", Term: "john"}, Occur: index.Must},
		}}, []string{"a"}},
		{"only must not", index.BooleanQuery{Clauses: []index.Clause{
			{Query: index.TermQuery{Field: "name", Term: "doe"}, Occur: index.MustNot},
		}}, []string{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, search(t, s, tt.q))
		})
	}
}

func TestStore_SearchPaging(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	commitRecords(t, s, record("d", 4), record("b", 2), record("a", 1), record("c", 3))

	snap, err := s.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	hits, err := snap.Search(index.MatchAllQuery{}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, hits.Total)
	require.Len(t, hits.Documents, 2)
	assert.Equal(t, "b", hits.Documents[0].ID)
	assert.Equal(t, "c", hits.Documents[1].ID)

	hits, err = snap.Search(index.MatchAllQuery{}, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, hits.Total)
	assert.Empty(t, hits.Documents)

	n, err := snap.Count(index.MatchAllQuery{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStore_SnapshotIsolation(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	commitRecords(t, s, record("a", 1))

	snap, err := s.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	commitRecords(t, s, record("b", 2))

	n, err := snap.Count(index.MatchAllQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, snap.Close())
	_, err = snap.LookupID("a")
	assert.ErrorIs(t, err, index.ErrClosed)
}

func TestStore_Reopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "base")

	s, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	commitRecords(t, s, record("a", 7, text("name", "persisted")))
	require.NoError(t, s.Close())

	s, err = Open(path, DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"a"}, search(t, s, index.TermQuery{Field: "name", Term: "persisted"}))
	snap, err := s.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()
	last, err := snap.LastRevision()
	require.NoError(t, err)
	assert.Equal(t, int64(7), last)
}

func TestStore_Closed(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.NewWriter()
	assert.ErrorIs(t, err, index.ErrClosed)
	_, err = s.OpenSnapshot()
	assert.ErrorIs(t, err, index.ErrClosed)
}

func TestStore_ChecksumMismatch(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	commitRecords(t, s, record("a", 1))

	// Corrupt the stored body behind the store's back.
	pdb := s.db.(*PebbleDB)
	value, closer, err := pdb.db.Get(encoding.DocKey("a"))
	require.NoError(t, err)
	corrupt := append([]byte(nil), value...)
	closer.Close()
	corrupt[len(corrupt)-1] ^= 0xff
	require.NoError(t, pdb.db.Set(encoding.DocKey("a"), corrupt, pebble.Sync))

	snap, err := s.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()
	_, err = snap.LookupID("a")
	assert.ErrorIs(t, err, errChecksum)
}

func TestStore_ConcurrentWriterCalls(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)

	w, err := s.NewWriter()
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			assert.NoError(t, w.AddDocument(record(id, int64(i+1), text("name", "same"))))
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Commit())

	assert.Len(t, search(t, s, index.TermQuery{Field: "name", Term: "same"}), 20)
}

// faultyDB injects batch commit failures into a real database.
type faultyDB struct {
	DB
	commitErr error
	closeErr  error
}

type faultyBatch struct {
	Batch
	db *faultyDB
}

func (f *faultyDB) NewIndexedBatch() Batch {
	return &faultyBatch{Batch: f.DB.NewIndexedBatch(), db: f}
}

func (b *faultyBatch) Commit(o *pebble.WriteOptions) error {
	if b.db.commitErr != nil {
		return b.db.commitErr
	}
	return b.Batch.Commit(o)
}

func (b *faultyBatch) Close() error {
	err := b.Batch.Close()
	if b.db.closeErr != nil {
		return b.db.closeErr
	}
	return err
}

func TestStore_CommitFailure(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	fdb := &faultyDB{DB: s.db, commitErr: errors.New("disk full")}
	s.db = fdb

	w, err := s.NewWriter()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocument(record("a", 1)))
	assert.EqualError(t, w.Commit(), "disk full")

	fdb.closeErr = errors.New("close failed")
	assert.EqualError(t, w.Rollback(), "close failed")

	fdb.commitErr, fdb.closeErr = nil, nil
	require.NoError(t, w.Commit())
	assert.Empty(t, search(t, s, index.MatchAllQuery{}))
}
