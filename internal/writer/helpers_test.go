package writer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/internal/index/catalog"
	"github.com/boxbase/boxbase/internal/index/pebblestore"
	"github.com/boxbase/boxbase/pkg/model"
)

// faults injects index failures. Zero values pass through.
type faults struct {
	mu          sync.Mutex
	commitErr   error
	rollbackErr error
	writerErr   error
	commitDelay time.Duration
	commits     int
}

func (f *faults) set(fn func(f *faults)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// faultyProvider hands out catalog indexes wrapped with faults.
type faultyProvider struct {
	*catalog.Catalog
	faults *faults
}

func (p *faultyProvider) Acquire(base string) (index.Index, error) {
	idx, err := p.Catalog.Acquire(base)
	if err != nil {
		return nil, err
	}
	return &faultyIndex{Index: idx, faults: p.faults}, nil
}

type faultyIndex struct {
	index.Index
	faults *faults
}

func (i *faultyIndex) NewWriter() (index.Writer, error) {
	i.faults.mu.Lock()
	err := i.faults.writerErr
	i.faults.mu.Unlock()
	if err != nil {
		return nil, err
	}
	w, err := i.Index.NewWriter()
	if err != nil {
		return nil, err
	}
	return &faultyWriter{Writer: w, faults: i.faults}, nil
}

type faultyWriter struct {
	index.Writer
	faults *faults
}

func (w *faultyWriter) Commit() error {
	w.faults.mu.Lock()
	err, delay := w.faults.commitErr, w.faults.commitDelay
	w.faults.commits++
	w.faults.mu.Unlock()
	time.Sleep(delay)
	if err != nil {
		return err
	}
	return w.Writer.Commit()
}

func (w *faultyWriter) Rollback() error {
	w.faults.mu.Lock()
	err := w.faults.rollbackErr
	w.faults.mu.Unlock()
	if err != nil {
		return err
	}
	return w.Writer.Rollback()
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Committed(base string, txID uint64, revisions map[string]int64, deleted []string) {
	m.Called(base, txID, revisions, deleted)
}

type testEnv struct {
	catalog *catalog.Catalog
	faults  *faults
	service *Service
}

func newTestEnv(t *testing.T, dataDir string, notifier Notifier) *testEnv {
	t.Helper()
	if dataDir == "" {
		dataDir = t.TempDir()
	}
	cat := catalog.New(dataDir, pebblestore.DefaultConfig(), nil)
	f := &faults{}
	svc := NewService(&faultyProvider{Catalog: cat, faults: f}, Config{ApplyConcurrency: 4}, notifier, nil)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
		_ = cat.Close()
	})
	return &testEnv{catalog: cat, faults: f, service: svc}
}

func (e *testEnv) submit(t *testing.T, base string, changes ...Change) (*Result, error) {
	t.Helper()
	tx, err := NewTransaction(base, changes)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.service.Submit(ctx, tx)
}

// stored reads a document through a fresh snapshot.
func (e *testEnv) stored(t *testing.T, base, id string) model.Document {
	t.Helper()
	idx, err := e.catalog.Acquire(base)
	require.NoError(t, err)
	defer idx.Close()
	snap, err := idx.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	docs, err := snap.LookupID(id)
	require.NoError(t, err)
	if len(docs) == 0 {
		return nil
	}
	doc, err := docs[0].Document()
	require.NoError(t, err)
	return doc
}

func (e *testEnv) stop(t *testing.T, base string) {
	t.Helper()
	c, ok := e.service.Coordinator(base)
	require.True(t, ok)
	c.Stop()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func person(name string) model.Document {
	return model.Document{"name": name, model.FieldIndex: []any{"name"}}
}
