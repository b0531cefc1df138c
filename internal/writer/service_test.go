package writer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/boxbase/boxbase/internal/events"
	"github.com/boxbase/boxbase/internal/ledger"
	"github.com/boxbase/boxbase/pkg/model"
)

func TestService_InsertThenConflict(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	res, err := env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 1}, res.Revisions)

	_, err = env.submit(t, "people", Upsert("a", 0, person("John")))
	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []model.Conflict{{ID: "a", Current: 1}}, conflict.Conflicts)

	doc := env.stored(t, "people", "a")
	assert.Equal(t, json.Number("1"), doc[model.FieldRev])
	assert.Equal(t, "John", doc["name"])
}

func TestService_RevisionsIncrease(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	var rev int64
	for i := 0; i < 5; i++ {
		res, err := env.submit(t, "people", Upsert("a", rev, person("John")))
		require.NoError(t, err)
		assert.Greater(t, res.Revisions["a"], rev)
		rev = res.Revisions["a"]
	}
	assert.Equal(t, int64(5), rev)
}

func TestService_Atomicity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	_, err := env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)

	// b is valid but a conflicts: neither is applied.
	_, err = env.submit(t, "people",
		Upsert("a", 0, person("Johnny")),
		Upsert("b", 0, person("Mary")),
	)
	assert.ErrorIs(t, err, model.ErrConflict)

	assert.Nil(t, env.stored(t, "people", "b"))
	assert.Equal(t, "John", env.stored(t, "people", "a")["name"])

	// The writer was renewed; the base keeps working.
	res, err := env.submit(t, "people", Upsert("b", 0, person("Mary")))
	require.NoError(t, err)
	// Revision 2 was consumed by the rolled back transaction.
	assert.Equal(t, int64(3), res.Revisions["b"])
}

func TestService_ConflictDetailsAreSorted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	_, err := env.submit(t, "people", Upsert("x", 0, person("x")), Upsert("y", 0, person("y")))
	require.NoError(t, err)

	_, err = env.submit(t, "people", Upsert("y", 0, person("y")), Upsert("x", 0, person("x")), Upsert("z", 5, person("z")))
	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []model.Conflict{{ID: "x", Current: 1}, {ID: "y", Current: 2}, {ID: "z", Current: 0}}, conflict.Conflicts)
}

func TestService_UnsupportedFieldTypeRollsBack(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	_, err := env.submit(t, "people",
		Upsert("a", 0, person("John")),
		Upsert("b", 0, model.Document{"tags": []any{"x"}, "_index": []any{"tags"}}),
	)
	var fte *model.FieldTypeError
	require.ErrorAs(t, err, &fte)
	assert.Equal(t, "tags", fte.Field)
	assert.Nil(t, env.stored(t, "people", "a"))
}

func TestService_InvalidDocumentOutranksConflict(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	_, err := env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)

	_, err = env.submit(t, "people",
		Upsert("a", 0, person("John")),
		Upsert("b", 0, model.Document{"tags": []any{"x"}, "_index": []any{"tags"}}),
	)
	var fte *model.FieldTypeError
	require.ErrorAs(t, err, &fte)
	assert.NotErrorIs(t, err, model.ErrConflict)
	assert.Nil(t, env.stored(t, "people", "b"))
}

func TestService_Delete(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	res, err := env.submit(t, "people", Delete("absent", 0))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"absent": 0}, res.Revisions)

	_, err = env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)

	_, err = env.submit(t, "people", Delete("a", 0))
	assert.ErrorIs(t, err, model.ErrConflict)

	res, err = env.submit(t, "people", Delete("a", 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Revisions["a"])
	assert.Nil(t, env.stored(t, "people", "a"))

	// A deleted id can be inserted again.
	res, err = env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Revisions["a"])
}

func TestService_ConcurrentConflictingInserts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	tx1, err := NewTransaction("people", []Change{Upsert("a", 0, person("one"))})
	require.NoError(t, err)
	tx2, err := NewTransaction("people", []Change{Upsert("a", 0, person("two"))})
	require.NoError(t, err)

	type outcome struct {
		res *Result
		err error
	}
	results := make([]outcome, 2)
	var wg sync.WaitGroup
	for i, tx := range []*Transaction{tx1, tx2} {
		wg.Add(1)
		go func(i int, tx *Transaction) {
			defer wg.Done()
			res, err := env.service.Submit(context.Background(), tx)
			results[i] = outcome{res, err}
		}(i, tx)
	}
	wg.Wait()

	var ok, conflicts int
	for _, r := range results {
		if r.err == nil {
			ok++
			assert.Equal(t, int64(1), r.res.Revisions["a"])
			continue
		}
		var conflict *model.ConflictError
		require.ErrorAs(t, r.err, &conflict)
		assert.Equal(t, int64(1), conflict.Conflicts[0].Current)
		conflicts++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestService_FIFOOrder(t *testing.T) {
	t.Parallel()
	notifier := &mockNotifier{}
	env := newTestEnv(t, "", notifier)

	var (
		mu    sync.Mutex
		order []uint64
	)
	notifier.On("Committed", "people", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		order = append(order, args.Get(1).(uint64))
		mu.Unlock()
	})

	// Hold the first commit so that the others queue up behind it.
	env.faults.set(func(f *faults) { f.commitDelay = 50 * time.Millisecond })
	_, err := env.submit(t, "people", Upsert("warmup", 0, person("w")))
	require.NoError(t, err)

	c, ok := env.service.Coordinator("people")
	require.True(t, ok)

	var txs []*Transaction
	for i := 0; i < 5; i++ {
		tx, err := NewTransaction("people", []Change{Upsert(string(rune('a'+i)), 0, person("p"))})
		require.NoError(t, err)
		txs = append(txs, tx)
	}

	// Deliver in reverse id order while the coordinator is busy.
	blocker, err := NewTransaction("people", []Change{Upsert("blocker", 0, person("b"))})
	require.NoError(t, err)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.Submit(context.Background(), blocker)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return c.State() == StateCommitting }, 5*time.Second, time.Millisecond)

	for i := len(txs) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(tx *Transaction) {
			defer wg.Done()
			_, err := c.Submit(context.Background(), tx)
			assert.NoError(t, err)
		}(txs[i])
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 7)
	assert.Equal(t, blocker.ID, order[1])
	for i, tx := range txs {
		assert.Equal(t, tx.ID, order[i+2])
	}
}

func TestService_NotifiesCommits(t *testing.T) {
	t.Parallel()
	notifier := &mockNotifier{}
	env := newTestEnv(t, "", notifier)

	notifier.On("Committed", "people", mock.Anything, map[string]int64{"a": 1}, []string(nil)).Once()
	notifier.On("Committed", "people", mock.Anything, map[string]int64{"a": 1}, []string{"a"}).Once()

	_, err := env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)
	_, err = env.submit(t, "people", Upsert("a", 0, person("John")))
	require.Error(t, err)
	_, err = env.submit(t, "people", Delete("a", 1))
	require.NoError(t, err)

	notifier.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "Committed", 2)
}

func TestService_CommitFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	_, err := env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)
	first, _ := env.service.Coordinator("people")

	env.faults.set(func(f *faults) { f.commitErr = errors.New("disk full") })
	_, err = env.submit(t, "people", Upsert("b", 0, person("Mary")))
	var se *model.StorageError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Unknown)

	// Rollback worked: the coordinator survives and nothing leaked.
	c, ok := env.service.Coordinator("people")
	require.True(t, ok)
	assert.Same(t, first, c)

	env.faults.set(func(f *faults) { f.commitErr = nil })
	res, err := env.submit(t, "people", Upsert("b", 0, person("Mary")))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Revisions["b"])
}

func TestService_FatalAndLazyRecreate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	_, err := env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)
	first, _ := env.service.Coordinator("people")

	env.faults.set(func(f *faults) {
		f.commitErr = errors.New("disk full")
		f.rollbackErr = errors.New("rollback failed")
	})
	_, err = env.submit(t, "people", Upsert("b", 0, person("Mary")))
	var se *model.StorageError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Unknown)

	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not shut down")
	}
	assert.Equal(t, StateFatal, first.State())

	env.faults.set(func(f *faults) { f.commitErr, f.rollbackErr = nil, nil })
	res, err := env.submit(t, "people", Upsert("b", 0, person("Mary")))
	require.NoError(t, err)
	// The failed transaction's revision was never persisted.
	assert.Equal(t, int64(2), res.Revisions["b"])

	second, ok := env.service.Coordinator("people")
	require.True(t, ok)
	assert.NotSame(t, first, second)
}

func TestService_RecoversCounterFromLedgerAndIndex(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	env := newTestEnv(t, dir, nil)
	_, err := env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)
	_, err = env.submit(t, "people", Upsert("a", 1, person("John")))
	require.NoError(t, err)
	env.stop(t, "people")

	rev, err := ledger.Open(filepath.Join(dir, "people")).Read()
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	// A ledger behind the index does not cause revisions to be reused.
	require.NoError(t, ledger.Open(filepath.Join(dir, "people")).Write(0))

	res, err := env.submit(t, "people", Upsert("b", 0, person("Mary")))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Revisions["b"])
}

func TestService_UnknownLedgerVersion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "people"), 0o755))

	buf := make([]byte, ledger.RecordSize)
	buf[3] = 9
	require.NoError(t, os.WriteFile(filepath.Join(dir, "people", ledger.FileName), buf, 0o644))

	env := newTestEnv(t, dir, nil)
	_, err := env.submit(t, "people", Upsert("a", 0, person("John")))
	assert.ErrorIs(t, err, model.ErrRecovery)

	_, ok := env.service.Coordinator("people")
	assert.False(t, ok, "a coordinator that failed to start releases the name")

	// Other bases are unaffected.
	_, err = env.submit(t, "places", Upsert("a", 0, person("Berlin")))
	assert.NoError(t, err)
}

func TestService_LedgerWriteFailureStillCommits(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	env := newTestEnv(t, dir, nil)

	_, err := env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)

	// Replace the ledger file by a directory so the rename fails.
	path := filepath.Join(dir, "people", ledger.FileName)
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "block"), nil, 0o644))

	res, err := env.submit(t, "people", Upsert("b", 0, person("Mary")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Revisions["b"])
	assert.Equal(t, "Mary", env.stored(t, "people", "b")["name"])
}

func TestService_StopFailsQueued(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	_, err := env.submit(t, "people", Upsert("a", 0, person("John")))
	require.NoError(t, err)
	c, _ := env.service.Coordinator("people")
	c.Stop()
	<-c.Done()

	tx, err := NewTransaction("people", []Change{Upsert("b", 0, person("Mary"))})
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), tx)
	assert.ErrorIs(t, err, model.ErrCoordinatorClosed)

	// The service routes around the stopped coordinator.
	res, err := env.service.Submit(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Revisions["b"])
}

func TestService_SubmitCanceled(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	tx, err := NewTransaction("people", []Change{Upsert("a", 0, person("John"))})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = env.service.Submit(ctx, tx)
	assert.ErrorIs(t, err, model.ErrCanceled)
}

func TestService_BasesAreIndependent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	var wg sync.WaitGroup
	for _, base := range []string{"people", "places", "things"} {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			res, err := env.submit(t, base, Upsert("a", 0, person(base)))
			if assert.NoError(t, err) {
				assert.Equal(t, int64(1), res.Revisions["a"])
			}
		}(base)
	}
	wg.Wait()
	assert.Equal(t, []string{"people", "places", "things"}, env.service.Bases())
}

func TestService_LargeTransaction(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "", nil)

	var changes []Change
	for i := 0; i < 100; i++ {
		changes = append(changes, Upsert(filepathSafeID(i), 0, person("p")))
	}
	res, err := env.submit(t, "people", changes...)
	require.NoError(t, err)
	require.Len(t, res.Revisions, 100)

	seen := map[int64]bool{}
	for _, rev := range res.Revisions {
		assert.False(t, seen[rev], "revision %d assigned twice", rev)
		seen[rev] = true
		assert.True(t, rev >= 1 && rev <= 100)
	}
}

func filepathSafeID(i int) string {
	return "doc-" + string(rune('a'+i/26)) + string(rune('a'+i%26))
}

type subjectPublisher struct {
	subjects chan string
}

func (p *subjectPublisher) Publish(_ context.Context, subject string, _ []byte) error {
	p.subjects <- subject
	return nil
}

func (p *subjectPublisher) Close() error { return nil }

func TestService_CloseTimeoutWithCommitInFlight(t *testing.T) {
	t.Parallel()
	pub := &subjectPublisher{subjects: make(chan string, 4)}
	notifier := events.NewNotifier(pub, nil)
	env := newTestEnv(t, "", notifier)
	env.faults.set(func(f *faults) { f.commitDelay = 300 * time.Millisecond })

	tx, err := NewTransaction("people", []Change{Upsert("a", 0, person("John"))})
	require.NoError(t, err)

	type outcome struct {
		res *Result
		err error
	}
	submitted := make(chan outcome, 1)
	go func() {
		res, err := env.service.Submit(context.Background(), tx)
		submitted <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		env.faults.mu.Lock()
		defer env.faults.mu.Unlock()
		return env.faults.commits == 1
	}, 2*time.Second, 5*time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.service.Close(short), context.DeadlineExceeded)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	require.NoError(t, notifier.Close(closeCtx))

	// The commit finishes after both were closed; its event is dropped.
	select {
	case o := <-submitted:
		require.NoError(t, o.err)
		assert.Equal(t, map[string]int64{"a": 1}, o.res.Revisions)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight transaction was not decided")
	}
	assert.Empty(t, pub.subjects)

	late, err := NewTransaction("people", []Change{Upsert("b", 0, person("Jane"))})
	require.NoError(t, err)
	_, err = env.service.Submit(context.Background(), late)
	assert.ErrorIs(t, err, model.ErrCoordinatorClosed)
	assert.Eventually(t, func() bool {
		_, ok := env.service.Coordinator("people")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}
