package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/internal/ledger"
	"github.com/boxbase/boxbase/internal/metrics"
	"github.com/boxbase/boxbase/internal/registry"
	"github.com/boxbase/boxbase/pkg/model"
)

// State is the lifecycle state of a Coordinator.
type State int32

const (
	StateStarting State = iota
	StateIdle
	StateRunning
	StateDeciding
	StateCommitting
	StateRollingBack
	StateFatal
	StateStopped
)

func (s State) String() string {
	return [...]string{"starting", "idle", "running", "deciding", "committing", "rolling-back", "fatal", "stopped"}[s]
}

var errLostClaim = errors.New("base already owned")

// Result reports a committed transaction.
type Result struct {
	Transaction uint64
	// Revisions maps every document of the transaction to its revision:
	// the new one for upserts, the last one for deletes.
	Revisions map[string]int64
}

// Notifier is told about committed transactions.
type Notifier interface {
	Committed(base string, txID uint64, revisions map[string]int64, deleted []string)
}

// IndexProvider opens base indexes and locates base directories.
type IndexProvider interface {
	Acquire(base string) (index.Index, error)
	Dir(base string) string
}

type submitMsg struct {
	p *pending
}

type outcomeMsg struct {
	txID uint64
	out  Outcome
}

// Coordinator owns the index writer and the revision counter of one base
// and applies its transactions one at a time, in transaction id order.
type Coordinator struct {
	base        string
	indexes     IndexProvider
	registry    *registry.Registry[*Coordinator]
	notifier    Notifier
	concurrency int
	logger      *slog.Logger

	inbox    chan any
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	state    atomic.Int32

	// Owned by the loop goroutine.
	queue       *queue
	inflight    *pending
	remaining   int
	failures    []Outcome
	revisions   map[string]int64
	deleted     []string
	idx         index.Index
	writer      index.Writer
	snapshot    index.Snapshot
	ledger      *ledger.Ledger
	ledgerDirty bool
	stopping    bool

	// Shared with appliers.
	counter atomic.Int64
}

func newCoordinator(base string, s *Service) *Coordinator {
	return &Coordinator{
		base:        base,
		indexes:     s.indexes,
		registry:    s.registry,
		notifier:    s.notifier,
		concurrency: s.cfg.ApplyConcurrency,
		logger:      s.logger.With("base", base),
		inbox:       make(chan any, s.cfg.InboxSize),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		queue:       newQueue(),
	}
}

// Base returns the name of the base the coordinator owns.
func (c *Coordinator) Base() string {
	return c.base
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// Done is closed once the coordinator has released its resources.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// start claims the base name and opens the index, the ledger and the
// initial snapshot, then starts the loop. It returns errLostClaim when
// another coordinator owns the base.
func (c *Coordinator) start() error {
	if !c.registry.Claim(c.base, c) {
		return errLostClaim
	}

	if err := c.open(); err != nil {
		c.closeResources()
		c.registry.Release(c.base, c)
		c.setState(StateStopped)
		close(c.done)
		return err
	}

	metrics.CoordinatorStarts.WithLabelValues(c.base).Inc()
	c.logger.Info("Base coordinator started", "revision", c.counter.Load())
	c.setState(StateIdle)
	go c.loop()
	return nil
}

func (c *Coordinator) open() error {
	idx, err := c.indexes.Acquire(c.base)
	if err != nil {
		return err
	}
	c.idx = idx

	c.ledger = ledger.Open(c.indexes.Dir(c.base))
	rev, err := c.ledger.Read()
	if err != nil {
		return err
	}

	if err := c.renewSnapshot(); err != nil {
		return err
	}
	indexed, err := c.snapshot.LastRevision()
	if err != nil {
		return &model.StorageError{Op: "read last revision", Err: err}
	}
	if indexed != rev {
		// The ledger lags the index after a failed rewrite or a crash
		// between the index commit and the ledger write.
		c.logger.Warn("Revision ledger differs from index", "ledger", rev, "index", indexed)
		c.ledgerDirty = true
	}
	c.counter.Store(max(rev, indexed))

	w, err := c.idx.NewWriter()
	if err != nil {
		return &model.StorageError{Op: "open writer", Err: err}
	}
	c.writer = w
	return nil
}

// Submit hands tx to the coordinator and waits for its decision. When ctx
// ends first the transaction may still be applied.
func (c *Coordinator) Submit(ctx context.Context, tx *Transaction) (*Result, error) {
	p := &pending{tx: tx, reply: make(chan reply, 1), enqueued: time.Now()}

	select {
	case c.inbox <- submitMsg{p: p}:
	case <-c.done:
		return nil, model.ErrCoordinatorClosed
	case <-ctx.Done():
		return nil, model.WrapError(ctx.Err())
	}

	select {
	case r := <-p.reply:
		return r.result, r.err
	case <-c.done:
		select {
		case r := <-p.reply:
			return r.result, r.err
		default:
			return nil, model.ErrCoordinatorClosed
		}
	case <-ctx.Done():
		return nil, model.WrapError(ctx.Err())
	}
}

// Stop asks the coordinator to finish its in-flight transaction and shut
// down. Waiting transactions fail with ErrCoordinatorClosed.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Coordinator) loop() {
	defer c.shutdown()

	stop := c.stopCh
	for {
		select {
		case msg := <-c.inbox:
			switch m := msg.(type) {
			case submitMsg:
				c.enqueue(m.p)
			case outcomeMsg:
				c.record(m)
			}
		case <-stop:
			stop = nil
			c.stopping = true
		}

		if c.State() == StateFatal {
			return
		}
		if c.stopping && c.inflight == nil {
			return
		}
	}
}

func (c *Coordinator) enqueue(p *pending) {
	if c.stopping {
		c.respond(p, nil, model.ErrCoordinatorClosed)
		return
	}
	c.queue.push(p)
	if c.inflight == nil {
		c.next()
	}
	metrics.QueueDepth.WithLabelValues(c.base).Set(float64(c.queue.len()))
}

// next dispatches the oldest waiting transaction.
func (c *Coordinator) next() {
	p, ok := c.queue.pop()
	if !ok {
		c.setState(StateIdle)
		return
	}
	metrics.QueueDepth.WithLabelValues(c.base).Set(float64(c.queue.len()))
	c.dispatch(p)
}

func (c *Coordinator) dispatch(p *pending) {
	c.inflight = p
	c.remaining = len(p.tx.Changes)
	c.failures = nil
	c.revisions = make(map[string]int64, len(p.tx.Changes))
	c.deleted = nil
	c.setState(StateRunning)

	// Revision checks must see the previous commit.
	if err := c.renewSnapshot(); err != nil {
		c.logger.Error("Failed to open snapshot", "error", err)
		c.finish(nil, err)
		c.fatal()
		return
	}
	if c.remaining == 0 {
		c.decide()
		return
	}

	applier := NewApplier(c.writer, c.snapshot, &c.counter, c.logger)
	txID := p.tx.ID
	changes := p.tx.Changes
	limit := c.concurrency

	go func() {
		var g errgroup.Group
		g.SetLimit(limit)
		for _, ch := range changes {
			g.Go(func() error {
				c.post(outcomeMsg{txID: txID, out: applier.Apply(ch)})
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// post delivers an outcome to the loop. The loop drains every outcome of
// the in-flight transaction before exiting.
func (c *Coordinator) post(msg outcomeMsg) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

func (c *Coordinator) record(m outcomeMsg) {
	if c.inflight == nil || m.txID != c.inflight.tx.ID {
		c.logger.Warn("Dropping outcome of unknown transaction", "tx", m.txID, "id", m.out.ID)
		return
	}

	switch m.out.Kind {
	case outcomeSuccess:
		c.revisions[m.out.ID] = m.out.Revision
		if m.out.Deleted {
			c.deleted = append(c.deleted, m.out.ID)
		}
	default:
		c.failures = append(c.failures, m.out)
	}

	c.remaining--
	if c.remaining == 0 {
		c.decide()
	}
}

func (c *Coordinator) decide() {
	c.setState(StateDeciding)
	if len(c.failures) > 0 {
		c.rollback()
	} else {
		c.commit()
	}

	c.inflight = nil
	c.discardSnapshot()
	if c.State() == StateFatal {
		return
	}
	if c.stopping {
		return
	}
	c.next()
}

func (c *Coordinator) rollback() {
	c.setState(StateRollingBack)
	err := c.failureError()
	c.logger.Debug("Rolling back transaction", "tx", c.inflight.tx.ID, "error", err)

	renewErr := c.renewWriter()
	c.finish(nil, err)
	if renewErr != nil {
		c.logger.Error("Failed to renew index writer", "error", renewErr)
		c.fatal()
	}
}

func (c *Coordinator) commit() {
	c.setState(StateCommitting)
	tx := c.inflight.tx

	start := time.Now()
	if err := c.writer.Commit(); err != nil {
		c.logger.Error("Index commit failed", "tx", tx.ID, "error", err)
		if rbErr := c.writer.Rollback(); rbErr != nil {
			c.logger.Error("Rollback after failed commit failed", "tx", tx.ID, "error", rbErr)
			c.finish(nil, &model.StorageError{Op: "commit", Err: err, Unknown: true})
			c.fatal()
			return
		}
		c.finish(nil, &model.StorageError{Op: "commit", Err: err})
		if renewErr := c.renewWriter(); renewErr != nil {
			c.logger.Error("Failed to renew index writer", "error", renewErr)
			c.fatal()
		}
		return
	}
	metrics.CommitLatency.WithLabelValues(c.base).Observe(time.Since(start).Seconds())

	c.persistLedger()

	revisions := c.revisions
	if c.notifier != nil {
		c.notifier.Committed(c.base, tx.ID, maps.Clone(revisions), slices.Clone(c.deleted))
	}
	c.finish(&Result{Transaction: tx.ID, Revisions: revisions}, nil)
}

// persistLedger mirrors the counter to the ledger. A failure does not undo
// the commit: the index stays authoritative and the next startup takes the
// higher of both values.
func (c *Coordinator) persistLedger() {
	if err := c.ledger.Write(c.counter.Load()); err != nil {
		metrics.LedgerWriteErrors.WithLabelValues(c.base).Inc()
		c.logger.Error("Failed to write revision ledger", "path", c.ledger.Path(), "error", err)
		c.ledgerDirty = true
		return
	}
	c.ledgerDirty = false
}

// finish replies to the in-flight transaction.
func (c *Coordinator) finish(res *Result, err error) {
	result := "committed"
	switch {
	case errors.Is(err, model.ErrConflict):
		result = "conflict"
	case errors.Is(err, model.ErrValidation):
		result = "invalid"
	case err != nil:
		result = "failed"
	}
	metrics.Transactions.WithLabelValues(c.base, result).Inc()
	c.respond(c.inflight, res, err)
}

func (c *Coordinator) respond(p *pending, res *Result, err error) {
	p.reply <- reply{result: res, err: err}
}

// failureError summarizes the failed outcomes of the in-flight transaction.
// Storage failures win over invalid documents, which win over conflicts.
func (c *Coordinator) failureError() error {
	slices.SortFunc(c.failures, func(a, b Outcome) int { return strings.Compare(a.ID, b.ID) })

	var (
		conflicts []model.Conflict
		invalid   error
		storage   []error
	)
	for _, o := range c.failures {
		switch {
		case o.Kind == outcomeConflict:
			conflicts = append(conflicts, model.Conflict{ID: o.ID, Current: o.Revision})
		case errors.Is(o.Err, model.ErrStorage):
			storage = append(storage, fmt.Errorf("%s: %w", o.ID, o.Err))
		default:
			if invalid == nil {
				invalid = fmt.Errorf("%s: %w", o.ID, o.Err)
			}
		}
	}

	if len(conflicts) > 0 && (len(storage) > 0 || invalid != nil) {
		c.logger.Debug("Conflicts superseded by a failed document", "tx", c.inflight.tx.ID, "conflicts", conflicts)
	}

	switch {
	case len(storage) > 0:
		return &model.StorageError{Op: "apply", Err: errors.Join(storage...)}
	case invalid != nil:
		return invalid
	default:
		return &model.ConflictError{Conflicts: conflicts}
	}
}

func (c *Coordinator) renewSnapshot() error {
	c.discardSnapshot()
	snap, err := c.idx.OpenSnapshot()
	if err != nil {
		return &model.StorageError{Op: "open snapshot", Err: err}
	}
	c.snapshot = snap
	return nil
}

func (c *Coordinator) discardSnapshot() {
	if c.snapshot == nil {
		return
	}
	if err := c.snapshot.Close(); err != nil {
		c.logger.Warn("Failed to close snapshot", "error", err)
	}
	c.snapshot = nil
}

// renewWriter discards staged changes and replaces the writer.
func (c *Coordinator) renewWriter() error {
	rbErr := c.writer.Rollback()
	closeErr := c.writer.Close()
	c.writer = nil
	if err := errors.Join(rbErr, closeErr); err != nil {
		return err
	}
	w, err := c.idx.NewWriter()
	if err != nil {
		return err
	}
	c.writer = w
	return nil
}

func (c *Coordinator) fatal() {
	metrics.CoordinatorFatal.WithLabelValues(c.base).Inc()
	c.logger.Error("Base coordinator failed; it will be recreated on next use")
	c.setState(StateFatal)
}

func (c *Coordinator) shutdown() {
	for _, p := range c.queue.drain() {
		c.respond(p, nil, model.ErrCoordinatorClosed)
	}
	metrics.QueueDepth.WithLabelValues(c.base).Set(0)

	if c.ledgerDirty {
		c.persistLedger()
	}
	c.closeResources()
	c.registry.Release(c.base, c)
	if c.State() != StateFatal {
		c.setState(StateStopped)
	}
	close(c.done)
	c.logger.Info("Base coordinator stopped", "state", c.State().String())
}

func (c *Coordinator) closeResources() {
	c.discardSnapshot()
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			c.logger.Warn("Failed to close index writer", "error", err)
		}
		c.writer = nil
	}
	if c.idx != nil {
		if err := c.idx.Close(); err != nil {
			c.logger.Warn("Failed to close index", "error", err)
		}
		c.idx = nil
	}
}
