package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/boxbase/boxbase/internal/metrics"
)

const (
	defaultNotifierBuffer = 1024
	defaultPublishTimeout = 5 * time.Second
)

// Notifier publishes committed transactions. Publishing runs on its own
// goroutine in commit order; a failed or dropped publish is logged and
// never affects the transaction.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	events chan *ChangeEvent
	done   chan struct{}
}

// NewNotifier starts a Notifier publishing through pub.
func NewNotifier(pub Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		publisher: pub,
		logger:    logger.With("component", "events-notifier"),
		timeout:   defaultPublishTimeout,
		events:    make(chan *ChangeEvent, defaultNotifierBuffer),
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

// Committed queues a change event. It never blocks: when the buffer is
// full, or the notifier is closed, the event is dropped.
func (n *Notifier) Committed(base string, txID uint64, revisions map[string]int64, deleted []string) {
	evt := NewChangeEvent(base, txID, revisions, deleted)

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		metrics.PublishErrors.WithLabelValues(base).Inc()
		n.logger.Warn("Notifier closed, dropping change event", "base", base, "tx", txID)
		return
	}
	select {
	case n.events <- evt:
	default:
		metrics.PublishErrors.WithLabelValues(base).Inc()
		n.logger.Warn("Change event buffer full, dropping event", "base", base, "tx", txID)
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for evt := range n.events {
		n.publish(evt)
	}
}

func (n *Notifier) publish(evt *ChangeEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("Failed to encode change event", "base", evt.Base, "tx", evt.Transaction, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.publisher.Publish(ctx, SubjectToken(evt.Base), data); err != nil {
		metrics.PublishErrors.WithLabelValues(evt.Base).Inc()
		n.logger.Error("Failed to publish change event", "base", evt.Base, "tx", evt.Transaction, "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(evt.Base).Inc()
}

// Close stops accepting events and waits until the queued ones are
// published or ctx ends. Later calls to Committed drop their events.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return n.publisher.Close()
}
