package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

const listenerBuffer = 64

type listener struct {
	ch chan ChangeEvent
}

// Feed consumes change events and fans them out to per-base listeners.
// A listener that does not keep up loses events.
type Feed struct {
	consumer Consumer
	logger   *slog.Logger

	mu        sync.RWMutex
	listeners map[string]map[*listener]struct{}
	closed    bool
}

// NewFeed creates a Feed reading from consumer. Call Run to start it.
func NewFeed(consumer Consumer, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		consumer:  consumer,
		logger:    logger.With("component", "events-feed"),
		listeners: make(map[string]map[*listener]struct{}),
	}
}

// Start subscribes to the consumer and dispatches events until ctx ends.
// Every listener channel is closed when the feed stops.
func (f *Feed) Start(ctx context.Context) error {
	msgs, err := f.consumer.Subscribe(ctx)
	if err != nil {
		return err
	}
	go f.run(msgs)
	return nil
}

func (f *Feed) run(msgs <-chan Message) {
	defer f.close()
	for msg := range msgs {
		var evt ChangeEvent
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			f.logger.Warn("Dropping malformed change event", "subject", msg.Subject(), "error", err)
			_ = msg.Term()
			continue
		}
		f.dispatch(evt)
		_ = msg.Ack()
	}
}

func (f *Feed) dispatch(evt ChangeEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for l := range f.listeners[evt.Base] {
		select {
		case l.ch <- evt:
		default:
			f.logger.Warn("Change listener is slow, dropping event", "base", evt.Base, "tx", evt.Transaction)
		}
	}
}

// Subscribe registers a listener for the events of base. The returned
// function unregisters it and closes the channel.
func (f *Feed) Subscribe(base string) (<-chan ChangeEvent, func()) {
	l := &listener{ch: make(chan ChangeEvent, listenerBuffer)}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(l.ch)
		return l.ch, func() {}
	}
	if f.listeners[base] == nil {
		f.listeners[base] = make(map[*listener]struct{})
	}
	f.listeners[base][l] = struct{}{}

	var once sync.Once
	return l.ch, func() {
		once.Do(func() { f.remove(base, l) })
	}
}

func (f *Feed) remove(base string, l *listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.listeners[base]
	if !ok {
		return
	}
	if _, ok := set[l]; !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(f.listeners, base)
	}
	close(l.ch)
}

// Listeners returns the number of listeners registered for base.
func (f *Feed) Listeners(base string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners[base])
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for _, set := range f.listeners {
		for l := range set {
			close(l.ch)
		}
	}
	f.listeners = make(map[string]map[*listener]struct{})
}
