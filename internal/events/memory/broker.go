package memory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boxbase/boxbase/internal/events"
)

type broker struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	closed        atomic.Bool
}

type subscription struct {
	pattern string
	msgCh   chan events.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

func newBroker() *broker {
	return &broker{subscriptions: make(map[string]*subscription)}
}

// publish delivers a message to every matching subscription, waiting for
// buffer space.
func (b *broker) publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrEngineClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for pattern, sub := range b.subscriptions {
		if !matchSubject(pattern, subject) {
			continue
		}
		msg := &message{
			broker:       b,
			sub:          sub,
			data:         data,
			subject:      subject,
			timestamp:    time.Now(),
			numDelivered: 1,
		}
		select {
		case sub.msgCh <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.ctx.Done():
		}
	}
	return nil
}

// redeliver requeues msg without blocking while its subscription is live.
func (b *broker) redeliver(msg *message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.subscriptions[msg.sub.pattern] != msg.sub {
		return
	}
	select {
	case msg.sub.msgCh <- msg:
	default:
	}
}

func (b *broker) subscribe(ctx context.Context, pattern string, bufSize int) (<-chan events.Message, func(), error) {
	if b.closed.Load() {
		return nil, nil, ErrEngineClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscriptions[pattern] != nil {
		return nil, nil, ErrPatternSubscribed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		pattern: pattern,
		msgCh:   make(chan events.Message, bufSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.subscriptions[pattern] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.subscriptions[pattern] == sub {
			delete(b.subscriptions, pattern)
			cancel()
			close(sub.msgCh)
		}
	}
	return sub.msgCh, unsubscribe, nil
}

func (b *broker) close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscriptions {
		sub.cancel()
		close(sub.msgCh)
	}
	b.subscriptions = make(map[string]*subscription)
}

// matchSubject reports whether subject matches a NATS style pattern: "*"
// matches one token, a trailing ">" one or more.
func matchSubject(pattern, subject string) bool {
	if pattern == "" || subject == "" {
		return false
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	for i, p := range patternParts {
		if p == ">" {
			return i < len(subjectParts)
		}
		if i >= len(subjectParts) {
			return false
		}
		if p != "*" && p != subjectParts[i] {
			return false
		}
	}
	return len(patternParts) == len(subjectParts)
}
