package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boxbase/boxbase/internal/events"
)

type publisher struct {
	broker *broker
	opts   events.PublisherOptions
	closed atomic.Bool
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.closed.Load() {
		return ErrEngineClosed
	}

	start := time.Now()
	fullSubject := subject
	if p.opts.SubjectPrefix != "" {
		fullSubject = p.opts.SubjectPrefix + "." + subject
	}

	err := p.broker.publish(ctx, fullSubject, data)
	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	return err
}

func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}

type consumer struct {
	engine *Engine
	opts   events.ConsumerOptions
}

func (c *consumer) Subscribe(ctx context.Context) (<-chan events.Message, error) {
	if c.engine.IsClosed() {
		return nil, ErrEngineClosed
	}

	pattern := c.opts.FilterSubject
	if pattern == "" {
		pattern = ">"
		if c.opts.StreamName != "" {
			pattern = c.opts.StreamName + ".>"
		}
	}

	bufSize := c.opts.ChannelBufSize
	if bufSize <= 0 {
		bufSize = events.DefaultConsumerOptions().ChannelBufSize
	}

	msgCh, unsubscribe, err := c.engine.broker.subscribe(ctx, pattern, bufSize)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return msgCh, nil
}

type message struct {
	broker    *broker
	sub       *subscription
	data      []byte
	subject   string
	timestamp time.Time

	mu           sync.Mutex
	numDelivered uint64
	settled      bool
}

func (m *message) Data() []byte    { return m.data }
func (m *message) Subject() string { return m.subject }

func (m *message) Ack() error {
	m.settle()
	return nil
}

func (m *message) Term() error {
	m.settle()
	return nil
}

// Nak requeues the message. It is dropped when the subscription buffer
// is full.
func (m *message) Nak() error {
	m.mu.Lock()
	if m.settled {
		m.mu.Unlock()
		return nil
	}
	m.numDelivered++
	m.mu.Unlock()

	m.broker.redeliver(m)
	return nil
}

func (m *message) settle() {
	m.mu.Lock()
	m.settled = true
	m.mu.Unlock()
}

func (m *message) Metadata() (events.MessageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return events.MessageMetadata{
		NumDelivered: m.numDelivered,
		Timestamp:    m.timestamp,
		Subject:      m.subject,
	}, nil
}
