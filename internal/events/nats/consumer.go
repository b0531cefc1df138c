package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/boxbase/boxbase/internal/events"
)

type consumer struct {
	js     JetStream
	opts   events.ConsumerOptions
	logger *slog.Logger
}

// NewConsumer creates a consumer on the stream named in opts. Without a
// ConsumerName the consumer is ephemeral and only sees new messages.
func NewConsumer(js JetStream, opts events.ConsumerOptions, logger *slog.Logger) (events.Consumer, error) {
	if js == nil {
		return nil, errors.New("jetstream cannot be nil")
	}
	if opts.StreamName == "" {
		return nil, errors.New("stream name is required")
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = events.DefaultConsumerOptions().ChannelBufSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &consumer{js: js, opts: opts, logger: logger}, nil
}

func (c *consumer) Subscribe(ctx context.Context) (<-chan events.Message, error) {
	filterSubject := c.opts.FilterSubject
	if filterSubject == "" {
		filterSubject = c.opts.StreamName + ".>"
	}

	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.opts.StreamName,
		Subjects: []string{filterSubject},
		Storage:  storageType(c.opts.Storage),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	cfg := jetstream.ConsumerConfig{
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: filterSubject,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if c.opts.ConsumerName != "" {
		cfg.Durable = c.opts.ConsumerName
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	var (
		mu     sync.RWMutex
		closed bool
		msgCh  = make(chan events.Message, c.opts.ChannelBufSize)
	)

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			_ = msg.Nak()
			return
		}
		select {
		case msgCh <- WrapMessage(msg):
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		close(msgCh)
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	c.logger.Info("Consumer subscribed", "stream", c.opts.StreamName, "filter", filterSubject)

	go func() {
		<-ctx.Done()
		cc.Stop()
		mu.Lock()
		closed = true
		close(msgCh)
		mu.Unlock()
		c.logger.Info("Consumer stopped", "stream", c.opts.StreamName)
	}()

	return msgCh, nil
}
