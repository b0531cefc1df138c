// Package nats implements the events provider on NATS JetStream.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/boxbase/boxbase/internal/events"
)

// ErrNotConnected is returned by a provider used before Connect.
var ErrNotConnected = errors.New("NATS not connected, call Connect first")

// JetStream is the subset of jetstream.JetStream the provider uses.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

var (
	_ events.Provider    = (*Provider)(nil)
	_ events.Connectable = (*Provider)(nil)
)

// Provider manages a NATS connection and creates JetStream publishers and
// consumers on it.
type Provider struct {
	url    string
	logger *slog.Logger

	mu sync.Mutex
	nc *nats.Conn
	js JetStream
}

// NewProvider creates a provider for the server at url. Call Connect
// before use.
func NewProvider(url string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{url: url, logger: logger.With("component", "nats")}
}

// NewProviderWithJetStream creates a connected provider on an existing
// JetStream handle.
func NewProviderWithJetStream(js JetStream, logger *slog.Logger) *Provider {
	p := NewProvider("", logger)
	p.js = js
	return p
}

// Connect establishes the NATS connection and initializes JetStream.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.js != nil {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	opts := []nats.Option{nats.Name("boxbase")}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}
	nc, err := nats.Connect(p.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream: %w", err)
	}
	p.nc, p.js = nc, js

	p.logger.Info("Connected to NATS", "url", p.url)
	return nil
}

func (p *Provider) jetStream() (JetStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.js == nil {
		return nil, ErrNotConnected
	}
	return p.js, nil
}

func (p *Provider) NewPublisher(opts events.PublisherOptions) (events.Publisher, error) {
	js, err := p.jetStream()
	if err != nil {
		return nil, err
	}
	return NewPublisher(js, opts)
}

func (p *Provider) NewConsumer(opts events.ConsumerOptions) (events.Consumer, error) {
	js, err := p.jetStream()
	if err != nil {
		return nil, err
	}
	return NewConsumer(js, opts, p.logger)
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nc != nil {
		p.logger.Info("Closing NATS connection")
		p.nc.Close()
		p.nc = nil
	}
	p.js = nil
	return nil
}

func storageType(t events.StorageType) jetstream.StorageType {
	if t == events.FileStorage {
		return jetstream.FileStorage
	}
	return jetstream.MemoryStorage
}
