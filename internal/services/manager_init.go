package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/boxbase/boxbase/internal/config"
	"github.com/boxbase/boxbase/internal/events"
	"github.com/boxbase/boxbase/internal/events/memory"
	natsevents "github.com/boxbase/boxbase/internal/events/nats"
	"github.com/boxbase/boxbase/internal/gateway/rest"
	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/internal/index/catalog"
	"github.com/boxbase/boxbase/internal/index/pebblestore"
	"github.com/boxbase/boxbase/internal/query"
	"github.com/boxbase/boxbase/internal/server"
	"github.com/boxbase/boxbase/internal/writer"
)

const publishRetryAttempts = 3

// eventsProviderFactory is replaced in tests.
var eventsProviderFactory = func(cfg config.EventsConfig, logger *slog.Logger) events.Provider {
	if cfg.Provider == config.EventsProviderNATS {
		return natsevents.NewProvider(cfg.NATSURL, logger)
	}
	return memory.New()
}

// Init builds every component. On error the components built so far are
// released by Shutdown.
func (m *Manager) Init(ctx context.Context) error {
	if m.opts.ListenHost != "" {
		m.cfg.Server.Host = m.opts.ListenHost
	}

	analyzer := index.NewStandardAnalyzer()
	m.initCatalog(analyzer)

	if err := m.initEvents(ctx); err != nil {
		return err
	}

	m.writer = writer.NewService(m.catalog, writer.Config{
		ApplyConcurrency: m.cfg.Storage.ApplyConcurrency,
		InboxSize:        m.cfg.Storage.InboxSize,
	}, m.notifier, m.logger)
	m.query = query.NewService(m.catalog, query.NewCompiler(analyzer), m.logger)

	m.initServer()
	return nil
}

func (m *Manager) initCatalog(analyzer index.Analyzer) {
	storeCfg := pebblestore.DefaultConfig()
	storeCfg.BlockCacheSize = m.cfg.Storage.BlockCacheSize
	storeCfg.Analyzer = analyzer
	storeCfg.Logger = m.logger
	m.catalog = catalog.New(m.cfg.Storage.DataDir, storeCfg, m.logger)
	m.logger.Info("Opened data directory", "dir", m.cfg.Storage.DataDir)
}

func (m *Manager) initEvents(ctx context.Context) error {
	cfg := m.cfg.Events
	m.provider = eventsProviderFactory(cfg, m.logger)
	if c, ok := m.provider.(events.Connectable); ok {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect events provider: %w", err)
		}
	}

	storage := events.MemoryStorage
	if cfg.FileStorage {
		storage = events.FileStorage
	}

	pub, err := m.provider.NewPublisher(events.PublisherOptions{
		StreamName:    cfg.Stream,
		SubjectPrefix: cfg.SubjectPrefix,
		RetryAttempts: publishRetryAttempts,
		Storage:       storage,
	})
	if err != nil {
		return fmt.Errorf("failed to create change publisher: %w", err)
	}
	m.notifier = events.NewNotifier(pub, m.logger)

	if m.opts.DisableChanges {
		m.logger.Info("Change feed disabled")
		return nil
	}

	consOpts := events.DefaultConsumerOptions()
	consOpts.StreamName = cfg.Stream
	consOpts.FilterSubject = cfg.SubjectPrefix + ".>"
	consOpts.Storage = storage
	cons, err := m.provider.NewConsumer(consOpts)
	if err != nil {
		return fmt.Errorf("failed to create change consumer: %w", err)
	}
	m.feed = events.NewFeed(cons, m.logger)

	m.logger.Info("Initialized change events", "provider", cfg.Provider, "stream", cfg.Stream)
	return nil
}

func (m *Manager) initServer() {
	m.server = server.New(m.cfg.Server, m.logger)

	var feed rest.ChangeFeed
	if m.feed != nil {
		feed = m.feed
	}
	rest.NewHandler(m.writer, m.query, feed, m.logger).RegisterRoutes(m.server.HTTPMux())

	m.logger.Info("Initialized HTTP API", "port", m.cfg.Server.HTTPPort, "auth", m.cfg.Server.Auth.Enabled())
}
