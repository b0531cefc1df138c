// Package services assembles the store from its parts and runs it.
package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/boxbase/boxbase/internal/config"
	"github.com/boxbase/boxbase/internal/events"
	"github.com/boxbase/boxbase/internal/index/catalog"
	"github.com/boxbase/boxbase/internal/query"
	"github.com/boxbase/boxbase/internal/server"
	"github.com/boxbase/boxbase/internal/writer"
)

type Options struct {
	// ListenHost overrides server.host when set.
	ListenHost string

	// DisableChanges turns off the change feed and the _changes route.
	// Commits are still published.
	DisableChanges bool
}

type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	catalog    *catalog.Catalog
	provider   events.Provider
	notifier   *events.Notifier
	feed       *events.Feed
	feedCancel context.CancelFunc
	writer     *writer.Service
	query      *query.Service
	server     *server.Server

	wg   sync.WaitGroup
	errs chan error
}

func NewManager(cfg *config.Config, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		errs:   make(chan error, 1),
	}
}

// Server returns the HTTP server, nil before Init.
func (m *Manager) Server() *server.Server {
	return m.server
}

// Writer returns the write service, nil before Init.
func (m *Manager) Writer() *writer.Service {
	return m.writer
}

// Errors reports a server that stopped on its own.
func (m *Manager) Errors() <-chan error {
	return m.errs
}
