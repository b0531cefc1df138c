package services

import (
	"context"
	"fmt"
)

// Start binds the listener, starts the change feed and serves HTTP in the
// background until Shutdown.
func (m *Manager) Start(bgCtx context.Context) error {
	if m.feed != nil {
		feedCtx, cancel := context.WithCancel(bgCtx)
		if err := m.feed.Start(feedCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start change feed: %w", err)
		}
		m.feedCancel = cancel
	}

	if err := m.server.Listen(); err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Start(bgCtx); err != nil {
			m.logger.Error("HTTP server stopped", "error", err)
			select {
			case m.errs <- err:
			default:
			}
		}
	}()
	return nil
}
