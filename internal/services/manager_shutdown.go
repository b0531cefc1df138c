package services

import (
	"context"
)

// Shutdown stops accepting requests, drains the base coordinators and
// closes storage and the broker, in that order.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.server != nil {
		if err := m.server.Stop(ctx); err != nil {
			m.logger.Error("Error stopping HTTP server", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for HTTP server")
	}

	// Coordinators that outlive ctx still commit and notify, so their
	// indexes, the notifier and the broker are left to process exit.
	detached := false
	if m.writer != nil {
		m.logger.Info("Stopping base coordinators...")
		if err := m.writer.Close(ctx); err != nil {
			m.logger.Error("Error stopping base coordinators, leaving indexes and events open", "error", err)
			detached = true
		}
	}

	if detached {
		if m.feedCancel != nil {
			m.feedCancel()
		}
		return
	}

	// Pending change events go out before the feed and the broker stop.
	if m.notifier != nil {
		if err := m.notifier.Close(ctx); err != nil {
			m.logger.Error("Error closing change publisher", "error", err)
		}
	}
	if m.feedCancel != nil {
		m.feedCancel()
	}

	if m.catalog != nil {
		if err := m.catalog.Close(); err != nil {
			m.logger.Error("Error closing indexes", "error", err)
		}
	}

	if m.provider != nil {
		if err := m.provider.Close(); err != nil {
			m.logger.Error("Error closing events provider", "error", err)
		}
	}
	m.logger.Info("All services stopped")
}
