package writer

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"github.com/boxbase/boxbase/internal/registry"
	"github.com/boxbase/boxbase/pkg/model"
)

const maxSubmitAttempts = 3

// Config tunes the write pipeline.
type Config struct {
	// ApplyConcurrency bounds the changes of one transaction applied at once.
	ApplyConcurrency int `yaml:"apply_concurrency"`
	// InboxSize is the buffer of each coordinator mailbox.
	InboxSize int `yaml:"inbox_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ApplyConcurrency: runtime.GOMAXPROCS(0),
		InboxSize:        256,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.ApplyConcurrency <= 0 {
		c.ApplyConcurrency = defaults.ApplyConcurrency
	}
	if c.InboxSize <= 0 {
		c.InboxSize = defaults.InboxSize
	}
}

// Service routes transactions to the coordinator of their base, starting
// coordinators on demand.
type Service struct {
	indexes  IndexProvider
	registry *registry.Registry[*Coordinator]
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	// mu guards closed; coordinators start under the read lock so none
	// appears once Close has taken the write lock.
	mu     sync.RWMutex
	closed bool
}

// NewService returns a Service. notifier may be nil.
func NewService(indexes IndexProvider, cfg Config, notifier Notifier, logger *slog.Logger) *Service {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		indexes:  indexes,
		registry: registry.New[*Coordinator](),
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "writer"),
	}
}

// Submit applies tx and returns the assigned revisions. A rejected
// transaction returns a *model.ConflictError, a validation error or a
// *model.StorageError and leaves the base unchanged, except for a
// StorageError with Unknown set.
func (s *Service) Submit(ctx context.Context, tx *Transaction) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(err)
	}
	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		c, err := s.coordinator(tx.Base)
		if err != nil {
			return nil, err
		}
		res, err := c.Submit(ctx, tx)
		if errors.Is(err, model.ErrCoordinatorClosed) {
			// The transaction was never dispatched; route it to a fresh
			// coordinator.
			s.logger.Debug("Coordinator closed before dispatch, retrying", "base", tx.Base, "tx", tx.ID)
			continue
		}
		return res, err
	}
	return nil, model.ErrCoordinatorClosed
}

// coordinator returns the live coordinator of base, starting one if needed.
// It returns ErrCoordinatorClosed once the service is closed.
func (s *Service) coordinator(base string) (*Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, model.ErrCoordinatorClosed
	}
	for {
		if c, ok := s.registry.Lookup(base); ok {
			return c, nil
		}
		c := newCoordinator(base, s)
		err := c.start()
		if errors.Is(err, errLostClaim) {
			continue
		}
		if err != nil {
			s.logger.Error("Failed to start base coordinator", "base", base, "error", err)
			return nil, err
		}
		return c, nil
	}
}

// Coordinator returns the live coordinator of base, if any.
func (s *Service) Coordinator(base string) (*Coordinator, bool) {
	return s.registry.Lookup(base)
}

// Bases lists the bases with a live coordinator.
func (s *Service) Bases() []string {
	return s.registry.Names()
}

// Close rejects further transactions, stops every coordinator and waits
// for them until ctx ends. On timeout the coordinators may still be
// committing, so the indexes and the notifier must stay open.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var running []*Coordinator
	for _, name := range s.registry.Names() {
		if c, ok := s.registry.Lookup(name); ok {
			c.Stop()
			running = append(running, c)
		}
	}
	for _, c := range running {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
