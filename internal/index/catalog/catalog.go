// Package catalog shares open base indexes between the writer of a base and
// its readers.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/internal/index/pebblestore"
	"github.com/boxbase/boxbase/pkg/model"
)

const indexDir = "index"

// Catalog opens base indexes under a data directory and keeps each open
// while at least one handle to it is live.
type Catalog struct {
	dataDir string
	cfg     pebblestore.Config
	logger  *slog.Logger

	mu     sync.Mutex
	open   map[string]*entry
	closed bool
}

type entry struct {
	store *pebblestore.Store
	refs  int
}

// New returns a catalog rooted at dataDir.
func New(dataDir string, cfg pebblestore.Config, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Logger = logger
	return &Catalog{
		dataDir: dataDir,
		cfg:     cfg,
		logger:  logger.With("component", "catalog"),
		open:    make(map[string]*entry),
	}
}

// Dir returns the directory of a base.
func (c *Catalog) Dir(base string) string {
	return filepath.Join(c.dataDir, base)
}

// Exists reports whether the base has been created.
func (c *Catalog) Exists(base string) bool {
	if !model.CheckBase(base) {
		return false
	}
	info, err := os.Stat(filepath.Join(c.Dir(base), indexDir))
	return err == nil && info.IsDir()
}

// Bases lists the bases found in the data directory.
func (c *Catalog) Bases() ([]string, error) {
	entries, err := os.ReadDir(c.dataDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var bases []string
	for _, e := range entries {
		if e.IsDir() && c.Exists(e.Name()) {
			bases = append(bases, e.Name())
		}
	}
	slices.Sort(bases)
	return bases, nil
}

// Acquire returns a handle to the index of base, creating it if needed.
// Closing the handle releases it; the index closes with its last handle.
func (c *Catalog) Acquire(base string) (index.Index, error) {
	if !model.CheckBase(base) {
		return nil, &model.ValidationError{Field: "base", Message: fmt.Sprintf("invalid base name %q", base)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, index.ErrClosed
	}

	e, ok := c.open[base]
	if !ok {
		store, err := pebblestore.Open(filepath.Join(c.Dir(base), indexDir), c.cfg)
		if err != nil {
			return nil, &model.StorageError{Op: "open index", Err: err}
		}
		e = &entry{store: store}
		c.open[base] = e
		c.logger.Debug("Opened index", "base", base)
	}
	e.refs++
	return &handle{Store: e.store, release: func() error { return c.release(base) }}, nil
}

func (c *Catalog) release(base string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.open[base]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(c.open, base)
	c.logger.Debug("Closing index", "base", base)
	return e.store.Close()
}

// Close closes every open index regardless of outstanding handles.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	var errs []error
	for base, e := range c.open {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", base, err))
		}
		delete(c.open, base)
	}
	return errors.Join(errs...)
}

// handle is an Index whose Close releases one catalog reference.
type handle struct {
	*pebblestore.Store
	once    sync.Once
	release func() error
}

func (h *handle) Close() error {
	var err error
	h.once.Do(func() { err = h.release() })
	return err
}
