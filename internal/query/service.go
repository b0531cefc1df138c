package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/pkg/model"
)

// DefaultCount is the page size used when a request does not set one.
const DefaultCount = 20

// IndexProvider hands out shared base indexes.
type IndexProvider interface {
	Exists(base string) bool
	Acquire(base string) (index.Index, error)
}

// Request is one named query.
type Request struct {
	Templates []Template `json:"_templates"`
	Offset    int        `json:"_offset"`
	Count     *int       `json:"_count,omitempty"`
}

// Result is the page returned for one named query.
type Result struct {
	Total int              `json:"_total"`
	Count int              `json:"_count"`
	Data  []model.Document `json:"_data"`
}

// Service runs reads against fresh snapshots of a base.
type Service struct {
	indexes  IndexProvider
	compiler *Compiler
	logger   *slog.Logger
}

func NewService(indexes IndexProvider, compiler *Compiler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		indexes:  indexes,
		compiler: compiler,
		logger:   logger.With("component", "query"),
	}
}

// Query runs every named request against one snapshot. Names starting with
// an underscore are reserved and skipped.
func (s *Service) Query(ctx context.Context, base string, reqs map[string]Request) (map[string]*Result, error) {
	if len(reqs) == 0 {
		return nil, &model.ValidationError{Message: "no named queries"}
	}

	type compiled struct {
		q             index.Query
		offset, count int
	}
	plans := make(map[string]compiled, len(reqs))
	for name, req := range reqs {
		if strings.HasPrefix(name, "_") {
			continue
		}
		q, err := s.compiler.Compile(req.Templates)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", name, err)
		}
		count := DefaultCount
		if req.Count != nil {
			count = *req.Count
		}
		if req.Offset < 0 || count < 0 {
			return nil, &model.ValidationError{Field: name, Message: "_offset and _count must not be negative"}
		}
		plans[name] = compiled{q: q, offset: req.Offset, count: count}
	}

	results := make(map[string]*Result, len(plans))
	err := s.withSnapshot(base, func(snap index.Snapshot) error {
		for name, p := range plans {
			if err := ctx.Err(); err != nil {
				return model.WrapError(err)
			}
			hits, err := snap.Search(p.q, p.offset, p.count)
			if err != nil {
				return &model.StorageError{Op: "search", Err: err}
			}
			docs, err := decodeAll(hits.Documents)
			if err != nil {
				return err
			}
			results[name] = &Result{Total: hits.Total, Count: len(docs), Data: docs}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for name := range plans {
		if _, ok := results[name]; !ok {
			results[name] = &Result{Data: []model.Document{}}
		}
	}
	return results, nil
}

// Count returns the number of matches of every named template list.
func (s *Service) Count(ctx context.Context, base string, reqs map[string][]Template) (map[string]int, error) {
	if len(reqs) == 0 {
		return nil, &model.ValidationError{Message: "no named queries"}
	}

	plans := make(map[string]index.Query, len(reqs))
	for name, templates := range reqs {
		if strings.HasPrefix(name, "_") {
			continue
		}
		q, err := s.compiler.Compile(templates)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", name, err)
		}
		plans[name] = q
	}

	counts := make(map[string]int, len(plans))
	for name := range plans {
		counts[name] = 0
	}
	err := s.withSnapshot(base, func(snap index.Snapshot) error {
		for name, q := range plans {
			if err := ctx.Err(); err != nil {
				return model.WrapError(err)
			}
			n, err := snap.Count(q)
			if err != nil {
				return &model.StorageError{Op: "count", Err: err}
			}
			counts[name] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Get returns the documents with the given ids in order. Missing documents
// are returned as empty objects.
func (s *Service) Get(ctx context.Context, base string, ids []string) ([]model.Document, error) {
	if len(ids) == 0 {
		return nil, &model.ValidationError{Field: model.FieldID, Message: "no ids"}
	}

	docs := make([]model.Document, len(ids))
	for i := range docs {
		docs[i] = model.Document{}
	}
	err := s.withSnapshot(base, func(snap index.Snapshot) error {
		for i, id := range ids {
			if err := ctx.Err(); err != nil {
				return model.WrapError(err)
			}
			stored, err := snap.LookupID(id)
			if err != nil {
				return &model.StorageError{Op: "lookup", Err: err}
			}
			if len(stored) == 0 {
				continue
			}
			if len(stored) > 1 {
				s.logger.Warn("Duplicate documents for id", "base", base, "id", id, "count", len(stored))
			}
			doc, err := stored[0].Document()
			if err != nil {
				return &model.StorageError{Op: "decode", Err: err}
			}
			docs[i] = doc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// withSnapshot runs fn against a fresh snapshot of base. Bases that were
// never written are empty and fn is not called.
func (s *Service) withSnapshot(base string, fn func(index.Snapshot) error) error {
	if !model.CheckBase(base) {
		return &model.ValidationError{Field: "base", Message: fmt.Sprintf("invalid base name %q", base)}
	}
	if !s.indexes.Exists(base) {
		return nil
	}

	idx, err := s.indexes.Acquire(base)
	if err != nil {
		return err
	}
	defer idx.Close()

	snap, err := idx.OpenSnapshot()
	if err != nil {
		return &model.StorageError{Op: "open snapshot", Err: err}
	}
	defer snap.Close()

	return fn(snap)
}

func decodeAll(stored []*index.StoredDocument) ([]model.Document, error) {
	docs := make([]model.Document, 0, len(stored))
	for _, sd := range stored {
		doc, err := sd.Document()
		if err != nil {
			return nil, &model.StorageError{Op: "decode", Err: err}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
