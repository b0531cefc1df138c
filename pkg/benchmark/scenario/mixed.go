// Package scenario generates the operations of a benchmark run.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/boxbase/boxbase/pkg/benchmark/client"
	"github.com/boxbase/boxbase/pkg/benchmark/generator"
	"github.com/boxbase/boxbase/pkg/benchmark/types"
)

// MixedScenario runs a weighted mix of inserts, updates, gets and queries
// against one base. Updates use the last revision the scenario saw, so
// concurrent workers updating the same box produce conflicts.
type MixedScenario struct {
	config *types.Config
	docs   *generator.DocumentGenerator
	ids    *generator.IDGenerator

	mu    sync.Mutex
	known []string
	revs  map[string]int64
}

// NewMixedScenario creates a new mixed scenario.
func NewMixedScenario(config *types.Config) (*MixedScenario, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.Mix.Total() <= 0 {
		return nil, errors.New("operation mix has no weight")
	}

	docs, err := generator.NewDocumentGenerator(config.Data.FieldsCount, config.Data.DocumentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create document generator: %w", err)
	}

	return &MixedScenario{
		config: config,
		docs:   docs,
		ids:    generator.NewIDGenerator(fmt.Sprintf("bench-%d-", time.Now().Unix())),
		revs:   make(map[string]int64),
	}, nil
}

func (s *MixedScenario) Name() string {
	return "mixed"
}

// Setup inserts the seed boxes in batches.
func (s *MixedScenario) Setup(ctx context.Context, c types.Client) error {
	remaining := s.config.Data.SeedData
	for remaining > 0 {
		n := min(remaining, s.batchSize())
		op := s.newInsert(n)
		if res := op.Execute(ctx, c); !res.Success {
			return fmt.Errorf("failed to seed data: %w", res.Error)
		}
		remaining -= n
	}
	return nil
}

// NextOperation picks an operation by weight. Updates and gets fall back
// to inserts until a box is known.
func (s *MixedScenario) NextOperation() (types.Operation, error) {
	mix := s.config.Mix
	pick := rand.IntN(mix.Total())

	switch {
	case pick < mix.Insert:
		return s.newInsert(s.batchSize()), nil
	case pick < mix.Insert+mix.Update:
		if op := s.newUpdate(); op != nil {
			return op, nil
		}
	case pick < mix.Insert+mix.Update+mix.Get:
		if op := s.newGet(); op != nil {
			return op, nil
		}
	default:
		return &queryOperation{
			scenario:  s,
			templates: []types.Box{{"title": generator.Words[rand.IntN(len(generator.Words))]}},
		}, nil
	}
	return s.newInsert(s.batchSize()), nil
}

// Known returns the number of boxes the scenario has written.
func (s *MixedScenario) Known() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.known)
}

func (s *MixedScenario) batchSize() int {
	return max(s.config.Data.BatchSize, 1)
}

func (s *MixedScenario) newInsert(n int) *writeOperation {
	boxes := make(map[string]types.Box, n)
	for range n {
		id := s.ids.Next()
		box := s.docs.Generate(id)
		box["_rev"] = 0
		boxes[id] = box
	}
	return &writeOperation{scenario: s, opType: types.OpInsert, boxes: boxes}
}

func (s *MixedScenario) newUpdate() *writeOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.known) == 0 {
		return nil
	}
	id := s.known[rand.IntN(len(s.known))]
	box := s.docs.Generate(id)
	box["_rev"] = s.revs[id]
	return &writeOperation{scenario: s, opType: types.OpUpdate, boxes: map[string]types.Box{id: box}}
}

func (s *MixedScenario) newGet() *getOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.known) == 0 {
		return nil
	}
	return &getOperation{scenario: s, ids: []string{s.known[rand.IntN(len(s.known))]}}
}

// observe records revisions returned by the server. Older revisions never
// replace newer ones.
func (s *MixedScenario) observe(revs map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rev := range revs {
		cur, ok := s.revs[id]
		if !ok {
			s.known = append(s.known, id)
		}
		if rev > cur {
			s.revs[id] = rev
		}
	}
}

func (s *MixedScenario) base() string {
	return s.config.Data.Base
}

// measure runs fn and fills in timing and status.
func measure(opType string, fn func() error) *types.OperationResult {
	res := &types.OperationResult{OperationType: opType, StartTime: time.Now()}
	err := fn()
	res.Duration = time.Since(res.StartTime)
	if err == nil {
		res.Success = true
		res.StatusCode = 200
		return res
	}
	res.Error = err
	res.Conflict = client.IsConflict(err)
	if httpErr, ok := client.GetHTTPError(err); ok {
		res.StatusCode = httpErr.StatusCode
	}
	return res
}

type writeOperation struct {
	scenario *MixedScenario
	opType   string
	boxes    map[string]types.Box
}

func (o *writeOperation) Type() string { return o.opType }

func (o *writeOperation) Execute(ctx context.Context, c types.Client) *types.OperationResult {
	return measure(o.opType, func() error {
		revs, err := c.Write(ctx, o.scenario.base(), o.boxes)
		if err != nil {
			return err
		}
		o.scenario.observe(revs)
		return nil
	})
}

type getOperation struct {
	scenario *MixedScenario
	ids      []string
}

func (o *getOperation) Type() string { return types.OpGet }

func (o *getOperation) Execute(ctx context.Context, c types.Client) *types.OperationResult {
	return measure(types.OpGet, func() error {
		boxes, err := c.Get(ctx, o.scenario.base(), o.ids)
		if err != nil {
			return err
		}
		if len(boxes) != len(o.ids) {
			return fmt.Errorf("get returned %d boxes for %d ids", len(boxes), len(o.ids))
		}
		return nil
	})
}

type queryOperation struct {
	scenario  *MixedScenario
	templates []types.Box
}

func (o *queryOperation) Type() string { return types.OpQuery }

func (o *queryOperation) Execute(ctx context.Context, c types.Client) *types.OperationResult {
	return measure(types.OpQuery, func() error {
		_, err := c.Query(ctx, o.scenario.base(), o.templates)
		return err
	})
}
