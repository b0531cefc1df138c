package rest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/boxbase/boxbase/internal/events"
	"github.com/boxbase/boxbase/internal/query"
	"github.com/boxbase/boxbase/internal/writer"
	"github.com/boxbase/boxbase/pkg/model"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) Submit(ctx context.Context, tx *writer.Transaction) (*writer.Result, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*writer.Result), args.Error(1)
}

type MockReader struct {
	mock.Mock
}

func (m *MockReader) Query(ctx context.Context, base string, reqs map[string]query.Request) (map[string]*query.Result, error) {
	args := m.Called(ctx, base, reqs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*query.Result), args.Error(1)
}

func (m *MockReader) Count(ctx context.Context, base string, reqs map[string][]query.Template) (map[string]int, error) {
	args := m.Called(ctx, base, reqs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *MockReader) Get(ctx context.Context, base string, ids []string) ([]model.Document, error) {
	args := m.Called(ctx, base, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Document), args.Error(1)
}

// fakeFeed hands out one channel per Subscribe call.
type fakeFeed struct {
	subscribed chan chan events.ChangeEvent
	stopped    chan string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		subscribed: make(chan chan events.ChangeEvent, 1),
		stopped:    make(chan string, 1),
	}
}

func (f *fakeFeed) Subscribe(base string) (<-chan events.ChangeEvent, func()) {
	ch := make(chan events.ChangeEvent, 8)
	f.subscribed <- ch
	return ch, func() { f.stopped <- base }
}
