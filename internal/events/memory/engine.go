// Package memory provides an in-process events broker for single-node
// deployments and tests.
package memory

import (
	"errors"

	"github.com/boxbase/boxbase/internal/events"
)

var (
	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrPatternSubscribed is returned when a pattern already has a subscriber.
	ErrPatternSubscribed = errors.New("pattern already has a subscriber")
)

var _ events.Provider = (*Engine)(nil)

// Engine routes messages between publishers and consumers of one process.
type Engine struct {
	broker *broker
}

// New creates an in-memory engine.
func New() *Engine {
	return &Engine{broker: newBroker()}
}

func (e *Engine) NewPublisher(opts events.PublisherOptions) (events.Publisher, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &publisher{broker: e.broker, opts: opts}, nil
}

func (e *Engine) NewConsumer(opts events.ConsumerOptions) (events.Consumer, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &consumer{engine: e, opts: opts}, nil
}

// Close shuts down the engine and closes every subscription.
func (e *Engine) Close() error {
	e.broker.close()
	return nil
}

func (e *Engine) IsClosed() bool {
	return e.broker.closed.Load()
}
