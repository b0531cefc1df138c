package types

import (
	"context"
)

// Box is a document as sent to and returned by the server.
type Box = map[string]any

// Client talks to a boxbase server.
type Client interface {
	// Write submits one transaction and returns the new revisions.
	Write(ctx context.Context, base string, boxes map[string]Box) (map[string]int64, error)
	Get(ctx context.Context, base string, ids []string) ([]Box, error)
	// Query runs one named template query and returns the total hit count.
	Query(ctx context.Context, base string, templates []Box) (int, error)
	Close() error
}

// Scenario produces the operations of a benchmark run.
type Scenario interface {
	Name() string

	// Setup prepares scenario prerequisites such as seed data.
	Setup(ctx context.Context, client Client) error

	// NextOperation returns the next operation to execute. Safe for
	// concurrent use.
	NextOperation() (Operation, error)
}

// Operation is a single benchmark request.
type Operation interface {
	Type() string
	Execute(ctx context.Context, client Client) *OperationResult
}

// MetricsCollector aggregates operation results. Safe for concurrent use.
type MetricsCollector interface {
	RecordOperation(result *OperationResult)
	GetSnapshot() *AggregatedMetrics
	GetOperationMetrics() map[string]*AggregatedMetrics
	Reset()
}
