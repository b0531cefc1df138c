package writer

import (
	"time"

	"github.com/google/btree"
)

// pending is a submitted transaction waiting for its decision.
type pending struct {
	tx       *Transaction
	reply    chan reply
	enqueued time.Time
}

type reply struct {
	result *Result
	err    error
}

// queue orders waiting transactions by transaction id.
type queue struct {
	tree *btree.BTreeG[*pending]
}

func newQueue() *queue {
	return &queue{
		tree: btree.NewG[*pending](32, func(a, b *pending) bool {
			return a.tx.ID < b.tx.ID
		}),
	}
}

func (q *queue) push(p *pending) {
	q.tree.ReplaceOrInsert(p)
}

// pop removes the transaction with the lowest id.
func (q *queue) pop() (*pending, bool) {
	return q.tree.DeleteMin()
}

func (q *queue) len() int {
	return q.tree.Len()
}

// drain removes and returns every waiting transaction in order.
func (q *queue) drain() []*pending {
	out := make([]*pending, 0, q.tree.Len())
	for {
		p, ok := q.tree.DeleteMin()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}
