// Package writer serializes write transactions per base and applies them
// atomically with optimistic revision checks.
package writer

import (
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/boxbase/boxbase/pkg/model"
)

// Op is the kind of a Change.
type Op int

const (
	OpUpsert Op = iota
	OpDelete
)

func (o Op) String() string {
	if o == OpDelete {
		return "delete"
	}
	return "upsert"
}

// Change is one document operation. Expected is the revision the caller
// believes is current; 0 means the document must not exist.
type Change struct {
	Op       Op
	ID       string
	Expected int64
	Doc      model.Document
}

// Upsert returns a change that stores doc under id.
func Upsert(id string, expected int64, doc model.Document) Change {
	return Change{Op: OpUpsert, ID: id, Expected: expected, Doc: doc}
}

// Delete returns a change that removes id.
func Delete(id string, expected int64) Change {
	return Change{Op: OpDelete, ID: id, Expected: expected}
}

// Transaction is an all-or-nothing set of changes against one base. It is
// not modified after submission.
type Transaction struct {
	ID      uint64
	Base    string
	Changes []Change
}

var sequence atomic.Uint64

// NewTransaction validates changes and assigns the next transaction id.
func NewTransaction(base string, changes []Change) (*Transaction, error) {
	if !model.CheckBase(base) {
		return nil, &model.ValidationError{Field: "base", Message: fmt.Sprintf("invalid base name %q", base)}
	}
	if len(changes) == 0 {
		return nil, &model.ValidationError{Message: "transaction has no changes"}
	}

	seen := make(map[string]struct{}, len(changes))
	for _, ch := range changes {
		if err := validateChange(ch); err != nil {
			return nil, err
		}
		if _, dup := seen[ch.ID]; dup {
			return nil, &model.ValidationError{Field: ch.ID, Message: "document appears twice in one transaction"}
		}
		seen[ch.ID] = struct{}{}
	}

	return &Transaction{
		ID:      sequence.Add(1),
		Base:    base,
		Changes: slices.Clone(changes),
	}, nil
}

func validateChange(ch Change) error {
	if !model.CheckID(ch.ID) {
		return &model.ValidationError{Field: model.FieldID, Message: fmt.Sprintf("invalid document id %q", ch.ID)}
	}
	if ch.Expected < 0 {
		return &model.ValidationError{Field: ch.ID, Message: "expected revision must not be negative"}
	}
	if ch.Op != OpUpsert {
		return nil
	}
	if ch.Doc == nil {
		return &model.ValidationError{Field: ch.ID, Message: "upsert without document"}
	}
	if id, ok := ch.Doc[model.FieldID]; ok && id != ch.ID {
		return &model.ValidationError{Field: model.FieldID, Message: fmt.Sprintf("document id %v does not match %q", id, ch.ID)}
	}
	if _, err := ch.Doc.IndexFields(); err != nil {
		return err
	}
	return nil
}

// ChangesFromDocuments converts a write request, a map from id to box, into
// changes. Every box must repeat its id in "_id" and carry "_rev"; a box with
// "_deleted" set to true is a delete.
func ChangesFromDocuments(docs map[string]model.Document) ([]Change, error) {
	changes := make([]Change, 0, len(docs))
	for _, id := range slices.Sorted(maps.Keys(docs)) {
		doc := docs[id]
		if doc == nil {
			return nil, &model.ValidationError{Field: id, Message: "box must be an object"}
		}
		if doc.ID() != id {
			return nil, &model.ValidationError{Field: model.FieldID, Message: fmt.Sprintf("box %q must carry a matching _id", id)}
		}
		rev, err := doc.Revision()
		if err != nil {
			return nil, fmt.Errorf("box %q: %w", id, err)
		}
		if doc.IsDeleted() {
			changes = append(changes, Delete(id, rev))
			continue
		}
		changes = append(changes, Upsert(id, rev, doc))
	}
	return changes, nil
}
