package writer

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/pkg/model"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeConflict
	outcomeError
)

// Outcome is the result of applying one change. Revision is the new
// revision on success and the current one on conflict.
type Outcome struct {
	ID       string
	Kind     outcomeKind
	Revision int64
	Deleted  bool
	Err      error
}

// Applier checks and stages the changes of one transaction. Changes may be
// applied concurrently; they share the writer, the snapshot and the
// revision counter.
type Applier struct {
	writer   index.Writer
	snapshot index.Snapshot
	counter  *atomic.Int64
	logger   *slog.Logger
}

func NewApplier(w index.Writer, snap index.Snapshot, counter *atomic.Int64, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{writer: w, snapshot: snap, counter: counter, logger: logger}
}

// Apply stages ch if its expected revision matches the snapshot.
func (a *Applier) Apply(ch Change) Outcome {
	stored, err := a.snapshot.LookupID(ch.ID)
	if err != nil {
		return failed(ch.ID, &model.StorageError{Op: "lookup", Err: err})
	}

	var current int64
	if len(stored) > 0 {
		if len(stored) > 1 {
			a.logger.Warn("Internal consistency: several documents share an id", "id", ch.ID, "count", len(stored))
		}
		current = stored[0].Revision
	}

	if ch.Expected != current {
		return Outcome{ID: ch.ID, Kind: outcomeConflict, Revision: current}
	}

	if ch.Op == OpDelete {
		if current == 0 {
			return Outcome{ID: ch.ID, Kind: outcomeSuccess, Deleted: true}
		}
		if err := a.writer.DeleteDocuments(ch.ID); err != nil {
			return failed(ch.ID, &model.StorageError{Op: "delete", Err: err})
		}
		return Outcome{ID: ch.ID, Kind: outcomeSuccess, Revision: current, Deleted: true}
	}

	fields, err := IndexedFields(ch.Doc)
	if err != nil {
		return failed(ch.ID, err)
	}

	rev := a.counter.Add(1)
	rec, err := buildRecord(ch.ID, rev, ch.Doc, fields)
	if err != nil {
		return failed(ch.ID, err)
	}

	if current > 0 {
		err = a.writer.UpdateDocument(ch.ID, rec)
	} else {
		err = a.writer.AddDocument(rec)
	}
	if err != nil {
		return failed(ch.ID, &model.StorageError{Op: "write", Err: err})
	}
	return Outcome{ID: ch.ID, Kind: outcomeSuccess, Revision: rev}
}

func failed(id string, err error) Outcome {
	return Outcome{ID: id, Kind: outcomeError, Err: err}
}

// IndexedFields types the fields listed in the document's "_index". Absent
// fields are skipped; nested maps, lists and nulls cannot be indexed.
func IndexedFields(doc model.Document) ([]index.Field, error) {
	names, err := doc.IndexFields()
	if err != nil {
		return nil, err
	}

	fields := make([]index.Field, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		v, ok := doc[name]
		if !ok {
			continue
		}
		switch kind := model.KindOf(v); kind {
		case model.KindInt:
			n, _ := model.AsInt(v)
			fields = append(fields, index.Field{Name: name, Type: index.FieldInt, Int: n})
		case model.KindFloat:
			f, _ := model.AsFloat(v)
			fields = append(fields, index.Field{Name: name, Type: index.FieldFloat, Float: f})
		case model.KindBool:
			term := "false"
			if v.(bool) {
				term = "true"
			}
			fields = append(fields, index.Field{Name: name, Type: index.FieldKeyword, Text: term})
		case model.KindString:
			fields = append(fields, index.Field{Name: name, Type: index.FieldText, Text: v.(string)})
		default:
			return nil, &model.FieldTypeError{Field: name, Kind: kind}
		}
	}
	return fields, nil
}

// buildRecord stores the document with its reserved fields set by the store.
func buildRecord(id string, rev int64, doc model.Document, fields []index.Field) (*index.Record, error) {
	stored := doc.Clone()
	stored[model.FieldID] = id
	stored[model.FieldRev] = rev
	delete(stored, model.FieldDeleted)

	body, err := json.Marshal(stored)
	if err != nil {
		return nil, &model.ValidationError{Field: id, Message: err.Error()}
	}
	return &index.Record{ID: id, Revision: rev, Body: body, Fields: fields}, nil
}
