package pebblestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/internal/index/internal/encoding"
)

type snapshot struct {
	store *Store

	mu     sync.Mutex
	snap   Snapshot
	closed bool
}

type idSet map[string]struct{}

func (s *snapshot) reader() (Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, index.ErrClosed
	}
	return s.snap, nil
}

func (s *snapshot) LookupID(id string) ([]*index.StoredDocument, error) {
	r, err := s.reader()
	if err != nil {
		return nil, err
	}
	doc, err := loadDoc(r, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return []*index.StoredDocument{doc}, nil
}

func (s *snapshot) LastRevision() (int64, error) {
	r, err := s.reader()
	if err != nil {
		return 0, err
	}
	value, closer, err := r.Get(encoding.LastRevisionKey())
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, fmt.Errorf("last revision: %w", encoding.ErrInvalidKey)
	}
	return int64(binary.BigEndian.Uint64(value)), nil
}

func (s *snapshot) Search(q index.Query, offset, limit int) (*index.Hits, error) {
	r, err := s.reader()
	if err != nil {
		return nil, err
	}
	set, err := s.store.eval(r, q)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	hits := &index.Hits{Total: len(ids)}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return hits, nil
	}
	ids = ids[offset:]
	if limit >= 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	hits.Documents = make([]*index.StoredDocument, 0, len(ids))
	for _, id := range ids {
		doc, err := loadDoc(r, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			s.store.logger.Warn("Posting without document", "id", id)
			continue
		}
		hits.Documents = append(hits.Documents, doc)
	}
	return hits, nil
}

func (s *snapshot) Count(q index.Query) (int, error) {
	r, err := s.reader()
	if err != nil {
		return 0, err
	}
	set, err := s.store.eval(r, q)
	if err != nil {
		return 0, err
	}
	return len(set), nil
}

func (s *snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.snap.Close()
}

func loadDoc(r Reader, id string) (*index.StoredDocument, error) {
	value, closer, err := r.Get(encoding.DocKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return decodeDocValue(id, value)
}

// eval resolves q to the set of matching document ids.
func (s *Store) eval(r Reader, q index.Query) (idSet, error) {
	switch q := q.(type) {
	case index.TermQuery:
		prefix := encoding.TermPrefix(q.Field, q.Term)
		return scan(r, prefix, func(key []byte) (string, error) {
			return string(key[len(prefix):]), nil
		})

	case index.PrefixQuery:
		return scan(r, encoding.RawPrefix(q.Field, q.Prefix), func(key []byte) (string, error) {
			return encoding.RawIDFromKey(q.Field, key)
		})

	case index.IntRangeQuery:
		if q.Min > q.Max {
			return idSet{}, nil
		}
		return scanRange(r, encoding.NumPrefix(q.Field, encoding.KindInt),
			encoding.EncodeInt64(q.Min), encoding.EncodeInt64(q.Max))

	case index.FloatRangeQuery:
		if math.IsNaN(q.Min) || math.IsNaN(q.Max) || q.Min > q.Max {
			return idSet{}, nil
		}
		return scanRange(r, encoding.NumPrefix(q.Field, encoding.KindFloat),
			encoding.EncodeFloat64(q.Min), encoding.EncodeFloat64(q.Max))

	case index.MatchAllQuery:
		return s.all(r)

	case index.MatchNoneQuery:
		return idSet{}, nil

	case index.BooleanQuery:
		return s.evalBoolean(r, q)

	default:
		return nil, fmt.Errorf("unsupported query %T", q)
	}
}

func (s *Store) all(r Reader) (idSet, error) {
	return scan(r, encoding.DocPrefix(), func(key []byte) (string, error) {
		return encoding.DocIDFromKey(key), nil
	})
}

func (s *Store) evalBoolean(r Reader, q index.BooleanQuery) (idSet, error) {
	var (
		result     idSet
		haveMust   bool
		haveShould bool
		excluded   []idSet
	)

	for _, c := range q.Clauses {
		if c.Occur == index.Should && haveMust {
			continue
		}
		set, err := s.eval(r, c.Query)
		if err != nil {
			return nil, err
		}
		switch c.Occur {
		case index.Must:
			if !haveMust {
				// Should clauses seen so far do not restrict the result.
				haveMust = true
				result = set
				continue
			}
			for id := range result {
				if _, ok := set[id]; !ok {
					delete(result, id)
				}
			}
		case index.Should:
			haveShould = true
			if result == nil {
				result = set
				continue
			}
			for id := range set {
				result[id] = struct{}{}
			}
		case index.MustNot:
			excluded = append(excluded, set)
		}
	}

	if !haveMust && !haveShould {
		if len(excluded) == 0 {
			return idSet{}, nil
		}
		all, err := s.all(r)
		if err != nil {
			return nil, err
		}
		result = all
	}

	for _, set := range excluded {
		for id := range set {
			delete(result, id)
		}
	}
	return result, nil
}

func scan(r Reader, prefix []byte, idOf func(key []byte) (string, error)) (idSet, error) {
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: encoding.PrefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	set := idSet{}
	for valid := iter.First(); valid; valid = iter.Next() {
		id, err := idOf(iter.Key())
		if err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, iter.Error()
}

func scanRange(r Reader, prefix []byte, lo, hi uint64) (idSet, error) {
	lower := binary.BigEndian.AppendUint64(slices.Clone(prefix), lo)
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: encoding.PrefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	set := idSet{}
	for valid := iter.First(); valid; valid = iter.Next() {
		v, id, err := encoding.SplitNum(iter.Key()[len(prefix):])
		if err != nil {
			return nil, err
		}
		if v > hi {
			break
		}
		set[id] = struct{}{}
	}
	return set, iter.Error()
}
