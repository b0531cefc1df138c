package index

import (
	"fmt"
	"strconv"
	"strings"
)

// Query is a compiled, immutable search query.
type Query interface {
	String() string
	query()
}

// Occur says how a clause takes part in a BooleanQuery.
type Occur int

const (
	// Must clauses all have to match.
	Must Occur = iota
	// Should clauses are alternatives; one has to match when there is no
	// Must clause.
	Should
	// MustNot clauses exclude documents.
	MustNot
)

func (o Occur) prefix() string {
	switch o {
	case Must:
		return "+"
	case MustNot:
		return "-"
	default:
		return ""
	}
}

// TermQuery matches documents with the exact term in field.
type TermQuery struct {
	Field string
	Term  string
}

// PrefixQuery matches documents whose whole normalized field value starts
// with Prefix.
type PrefixQuery struct {
	Field  string
	Prefix string
}

// IntRangeQuery matches integer field values in [Min, Max].
type IntRangeQuery struct {
	Field    string
	Min, Max int64
}

// FloatRangeQuery matches float field values in [Min, Max].
type FloatRangeQuery struct {
	Field    string
	Min, Max float64
}

// MatchAllQuery matches every document.
type MatchAllQuery struct{}

// MatchNoneQuery matches nothing.
type MatchNoneQuery struct{}

// Clause is one member of a BooleanQuery.
type Clause struct {
	Query Query
	Occur Occur
}

// BooleanQuery combines clauses. Must clauses intersect; without a Must
// clause at least one Should clause has to match; MustNot clauses subtract.
// A query made of MustNot clauses only matches every document not excluded.
// A query without clauses matches nothing.
type BooleanQuery struct {
	Clauses []Clause
}

func (TermQuery) query()       {}
func (PrefixQuery) query()     {}
func (IntRangeQuery) query()   {}
func (FloatRangeQuery) query() {}
func (MatchAllQuery) query()   {}
func (MatchNoneQuery) query()  {}
func (BooleanQuery) query()    {}

func (q TermQuery) String() string {
	return q.Field + ":" + strconv.Quote(q.Term)
}

func (q PrefixQuery) String() string {
	return q.Field + ":" + strconv.Quote(q.Prefix) + "*"
}

func (q IntRangeQuery) String() string {
	return fmt.Sprintf("%s:[%d TO %d]", q.Field, q.Min, q.Max)
}

func (q FloatRangeQuery) String() string {
	return fmt.Sprintf("%s:[%g TO %g]", q.Field, q.Min, q.Max)
}

func (MatchAllQuery) String() string  { return "*:*" }
func (MatchNoneQuery) String() string { return "-*:*" }

func (q BooleanQuery) String() string {
	parts := make([]string, 0, len(q.Clauses))
	for _, c := range q.Clauses {
		s := c.Query.String()
		if _, nested := c.Query.(BooleanQuery); nested {
			s = "(" + s + ")"
		}
		parts = append(parts, c.Occur.prefix()+s)
	}
	return strings.Join(parts, " ")
}
