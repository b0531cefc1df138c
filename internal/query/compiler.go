// Package query compiles template queries into index queries and runs them
// against base snapshots.
package query

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/boxbase/boxbase/internal/index"
	"github.com/boxbase/boxbase/pkg/model"
)

// Template is a field to value mapping. A document matches a template when
// it matches every field constraint in it.
//
// Field keys may be decorated: a leading "!" negates the constraint and a
// trailing "*" turns a string constraint into a prefix match on the whole
// field value.
type Template = model.Document

// Compiler turns templates into index queries. It holds only the analyzer
// and is safe for concurrent use.
type Compiler struct {
	analyzer index.Analyzer
}

func NewCompiler(analyzer index.Analyzer) *Compiler {
	return &Compiler{analyzer: analyzer}
}

// Compile returns a query matching documents that match any template.
func (c *Compiler) Compile(templates []Template) (index.Query, error) {
	if len(templates) == 0 {
		return nil, model.ErrEmptyQuery
	}

	top := index.BooleanQuery{Clauses: make([]index.Clause, 0, len(templates))}
	for i, tmpl := range templates {
		q, err := c.compileTemplate(tmpl)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		top.Clauses = append(top.Clauses, index.Clause{Query: q, Occur: index.Should})
	}
	return top, nil
}

type fieldSpec struct {
	name   string
	negate bool
	prefix bool
}

func parseFieldSpec(key string) (fieldSpec, error) {
	spec := fieldSpec{name: key}
	if strings.HasPrefix(spec.name, "!") {
		spec.negate = true
		spec.name = spec.name[1:]
	}
	if strings.HasSuffix(spec.name, "*") {
		spec.prefix = true
		spec.name = spec.name[:len(spec.name)-1]
	}
	if spec.name == "" {
		return spec, &model.ValidationError{Field: key, Message: "empty field name"}
	}
	return spec, nil
}

func (c *Compiler) compileTemplate(tmpl Template) (index.Query, error) {
	if len(tmpl) == 0 {
		return nil, &model.ValidationError{Field: "_templates", Message: "empty template"}
	}

	q := index.BooleanQuery{Clauses: make([]index.Clause, 0, len(tmpl))}
	for _, key := range slices.Sorted(maps.Keys(tmpl)) {
		spec, err := parseFieldSpec(key)
		if err != nil {
			return nil, err
		}
		fq, err := c.compileField(spec, tmpl[key])
		if err != nil {
			return nil, err
		}
		occur := index.Must
		if spec.negate {
			occur = index.MustNot
		}
		q.Clauses = append(q.Clauses, index.Clause{Query: fq, Occur: occur})
	}
	return q, nil
}

func (c *Compiler) compileField(spec fieldSpec, value any) (index.Query, error) {
	kind := model.KindOf(value)

	if spec.prefix && kind != model.KindString {
		return nil, &model.ValidationError{Field: spec.name, Message: fmt.Sprintf("prefix match needs a string, got %s", kind)}
	}

	switch kind {
	case model.KindInt:
		n, _ := model.AsInt(value)
		return index.IntRangeQuery{Field: spec.name, Min: n, Max: n}, nil

	case model.KindFloat:
		f, _ := model.AsFloat(value)
		return index.FloatRangeQuery{Field: spec.name, Min: f, Max: f}, nil

	case model.KindBool:
		return index.TermQuery{Field: spec.name, Term: fmt.Sprint(value)}, nil

	case model.KindString:
		s := value.(string)
		if spec.name == model.FieldID {
			if spec.prefix {
				return index.PrefixQuery{Field: spec.name, Prefix: s}, nil
			}
			return index.TermQuery{Field: spec.name, Term: s}, nil
		}
		if spec.prefix {
			return index.PrefixQuery{Field: spec.name, Prefix: c.analyzer.Normalize(s)}, nil
		}
		return c.analyzed(spec.name, s), nil

	default:
		return nil, &model.FieldTypeError{Field: spec.name, Kind: kind}
	}
}

// analyzed joins the tokens of s with AND.
func (c *Compiler) analyzed(field, s string) index.Query {
	tokens := c.analyzer.Tokens(s)
	switch len(tokens) {
	case 0:
		return index.MatchNoneQuery{}
	case 1:
		return index.TermQuery{Field: field, Term: tokens[0]}
	}
	q := index.BooleanQuery{Clauses: make([]index.Clause, 0, len(tokens))}
	for _, tok := range tokens {
		q.Clauses = append(q.Clauses, index.Clause{Query: index.TermQuery{Field: field, Term: tok}, Occur: index.Must})
	}
	return q
}
