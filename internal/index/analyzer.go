package index

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Analyzer turns field text into index terms. The same analyzer has to be
// used at index time and at query time.
type Analyzer interface {
	// Tokens splits text into normalized terms.
	Tokens(text string) []string
	// Normalize folds text without splitting it.
	Normalize(text string) string
}

// StandardAnalyzer applies NFKC normalization and Unicode case folding, then
// splits on every rune that is neither a letter nor a digit. It keeps stop
// words.
type StandardAnalyzer struct {
	folders sync.Pool
}

// NewStandardAnalyzer returns an analyzer safe for concurrent use.
func NewStandardAnalyzer() *StandardAnalyzer {
	return &StandardAnalyzer{
		folders: sync.Pool{New: func() any {
			c := cases.Fold()
			return &c
		}},
	}
}

func (a *StandardAnalyzer) Normalize(text string) string {
	c := a.folders.Get().(*cases.Caser)
	defer a.folders.Put(c)
	return c.String(norm.NFKC.String(text))
}

func (a *StandardAnalyzer) Tokens(text string) []string {
	return strings.FieldsFunc(a.Normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
