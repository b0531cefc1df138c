// Package generator provides test data for benchmark operations.
package generator

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"

	"github.com/boxbase/boxbase/pkg/benchmark/types"
)

// Words is the vocabulary of generated text fields, so that queries can
// target values that exist.
var Words = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel",
	"india", "juliet", "kilo", "lima", "mike", "november", "oscar", "papa",
}

// DocumentGenerator generates random boxes. Field "title" is indexed text,
// "rank" an indexed integer; the rest is unindexed padding.
type DocumentGenerator struct {
	fieldsCount  int
	documentSize int
}

// NewDocumentGenerator creates a new document generator.
func NewDocumentGenerator(fieldsCount int, documentSize string) (*DocumentGenerator, error) {
	size, err := ParseSize(documentSize)
	if err != nil {
		return nil, fmt.Errorf("invalid document size: %w", err)
	}
	if fieldsCount < 1 {
		fieldsCount = 1
	}
	return &DocumentGenerator{fieldsCount: fieldsCount, documentSize: size}, nil
}

// Generate returns a box for id without "_rev".
func (g *DocumentGenerator) Generate(id string) types.Box {
	box := types.Box{
		"_id":    id,
		"_index": []string{"title", "rank"},
		"title":  RandomWords(3),
		"rank":   rand.IntN(100),
	}

	sizePerField := max(g.documentSize/g.fieldsCount, 10)
	for i := range g.fieldsCount {
		box[fmt.Sprintf("field_%d", i)] = generateFieldValue(sizePerField, i)
	}
	return box
}

func generateFieldValue(targetSize int, fieldIndex int) any {
	switch fieldIndex % 4 {
	case 0:
		return randomString(targetSize)
	case 1:
		return rand.Int64N(1000000)
	case 2:
		return rand.IntN(2) == 1
	default:
		return float64(rand.IntN(100000)) / 100.0
	}
}

// RandomWords joins n words of the vocabulary.
func RandomWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = Words[rand.IntN(len(Words))]
	}
	return strings.Join(words, " ")
}

func randomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.IntN(len(charset))]
	}
	return string(b)
}

// ParseSize parses size strings like "512B", "1KB" or "2MB" into bytes.
// An empty string means 1KB.
func ParseSize(sizeStr string) (int, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 1024, nil
	}

	var num int
	var unit string
	if _, err := fmt.Sscanf(sizeStr, "%d%s", &num, &unit); err != nil {
		return 0, fmt.Errorf("invalid size format: %s", sizeStr)
	}
	if num <= 0 {
		return 0, fmt.Errorf("size must be positive: %s", sizeStr)
	}

	switch unit {
	case "B", "BYTES":
		return num, nil
	case "KB", "K":
		return num * 1024, nil
	case "MB", "M":
		return num * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("unknown size unit: %s", unit)
	}
}

// IDGenerator hands out sequential ids. Safe for concurrent use.
type IDGenerator struct {
	prefix  string
	counter atomic.Int64
}

func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{prefix: prefix}
}

// Next generates the next ID.
func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s%08d", g.prefix, g.counter.Add(1))
}
