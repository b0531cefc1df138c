package generator

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxbase/boxbase/pkg/model"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 1024, false},
		{"512B", 512, false},
		{"1kb", 1024, false},
		{"2M", 2 << 20, false},
		{"10GB", 0, true},
		{"abc", 0, true},
		{"0KB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDocumentGenerator_Generate(t *testing.T) {
	g, err := NewDocumentGenerator(5, "1KB")
	require.NoError(t, err)

	box := g.Generate("bench-1")
	assert.Equal(t, "bench-1", box["_id"])
	assert.NotContains(t, box, "_rev")
	assert.Len(t, box, 4+5)

	fields, err := model.Document(box).IndexFields()
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "rank"}, fields)
	assert.Len(t, box["field_0"], 1024/5)
	assert.Len(t, strings.Fields(box["title"].(string)), 3)
}

func TestIDGenerator_Concurrent(t *testing.T) {
	g := NewIDGenerator("b-")
	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id := g.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 800)
	assert.True(t, model.CheckID(g.Next()))
}
