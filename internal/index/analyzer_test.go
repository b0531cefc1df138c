package index

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardAnalyzer_Tokens(t *testing.T) {
	a := NewStandardAnalyzer()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"simple", "John Doe", []string{"john", "doe"}},
		{"punctuation", "hello, world! (again)", []string{"hello", "world", "again"}},
		{"stop words kept", "the and a", []string{"the", "and", "a"}},
		{"digits", "room 101b", []string{"room", "101b"}},
		{"unicode fold", "ÀLA Àla", []string{"àla", "àla"}},
		{"compatibility form", "ｆｕｌｌ width", []string{"full", "width"}},
		{"empty", "  --  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Tokens(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStandardAnalyzer_Normalize(t *testing.T) {
	a := NewStandardAnalyzer()
	assert.Equal(t, "john doe", a.Normalize("John Doe"))
	assert.Equal(t, "", a.Normalize(""))
}

func TestStandardAnalyzer_Concurrent(t *testing.T) {
	a := NewStandardAnalyzer()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, []string{"mixed", "case"}, a.Tokens("MiXeD Case"))
			}
		}()
	}
	wg.Wait()
}
