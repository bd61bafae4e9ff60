package inventory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordAndForget(t *testing.T) {
	inv := New()

	inv.Record("cth://a/agent")
	inv.Record("cth://a/agent")
	inv.Record("cth://b/agent")
	assert.Equal(t, 2, inv.Size())

	inv.Forget("cth://a/agent")
	inv.Forget("cth://a/agent")
	assert.Equal(t, 1, inv.Size())
}

func TestFind(t *testing.T) {
	inv := New()
	inv.Record("cth://a/agent")
	inv.Record("cth://b/agent")
	inv.Record("cth://a/controller")

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{
			name:     "wildcard common name",
			patterns: []string{"cth://*/agent"},
			want:     []string{"cth://a/agent", "cth://b/agent"},
		},
		{
			name:     "wildcard type",
			patterns: []string{"cth://a/*"},
			want:     []string{"cth://a/agent", "cth://a/controller"},
		},
		{
			name:     "literal known",
			patterns: []string{"cth://b/agent"},
			want:     []string{"cth://b/agent"},
		},
		{
			name:     "literal unknown passes through verbatim",
			patterns: []string{"cth://ghost/agent"},
			want:     []string{"cth://ghost/agent"},
		},
		{
			name:     "wildcard with no match is empty",
			patterns: []string{"cth://*/banana"},
			want:     []string{},
		},
		{
			name:     "overlapping patterns deduplicate",
			patterns: []string{"cth://*/agent", "cth://a/agent"},
			want:     []string{"cth://a/agent", "cth://b/agent"},
		},
		{
			name:     "wrong scheme does not match",
			patterns: []string{"other://*/agent"},
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inv.Find(tt.patterns))
		})
	}
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("cth://*/agent", "cth://a/agent"))
	assert.True(t, Matches("cth://a/*", "cth://a/agent"))
	assert.True(t, Matches("cth://*/*", "cth://a/agent"))
	assert.False(t, Matches("cth://*/agent", "cth://a/controller"))
	assert.False(t, Matches("cth://*", "cth://a/agent"))
	assert.False(t, Matches("cth://*/agent", "other://a/agent"))
}

func TestConcurrentAccess(t *testing.T) {
	inv := New()
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			uri := fmt.Sprintf("cth://node-%d/agent", n)
			for j := 0; j < 100; j++ {
				inv.Record(uri)
				inv.Find([]string{"cth://*/agent"})
				inv.Forget(uri)
			}
		}(i)
	}

	wg.Wait()
	assert.Equal(t, 0, inv.Size())
}
