package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeOnKeyAdmitsEverything(t *testing.T) {
	var p Policy[string] = MergeOnKey[string]{}
	got, ok := p.Admit([]string{"a", "a", "b"})
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "a", "b"}, got)
}

func TestExactMatch(t *testing.T) {
	known := map[string]bool{"4006381333931": true}
	var p Policy[string] = ExactMatch[string]{Known: func(v string) bool { return known[v] }}

	t.Run("new batch admitted", func(t *testing.T) {
		got, ok := p.Admit([]string{"123", "456"})
		assert.True(t, ok)
		assert.Len(t, got, 2)
	})

	t.Run("one known value rejects the whole batch", func(t *testing.T) {
		got, ok := p.Admit([]string{"123", "4006381333931"})
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("empty batch admitted", func(t *testing.T) {
		_, ok := p.Admit(nil)
		assert.True(t, ok)
	})
}
