package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsString(t *testing.T) {
	assert.True(t, ContainsString([]string{"a", "b"}, "b"))
	assert.False(t, ContainsString([]string{"a", "b"}, "c"))
	assert.False(t, ContainsString(nil, "a"))
}

func TestStringSetDiff(t *testing.T) {
	assert.Equal(t, []string{"a"}, StringSetDiff([]string{"a", "b"}, []string{"b", "c"}))
	assert.Empty(t, StringSetDiff([]string{"a"}, []string{"a"}))
	assert.Equal(t, []string{"a", "b"}, StringSetDiff([]string{"a", "b"}, nil))
	assert.Empty(t, StringSetDiff(nil, []string{"a"}))
}

func TestRandomAlphabetString(t *testing.T) {
	s := RandomAlphabetString(12)
	assert.Len(t, s, 12)
	assert.NotEqual(t, s, RandomAlphabetString(12))
}
