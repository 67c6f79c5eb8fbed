package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextShortInput(t *testing.T) {
	chunks := ChunkText("Hello world\nThis is a test", 200, 30)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello world This is a test", chunks[0])
}

func TestChunkTextEmpty(t *testing.T) {
	assert.Nil(t, ChunkText("", 200, 30))
	assert.Nil(t, ChunkText("   \n\t  ", 200, 30))
}

func TestChunkTextOverlapWindows(t *testing.T) {
	words := make([]string, 100)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	chunks := ChunkText(strings.Join(words, " "), 30, 5)
	require.Len(t, chunks, 4)

	// Every word appears in at least one chunk.
	seen := map[string]bool{}
	for _, c := range chunks {
		for _, w := range strings.Fields(c) {
			seen[w] = true
		}
	}
	assert.Len(t, seen, 100)
	assert.True(t, seen["w0"])
	assert.True(t, seen["w99"])

	// Consecutive chunks share the overlap words.
	for i := 0; i < len(chunks)-1; i++ {
		left := strings.Fields(chunks[i])
		right := strings.Fields(chunks[i+1])
		assert.Equal(t, left[len(left)-5:], right[:5], "chunk %d/%d", i, i+1)
	}
}

func TestChunkTextExactMultiple(t *testing.T) {
	words := make([]string, 30)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	chunks := ChunkText(strings.Join(words, " "), 30, 5)
	require.Len(t, chunks, 1)
	assert.Len(t, strings.Fields(chunks[0]), 30)
}
