package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkFixed_Deterministic(t *testing.T) {
	c := NewRecursiveChunker(100, 20)
	text := strings.Repeat("知识库文本切分测试。", 60)

	first := c.ChunkFixed(text)
	second := c.ChunkFixed(text)

	require.Equal(t, first, second)
	require.Greater(t, len(first), 1)
}

func TestChunkFixed_Overlap(t *testing.T) {
	c := NewRecursiveChunker(50, 10)
	text := strings.Repeat("abcdefghij", 20) // 200 chars

	chunks := c.ChunkFixed(text)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		cur := []rune(chunks[i])
		// 相邻片段共享 overlap 长度的内容
		tail := string(prev[len(prev)-10:])
		head := string(cur[:10])
		assert.Equal(t, tail, head, "chunk %d should overlap its predecessor", i)
	}
}

func TestChunkFixed_ShortTextSingleChunk(t *testing.T) {
	c := NewRecursiveChunker(1000, 200)
	chunks := c.ChunkFixed("short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0])
}

func TestChunkFixed_EmptyText(t *testing.T) {
	c := NewRecursiveChunker(1000, 200)
	assert.Empty(t, c.ChunkFixed(""))
}

func TestChunkFixed_MultibyteBoundary(t *testing.T) {
	c := NewRecursiveChunker(7, 2)
	text := strings.Repeat("中文字符不截断", 5)

	for _, chunk := range c.ChunkFixed(text) {
		// 每个片段都应是合法 UTF-8 且不超过 ChunkSize 个 rune
		assert.LessOrEqual(t, len([]rune(chunk)), 7)
		assert.True(t, strings.ToValidUTF8(chunk, "") == chunk)
	}
}

func TestNewRecursiveChunker_ParamGuards(t *testing.T) {
	c := NewRecursiveChunker(0, -1)
	assert.Equal(t, 1000, c.ChunkSize)
	assert.Equal(t, 0, c.ChunkOverlap)

	c = NewRecursiveChunker(100, 100)
	assert.Equal(t, 50, c.ChunkOverlap)
}
