package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/cloudwego/eino/components/embedding"
)

// MockEmbedder 从文本哈希派生确定性向量，离线开发与测试用。
// 相同文本得到相同向量，不同文本大概率不同。
type MockEmbedder struct {
	Dim int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return &MockEmbedder{Dim: dim}
}

func (m *MockEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	result := make([][]float64, len(texts))
	for i, text := range texts {
		seed := sha256.Sum256([]byte(text))
		vec := make([]float64, m.Dim)
		var norm float64
		for j := 0; j < m.Dim; j++ {
			bits := binary.LittleEndian.Uint32(seed[(j*4)%28:])
			v := float64(int32(bits+uint32(j)*2654435761)) / float64(math.MaxInt32)
			vec[j] = v
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for j := range vec {
				vec[j] /= norm
			}
		}
		result[i] = vec
	}
	return result, nil
}

// 确保实现接口
var _ embedding.Embedder = (*MockEmbedder)(nil)
