package chunking

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// 知识文档切分的分隔符优先级：段落 → 行 → 词 → 硬截断
var knowledgeSeparators = []string{"\n\n", "\n", " "}

// RecursiveChunker 将文本切分为带重叠的片段。
// 优先在段落/句子边界切分，超长时退化为按 rune 的硬切分。
// 相同输入与参数下结果确定。
type RecursiveChunker struct {
	ChunkSize    int
	ChunkOverlap int

	initOnce      sync.Once
	initErr       error
	recursiveImpl document.Transformer
}

// NewRecursiveChunker 创建切分器并设置切片大小与重叠长度
func NewRecursiveChunker(size, overlap int) *RecursiveChunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &RecursiveChunker{ChunkSize: size, ChunkOverlap: overlap}
}

// Split 按分隔符优先级递归切分文本
func (c *RecursiveChunker) Split(ctx context.Context, text string) ([]string, error) {
	if text == "" {
		return []string{}, nil
	}
	if len([]rune(text)) <= c.ChunkSize {
		return []string{text}, nil
	}

	c.initOnce.Do(func() {
		impl, err := recursive.NewSplitter(ctx, &recursive.Config{
			ChunkSize:   c.ChunkSize,
			OverlapSize: c.ChunkOverlap,
			Separators:  knowledgeSeparators,
			LenFunc: func(s string) int {
				return len([]rune(s))
			},
			KeepType: recursive.KeepTypeEnd,
		})
		if err != nil {
			c.initErr = err
			return
		}
		c.recursiveImpl = impl
	})
	if c.initErr != nil {
		return nil, c.initErr
	}
	if c.recursiveImpl == nil {
		return nil, fmt.Errorf("recursive splitter not initialized")
	}

	frags, err := c.recursiveImpl.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(frags))
	for _, f := range frags {
		if f == nil || f.Content == "" {
			continue
		}
		// 分隔符极少的文本可能产出超长片段，补一道硬切分兜底
		if len([]rune(f.Content)) > c.ChunkSize*2 {
			out = append(out, c.ChunkFixed(f.Content)...)
			continue
		}
		out = append(out, f.Content)
	}
	return out, nil
}

// ChunkFixed 基于 rune 数量的固定窗口切分，多字节字符不会被截断
func (c *RecursiveChunker) ChunkFixed(text string) []string {
	if text == "" {
		return []string{}
	}

	runes := []rune(text)
	totalLen := len(runes)
	if totalLen <= c.ChunkSize {
		return []string{text}
	}

	var chunks []string
	step := c.ChunkSize - c.ChunkOverlap
	// 构造函数已保证 step > 0，这里兜底避免无法推进
	if step <= 0 {
		step = 1
	}

	for i := 0; i < totalLen; i += step {
		end := int(math.Min(float64(i+c.ChunkSize), float64(totalLen)))
		chunks = append(chunks, string(runes[i:end]))
		if end == totalLen {
			break
		}
	}
	return chunks
}
