package repository

import (
	"context"

	"QuizGazer/internal/modules/knowledge/domain/kb"
)

// VectorStore 本地/远程向量库的统一抽象。
// 同一集合的写入由实现串行化；跨集合读写必须并发安全。
type VectorStore interface {
	// Initialize 打开或创建后端，失败返回 StorageConnection 类错误
	Initialize(ctx context.Context) error

	// CreateCollection 幂等创建集合
	CreateCollection(ctx context.Context, name string) error

	// DeleteCollection 删除集合；集合不存在时为 no-op 成功
	DeleteCollection(ctx context.Context, name string) error

	HasCollection(ctx context.Context, name string) (bool, error)

	// AddChunks 批量写入，chunks 与 vectors 一一对应；整批原子，部分失败时回滚
	AddChunks(ctx context.Context, collection string, chunks []kb.DocumentChunk, vectors [][]float32) error

	// DeleteChunks 删除某文档的全部 chunk
	DeleteChunks(ctx context.Context, collection string, documentID string) error

	// Search 跨集合 topK 相似检索，按 cosine 距离升序；不存在的集合贡献空结果
	Search(ctx context.Context, collections []string, queryVec []float32, topK int) ([]kb.SearchResult, error)

	CountChunks(ctx context.Context, collection string) (int64, error)

	// TestConnection 无副作用健康探测
	TestConnection(ctx context.Context) kb.ConnectionStatus

	Close(ctx context.Context) error
}
