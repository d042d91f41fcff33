package repository

import (
	"context"

	"QuizGazer/internal/modules/knowledge/domain/kb"
)

// CollectionRepository 集合元数据仓储。Get* 未命中返回 (nil, nil)。
type CollectionRepository interface {
	Create(ctx context.Context, c *kb.Collection) error
	GetByID(ctx context.Context, id string) (*kb.Collection, error)
	GetByName(ctx context.Context, name string) (*kb.Collection, error)
	List(ctx context.Context) ([]kb.Collection, error)
	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id string) error
}

// DocumentRepository 文档元数据仓储
type DocumentRepository interface {
	GetByID(ctx context.Context, id string) (*kb.Document, error)
	ListByCollection(ctx context.Context, collectionID string) ([]kb.Document, error)
	CountAll(ctx context.Context) (int64, error)
}

// KnowledgeUnitOfWork 跨表事务边界：文档行与集合计数器必须一起提交，
// 保证 total_chunks 恒等于各文档 chunk_count 之和。
type KnowledgeUnitOfWork interface {
	// CommitIngest 插入文档并累加所属集合的计数器
	CommitIngest(ctx context.Context, doc *kb.Document) error

	// RemoveDocument 删除文档并回减计数器
	RemoveDocument(ctx context.Context, doc *kb.Document) error

	// ReplaceDocuments 整体替换集合下的文档元数据（导入 replace 策略用）
	ReplaceDocuments(ctx context.Context, collectionID string, docs []kb.Document) error
}
