package respond

import (
	"time"

	"QuizGazer/internal/modules/knowledge/domain/kb"
)

// CollectionRespond 集合概要
type CollectionRespond struct {
	Id            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	DocumentCount int       `json:"document_count"`
	TotalChunks   int       `json:"total_chunks"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CollectionDetailRespond 集合详情，含文档清单
type CollectionDetailRespond struct {
	CollectionRespond
	Documents []kb.Document `json:"documents"`
}

// SubmitTaskRespond 摄取任务提交回执
type SubmitTaskRespond struct {
	TaskID string `json:"task_id"`
}

// CollectionStatsItem 单个集合的统计
type CollectionStatsItem struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
	TotalChunks   int    `json:"total_chunks"`
}

// StatsRespond 知识库整体统计
type StatsRespond struct {
	TotalCollections int                   `json:"total_collections"`
	TotalDocuments   int                   `json:"total_documents"`
	TotalChunks      int                   `json:"total_chunks"`
	Collections      []CollectionStatsItem `json:"collections"`
	VectorStore      kb.ConnectionStatus   `json:"vector_store"`
}

// SearchRespond 检索预览结果
type SearchRespond struct {
	Query       string                 `json:"query"`
	Fragments   []kb.KnowledgeFragment `json:"fragments"`
	Reranked    bool                   `json:"reranked"`
	EmbeddingMs int64                  `json:"embedding_ms"`
	SearchMs    int64                  `json:"search_ms"`
	RerankMs    int64                  `json:"rerank_ms"`
	DurationMs  int64                  `json:"duration_ms"`
}

// CollectionExport 集合导出载荷（元数据，不含向量）
type CollectionExport struct {
	Version     int           `json:"version"`
	ExportedAt  time.Time     `json:"exported_at"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Documents   []kb.Document `json:"documents"`
}

// ImportRespond 导入结果
type ImportRespond struct {
	CollectionID string `json:"collection_id"`
	Strategy     string `json:"strategy"`
	Imported     int    `json:"imported"`
	Skipped      int    `json:"skipped"`
}
