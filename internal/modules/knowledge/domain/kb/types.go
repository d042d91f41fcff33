package kb

import "time"

// 文档类型标签，决定切分策略
const (
	DocTypeKnowledge    = "knowledge"
	DocTypeQuestionBank = "question_bank"
)

// ChunkMetadata 写入向量库并随检索结果返回的溯源信息
type ChunkMetadata struct {
	SourceFile   string            `json:"source_file"`
	DocType      string            `json:"doc_type"`
	CollectionID string            `json:"collection_id"`
	ChunkIndex   int               `json:"chunk_index"`
	CreatedAt    time.Time         `json:"created_at"`
	Extra        map[string]string `json:"extra,omitempty"` // 题库行原始列值等
}

// DocumentChunk 一个可检索的文本单元，入库后不可变
type DocumentChunk struct {
	ID         string        `json:"id"` // {documentID}_chunk_{i} 或 {documentID}_q_{i}
	DocumentID string        `json:"document_id"`
	Content    string        `json:"content"`
	Index      int           `json:"index"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// SearchResult 向量库原始命中，distance 越小越相似（cosine 距离）
type SearchResult struct {
	ChunkID    string        `json:"chunk_id"`
	DocumentID string        `json:"document_id"`
	Collection string        `json:"collection"`
	Content    string        `json:"content"`
	Distance   float64       `json:"distance"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// KnowledgeFragment 面向 Pipeline 的排序后检索结果，不落库
type KnowledgeFragment struct {
	Content        string        `json:"content"`
	SourceDocument string        `json:"source_document"`
	CollectionName string        `json:"collection_name"`
	RelevanceScore float64       `json:"relevance_score"`
	Metadata       ChunkMetadata `json:"metadata"`
}

// ConnectionStatus 向量库健康探测结果，区分"可达但为空"与"不可达"
type ConnectionStatus struct {
	Connected       bool   `json:"connected"`
	CollectionCount int    `json:"collection_count"`
	Message         string `json:"message"`
}
