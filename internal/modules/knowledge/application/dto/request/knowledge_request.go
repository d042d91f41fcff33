package request

// CreateCollectionRequest 新建集合
type CreateCollectionRequest struct {
	Name        string `json:"name" binding:"required"` // 集合名（字母数字下划线中划线空格，≤100 字符）
	Description string `json:"description"`             // 描述（≤500 字符）
}

// AddDocumentRequest 提交文档摄取任务，文件本体走 multipart 上传
type AddDocumentRequest struct {
	DocType string `form:"doc_type" json:"doc_type"` // knowledge | question_bank，默认 knowledge
}

// SearchKnowledgeRequest 检索预览（不走生成）
type SearchKnowledgeRequest struct {
	Query           string   `json:"query" binding:"required"`
	CollectionNames []string `json:"collection_names,omitempty"` // 为空时检索全部集合
}

// AskRequest 知识增强问答
type AskRequest struct {
	Question        string   `json:"question" binding:"required"`
	CollectionNames []string `json:"collection_names,omitempty"` // 为空时使用全部集合
}

// ImportCollectionRequest 导入集合元数据
type ImportCollectionRequest struct {
	Strategy string `json:"strategy"` // skip | replace | merge，默认 skip
}
