package kb

import (
	"regexp"
	"strings"
	"time"
)

// Collection 知识库集合，聚合若干文档
type Collection struct {
	Id            string    `gorm:"column:id;primaryKey;type:char(36)" json:"id"`
	Name          string    `gorm:"column:name;type:varchar(100);not null;uniqueIndex:uniq_kb_collection_name" json:"name"`
	Description   string    `gorm:"column:description;type:varchar(500)" json:"description"`
	DocumentCount int       `gorm:"column:document_count;type:int;not null;default:0" json:"document_count"`
	TotalChunks   int       `gorm:"column:total_chunks;type:int;not null;default:0" json:"total_chunks"`
	CreatedAt     time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Collection) TableName() string { return "kb_collection" }

// Document 一次成功摄取的文件
type Document struct {
	Id           string    `gorm:"column:id;primaryKey;type:char(36)" json:"id"`
	CollectionId string    `gorm:"column:collection_id;type:char(36);not null;index:idx_kb_document_collection" json:"collection_id"`
	Filename     string    `gorm:"column:filename;type:varchar(255);not null" json:"filename"`
	DocType      string    `gorm:"column:doc_type;type:varchar(20);not null" json:"doc_type"`
	FileSize     int64     `gorm:"column:file_size;type:bigint;not null" json:"file_size"`
	ChunkCount   int       `gorm:"column:chunk_count;type:int;not null" json:"chunk_count"`
	ProcessedAt  time.Time `gorm:"column:processed_at;not null" json:"processed_at"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Document) TableName() string { return "kb_document" }

const (
	MaxCollectionNameLen = 100
	MaxDescriptionLen    = 500
)

var collectionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_\- ]+$`)

// ValidCollectionName 集合名称规则：非空、长度受限、仅字母数字下划线中划线空格
func ValidCollectionName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxCollectionNameLen {
		return false
	}
	return collectionNameRe.MatchString(name)
}
