package persistence

import (
	"context"
	"fmt"
	"time"

	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"

	"gorm.io/gorm"
)

type knowledgeUnitOfWorkImpl struct {
	db *gorm.DB
}

func NewKnowledgeUnitOfWork(db *gorm.DB) repository.KnowledgeUnitOfWork {
	return &knowledgeUnitOfWorkImpl{db: db}
}

// CommitIngest 文档行与集合计数器同事务提交，
// 保证 total_chunks 与各文档 chunk_count 之和一致。
func (u *knowledgeUnitOfWorkImpl) CommitIngest(ctx context.Context, doc *kb.Document) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		res := tx.Model(&kb.Collection{}).
			Where("id = ?", doc.CollectionId).
			Updates(map[string]interface{}{
				"document_count": gorm.Expr("document_count + 1"),
				"total_chunks":   gorm.Expr("total_chunks + ?", doc.ChunkCount),
				"updated_at":     time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("collection %s not found", doc.CollectionId)
		}
		return nil
	})
}

func (u *knowledgeUnitOfWorkImpl) RemoveDocument(ctx context.Context, doc *kb.Document) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", doc.Id).Delete(&kb.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 已被并发删除，计数器不再回减
			return nil
		}
		return tx.Model(&kb.Collection{}).
			Where("id = ?", doc.CollectionId).
			Updates(map[string]interface{}{
				"document_count": gorm.Expr("document_count - 1"),
				"total_chunks":   gorm.Expr("total_chunks - ?", doc.ChunkCount),
				"updated_at":     time.Now(),
			}).Error
	})
}

// ReplaceDocuments 导入 replace 策略：整体替换集合下的文档并重算计数器
func (u *knowledgeUnitOfWorkImpl) ReplaceDocuments(ctx context.Context, collectionID string, docs []kb.Document) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", collectionID).Delete(&kb.Document{}).Error; err != nil {
			return err
		}
		totalChunks := 0
		for i := range docs {
			docs[i].CollectionId = collectionID
			if err := tx.Create(&docs[i]).Error; err != nil {
				return err
			}
			totalChunks += docs[i].ChunkCount
		}
		return tx.Model(&kb.Collection{}).
			Where("id = ?", collectionID).
			Updates(map[string]interface{}{
				"document_count": len(docs),
				"total_chunks":   totalChunks,
				"updated_at":     time.Now(),
			}).Error
	})
}
