package persistence

import (
	"context"

	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"

	"gorm.io/gorm"
)

type documentRepositoryImpl struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) repository.DocumentRepository {
	return &documentRepositoryImpl{db: db}
}

func (r *documentRepositoryImpl) GetByID(ctx context.Context, id string) (*kb.Document, error) {
	var d kb.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&d).Error
	if err == nil {
		return &d, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *documentRepositoryImpl) ListByCollection(ctx context.Context, collectionID string) ([]kb.Document, error) {
	var docs []kb.Document
	err := r.db.WithContext(ctx).Where("collection_id = ?", collectionID).Order("created_at ASC").Find(&docs).Error
	return docs, err
}

func (r *documentRepositoryImpl) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&kb.Document{}).Count(&count).Error
	return count, err
}
