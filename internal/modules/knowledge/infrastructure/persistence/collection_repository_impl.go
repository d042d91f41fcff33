package persistence

import (
	"context"

	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"

	"gorm.io/gorm"
)

type collectionRepositoryImpl struct {
	db *gorm.DB
}

func NewCollectionRepository(db *gorm.DB) repository.CollectionRepository {
	return &collectionRepositoryImpl{db: db}
}

func (r *collectionRepositoryImpl) Create(ctx context.Context, c *kb.Collection) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *collectionRepositoryImpl) GetByID(ctx context.Context, id string) (*kb.Collection, error) {
	var c kb.Collection
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error
	if err == nil {
		return &c, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *collectionRepositoryImpl) GetByName(ctx context.Context, name string) (*kb.Collection, error) {
	var c kb.Collection
	err := r.db.WithContext(ctx).Where("name = ?", name).Take(&c).Error
	if err == nil {
		return &c, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *collectionRepositoryImpl) List(ctx context.Context) ([]kb.Collection, error) {
	var cols []kb.Collection
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&cols).Error
	return cols, err
}

func (r *collectionRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&kb.Collection{}).Count(&count).Error
	return count, err
}

func (r *collectionRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", id).Delete(&kb.Document{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&kb.Collection{}).Error
	})
}
