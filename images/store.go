package images

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ImageStore 提供图片记录的数据访问辅助。
type ImageStore struct {
	db *gorm.DB
}

// NewImageStore 使用给定的数据库连接构建存储。
func NewImageStore(db *gorm.DB) *ImageStore {
	if db == nil {
		return nil
	}
	return &ImageStore{db: db}
}

// Create 插入新的图片记录。
func (s *ImageStore) Create(ctx context.Context, image *CharacterImage) error {
	if s == nil || s.db == nil {
		return errors.New("images: store not initialized")
	}
	return s.db.WithContext(ctx).Create(image).Error
}

// FindByID 按主键加载图片记录。
func (s *ImageStore) FindByID(ctx context.Context, id uint64) (*CharacterImage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("images: store not initialized")
	}

	var image CharacterImage
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&image).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &image, nil
}

// ListByCharacter 返回角色名下的全部图片,按创建时间倒序。
func (s *ImageStore) ListByCharacter(ctx context.Context, characterID uint64) ([]CharacterImage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("images: store not initialized")
	}

	var images []CharacterImage
	if err := s.db.WithContext(ctx).
		Where("character_id = ?", characterID).
		Order("created_at DESC").
		Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

// Delete 删除图片记录并返回待清理的对象存储键。
func (s *ImageStore) Delete(ctx context.Context, id uint64) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("images: store not initialized")
	}

	var objectKey string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var image CharacterImage
		if err := tx.Where("id = ?", id).Take(&image).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		objectKey = strings.TrimSpace(image.ObjectKey)

		// 派生内容保留,但解除来源引用,避免悬挂外键。
		if err := tx.Model(&CharacterImage{}).
			Where("source_image_id = ?", id).
			Update("source_image_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Table("character_videos").
			Where("source_image_id = ?", id).
			Update("source_image_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Table("characters").
			Where("thumbnail_image_id = ?", id).
			Update("thumbnail_image_id", nil).Error; err != nil {
			return err
		}

		return tx.Delete(&CharacterImage{}, "id = ?", id).Error
	})
	if err != nil {
		return "", err
	}

	return objectKey, nil
}
