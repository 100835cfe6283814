package videos

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// VideoStore 提供视频记录的数据访问辅助。
type VideoStore struct {
	db *gorm.DB
}

// NewVideoStore 使用给定的数据库连接构建存储。
func NewVideoStore(db *gorm.DB) *VideoStore {
	if db == nil {
		return nil
	}
	return &VideoStore{db: db}
}

// Create 插入新的视频记录。
func (s *VideoStore) Create(ctx context.Context, video *CharacterVideo) error {
	if s == nil || s.db == nil {
		return errors.New("videos: store not initialized")
	}
	return s.db.WithContext(ctx).Create(video).Error
}

// FindByID 按主键加载视频记录。
func (s *VideoStore) FindByID(ctx context.Context, id uint64) (*CharacterVideo, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("videos: store not initialized")
	}

	var video CharacterVideo
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &video, nil
}

// ListByCharacter 返回角色名下的全部视频,按创建时间倒序。
func (s *VideoStore) ListByCharacter(ctx context.Context, characterID uint64) ([]CharacterVideo, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("videos: store not initialized")
	}

	var videos []CharacterVideo
	if err := s.db.WithContext(ctx).
		Where("character_id = ?", characterID).
		Order("created_at DESC").
		Find(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

// Delete 删除视频记录并返回待清理的对象存储键。
func (s *VideoStore) Delete(ctx context.Context, id uint64) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("videos: store not initialized")
	}

	var objectKey string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var video CharacterVideo
		if err := tx.Where("id = ?", id).Take(&video).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		objectKey = strings.TrimSpace(video.ObjectKey)
		return tx.Delete(&CharacterVideo{}, "id = ?", id).Error
	})
	if err != nil {
		return "", err
	}

	return objectKey, nil
}
