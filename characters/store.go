package characters

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// CharacterStore 提供角色表的数据访问辅助。
type CharacterStore struct {
	db *gorm.DB
}

// NewCharacterStore 使用给定的数据库连接构建存储。
func NewCharacterStore(db *gorm.DB) *CharacterStore {
	if db == nil {
		return nil
	}
	return &CharacterStore{db: db}
}

// Create 插入新角色。同一用户下 slug 冲突返回 ErrSlugTaken,
// 唯一索引兜底并发创建。
func (s *CharacterStore) Create(ctx context.Context, character *Character) error {
	if s == nil || s.db == nil {
		return errors.New("characters: store not initialized")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Character{}).
			Where("user_id = ? AND slug = ?", character.UserID, character.Slug).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrSlugTaken
		}

		if err := tx.Create(character).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
				return ErrSlugTaken
			}
			return err
		}
		return nil
	})
}

// FindByID 按主键加载角色。
func (s *CharacterStore) FindByID(ctx context.Context, id uint64) (*Character, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("characters: store not initialized")
	}

	var character Character
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&character).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &character, nil
}

// FindBySlug 在指定用户名下按 slug 加载角色。
func (s *CharacterStore) FindBySlug(ctx context.Context, userID uint64, slug string) (*Character, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("characters: store not initialized")
	}

	var character Character
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND slug = ?", userID, strings.TrimSpace(slug)).
		Take(&character).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &character, nil
}

// ListByUser 返回用户的全部角色,按创建时间倒序。
func (s *CharacterStore) ListByUser(ctx context.Context, userID uint64) ([]Character, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("characters: store not initialized")
	}

	var characters []Character
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&characters).Error; err != nil {
		return nil, err
	}
	return characters, nil
}

// Update 更新角色字段并返回最新记录。slug 冲突返回 ErrSlugTaken。
func (s *CharacterStore) Update(ctx context.Context, id uint64, updates map[string]interface{}) (*Character, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("characters: store not initialized")
	}
	if len(updates) == 0 {
		return s.FindByID(ctx, id)
	}

	updates["updated_at"] = time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&Character{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) || isUniqueViolation(result.Error) {
			return nil, ErrSlugTaken
		}
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	return s.FindByID(ctx, id)
}

// Delete 删除角色及其全部生成内容记录,返回待清理的对象存储键。
// 行删除在一个事务内完成,blob 清理由调用方负责。
func (s *CharacterStore) Delete(ctx context.Context, id uint64) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("characters: store not initialized")
	}

	var objectKeys []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var character Character
		if err := tx.Where("id = ?", id).Take(&character).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var images []imageRow
		if err := tx.Where("character_id = ?", id).Find(&images).Error; err != nil {
			return err
		}
		var videos []videoRow
		if err := tx.Where("character_id = ?", id).Find(&videos).Error; err != nil {
			return err
		}

		for _, image := range images {
			if key := strings.TrimSpace(image.ObjectKey); key != "" {
				objectKeys = append(objectKeys, key)
			}
		}
		for _, video := range videos {
			if key := strings.TrimSpace(video.ObjectKey); key != "" {
				objectKeys = append(objectKeys, key)
			}
		}

		if err := tx.Where("character_id = ?", id).Delete(&imageRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("character_id = ?", id).Delete(&videoRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Character{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}

	return objectKeys, nil
}

// SetThumbnail 将角色头图指向其名下的一张图片。图片不存在或不属于
// 该角色时返回 ErrThumbnailImageNotFound。
func (s *CharacterStore) SetThumbnail(ctx context.Context, characterID, imageID uint64) error {
	if s == nil || s.db == nil {
		return errors.New("characters: store not initialized")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&imageRow{}).
			Where("id = ? AND character_id = ?", imageID, characterID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrThumbnailImageNotFound
		}

		result := tx.Model(&Character{}).Where("id = ?", characterID).Updates(map[string]interface{}{
			"thumbnail_image_id": imageID,
			"updated_at":         time.Now().UTC(),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ThumbnailKeys 批量查询图片 ID 对应的对象存储键,供列表接口拼装头图 URL。
func (s *CharacterStore) ThumbnailKeys(ctx context.Context, imageIDs []uint64) (map[uint64]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("characters: store not initialized")
	}
	if len(imageIDs) == 0 {
		return map[uint64]string{}, nil
	}

	var rows []imageRow
	if err := s.db.WithContext(ctx).
		Where("id IN ?", imageIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	keys := make(map[uint64]string, len(rows))
	for _, row := range rows {
		if key := strings.TrimSpace(row.ObjectKey); key != "" {
			keys[row.ID] = key
		}
	}
	return keys, nil
}

// MediaCounts 统计角色名下的图片与视频数量。
func (s *CharacterStore) MediaCounts(ctx context.Context, characterID uint64) (images, videos int64, err error) {
	if s == nil || s.db == nil {
		return 0, 0, errors.New("characters: store not initialized")
	}

	if err := s.db.WithContext(ctx).Model(&imageRow{}).
		Where("character_id = ?", characterID).
		Count(&images).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.WithContext(ctx).Model(&videoRow{}).
		Where("character_id = ?", characterID).
		Count(&videos).Error; err != nil {
		return 0, 0, err
	}
	return images, videos, nil
}

// MediaCountsByCharacter 批量统计多个角色的图片与视频数量,
// 返回角色 ID 到数量的映射,没有内容的角色不出现在映射中。
func (s *CharacterStore) MediaCountsByCharacter(ctx context.Context, characterIDs []uint64) (images, videos map[uint64]int64, err error) {
	images = make(map[uint64]int64)
	videos = make(map[uint64]int64)
	if s == nil || s.db == nil {
		return nil, nil, errors.New("characters: store not initialized")
	}
	if len(characterIDs) == 0 {
		return images, videos, nil
	}

	type countRow struct {
		CharacterID uint64
		Total       int64
	}

	var rows []countRow
	if err := s.db.WithContext(ctx).Model(&imageRow{}).
		Select("character_id, COUNT(*) AS total").
		Where("character_id IN ?", characterIDs).
		Group("character_id").
		Scan(&rows).Error; err != nil {
		return nil, nil, err
	}
	for _, row := range rows {
		images[row.CharacterID] = row.Total
	}

	rows = rows[:0]
	if err := s.db.WithContext(ctx).Model(&videoRow{}).
		Select("character_id, COUNT(*) AS total").
		Where("character_id IN ?", characterIDs).
		Group("character_id").
		Scan(&rows).Error; err != nil {
		return nil, nil, err
	}
	for _, row := range rows {
		videos[row.CharacterID] = row.Total
	}

	return images, videos, nil
}

// isUniqueViolation 识别各驱动未归一化的唯一约束错误。
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") ||
		strings.Contains(message, "duplicate entry") ||
		strings.Contains(message, "unique failed") ||
		strings.Contains(message, "constraint failed")
}
