package characters

import (
	"time"

	"gorm.io/datatypes"
)

// Character 表示用户创建的角色设定,是所有生成内容的归属根。
// Personality 与 Appearance 是提示词拼装的核心素材,创建时必填。
type Character struct {
	ID            uint64         `gorm:"primaryKey" json:"id"`
	UserID        uint64         `gorm:"not null;index;uniqueIndex:idx_user_slug" json:"user_id"`
	Name          string         `gorm:"size:100;not null" json:"name"`
	Slug          string         `gorm:"size:120;not null;uniqueIndex:idx_user_slug" json:"slug"`
	Personality   string         `gorm:"type:text;not null" json:"personality"`
	Appearance    string         `gorm:"type:text;not null" json:"appearance"`
	Age           *string        `gorm:"size:32" json:"age,omitempty"`
	Setting       *string        `gorm:"type:text" json:"setting,omitempty"`
	Description   *string        `gorm:"type:text" json:"description,omitempty"`
	SpecialTraits datatypes.JSON `gorm:"type:json" json:"special_traits,omitempty"`
	// ThumbnailImageID 指向 character_images 中被选为头图的记录。
	ThumbnailImageID *uint64   `gorm:"index" json:"thumbnail_image_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName 指定 Character 模型对应的数据库表名。
func (Character) TableName() string {
	return "characters"
}

// imageRow 与 videoRow 是生成内容表的只读镜像,用于统计与级联删除,
// 避免与 images、videos 包产生循环依赖。
type imageRow struct {
	ID          uint64 `gorm:"primaryKey"`
	CharacterID uint64
	ObjectKey   string
}

func (imageRow) TableName() string {
	return "character_images"
}

type videoRow struct {
	ID          uint64 `gorm:"primaryKey"`
	CharacterID uint64
	ObjectKey   string
}

func (videoRow) TableName() string {
	return "character_videos"
}
