package images

import (
	"time"

	"gorm.io/datatypes"
)

// CharacterImage 记录一次图片生成的结果与参数。文件本体存于对象存储,
// 行内只保留 object key。
type CharacterImage struct {
	ID             uint64         `gorm:"primaryKey" json:"id"`
	CharacterID    uint64         `gorm:"not null;index" json:"character_id"`
	UserID         uint64         `gorm:"not null;index" json:"user_id"`
	ObjectKey      string         `gorm:"size:255;not null" json:"-"`
	Prompt         string         `gorm:"type:text;not null" json:"prompt"`
	UserPrompt     *string        `gorm:"type:text" json:"user_prompt,omitempty"`
	AspectRatio    string         `gorm:"size:16;not null;default:'1:1'" json:"aspect_ratio"`
	Width          int            `gorm:"not null;default:0" json:"width"`
	Height         int            `gorm:"not null;default:0" json:"height"`
	GenerationType string         `gorm:"size:16;not null;default:'text2img'" json:"generation_type"`
	Strength       *float64       `json:"strength,omitempty"`
	ModelID        string         `gorm:"size:64;not null" json:"model_id"`
	ModelParams    datatypes.JSON `gorm:"type:json" json:"model_params,omitempty"`
	SourceImageID  *uint64        `gorm:"index" json:"source_image_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName 指定 CharacterImage 模型对应的数据库表名。
func (CharacterImage) TableName() string {
	return "character_images"
}
