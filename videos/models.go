package videos

import "time"

// CharacterVideo 记录一次视频生成的结果与参数。文件本体存于对象存储,
// 行内只保留 object key。
type CharacterVideo struct {
	ID              uint64    `gorm:"primaryKey" json:"id"`
	CharacterID     uint64    `gorm:"not null;index" json:"character_id"`
	UserID          uint64    `gorm:"not null;index" json:"user_id"`
	SourceImageID   *uint64   `gorm:"index" json:"source_image_id,omitempty"`
	ObjectKey       string    `gorm:"size:255;not null" json:"-"`
	Prompt          string    `gorm:"type:text;not null" json:"prompt"`
	ModelID         string    `gorm:"size:64;not null" json:"model_id"`
	Width           int       `gorm:"not null;default:0" json:"width"`
	Height          int       `gorm:"not null;default:0" json:"height"`
	DurationSeconds int       `gorm:"not null" json:"duration_seconds"`
	FPS             int       `gorm:"not null;default:24" json:"fps"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName 指定 CharacterVideo 模型对应的数据库表名。
func (CharacterVideo) TableName() string {
	return "character_videos"
}
