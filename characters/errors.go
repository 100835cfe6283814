package characters

import (
	"net/http"

	"animealchemist_back/apperrors"
)

var (
	// ErrNotFound 角色不存在或不可见。
	ErrNotFound = apperrors.New(http.StatusNotFound, "CHARACTER_NOT_FOUND", "Character not found")
	// ErrNameRequired 角色名称缺失。
	ErrNameRequired = apperrors.New(http.StatusBadRequest, "CHARACTER_NAME_REQUIRED", "Character name is required")
	// ErrTraitsRequired 性格与外貌描述缺失,二者是提示词拼装的必备素材。
	ErrTraitsRequired = apperrors.New(http.StatusBadRequest, "CHARACTER_TRAITS_REQUIRED", "Character personality and appearance are required")
	// ErrSlugTaken 同一用户下 slug 冲突。
	ErrSlugTaken = apperrors.New(http.StatusConflict, "SLUG_ALREADY_EXISTS", "A character with this name already exists")
	// ErrNotOwner 当前用户不是角色属主。
	ErrNotOwner = apperrors.New(http.StatusForbidden, "NOT_CHARACTER_OWNER", "You do not own this character")
	// ErrThumbnailImageNotFound 头图指向的图片不存在或不属于该角色。
	ErrThumbnailImageNotFound = apperrors.New(http.StatusNotFound, "IMAGE_NOT_FOUND", "Image not found")
)
