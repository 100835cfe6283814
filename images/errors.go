package images

import (
	"net/http"

	"animealchemist_back/apperrors"
)

var (
	// ErrNotFound 图片不存在或不属于当前用户。
	ErrNotFound = apperrors.New(http.StatusNotFound, "IMAGE_NOT_FOUND", "Image not found")
	// ErrInvalidAspectRatio 不支持的画幅比例。
	ErrInvalidAspectRatio = apperrors.New(http.StatusBadRequest, "INVALID_ASPECT_RATIO", "Unsupported aspect ratio")
	// ErrGenerationFailed 上游生成服务失败。
	ErrGenerationFailed = apperrors.New(http.StatusBadGateway, "GENERATION_FAILED", "Image generation failed")
)
