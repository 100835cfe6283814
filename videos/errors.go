package videos

import (
	"net/http"

	"animealchemist_back/apperrors"
)

var (
	// ErrNotFound 视频不存在或不属于当前用户。
	ErrNotFound = apperrors.New(http.StatusNotFound, "VIDEO_NOT_FOUND", "Video not found")
	// ErrSourceImageNotFound 作为底图的源图片不存在。
	ErrSourceImageNotFound = apperrors.New(http.StatusNotFound, "SOURCE_IMAGE_NOT_FOUND", "Source image not found")
	// ErrInvalidDuration 不支持的视频时长。
	ErrInvalidDuration = apperrors.New(http.StatusBadRequest, "INVALID_DURATION", "Unsupported video duration")
	// ErrGenerationFailed 上游生成服务失败。
	ErrGenerationFailed = apperrors.New(http.StatusBadGateway, "VIDEO_GENERATION_FAILED", "Video generation failed")
)
