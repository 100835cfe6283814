package videos

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"animealchemist_back/apperrors"
	"animealchemist_back/authorization"
	"animealchemist_back/characters"
	"animealchemist_back/images"
	filestore "animealchemist_back/storage"
	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	claimUserIDKey = "user_id"
	videoURLExpiry = 15 * time.Minute
)

// KeySource 提供按用户解密后的生成服务 API Key。
type KeySource interface {
	PlaintextAPIKey(ctx context.Context, userID uint64) (string, error)
}

// Module 聚合视频模块的数据库、对象存储与上游模块依赖。
type Module struct {
	db         *gorm.DB
	store      *VideoStore
	characters *characters.Module
	images     *images.Module
	media      *filestore.MediaStorage
	keys       KeySource
}

// RegisterRoutes 初始化视频模块并注册所有相关路由。
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, keys KeySource, charactersModule *characters.Module, imagesModule *images.Module) (*Module, error) {
	if keys == nil {
		return nil, errors.New("videos: key source is required")
	}
	if charactersModule == nil {
		return nil, errors.New("videos: characters module is required")
	}
	if imagesModule == nil {
		return nil, errors.New("videos: images module is required")
	}

	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&CharacterVideo{}); err != nil {
		return nil, err
	}

	mediaStore, err := filestore.NewMediaStorageFromEnv()
	if err != nil {
		return nil, err
	}

	module := &Module{
		db:         db,
		store:      NewVideoStore(db),
		characters: charactersModule,
		images:     imagesModule,
		media:      mediaStore,
		keys:       keys,
	}

	readGroup := router.Group("")
	if guard != nil {
		readGroup.Use(guard.OptionalAuthenticated())
	}
	readGroup.GET("/characters/:id/videos", module.handleListVideos)
	readGroup.GET("/videos/:id", module.handleGetVideo)

	authGroup := router.Group("")
	if guard != nil {
		authGroup.Use(guard.RequireAuthenticated())
	} else {
		authGroup.Use(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization middleware missing"})
		})
	}
	authGroup.POST("/images/:id/videos", module.handleGenerateVideo)
	authGroup.DELETE("/videos/:id", module.handleDeleteVideo)

	return module, nil
}

type generateVideoRequest struct {
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds"`
}

// handleGenerateVideo godoc
// @Summary 基于图片生成视频
// @Description 以指定图片为首帧,调用生成服务产出短视频
// @Tags Videos
// @Accept json
// @Produce json
// @Param id path int true "源图片ID"
// @Param request body generateVideoRequest true "生成参数"
// @Success 201 {object} map[string]interface{} "生成的视频"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 401 {object} map[string]string "未授权"
// @Failure 404 {object} map[string]string "源图片不存在"
// @Failure 412 {object} map[string]string "未配置 API Key"
// @Failure 502 {object} map[string]string "生成失败"
// handleGenerateVideo 处理 img2video 生成请求。
func (m *Module) handleGenerateVideo(c *gin.Context) {
	imageID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	userID := currentUserID(c)
	if userID == 0 {
		apperrors.Abort(c, apperrors.ErrUserNotAuthenticated)
		return
	}

	var req generateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	source, err := m.images.RequireOwned(ctx, imageID, userID)
	if err != nil {
		// 源图片错误换用视频模块的错误码。
		if coded, ok := apperrors.From(err); ok && coded.Code == "IMAGE_NOT_FOUND" {
			apperrors.Abort(c, ErrSourceImageNotFound)
			return
		}
		m.abortVideoError(c, err)
		return
	}

	apiKey, err := m.keys.PlaintextAPIKey(ctx, userID)
	if err != nil {
		m.abortVideoError(c, err)
		return
	}

	video, err := m.generateVideo(ctx, apiKey, source, req.Prompt, req.DurationSeconds)
	if err != nil {
		m.abortVideoError(c, err)
		return
	}

	m.characters.InvalidateList(ctx, userID)

	c.JSON(http.StatusCreated, m.videoPayload(ctx, video))
}

// handleListVideos godoc
// @Summary 列出角色视频
// @Description 返回角色名下的全部视频,匿名请求返回空列表
// @Tags Videos
// @Produce json
// @Param id path int true "角色ID"
// @Success 200 {object} map[string]interface{} "视频列表"
// @Failure 404 {object} map[string]string "角色不存在"
// handleListVideos 返回角色的视频列表。
func (m *Module) handleListVideos(c *gin.Context) {
	characterID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid character id"})
		return
	}

	userID := currentUserID(c)
	if userID == 0 {
		c.JSON(http.StatusOK, gin.H{"videos": []gin.H{}})
		return
	}

	ctx := c.Request.Context()
	if _, err := m.characters.RequireOwned(ctx, characterID, userID); err != nil {
		m.abortVideoError(c, err)
		return
	}

	videos, err := m.store.ListByCharacter(ctx, characterID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list videos", "details": err.Error()})
		return
	}

	payloads := make([]map[string]any, 0, len(videos))
	for i := range videos {
		payloads = append(payloads, m.videoPayload(ctx, &videos[i]))
	}

	c.JSON(http.StatusOK, gin.H{"videos": payloads})
}

// handleGetVideo godoc
// @Summary 查询视频详情
// @Description 按 ID 返回视频与临时访问 URL,仅属主可见
// @Tags Videos
// @Produce json
// @Param id path int true "视频ID"
// @Success 200 {object} map[string]interface{} "视频详情"
// @Failure 404 {object} map[string]string "未找到"
// handleGetVideo 按 ID 查询视频详情。
func (m *Module) handleGetVideo(c *gin.Context) {
	videoID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	userID := currentUserID(c)
	if userID == 0 {
		apperrors.Abort(c, ErrNotFound)
		return
	}

	ctx := c.Request.Context()
	video, err := m.requireOwned(ctx, videoID, userID)
	if err != nil {
		m.abortVideoError(c, err)
		return
	}

	c.JSON(http.StatusOK, m.videoPayload(ctx, video))
}

// handleDeleteVideo godoc
// @Summary 删除视频
// @Description 删除视频记录与对象存储中的文件
// @Tags Videos
// @Produce json
// @Param id path int true "视频ID"
// @Success 200 {object} map[string]interface{} "删除结果"
// @Failure 401 {object} map[string]string "未授权"
// @Failure 404 {object} map[string]string "未找到"
// handleDeleteVideo 删除视频并清理存储。
func (m *Module) handleDeleteVideo(c *gin.Context) {
	videoID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	userID := currentUserID(c)
	if userID == 0 {
		apperrors.Abort(c, apperrors.ErrUserNotAuthenticated)
		return
	}

	ctx := c.Request.Context()
	if _, err := m.requireOwned(ctx, videoID, userID); err != nil {
		m.abortVideoError(c, err)
		return
	}

	objectKey, err := m.store.Delete(ctx, videoID)
	if err != nil {
		m.abortVideoError(c, err)
		return
	}

	if objectKey != "" {
		if err := m.media.Remove(ctx, objectKey); err != nil {
			log.Printf("videos: remove media object %s failed: %v", objectKey, err)
		}
	}

	m.characters.InvalidateList(ctx, userID)

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// requireOwned 加载视频并校验属主。
func (m *Module) requireOwned(ctx context.Context, videoID, userID uint64) (*CharacterVideo, error) {
	video, err := m.store.FindByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video.UserID != userID {
		return nil, ErrNotFound
	}
	return video, nil
}

// videoPayload 组装对外返回的视频信息,附带临时访问 URL。
func (m *Module) videoPayload(ctx context.Context, video *CharacterVideo) map[string]any {
	payload := map[string]any{"video": video}
	if url, err := m.media.URL(ctx, video.ObjectKey, videoURLExpiry); err == nil && url != "" {
		payload["url"] = url
	}
	if video.SourceImageID != nil {
		if url, err := m.images.URLByID(ctx, *video.SourceImageID); err == nil && url != "" {
			payload["source_image_url"] = url
		}
	}
	return payload
}

// abortVideoError 将存储与生成层错误映射为响应。
func (m *Module) abortVideoError(c *gin.Context, err error) {
	if coded, ok := apperrors.From(err); ok {
		apperrors.Abort(c, coded)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "video operation failed", "details": err.Error()})
}

// parseUintID 解析路径中的数字主键。
func parseUintID(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("invalid id")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// currentUserID 从 JWT 声明中解析当前用户 ID,匿名请求返回 0。
func currentUserID(c *gin.Context) uint64 {
	if c == nil {
		return 0
	}

	claims := jwt.ExtractClaims(c)
	if len(claims) == 0 {
		return 0
	}

	switch v := claims[claimUserIDKey].(type) {
	case float64:
		if v <= 0 {
			return 0
		}
		return uint64(v)
	case int64:
		if v <= 0 {
			return 0
		}
		return uint64(v)
	case uint64:
		return v
	case int:
		if v <= 0 {
			return 0
		}
		return uint64(v)
	case uint:
		return uint64(v)
	case json.Number:
		if parsed, err := v.Int64(); err == nil && parsed > 0 {
			return uint64(parsed)
		}
	}
	return 0
}
