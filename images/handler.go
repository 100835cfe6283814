package images

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
	"animealchemist_back/replicate"
	filestore "animealchemist_back/storage"
	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	claimUserIDKey = "user_id"
	imageURLExpiry = 15 * time.Minute
)

// KeySource 提供按用户解密后的生成服务 API Key。
type KeySource interface {
	PlaintextAPIKey(ctx context.Context, userID uint64) (string, error)
}

// mediaStore 抽象对象存储依赖,生产实现为 storage.MediaStorage。
type mediaStore interface {
	Save(ctx context.Context, data []byte, contentType string, pathSegments ...string) (string, error)
	URL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, objectKey string) error
}

// Module 聚合图片模块的数据库、对象存储与凭据依赖。
type Module struct {
	db            *gorm.DB
	store         *ImageStore
	characters    *characters.Module
	media         mediaStore
	keys          KeySource
	replicateOpts []replicate.Option
}

// RegisterRoutes 初始化图片模块并注册所有相关路由。
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, keys KeySource, charactersModule *characters.Module) (*Module, error) {
	if keys == nil {
		return nil, errors.New("images: key source is required")
	}
	if charactersModule == nil {
		return nil, errors.New("images: characters module is required")
	}

	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&CharacterImage{}); err != nil {
		return nil, err
	}

	media, err := filestore.NewMediaStorageFromEnv()
	if err != nil {
		return nil, err
	}

	module := &Module{
		db:         db,
		store:      NewImageStore(db),
		characters: charactersModule,
		media:      media,
		keys:       keys,
	}

	readGroup := router.Group("")
	if guard != nil {
		readGroup.Use(guard.OptionalAuthenticated())
	}
	readGroup.GET("/characters/:id/images", module.handleListImages)
	readGroup.GET("/images/:id", module.handleGetImage)

	authGroup := router.Group("")
	if guard != nil {
		authGroup.Use(guard.RequireAuthenticated())
	} else {
		authGroup.Use(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization middleware missing"})
		})
	}
	authGroup.POST("/characters/:id/images", module.handleGenerateImage)
	authGroup.POST("/images/:id/variations", module.handleGenerateVariation)
	authGroup.DELETE("/images/:id", module.handleDeleteImage)

	return module, nil
}

// RequireOwned 加载图片并校验属主,供视频模块复用。
func (m *Module) RequireOwned(ctx context.Context, imageID, userID uint64) (*CharacterImage, error) {
	if m == nil || m.store == nil {
		return nil, errors.New("images: module not initialized")
	}

	image, err := m.store.FindByID(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if image.UserID != userID {
		return nil, ErrNotFound
	}
	return image, nil
}

// PresignedURL 返回图片对象的临时访问 URL。
func (m *Module) PresignedURL(ctx context.Context, image *CharacterImage) (string, error) {
	if m == nil || m.media == nil || image == nil {
		return "", errors.New("images: module not initialized")
	}
	return m.media.URL(ctx, image.ObjectKey, imageURLExpiry)
}

// URLByID 按图片 ID 返回临时访问 URL,供视频模块拼装源图片信息。
// 属主校验由调用方负责。
func (m *Module) URLByID(ctx context.Context, imageID uint64) (string, error) {
	if m == nil || m.store == nil {
		return "", errors.New("images: module not initialized")
	}
	image, err := m.store.FindByID(ctx, imageID)
	if err != nil {
		return "", err
	}
	return m.PresignedURL(ctx, image)
}

type generateImageRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	// Initial 标记角色的首张生成图,成功后自动设为角色头图。
	Initial bool `json:"initial"`
}

type generateVariationRequest struct {
	Prompt   string   `json:"prompt"`
	Strength *float64 `json:"strength"`
}

// handleGenerateImage godoc
// @Summary 为角色生成图片
// @Description 组合角色设定与用户提示词,调用生成服务产出新图片
// @Tags Images
// @Accept json
// @Produce json
// @Param id path int true "角色ID"
// @Param request body generateImageRequest true "生成参数"
// @Success 201 {object} map[string]interface{} "生成的图片"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 401 {object} map[string]string "未授权"
// @Failure 403 {object} map[string]string "权限不足"
// @Failure 404 {object} map[string]string "角色不存在"
// @Failure 412 {object} map[string]string "未配置 API Key"
// @Failure 502 {object} map[string]string "生成失败"
// handleGenerateImage 处理 text2img 生成请求。
func (m *Module) handleGenerateImage(c *gin.Context) {
	characterID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid character id"})
		return
	}

	userID := currentUserID(c)
	if userID == 0 {
		apperrors.Abort(c, apperrors.ErrUserNotAuthenticated)
		return
	}

	var req generateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	character, err := m.characters.RequireOwned(ctx, characterID, userID)
	if err != nil {
		m.abortImageError(c, err)
		return
	}

	apiKey, err := m.keys.PlaintextAPIKey(ctx, userID)
	if err != nil {
		m.abortImageError(c, err)
		return
	}

	image, err := m.generateImage(ctx, apiKey, character, req.Prompt, req.AspectRatio, req.Initial)
	if err != nil {
		m.abortImageError(c, err)
		return
	}

	if req.Initial {
		if err := m.characters.SetThumbnail(ctx, character.ID, image.ID, userID); err != nil {
			log.Printf("images: set character %d thumbnail failed: %v", character.ID, err)
		}
	}

	m.characters.InvalidateList(ctx, userID)

	c.JSON(http.StatusCreated, m.imagePayload(ctx, image))
}

// handleGenerateVariation godoc
// @Summary 基于现有图片生成变体
// @Description 以指定图片为底图,套用动漫风格模型做 img2img 生成
// @Tags Images
// @Accept json
// @Produce json
// @Param id path int true "源图片ID"
// @Param request body generateVariationRequest true "生成参数"
// @Success 201 {object} map[string]interface{} "生成的图片"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 401 {object} map[string]string "未授权"
// @Failure 404 {object} map[string]string "源图片不存在"
// @Failure 412 {object} map[string]string "未配置 API Key"
// @Failure 502 {object} map[string]string "生成失败"
// handleGenerateVariation 处理 img2img 变体生成请求。
func (m *Module) handleGenerateVariation(c *gin.Context) {
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

	var req generateVariationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	source, err := m.RequireOwned(ctx, imageID, userID)
	if err != nil {
		m.abortImageError(c, err)
		return
	}

	character, err := m.characters.RequireOwned(ctx, source.CharacterID, userID)
	if err != nil {
		m.abortImageError(c, err)
		return
	}

	apiKey, err := m.keys.PlaintextAPIKey(ctx, userID)
	if err != nil {
		m.abortImageError(c, err)
		return
	}

	strength := 0.0
	if req.Strength != nil {
		strength = *req.Strength
	}

	image, err := m.generateVariation(ctx, apiKey, character, source, req.Prompt, strength)
	if err != nil {
		m.abortImageError(c, err)
		return
	}

	m.characters.InvalidateList(ctx, userID)

	c.JSON(http.StatusCreated, m.imagePayload(ctx, image))
}

// handleListImages godoc
// @Summary 列出角色图片
// @Description 返回角色名下的全部图片,匿名请求返回空列表
// @Tags Images
// @Produce json
// @Param id path int true "角色ID"
// @Success 200 {object} map[string]interface{} "图片列表"
// @Failure 404 {object} map[string]string "角色不存在"
// handleListImages 返回角色的图片列表。
func (m *Module) handleListImages(c *gin.Context) {
	characterID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid character id"})
		return
	}

	userID := currentUserID(c)
	if userID == 0 {
		c.JSON(http.StatusOK, gin.H{"images": []gin.H{}})
		return
	}

	ctx := c.Request.Context()
	if _, err := m.characters.RequireOwned(ctx, characterID, userID); err != nil {
		m.abortImageError(c, err)
		return
	}

	images, err := m.store.ListByCharacter(ctx, characterID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list images", "details": err.Error()})
		return
	}

	payloads := make([]map[string]any, 0, len(images))
	for i := range images {
		payloads = append(payloads, m.imagePayload(ctx, &images[i]))
	}

	c.JSON(http.StatusOK, gin.H{"images": payloads})
}

// handleGetImage godoc
// @Summary 查询图片详情
// @Description 按 ID 返回图片与临时访问 URL,仅属主可见
// @Tags Images
// @Produce json
// @Param id path int true "图片ID"
// @Success 200 {object} map[string]interface{} "图片详情"
// @Failure 404 {object} map[string]string "未找到"
// handleGetImage 按 ID 查询图片详情。
func (m *Module) handleGetImage(c *gin.Context) {
	imageID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	userID := currentUserID(c)
	if userID == 0 {
		apperrors.Abort(c, ErrNotFound)
		return
	}

	ctx := c.Request.Context()
	image, err := m.RequireOwned(ctx, imageID, userID)
	if err != nil {
		m.abortImageError(c, err)
		return
	}

	c.JSON(http.StatusOK, m.imagePayload(ctx, image))
}

// handleDeleteImage godoc
// @Summary 删除图片
// @Description 删除图片记录与对象存储中的文件
// @Tags Images
// @Produce json
// @Param id path int true "图片ID"
// @Success 200 {object} map[string]interface{} "删除结果"
// @Failure 401 {object} map[string]string "未授权"
// @Failure 404 {object} map[string]string "未找到"
// handleDeleteImage 删除图片并清理存储。
func (m *Module) handleDeleteImage(c *gin.Context) {
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

	ctx := c.Request.Context()
	if _, err := m.RequireOwned(ctx, imageID, userID); err != nil {
		m.abortImageError(c, err)
		return
	}

	objectKey, err := m.store.Delete(ctx, imageID)
	if err != nil {
		m.abortImageError(c, err)
		return
	}

	if objectKey != "" {
		if err := m.media.Remove(ctx, objectKey); err != nil {
			log.Printf("images: remove media object %s failed: %v", objectKey, err)
		}
	}

	m.characters.InvalidateList(ctx, userID)

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// abortImageError 将存储与生成层错误映射为响应。
func (m *Module) abortImageError(c *gin.Context, err error) {
	if coded, ok := apperrors.From(err); ok {
		apperrors.Abort(c, coded)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "image operation failed", "details": err.Error()})
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
