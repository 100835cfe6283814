package characters

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
	rediscache "animealchemist_back/cache"
	filestore "animealchemist_back/storage"
	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	claimUserIDKey     = "user_id"
	thumbnailURLExpiry = 15 * time.Minute
)

// Module 聚合角色模块的数据库、对象存储与缓存依赖。
type Module struct {
	db    *gorm.DB
	store *CharacterStore
	media *filestore.MediaStorage
	cache *listCache
}

// RegisterRoutes 初始化角色模块并注册所有相关路由。
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Character{}); err != nil {
		return nil, err
	}

	mediaStore, err := filestore.NewMediaStorageFromEnv()
	if err != nil {
		return nil, err
	}

	var characterCache *listCache
	if client, err := rediscache.GetRedisClient(); err != nil {
		log.Printf("characters: redis unavailable, list cache disabled: %v", err)
	} else {
		characterCache = newListCache(client)
	}

	module := &Module{
		db:    db,
		store: NewCharacterStore(db),
		media: mediaStore,
		cache: characterCache,
	}

	group := router.Group("/characters")
	if guard != nil {
		group.Use(guard.OptionalAuthenticated())
	}
	group.GET("", module.handleListCharacters)
	group.GET("/:id", module.handleGetCharacter)
	group.GET("/slug/:slug", module.handleGetCharacterBySlug)

	authGroup := router.Group("/characters")
	if guard != nil {
		authGroup.Use(guard.RequireAuthenticated())
	} else {
		authGroup.Use(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization middleware missing"})
		})
	}
	authGroup.POST("", module.handleCreateCharacter)
	authGroup.PUT("/:id", module.handleUpdateCharacter)
	authGroup.PUT("/:id/thumbnail", module.handleUpdateThumbnail)
	authGroup.DELETE("/:id", module.handleDeleteCharacter)

	return module, nil
}

// Store 返回角色存储,供其他模块复用。
func (m *Module) Store() *CharacterStore {
	if m == nil {
		return nil
	}
	return m.store
}

// RequireOwned 加载角色并校验属主。角色不存在返回 ErrNotFound,
// 属主不符返回 ErrNotOwner。
func (m *Module) RequireOwned(ctx context.Context, characterID, userID uint64) (*Character, error) {
	if m == nil || m.store == nil {
		return nil, errors.New("characters: module not initialized")
	}

	character, err := m.store.FindByID(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if character.UserID != userID {
		return nil, ErrNotOwner
	}
	return character, nil
}

// InvalidateList 清除用户的角色列表缓存。生成内容变化时由 images、videos 模块调用。
func (m *Module) InvalidateList(ctx context.Context, userID uint64) {
	if m == nil {
		return
	}
	m.cache.invalidate(ctx, userID)
}

// SetThumbnail 将角色头图指向一张已生成的图片并刷新缓存。
// 图片模块在带 initial 标记的生成完成后调用。
func (m *Module) SetThumbnail(ctx context.Context, characterID, imageID, userID uint64) error {
	if m == nil || m.store == nil {
		return errors.New("characters: module not initialized")
	}
	if err := m.store.SetThumbnail(ctx, characterID, imageID); err != nil {
		return err
	}
	m.cache.invalidate(ctx, userID)
	return nil
}

type createCharacterRequest struct {
	Name          string   `json:"name" binding:"required"`
	Personality   string   `json:"personality"`
	Appearance    string   `json:"appearance"`
	Age           *string  `json:"age"`
	Setting       *string  `json:"setting"`
	Description   *string  `json:"description"`
	SpecialTraits []string `json:"special_traits"`
}

// newCharacterFromRequest 校验创建请求并组装角色记录。名称、性格与外貌
// 必填,其余字段可选,特质列表去重去空白。
func newCharacterFromRequest(userID uint64, req createCharacterRequest) (*Character, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	personality := strings.TrimSpace(req.Personality)
	appearance := strings.TrimSpace(req.Appearance)
	if personality == "" || appearance == "" {
		return nil, ErrTraitsRequired
	}

	character := &Character{
		UserID:      userID,
		Name:        name,
		Slug:        Slugify(name),
		Personality: personality,
		Appearance:  appearance,
		Age:         normalizeStringPointer(req.Age),
		Setting:     normalizeStringPointer(req.Setting),
		Description: normalizeStringPointer(req.Description),
	}

	if traits := normalizeTraits(req.SpecialTraits); len(traits) > 0 {
		if data, err := json.Marshal(traits); err == nil {
			character.SpecialTraits = datatypes.JSON(data)
		}
	}

	return character, nil
}

type updateThumbnailRequest struct {
	ImageID uint64 `json:"image_id" binding:"required"`
}

type updateCharacterRequest struct {
	Name          *string   `json:"name"`
	Personality   *string   `json:"personality"`
	Appearance    *string   `json:"appearance"`
	Age           *string   `json:"age"`
	Setting       *string   `json:"setting"`
	Description   *string   `json:"description"`
	SpecialTraits *[]string `json:"special_traits"`
}

// handleCreateCharacter godoc
// @Summary 创建角色
// @Description 创建新的角色设定,slug 由名称派生且同一用户下唯一
// @Tags Characters
// @Accept json
// @Produce json
// @Param request body createCharacterRequest true "角色信息"
// @Success 201 {object} map[string]interface{} "创建成功的角色"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 401 {object} map[string]string "未授权"
// @Failure 409 {object} map[string]string "slug 冲突"
// @Failure 500 {object} map[string]string "服务器错误"
// handleCreateCharacter 处理创建角色的请求并落库。
func (m *Module) handleCreateCharacter(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	userID := currentUserID(c)
	if userID == 0 {
		apperrors.Abort(c, apperrors.ErrUserNotAuthenticated)
		return
	}

	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	character, err := newCharacterFromRequest(userID, req)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := m.store.Create(ctx, character); err != nil {
		if coded, ok := apperrors.From(err); ok {
			apperrors.Abort(c, coded)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create character", "details": err.Error()})
		return
	}

	m.cache.invalidate(ctx, userID)

	c.JSON(http.StatusCreated, gin.H{"character": character})
}

// handleListCharacters godoc
// @Summary 列出我的角色
// @Description 返回当前用户的全部角色,匿名请求返回空列表
// @Tags Characters
// @Produce json
// @Success 200 {object} map[string]interface{} "角色列表"
// @Failure 500 {object} map[string]string "服务器错误"
// handleListCharacters 返回当前用户的角色列表。
func (m *Module) handleListCharacters(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	userID := currentUserID(c)
	if userID == 0 {
		c.JSON(http.StatusOK, gin.H{"characters": []Character{}})
		return
	}

	ctx := c.Request.Context()
	if cached, err := m.cache.get(ctx, userID); err == nil {
		c.JSON(http.StatusOK, gin.H{"characters": m.characterPayloads(ctx, cached)})
		return
	}

	characters, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list characters", "details": err.Error()})
		return
	}
	if characters == nil {
		characters = []Character{}
	}

	m.cache.store(ctx, userID, characters)

	c.JSON(http.StatusOK, gin.H{"characters": m.characterPayloads(ctx, characters)})
}

// characterPayloads 为角色列表拼装响应体:附带图片、视频数量与头图的
// 临时访问 URL。统计与头图键都走批量查询,避免逐角色回表。
func (m *Module) characterPayloads(ctx context.Context, list []Character) []gin.H {
	characterIDs := make([]uint64, 0, len(list))
	imageIDs := make([]uint64, 0, len(list))
	for i := range list {
		characterIDs = append(characterIDs, list[i].ID)
		if list[i].ThumbnailImageID != nil {
			imageIDs = append(imageIDs, *list[i].ThumbnailImageID)
		}
	}

	imageCounts, videoCounts, err := m.store.MediaCountsByCharacter(ctx, characterIDs)
	if err != nil {
		log.Printf("characters: load media counts failed: %v", err)
		imageCounts, videoCounts = map[uint64]int64{}, map[uint64]int64{}
	}

	thumbnailKeys := map[uint64]string{}
	if len(imageIDs) > 0 {
		if loaded, err := m.store.ThumbnailKeys(ctx, imageIDs); err != nil {
			log.Printf("characters: load thumbnail keys failed: %v", err)
		} else {
			thumbnailKeys = loaded
		}
	}

	payloads := make([]gin.H, 0, len(list))
	for i := range list {
		payload := gin.H{
			"character":   list[i],
			"image_count": imageCounts[list[i].ID],
			"video_count": videoCounts[list[i].ID],
		}
		if list[i].ThumbnailImageID != nil {
			if key, ok := thumbnailKeys[*list[i].ThumbnailImageID]; ok {
				if url, err := m.media.URL(ctx, key, thumbnailURLExpiry); err == nil && url != "" {
					payload["thumbnail_url"] = url
				}
			}
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

// handleGetCharacter godoc
// @Summary 查询角色详情
// @Description 按 ID 返回角色与媒体统计,仅属主可见
// @Tags Characters
// @Produce json
// @Param id path int true "角色ID"
// @Success 200 {object} map[string]interface{} "角色详情"
// @Failure 404 {object} map[string]string "未找到"
// @Failure 500 {object} map[string]string "服务器错误"
// handleGetCharacter 按 ID 查询角色详情。
func (m *Module) handleGetCharacter(c *gin.Context) {
	characterID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid character id"})
		return
	}

	// 非属主与匿名请求一律按不存在处理,避免泄露角色归属。
	userID := currentUserID(c)
	if userID == 0 {
		apperrors.Abort(c, ErrNotFound)
		return
	}

	ctx := c.Request.Context()
	character, err := m.store.FindByID(ctx, characterID)
	if err != nil {
		m.abortCharacterError(c, err)
		return
	}
	if character.UserID != userID {
		apperrors.Abort(c, ErrNotFound)
		return
	}

	images, videos, err := m.store.MediaCounts(ctx, character.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load media counts", "details": err.Error()})
		return
	}

	payload := gin.H{
		"character":   character,
		"image_count": images,
		"video_count": videos,
	}
	if character.ThumbnailImageID != nil {
		if keys, err := m.store.ThumbnailKeys(ctx, []uint64{*character.ThumbnailImageID}); err == nil {
			if key, ok := keys[*character.ThumbnailImageID]; ok {
				if url, err := m.media.URL(ctx, key, thumbnailURLExpiry); err == nil && url != "" {
					payload["thumbnail_url"] = url
				}
			}
		}
	}

	c.JSON(http.StatusOK, payload)
}

// handleGetCharacterBySlug godoc
// @Summary 按 slug 查询角色
// @Description 在当前用户名下按 slug 返回角色
// @Tags Characters
// @Produce json
// @Param slug path string true "角色 slug"
// @Success 200 {object} map[string]interface{} "角色详情"
// @Failure 404 {object} map[string]string "未找到"
// @Failure 500 {object} map[string]string "服务器错误"
// handleGetCharacterBySlug 按 slug 查询角色。
func (m *Module) handleGetCharacterBySlug(c *gin.Context) {
	slug := strings.TrimSpace(c.Param("slug"))
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid character slug"})
		return
	}

	userID := currentUserID(c)
	if userID == 0 {
		apperrors.Abort(c, ErrNotFound)
		return
	}

	character, err := m.store.FindBySlug(c.Request.Context(), userID, slug)
	if err != nil {
		m.abortCharacterError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"character": character})
}

// handleUpdateCharacter godoc
// @Summary 更新角色
// @Description 更新角色设定,名称变化时重新派生 slug
// @Tags Characters
// @Accept json
// @Produce json
// @Param id path int true "角色ID"
// @Param request body updateCharacterRequest true "更新内容"
// @Success 200 {object} map[string]interface{} "更新后的角色"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 401 {object} map[string]string "未授权"
// @Failure 403 {object} map[string]string "权限不足"
// @Failure 404 {object} map[string]string "未找到"
// @Failure 409 {object} map[string]string "slug 冲突"
// @Failure 500 {object} map[string]string "服务器错误"
// handleUpdateCharacter 处理角色信息的更新操作。
func (m *Module) handleUpdateCharacter(c *gin.Context) {
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

	var req updateCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	if _, err := m.RequireOwned(ctx, characterID, userID); err != nil {
		m.abortCharacterError(c, err)
		return
	}

	updates := make(map[string]interface{})

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			apperrors.Abort(c, ErrNameRequired)
			return
		}
		updates["name"] = name
		updates["slug"] = Slugify(name)
	}
	if req.Personality != nil {
		personality := strings.TrimSpace(*req.Personality)
		if personality == "" {
			apperrors.Abort(c, ErrTraitsRequired)
			return
		}
		updates["personality"] = personality
	}
	if req.Appearance != nil {
		appearance := strings.TrimSpace(*req.Appearance)
		if appearance == "" {
			apperrors.Abort(c, ErrTraitsRequired)
			return
		}
		updates["appearance"] = appearance
	}
	if req.Age != nil {
		updates["age"] = nullableString(req.Age)
	}
	if req.Setting != nil {
		updates["setting"] = nullableString(req.Setting)
	}
	if req.Description != nil {
		updates["description"] = nullableString(req.Description)
	}
	if req.SpecialTraits != nil {
		if data, err := json.Marshal(normalizeTraits(*req.SpecialTraits)); err == nil {
			updates["special_traits"] = datatypes.JSON(data)
		}
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	character, err := m.store.Update(ctx, characterID, updates)
	if err != nil {
		m.abortCharacterError(c, err)
		return
	}

	m.cache.invalidate(ctx, userID)

	c.JSON(http.StatusOK, gin.H{"character": character})
}

// handleUpdateThumbnail godoc
// @Summary 设置角色头图
// @Description 将角色名下的一张已生成图片设为头图
// @Tags Characters
// @Accept json
// @Produce json
// @Param id path int true "角色ID"
// @Param request body updateThumbnailRequest true "头图图片"
// @Success 200 {object} map[string]interface{} "更新后的角色"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 401 {object} map[string]string "未授权"
// @Failure 404 {object} map[string]string "角色或图片不存在"
// handleUpdateThumbnail 更新角色头图。
func (m *Module) handleUpdateThumbnail(c *gin.Context) {
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

	var req updateThumbnailRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ImageID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()
	if _, err := m.RequireOwned(ctx, characterID, userID); err != nil {
		m.abortCharacterError(c, err)
		return
	}

	if err := m.SetThumbnail(ctx, characterID, req.ImageID, userID); err != nil {
		m.abortCharacterError(c, err)
		return
	}

	character, err := m.store.FindByID(ctx, characterID)
	if err != nil {
		m.abortCharacterError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"character": character})
}

// handleDeleteCharacter godoc
// @Summary 删除角色
// @Description 删除角色及其名下全部图片与视频,包含对象存储中的文件
// @Tags Characters
// @Produce json
// @Param id path int true "角色ID"
// @Success 200 {object} map[string]interface{} "删除结果"
// @Failure 401 {object} map[string]string "未授权"
// @Failure 403 {object} map[string]string "权限不足"
// @Failure 404 {object} map[string]string "未找到"
// @Failure 500 {object} map[string]string "服务器错误"
// handleDeleteCharacter 删除角色并级联清理生成内容。
func (m *Module) handleDeleteCharacter(c *gin.Context) {
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

	ctx := c.Request.Context()
	if _, err := m.RequireOwned(ctx, characterID, userID); err != nil {
		m.abortCharacterError(c, err)
		return
	}

	objectKeys, err := m.store.Delete(ctx, characterID)
	if err != nil {
		m.abortCharacterError(c, err)
		return
	}

	// 行已删除,blob 清理失败只记录日志,避免半途失败留下悬挂记录。
	for _, key := range objectKeys {
		if err := m.media.Remove(ctx, key); err != nil {
			log.Printf("characters: remove media object %s failed: %v", key, err)
		}
	}

	m.cache.invalidate(ctx, userID)

	c.JSON(http.StatusOK, gin.H{"deleted": true, "removed_media": len(objectKeys)})
}

// abortCharacterError 将存储层错误映射为响应。
func (m *Module) abortCharacterError(c *gin.Context, err error) {
	if coded, ok := apperrors.From(err); ok {
		apperrors.Abort(c, coded)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "character operation failed", "details": err.Error()})
}

// normalizeTraits 去重并清理特质列表。
func normalizeTraits(traits []string) []string {
	seen := make(map[string]struct{}, len(traits))
	result := make([]string, 0, len(traits))
	for _, trait := range traits {
		trimmed := strings.TrimSpace(trait)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

// normalizeStringPointer 清理可选字符串字段并将空白视为未提供。
func normalizeStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	copy := trimmed
	return &copy
}

// nullableString 将空白字符串映射为 NULL,用于 Updates 语句。
func nullableString(value *string) interface{} {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return trimmed
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
	case string:
		if parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
