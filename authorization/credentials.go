package authorization

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"animealchemist_back/apperrors"
)

// KeyCipher 负责生成 API 凭据的加解密。密钥来自环境变量,密文与 nonce 分列存储。
type KeyCipher struct {
	aead cipher.AEAD
}

// NewKeyCipherFromEnv 从 API_KEY_ENCRYPTION_KEY(64 位十六进制,对应 32 字节密钥)构建 AES-256-GCM 加密器。
func NewKeyCipherFromEnv() (*KeyCipher, error) {
	raw := strings.TrimSpace(os.Getenv("API_KEY_ENCRYPTION_KEY"))
	if raw == "" {
		return nil, errors.New("authorization: API_KEY_ENCRYPTION_KEY environment variable is required")
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("authorization: decode API_KEY_ENCRYPTION_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("authorization: API_KEY_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}

	return NewKeyCipher(key)
}

// NewKeyCipher 使用给定的 32 字节密钥构建加密器。
func NewKeyCipher(key []byte) (*KeyCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("authorization: init cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("authorization: init GCM: %w", err)
	}

	return &KeyCipher{aead: aead}, nil
}

// Encrypt 加密明文凭据,返回密文与随机 nonce。
func (k *KeyCipher) Encrypt(plaintext string) (ciphertext, nonce []byte, err error) {
	if k == nil || k.aead == nil {
		return nil, nil, errors.New("authorization: key cipher not initialized")
	}

	nonce = make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("authorization: generate nonce: %w", err)
	}

	ciphertext = k.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertext, nonce, nil
}

// Decrypt 还原明文凭据。nonce 与密文任一被篡改都会解密失败。
func (k *KeyCipher) Decrypt(ciphertext, nonce []byte) (string, error) {
	if k == nil || k.aead == nil {
		return "", errors.New("authorization: key cipher not initialized")
	}
	if len(nonce) != k.aead.NonceSize() {
		return "", errors.New("authorization: invalid nonce length")
	}

	plaintext, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("authorization: decrypt credential: %w", err)
	}

	return string(plaintext), nil
}

// saveAPIKeyRequest 保存 API 凭据的请求体。
type saveAPIKeyRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// registerAPIKeyRoutes 在已鉴权分组下挂载 API 凭据管理端点。
func (m *Module) registerAPIKeyRoutes(secured *gin.RouterGroup) {
	// SaveAPIKey godoc
	// @Summary 保存生成服务 API 凭据
	// @Description 加密存储当前用户的生成服务 API Key,覆盖旧值。
	// @Tags auth
	// @Accept json
	// @Produce json
	// @Param request body saveAPIKeyRequest true "API 凭据"
	// @Success 200 {object} map[string]any
	// @Failure 400 {object} map[string]any
	// @Failure 401 {object} map[string]any
	// @Router /auth/api-key [put]
	secured.PUT("/api-key", func(c *gin.Context) {
		var req saveAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}

		apiKey := strings.TrimSpace(req.APIKey)
		if apiKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "api_key cannot be empty"})
			return
		}

		userID := extractUserID(jwt.ExtractClaims(c))
		if userID == 0 {
			apperrors.Abort(c, apperrors.ErrUserNotAuthenticated)
			return
		}

		ciphertext, nonce, err := m.keyCipher.Encrypt(apiKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store api key", "details": err.Error()})
			return
		}

		if err := m.userStore.UpdateAPIKey(c.Request.Context(), userID, ciphertext, nonce); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store api key", "details": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"has_api_key": true})
	})

	// APIKeyStatus godoc
	// @Summary 查询 API 凭据状态
	// @Description 返回当前用户是否已配置生成服务 API Key 及掩码预览,绝不返回明文。
	// @Tags auth
	// @Produce json
	// @Success 200 {object} map[string]any
	// @Failure 401 {object} map[string]any
	// @Router /auth/api-key [get]
	secured.GET("/api-key", func(c *gin.Context) {
		userID := extractUserID(jwt.ExtractClaims(c))
		if userID == 0 {
			apperrors.Abort(c, apperrors.ErrUserNotAuthenticated)
			return
		}

		user, err := m.userStore.FindByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user", "details": err.Error()})
			return
		}

		response := gin.H{"has_api_key": len(user.APIKeyCiphertext) > 0}
		if len(user.APIKeyCiphertext) > 0 && len(user.APIKeyNonce) > 0 {
			if plaintext, err := m.keyCipher.Decrypt(user.APIKeyCiphertext, user.APIKeyNonce); err == nil {
				response["api_key_preview"] = maskAPIKey(plaintext)
			}
		}

		c.JSON(http.StatusOK, response)
	})

	// DeleteAPIKey godoc
	// @Summary 删除 API 凭据
	// @Description 清除当前用户存储的生成服务 API Key。
	// @Tags auth
	// @Produce json
	// @Success 200 {object} map[string]any
	// @Failure 401 {object} map[string]any
	// @Router /auth/api-key [delete]
	secured.DELETE("/api-key", func(c *gin.Context) {
		userID := extractUserID(jwt.ExtractClaims(c))
		if userID == 0 {
			apperrors.Abort(c, apperrors.ErrUserNotAuthenticated)
			return
		}

		if err := m.userStore.UpdateAPIKey(c.Request.Context(), userID, nil, nil); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete api key", "details": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"has_api_key": false})
	})
}

// maskAPIKey 生成凭据的掩码预览,只暴露前后各 4 个字符。
func maskAPIKey(plaintext string) string {
	if len(plaintext) <= 8 {
		return "****"
	}
	return plaintext[:4] + "****" + plaintext[len(plaintext)-4:]
}

// PlaintextAPIKey 解密并返回指定用户的生成服务 API Key。
// 未配置凭据时返回 apperrors.ErrAPIKeyNotConfigured。
func (m *Module) PlaintextAPIKey(ctx context.Context, userID uint64) (string, error) {
	if m == nil || m.userStore == nil || m.keyCipher == nil {
		return "", errors.New("authorization: module not initialized")
	}
	if userID == 0 {
		return "", apperrors.ErrUserNotAuthenticated
	}

	user, err := m.userStore.FindByID(ctx, uint(userID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperrors.ErrUserNotAuthenticated
		}
		return "", fmt.Errorf("authorization: load user: %w", err)
	}

	if len(user.APIKeyCiphertext) == 0 || len(user.APIKeyNonce) == 0 {
		return "", apperrors.ErrAPIKeyNotConfigured
	}

	return m.keyCipher.Decrypt(user.APIKeyCiphertext, user.APIKeyNonce)
}
