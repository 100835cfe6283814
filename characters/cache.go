package characters

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	listCacheTTL     = 30 * time.Second
	listCacheTimeout = 300 * time.Millisecond
)

// listCache 缓存用户的角色列表,降低高频列表查询对数据库的压力。
// Redis 不可用时所有操作都静默退化为直查数据库。
type listCache struct {
	client *redis.Client
}

// newListCache 使用 Redis 客户端创建列表缓存。
func newListCache(client *redis.Client) *listCache {
	if client == nil {
		return nil
	}
	return &listCache{client: client}
}

// cacheContext 为缓存操作设置超时上下文。
func (l *listCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), listCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= listCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, listCacheTimeout)
}

// key 构造缓存键格式。
func (l *listCache) key(userID uint64) string {
	if l == nil || l.client == nil || userID == 0 {
		return ""
	}
	return fmt.Sprintf("characters:list:%d", userID)
}

// get 从缓存读取角色列表。
func (l *listCache) get(ctx context.Context, userID uint64) ([]Character, error) {
	if l == nil || l.client == nil {
		return nil, redis.Nil
	}
	key := l.key(userID)
	if key == "" {
		return nil, redis.Nil
	}

	ctx, cancel := l.cacheContext(ctx)
	defer cancel()

	data, err := l.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var characters []Character
	if err := json.Unmarshal(data, &characters); err != nil {
		return nil, err
	}
	return characters, nil
}

// store 将角色列表写入缓存。
func (l *listCache) store(ctx context.Context, userID uint64, characters []Character) {
	if l == nil || l.client == nil {
		return
	}
	key := l.key(userID)
	if key == "" {
		return
	}

	payload, err := json.Marshal(characters)
	if err != nil {
		log.Printf("characters: marshal list cache payload failed: %v", err)
		return
	}

	ctx, cancel := l.cacheContext(ctx)
	defer cancel()

	if err := l.client.Set(ctx, key, payload, listCacheTTL).Err(); err != nil {
		log.Printf("characters: store list cache failed: %v", err)
	}
}

// invalidate 清除指定用户的角色列表缓存。
func (l *listCache) invalidate(ctx context.Context, userID uint64) {
	if l == nil || l.client == nil {
		return
	}
	key := l.key(userID)
	if key == "" {
		return
	}

	ctx, cancel := l.cacheContext(ctx)
	defer cancel()

	if err := l.client.Del(ctx, key).Err(); err != nil {
		log.Printf("characters: invalidate list cache failed: %v", err)
	}
}
