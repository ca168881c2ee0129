// Package storage 提供职位向量的Redis缓存
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"job-matcher-go/internal/config"
)

// ErrNotFound 缓存未命中
var ErrNotFound = errors.New("缓存条目不存在")

// Redis Key 统一命名: jobmatcher:{entity}:{unique_id}
const (
	// keyJobVector 职位复合文本向量缓存 (HASH)
	// 格式: jobmatcher:vector:{text_md5}
	keyJobVector = "jobmatcher:vector:%s"
)

// Redis 封装go-redis客户端，实现index.VectorCache
type Redis struct {
	Client    *redis.Client
	vectorTTL time.Duration
}

// NewRedisAdapter 建立Redis连接
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 记录所有Redis操作到链路追踪
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	ttl := time.Duration(cfg.VectorTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}

	return &Redis{
		Client:    client,
		vectorTTL: ttl,
	}, nil
}

// Close 关闭连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// SetVector 写入职位向量缓存，同时记录生成向量的模型
func (r *Redis) SetVector(ctx context.Context, textMD5 string, model string, vector []float64) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	cacheKey := fmt.Sprintf(keyJobVector, textMD5)

	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}

	pipe := r.Client.Pipeline()
	pipe.HSet(ctx, cacheKey, "vector", vectorJSON)
	pipe.HSet(ctx, cacheKey, "model", model)
	pipe.Expire(ctx, cacheKey, r.vectorTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入向量缓存失败: %w", err)
	}
	return nil
}

// GetVector 读取职位向量缓存
// 未命中或缓存向量出自其他模型时返回ErrNotFound
func (r *Redis) GetVector(ctx context.Context, textMD5 string, model string) ([]float64, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("redis client is not initialized")
	}

	cacheKey := fmt.Sprintf(keyJobVector, textMD5)

	vals, err := r.Client.HMGet(ctx, cacheKey, "vector", "model").Result()
	if err != nil {
		return nil, err
	}
	if len(vals) < 2 || vals[0] == nil {
		return nil, fmt.Errorf("未找到向量缓存, md5=%s: %w", textMD5, ErrNotFound)
	}

	cachedModel, _ := vals[1].(string)
	if cachedModel != model {
		return nil, fmt.Errorf("缓存向量模型不匹配(%s != %s): %w", cachedModel, model, ErrNotFound)
	}

	vectorJSON, ok := vals[0].(string)
	if !ok || vectorJSON == "" {
		return nil, fmt.Errorf("向量缓存格式错误")
	}

	var vector []float64
	if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
		return nil, fmt.Errorf("反序列化向量失败: %w", err)
	}
	return vector, nil
}
