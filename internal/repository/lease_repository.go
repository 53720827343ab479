// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// LeaseRepository 定义了跨进程互斥租约的操作。
// 重训练用它保证同一时刻最多一次训练在执行；租约带 TTL，
// 训练进程崩溃后租约会自动过期，不会永久锁死。
type LeaseRepository interface {
	// Acquire 尝试获取租约，已被持有时返回 false。
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// redisLeaseRepository 是 LeaseRepository 的 Redis SetNX 实现。
type redisLeaseRepository struct {
	redisClient *redis.Client
}

// NewLeaseRepository 创建一个新的 LeaseRepository 实例。
func NewLeaseRepository(redisClient *redis.Client) LeaseRepository {
	return &redisLeaseRepository{redisClient: redisClient}
}

// Acquire 以 SET NX 语义抢占租约。
func (r *redisLeaseRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.redisClient.SetNX(ctx, key, "held", ttl).Result()
}

// Release 释放租约。
func (r *redisLeaseRepository) Release(ctx context.Context, key string) error {
	return r.redisClient.Del(ctx, key).Err()
}
