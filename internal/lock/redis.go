package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/paiban/staffplan/internal/config"
	"github.com/paiban/staffplan/pkg/logger"
)

// KeyPrefix redis 锁键前缀
const KeyPrefix = "staffplan:lock:"

// releaseScript 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的跨进程范围锁
type RedisLocker struct {
	client *redis.Client
	opts   Options
}

// NewRedisClient 创建并检查 redis 连接
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 redis 失败: %w", err)
	}
	return client, nil
}

// NewRedisLocker 创建 redis 锁
func NewRedisLocker(client *redis.Client, opts Options) *RedisLocker {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	return &RedisLocker{client: client, opts: opts}
}

// Lock 按排序后的顺序逐个获取日期键，任一键被占用时释放已持有的键
func (l *RedisLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	keys = normalizeKeys(keys)
	token := uuid.NewString()

	err := retry(ctx, l.opts, scopeName(keys), func() (bool, error) {
		return l.tryLock(ctx, keys, token)
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 调用方的 ctx 可能已经取消
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			l.release(rctx, keys, token)
		})
	}, nil
}

func (l *RedisLocker) tryLock(ctx context.Context, keys []string, token string) (bool, error) {
	for i, k := range keys {
		ok, err := l.client.SetNX(ctx, KeyPrefix+k, token, l.opts.TTL).Result()
		if err != nil {
			l.release(ctx, keys[:i], token)
			return false, fmt.Errorf("获取范围锁失败: %w", err)
		}
		if !ok {
			l.release(ctx, keys[:i], token)
			return false, nil
		}
	}
	return true, nil
}

func (l *RedisLocker) release(ctx context.Context, keys []string, token string) {
	for _, k := range keys {
		if err := releaseScript.Run(ctx, l.client, []string{KeyPrefix + k}, token).Err(); err != nil {
			logger.Warn().Err(err).Str("key", k).Msg("释放范围锁失败")
		}
	}
}
