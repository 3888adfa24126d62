package events

import (
	"context"
	"fmt"

	xerrors "SynapsePay/internal/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis stream 的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// RedisPublisher 使用 XADD 将事件追加到 Redis stream。
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher 创建 Redis 发布器并校验连通性。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "synapsepay:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 100_000
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "连接 Redis 失败")
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}, nil
}

// Publish 实现 Publisher。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          event.ID,
			"type":        event.Type,
			"occurred_at": event.OccurredAt,
			"payload":     string(event.Payload),
		},
	}).Err()
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, fmt.Sprintf("写入 stream %s 失败", p.stream))
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
