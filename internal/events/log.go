package events

import (
	"context"
	"log/slog"

	"SynapsePay/pkg/logger"
)

// LogPublisher 将事件写入审计日志，适合未部署索引器的环境。
type LogPublisher struct {
	log *slog.Logger
}

var _ Publisher = (*LogPublisher)(nil)

// NewLogPublisher 创建日志发布器，l 为空时使用审计日志。
func NewLogPublisher(l *slog.Logger) *LogPublisher {
	if l == nil {
		l = logger.Audit()
	}
	return &LogPublisher{log: l}
}

// Publish 实现 Publisher。
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.log.InfoContext(ctx, "event",
		slog.String("event_id", event.ID),
		slog.String("type", event.Type),
		slog.Int64("occurred_at", event.OccurredAt),
		slog.String("payload", string(event.Payload)),
	)
	return nil
}

// Close 实现 Publisher。
func (p *LogPublisher) Close() error { return nil }
