package keeper

import (
	"context"
	"sync"

	xerrors "SynapsePay/internal/errors"
)

// MemoryQueue 使用 channel 充当队列，单进程部署与测试使用。
// ch 从不关闭，关闭状态由 done 广播，阻塞中的 Publish 因此可以随 Close 返回。
type MemoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

var errQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")

// Publish 将订阅投递到队列，队列已满时阻塞直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, subscriptionID string) error {
	select {
	case <-q.done:
		return errQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errQueueClosed
	case q.ch <- subscriptionID:
		return nil
	}
}

// Len 返回排队中的订阅数量。
func (q *MemoryQueue) Len() int { return len(q.ch) }

// Consume 启动指定数量的工作协程，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-q.ch:
					_ = handler(ctx, id)
				case <-q.done:
					q.drain(ctx, handler)
					return
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// drain 处理关闭时仍在缓冲区中的订阅。
func (q *MemoryQueue) drain(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.ch:
			_ = handler(ctx, id)
		default:
			return
		}
	}
}

// Close 关闭内存队列，消费协程在取完剩余元素后退出，可重复调用。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
