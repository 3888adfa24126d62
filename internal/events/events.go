// Package events 将完成与触发事件以尽力而为的方式投递给链下索引器。
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	xerrors "SynapsePay/internal/errors"
	"github.com/google/uuid"
)

// 事件类型。
const (
	TypeTaskCompleted          = "payments.task_completed"
	TypeInvoiceExpired         = "payments.invoice_expired"
	TypeScheduledTaskTriggered = "scheduler.task_triggered"
)

// Event 是投递给索引器的统一信封。
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt int64           `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// TaskCompleted 在支付进入 Completed 时发出。
type TaskCompleted struct {
	PaymentID   string `json:"payment_id"`
	Payer       string `json:"payer"`
	Recipient   string `json:"recipient"`
	Amount      uint64 `json:"amount"`
	ResultCID   string `json:"result_cid"`
	CompletedAt int64  `json:"completed_at"`
}

// InvoiceExpired 在发票被过期清理时发出。
type InvoiceExpired struct {
	InvoiceID string `json:"invoice_id"`
	Payer     string `json:"payer"`
	AgentID   string `json:"agent_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// ScheduledTaskTriggered 在订阅成功触发一次执行时发出。
type ScheduledTaskTriggered struct {
	SubscriptionID string `json:"subscription_id"`
	AgentID        string `json:"agent_id"`
	RunNumber      uint64 `json:"run_number"`
	Timestamp      int64  `json:"timestamp"`
	AmountPaid     uint64 `json:"amount_paid"`
	PaymentID      string `json:"payment_id,omitempty"`
	EscrowAccount  string `json:"escrow_account,omitempty"`
}

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// New 编码 payload 并分配事件 ID。
func New(eventType string, occurredAt int64, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码事件失败")
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: occurredAt,
		Payload:    data,
	}, nil
}

// Decode 将事件 payload 解析到 v。
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析事件失败")
	}
	return nil
}

// Emit 发布事件，失败只记录日志，不影响调用方的状态变更。
func Emit(ctx context.Context, p Publisher, log *slog.Logger, eventType string, occurredAt int64, payload any) {
	if p == nil {
		return
	}
	event, err := New(eventType, occurredAt, payload)
	if err == nil {
		err = p.Publish(ctx, event)
	}
	if err != nil && log != nil {
		log.Warn("事件投递失败", slog.String("type", eventType), slog.Any("error", err))
	}
}
