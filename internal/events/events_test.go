package events

import (
	"context"
	stdErrors "errors"
	"testing"
)

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return stdErrors.New("broker down")
}

func (f *failingPublisher) Close() error { return nil }

func TestNewAndDecode(t *testing.T) {
	event, err := New(TypeTaskCompleted, 1_700_000_000, TaskCompleted{PaymentID: "0x1", Amount: 950_000, ResultCID: "QmResult123"})
	if err != nil {
		t.Fatalf("构造事件失败: %v", err)
	}
	if event.ID == "" || event.Type != TypeTaskCompleted {
		t.Fatalf("事件信封错误: %+v", event)
	}
	var payload TaskCompleted
	if err := event.Decode(&payload); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if payload.Amount != 950_000 || payload.ResultCID != "QmResult123" {
		t.Fatalf("payload 错误: %+v", payload)
	}
}

func TestMemoryPublisherKeepsLatest(t *testing.T) {
	p := NewMemoryPublisher(2)
	ctx := context.Background()
	for _, typ := range []string{TypeTaskCompleted, TypeScheduledTaskTriggered, TypeScheduledTaskTriggered} {
		if err := p.Publish(ctx, Event{Type: typ}); err != nil {
			t.Fatalf("发布失败: %v", err)
		}
	}
	if got := len(p.Events("")); got != 2 {
		t.Fatalf("应只保留 2 条, got %d", got)
	}
	if got := len(p.Events(TypeTaskCompleted)); got != 0 {
		t.Fatalf("最旧的事件应被淘汰, got %d", got)
	}
}

func TestEmitSwallowsErrors(t *testing.T) {
	p := &failingPublisher{}
	Emit(context.Background(), p, nil, TypeTaskCompleted, 1, TaskCompleted{})
	if p.calls != 1 {
		t.Fatalf("期望调用一次发布")
	}
	Emit(context.Background(), nil, nil, TypeTaskCompleted, 1, TaskCompleted{})
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(nil)
	event, _ := New(TypeInvoiceExpired, 1, InvoiceExpired{InvoiceID: "0x2"})
	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("日志发布失败: %v", err)
	}
}
