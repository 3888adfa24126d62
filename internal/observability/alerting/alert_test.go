package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "SynapsePay/internal/errors"
)

type recordingNotifier struct {
	events []Event
}

func (r *recordingNotifier) Channel() Channel { return ChannelLog }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestFromError(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "disk full", xerrors.WithMetadata("table", "subscriptions"))
	event := FromError("0xabc", err, time.Unix(10, 0))
	if event.Code != xerrors.CodeStorageFailure || event.Severity != xerrors.SeverityCritical {
		t.Fatalf("事件属性错误: %+v", event)
	}
	if event.Subject != "0xabc" || event.Metadata["table"] != "subscriptions" {
		t.Fatalf("事件上下文丢失: %+v", event)
	}
}

func TestFanoutAndWebhook(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec := &recordingNotifier{}
	d := NewFanout(rec, &WebhookNotifier{URL: srv.URL}, nil)
	event := Event{Code: "SCHEDULER_INSUFFICIENT_BALANCE", Subject: "0x1", Severity: xerrors.SeverityWarning}
	if err := d.Notify(context.Background(), event); err != nil {
		t.Fatalf("广播失败: %v", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("日志渠道未收到事件")
	}
	if received.Subject != "0x1" {
		t.Fatalf("webhook 未收到事件: %+v", received)
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("期望返回错误")
	}
}
