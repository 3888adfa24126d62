package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsComparesCodes(t *testing.T) {
	sentinel := New(CodeNotFound, "payment not found")
	wrapped := fmt.Errorf("lookup: %w", Wrap(CodeNotFound, stdErrors.New("sql: no rows"), "missing"))

	if !stdErrors.Is(wrapped, sentinel) {
		t.Fatalf("期望按错误码匹配成功: %v", wrapped)
	}
	if stdErrors.Is(wrapped, New(CodeConflict, "")) {
		t.Fatalf("不同错误码不应匹配")
	}
}

func TestRegisterDefaultsHTTPStatus(t *testing.T) {
	code := Code("TEST_PRECONDITION")
	Register(code, Attributes{Message: "precondition", Severity: SeverityInfo})

	err := New(code, "")
	if err.Message() != "precondition" {
		t.Fatalf("未使用注册的默认描述: %q", err.Message())
	}
	if got := HTTPStatusOf(err); got != http.StatusUnprocessableEntity {
		t.Fatalf("默认状态码错误: %d", got)
	}
}

func TestHTTPStatusOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "plain", err: stdErrors.New("boom"), want: http.StatusInternalServerError},
		{name: "not found", err: New(CodeNotFound, ""), want: http.StatusNotFound},
		{name: "unauthenticated", err: New(CodeUnauthenticated, ""), want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatusOf(tc.err); got != tc.want {
				t.Fatalf("HTTPStatusOf() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestOptionsOverrideRegistry(t *testing.T) {
	err := New(CodeStorageFailure, "disk full", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo), WithMetadata("table", "payments"))
	if err.Retryable() || err.ShouldAlert() {
		t.Fatalf("选项未覆盖默认属性")
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("严重程度错误: %s", err.Severity())
	}
	if err.Metadata()["table"] != "payments" {
		t.Fatalf("metadata 丢失")
	}
	if CodeOf(fmt.Errorf("wrap: %w", err)) != CodeStorageFailure {
		t.Fatalf("CodeOf 未穿透包装")
	}
}
