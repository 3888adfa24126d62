package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	stdErrors "errors"
	"strings"
	"testing"
)

func TestDeriveIsDeterministic(t *testing.T) {
	a := Invoice("payer", "agent-1", 1_700_000_000)
	b := Invoice("payer", "agent-1", 1_700_000_000)
	if a != b {
		t.Fatalf("同样的输入应得到同样的标识")
	}
	if !strings.HasPrefix(a, "0x") || len(a) != 66 {
		t.Fatalf("标识格式错误: %s", a)
	}
	if a == Invoice("payer", "agent-1", 1_700_000_001) {
		t.Fatalf("时间戳不同应得到不同标识")
	}
}

func TestDeriveSeparatesParts(t *testing.T) {
	if Subscription("ab", "c") == Subscription("a", "bc") {
		t.Fatalf("长度前缀未生效")
	}
	if Payment("x") == Receipt("x") || Payment("x") == Escrow("x") {
		t.Fatalf("不同标签应得到不同标识")
	}
	if ScheduledRun("sub", 1, 100) == ScheduledRun("sub", 2, 100) {
		t.Fatalf("不同执行序号应得到不同执行标识")
	}
	if ScheduledRun("sub", 1, 100) == ScheduledRun("sub", 1, 101) {
		t.Fatalf("重新订阅后的同一序号应得到不同执行标识")
	}
}

func TestEd25519Verifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wallet := Wallet(pub)
	message := []byte("SynapsePay Payment Intent")
	sig := ed25519.Sign(priv, message)

	var v Ed25519Verifier
	if err := v.Verify(wallet, message, sig); err != nil {
		t.Fatalf("合法签名校验失败: %v", err)
	}
	if err := v.Verify(wallet, []byte("tampered"), sig); !stdErrors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("篡改消息应校验失败, got %v", err)
	}
	if err := v.Verify(wallet, message, sig[:10]); err == nil {
		t.Fatalf("短签名应被拒绝")
	}
	if err := v.Verify("not-base58-0OIl", message, sig); err == nil {
		t.Fatalf("非法地址应被拒绝")
	}
}
