package identity

import (
	"crypto/ed25519"
	"fmt"
	"net/http"

	xerrors "SynapsePay/internal/errors"
	"github.com/mr-tron/base58"
)

// SignatureSize 是钱包签名的固定长度。
const SignatureSize = ed25519.SignatureSize

// Verifier 校验某个钱包对消息的签名。
type Verifier interface {
	Verify(signer string, message, signature []byte) error
}

// Ed25519Verifier 将钱包地址视为 base58 编码的 Ed25519 公钥。
type Ed25519Verifier struct{}

// Verify 实现 Verifier。
func (Ed25519Verifier) Verify(signer string, message, signature []byte) error {
	if len(signature) != SignatureSize {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("签名长度应为 %d 字节", SignatureSize))
	}
	key, err := PublicKey(signer)
	if err != nil {
		return err
	}
	if !ed25519.Verify(key, message, signature) {
		return ErrSignatureMismatch
	}
	return nil
}

// PublicKey 解码 base58 钱包地址。
func PublicKey(wallet string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(wallet)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "钱包地址不是合法的 base58")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "钱包地址长度错误")
	}
	return ed25519.PublicKey(raw), nil
}

// Wallet 将公钥编码为钱包地址。
func Wallet(key ed25519.PublicKey) string {
	return base58.Encode(key)
}

// CodeSignatureMismatch 表示签名与消息不匹配。
const CodeSignatureMismatch xerrors.Code = "IDENTITY_SIGNATURE_MISMATCH"

// ErrSignatureMismatch 在签名校验失败时返回。
var ErrSignatureMismatch = xerrors.New(CodeSignatureMismatch, "signature does not match signer")

func init() {
	xerrors.Register(CodeSignatureMismatch, xerrors.Attributes{
		Message:    "signature does not match signer",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusUnauthorized,
	})
}
