package auth

import (
	"net/http"
	"time"

	xerrors "SynapsePay/internal/errors"
)

// Mode 枚举身份来源。
type Mode string

const (
	// ModeHeader 直接信任 X-SynapsePay-Caller 请求头，仅用于开发环境。
	ModeHeader Mode = "header"
	// ModeJWT 校验 HS256 Bearer 令牌，subject 即钱包地址。
	ModeJWT Mode = "jwt"
)

// CallerHeader 是 header 模式下携带调用方钱包的请求头。
const CallerHeader = "X-SynapsePay-Caller"

// LoginWindow 是登录消息允许的最大时间偏差。
const LoginWindow = 5 * time.Minute

// Config 配置身份认证服务。
type Config struct {
	Mode     Mode
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// LoginRequest 是 POST /auth/token 的请求体。Signature 为十六进制编码的 Ed25519 签名。
type LoginRequest struct {
	Wallet    string `json:"wallet"`
	Issued    int64  `json:"issued"`
	Signature string `json:"signature"`
}

// Token 是签发给钱包的访问令牌。
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Wallet      string `json:"wallet"`
}

const (
	CodeMissingToken     xerrors.Code = "AUTH_MISSING_TOKEN"
	CodeInvalidToken     xerrors.Code = "AUTH_INVALID_TOKEN"
	CodeLoginExpired     xerrors.Code = "AUTH_LOGIN_EXPIRED"
	CodeInvalidLogin     xerrors.Code = "AUTH_INVALID_LOGIN"
	CodeLoginUnsupported xerrors.Code = "AUTH_LOGIN_UNSUPPORTED"
)

var (
	ErrMissingToken     = define(CodeMissingToken, "missing caller credentials", http.StatusUnauthorized)
	ErrInvalidToken     = define(CodeInvalidToken, "invalid or expired token", http.StatusUnauthorized)
	ErrLoginExpired     = define(CodeLoginExpired, "login message outside the allowed window", http.StatusUnauthorized)
	ErrInvalidLogin     = define(CodeInvalidLogin, "login signature rejected", http.StatusUnauthorized)
	ErrLoginUnsupported = define(CodeLoginUnsupported, "token issuance requires jwt mode", http.StatusNotFound)
)

func define(code xerrors.Code, message string, status int) *xerrors.Error {
	xerrors.Register(code, xerrors.Attributes{Message: message, Severity: xerrors.SeverityInfo, HTTPStatus: status})
	return xerrors.New(code, message)
}
